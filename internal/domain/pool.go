package domain

import "time"

// DefaultPoolName — пул по умолчанию, в котором выполняются задачи без
// явно заданного pool.
const DefaultPoolName = "default_pool"

// DefaultPoolSlots — размер default_pool, если он не настроен в БД.
const DefaultPoolSlots = 128

// Pool — именованный бюджет слотов для ограничения параллелизма.
//
// Каждый QUEUED/RUNNING task instance занимает один слот своего пула.
// Dispatcher не выдаёт новые instances в пул без свободных слотов —
// это пер-ресурсные concurrency caps, общие для всех dags.
type Pool struct {
	// Name — уникальное имя пула.
	Name string `json:"name"`

	// Slots — количество слотов.
	Slots int `json:"slots"`

	// Description — описание назначения пула.
	Description string `json:"description,omitempty"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenSlots возвращает количество свободных слотов при занятости occupied.
func (p *Pool) OpenSlots(occupied int) int {
	open := p.Slots - occupied
	if open < 0 {
		return 0
	}
	return open
}
