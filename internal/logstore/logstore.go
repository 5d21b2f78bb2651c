package logstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound возвращается, когда лог попытки отсутствует.
var ErrNotFound = errors.New("log not found")

// DefaultTailLines — число последних строк, возвращаемых
// без запроса полного содержимого.
const DefaultTailLines = 100

// Ref — адрес лога одной попытки выполнения экземпляра задачи.
type Ref struct {
	DagID     string
	RunID     string
	TaskID    string
	MapIndex  int
	TryNumber int
}

// Content — содержимое лога.
type Content struct {
	// Text — текст лога (полный или хвост).
	Text string

	// Truncated — true, если вернулся только хвост.
	Truncated bool
}

// Store хранит логи попыток в файловой системе.
// Раскладка: {base}/{dag_id}/{run_id}/{task_id}/{map_index}/{try}.log
type Store struct {
	base string
}

// NewStore создаёт хранилище логов в указанной директории.
func NewStore(base string) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &Store{base: base}, nil
}

// DefaultBase возвращает директорию логов по умолчанию.
// Переопределяется переменной окружения LOG_DIR.
func DefaultBase() string {
	if dir := os.Getenv("LOG_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "konveyer-logs")
}

// path строит путь к файлу лога. Компоненты ключа проходят через
// filepath.Base, чтобы внешний ввод не выходил за пределы base.
func (s *Store) path(ref Ref) string {
	return filepath.Join(
		s.base,
		filepath.Base(ref.DagID),
		filepath.Base(ref.RunID),
		filepath.Base(ref.TaskID),
		fmt.Sprintf("%d", ref.MapIndex),
		fmt.Sprintf("%d.log", ref.TryNumber),
	)
}

// Open открывает лог попытки на дозапись, создавая директории.
// Возвращённый writer нужно закрыть.
func (s *Store) Open(ref Ref) (io.WriteCloser, error) {
	p := s.path(ref)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// Append дописывает одну строку с меткой времени в лог попытки.
func (s *Store) Append(ref Ref, line string) error {
	w, err := s.Open(ref)
	if err != nil {
		return err
	}
	defer w.Close()

	stamp := time.Now().UTC().Format(time.RFC3339)
	if _, err := fmt.Fprintf(w, "[%s] %s\n", stamp, strings.TrimRight(line, "\n")); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// Read возвращает содержимое лога попытки.
// При full=false возвращаются последние DefaultTailLines строк.
func (s *Store) Read(ref Ref, full bool) (*Content, error) {
	f, err := os.Open(s.path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if full {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read log file: %w", err)
		}
		return &Content{Text: string(data)}, nil
	}

	lines, truncated, err := tail(f, DefaultTailLines)
	if err != nil {
		return nil, err
	}
	return &Content{Text: strings.Join(lines, "\n"), Truncated: truncated}, nil
}

// ListTries возвращает номера попыток, для которых есть логи.
func (s *Store) ListTries(ref Ref) ([]int, error) {
	dir := filepath.Dir(s.path(ref))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read log dir: %w", err)
	}

	var tries []int
	for _, e := range entries {
		var try int
		if _, err := fmt.Sscanf(e.Name(), "%d.log", &try); err == nil {
			tries = append(tries, try)
		}
	}
	return tries, nil
}

// tail читает последние n строк ридера. Кольцевой буфер держит в
// памяти не больше n строк независимо от размера файла.
func tail(r io.Reader, n int) ([]string, bool, error) {
	ring := make([]string, n)
	count := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		ring[count%n] = scanner.Text()
		count++
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("scan log file: %w", err)
	}

	if count <= n {
		return ring[:count], false, nil
	}

	out := make([]string, 0, n)
	for i := count - n; i < count; i++ {
		out = append(out, ring[i%n])
	}
	return out, true, nil
}
