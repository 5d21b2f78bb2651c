package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shaiso/Konveyer/internal/domain"
)

// cronParser — парсер cron-выражений (5 полей, без секунд).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Interval — интервал данных, который покрывает один scheduled-запуск.
// Запуск происходит в End; logical date запуска равна Start.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NextDue вычисляет следующее время запуска dag после from.
// Учитывает timezone dag; результат в UTC.
func NextDue(dag *domain.Dag, from time.Time) (time.Time, error) {
	loc := loadLocation(dag.Timezone)
	fromInTz := from.In(loc)

	if dag.CronExpr != "" {
		schedule, err := cronParser.Parse(dag.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", dag.CronExpr, err)
		}
		return schedule.Next(fromInTz).UTC(), nil
	}

	if dag.IntervalSec > 0 {
		return fromInTz.Add(time.Duration(dag.IntervalSec) * time.Second).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("dag has neither cron_expr nor interval_sec")
}

// DataInterval вычисляет интервал данных для запуска с временем
// срабатывания dueAt. Для интервальных расписаний начало — dueAt
// минус интервал; для cron — предыдущее срабатывание.
func DataInterval(dag *domain.Dag, dueAt time.Time) (Interval, error) {
	if dag.CronExpr != "" {
		schedule, err := cronParser.Parse(dag.CronExpr)
		if err != nil {
			return Interval{}, fmt.Errorf("parse cron expression %q: %w", dag.CronExpr, err)
		}
		loc := loadLocation(dag.Timezone)
		start, err := prevFire(schedule, dueAt.In(loc))
		if err != nil {
			return Interval{}, err
		}
		return Interval{Start: start.UTC(), End: dueAt.UTC()}, nil
	}

	if dag.IntervalSec > 0 {
		start := dueAt.Add(-time.Duration(dag.IntervalSec) * time.Second)
		return Interval{Start: start.UTC(), End: dueAt.UTC()}, nil
	}

	return Interval{}, fmt.Errorf("dag has neither cron_expr nor interval_sec")
}

// prevFire находит последнее срабатывание cron строго раньше end.
// Cron-расписания не умеют шагать назад, поэтому окно поиска
// расширяется, пока в него не попадёт хотя бы одно срабатывание.
func prevFire(schedule cron.Schedule, end time.Time) (time.Time, error) {
	lookbacks := []time.Duration{
		2 * time.Hour,
		48 * time.Hour,
		32 * 24 * time.Hour,
		366 * 24 * time.Hour,
	}

	for _, lookback := range lookbacks {
		seed := end.Add(-lookback)
		next := schedule.Next(seed)
		if !next.Before(end) {
			continue
		}

		prev := next
		for {
			next = schedule.Next(prev)
			if !next.Before(end) {
				return prev, nil
			}
			prev = next
		}
	}

	return time.Time{}, fmt.Errorf("no cron fire within a year before %s", end)
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// InitialNextDue вычисляет первое время запуска для нового dag.
func InitialNextDue(dag *domain.Dag, now time.Time) (time.Time, error) {
	return NextDue(dag, now)
}

func loadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		// Невалидный timezone — fallback на UTC
		return time.UTC
	}
	return loc
}
