package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Konveyer/internal/domain"
)

// TaskInstanceRepo — репозиторий экземпляров задач.
// Ключ экземпляра составной: (dag_id, run_id, task_id, map_index).
type TaskInstanceRepo struct {
	pool *pgxpool.Pool
}

// NewTaskInstanceRepo создаёт новый TaskInstanceRepo.
func NewTaskInstanceRepo(pool *pgxpool.Pool) *TaskInstanceRepo {
	return &TaskInstanceRepo{pool: pool}
}

const tiColumns = `dag_id, run_id, task_id, map_index, try_number, max_tries, state,
       pool, priority_weight, rendered_config, outputs, hostname,
       next_retry_at, started_at, finished_at, error, created_at`

// Create создаёт экземпляр задачи.
func (r *TaskInstanceRepo) Create(ctx context.Context, ti *domain.TaskInstance) error {
	renderedJSON, err := marshalJSONB(ti.RenderedConfig)
	if err != nil {
		return fmt.Errorf("marshal rendered config: %w", err)
	}
	outputsJSON, err := marshalJSONB(ti.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	query := `
		INSERT INTO task_instances (` + tiColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = r.pool.Exec(ctx, query,
		ti.DagID, ti.RunID, ti.TaskID, ti.MapIndex,
		ti.TryNumber, ti.MaxTries, ti.State,
		ti.Pool, ti.PriorityWeight,
		renderedJSON, outputsJSON,
		nullString(ti.Hostname),
		ti.NextRetryAt, ti.StartedAt, ti.FinishedAt,
		nullString(ti.Error), ti.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert task instance: %w", err)
	}
	return nil
}

// CreateBatch создаёт несколько экземпляров в одной транзакции.
// Уже существующие экземпляры молча пропускаются: повторный вызов
// после рестарта оркестратора безопасен.
func (r *TaskInstanceRepo) CreateBatch(ctx context.Context, tis []*domain.TaskInstance) error {
	if len(tis) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO task_instances (` + tiColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT DO NOTHING
	`
	for _, ti := range tis {
		renderedJSON, err := marshalJSONB(ti.RenderedConfig)
		if err != nil {
			return fmt.Errorf("marshal rendered config: %w", err)
		}
		outputsJSON, err := marshalJSONB(ti.Outputs)
		if err != nil {
			return fmt.Errorf("marshal outputs: %w", err)
		}
		_, err = tx.Exec(ctx, query,
			ti.DagID, ti.RunID, ti.TaskID, ti.MapIndex,
			ti.TryNumber, ti.MaxTries, ti.State,
			ti.Pool, ti.PriorityWeight,
			renderedJSON, outputsJSON,
			nullString(ti.Hostname),
			ti.NextRetryAt, ti.StartedAt, ti.FinishedAt,
			nullString(ti.Error), ti.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert task instance %s[%d]: %w", ti.TaskID, ti.MapIndex, err)
		}
	}
	return tx.Commit(ctx)
}

// Get возвращает экземпляр по составному ключу.
func (r *TaskInstanceRepo) Get(ctx context.Context, dagID, runID, taskID string, mapIndex int) (*domain.TaskInstance, error) {
	query := `
		SELECT ` + tiColumns + `
		FROM task_instances
		WHERE dag_id = $1 AND run_id = $2 AND task_id = $3 AND map_index = $4
	`
	return scanTI(r.pool.QueryRow(ctx, query, dagID, runID, taskID, mapIndex))
}

// ListByRun возвращает все экземпляры запуска.
func (r *TaskInstanceRepo) ListByRun(ctx context.Context, dagID, runID string) ([]domain.TaskInstance, error) {
	query := `
		SELECT ` + tiColumns + `
		FROM task_instances
		WHERE dag_id = $1 AND run_id = $2
		ORDER BY task_id ASC, map_index ASC
	`
	rows, err := r.pool.Query(ctx, query, dagID, runID)
	if err != nil {
		return nil, fmt.Errorf("list task instances: %w", err)
	}
	defer rows.Close()
	return collectTIs(rows)
}

// ListByTask возвращает экземпляры одной задачи запуска
// (несколько при mapped-раскрытии).
func (r *TaskInstanceRepo) ListByTask(ctx context.Context, dagID, runID, taskID string) ([]domain.TaskInstance, error) {
	query := `
		SELECT ` + tiColumns + `
		FROM task_instances
		WHERE dag_id = $1 AND run_id = $2 AND task_id = $3
		ORDER BY map_index ASC
	`
	rows, err := r.pool.Query(ctx, query, dagID, runID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task instances by task: %w", err)
	}
	defer rows.Close()
	return collectTIs(rows)
}

// ListScheduled возвращает экземпляры в состоянии SCHEDULED в порядке
// диспетчеризации: больший priority_weight первым, затем старые.
func (r *TaskInstanceRepo) ListScheduled(ctx context.Context, limit int) ([]domain.TaskInstance, error) {
	query := `
		SELECT ` + tiColumns + `
		FROM task_instances
		WHERE state = 'SCHEDULED'
		ORDER BY priority_weight DESC, created_at ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list scheduled task instances: %w", err)
	}
	defer rows.Close()
	return collectTIs(rows)
}

// ListByState возвращает экземпляры в заданном состоянии (старые первыми).
func (r *TaskInstanceRepo) ListByState(ctx context.Context, state domain.TIState, limit int) ([]domain.TaskInstance, error) {
	query := `
		SELECT ` + tiColumns + `
		FROM task_instances
		WHERE state = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, state, limit)
	if err != nil {
		return nil, fmt.Errorf("list task instances by state: %w", err)
	}
	defer rows.Close()
	return collectTIs(rows)
}

// ListRetryDue возвращает экземпляры UP_FOR_RETRY, у которых
// наступило время повтора.
func (r *TaskInstanceRepo) ListRetryDue(ctx context.Context, now time.Time, limit int) ([]domain.TaskInstance, error) {
	query := `
		SELECT ` + tiColumns + `
		FROM task_instances
		WHERE state = 'UP_FOR_RETRY'
		  AND next_retry_at IS NOT NULL
		  AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list retry-due task instances: %w", err)
	}
	defer rows.Close()
	return collectTIs(rows)
}

// Update обновляет изменяемые поля экземпляра.
func (r *TaskInstanceRepo) Update(ctx context.Context, ti *domain.TaskInstance) error {
	renderedJSON, err := marshalJSONB(ti.RenderedConfig)
	if err != nil {
		return fmt.Errorf("marshal rendered config: %w", err)
	}
	outputsJSON, err := marshalJSONB(ti.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}

	result, err := r.pool.Exec(ctx, `
		UPDATE task_instances
		SET try_number = $5, state = $6, rendered_config = $7, outputs = $8,
		    hostname = $9, next_retry_at = $10, started_at = $11,
		    finished_at = $12, error = $13
		WHERE dag_id = $1 AND run_id = $2 AND task_id = $3 AND map_index = $4
	`,
		ti.DagID, ti.RunID, ti.TaskID, ti.MapIndex,
		ti.TryNumber, ti.State, renderedJSON, outputsJSON,
		nullString(ti.Hostname), ti.NextRetryAt, ti.StartedAt,
		ti.FinishedAt, nullString(ti.Error),
	)
	if err != nil {
		return fmt.Errorf("update task instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateState переводит экземпляр из ожидаемого состояния в новое.
func (r *TaskInstanceRepo) UpdateState(ctx context.Context, dagID, runID, taskID string, mapIndex int, from, to domain.TIState) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE task_instances SET state = $6
		WHERE dag_id = $1 AND run_id = $2 AND task_id = $3 AND map_index = $4 AND state = $5
	`, dagID, runID, taskID, mapIndex, from, to)
	if err != nil {
		return fmt.Errorf("update task instance state: %w", err)
	}
	if result.RowsAffected() == 0 {
		ti, getErr := r.Get(ctx, dagID, runID, taskID, mapIndex)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: task instance %s[%d] in state %s, expected %s",
			ErrInvalidState, taskID, mapIndex, ti.State, from)
	}
	return nil
}

// RewriteMapIndex меняет map_index экземпляра. Используется при
// раскрытии mapped-задачи: placeholder с индексом -1 становится
// нулевым элементом группы.
func (r *TaskInstanceRepo) RewriteMapIndex(ctx context.Context, dagID, runID, taskID string, from, to int) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE task_instances SET map_index = $5
		WHERE dag_id = $1 AND run_id = $2 AND task_id = $3 AND map_index = $4
	`, dagID, runID, taskID, from, to)
	if err != nil {
		return fmt.Errorf("rewrite map index: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Occupancy: счётчики занятых слотов для диспетчера ---

// OccupiedPoolSlots возвращает занятость пулов: число экземпляров
// в состояниях QUEUED/RUNNING на каждый пул.
func (r *TaskInstanceRepo) OccupiedPoolSlots(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pool, COUNT(*)
		FROM task_instances
		WHERE state IN ('QUEUED', 'RUNNING')
		GROUP BY pool
	`)
	if err != nil {
		return nil, fmt.Errorf("count pool slots: %w", err)
	}
	defer rows.Close()

	occupied := make(map[string]int)
	for rows.Next() {
		var pool string
		var count int
		if err := rows.Scan(&pool, &count); err != nil {
			return nil, fmt.Errorf("scan pool slots: %w", err)
		}
		occupied[pool] = count
	}
	return occupied, rows.Err()
}

// OccupiedByDag возвращает число занятых слотов по каждому dag
// (для проверки max_active_tasks).
func (r *TaskInstanceRepo) OccupiedByDag(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT dag_id, COUNT(*)
		FROM task_instances
		WHERE state IN ('QUEUED', 'RUNNING')
		GROUP BY dag_id
	`)
	if err != nil {
		return nil, fmt.Errorf("count dag slots: %w", err)
	}
	defer rows.Close()

	occupied := make(map[string]int)
	for rows.Next() {
		var dagID string
		var count int
		if err := rows.Scan(&dagID, &count); err != nil {
			return nil, fmt.Errorf("scan dag slots: %w", err)
		}
		occupied[dagID] = count
	}
	return occupied, rows.Err()
}

// CountOccupied возвращает общее число занятых слотов
// (для глобального лимита parallelism).
func (r *TaskInstanceRepo) CountOccupied(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM task_instances WHERE state IN ('QUEUED', 'RUNNING')
	`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count occupied slots: %w", err)
	}
	return count, nil
}

// --- Helpers ---

func scanTI(row pgx.Row) (*domain.TaskInstance, error) {
	var ti domain.TaskInstance
	var renderedJSON, outputsJSON []byte
	var hostname, errMsg *string

	err := row.Scan(
		&ti.DagID, &ti.RunID, &ti.TaskID, &ti.MapIndex,
		&ti.TryNumber, &ti.MaxTries, &ti.State,
		&ti.Pool, &ti.PriorityWeight,
		&renderedJSON, &outputsJSON, &hostname,
		&ti.NextRetryAt, &ti.StartedAt, &ti.FinishedAt,
		&errMsg, &ti.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task instance: %w", err)
	}
	return finishTI(&ti, renderedJSON, outputsJSON, hostname, errMsg)
}

func scanTIFromRows(rows pgx.Rows) (*domain.TaskInstance, error) {
	var ti domain.TaskInstance
	var renderedJSON, outputsJSON []byte
	var hostname, errMsg *string

	err := rows.Scan(
		&ti.DagID, &ti.RunID, &ti.TaskID, &ti.MapIndex,
		&ti.TryNumber, &ti.MaxTries, &ti.State,
		&ti.Pool, &ti.PriorityWeight,
		&renderedJSON, &outputsJSON, &hostname,
		&ti.NextRetryAt, &ti.StartedAt, &ti.FinishedAt,
		&errMsg, &ti.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan task instance: %w", err)
	}
	return finishTI(&ti, renderedJSON, outputsJSON, hostname, errMsg)
}

func finishTI(ti *domain.TaskInstance, renderedJSON, outputsJSON []byte, hostname, errMsg *string) (*domain.TaskInstance, error) {
	if hostname != nil {
		ti.Hostname = *hostname
	}
	if errMsg != nil {
		ti.Error = *errMsg
	}
	if err := unmarshalJSONB(renderedJSON, &ti.RenderedConfig); err != nil {
		return nil, fmt.Errorf("unmarshal rendered config: %w", err)
	}
	if err := unmarshalJSONB(outputsJSON, &ti.Outputs); err != nil {
		return nil, fmt.Errorf("unmarshal outputs: %w", err)
	}
	return ti, nil
}

func collectTIs(rows pgx.Rows) ([]domain.TaskInstance, error) {
	var tis []domain.TaskInstance
	for rows.Next() {
		ti, err := scanTIFromRows(rows)
		if err != nil {
			return nil, err
		}
		tis = append(tis, *ti)
	}
	return tis, rows.Err()
}
