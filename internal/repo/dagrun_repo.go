package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Konveyer/internal/domain"
)

// DagRunRepo — репозиторий запусков dag.
type DagRunRepo struct {
	pool *pgxpool.Pool
}

// NewDagRunRepo создаёт новый DagRunRepo.
func NewDagRunRepo(pool *pgxpool.Pool) *DagRunRepo {
	return &DagRunRepo{pool: pool}
}

const dagRunColumns = `dag_id, run_id, version, state, run_type, logical_date,
       data_interval_start, data_interval_end, conf, started_at, finished_at, error, created_at`

// Create создаёт запуск. Пара (dag_id, run_id) уникальна:
// повторная вставка возвращает ErrAlreadyExists, что даёт
// идемпотентность для scheduled-запусков.
func (r *DagRunRepo) Create(ctx context.Context, run *domain.DagRun) error {
	confJSON, err := marshalJSONB(run.Conf)
	if err != nil {
		return fmt.Errorf("marshal conf: %w", err)
	}

	query := `
		INSERT INTO dag_runs (` + dagRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.pool.Exec(ctx, query,
		run.DagID,
		run.RunID,
		run.Version,
		run.State,
		run.RunType,
		run.LogicalDate,
		run.DataIntervalStart,
		run.DataIntervalEnd,
		confJSON,
		run.StartedAt,
		run.FinishedAt,
		nullString(run.Error),
		run.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert dag run: %w", err)
	}
	return nil
}

// Get возвращает запуск по составному ключу.
func (r *DagRunRepo) Get(ctx context.Context, dagID, runID string) (*domain.DagRun, error) {
	query := `SELECT ` + dagRunColumns + ` FROM dag_runs WHERE dag_id = $1 AND run_id = $2`
	return scanDagRun(r.pool.QueryRow(ctx, query, dagID, runID))
}

// RunFilter — параметры фильтрации запусков.
type RunFilter struct {
	DagID  string
	State  string
	Limit  int
	Offset int
}

// List возвращает запуски с фильтрацией и общее количество.
func (r *DagRunRepo) List(ctx context.Context, filter RunFilter) ([]domain.DagRun, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM dag_runs
		WHERE ($1::text IS NULL OR dag_id = $1)
		  AND ($2::text IS NULL OR state = $2)
	`, nullString(filter.DagID), nullString(filter.State)).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count dag runs: %w", err)
	}

	query := `
		SELECT ` + dagRunColumns + `
		FROM dag_runs
		WHERE ($1::text IS NULL OR dag_id = $1)
		  AND ($2::text IS NULL OR state = $2)
		ORDER BY logical_date DESC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(filter.DagID), nullString(filter.State), filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list dag runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.DagRun
	for rows.Next() {
		run, err := scanDagRunFromRows(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	return runs, total, rows.Err()
}

// Update обновляет изменяемые поля запуска.
func (r *DagRunRepo) Update(ctx context.Context, run *domain.DagRun) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE dag_runs
		SET state = $3, started_at = $4, finished_at = $5, error = $6
		WHERE dag_id = $1 AND run_id = $2
	`, run.DagID, run.RunID, run.State, run.StartedAt, run.FinishedAt, nullString(run.Error))
	if err != nil {
		return fmt.Errorf("update dag run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateState переводит запуск из ожидаемого состояния в новое.
// Возвращает ErrInvalidState, если текущее состояние не совпало.
func (r *DagRunRepo) UpdateState(ctx context.Context, dagID, runID string, from, to domain.DagRunState) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE dag_runs SET state = $4 WHERE dag_id = $1 AND run_id = $2 AND state = $3
	`, dagID, runID, from, to)
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	if result.RowsAffected() == 0 {
		run, getErr := r.Get(ctx, dagID, runID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: run %s/%s in state %s, expected %s",
			ErrInvalidState, dagID, runID, run.State, from)
	}
	return nil
}

// ListByState возвращает запуски в заданном состоянии (старые первыми).
func (r *DagRunRepo) ListByState(ctx context.Context, state domain.DagRunState, limit int) ([]domain.DagRun, error) {
	query := `
		SELECT ` + dagRunColumns + `
		FROM dag_runs
		WHERE state = $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, state, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs by state: %w", err)
	}
	defer rows.Close()

	var runs []domain.DagRun
	for rows.Next() {
		run, err := scanDagRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CountActive возвращает число незавершённых запусков dag
// (для проверки max_active_runs).
func (r *DagRunRepo) CountActive(ctx context.Context, dagID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM dag_runs
		WHERE dag_id = $1 AND state IN ('QUEUED', 'RUNNING')
	`, dagID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active runs: %w", err)
	}
	return count, nil
}

func scanDagRun(row pgx.Row) (*domain.DagRun, error) {
	var run domain.DagRun
	var confJSON []byte
	var errMsg *string

	err := row.Scan(
		&run.DagID,
		&run.RunID,
		&run.Version,
		&run.State,
		&run.RunType,
		&run.LogicalDate,
		&run.DataIntervalStart,
		&run.DataIntervalEnd,
		&confJSON,
		&run.StartedAt,
		&run.FinishedAt,
		&errMsg,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dag run: %w", err)
	}

	if errMsg != nil {
		run.Error = *errMsg
	}
	if err := unmarshalJSONB(confJSON, &run.Conf); err != nil {
		return nil, fmt.Errorf("unmarshal conf: %w", err)
	}
	return &run, nil
}

func scanDagRunFromRows(rows pgx.Rows) (*domain.DagRun, error) {
	var run domain.DagRun
	var confJSON []byte
	var errMsg *string

	err := rows.Scan(
		&run.DagID,
		&run.RunID,
		&run.Version,
		&run.State,
		&run.RunType,
		&run.LogicalDate,
		&run.DataIntervalStart,
		&run.DataIntervalEnd,
		&confJSON,
		&run.StartedAt,
		&run.FinishedAt,
		&errMsg,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan dag run: %w", err)
	}

	if errMsg != nil {
		run.Error = *errMsg
	}
	if err := unmarshalJSONB(confJSON, &run.Conf); err != nil {
		return nil, fmt.Errorf("unmarshal conf: %w", err)
	}
	return &run, nil
}

// marshalJSONB сериализует map для JSONB-колонки, nil превращая в NULL.
func marshalJSONB(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// unmarshalJSONB десериализует JSONB-колонку, NULL оставляя nil.
func unmarshalJSONB(data []byte, dst *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
