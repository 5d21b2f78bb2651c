package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Konveyer/internal/domain"
)

// DagRepo — репозиторий для работы с dags и их версиями.
type DagRepo struct {
	pool *pgxpool.Pool
}

// NewDagRepo создаёт новый DagRepo.
func NewDagRepo(pool *pgxpool.Pool) *DagRepo {
	return &DagRepo{pool: pool}
}

const dagColumns = `dag_id, description, is_paused, is_active, cron_expr, interval_sec,
       timezone, max_active_runs, max_active_tasks, next_due_at, created_at, updated_at`

// Create регистрирует новый dag.
func (r *DagRepo) Create(ctx context.Context, dag *domain.Dag) error {
	query := `
		INSERT INTO dags (` + dagColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		dag.DagID,
		nullString(dag.Description),
		dag.IsPaused,
		dag.IsActive,
		nullString(dag.CronExpr),
		nullInt(dag.IntervalSec),
		dag.Timezone,
		dag.MaxActiveRuns,
		dag.MaxActiveTasks,
		dag.NextDueAt,
		dag.CreatedAt,
		dag.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert dag: %w", err)
	}
	return nil
}

// GetByID возвращает dag по dag_id.
func (r *DagRepo) GetByID(ctx context.Context, dagID string) (*domain.Dag, error) {
	query := `SELECT ` + dagColumns + ` FROM dags WHERE dag_id = $1`
	return scanDag(r.pool.QueryRow(ctx, query, dagID))
}

// DagFilter — параметры фильтрации dags.
type DagFilter struct {
	IsPaused *bool
	IsActive *bool
	Limit    int
	Offset   int
}

// List возвращает список dags с фильтрацией и общее количество
// подходящих записей (total_entries для пагинации).
func (r *DagRepo) List(ctx context.Context, filter DagFilter) ([]domain.Dag, int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM dags
		WHERE ($1::boolean IS NULL OR is_paused = $1)
		  AND ($2::boolean IS NULL OR is_active = $2)
	`, filter.IsPaused, filter.IsActive).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count dags: %w", err)
	}

	query := `
		SELECT ` + dagColumns + `
		FROM dags
		WHERE ($1::boolean IS NULL OR is_paused = $1)
		  AND ($2::boolean IS NULL OR is_active = $2)
		ORDER BY dag_id ASC
		LIMIT $3 OFFSET $4
	`
	rows, err := r.pool.Query(ctx, query, filter.IsPaused, filter.IsActive, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list dags: %w", err)
	}
	defer rows.Close()

	var dags []domain.Dag
	for rows.Next() {
		dag, err := scanDagFromRows(rows)
		if err != nil {
			return nil, 0, err
		}
		dags = append(dags, *dag)
	}
	return dags, total, rows.Err()
}

// Update обновляет dag.
func (r *DagRepo) Update(ctx context.Context, dag *domain.Dag) error {
	query := `
		UPDATE dags
		SET description = $2, is_paused = $3, is_active = $4, cron_expr = $5,
		    interval_sec = $6, timezone = $7, max_active_runs = $8,
		    max_active_tasks = $9, next_due_at = $10, updated_at = $11
		WHERE dag_id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		dag.DagID,
		nullString(dag.Description),
		dag.IsPaused,
		dag.IsActive,
		nullString(dag.CronExpr),
		nullInt(dag.IntervalSec),
		dag.Timezone,
		dag.MaxActiveRuns,
		dag.MaxActiveTasks,
		dag.NextDueAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("update dag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPaused переключает флаг паузы dag.
func (r *DagRepo) SetPaused(ctx context.Context, dagID string, paused bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE dags SET is_paused = $2, updated_at = now() WHERE dag_id = $1
	`, dagID, paused)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDue возвращает активные dags с next_due_at <= now.
// Paused dags не возвращаются.
func (r *DagRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Dag, error) {
	query := `
		SELECT ` + dagColumns + `
		FROM dags
		WHERE is_active = TRUE
		  AND is_paused = FALSE
		  AND next_due_at IS NOT NULL
		  AND next_due_at <= $1
		ORDER BY next_due_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due dags: %w", err)
	}
	defer rows.Close()

	var dags []domain.Dag
	for rows.Next() {
		dag, err := scanDagFromRows(rows)
		if err != nil {
			return nil, err
		}
		dags = append(dags, *dag)
	}
	return dags, rows.Err()
}

// --- Versions ---

// CreateVersion создаёт новую версию dag.
// Номер версии назначается атомарно (max + 1).
func (r *DagRepo) CreateVersion(ctx context.Context, dagID string, spec domain.DagSpec) (*domain.DagVersion, error) {
	specJSON, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("marshal spec: %w", err)
	}

	version := &domain.DagVersion{
		DagID:     dagID,
		Spec:      spec,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO dag_versions (dag_id, version, spec, created_at)
		VALUES ($1, (SELECT COALESCE(MAX(version), 0) + 1 FROM dag_versions WHERE dag_id = $1), $2, $3)
		RETURNING version
	`
	err = r.pool.QueryRow(ctx, query, dagID, specJSON, version.CreatedAt).Scan(&version.Version)
	if err != nil {
		return nil, fmt.Errorf("insert dag version: %w", err)
	}
	return version, nil
}

// GetVersion возвращает конкретную версию dag.
func (r *DagRepo) GetVersion(ctx context.Context, dagID string, version int) (*domain.DagVersion, error) {
	query := `
		SELECT dag_id, version, spec, created_at
		FROM dag_versions
		WHERE dag_id = $1 AND version = $2
	`
	return scanDagVersion(r.pool.QueryRow(ctx, query, dagID, version))
}

// GetLatestVersion возвращает последнюю версию dag.
func (r *DagRepo) GetLatestVersion(ctx context.Context, dagID string) (*domain.DagVersion, error) {
	query := `
		SELECT dag_id, version, spec, created_at
		FROM dag_versions
		WHERE dag_id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return scanDagVersion(r.pool.QueryRow(ctx, query, dagID))
}

// ListVersions возвращает все версии dag (новые первыми).
func (r *DagRepo) ListVersions(ctx context.Context, dagID string) ([]domain.DagVersion, error) {
	query := `
		SELECT dag_id, version, spec, created_at
		FROM dag_versions
		WHERE dag_id = $1
		ORDER BY version DESC
	`
	rows, err := r.pool.Query(ctx, query, dagID)
	if err != nil {
		return nil, fmt.Errorf("list dag versions: %w", err)
	}
	defer rows.Close()

	var versions []domain.DagVersion
	for rows.Next() {
		var v domain.DagVersion
		var specJSON []byte
		if err := rows.Scan(&v.DagID, &v.Version, &specJSON, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dag version: %w", err)
		}
		if err := json.Unmarshal(specJSON, &v.Spec); err != nil {
			return nil, fmt.Errorf("unmarshal spec: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Helpers ---

func scanDag(row pgx.Row) (*domain.Dag, error) {
	var dag domain.Dag
	var description, cronExpr *string
	var intervalSec *int

	err := row.Scan(
		&dag.DagID,
		&description,
		&dag.IsPaused,
		&dag.IsActive,
		&cronExpr,
		&intervalSec,
		&dag.Timezone,
		&dag.MaxActiveRuns,
		&dag.MaxActiveTasks,
		&dag.NextDueAt,
		&dag.CreatedAt,
		&dag.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dag: %w", err)
	}

	if description != nil {
		dag.Description = *description
	}
	if cronExpr != nil {
		dag.CronExpr = *cronExpr
	}
	if intervalSec != nil {
		dag.IntervalSec = *intervalSec
	}
	return &dag, nil
}

func scanDagFromRows(rows pgx.Rows) (*domain.Dag, error) {
	var dag domain.Dag
	var description, cronExpr *string
	var intervalSec *int

	err := rows.Scan(
		&dag.DagID,
		&description,
		&dag.IsPaused,
		&dag.IsActive,
		&cronExpr,
		&intervalSec,
		&dag.Timezone,
		&dag.MaxActiveRuns,
		&dag.MaxActiveTasks,
		&dag.NextDueAt,
		&dag.CreatedAt,
		&dag.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan dag: %w", err)
	}

	if description != nil {
		dag.Description = *description
	}
	if cronExpr != nil {
		dag.CronExpr = *cronExpr
	}
	if intervalSec != nil {
		dag.IntervalSec = *intervalSec
	}
	return &dag, nil
}

func scanDagVersion(row pgx.Row) (*domain.DagVersion, error) {
	var v domain.DagVersion
	var specJSON []byte

	err := row.Scan(&v.DagID, &v.Version, &specJSON, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dag version: %w", err)
	}

	if err := json.Unmarshal(specJSON, &v.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	return &v, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullInt возвращает nil для нулевого значения.
func nullInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

// isUniqueViolation проверяет ошибку pg на конфликт уникальности.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
