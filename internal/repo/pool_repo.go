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

// PoolRepo — репозиторий пулов слотов.
type PoolRepo struct {
	pool *pgxpool.Pool
}

// NewPoolRepo создаёт новый PoolRepo.
func NewPoolRepo(pool *pgxpool.Pool) *PoolRepo {
	return &PoolRepo{pool: pool}
}

// Create создаёт пул.
func (r *PoolRepo) Create(ctx context.Context, p *domain.Pool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pools (name, slots, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.Name, p.Slots, nullString(p.Description), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert pool: %w", err)
	}
	return nil
}

// GetByName возвращает пул по имени.
func (r *PoolRepo) GetByName(ctx context.Context, name string) (*domain.Pool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT name, slots, description, created_at, updated_at FROM pools WHERE name = $1
	`, name)
	return scanPool(row)
}

// List возвращает все пулы.
func (r *PoolRepo) List(ctx context.Context) ([]domain.Pool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, slots, description, created_at, updated_at FROM pools ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.Pool
	for rows.Next() {
		var p domain.Pool
		var description *string
		if err := rows.Scan(&p.Name, &p.Slots, &description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		if description != nil {
			p.Description = *description
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// Update меняет размер и описание пула.
func (r *PoolRepo) Update(ctx context.Context, p *domain.Pool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE pools SET slots = $2, description = $3, updated_at = $4 WHERE name = $1
	`, p.Name, p.Slots, nullString(p.Description), time.Now())
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет пул. default_pool удалить нельзя.
func (r *PoolRepo) Delete(ctx context.Context, name string) error {
	if name == domain.DefaultPoolName {
		return fmt.Errorf("%w: pool %q is immutable", ErrInvalidState, name)
	}
	result, err := r.pool.Exec(ctx, `DELETE FROM pools WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("delete pool: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureDefault создаёт default_pool, если его ещё нет.
func (r *PoolRepo) EnsureDefault(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO pools (name, slots, description, created_at, updated_at)
		VALUES ($1, $2, 'Default pool', now(), now())
		ON CONFLICT (name) DO NOTHING
	`, domain.DefaultPoolName, domain.DefaultPoolSlots)
	if err != nil {
		return fmt.Errorf("ensure default pool: %w", err)
	}
	return nil
}

func scanPool(row pgx.Row) (*domain.Pool, error) {
	var p domain.Pool
	var description *string

	err := row.Scan(&p.Name, &p.Slots, &description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan pool: %w", err)
	}
	if description != nil {
		p.Description = *description
	}
	return &p, nil
}
