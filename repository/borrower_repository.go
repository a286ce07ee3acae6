package repository

import (
	"context"
	"errors"
	"fmt"

	"borrowledger/database"
	"borrowledger/infrastructure/observability"
	"borrowledger/models"

	"github.com/jackc/pgx/v5"
)

// BorrowerRepository implements the BorrowerRepository interface
type BorrowerRepository struct {
	q queryable
}

// NewBorrowerRepository creates a new borrower repository
func NewBorrowerRepository(db *database.DB) *BorrowerRepository {
	return &BorrowerRepository{q: db.Pool}
}

// newBorrowerRepositoryWithTx creates a new borrower repository with a transaction
func newBorrowerRepositoryWithTx(tx queryable) *BorrowerRepository {
	return &BorrowerRepository{q: tx}
}

// GetByAddr retrieves a borrower by identity
func (r *BorrowerRepository) GetByAddr(ctx context.Context, addr string) (*models.Borrower, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("borrower", "GetByAddr")()

	query := `
		SELECT addr, limit_value, shares, created_at, updated_at
		FROM borrowers
		WHERE addr = $1
	`
	return r.getOne(ctx, query, addr)
}

// GetByAddrForUpdate retrieves a borrower and locks its row until the transaction ends
func (r *BorrowerRepository) GetByAddrForUpdate(ctx context.Context, addr string) (*models.Borrower, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("borrower", "GetByAddrForUpdate")()

	query := `
		SELECT addr, limit_value, shares, created_at, updated_at
		FROM borrowers
		WHERE addr = $1
		FOR UPDATE
	`
	return r.getOne(ctx, query, addr)
}

// Create inserts the borrower unless it already exists
func (r *BorrowerRepository) Create(ctx context.Context, borrower *models.Borrower) (bool, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("borrower", "Create")()

	query := `
		INSERT INTO borrowers (addr, limit_value, shares)
		VALUES ($1, $2, $3)
		ON CONFLICT (addr) DO NOTHING
	`

	tag, err := r.q.Exec(ctx, query, borrower.Addr, borrower.Limit, borrower.Shares)
	if err != nil {
		return false, fmt.Errorf("failed to create borrower %s: %w", borrower.Addr, err)
	}

	return tag.RowsAffected() == 1, nil
}

// Save creates or replaces a borrower record
func (r *BorrowerRepository) Save(ctx context.Context, borrower *models.Borrower) error {
	defer observability.GetMetrics().MeasureDatabaseQuery("borrower", "Save")()

	query := `
		INSERT INTO borrowers (addr, limit_value, shares)
		VALUES ($1, $2, $3)
		ON CONFLICT (addr) DO UPDATE
		SET limit_value = EXCLUDED.limit_value,
		    shares = EXCLUDED.shares,
		    updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err := r.q.QueryRow(ctx, query, borrower.Addr, borrower.Limit, borrower.Shares).Scan(
		&borrower.CreatedAt,
		&borrower.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save borrower %s: %w", borrower.Addr, err)
	}

	return nil
}

// List returns up to limit borrowers after startAfter in byte order
func (r *BorrowerRepository) List(ctx context.Context, limit int, startAfter string) ([]*models.Borrower, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("borrower", "List")()

	query := `
		SELECT addr, limit_value, shares, created_at, updated_at
		FROM borrowers
		WHERE $2 = '' OR addr > $2
		ORDER BY addr
		LIMIT $1
	`

	rows, err := r.q.Query(ctx, query, limit, startAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to list borrowers: %w", err)
	}
	defer rows.Close()

	borrowers := make([]*models.Borrower, 0, limit)
	for rows.Next() {
		var borrower models.Borrower
		if err := rows.Scan(
			&borrower.Addr,
			&borrower.Limit,
			&borrower.Shares,
			&borrower.CreatedAt,
			&borrower.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan borrower: %w", err)
		}
		borrowers = append(borrowers, &borrower)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating borrowers: %w", err)
	}

	return borrowers, nil
}

func (r *BorrowerRepository) getOne(ctx context.Context, query, addr string) (*models.Borrower, error) {
	var borrower models.Borrower
	err := r.q.QueryRow(ctx, query, addr).Scan(
		&borrower.Addr,
		&borrower.Limit,
		&borrower.Shares,
		&borrower.CreatedAt,
		&borrower.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get borrower %s: %w", addr, err)
	}

	return &borrower, nil
}
