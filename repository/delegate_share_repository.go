package repository

import (
	"context"
	"errors"
	"fmt"

	"borrowledger/database"
	"borrowledger/infrastructure/observability"
	"borrowledger/models"
	"borrowledger/service"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// numericValueOutOfRange is the SQLSTATE raised when BIGINT arithmetic overflows
const numericValueOutOfRange = "22003"

// DelegateShareRepository implements the DelegateShareRepository interface
type DelegateShareRepository struct {
	q queryable
}

// NewDelegateShareRepository creates a new delegate share repository
func NewDelegateShareRepository(db *database.DB) *DelegateShareRepository {
	return &DelegateShareRepository{q: db.Pool}
}

// newDelegateShareRepositoryWithTx creates a new delegate share repository with a transaction
func newDelegateShareRepositoryWithTx(tx queryable) *DelegateShareRepository {
	return &DelegateShareRepository{q: tx}
}

// Get retrieves the entry for a (borrower, delegate) pair
func (r *DelegateShareRepository) Get(ctx context.Context, borrower, delegate string) (*models.DelegateShare, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("delegate_share", "Get")()

	query := `
		SELECT borrower_addr, delegate_addr, shares
		FROM delegate_shares
		WHERE borrower_addr = $1 AND delegate_addr = $2
	`
	return r.getOne(ctx, query, borrower, delegate)
}

// GetForUpdate retrieves the entry and locks its row until the transaction ends
func (r *DelegateShareRepository) GetForUpdate(ctx context.Context, borrower, delegate string) (*models.DelegateShare, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("delegate_share", "GetForUpdate")()

	query := `
		SELECT borrower_addr, delegate_addr, shares
		FROM delegate_shares
		WHERE borrower_addr = $1 AND delegate_addr = $2
		FOR UPDATE
	`
	return r.getOne(ctx, query, borrower, delegate)
}

// Increment atomically adds delta to the entry, creating it when absent
func (r *DelegateShareRepository) Increment(ctx context.Context, borrower, delegate string, delta int64) (*models.DelegateShare, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("delegate_share", "Increment")()

	query := `
		INSERT INTO delegate_shares (borrower_addr, delegate_addr, shares)
		VALUES ($1, $2, $3)
		ON CONFLICT (borrower_addr, delegate_addr) DO UPDATE
		SET shares = delegate_shares.shares + EXCLUDED.shares,
		    updated_at = NOW()
		RETURNING shares
	`

	entry := &models.DelegateShare{Borrower: borrower, Delegate: delegate}
	err := r.q.QueryRow(ctx, query, borrower, delegate, delta).Scan(&entry.Shares)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == numericValueOutOfRange {
			return nil, service.ErrShareOverflow
		}
		return nil, fmt.Errorf("failed to increment delegate shares for %s/%s: %w", borrower, delegate, err)
	}

	return entry, nil
}

// Save creates or replaces the pair entry
func (r *DelegateShareRepository) Save(ctx context.Context, share *models.DelegateShare) error {
	defer observability.GetMetrics().MeasureDatabaseQuery("delegate_share", "Save")()

	query := `
		INSERT INTO delegate_shares (borrower_addr, delegate_addr, shares)
		VALUES ($1, $2, $3)
		ON CONFLICT (borrower_addr, delegate_addr) DO UPDATE
		SET shares = EXCLUDED.shares,
		    updated_at = NOW()
	`

	_, err := r.q.Exec(ctx, query, share.Borrower, share.Delegate, share.Shares)
	if err != nil {
		return fmt.Errorf("failed to save delegate shares for %s/%s: %w", share.Borrower, share.Delegate, err)
	}

	return nil
}

// ListByBorrower returns every delegate entry of the borrower ordered by delegate
func (r *DelegateShareRepository) ListByBorrower(ctx context.Context, borrower string) ([]*models.DelegateShare, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("delegate_share", "ListByBorrower")()

	query := `
		SELECT borrower_addr, delegate_addr, shares
		FROM delegate_shares
		WHERE borrower_addr = $1
		ORDER BY delegate_addr
	`

	rows, err := r.q.Query(ctx, query, borrower)
	if err != nil {
		return nil, fmt.Errorf("failed to list delegate shares for %s: %w", borrower, err)
	}
	defer rows.Close()

	entries := []*models.DelegateShare{}
	for rows.Next() {
		var entry models.DelegateShare
		if err := rows.Scan(&entry.Borrower, &entry.Delegate, &entry.Shares); err != nil {
			return nil, fmt.Errorf("failed to scan delegate share: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating delegate shares: %w", err)
	}

	return entries, nil
}

func (r *DelegateShareRepository) getOne(ctx context.Context, query, borrower, delegate string) (*models.DelegateShare, error) {
	var entry models.DelegateShare
	err := r.q.QueryRow(ctx, query, borrower, delegate).Scan(&entry.Borrower, &entry.Delegate, &entry.Shares)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delegate shares for %s/%s: %w", borrower, delegate, err)
	}

	return &entry, nil
}
