package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"borrowledger/database"
	"borrowledger/infrastructure/observability"
	"borrowledger/models"
)

// LegacyDelegateRepository reads the legacy_delegates table
type LegacyDelegateRepository struct {
	q queryable
}

// NewLegacyDelegateRepository creates a new legacy delegate repository
func NewLegacyDelegateRepository(db *database.DB) *LegacyDelegateRepository {
	return &LegacyDelegateRepository{q: db.Pool}
}

// newLegacyDelegateRepositoryWithTx creates a new legacy delegate repository with a transaction
func newLegacyDelegateRepositoryWithTx(tx queryable) *LegacyDelegateRepository {
	return &LegacyDelegateRepository{q: tx}
}

// GetAll returns every legacy record in (borrower, delegate) order
func (r *LegacyDelegateRepository) GetAll(ctx context.Context) ([]*models.LegacyDelegate, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("legacy_delegate", "GetAll")()

	query := `
		SELECT borrower_addr, delegate_addr, borrower_snapshot, shares
		FROM legacy_delegates
		ORDER BY borrower_addr, delegate_addr
	`

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy delegates: %w", err)
	}
	defer rows.Close()

	var records []*models.LegacyDelegate
	for rows.Next() {
		var record models.LegacyDelegate
		var snapshot []byte
		if err := rows.Scan(&record.BorrowerAddr, &record.Addr, &snapshot, &record.Shares); err != nil {
			return nil, fmt.Errorf("failed to scan legacy delegate: %w", err)
		}
		if err := json.Unmarshal(snapshot, &record.Borrower); err != nil {
			return nil, fmt.Errorf("failed to decode borrower snapshot of %s/%s: %w", record.BorrowerAddr, record.Addr, err)
		}
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating legacy delegates: %w", err)
	}

	return records, nil
}

// Insert writes a legacy record; used to stage data from the previous layout
func (r *LegacyDelegateRepository) Insert(ctx context.Context, record *models.LegacyDelegate) error {
	defer observability.GetMetrics().MeasureDatabaseQuery("legacy_delegate", "Insert")()

	snapshot, err := json.Marshal(record.Borrower)
	if err != nil {
		return fmt.Errorf("failed to encode borrower snapshot: %w", err)
	}

	query := `
		INSERT INTO legacy_delegates (borrower_addr, delegate_addr, borrower_snapshot, shares)
		VALUES ($1, $2, $3, $4)
	`

	if _, err := r.q.Exec(ctx, query, record.BorrowerAddr, record.Addr, snapshot, record.Shares); err != nil {
		return fmt.Errorf("failed to insert legacy delegate %s/%s: %w", record.BorrowerAddr, record.Addr, err)
	}

	return nil
}
