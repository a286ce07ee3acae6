package kvstore

import (
	"context"
	"encoding/json"
	"fmt"

	"borrowledger/infrastructure/observability"
	"borrowledger/models"
)

// LegacyDelegateStore reads the pre-migration delegate records
type LegacyDelegateStore struct {
	da dataAccess
}

// NewLegacyDelegateStore creates a legacy delegate store outside any transaction
func NewLegacyDelegateStore(db *DB) *LegacyDelegateStore {
	return &LegacyDelegateStore{da: db.DB}
}

func newLegacyDelegateStoreWithTx(tx dataAccess) *LegacyDelegateStore {
	return &LegacyDelegateStore{da: tx}
}

// GetAll returns every legacy record in (borrower, delegate) key order
func (s *LegacyDelegateStore) GetAll(ctx context.Context) ([]*models.LegacyDelegate, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("legacy_delegate", "GetAll")()

	iter := s.da.NewIterator(afterRange(legacyPrefix, ""), nil)
	defer iter.Release()

	var records []*models.LegacyDelegate
	for iter.Next() {
		borrower, delegate, err := splitPairKey(legacyPrefix, iter.Key())
		if err != nil {
			return nil, err
		}

		var record models.LegacyDelegate
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			return nil, fmt.Errorf("failed to decode legacy delegate %s/%s: %w", borrower, delegate, err)
		}
		record.BorrowerAddr = borrower
		record.Addr = delegate
		records = append(records, &record)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate legacy delegates: %w", err)
	}

	return records, nil
}

// Put writes a legacy record; used to load data from the previous layout
func (s *LegacyDelegateStore) Put(ctx context.Context, record *models.LegacyDelegate) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode legacy delegate: %w", err)
	}
	if err := s.da.Put(legacyKey(record.BorrowerAddr, record.Addr), value, nil); err != nil {
		return fmt.Errorf("failed to put legacy delegate %s/%s: %w", record.BorrowerAddr, record.Addr, err)
	}
	return nil
}
