package kvstore

import (
	"context"
	"errors"
	"fmt"
	"math"

	"borrowledger/infrastructure/observability"
	"borrowledger/models"
	"borrowledger/service"

	"github.com/syndtr/goleveldb/leveldb"
)

// DelegateShareStore implements service.DelegateShareRepository on LevelDB
type DelegateShareStore struct {
	da dataAccess
}

// NewDelegateShareStore creates a delegate share store outside any transaction
func NewDelegateShareStore(db *DB) *DelegateShareStore {
	return &DelegateShareStore{da: db.DB}
}

func newDelegateShareStoreWithTx(tx dataAccess) *DelegateShareStore {
	return &DelegateShareStore{da: tx}
}

// Get retrieves the entry for a (borrower, delegate) pair
func (s *DelegateShareStore) Get(ctx context.Context, borrower, delegate string) (*models.DelegateShare, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("delegate_share", "Get")()

	value, err := s.da.Get(delegateKey(borrower, delegate), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delegate shares for %s/%s: %w", borrower, delegate, err)
	}

	shares, err := decodeShares(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode delegate shares for %s/%s: %w", borrower, delegate, err)
	}

	return &models.DelegateShare{Borrower: borrower, Delegate: delegate, Shares: shares}, nil
}

// GetForUpdate is Get; the enclosing transaction is exclusive
func (s *DelegateShareStore) GetForUpdate(ctx context.Context, borrower, delegate string) (*models.DelegateShare, error) {
	return s.Get(ctx, borrower, delegate)
}

// Increment adds delta to the pair entry, starting from zero when absent
func (s *DelegateShareStore) Increment(ctx context.Context, borrower, delegate string, delta int64) (*models.DelegateShare, error) {
	entry, err := s.Get(ctx, borrower, delegate)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		entry = &models.DelegateShare{Borrower: borrower, Delegate: delegate}
	}

	if delta > 0 && entry.Shares > math.MaxInt64-delta {
		return nil, service.ErrShareOverflow
	}
	entry.Shares += delta

	if err := s.Save(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Save creates or replaces the pair entry
func (s *DelegateShareStore) Save(ctx context.Context, share *models.DelegateShare) error {
	defer observability.GetMetrics().MeasureDatabaseQuery("delegate_share", "Save")()

	if share.Shares < 0 {
		return service.ErrInvalidShares
	}
	if err := s.da.Put(delegateKey(share.Borrower, share.Delegate), encodeShares(share.Shares), nil); err != nil {
		return fmt.Errorf("failed to put delegate shares for %s/%s: %w", share.Borrower, share.Delegate, err)
	}
	return nil
}

// ListByBorrower returns every delegate entry of the borrower in delegate order
func (s *DelegateShareStore) ListByBorrower(ctx context.Context, borrower string) ([]*models.DelegateShare, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("delegate_share", "ListByBorrower")()

	iter := s.da.NewIterator(pairRange(delegatePrefix, borrower), nil)
	defer iter.Release()

	entries := []*models.DelegateShare{}
	for iter.Next() {
		_, delegate, err := splitPairKey(delegatePrefix, iter.Key())
		if err != nil {
			return nil, err
		}
		shares, err := decodeShares(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("failed to decode delegate shares for %s/%s: %w", borrower, delegate, err)
		}
		entries = append(entries, &models.DelegateShare{Borrower: borrower, Delegate: delegate, Shares: shares})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate delegate shares: %w", err)
	}

	return entries, nil
}
