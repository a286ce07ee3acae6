package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"borrowledger/infrastructure/observability"
	"borrowledger/models"

	"github.com/syndtr/goleveldb/leveldb"
)

// borrowerRecord is the stored form of a borrower
type borrowerRecord struct {
	Addr      string    `json:"addr"`
	Limit     int64     `json:"limit"`
	Shares    int64     `json:"shares"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BorrowerStore implements service.BorrowerRepository on LevelDB
type BorrowerStore struct {
	da dataAccess
}

// NewBorrowerStore creates a borrower store outside any transaction
func NewBorrowerStore(db *DB) *BorrowerStore {
	return &BorrowerStore{da: db.DB}
}

func newBorrowerStoreWithTx(tx dataAccess) *BorrowerStore {
	return &BorrowerStore{da: tx}
}

// GetByAddr retrieves a borrower by identity
func (s *BorrowerStore) GetByAddr(ctx context.Context, addr string) (*models.Borrower, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("borrower", "GetByAddr")()

	record, err := s.get(addr)
	if err != nil || record == nil {
		return nil, err
	}
	return record.toModel(), nil
}

// GetByAddrForUpdate retrieves a borrower. The enclosing transaction is
// already exclusive, so no extra lock is taken.
func (s *BorrowerStore) GetByAddrForUpdate(ctx context.Context, addr string) (*models.Borrower, error) {
	return s.GetByAddr(ctx, addr)
}

// Create inserts the borrower unless it already exists
func (s *BorrowerStore) Create(ctx context.Context, borrower *models.Borrower) (bool, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("borrower", "Create")()

	exists, err := s.da.Has(borrowerKey(borrower.Addr), nil)
	if err != nil {
		return false, fmt.Errorf("failed to check borrower %s: %w", borrower.Addr, err)
	}
	if exists {
		return false, nil
	}

	now := time.Now().UTC()
	if err := s.put(&borrowerRecord{
		Addr:      borrower.Addr,
		Limit:     borrower.Limit,
		Shares:    borrower.Shares,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// Save creates or replaces a borrower, keeping the original creation time
func (s *BorrowerStore) Save(ctx context.Context, borrower *models.Borrower) error {
	defer observability.GetMetrics().MeasureDatabaseQuery("borrower", "Save")()

	existing, err := s.get(borrower.Addr)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	record := &borrowerRecord{
		Addr:      borrower.Addr,
		Limit:     borrower.Limit,
		Shares:    borrower.Shares,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if existing != nil {
		record.CreatedAt = existing.CreatedAt
	}

	if err := s.put(record); err != nil {
		return err
	}

	borrower.CreatedAt = record.CreatedAt
	borrower.UpdatedAt = record.UpdatedAt
	return nil
}

// List returns up to limit borrowers after startAfter in key order
func (s *BorrowerStore) List(ctx context.Context, limit int, startAfter string) ([]*models.Borrower, error) {
	defer observability.GetMetrics().MeasureDatabaseQuery("borrower", "List")()

	iter := s.da.NewIterator(afterRange(borrowerPrefix, startAfter), nil)
	defer iter.Release()

	borrowers := make([]*models.Borrower, 0, limit)
	for len(borrowers) < limit && iter.Next() {
		var record borrowerRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			return nil, fmt.Errorf("failed to decode borrower %q: %w", iter.Key(), err)
		}
		borrowers = append(borrowers, record.toModel())
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate borrowers: %w", err)
	}

	return borrowers, nil
}

func (s *BorrowerStore) get(addr string) (*borrowerRecord, error) {
	value, err := s.da.Get(borrowerKey(addr), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get borrower %s: %w", addr, err)
	}

	var record borrowerRecord
	if err := json.Unmarshal(value, &record); err != nil {
		return nil, fmt.Errorf("failed to decode borrower %s: %w", addr, err)
	}
	return &record, nil
}

func (s *BorrowerStore) put(record *borrowerRecord) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode borrower %s: %w", record.Addr, err)
	}
	if err := s.da.Put(borrowerKey(record.Addr), value, nil); err != nil {
		return fmt.Errorf("failed to put borrower %s: %w", record.Addr, err)
	}
	return nil
}

func (r *borrowerRecord) toModel() *models.Borrower {
	return &models.Borrower{
		Addr:      r.Addr,
		Limit:     r.Limit,
		Shares:    r.Shares,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
