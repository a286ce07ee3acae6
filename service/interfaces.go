package service

import (
	"context"

	"borrowledger/events"
	"borrowledger/models"
)

// BorrowerRepository defines the interface for borrower data access.
// Lookups return (nil, nil) when the borrower does not exist.
type BorrowerRepository interface {
	// GetByAddr retrieves a borrower by identity
	GetByAddr(ctx context.Context, addr string) (*models.Borrower, error)

	// GetByAddrForUpdate retrieves a borrower and holds a write lock on it until the transaction ends
	GetByAddrForUpdate(ctx context.Context, addr string) (*models.Borrower, error)

	// Create inserts the borrower unless one already exists and reports whether it inserted
	Create(ctx context.Context, borrower *models.Borrower) (bool, error)

	// Save creates or fully replaces a borrower record
	Save(ctx context.Context, borrower *models.Borrower) error

	// List returns up to limit borrowers in ascending identity order, strictly after startAfter when non-empty
	List(ctx context.Context, limit int, startAfter string) ([]*models.Borrower, error)
}

// DelegateShareRepository defines the interface for per-delegate share data access
type DelegateShareRepository interface {
	// Get retrieves the entry for a (borrower, delegate) pair, nil when absent
	Get(ctx context.Context, borrower, delegate string) (*models.DelegateShare, error)

	// GetForUpdate retrieves the entry and locks it until the transaction ends
	GetForUpdate(ctx context.Context, borrower, delegate string) (*models.DelegateShare, error)

	// Increment atomically adds delta to the entry, creating it at zero first, and returns the new entry
	Increment(ctx context.Context, borrower, delegate string, delta int64) (*models.DelegateShare, error)

	// Save creates or fully replaces an entry
	Save(ctx context.Context, share *models.DelegateShare) error

	// ListByBorrower returns every entry of a borrower ordered by delegate identity
	ListByBorrower(ctx context.Context, borrower string) ([]*models.DelegateShare, error)
}

// LegacyDelegateRepository reads the pre-migration delegate records
type LegacyDelegateRepository interface {
	// GetAll returns every legacy record in ascending (borrower, delegate) order
	GetAll(ctx context.Context) ([]*models.LegacyDelegate, error)
}

// EventPublisher defines the interface for publishing events
type EventPublisher interface {
	Publish(event events.Event) error
}

// UnitOfWork manages a single transaction and the repositories bound to it
type UnitOfWork interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) error

	// BeginReadOnly starts a transaction that only reads. Writes through its
	// repositories fail.
	BeginReadOnly(ctx context.Context) error

	// Commit commits the transaction and flushes staged events
	Commit() error

	// Rollback rolls back the transaction and discards staged events; no-op after Commit
	Rollback() error

	// Repository getters - valid only after Begin
	BorrowerRepository() BorrowerRepository
	DelegateShareRepository() DelegateShareRepository
	LegacyDelegateRepository() LegacyDelegateRepository

	// EventBus returns the publisher that stages events until commit
	EventBus() EventPublisher
}

// UnitOfWorkFactory creates new UnitOfWork instances
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}

// PoolValuation converts a share count into an ownership value in pool units.
// Implementations must be pure and deterministic.
type PoolValuation interface {
	Ownership(shares int64) int64
}

// OwnershipFunc adapts a plain function to PoolValuation
type OwnershipFunc func(shares int64) int64

// Ownership calls f(shares)
func (f OwnershipFunc) Ownership(shares int64) int64 {
	return f(shares)
}

// MetricsRecorder receives per-operation counters
type MetricsRecorder interface {
	RecordLedgerOperation(operation, outcome string)
	RecordBorrowLimitRejection()
}

// LedgerService defines the borrower share-ledger operations
type LedgerService interface {
	// Load returns the borrower or ErrUnauthorizedBorrower
	Load(ctx context.Context, addr string) (*models.Borrower, error)

	// Save unconditionally writes a borrower record
	Save(ctx context.Context, borrower *models.Borrower) error

	// Set creates the borrower with zero shares or updates only its limit
	Set(ctx context.Context, addr string, limit int64) (*models.Borrower, error)

	// Borrow adds shares to the borrower if the projected ownership stays within its limit
	Borrow(ctx context.Context, addr string, shares int64) (*models.Borrower, error)

	// Repay removes up to shares from the borrower and returns the part that could not be repaid
	Repay(ctx context.Context, addr string, shares int64) (int64, error)

	// DelegateShares returns the shares borrowed through a delegate, zero when none
	DelegateShares(ctx context.Context, borrower, delegate string) (int64, error)

	// DelegateBorrow borrows on behalf of a borrower through a delegate
	DelegateBorrow(ctx context.Context, borrower, delegate string, shares int64) (*models.Borrower, error)

	// DelegateRepay repays through a delegate and returns the part exceeding the delegate's shares
	DelegateRepay(ctx context.Context, borrower, delegate string, shares int64) (int64, error)

	// ListDelegates returns the per-delegate breakdown of a borrower
	ListDelegates(ctx context.Context, borrower string) ([]*models.DelegateShare, error)

	// ListBorrowers pages through borrowers in ascending identity order
	ListBorrowers(ctx context.Context, limit int, startAfter string) ([]*models.Borrower, error)

	// Migrate rebuilds delegate entries and borrower totals from the legacy records
	Migrate(ctx context.Context) (*models.MigrationResult, error)
}
