package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"borrowledger/events"
	"borrowledger/models"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultListLimit is the page size used when none is requested
	DefaultListLimit = 100

	// MaxListLimit caps every ListBorrowers page
	MaxListLimit = 100
)

// Operation names reported to the metrics recorder
const (
	OpSave           = "save"
	OpSet            = "set"
	OpBorrow         = "borrow"
	OpRepay          = "repay"
	OpDelegateBorrow = "delegate_borrow"
	OpDelegateRepay  = "delegate_repay"
	OpMigrate        = "migrate"
)

type ledgerService struct {
	uowFactory UnitOfWorkFactory
	valuation  PoolValuation
	metrics    MetricsRecorder
}

// NewLedgerService creates a new ledger service. metrics may be nil.
func NewLedgerService(uowFactory UnitOfWorkFactory, valuation PoolValuation, metrics MetricsRecorder) LedgerService {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &ledgerService{
		uowFactory: uowFactory,
		valuation:  valuation,
		metrics:    metrics,
	}
}

// Load returns the borrower record
func (s *ledgerService) Load(ctx context.Context, addr string) (*models.Borrower, error) {
	if err := validateAddr(addr); err != nil {
		return nil, err
	}

	uow := s.uowFactory.Create()
	if err := uow.BeginReadOnly(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	borrower, err := uow.BorrowerRepository().GetByAddr(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to load borrower: %w", err)
	}
	if borrower == nil {
		return nil, ErrUnauthorizedBorrower
	}

	return borrower, nil
}

// Save writes the borrower record as given
func (s *ledgerService) Save(ctx context.Context, borrower *models.Borrower) (err error) {
	defer func() { s.recordOutcome(OpSave, err) }()

	if err := validateAddr(borrower.Addr); err != nil {
		return err
	}
	if borrower.Limit < 0 || borrower.Shares < 0 {
		return ErrInvalidShares
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if err := uow.BorrowerRepository().Save(ctx, borrower); err != nil {
		return fmt.Errorf("failed to save borrower: %w", err)
	}

	if err := uow.EventBus().Publish(events.BorrowerSavedEvent{
		Borrower: borrower.Addr,
		Limit:    borrower.Limit,
		Shares:   borrower.Shares,
	}); err != nil {
		return fmt.Errorf("failed to stage borrower saved event: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Set creates the borrower with zero shares, or updates only the limit of an existing one
func (s *ledgerService) Set(ctx context.Context, addr string, limit int64) (_ *models.Borrower, err error) {
	defer func() { s.recordOutcome(OpSet, err) }()

	if err := validateAddr(addr); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, ErrInvalidShares
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	borrower, created, err := getOrCreateBorrower(ctx, uow.BorrowerRepository(), addr)
	if err != nil {
		return nil, err
	}

	borrower.Limit = limit
	if err := uow.BorrowerRepository().Save(ctx, borrower); err != nil {
		return nil, fmt.Errorf("failed to save borrower: %w", err)
	}

	if err := uow.EventBus().Publish(events.BorrowerLimitSetEvent{
		Borrower: addr,
		Limit:    limit,
		Created:  created,
	}); err != nil {
		return nil, fmt.Errorf("failed to stage limit set event: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"borrower": addr,
		"limit":    limit,
		"created":  created,
	}).Info("Borrower limit set")

	return borrower, nil
}

// Borrow adds shares to the borrower's total
func (s *ledgerService) Borrow(ctx context.Context, addr string, shares int64) (_ *models.Borrower, err error) {
	defer func() { s.recordOutcome(OpBorrow, err) }()

	if err := validateAddr(addr); err != nil {
		return nil, err
	}
	if shares < 0 {
		return nil, ErrInvalidShares
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	borrower, err := s.borrow(ctx, uow, addr, "", shares)
	if err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return borrower, nil
}

// Repay removes up to shares from the borrower's total and returns the residual
func (s *ledgerService) Repay(ctx context.Context, addr string, shares int64) (_ int64, err error) {
	defer func() { s.recordOutcome(OpRepay, err) }()

	if err := validateAddr(addr); err != nil {
		return 0, err
	}
	if shares < 0 {
		return 0, ErrInvalidShares
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	borrower, repaid, err := s.repay(ctx, uow, addr, shares)
	if err != nil {
		return 0, err
	}
	residual := shares - repaid

	if err := uow.EventBus().Publish(events.SharesRepaidEvent{
		Borrower:    addr,
		Requested:   shares,
		Repaid:      repaid,
		Residual:    residual,
		TotalShares: borrower.Shares,
	}); err != nil {
		return 0, fmt.Errorf("failed to stage repay event: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return residual, nil
}

// DelegateShares returns the shares a delegate borrowed for the borrower
func (s *ledgerService) DelegateShares(ctx context.Context, borrower, delegate string) (int64, error) {
	if err := validateAddr(borrower); err != nil {
		return 0, err
	}
	if err := validateAddr(delegate); err != nil {
		return 0, err
	}

	uow := s.uowFactory.Create()
	if err := uow.BeginReadOnly(ctx); err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	entry, err := uow.DelegateShareRepository().Get(ctx, borrower, delegate)
	if err != nil {
		return 0, fmt.Errorf("failed to get delegate shares: %w", err)
	}
	if entry == nil {
		return 0, nil
	}

	return entry.Shares, nil
}

// DelegateBorrow records shares against the delegate, then borrows them for the borrower
func (s *ledgerService) DelegateBorrow(ctx context.Context, borrower, delegate string, shares int64) (_ *models.Borrower, err error) {
	defer func() { s.recordOutcome(OpDelegateBorrow, err) }()

	if err := validateAddr(borrower); err != nil {
		return nil, err
	}
	if err := validateAddr(delegate); err != nil {
		return nil, err
	}
	if shares < 0 {
		return nil, ErrInvalidShares
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	if _, err := uow.DelegateShareRepository().Increment(ctx, borrower, delegate, shares); err != nil {
		return nil, fmt.Errorf("failed to increment delegate shares: %w", err)
	}

	updated, err := s.borrow(ctx, uow, borrower, delegate, shares)
	if err != nil {
		return nil, err
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return updated, nil
}

// DelegateRepay repays up to the delegate's shares and returns the residual
func (s *ledgerService) DelegateRepay(ctx context.Context, borrower, delegate string, shares int64) (_ int64, err error) {
	defer func() { s.recordOutcome(OpDelegateRepay, err) }()

	if err := validateAddr(borrower); err != nil {
		return 0, err
	}
	if err := validateAddr(delegate); err != nil {
		return 0, err
	}
	if shares < 0 {
		return 0, ErrInvalidShares
	}

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	delegateRepo := uow.DelegateShareRepository()
	entry, err := delegateRepo.GetForUpdate(ctx, borrower, delegate)
	if err != nil {
		return 0, fmt.Errorf("failed to get delegate shares: %w", err)
	}
	if entry == nil {
		return 0, fmt.Errorf("%w: borrower %s, delegate %s", ErrDelegateNotFound, borrower, delegate)
	}

	repaid := min(shares, entry.Shares)
	remaining, err := checkedSub(entry.Shares, repaid)
	if err != nil {
		return 0, err
	}
	entry.Shares = remaining
	if err := delegateRepo.Save(ctx, entry); err != nil {
		return 0, fmt.Errorf("failed to save delegate shares: %w", err)
	}

	updated, borrowerRepaid, err := s.repay(ctx, uow, borrower, repaid)
	if err != nil {
		return 0, err
	}
	if borrowerRepaid != repaid {
		log.WithFields(log.Fields{
			"borrower":       borrower,
			"delegate":       delegate,
			"delegateRepaid": repaid,
			"borrowerRepaid": borrowerRepaid,
		}).Warn("Borrower total was below the delegate entry")
	}
	residual := shares - repaid

	if err := uow.EventBus().Publish(events.SharesRepaidEvent{
		Borrower:    borrower,
		Delegate:    delegate,
		Requested:   shares,
		Repaid:      repaid,
		Residual:    residual,
		TotalShares: updated.Shares,
	}); err != nil {
		return 0, fmt.Errorf("failed to stage repay event: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return residual, nil
}

// ListDelegates returns every delegate entry of the borrower
func (s *ledgerService) ListDelegates(ctx context.Context, borrower string) ([]*models.DelegateShare, error) {
	if err := validateAddr(borrower); err != nil {
		return nil, err
	}

	uow := s.uowFactory.Create()
	if err := uow.BeginReadOnly(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	entries, err := uow.DelegateShareRepository().ListByBorrower(ctx, borrower)
	if err != nil {
		return nil, fmt.Errorf("failed to list delegates: %w", err)
	}

	return entries, nil
}

// ListBorrowers returns one page of borrowers after startAfter
func (s *ledgerService) ListBorrowers(ctx context.Context, limit int, startAfter string) ([]*models.Borrower, error) {
	if startAfter != "" {
		if err := validateAddr(startAfter); err != nil {
			return nil, err
		}
	}
	limit = clampListLimit(limit)

	uow := s.uowFactory.Create()
	if err := uow.BeginReadOnly(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	borrowers, err := uow.BorrowerRepository().List(ctx, limit, startAfter)
	if err != nil {
		return nil, fmt.Errorf("failed to list borrowers: %w", err)
	}

	return borrowers, nil
}

// Migrate copies every legacy delegate record into the delegate ledger and
// overwrites each borrower's total with the sum of its delegate entries
func (s *ledgerService) Migrate(ctx context.Context) (_ *models.MigrationResult, err error) {
	defer func() { s.recordOutcome(OpMigrate, err) }()

	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	legacy, err := uow.LegacyDelegateRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy delegates: %w", err)
	}

	delegateRepo := uow.DelegateShareRepository()
	totals := make(map[string]int64)
	for _, record := range legacy {
		if record.Shares < 0 {
			return nil, fmt.Errorf("%w: legacy delegate %s of %s has %d shares",
				ErrInvalidShares, record.Addr, record.BorrowerAddr, record.Shares)
		}

		if err := delegateRepo.Save(ctx, &models.DelegateShare{
			Borrower: record.BorrowerAddr,
			Delegate: record.Addr,
			Shares:   record.Shares,
		}); err != nil {
			return nil, fmt.Errorf("failed to copy legacy delegate: %w", err)
		}

		total, err := addShares(totals[record.BorrowerAddr], record.Shares)
		if err != nil {
			return nil, err
		}
		totals[record.BorrowerAddr] = total
	}

	addrs := make([]string, 0, len(totals))
	for addr := range totals {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	result := &models.MigrationResult{DelegatesCopied: len(legacy)}
	borrowerRepo := uow.BorrowerRepository()
	for _, addr := range addrs {
		borrower, err := borrowerRepo.GetByAddrForUpdate(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("failed to load borrower: %w", err)
		}
		if borrower == nil {
			return nil, fmt.Errorf("%w: %s", ErrBorrowerNotFound, addr)
		}

		adjustment := models.BorrowerAdjustment{
			Addr:           addr,
			PreviousShares: borrower.Shares,
			NewShares:      totals[addr],
		}
		if adjustment.Discrepancy() {
			log.WithFields(log.Fields{
				"borrower":       addr,
				"previousShares": adjustment.PreviousShares,
				"newShares":      adjustment.NewShares,
			}).Warn("Borrower total differs from its delegate entries, overwriting")
		}

		borrower.Shares = totals[addr]
		if err := borrowerRepo.Save(ctx, borrower); err != nil {
			return nil, fmt.Errorf("failed to save borrower: %w", err)
		}
		result.Borrowers = append(result.Borrowers, adjustment)
	}

	if err := uow.EventBus().Publish(events.LedgerMigratedEvent{
		DelegatesCopied:  result.DelegatesCopied,
		BorrowersUpdated: len(result.Borrowers),
		Discrepancies:    result.Discrepancies(),
	}); err != nil {
		return nil, fmt.Errorf("failed to stage migration event: %w", err)
	}

	if err := uow.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.WithFields(log.Fields{
		"delegatesCopied":  result.DelegatesCopied,
		"borrowersUpdated": len(result.Borrowers),
		"discrepancies":    result.Discrepancies(),
	}).Info("Legacy delegate migration complete")

	return result, nil
}

// borrow runs the limit check and share increment inside the caller's unit of work
func (s *ledgerService) borrow(ctx context.Context, uow UnitOfWork, addr, delegate string, shares int64) (*models.Borrower, error) {
	repo := uow.BorrowerRepository()

	borrower, err := loadBorrowerForUpdate(ctx, repo, addr)
	if err != nil {
		return nil, err
	}

	projected, err := addShares(borrower.Shares, shares)
	if err != nil {
		return nil, err
	}

	if s.valuation.Ownership(projected) > borrower.Limit {
		s.metrics.RecordBorrowLimitRejection()
		log.WithFields(log.Fields{
			"borrower":  addr,
			"delegate":  delegate,
			"shares":    shares,
			"projected": projected,
			"limit":     borrower.Limit,
		}).Warn("Borrow rejected by limit")
		return nil, &BorrowLimitReachedError{Limit: borrower.Limit}
	}

	borrower.Shares = projected
	if err := repo.Save(ctx, borrower); err != nil {
		return nil, fmt.Errorf("failed to save borrower: %w", err)
	}

	if err := uow.EventBus().Publish(events.SharesBorrowedEvent{
		Borrower:    addr,
		Delegate:    delegate,
		Shares:      shares,
		TotalShares: borrower.Shares,
	}); err != nil {
		return nil, fmt.Errorf("failed to stage borrow event: %w", err)
	}

	log.WithFields(log.Fields{
		"borrower":    addr,
		"delegate":    delegate,
		"shares":      shares,
		"totalShares": borrower.Shares,
	}).Info("Shares borrowed")

	return borrower, nil
}

// repay removes min(shares, current) from the borrower and returns how much was removed
func (s *ledgerService) repay(ctx context.Context, uow UnitOfWork, addr string, shares int64) (*models.Borrower, int64, error) {
	repo := uow.BorrowerRepository()

	borrower, err := loadBorrowerForUpdate(ctx, repo, addr)
	if err != nil {
		return nil, 0, err
	}

	repaid := min(shares, borrower.Shares)
	borrower.Shares -= repaid
	if err := repo.Save(ctx, borrower); err != nil {
		return nil, 0, fmt.Errorf("failed to save borrower: %w", err)
	}

	log.WithFields(log.Fields{
		"borrower":    addr,
		"requested":   shares,
		"repaid":      repaid,
		"totalShares": borrower.Shares,
	}).Info("Shares repaid")

	return borrower, repaid, nil
}

func (s *ledgerService) recordOutcome(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	s.metrics.RecordLedgerOperation(operation, outcome)
}

// loadBorrowerForUpdate maps a missing borrower to ErrUnauthorizedBorrower
func loadBorrowerForUpdate(ctx context.Context, repo BorrowerRepository, addr string) (*models.Borrower, error) {
	borrower, err := repo.GetByAddrForUpdate(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to load borrower: %w", err)
	}
	if borrower == nil {
		return nil, ErrUnauthorizedBorrower
	}
	return borrower, nil
}

// getOrCreateBorrower returns the locked borrower, inserting it with zero
// shares and zero limit first when absent
func getOrCreateBorrower(ctx context.Context, repo BorrowerRepository, addr string) (*models.Borrower, bool, error) {
	borrower, err := repo.GetByAddrForUpdate(ctx, addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load borrower: %w", err)
	}
	if borrower != nil {
		return borrower, false, nil
	}

	created, err := repo.Create(ctx, &models.Borrower{Addr: addr})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create borrower: %w", err)
	}

	borrower, err = repo.GetByAddrForUpdate(ctx, addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load borrower: %w", err)
	}
	if borrower == nil {
		return nil, false, fmt.Errorf("borrower %s missing after create", addr)
	}

	return borrower, created, nil
}

// validateAddr accepts non-empty UTF-8 identities without NUL. Identities are
// stored as TEXT and inside JSON values, neither of which round-trips other bytes.
func validateAddr(addr string) error {
	if addr == "" || !utf8.ValidString(addr) || strings.ContainsRune(addr, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return nil
}

func clampListLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return min(limit, MaxListLimit)
}

func addShares(a, b int64) (int64, error) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, ErrShareOverflow
	}
	return a + b, nil
}

func checkedSub(a, b int64) (int64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

type noopMetrics struct{}

func (noopMetrics) RecordLedgerOperation(operation, outcome string) {}
func (noopMetrics) RecordBorrowLimitRejection()                     {}
