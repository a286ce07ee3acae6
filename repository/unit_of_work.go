package repository

import (
	"context"
	"errors"
	"fmt"

	"borrowledger/database"
	"borrowledger/events"
	"borrowledger/service"

	"github.com/jackc/pgx/v5"
	log "github.com/sirupsen/logrus"
)

// unitOfWork implements the UnitOfWork interface
type unitOfWork struct {
	db                 *database.DB
	tx                 pgx.Tx
	ctx                context.Context
	publisher          *events.TransactionalPublisher
	borrowerRepo       service.BorrowerRepository
	delegateShareRepo  service.DelegateShareRepository
	legacyDelegateRepo service.LegacyDelegateRepository
}

// NewUnitOfWorkFactory creates a new UnitOfWork factory
func NewUnitOfWorkFactory(db *database.DB, publisher events.Publisher) service.UnitOfWorkFactory {
	return &unitOfWorkFactory{
		db:        db,
		publisher: publisher,
	}
}

type unitOfWorkFactory struct {
	db        *database.DB
	publisher events.Publisher
}

func (f *unitOfWorkFactory) Create() service.UnitOfWork {
	return &unitOfWork{
		db:        f.db,
		publisher: events.NewTransactionalPublisher(f.publisher),
	}
}

// Begin starts a new transaction
func (u *unitOfWork) Begin(ctx context.Context) error {
	return u.begin(ctx, pgx.TxOptions{})
}

// BeginReadOnly starts a READ ONLY transaction; the server rejects any write in it
func (u *unitOfWork) BeginReadOnly(ctx context.Context) error {
	return u.begin(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
}

func (u *unitOfWork) begin(ctx context.Context, opts pgx.TxOptions) error {
	if u.tx != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.tx = tx
	u.ctx = ctx

	// Create repositories with the transaction
	u.borrowerRepo = newBorrowerRepositoryWithTx(tx)
	u.delegateShareRepo = newDelegateShareRepositoryWithTx(tx)
	u.legacyDelegateRepo = newLegacyDelegateRepositoryWithTx(tx)

	return nil
}

// Commit commits the transaction
func (u *unitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	err := u.tx.Commit(u.ctx)
	if err != nil {
		u.tx = nil
		u.publisher.Discard()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	u.tx = nil

	// Flush pending events after successful commit
	return u.publisher.Flush(u.ctx)
}

// Rollback rolls back the transaction
func (u *unitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Nothing to rollback
	}

	// The caller's context may already be cancelled; rollback must still reach the server
	err := u.tx.Rollback(context.WithoutCancel(u.ctx))
	u.tx = nil

	// Discard pending events on rollback
	u.publisher.Discard()

	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		log.WithError(err).Warn("Failed to roll back transaction")
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}

	return nil
}

// BorrowerRepository returns the borrower repository for this unit of work
func (u *unitOfWork) BorrowerRepository() service.BorrowerRepository {
	if u.borrowerRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.borrowerRepo
}

// DelegateShareRepository returns the delegate share repository for this unit of work
func (u *unitOfWork) DelegateShareRepository() service.DelegateShareRepository {
	if u.delegateShareRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.delegateShareRepo
}

// LegacyDelegateRepository returns the legacy delegate repository for this unit of work
func (u *unitOfWork) LegacyDelegateRepository() service.LegacyDelegateRepository {
	if u.legacyDelegateRepo == nil {
		panic("unit of work not started - call Begin() first")
	}
	return u.legacyDelegateRepo
}

// EventBus returns the transactional publisher for this unit of work
func (u *unitOfWork) EventBus() service.EventPublisher {
	return u.publisher
}
