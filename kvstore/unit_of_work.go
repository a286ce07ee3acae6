package kvstore

import (
	"context"
	"fmt"

	"borrowledger/events"
	"borrowledger/service"

	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
)

// unitOfWork implements service.UnitOfWork over one leveldb.Transaction, or
// over a snapshot when read-only
type unitOfWork struct {
	db                 *DB
	tx                 *leveldb.Transaction
	snap               *leveldb.Snapshot
	ctx                context.Context
	publisher          *events.TransactionalPublisher
	borrowerRepo       service.BorrowerRepository
	delegateShareRepo  service.DelegateShareRepository
	legacyDelegateRepo service.LegacyDelegateRepository
}

type unitOfWorkFactory struct {
	db        *DB
	publisher events.Publisher
}

// NewUnitOfWorkFactory creates a UnitOfWork factory for the LevelDB backend
func NewUnitOfWorkFactory(db *DB, publisher events.Publisher) service.UnitOfWorkFactory {
	return &unitOfWorkFactory{
		db:        db,
		publisher: publisher,
	}
}

func (f *unitOfWorkFactory) Create() service.UnitOfWork {
	return &unitOfWork{
		db:        f.db,
		publisher: events.NewTransactionalPublisher(f.publisher),
	}
}

// Begin opens an exclusive transaction. It waits for any transaction in
// flight and gives up when ctx is done.
func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil || u.snap != nil {
		return fmt.Errorf("transaction already started")
	}

	tx, err := u.db.openTransaction(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	u.tx = tx
	u.ctx = ctx
	u.bind(tx)

	log.Debug("Began LevelDB transaction")
	return nil
}

// BeginReadOnly reads from a snapshot and never waits for writers
func (u *unitOfWork) BeginReadOnly(ctx context.Context) error {
	if u.tx != nil || u.snap != nil {
		return fmt.Errorf("transaction already started")
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin read-only transaction: %w", err)
	}

	snap, err := u.db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("failed to begin read-only transaction: %w", err)
	}

	u.snap = snap
	u.ctx = ctx
	u.bind(readOnlyAccess{snap})
	return nil
}

func (u *unitOfWork) bind(da dataAccess) {
	u.borrowerRepo = newBorrowerStoreWithTx(da)
	u.delegateShareRepo = newDelegateShareStoreWithTx(da)
	u.legacyDelegateRepo = newLegacyDelegateStoreWithTx(da)
}

// Commit commits the transaction, then flushes staged events
func (u *unitOfWork) Commit() error {
	if u.snap != nil {
		u.snap.Release()
		u.snap = nil
		return u.publisher.Flush(u.ctx)
	}
	if u.tx == nil {
		return fmt.Errorf("no transaction to commit")
	}

	if err := u.tx.Commit(); err != nil {
		u.tx.Discard()
		u.tx = nil
		u.publisher.Discard()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	u.tx = nil

	return u.publisher.Flush(u.ctx)
}

// Rollback discards the transaction and its staged events
func (u *unitOfWork) Rollback() error {
	if u.snap != nil {
		u.snap.Release()
		u.snap = nil
		u.publisher.Discard()
		return nil
	}
	if u.tx == nil {
		return nil
	}

	u.tx.Discard()
	u.tx = nil
	u.publisher.Discard()

	log.Debug("Rolled back LevelDB transaction")
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

// EventBus returns the publisher that stages events until commit
func (u *unitOfWork) EventBus() service.EventPublisher {
	return u.publisher
}
