// Package kvstore is the embedded LevelDB storage backend. Every unit of
// work runs inside one exclusive leveldb.Transaction.
package kvstore

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// DB wraps a LevelDB handle
type DB struct {
	*leveldb.DB
	path string
}

// Open opens or creates the database directory at path
func Open(path string) (*DB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		ErrorIfMissing: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}

	log.WithField("path", path).Info("Opened LevelDB store")
	return &DB{DB: db, path: path}, nil
}

// OpenMemory opens a database held entirely in memory
func OpenMemory() (*DB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory leveldb: %w", err)
	}
	return &DB{DB: db, path: ":memory:"}, nil
}

// Close closes the database
func (db *DB) Close() {
	if db.DB != nil {
		if err := db.DB.Close(); err != nil {
			log.WithError(err).Warn("Failed to close LevelDB store")
			return
		}
		log.WithField("path", db.path).Debug("Closed LevelDB store")
	}
}

// dataAccess is the read/write surface shared by *leveldb.DB and *leveldb.Transaction
type dataAccess interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Has(key []byte, ro *opt.ReadOptions) (bool, error)
	Put(key, value []byte, wo *opt.WriteOptions) error
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

// ErrReadOnly is returned by writes inside a read-only unit of work
var ErrReadOnly = errors.New("leveldb: write in read-only transaction")

// readOnlyAccess serves reads from a snapshot and refuses writes
type readOnlyAccess struct {
	*leveldb.Snapshot
}

func (readOnlyAccess) Put(key, value []byte, wo *opt.WriteOptions) error {
	return ErrReadOnly
}

// openTransaction waits for the exclusive write transaction. When ctx ends
// first, the transaction is discarded as soon as it is granted.
func (db *DB) openTransaction(ctx context.Context) (*leveldb.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		tx  *leveldb.Transaction
		err error
	}
	opened := make(chan result, 1)
	go func() {
		tx, err := db.OpenTransaction()
		opened <- result{tx, err}
	}()

	select {
	case r := <-opened:
		return r.tx, r.err
	case <-ctx.Done():
		go func() {
			if r := <-opened; r.tx != nil {
				r.tx.Discard()
			}
		}()
		return nil, ctx.Err()
	}
}
