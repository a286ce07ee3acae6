package service_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"borrowledger/events"
	"borrowledger/kvstore"
	"borrowledger/models"
	"borrowledger/pool"
	"borrowledger/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []events.Event
}

func (r *recordingPublisher) Publish(event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, event)
	return nil
}

func (r *recordingPublisher) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]events.EventType, 0, len(r.published))
	for _, e := range r.published {
		types = append(types, e.Type())
	}
	return types
}

type ledgerFixture struct {
	db        *kvstore.DB
	publisher *recordingPublisher
	svc       service.LedgerService
}

// newLedgerFixture wires the ledger service to an in-memory LevelDB store
// with ownership(x) = x
func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()

	db, err := kvstore.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(db.Close)

	publisher := &recordingPublisher{}
	valuation := &pool.SharePool{}

	return &ledgerFixture{
		db:        db,
		publisher: publisher,
		svc:       service.NewLedgerService(kvstore.NewUnitOfWorkFactory(db, publisher), valuation, nil),
	}
}

func TestLedger_AliceBorrowScenario(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.svc.Set(ctx, "alice", 1000)
	require.NoError(t, err)

	alice, err := f.svc.Borrow(ctx, "alice", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), alice.Shares)

	_, err = f.svc.Borrow(ctx, "alice", 600)
	var limitErr *service.BorrowLimitReachedError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, int64(1000), limitErr.Limit)

	alice, err = f.svc.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), alice.Shares)
	assert.Equal(t, int64(1000), alice.Limit)

	assert.Equal(t, []events.EventType{
		events.EventTypeBorrowerLimitSet,
		events.EventTypeSharesBorrowed,
	}, f.publisher.types(), "rejected borrow publishes nothing")
}

func TestLedger_AliceDelegateScenario(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.svc.Set(ctx, "alice", 1000)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, "alice", 500)
	require.NoError(t, err)

	alice, err := f.svc.DelegateBorrow(ctx, "alice", "bot", 300)
	require.NoError(t, err)
	assert.Equal(t, int64(800), alice.Shares)

	shares, err := f.svc.DelegateShares(ctx, "alice", "bot")
	require.NoError(t, err)
	assert.Equal(t, int64(300), shares)

	t.Run("failed delegate borrow rolls back the delegate increment", func(t *testing.T) {
		_, err := f.svc.DelegateBorrow(ctx, "alice", "bot", 201)
		assert.ErrorIs(t, err, service.ErrBorrowLimitReached)

		shares, err := f.svc.DelegateShares(ctx, "alice", "bot")
		require.NoError(t, err)
		assert.Equal(t, int64(300), shares)

		alice, err := f.svc.Load(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(800), alice.Shares)
	})

	t.Run("unknown borrower leaves no delegate entry", func(t *testing.T) {
		_, err := f.svc.DelegateBorrow(ctx, "mallory", "bot", 1)
		assert.ErrorIs(t, err, service.ErrUnauthorizedBorrower)

		shares, err := f.svc.DelegateShares(ctx, "mallory", "bot")
		require.NoError(t, err)
		assert.Zero(t, shares)
	})

	t.Run("breakdown lists delegates", func(t *testing.T) {
		entries, err := f.svc.ListDelegates(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []*models.DelegateShare{{Borrower: "alice", Delegate: "bot", Shares: 300}}, entries)
	})
}

func TestLedger_SetIsIdempotentAndPreservesShares(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	for i, id := range []string{"alice", "bob", "carol"} {
		limit := int64(1000 * (i + 1))
		borrower, err := f.svc.Set(ctx, id, limit)
		require.NoError(t, err)
		assert.Zero(t, borrower.Shares)
		assert.Equal(t, limit, borrower.Limit)

		_, err = f.svc.Borrow(ctx, id, 100)
		require.NoError(t, err)

		borrower, err = f.svc.Set(ctx, id, limit*2)
		require.NoError(t, err)
		assert.Equal(t, int64(100), borrower.Shares)
		assert.Equal(t, limit*2, borrower.Limit)

		again, err := f.svc.Set(ctx, id, limit*2)
		require.NoError(t, err)
		assert.Equal(t, borrower.Shares, again.Shares)
		assert.Equal(t, borrower.Limit, again.Limit)
	}
}

func TestLedger_UnknownBorrowerIsUnauthorized(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.svc.Load(ctx, "nobody")
	assert.ErrorIs(t, err, service.ErrUnauthorizedBorrower)

	_, err = f.svc.Borrow(ctx, "nobody", 1)
	assert.ErrorIs(t, err, service.ErrUnauthorizedBorrower)

	_, err = f.svc.Repay(ctx, "nobody", 1)
	assert.ErrorIs(t, err, service.ErrUnauthorizedBorrower)

	_, err = f.svc.DelegateRepay(ctx, "nobody", "bot", 1)
	assert.ErrorIs(t, err, service.ErrDelegateNotFound)
	assert.NotErrorIs(t, err, service.ErrUnauthorizedBorrower)
}

func TestLedger_BorrowRepayProperties(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	const limit = 5000
	_, err := f.svc.Set(ctx, "alice", limit)
	require.NoError(t, err)

	var shares int64
	for i := 0; i < 300; i++ {
		amount := rng.Int63n(1500)

		if rng.Intn(2) == 0 {
			borrower, err := f.svc.Borrow(ctx, "alice", amount)
			if shares+amount <= limit {
				require.NoError(t, err, "step %d", i)
				shares += amount
				assert.Equal(t, shares, borrower.Shares)
			} else {
				require.ErrorIs(t, err, service.ErrBorrowLimitReached, "step %d", i)
			}
		} else {
			residual, err := f.svc.Repay(ctx, "alice", amount)
			require.NoError(t, err, "step %d", i)
			assert.Equal(t, max(0, amount-shares), residual, "step %d", i)
			shares -= amount - residual
		}

		current, err := f.svc.Load(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, shares, current.Shares, "step %d", i)
		require.GreaterOrEqual(t, current.Shares, int64(0))
	}
}

func TestLedger_DelegateRoundTrip(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	_, err := f.svc.Set(ctx, "alice", 1_000_000)
	require.NoError(t, err)
	_, err = f.svc.Borrow(ctx, "alice", 1234)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		delegate := fmt.Sprintf("bot-%d", rng.Intn(5))
		amount := rng.Int63n(10_000)

		beforeDelegate, err := f.svc.DelegateShares(ctx, "alice", delegate)
		require.NoError(t, err)
		beforeBorrower, err := f.svc.Load(ctx, "alice")
		require.NoError(t, err)

		_, err = f.svc.DelegateBorrow(ctx, "alice", delegate, amount)
		require.NoError(t, err)
		residual, err := f.svc.DelegateRepay(ctx, "alice", delegate, amount)
		require.NoError(t, err)
		assert.Zero(t, residual)

		afterDelegate, err := f.svc.DelegateShares(ctx, "alice", delegate)
		require.NoError(t, err)
		afterBorrower, err := f.svc.Load(ctx, "alice")
		require.NoError(t, err)

		assert.Equal(t, beforeDelegate, afterDelegate)
		assert.Equal(t, beforeBorrower.Shares, afterBorrower.Shares)
	}
}

func TestLedger_DelegateRepayResidual(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.svc.Set(ctx, "alice", 1000)
	require.NoError(t, err)
	_, err = f.svc.DelegateBorrow(ctx, "alice", "bot", 300)
	require.NoError(t, err)

	residual, err := f.svc.DelegateRepay(ctx, "alice", "bot", 450)
	require.NoError(t, err)
	assert.Equal(t, int64(150), residual)

	shares, err := f.svc.DelegateShares(ctx, "alice", "bot")
	require.NoError(t, err)
	assert.Zero(t, shares)

	alice, err := f.svc.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, alice.Shares)

	// A zero entry still exists, so repaying again is not a not-found
	residual, err = f.svc.DelegateRepay(ctx, "alice", "bot", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), residual)
}

func TestLedger_ListBorrowersPagination(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	total := 237
	for i := 0; i < total; i++ {
		_, err := f.svc.Set(ctx, fmt.Sprintf("addr-%04d", (i*7919)%total), 10)
		require.NoError(t, err)
	}

	testCases := []struct {
		name     string
		pageSize int
		expected int
	}{
		{"default", 0, 100},
		{"small", 30, 30},
		{"capped", 1000, 100},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var seen []string
			startAfter := ""
			for {
				page, err := f.svc.ListBorrowers(ctx, tc.pageSize, startAfter)
				require.NoError(t, err)
				if len(page) == 0 {
					break
				}
				assert.LessOrEqual(t, len(page), tc.expected)
				for _, b := range page {
					if len(seen) > 0 {
						require.Less(t, seen[len(seen)-1], b.Addr, "identities must be strictly ascending")
					}
					seen = append(seen, b.Addr)
				}
				startAfter = page[len(page)-1].Addr
			}
			assert.Len(t, seen, total)
		})
	}
}

func TestLedger_NonUTF8IdentitiesAreRejected(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.svc.Set(ctx, "a\xff", 10)
	assert.ErrorIs(t, err, service.ErrInvalidAddress)
	_, err = f.svc.Set(ctx, "b", 10)
	require.NoError(t, err)
	_, err = f.svc.Set(ctx, "caf\u00e9", 10)
	require.NoError(t, err)

	_, err = f.svc.Load(ctx, "a\xff")
	assert.ErrorIs(t, err, service.ErrInvalidAddress)

	var seen []string
	startAfter := ""
	for i := 0; i < 10; i++ {
		page, err := f.svc.ListBorrowers(ctx, 1, startAfter)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		seen = append(seen, page[0].Addr)
		startAfter = page[0].Addr
	}
	assert.Equal(t, []string{"b", "caf\u00e9"}, seen)

	_, err = f.svc.ListBorrowers(ctx, 1, "a\xff")
	assert.ErrorIs(t, err, service.ErrInvalidAddress)
}

func TestLedger_MigrationScenario(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Save(ctx, &models.Borrower{Addr: "alice", Limit: 1000, Shares: 999}))

	legacy := kvstore.NewLegacyDelegateStore(f.db)
	snapshot := models.Borrower{Addr: "alice", Limit: 1000, Shares: 999}
	require.NoError(t, legacy.Put(ctx, &models.LegacyDelegate{BorrowerAddr: "alice", Borrower: snapshot, Addr: "bot", Shares: 300}))
	require.NoError(t, legacy.Put(ctx, &models.LegacyDelegate{BorrowerAddr: "alice", Borrower: snapshot, Addr: "carol", Shares: 200}))

	result, err := f.svc.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DelegatesCopied)
	assert.Equal(t, []models.BorrowerAdjustment{{Addr: "alice", PreviousShares: 999, NewShares: 500}}, result.Borrowers)
	assert.Equal(t, 1, result.Discrepancies())

	for delegate, expected := range map[string]int64{"bot": 300, "carol": 200} {
		shares, err := f.svc.DelegateShares(ctx, "alice", delegate)
		require.NoError(t, err)
		assert.Equal(t, expected, shares)
	}

	alice, err := f.svc.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), alice.Shares)

	t.Run("rerun recomputes the same totals", func(t *testing.T) {
		result, err := f.svc.Migrate(ctx)
		require.NoError(t, err)
		assert.Zero(t, result.Discrepancies())

		alice, err := f.svc.Load(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(500), alice.Shares)
	})
}

func TestLedger_MigrationMissingBorrowerAborts(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.Save(ctx, &models.Borrower{Addr: "alice", Limit: 1000, Shares: 7}))

	legacy := kvstore.NewLegacyDelegateStore(f.db)
	require.NoError(t, legacy.Put(ctx, &models.LegacyDelegate{BorrowerAddr: "alice", Addr: "bot", Shares: 300}))
	require.NoError(t, legacy.Put(ctx, &models.LegacyDelegate{BorrowerAddr: "ghost", Addr: "bot", Shares: 1}))

	_, err := f.svc.Migrate(ctx)
	assert.ErrorIs(t, err, service.ErrBorrowerNotFound)
	assert.NotErrorIs(t, err, service.ErrUnauthorizedBorrower)

	shares, err := f.svc.DelegateShares(ctx, "alice", "bot")
	require.NoError(t, err)
	assert.Zero(t, shares, "no delegate entry survives an aborted migration")

	alice, err := f.svc.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), alice.Shares)
}

func TestLedger_ConcurrentBorrowsRespectLimit(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.svc.Set(ctx, "alice", 1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Borrow(ctx, "alice", 100); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	alice, err := f.svc.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), alice.Shares)
}
