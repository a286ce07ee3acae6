package repository

import (
	"context"
	"sync"
	"testing"

	"borrowledger/events"
	"borrowledger/models"
	"borrowledger/pool"
	"borrowledger/repository/testutil"
	"borrowledger/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturingPublisher) Publish(event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturingPublisher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func newPostgresLedger(t *testing.T) (service.LedgerService, *testutil.TestDatabase, *capturingPublisher) {
	testDB := testutil.SetupTestDatabase(t)
	publisher := &capturingPublisher{}
	svc := service.NewLedgerService(NewUnitOfWorkFactory(testDB.DB, publisher), &pool.SharePool{}, nil)
	return svc, testDB, publisher
}

func TestLedgerIntegration_BorrowAndDelegateScenario(t *testing.T) {
	svc, _, publisher := newPostgresLedger(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, "alice", 1000)
	require.NoError(t, err)

	alice, err := svc.Borrow(ctx, "alice", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), alice.Shares)

	_, err = svc.Borrow(ctx, "alice", 600)
	assert.ErrorIs(t, err, service.ErrBorrowLimitReached)

	alice, err = svc.DelegateBorrow(ctx, "alice", "bot", 300)
	require.NoError(t, err)
	assert.Equal(t, int64(800), alice.Shares)

	_, err = svc.DelegateBorrow(ctx, "alice", "bot", 201)
	assert.ErrorIs(t, err, service.ErrBorrowLimitReached)

	shares, err := svc.DelegateShares(ctx, "alice", "bot")
	require.NoError(t, err)
	assert.Equal(t, int64(300), shares, "failed delegate borrow must not keep its increment")

	residual, err := svc.DelegateRepay(ctx, "alice", "bot", 350)
	require.NoError(t, err)
	assert.Equal(t, int64(50), residual)

	alice, err = svc.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), alice.Shares)

	// set, borrow, delegate borrow, delegate repay
	assert.Equal(t, 4, publisher.count())
}

func TestLedgerIntegration_UnknownBorrowerDelegateBorrow(t *testing.T) {
	svc, testDB, _ := newPostgresLedger(t)
	ctx := context.Background()

	_, err := svc.DelegateBorrow(ctx, "ghost", "bot", 1)
	assert.ErrorIs(t, err, service.ErrUnauthorizedBorrower)

	entry, err := NewDelegateShareRepository(testDB.DB).Get(ctx, "ghost", "bot")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLedgerIntegration_Migration(t *testing.T) {
	svc, testDB, _ := newPostgresLedger(t)
	ctx := context.Background()

	alice := testutil.CreateTestBorrowerWithShares("alice", 1000, 999)
	require.NoError(t, svc.Save(ctx, alice))

	legacy := NewLegacyDelegateRepository(testDB.DB)
	require.NoError(t, legacy.Insert(ctx, testutil.CreateTestLegacyDelegate(alice, "bot", 300)))
	require.NoError(t, legacy.Insert(ctx, testutil.CreateTestLegacyDelegate(alice, "carol", 200)))

	result, err := svc.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, result.DelegatesCopied)
	assert.Equal(t, 1, result.Discrepancies())

	loaded, err := svc.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(500), loaded.Shares)

	entries, err := svc.ListDelegates(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(300), entries[0].Shares)
	assert.Equal(t, int64(200), entries[1].Shares)

	t.Run("missing borrower aborts everything", func(t *testing.T) {
		ghost := testutil.CreateTestBorrower("ghost", 1)
		require.NoError(t, legacy.Insert(ctx, testutil.CreateTestLegacyDelegate(ghost, "bot", 1)))

		_, err := svc.Migrate(ctx)
		assert.ErrorIs(t, err, service.ErrBorrowerNotFound)

		shares, err := svc.DelegateShares(ctx, "ghost", "bot")
		require.NoError(t, err)
		assert.Zero(t, shares)
	})
}

func TestLedgerIntegration_ConcurrentBorrowsRespectLimit(t *testing.T) {
	svc, _, _ := newPostgresLedger(t)
	ctx := context.Background()

	_, err := svc.Set(ctx, "alice", 1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(delegated bool) {
			defer wg.Done()
			var err error
			if delegated {
				_, err = svc.DelegateBorrow(ctx, "alice", "bot", 100)
			} else {
				_, err = svc.Borrow(ctx, "alice", 100)
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i%2 == 0)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	alice, err := svc.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), alice.Shares)
}

func TestUnitOfWork_ReadOnlyRejectsWrites(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)
	factory := NewUnitOfWorkFactory(testDB.DB, nil)
	ctx := context.Background()

	uow := factory.Create()
	require.NoError(t, uow.BeginReadOnly(ctx))
	defer uow.Rollback()

	borrower, err := uow.BorrowerRepository().GetByAddr(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, borrower)

	err = uow.BorrowerRepository().Save(ctx, &models.Borrower{Addr: "alice", Limit: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}
