package repository

import (
	"context"
	"fmt"
	"testing"

	"borrowledger/repository/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBorrowerRepository_CreateAndGet(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	repo := NewBorrowerRepository(testDB.DB)
	ctx := context.Background()

	t.Run("no borrower found", func(t *testing.T) {
		borrower, err := repo.GetByAddr(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, borrower)
	})

	t.Run("create inserts once", func(t *testing.T) {
		created, err := repo.Create(ctx, testutil.CreateTestBorrower("alice", 1000))
		require.NoError(t, err)
		assert.True(t, created)

		created, err = repo.Create(ctx, testutil.CreateTestBorrower("alice", 1))
		require.NoError(t, err)
		assert.False(t, created)

		borrower, err := repo.GetByAddr(ctx, "alice")
		require.NoError(t, err)
		require.NotNil(t, borrower)
		assert.Equal(t, int64(1000), borrower.Limit)
		assert.Zero(t, borrower.Shares)
		assert.False(t, borrower.CreatedAt.IsZero())
	})

	t.Run("save upserts", func(t *testing.T) {
		borrower := testutil.CreateTestBorrowerWithShares("alice", 2000, 750)
		require.NoError(t, repo.Save(ctx, borrower))
		assert.False(t, borrower.UpdatedAt.IsZero())

		stored, err := repo.GetByAddr(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(2000), stored.Limit)
		assert.Equal(t, int64(750), stored.Shares)

		require.NoError(t, repo.Save(ctx, testutil.CreateTestBorrowerWithShares("bob", 10, 0)))
		bob, err := repo.GetByAddr(ctx, "bob")
		require.NoError(t, err)
		require.NotNil(t, bob)
	})

	t.Run("negative shares violate the schema", func(t *testing.T) {
		err := repo.Save(ctx, testutil.CreateTestBorrowerWithShares("carol", 10, -1))
		assert.Error(t, err)
	})
}

func TestBorrowerRepository_ListUsesByteOrder(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	repo := NewBorrowerRepository(testDB.DB)
	ctx := context.Background()

	// Byte order puts upper case before lower case regardless of locale
	for _, addr := range []string{"bob", "Zed", "alice", "Alice", "carol"} {
		require.NoError(t, repo.Save(ctx, testutil.CreateTestBorrower(addr, 1)))
	}

	page, err := repo.List(ctx, 10, "")
	require.NoError(t, err)
	var addrs []string
	for _, b := range page {
		addrs = append(addrs, b.Addr)
	}
	assert.Equal(t, []string{"Alice", "Zed", "alice", "bob", "carol"}, addrs)

	page, err = repo.List(ctx, 2, "alice")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "bob", page[0].Addr)
	assert.Equal(t, "carol", page[1].Addr)

	page, err = repo.List(ctx, 10, "carol")
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestBorrowerRepository_ListPaginatesWithoutGaps(t *testing.T) {
	testDB := testutil.SetupTestDatabase(t)

	repo := NewBorrowerRepository(testDB.DB)
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		require.NoError(t, repo.Save(ctx, testutil.CreateTestBorrower(fmt.Sprintf("addr-%03d", i), 1)))
	}

	seen := map[string]bool{}
	startAfter := ""
	for {
		page, err := repo.List(ctx, 20, startAfter)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, b := range page {
			assert.False(t, seen[b.Addr], "duplicate %s", b.Addr)
			seen[b.Addr] = true
		}
		startAfter = page[len(page)-1].Addr
	}
	assert.Len(t, seen, 45)
}
