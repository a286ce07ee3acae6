package pool

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharePool_Ownership(t *testing.T) {
	testCases := []struct {
		name     string
		pool     SharePool
		shares   int64
		expected int64
	}{
		{"empty pool is one to one", SharePool{}, 750, 750},
		{"even split", SharePool{Size: 2000, Shares: 1000}, 500, 1000},
		{"floors fractional value", SharePool{Size: 10, Shares: 3}, 1, 3},
		{"zero shares", SharePool{Size: 2000, Shares: 1000}, 0, 0},
		{"large product does not overflow", SharePool{Size: math.MaxInt64, Shares: math.MaxInt64}, math.MaxInt64, math.MaxInt64},
		{"saturates", SharePool{Size: math.MaxInt64, Shares: 1}, 2, math.MaxInt64},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.pool.Ownership(tc.shares))
		})
	}
}

func TestSharePool_OwnershipIsMonotonic(t *testing.T) {
	p := SharePool{Size: 7, Shares: 13}

	prev := p.Ownership(0)
	for s := int64(1); s < 500; s++ {
		cur := p.Ownership(s)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestNewSharePool(t *testing.T) {
	p, err := NewSharePool(100, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(200), p.Ownership(100))

	_, err = NewSharePool(-1, 50)
	assert.Error(t, err)
}
