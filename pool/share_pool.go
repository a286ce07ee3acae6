// Package pool provides a reference share pool valuation. Ownership of a
// share count is its pro-rata part of the pool's total size.
package pool

import (
	"fmt"
	"math"
	"math/big"
)

// SharePool values shares against a pool of Size units split into Shares shares
type SharePool struct {
	Size   int64
	Shares int64
}

// NewSharePool creates a pool valuation; both totals must be non-negative
func NewSharePool(size, shares int64) (*SharePool, error) {
	if size < 0 || shares < 0 {
		return nil, fmt.Errorf("pool totals must be non-negative (size=%d, shares=%d)", size, shares)
	}
	return &SharePool{Size: size, Shares: shares}, nil
}

// Ownership returns floor(shares * Size / Shares). An empty pool values
// shares one to one. Results saturate at math.MaxInt64.
func (p *SharePool) Ownership(shares int64) int64 {
	if p.Shares == 0 {
		return shares
	}

	value := new(big.Int).Mul(big.NewInt(shares), big.NewInt(p.Size))
	value.Quo(value, big.NewInt(p.Shares))

	if !value.IsInt64() {
		if value.Sign() < 0 {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return value.Int64()
}
