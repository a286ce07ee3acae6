package models

import (
	"time"
)

// Borrower is an identity allowed to borrow from the pool up to Limit.
// Limit is expressed in pool valuation units; Shares covers direct and
// delegated borrowing.
type Borrower struct {
	Addr      string    `db:"addr" json:"addr"`
	Limit     int64     `db:"limit_value" json:"limit"`
	Shares    int64     `db:"shares" json:"shares"`
	CreatedAt time.Time `db:"created_at" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"-"`
}
