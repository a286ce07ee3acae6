package models

// LegacyDelegate is the combined delegate record of the previous storage
// layout: a full borrower snapshot stored next to the delegate's shares.
// BorrowerAddr is the key half; the snapshot may be stale.
type LegacyDelegate struct {
	BorrowerAddr string   `db:"borrower_addr" json:"-"`
	Borrower     Borrower `db:"borrower_snapshot" json:"borrower"`
	Addr         string   `db:"delegate_addr" json:"addr"`
	Shares       int64    `db:"shares" json:"shares"`
}
