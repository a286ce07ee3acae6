package models

// DelegateShare is the part of a borrower's shares borrowed through one delegate
type DelegateShare struct {
	Borrower string `db:"borrower_addr" json:"borrower"`
	Delegate string `db:"delegate_addr" json:"delegate"`
	Shares   int64  `db:"shares" json:"shares"`
}
