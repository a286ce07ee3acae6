package models

// BorrowerAdjustment records how the legacy migration rewrote one borrower
type BorrowerAdjustment struct {
	Addr           string `json:"addr"`
	PreviousShares int64  `json:"previous_shares"`
	NewShares      int64  `json:"new_shares"`
}

// Discrepancy reports whether the stored total differed from the delegate total
func (a BorrowerAdjustment) Discrepancy() bool {
	return a.PreviousShares != a.NewShares
}

// MigrationResult summarises a legacy delegate migration run
type MigrationResult struct {
	DelegatesCopied int                  `json:"delegates_copied"`
	Borrowers       []BorrowerAdjustment `json:"borrowers"`
}

// Discrepancies counts the borrowers whose stored total was rewritten to a different value
func (r *MigrationResult) Discrepancies() int {
	count := 0
	for _, b := range r.Borrowers {
		if b.Discrepancy() {
			count++
		}
	}
	return count
}
