package testutil

import (
	"borrowledger/models"
)

// CreateTestBorrower creates a borrower with the given limit and no shares
func CreateTestBorrower(addr string, limit int64) *models.Borrower {
	return &models.Borrower{
		Addr:  addr,
		Limit: limit,
	}
}

// CreateTestBorrowerWithShares creates a borrower with a specific share total
func CreateTestBorrowerWithShares(addr string, limit, shares int64) *models.Borrower {
	borrower := CreateTestBorrower(addr, limit)
	borrower.Shares = shares
	return borrower
}

// CreateTestLegacyDelegate creates a legacy record whose snapshot is the given borrower
func CreateTestLegacyDelegate(snapshot *models.Borrower, delegate string, shares int64) *models.LegacyDelegate {
	return &models.LegacyDelegate{
		BorrowerAddr: snapshot.Addr,
		Borrower:     *snapshot,
		Addr:         delegate,
		Shares:       shares,
	}
}
