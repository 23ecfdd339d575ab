// Package ledger defines the balance account and transaction records used by
// the in-process currency ledger.
package ledger

import "time"

// Account holds the balance for one user, denominated in the smallest unit of
// the host currency.
type Account struct {
	UserID    string
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction types.
const (
	TypeWithdraw = "withdraw"
	TypeDeposit  = "deposit"
)

// Transaction is one ledger movement, kept for auditing.
type Transaction struct {
	ID        string
	UserID    string
	Type      string
	Amount    int64
	Note      string
	CreatedAt time.Time
}
