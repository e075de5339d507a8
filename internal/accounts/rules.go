package accounts

import (
	"github.com/pkg/errors"
)

// AccountID identifies a ledger account.
type AccountID string

func (id AccountID) String() string { return string(id) }

// account types
const (
	AccountCustody  = "custody"
	AccountPlayer   = "player"
	AccountTreasury = "treasury"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBelowExistential  = errors.New("destination balance would stay below the existential deposit")
	ErrBalanceOverflow   = errors.New("balance overflow")
	ErrSameAccount       = errors.New("source and destination are the same account")
	ErrEmptyAccount      = errors.New("empty account id")
)

// Rules is the existence requirement applied to every transfer. Sources are kept
// alive: a debit may never leave them below ExistentialDeposit.
type Rules struct {
	ExistentialDeposit Balance
}

// Apply validates a transfer of amount between two balances and returns the new
// balances. It never mutates anything, so a failure has no side effects.
func (r Rules) Apply(from, to, amount Balance) (Balance, Balance, error) {
	newFrom, ok := from.Sub(amount)
	if !ok || newFrom < r.ExistentialDeposit {
		return from, to, ErrInsufficientFunds
	}
	newTo, ok := to.Add(amount)
	if !ok {
		return from, to, ErrBalanceOverflow
	}
	if newTo < r.ExistentialDeposit {
		return from, to, ErrBelowExistential
	}
	return newFrom, newTo, nil
}

// Check rejects structurally invalid transfers before any balance is loaded.
func Check(from, to AccountID) error {
	if from == "" || to == "" {
		return ErrEmptyAccount
	}
	if from == to {
		return ErrSameAccount
	}
	return nil
}
