package accounts

import (
	"database/sql"
	"log"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// reference types recorded in account_transfers
const (
	RefGame     = "GAME"
	RefWithdraw = "WITHDRAW"
	RefGenesis  = "GENESIS"
)

// EnsureAccount creates the account row if it is missing and leaves existing rows untouched.
func EnsureAccount(tx *sqlx.Tx, id AccountID, accountType string) error {
	if tx == nil {
		return errors.New("tx is nil")
	}
	_, err := tx.Exec(`INSERT INTO accounts (id, account_type, balance, created_at, updated_at) VALUES ($1, $2, 0, NOW(), NOW()) ON CONFLICT (id) DO NOTHING`, string(id), accountType)
	return errors.Wrapf(err, "ensure account %s", id)
}

// GetBalance returns the balance of an account; unknown accounts hold nothing.
func GetBalance(q sqlx.Queryer, id AccountID) (Balance, error) {
	var b Balance
	err := sqlx.Get(q, &b, `SELECT balance FROM accounts WHERE id=$1`, string(id))
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "load balance of %s", id)
	}
	return b, nil
}

// Transfer performs a single debit/credit between accounts within an existing tx.
// It selects both accounts FOR UPDATE in id order, applies the existence rules,
// updates balances and inserts an account_transfers row.
func Transfer(tx *sqlx.Tx, rules Rules, from, to AccountID, amount Balance, referenceType string, referenceID sql.NullInt64, description string) error {
	if tx == nil {
		return errors.New("tx is nil")
	}
	if err := Check(from, to); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	if err := EnsureAccount(tx, to, AccountPlayer); err != nil {
		return err
	}

	// Lock both accounts
	var rows []struct {
		ID      string  `db:"id"`
		Balance Balance `db:"balance"`
	}
	query := `SELECT id, balance FROM accounts WHERE id IN ($1,$2) ORDER BY id FOR UPDATE`
	if err := tx.Select(&rows, query, string(from), string(to)); err != nil {
		return errors.Wrap(err, "lock accounts")
	}

	var fromBal, toBal Balance
	var fromFound bool
	for i := range rows {
		switch AccountID(rows[i].ID) {
		case from:
			fromBal = rows[i].Balance
			fromFound = true
		case to:
			toBal = rows[i].Balance
		}
	}
	if !fromFound {
		return ErrInsufficientFunds
	}

	newFrom, newTo, err := rules.Apply(fromBal, toBal, amount)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE accounts SET balance=$1, updated_at=NOW() WHERE id=$2`, newFrom, string(from)); err != nil {
		return errors.Wrap(err, "debit")
	}
	if _, err := tx.Exec(`UPDATE accounts SET balance=$1, updated_at=NOW() WHERE id=$2`, newTo, string(to)); err != nil {
		return errors.Wrap(err, "credit")
	}

	if _, err := tx.Exec(`INSERT INTO account_transfers (debit_account_id, credit_account_id, amount, reference_type, reference_id, description, created_at) VALUES ($1,$2,$3,$4,$5,$6,NOW())`, string(from), string(to), amount, referenceType, referenceID, description); err != nil {
		return errors.Wrap(err, "record transfer")
	}

	log.Printf("[ACCT] Transfer completed: debit=%s credit=%s amount=%s ref_type=%s ref_id=%v desc=%s", from, to, amount, referenceType, referenceID, description)
	return nil
}

// Endow credits a genesis endowment exactly once per account. It reports whether
// the credit was applied.
func Endow(tx *sqlx.Tx, id AccountID, accountType string, amount Balance) (bool, error) {
	if id == "" {
		return false, ErrEmptyAccount
	}
	if err := EnsureAccount(tx, id, accountType); err != nil {
		return false, err
	}

	var cnt int
	if err := tx.Get(&cnt, `SELECT COUNT(*) FROM account_transfers WHERE credit_account_id=$1 AND reference_type=$2`, string(id), RefGenesis); err != nil {
		return false, errors.Wrap(err, "check genesis")
	}
	if cnt > 0 {
		return false, nil
	}

	var bal Balance
	if err := tx.Get(&bal, `SELECT balance FROM accounts WHERE id=$1 FOR UPDATE`, string(id)); err != nil {
		return false, errors.Wrap(err, "lock account")
	}
	newBal, ok := bal.Add(amount)
	if !ok {
		return false, ErrBalanceOverflow
	}
	if _, err := tx.Exec(`UPDATE accounts SET balance=$1, updated_at=NOW() WHERE id=$2`, newBal, string(id)); err != nil {
		return false, errors.Wrap(err, "credit")
	}
	if _, err := tx.Exec(`INSERT INTO account_transfers (debit_account_id, credit_account_id, amount, reference_type, description, created_at) VALUES (NULL,$1,$2,$3,$4,NOW())`, string(id), amount, RefGenesis, "Genesis endowment"); err != nil {
		return false, errors.Wrap(err, "record endowment")
	}
	log.Printf("[ACCT] Genesis endowment: account=%s amount=%s", id, amount)
	return true, nil
}
