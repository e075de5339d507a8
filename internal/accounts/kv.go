package accounts

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// KV is the slice of a key-value transaction the account book needs. Get returns
// a nil value and a nil error for missing keys.
type KV interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
}

// Record is the persisted form of an account in a key-value store.
type Record struct {
	ID        AccountID `json:"id"`
	Type      string    `json:"type"`
	Balance   Balance   `json:"balance"`
	Endowed   bool      `json:"endowed,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KVBook keeps account records under the "account-" prefix of a key-value store.
type KVBook struct {
	kv    KV
	rules Rules
	now   func() time.Time
}

func NewKVBook(kv KV, rules Rules) *KVBook {
	return &KVBook{kv: kv, rules: rules, now: time.Now}
}

func accountKey(id AccountID) []byte {
	return []byte("account-" + string(id))
}

// Load returns the stored record or a zero record for unknown accounts.
func (b *KVBook) Load(id AccountID) (*Record, error) {
	raw, err := b.kv.Get(accountKey(id))
	if err != nil {
		return nil, errors.Wrapf(err, "load account %s", id)
	}
	if raw == nil {
		return &Record{ID: id, Type: AccountPlayer}, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrapf(err, "decode account %s", id)
	}
	return &rec, nil
}

func (b *KVBook) save(rec *Record) error {
	rec.UpdatedAt = b.now().UTC()
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return errors.Wrapf(b.kv.Put(accountKey(rec.ID), raw), "save account %s", rec.ID)
}

func (b *KVBook) Balance(id AccountID) (Balance, error) {
	rec, err := b.Load(id)
	if err != nil {
		return 0, err
	}
	return rec.Balance, nil
}

// Transfer moves amount between two accounts under the book's existence rules.
func (b *KVBook) Transfer(from, to AccountID, amount Balance) error {
	if err := Check(from, to); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	src, err := b.Load(from)
	if err != nil {
		return err
	}
	dst, err := b.Load(to)
	if err != nil {
		return err
	}
	newFrom, newTo, err := b.rules.Apply(src.Balance, dst.Balance, amount)
	if err != nil {
		return err
	}
	src.Balance, dst.Balance = newFrom, newTo
	if err := b.save(src); err != nil {
		return err
	}
	return b.save(dst)
}

// Endow credits a genesis endowment once per account and reports whether it applied.
func (b *KVBook) Endow(id AccountID, accountType string, amount Balance) (bool, error) {
	if id == "" {
		return false, ErrEmptyAccount
	}
	rec, err := b.Load(id)
	if err != nil {
		return false, err
	}
	if rec.Endowed {
		return false, nil
	}
	newBal, ok := rec.Balance.Add(amount)
	if !ok {
		return false, ErrBalanceOverflow
	}
	rec.Type = accountType
	rec.Balance = newBal
	rec.Endowed = true
	return true, b.save(rec)
}
