package accounts

import (
	"database/sql/driver"
	"fmt"
	"math"
	"math/bits"
	"strconv"
)

// Balance is an amount of the ledger currency in its smallest unit.
// It is persisted as NUMERIC(20,0) so the full uint64 range survives a round trip.
type Balance uint64

// MaxBalance is the largest representable amount.
const MaxBalance = Balance(math.MaxUint64)

// Add returns b+o and false when the sum overflows.
func (b Balance) Add(o Balance) (Balance, bool) {
	sum, carry := bits.Add64(uint64(b), uint64(o), 0)
	return Balance(sum), carry == 0
}

// Sub returns b-o and false when o is larger than b.
func (b Balance) Sub(o Balance) (Balance, bool) {
	diff, borrow := bits.Sub64(uint64(b), uint64(o), 0)
	return Balance(diff), borrow == 0
}

// Mul returns b*n and false when the product overflows.
func (b Balance) Mul(n uint64) (Balance, bool) {
	hi, lo := bits.Mul64(uint64(b), n)
	return Balance(lo), hi == 0
}

// SaturatingAdd clamps the sum at MaxBalance. A saturated amount can never be
// debited, so callers get an insufficient-funds failure instead of a wrap.
func (b Balance) SaturatingAdd(o Balance) Balance {
	if sum, ok := b.Add(o); ok {
		return sum
	}
	return MaxBalance
}

func (b Balance) IsZero() bool { return b == 0 }

func (b Balance) String() string { return strconv.FormatUint(uint64(b), 10) }

// Value implements driver.Valuer. Amounts travel as decimal text because
// database/sql refuses uint64 values with the high bit set.
func (b Balance) Value() (driver.Value, error) {
	return b.String(), nil
}

// Scan implements sql.Scanner for NUMERIC, BIGINT and text columns.
func (b *Balance) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*b = 0
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("negative balance %d", v)
		}
		*b = Balance(v)
		return nil
	case []byte:
		return b.parse(string(v))
	case string:
		return b.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into Balance", src)
	}
}

func (b *Balance) parse(s string) error {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid balance %q: %w", s, err)
	}
	*b = Balance(n)
	return nil
}

// ParseBalance parses a decimal amount in the smallest unit.
func ParseBalance(s string) (Balance, error) {
	var b Balance
	if err := b.parse(s); err != nil {
		return 0, err
	}
	return b, nil
}
