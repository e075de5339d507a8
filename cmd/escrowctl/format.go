package main

import (
	"fmt"
	"math/big"

	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"
)

// formatAmount renders base units with the given number of decimal places.
func formatAmount(units uint64, decimals int32) string {
	d := decimal.NewFromBigInt(new(big.Int).SetUint64(units), -decimals)
	return d.StringFixed(decimals)
}

// parseAmount converts a decimal string into base units. Fractions finer than
// one base unit are rejected.
func parseAmount(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if d.Sign() < 0 {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	units := d.Shift(decimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	n := units.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("amount %q is too large", s)
	}
	return n.Uint64(), nil
}

func renderTable(header []string, rows [][]string) error {
	data := append(pterm.TableData{header}, rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
