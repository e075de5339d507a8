package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1500", formatAmount(1500, 0))
	assert.Equal(t, "15.00", formatAmount(1500, 2))
	assert.Equal(t, "0.001", formatAmount(1, 3))
	assert.Equal(t, "18446744073709551615", formatAmount(math.MaxUint64, 0))
}

func TestParseAmount(t *testing.T) {
	n, err := parseAmount("15.25", 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1525), n)

	n, err = parseAmount("100", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), n)

	for _, bad := range []string{"abc", "-1", "0.001", "18446744073709551616"} {
		_, err := parseAmount(bad, 2)
		assert.Error(t, err, bad)
	}
}
