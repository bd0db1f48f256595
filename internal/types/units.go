package types

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultDecimals is the number of fractional digits between the display unit
// and the smallest unit amounts are stored in.
const DefaultDecimals int32 = 9

// MaxAmount is the largest price, balance or attached value the node
// accepts. State is stored in signed 64-bit columns.
const MaxAmount uint64 = math.MaxInt64

// ParseAmount converts a display amount such as "0.025" into smallest units.
func ParseAmount(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("invalid amount %q: negative", s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("invalid amount %q: more than %d decimal places", s, decimals)
	}
	n := scaled.BigInt()
	if !n.IsUint64() || n.Uint64() > MaxAmount {
		return 0, fmt.Errorf("invalid amount %q: out of range", s)
	}
	return n.Uint64(), nil
}

// FormatAmount renders smallest units as a display amount.
func FormatAmount(v uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals).String()
}
