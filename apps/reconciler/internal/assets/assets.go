package assets

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Fixed-point scales of the values the pipeline moves across the chain boundary.
const (
	ProtocolDecimals   = 18 // shield token, NAV, total managed value
	PositionDecimals   = 30 // position collateral values reported by the position reader
	StablecoinDecimals = 6  // idle stablecoin reserves
)

// BasisPoints is the sum every basket's target weights must reach.
const BasisPoints = 10000

// One is 1.0 at protocol scale.
var One = Pow10(ProtocolDecimals)

// Pow10 returns 10^n as a fresh big.Int.
func Pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Rescale converts a fixed-point integer between scales. Shrinking truncates toward zero.
func Rescale(amount *big.Int, from, to int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	switch {
	case from == to:
		return new(big.Int).Set(amount)
	case from > to:
		return new(big.Int).Quo(amount, Pow10(from-to))
	default:
		return new(big.Int).Mul(amount, Pow10(to-from))
	}
}

// ToProtocol normalises an amount with the given decimals to 18 decimals.
func ToProtocol(amount *big.Int, decimals int) *big.Int {
	return Rescale(amount, decimals, ProtocolDecimals)
}

// FormatAmount renders base units as a human readable decimal string.
func FormatAmount(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseAmount converts a decimal string into base units. More fractional digits than decimals is an error.
func ParseAmount(value string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid decimal amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("negative amount %q", value)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", value, decimals)
	}
	return scaled.BigInt(), nil
}
