// Package units converts between integer token amounts and decimal strings.
package units

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimals of the native coin and of WETH.
const EtherDecimals = 18

// maxDigits is the number of decimal digits in 2^256-1.
const maxDigits = 78

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var (
	ErrMalformedAmount = errors.New("amount is not a decimal number")
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrTooPrecise      = errors.New("amount has more fractional digits than the token supports")
	ErrAmountTooLarge  = errors.New("amount does not fit in uint256")
)

// ParseUnits converts a decimal string such as "0.1" into base units. The
// result always fits in a uint256; the size is checked on the digits before
// any scaling, so "1e30000000" fails without being expanded.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, ErrMalformedAmount)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q: %w", s, ErrNegativeAmount)
	}
	if d.IsZero() {
		return new(big.Int), nil
	}

	// Trailing zeros do not count as precision ("1.500" with 2 decimals).
	coef := d.Coefficient().String()
	digits := strings.TrimRight(coef, "0")
	scale := int64(d.Exponent()) + int64(len(coef)-len(digits)) + int64(decimals)
	if scale < 0 {
		return nil, fmt.Errorf("invalid amount %q: %w", s, ErrTooPrecise)
	}
	if int64(len(digits))+scale > maxDigits {
		return nil, fmt.Errorf("invalid amount %q: %w", s, ErrAmountTooLarge)
	}

	v, _ := new(big.Int).SetString(digits, 10)
	v.Mul(v, new(big.Int).Exp(big.NewInt(10), big.NewInt(scale), nil))
	if v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("invalid amount %q: %w", s, ErrAmountTooLarge)
	}
	return v, nil
}

// ParseEther converts an ETH amount into wei.
func ParseEther(s string) (*big.Int, error) {
	return ParseUnits(s, EtherDecimals)
}

// FormatUnits renders base units with the given decimals. The result is
// exact and always carries at least one fractional digit ("1.0").
func FormatUnits(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(v, -int32(decimals)).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// FormatFixed renders base units rounded to places fractional digits, for
// tables where columns should line up.
func FormatFixed(v *big.Int, decimals uint8, places int32) string {
	if v == nil {
		v = new(big.Int)
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).StringFixed(places)
}

// Decimal converts base units to a decimal value.
func Decimal(v *big.Int, decimals uint8) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -int32(decimals))
}

// FormatEther renders wei as ETH.
func FormatEther(v *big.Int) string {
	return FormatUnits(v, EtherDecimals)
}

// ToFloat converts base units to a float64 for reporting. Precision loss is
// acceptable there; never feed the result back into a transaction.
func ToFloat(v *big.Int, decimals uint8) float64 {
	if v == nil {
		return 0
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).InexactFloat64()
}

// Pow10 returns 10^decimals, one whole token in base units.
func Pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}
