// Package units converts between integer wei amounts, which are the only form
// ever sent to the ledger, and human-decimal ether used at the display edge.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/chainauction/internal/domain"
)

// EtherDecimals is the number of decimal places between wei and ether.
const EtherDecimals = 18

// maxBits is the width of a ledger amount (uint256).
const maxBits = 256

// ParseEther converts a decimal ether string such as "1.5" into wei. Amounts
// with more precision than one wei, negative amounts and malformed input are
// rejected with domain.ErrInvalidAmount.
func ParseEther(s string) (*big.Int, error) {
	return ParseUnits(s, EtherDecimals)
}

// ParseUnits converts a plain decimal string into the smallest unit of a
// currency with the given number of decimals. Exponent notation is rejected,
// as is any result wider than uint256.
func ParseUnits(s string, decimals int32) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("units: %w: empty amount", domain.ErrInvalidAmount)
	}
	if strings.ContainsAny(s, "eE") {
		return nil, fmt.Errorf("units: %w: exponent notation in %q", domain.ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("units: %w: %q", domain.ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("units: %w: negative amount %q", domain.ErrInvalidAmount, s)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("units: %w: %q exceeds %d decimals", domain.ErrInvalidAmount, s, decimals)
	}
	out := scaled.BigInt()
	if out.BitLen() > maxBits {
		return nil, fmt.Errorf("units: %w: %q does not fit in %d bits", domain.ErrInvalidAmount, s, maxBits)
	}
	return out, nil
}

// FormatEther renders a wei amount as decimal ether without trailing zeros.
// A nil amount renders as "0".
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}

// FormatUnits renders a smallest-unit amount with the given number of decimals.
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}
