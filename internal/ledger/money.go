package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnits converts a decimal amount string (e.g. "12.34") into an integer
// amount in the currency's minor unit (1234 for a 2-decimal currency).
// Amounts with more precision than the currency carries are rejected rather
// than silently rounded; monetary values never survive as floats past this
// boundary.
func MinorUnits(amount string, decimals int) (int64, error) {
	if decimals < 0 {
		return 0, fmt.Errorf("minor units: negative decimals %d", decimals)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("minor units: parsing %q: %w", amount, err)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("minor units: %q has more than %d decimal places", amount, decimals)
	}
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("minor units: %q overflows int64 at %d decimals", amount, decimals)
	}
	return scaled.IntPart(), nil
}
