package api

import (
	appErr "bingo-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// ToMinorUnits converts a currency amount such as 12.50 into cents. Amounts
// with more than two fractional digits or a negative sign are rejected.
func ToMinorUnits(d decimal.Decimal) (int64, error) {
	if d.IsNegative() || !d.Equal(d.Truncate(2)) {
		return 0, appErr.ErrInvalidAmount
	}
	return d.Shift(2).IntPart(), nil
}
