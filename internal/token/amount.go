// Package token holds the shared data model of the AgentEconomy core:
// fixed-point AGN amounts, ledger transactions, task records, and the
// typed errors every engine returns.
package token

import (
	"fmt"
	"math"
	"strconv"
)

// Amount is a quantity of AGN in fixed-point form with two decimal
// places, stored as int64 hundredths. All ledger arithmetic goes
// through this type so repeated splits never accumulate float drift.
type Amount int64

// Zero is the additive identity.
const Zero Amount = 0

// FromFloat converts a float token quantity to a fixed-point Amount,
// rounding half away from zero to the nearest hundredth.
func FromFloat(v float64) Amount {
	return Amount(math.Round(v * 100))
}

// FromUnits builds an Amount from whole tokens.
func FromUnits(units int64) Amount {
	return Amount(units * 100)
}

// Float returns the amount as a float64 token quantity.
func (a Amount) Float() float64 {
	return float64(a) / 100
}

// MulFrac multiplies the amount by a fraction, rounding half away from
// zero. Used for split percentages and decay weights.
func (a Amount) MulFrac(frac float64) Amount {
	return Amount(math.Round(float64(a) * frac))
}

// IsPositive reports whether the amount is strictly greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// String renders the amount with two decimals, e.g. "115.00".
func (a Amount) String() string {
	neg := ""
	v := int64(a)
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", neg, v/100, v%100)
}

// MarshalJSON encodes the amount as a plain decimal number ("115.00")
// to match the persisted ledger schema.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts any JSON number and rounds it to hundredths.
func (a *Amount) UnmarshalJSON(data []byte) error {
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = FromFloat(f)
	return nil
}
