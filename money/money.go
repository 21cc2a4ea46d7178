/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package money provides an exact, currency-tagged amount type. Amounts are
// held as integer minor units so arithmetic never touches floating point.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrCurrencyMismatch is returned when two amounts of different currencies are combined.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrOverflow is returned when an operation would not fit in int64 minor units.
	ErrOverflow = errors.New("amount overflow")
	// ErrInvalidAmount is returned when a decimal string cannot be parsed.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Money is an immutable amount in the minor units of its currency. The amount
// stays within ±math.MaxInt64, so Negate is always exact.
type Money struct {
	amount   int64
	currency Currency
}

// New builds a Money value from minor units. math.MinInt64 has no negation
// and is rejected with ErrOverflow.
func New(minor int64, code string) (Money, error) {
	cur, err := LookupCurrency(code)
	if err != nil {
		return Money{}, err
	}
	if minor == math.MinInt64 {
		return Money{}, ErrOverflow
	}
	return Money{amount: minor, currency: cur}, nil
}

// MustNew is New for constants and tests. It panics on an unknown currency.
func MustNew(minor int64, code string) Money {
	m, err := New(minor, code)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the given currency.
func Zero(code string) (Money, error) {
	return New(0, code)
}

// Parse reads a decimal string such as "125.50" and rounds it to the currency's
// minor units using banker's rounding.
func Parse(value, code string) (Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	return FromDecimal(d, code)
}

// FromDecimal converts a decimal amount in major units into Money.
func FromDecimal(d decimal.Decimal, code string) (Money, error) {
	cur, err := LookupCurrency(code)
	if err != nil {
		return Money{}, err
	}
	minor := d.RoundBank(cur.MinorUnits).Shift(cur.MinorUnits)
	if !minor.IsInteger() || minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || !minor.GreaterThan(decimal.NewFromInt(math.MinInt64)) {
		return Money{}, ErrOverflow
	}
	return Money{amount: minor.IntPart(), currency: cur}, nil
}

// Amount returns the value in minor units.
func (m Money) Amount() int64 { return m.amount }

// Currency returns the currency of the amount.
func (m Money) Currency() Currency { return m.currency }

// CurrencyCode returns the ISO 4217 code of the amount.
func (m Money) CurrencyCode() string { return m.currency.Code }

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.amount, -m.currency.MinorUnits)
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(m.currency.MinorUnits), m.currency.Code)
}

func (m Money) sameCurrency(other Money) bool {
	return m.currency.Code == other.currency.Code
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if !m.sameCurrency(other) {
		return Money{}, ErrCurrencyMismatch
	}
	sum := m.amount + other.amount
	if (other.amount > 0 && sum < m.amount) || (other.amount < 0 && sum > m.amount) || sum == math.MinInt64 {
		return Money{}, ErrOverflow
	}
	return Money{amount: sum, currency: m.currency}, nil
}

// Subtract returns m - other.
func (m Money) Subtract(other Money) (Money, error) {
	return m.Add(other.Negate())
}

// Negate returns -m.
func (m Money) Negate() Money {
	return Money{amount: -m.amount, currency: m.currency}
}

// Compare returns -1, 0 or 1 when m is less than, equal to or greater than other.
func (m Money) Compare(other Money) (int, error) {
	if !m.sameCurrency(other) {
		return 0, ErrCurrencyMismatch
	}
	switch {
	case m.amount < other.amount:
		return -1, nil
	case m.amount > other.amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// LessThan reports whether m < other. It is false for mismatched currencies.
func (m Money) LessThan(other Money) bool {
	c, err := m.Compare(other)
	return err == nil && c < 0
}

// Equals reports whether both amount and currency match.
func (m Money) Equals(other Money) bool {
	return m.sameCurrency(other) && m.amount == other.amount
}

func (m Money) IsZero() bool     { return m.amount == 0 }
func (m Money) IsNegative() bool { return m.amount < 0 }
func (m Money) IsPositive() bool { return m.amount > 0 }

// Abs returns the absolute value of m.
func (m Money) Abs() Money {
	if m.amount < 0 {
		return m.Negate()
	}
	return m
}

type moneyJSON struct {
	Amount     string `json:"amount"`
	MinorUnits int64  `json:"minor_units"`
	Currency   string `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{
		Amount:     m.Decimal().StringFixed(m.currency.MinorUnits),
		MinorUnits: m.amount,
		Currency:   m.currency.Code,
	})
}

// UnmarshalJSON accepts the form produced by MarshalJSON. When minor_units is
// absent the decimal amount is parsed instead.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount     string `json:"amount"`
		MinorUnits *int64 `json:"minor_units"`
		Currency   string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.MinorUnits != nil {
		parsed, err := New(*raw.MinorUnits, raw.Currency)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}
	parsed, err := Parse(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
