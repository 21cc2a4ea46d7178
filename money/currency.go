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

package money

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCurrency is returned for codes missing from the currency table.
var ErrUnknownCurrency = errors.New("unknown currency")

// Currency is an ISO 4217 code and the number of minor units it carries.
type Currency struct {
	Code       string `json:"code"`
	MinorUnits int32  `json:"minor_units"`
}

var currencies = map[string]Currency{
	"TRY": {Code: "TRY", MinorUnits: 2},
	"USD": {Code: "USD", MinorUnits: 2},
	"EUR": {Code: "EUR", MinorUnits: 2},
	"GBP": {Code: "GBP", MinorUnits: 2},
	"JPY": {Code: "JPY", MinorUnits: 0},
	"KWD": {Code: "KWD", MinorUnits: 3},
	"BHD": {Code: "BHD", MinorUnits: 3},
}

// LookupCurrency resolves a currency code, case-insensitively.
func LookupCurrency(code string) (Currency, error) {
	cur, ok := currencies[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Currency{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return cur, nil
}

// IsSupported reports whether code is in the currency table.
func IsSupported(code string) bool {
	_, err := LookupCurrency(code)
	return err == nil
}
