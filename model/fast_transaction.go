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

package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/corebank/money"
)

type SettlementStatus string

const (
	SettlementPending  SettlementStatus = "PENDING_SETTLEMENT"
	SettlementSettled  SettlementStatus = "SETTLED"
	SettlementRejected SettlementStatus = "REJECTED"
)

// FastTransaction is an outgoing instant transfer to an IBAN held at another
// bank. Only the local source account is debited; the counterparty side is
// handled by the settlement gateway.
type FastTransaction struct {
	FastTransactionID   string           `json:"fast_transaction_id"`
	TransactionID       string           `json:"transaction_id"`
	SourceIBAN          string           `json:"source_iban"`
	RecipientFullName   string           `json:"recipient_full_name"`
	RecipientShortName  string           `json:"recipient_short_name,omitempty"`
	RecipientIBAN       string           `json:"recipient_iban"`
	Amount              money.Money      `json:"amount"`
	SettlementStatus    SettlementStatus `json:"settlement_status"`
	SettlementReference string           `json:"settlement_reference,omitempty"`
	CreatedBy           string           `json:"created_by,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// NormalizeIBAN strips spaces and upper-cases an IBAN.
func NormalizeIBAN(iban string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(iban), " ", ""))
}

// ValidateIBAN performs a structural and mod-97 checksum validation.
func ValidateIBAN(iban string) error {
	iban = NormalizeIBAN(iban)
	if len(iban) < 15 || len(iban) > 34 {
		return fmt.Errorf("%w: iban length must be between 15 and 34", ErrInvalidRequest)
	}
	for i, r := range iban {
		switch {
		case i < 2 && (r < 'A' || r > 'Z'):
			return fmt.Errorf("%w: iban must start with a country code", ErrInvalidRequest)
		case i >= 2 && i < 4 && (r < '0' || r > '9'):
			return fmt.Errorf("%w: iban check digits must be numeric", ErrInvalidRequest)
		case (r < '0' || r > '9') && (r < 'A' || r > 'Z'):
			return fmt.Errorf("%w: iban contains invalid characters", ErrInvalidRequest)
		}
	}

	if mod97(iban[4:]+iban[:4]) != 1 {
		return fmt.Errorf("%w: iban checksum mismatch", ErrInvalidRequest)
	}
	return nil
}

// BuildIBAN derives the check digits for a country code and a numeric or
// alphanumeric BBAN and returns the complete IBAN.
func BuildIBAN(countryCode, bban string) string {
	countryCode = strings.ToUpper(countryCode)
	bban = NormalizeIBAN(bban)
	check := 98 - mod97(bban+countryCode+"00")
	return fmt.Sprintf("%s%02d%s", countryCode, check, bban)
}

func mod97(s string) int {
	remainder := 0
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			remainder = (remainder*100 + int(r-'A') + 10) % 97
			continue
		}
		remainder = (remainder*10 + int(r-'0')) % 97
	}
	return remainder
}
