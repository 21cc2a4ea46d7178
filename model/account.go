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
	"time"

	"github.com/blnkfinance/corebank/money"
)

type AccountType string

const (
	AccountTypeSavings AccountType = "SAVINGS"
	AccountTypeDeposit AccountType = "DEPOSIT"
	AccountTypeCurrent AccountType = "CURRENT"
	AccountTypeJoint   AccountType = "JOINT"
)

func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeSavings, AccountTypeDeposit, AccountTypeCurrent, AccountTypeJoint:
		return true
	}
	return false
}

// Account is a customer ledger account. Balance only changes through a
// versioned compare-and-swap in the ledger store.
type Account struct {
	AccountID             string                 `json:"account_id"`
	AccountNumber         string                 `json:"account_number"`
	IBAN                  string                 `json:"iban,omitempty"`
	Type                  AccountType            `json:"type"`
	CustomerID            string                 `json:"customer_id,omitempty"`
	BranchID              string                 `json:"branch_id,omitempty"`
	Currency              string                 `json:"currency"`
	Balance               money.Money            `json:"balance"`
	AllowedBalanceToUse   money.Money            `json:"allowed_balance_to_use"`
	MinimumAllowedBalance money.Money            `json:"minimum_allowed_balance"`
	Debt                  money.Money            `json:"debt"`
	Active                bool                   `json:"active"`
	Version               int64                  `json:"version"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
	MetaData              map[string]interface{} `json:"meta_data,omitempty"`
}

// NewAccount builds an active account with a zero balance. The overdraft line
// and minimum balance default to zero in the account currency.
func NewAccount(accountID, accountNumber string, accountType AccountType, currency string) (*Account, error) {
	zero, err := money.Zero(currency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	acc := &Account{
		AccountID:             accountID,
		AccountNumber:         accountNumber,
		Type:                  accountType,
		Currency:              zero.CurrencyCode(),
		Balance:               zero,
		AllowedBalanceToUse:   zero,
		MinimumAllowedBalance: zero,
		Debt:                  zero,
		Active:                true,
	}
	if err := acc.Validate(); err != nil {
		return nil, err
	}
	return acc, nil
}

// Validate checks the construction invariants of an account.
func (a *Account) Validate() error {
	if a.AccountID == "" || a.AccountNumber == "" {
		return fmt.Errorf("%w: account id and account number are required", ErrInvalidRequest)
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("%w: unknown account type %q", ErrInvalidRequest, a.Type)
	}
	if a.IBAN != "" {
		if err := ValidateIBAN(a.IBAN); err != nil {
			return err
		}
	}
	for _, m := range []money.Money{a.Balance, a.AllowedBalanceToUse, a.MinimumAllowedBalance, a.Debt} {
		if m.CurrencyCode() != a.Currency {
			return ErrCurrencyMismatch
		}
	}
	if a.AllowedBalanceToUse.IsNegative() {
		return fmt.Errorf("%w: allowed balance to use cannot be negative", ErrInvalidRequest)
	}
	if !a.WithinFloor(a.Balance) {
		return ErrInsufficientFunds
	}
	return nil
}

// Floor is the lowest balance the account may reach:
// minimumAllowedBalance - allowedBalanceToUse.
func (a *Account) Floor() money.Money {
	floor, err := a.MinimumAllowedBalance.Subtract(a.AllowedBalanceToUse)
	if err != nil {
		return a.MinimumAllowedBalance
	}
	return floor
}

// WithinFloor reports whether balance respects the overdraft floor.
func (a *Account) WithinFloor(balance money.Money) bool {
	cmp, err := balance.Compare(a.Floor())
	return err == nil && cmp >= 0
}

// Available is the amount that can still be debited before hitting the floor.
func (a *Account) Available() money.Money {
	avail, err := a.Balance.Subtract(a.Floor())
	if err != nil {
		return a.Balance
	}
	return avail
}

// DebtFor is the negative carry implied by balance: max(0, -balance).
func DebtFor(balance money.Money) money.Money {
	if balance.IsNegative() {
		return balance.Negate()
	}
	return money.MustNew(0, balance.CurrencyCode())
}

// BalanceUpdate is the result of a successful compare-and-swap.
type BalanceUpdate struct {
	AccountID  string      `json:"account_id"`
	NewBalance money.Money `json:"new_balance"`
	NewVersion int64       `json:"new_version"`
}

// BalanceView is the read-only balance summary of an account.
type BalanceView struct {
	AccountID             string      `json:"account_id"`
	Balance               money.Money `json:"balance"`
	Available             money.Money `json:"available"`
	AllowedBalanceToUse   money.Money `json:"allowed_balance_to_use"`
	MinimumAllowedBalance money.Money `json:"minimum_allowed_balance"`
	Debt                  money.Money `json:"debt"`
	Version               int64       `json:"version"`
}

func (a *Account) BalanceView() BalanceView {
	return BalanceView{
		AccountID:             a.AccountID,
		Balance:               a.Balance,
		Available:             a.Available(),
		AllowedBalanceToUse:   a.AllowedBalanceToUse,
		MinimumAllowedBalance: a.MinimumAllowedBalance,
		Debt:                  a.Debt,
		Version:               a.Version,
	}
}
