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
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/blnkfinance/corebank"
	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

var (
	accountTypes = []interface{}{
		string(model.AccountTypeSavings), string(model.AccountTypeDeposit),
		string(model.AccountTypeCurrent), string(model.AccountTypeJoint),
	}
	transactionTypes = []interface{}{
		string(model.TransactionTypeDeposit), string(model.TransactionTypeWithdrawal),
		string(model.TransactionTypeTransfer), string(model.TransactionTypeEFT),
		string(model.TransactionTypeCommissionFees),
	}
	initiators = []interface{}{
		string(model.InitiatorCustomer), string(model.InitiatorSystem), string(model.InitiatorBank),
	}
	paymentTypes = []interface{}{
		string(model.PaymentTypeCash), string(model.PaymentTypeCard), string(model.PaymentTypeFast),
		string(model.PaymentTypeEFT), string(model.PaymentTypeUtility), string(model.PaymentTypeInternal),
	}
)

// decimalAmount accepts decimal strings such as "125.50".
var decimalAmount = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := decimal.NewFromString(s); err != nil {
		return errors.New("must be a decimal number")
	}
	return nil
})

var knownCurrency = validation.By(func(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := money.LookupCurrency(s); err != nil {
		return errors.New("unknown currency")
	}
	return nil
})

func (a *CreateAccount) ValidateCreateAccount() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Type, validation.Required, validation.In(accountTypes...)),
		validation.Field(&a.Currency, validation.Required, knownCurrency),
		validation.Field(&a.AllowedBalanceToUse, decimalAmount),
		validation.Field(&a.MinimumAllowedBalance, decimalAmount),
	)
}

// ToAccount converts the request into the account to open. Optional limits
// are left zero-valued when absent.
func (a *CreateAccount) ToAccount() (model.Account, error) {
	account := model.Account{
		AccountID:     a.AccountID,
		AccountNumber: a.AccountNumber,
		IBAN:          a.IBAN,
		Type:          model.AccountType(a.Type),
		Currency:      a.Currency,
		CustomerID:    a.CustomerID,
		BranchID:      a.BranchID,
		MetaData:      a.MetaData,
	}
	if a.AllowedBalanceToUse != "" {
		m, err := money.Parse(a.AllowedBalanceToUse, a.Currency)
		if err != nil {
			return account, fmt.Errorf("%w: allowed_balance_to_use: %v", model.ErrInvalidRequest, err)
		}
		account.AllowedBalanceToUse = m
	}
	if a.MinimumAllowedBalance != "" {
		m, err := money.Parse(a.MinimumAllowedBalance, a.Currency)
		if err != nil {
			return account, fmt.Errorf("%w: minimum_allowed_balance: %v", model.ErrInvalidRequest, err)
		}
		account.MinimumAllowedBalance = m
	}
	return account, nil
}

func (t *PostTransaction) ValidatePostTransaction() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.Type, validation.Required, validation.In(transactionTypes...)),
		validation.Field(&t.Initiator, validation.In(initiators...)),
		validation.Field(&t.PaymentType, validation.In(paymentTypes...)),
		validation.Field(&t.Source, validation.Required),
		validation.Field(&t.Amount, validation.Required, decimalAmount),
		validation.Field(&t.Currency, validation.Required, knownCurrency),
		validation.Field(&t.Description, validation.Length(0, 255)),
	)
}

// ToPostRequest builds the posting. requestKey overrides the body's key when
// it came in the Idempotency-Key header.
func (t *PostTransaction) ToPostRequest(requestKey string) (corebank.PostRequest, error) {
	amount, err := money.Parse(t.Amount, t.Currency)
	if err != nil {
		return corebank.PostRequest{}, fmt.Errorf("%w: %v", model.ErrInvalidAmount, err)
	}
	if requestKey == "" {
		requestKey = t.RequestKey
	}
	return corebank.PostRequest{
		RequestKey:           requestKey,
		Type:                 model.TransactionType(t.Type),
		Initiator:            model.Initiator(t.Initiator),
		PaymentType:          model.PaymentType(t.PaymentType),
		SourceAccountID:      t.Source,
		DestinationAccountID: t.Destination,
		Amount:               amount,
		Description:          t.Description,
		ParentTransaction:    t.ParentTransaction,
		MetaData:             t.MetaData,
	}, nil
}

func (f *FastTransfer) ValidateFastTransfer() error {
	return validation.ValidateStruct(f,
		validation.Field(&f.SourceIBAN, validation.Required),
		validation.Field(&f.RecipientIBAN, validation.Required),
		validation.Field(&f.RecipientFullName, validation.Required, validation.Length(1, 140)),
		validation.Field(&f.Amount, validation.Required, decimalAmount),
		validation.Field(&f.Currency, validation.Required, knownCurrency),
	)
}

func (f *FastTransfer) ToFastTransferRequest(requestKey, createdBy string) (corebank.FastTransferRequest, error) {
	amount, err := money.Parse(f.Amount, f.Currency)
	if err != nil {
		return corebank.FastTransferRequest{}, fmt.Errorf("%w: %v", model.ErrInvalidAmount, err)
	}
	if requestKey == "" {
		requestKey = f.RequestKey
	}
	return corebank.FastTransferRequest{
		RequestKey:         requestKey,
		SourceIBAN:         f.SourceIBAN,
		RecipientIBAN:      f.RecipientIBAN,
		RecipientFullName:  f.RecipientFullName,
		RecipientShortName: f.RecipientShortName,
		Amount:             amount,
		Description:        f.Description,
		CreatedBy:          createdBy,
	}, nil
}

func (u *UtilityPayment) ValidateUtilityPayment() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.AccountID, validation.Required),
		validation.Field(&u.BillerCode, validation.Required),
		validation.Field(&u.SubscriberNumber, validation.Required),
		validation.Field(&u.Amount, validation.Required, decimalAmount),
		validation.Field(&u.Fee, decimalAmount),
		validation.Field(&u.Currency, validation.Required, knownCurrency),
	)
}

func (u *UtilityPayment) ToUtilityPaymentRequest(requestKey string) (corebank.UtilityPaymentRequest, error) {
	amount, err := money.Parse(u.Amount, u.Currency)
	if err != nil {
		return corebank.UtilityPaymentRequest{}, fmt.Errorf("%w: %v", model.ErrInvalidAmount, err)
	}
	if requestKey == "" {
		requestKey = u.RequestKey
	}
	req := corebank.UtilityPaymentRequest{
		RequestKey:       requestKey,
		AccountID:        u.AccountID,
		BillerCode:       u.BillerCode,
		SubscriberNumber: u.SubscriberNumber,
		Amount:           amount,
		Description:      u.Description,
	}
	if u.Fee != "" {
		fee, err := money.Parse(u.Fee, u.Currency)
		if err != nil {
			return req, fmt.Errorf("%w: fee: %v", model.ErrInvalidAmount, err)
		}
		req.Fee = &fee
	}
	return req, nil
}
