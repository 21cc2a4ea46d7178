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

package corebank

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

// UtilityPaymentRequest pays a bill from a customer account. Fee, when set,
// is charged as a separate commission posting.
type UtilityPaymentRequest struct {
	RequestKey       string
	AccountID        string
	BillerCode       string
	SubscriberNumber string
	Amount           money.Money
	Fee              *money.Money
	Description      string
}

type UtilityPaymentOutcome struct {
	Payment *PostingOutcome
	Fee     *PostingOutcome
}

func (r UtilityPaymentRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.RequestKey, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.AccountID, validation.Required),
		validation.Field(&r.BillerCode, validation.Required),
		validation.Field(&r.SubscriberNumber, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}
	if r.Fee != nil && r.Fee.IsNegative() {
		return fmt.Errorf("%w: fee cannot be negative", model.ErrInvalidAmount)
	}
	return nil
}

func feeKey(requestKey string) string {
	return requestKey + ":fee"
}

// PayUtility debits the bill amount, into the utility collection account when
// one is configured, then charges the fee. If the fee cannot be charged the
// payment is reversed and the fee error returned.
func (c *CoreBank) PayUtility(ctx context.Context, req UtilityPaymentRequest) (*UtilityPaymentOutcome, error) {
	ctx, span := tracer.Start(ctx, "PayUtility")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	payment := PostRequest{
		RequestKey:      req.RequestKey,
		Type:            model.TransactionTypeWithdrawal,
		PaymentType:     model.PaymentTypeUtility,
		SourceAccountID: req.AccountID,
		Amount:          req.Amount,
		Description:     req.Description,
		MetaData: map[string]interface{}{
			"biller_code":       req.BillerCode,
			"subscriber_number": req.SubscriberNumber,
		},
		Discriminator: "utility|" + req.BillerCode + "|" + req.SubscriberNumber,
	}
	if collection := c.config.Utility.CollectionAccountID; collection != "" {
		payment.Type = model.TransactionTypeTransfer
		payment.DestinationAccountID = collection
	}

	paid, err := c.Post(ctx, payment)
	if err != nil {
		span.RecordError(err)
		return &UtilityPaymentOutcome{Payment: paid}, err
	}
	out := &UtilityPaymentOutcome{Payment: paid}
	if req.Fee == nil || req.Fee.IsZero() {
		return out, nil
	}

	fee := PostRequest{
		RequestKey:        feeKey(req.RequestKey),
		Type:              model.TransactionTypeCommissionFees,
		PaymentType:       model.PaymentTypeUtility,
		SourceAccountID:   req.AccountID,
		Amount:            *req.Fee,
		Description:       fmt.Sprintf("commission for %s", paid.Transaction.TransactionID),
		ParentTransaction: paid.Transaction.TransactionID,
	}
	if feeAccount := c.config.Utility.FeeAccountID; feeAccount != "" {
		fee.DestinationAccountID = feeAccount
	}

	out.Fee, err = c.Post(ctx, fee)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"request_key":    req.RequestKey,
			"transaction_id": paid.Transaction.TransactionID,
		}).Warnf("utility fee failed, reversing payment: %v", err)
		if _, rerr := c.Reverse(ctx, paid.Transaction.TransactionID, ""); rerr != nil {
			logrus.WithField("transaction_id", paid.Transaction.TransactionID).Errorf("failed to reverse utility payment: %v", rerr)
		}
		return out, err
	}
	return out, nil
}
