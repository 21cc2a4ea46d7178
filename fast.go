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
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

// FastTransferRequest sends money from a local account, named by its IBAN,
// to an account at another bank.
type FastTransferRequest struct {
	RequestKey         string
	SourceIBAN         string
	RecipientIBAN      string
	RecipientFullName  string
	RecipientShortName string
	Amount             money.Money
	Description        string
	CreatedBy          string
}

func (r FastTransferRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.RequestKey, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.SourceIBAN, validation.Required),
		validation.Field(&r.RecipientIBAN, validation.Required),
		validation.Field(&r.RecipientFullName, validation.Required, validation.Length(1, 140)),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	if err := model.ValidateIBAN(r.RecipientIBAN); err != nil {
		return err
	}
	if model.NormalizeIBAN(r.SourceIBAN) == model.NormalizeIBAN(r.RecipientIBAN) {
		return fmt.Errorf("%w: recipient iban equals source iban", model.ErrSameAccount)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}
	return nil
}

// PostFastTransaction debits the source account and records the transfer as
// pending settlement. The settlement itself runs on the settlement queue.
func (c *CoreBank) PostFastTransaction(ctx context.Context, req FastTransferRequest) (*model.FastTransaction, error) {
	ctx, span := tracer.Start(ctx, "PostFastTransaction")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	source, err := c.datasource.GetAccountByIBAN(ctx, model.NormalizeIBAN(req.SourceIBAN))
	if err != nil {
		return nil, err
	}

	outcome, err := c.Post(ctx, PostRequest{
		RequestKey:      req.RequestKey,
		Type:            model.TransactionTypeTransfer,
		PaymentType:     model.PaymentTypeFast,
		SourceAccountID: source.AccountID,
		Amount:          req.Amount,
		Description:     req.Description,
		MetaData: map[string]interface{}{
			"recipient_iban":      model.NormalizeIBAN(req.RecipientIBAN),
			"recipient_full_name": req.RecipientFullName,
		},
		Discriminator: "fast|" + model.NormalizeIBAN(req.RecipientIBAN) + "|" + strings.TrimSpace(req.RecipientFullName),
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	txn := outcome.Transaction

	fast, err := c.datasource.GetFastTransactionByTransactionID(ctx, txn.TransactionID)
	switch {
	case err == nil:
		if fast.SettlementStatus == model.SettlementPending {
			c.enqueueSettlement(ctx, fast.FastTransactionID)
		}
		return fast, nil
	case !errors.Is(err, model.ErrTransactionNotFound):
		return nil, err
	}

	fast = &model.FastTransaction{
		FastTransactionID:  model.GenerateUUIDWithSuffix("fast"),
		TransactionID:      txn.TransactionID,
		SourceIBAN:         source.IBAN,
		RecipientFullName:  req.RecipientFullName,
		RecipientShortName: req.RecipientShortName,
		RecipientIBAN:      model.NormalizeIBAN(req.RecipientIBAN),
		Amount:             req.Amount,
		SettlementStatus:   model.SettlementPending,
		CreatedBy:          req.CreatedBy,
	}
	if err := c.datasource.RecordFastTransaction(ctx, fast); err != nil {
		if !errors.Is(err, model.ErrAlreadyExists) {
			logrus.WithField("transaction_id", txn.TransactionID).Errorf("source debited but fast transaction not recorded: %v", err)
			return nil, err
		}
		if fast, err = c.datasource.GetFastTransactionByTransactionID(ctx, txn.TransactionID); err != nil {
			return nil, err
		}
	}

	c.enqueueSettlement(ctx, fast.FastTransactionID)
	return fast, nil
}

// enqueueSettlement logs failures; the record stays PENDING_SETTLEMENT and a
// replay of the same request enqueues it again.
func (c *CoreBank) enqueueSettlement(ctx context.Context, fastTransactionID string) {
	if c.dispatcher == nil {
		return
	}
	if err := c.dispatcher.EnqueueSettlement(ctx, fastTransactionID); err != nil {
		logrus.WithField("fast_transaction_id", fastTransactionID).Errorf("failed to enqueue settlement: %v", err)
	}
}

func (c *CoreBank) GetFastTransaction(ctx context.Context, id string) (*model.FastTransaction, error) {
	return c.datasource.GetFastTransaction(ctx, id)
}
