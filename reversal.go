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

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/corebank/model"
)

// ReversalKey is the request key a reversal of transactionID uses when the
// caller supplies none.
func ReversalKey(transactionID string) string {
	return transactionID + ":reversal"
}

// inverseOf builds the posting that undoes original.
func inverseOf(original *model.CashTransaction, requestKey string) PostRequest {
	req := PostRequest{
		RequestKey:        requestKey,
		Type:              original.Type,
		Initiator:         model.InitiatorBank,
		PaymentType:       original.PaymentType,
		SourceAccountID:   original.SourceAccountID,
		Amount:            original.Amount,
		Description:       fmt.Sprintf("reversal of %s", original.TransactionID),
		ParentTransaction: original.TransactionID,
	}

	switch {
	case original.DestinationAccountID != "":
		req.SourceAccountID = original.DestinationAccountID
		req.DestinationAccountID = original.SourceAccountID
	case original.Type.Credits():
		req.Type = model.TransactionTypeWithdrawal
	default:
		req.Type = model.TransactionTypeDeposit
	}
	return req
}

// Reverse posts the inverse of an applied transaction and marks the original
// REVERSED. The inverse posting is idempotent on requestKey; an empty key
// falls back to ReversalKey(transactionID). Reversing an already reversed
// transaction returns the existing reversal.
func (c *CoreBank) Reverse(ctx context.Context, transactionID, requestKey string) (*PostingOutcome, error) {
	ctx, span := tracer.Start(ctx, "Reverse")
	defer span.End()

	original, err := c.datasource.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Status == model.StatusReversed {
		return c.existingReversal(ctx, original)
	}
	if original.Status != model.StatusApplied {
		return nil, fmt.Errorf("%w: transaction %s is %s", model.ErrInvalidStatusTransition, original.TransactionID, original.Status)
	}

	if requestKey == "" {
		requestKey = ReversalKey(transactionID)
	}
	outcome, err := c.Post(ctx, inverseOf(original, requestKey))
	if err != nil {
		span.RecordError(err)
		return outcome, err
	}
	inverse := outcome.Transaction

	if err := c.datasource.MarkReversed(ctx, original.TransactionID, inverse.TransactionID); err != nil {
		if !errors.Is(err, model.ErrInvalidStatusTransition) {
			return outcome, err
		}
		return c.resolveRace(ctx, original.TransactionID, inverse)
	}

	c.forget(ctx, original.RequestKey)
	original.Status = model.StatusReversed
	original.ReversedBy = inverse.TransactionID
	c.dispatchWebhook(ctx, eventForStatus(original.Status), original)

	logrus.WithFields(logrus.Fields{
		"transaction_id": original.TransactionID,
		"reversal_id":    inverse.TransactionID,
	}).Info("transaction reversed")
	return outcome, nil
}

func (c *CoreBank) existingReversal(ctx context.Context, original *model.CashTransaction) (*PostingOutcome, error) {
	reversal, err := c.datasource.GetTransaction(ctx, original.ReversedBy)
	if err != nil {
		return nil, err
	}
	return &PostingOutcome{Transaction: reversal, Replayed: true}, nil
}

// resolveRace handles two reversals of one transaction under different keys.
// The loser undoes its own inverse and reports the winner's reversal.
func (c *CoreBank) resolveRace(ctx context.Context, originalID string, inverse *model.CashTransaction) (*PostingOutcome, error) {
	original, err := c.datasource.GetTransaction(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if original.ReversedBy == inverse.TransactionID {
		return &PostingOutcome{Transaction: inverse, Replayed: true}, nil
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": originalID,
		"reversal_id":    inverse.TransactionID,
		"winner":         original.ReversedBy,
	}).Warn("transaction was reversed concurrently, undoing duplicate reversal")
	if _, err := c.Reverse(ctx, inverse.TransactionID, ""); err != nil {
		return nil, err
	}
	return c.existingReversal(ctx, original)
}
