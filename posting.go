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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	redlock "github.com/blnkfinance/corebank/internal/lock"
	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

var tracer = otel.Tracer("corebank.posting")

const (
	pendingPollInitial = 10 * time.Millisecond
	pendingPollMax     = 200 * time.Millisecond
)

var errStillPending = errors.New("posting still pending")

// PostRequest is one logical money movement. RequestKey makes it idempotent:
// the same key always resolves to the same transaction.
type PostRequest struct {
	RequestKey           string
	Type                 model.TransactionType
	Initiator            model.Initiator
	PaymentType          model.PaymentType
	SourceAccountID      string
	DestinationAccountID string
	Amount               money.Money
	Description          string
	ParentTransaction    string
	MetaData             map[string]interface{}
	// Discriminator is hashed into the request fingerprint and never stored.
	Discriminator        string
}

// PostingOutcome is the transaction a request resolved to. Replayed is set
// when the request key had already been processed.
type PostingOutcome struct {
	Transaction *model.CashTransaction
	Replayed    bool
}

func (r *PostRequest) applyDefaults() {
	if r.Initiator == "" {
		r.Initiator = model.InitiatorCustomer
	}
	if r.PaymentType == "" {
		r.PaymentType = model.PaymentTypeInternal
	}
}

func (r PostRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.RequestKey, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.SourceAccountID, validation.Required),
		validation.Field(&r.Type, validation.Required, validation.By(func(interface{}) error {
			if !r.Type.IsValid() {
				return fmt.Errorf("unknown transaction type %q", r.Type)
			}
			return nil
		})),
		validation.Field(&r.Initiator, validation.By(func(interface{}) error {
			if !r.Initiator.IsValid() {
				return fmt.Errorf("unknown initiator %q", r.Initiator)
			}
			return nil
		})),
		validation.Field(&r.PaymentType, validation.By(func(interface{}) error {
			if !r.PaymentType.IsValid() {
				return fmt.Errorf("unknown payment type %q", r.PaymentType)
			}
			return nil
		})),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidRequest, err)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", model.ErrInvalidAmount)
	}
	if r.SourceAccountID == r.DestinationAccountID {
		return fmt.Errorf("%w: %s", model.ErrSameAccount, r.SourceAccountID)
	}

	switch r.Type {
	case model.TransactionTypeDeposit, model.TransactionTypeWithdrawal:
		if r.DestinationAccountID != "" {
			return fmt.Errorf("%w: %s takes no destination account", model.ErrInvalidRequest, r.Type)
		}
	case model.TransactionTypeTransfer:
		if r.DestinationAccountID == "" && r.PaymentType != model.PaymentTypeFast {
			return fmt.Errorf("%w: transfer requires a destination account", model.ErrInvalidRequest)
		}
	}
	return nil
}

func (r PostRequest) fingerprint() string {
	return model.RequestFingerprint{
		Type:                 r.Type,
		SourceAccountID:      r.SourceAccountID,
		DestinationAccountID: r.DestinationAccountID,
		Amount:               r.Amount,
		PaymentType:          r.PaymentType,
		ParentTransaction:    r.ParentTransaction,
		Discriminator:        r.Discriminator,
	}.Hash()
}

func (r PostRequest) draft(hash string) *model.CashTransaction {
	return &model.CashTransaction{
		TransactionID:        model.GenerateUUIDWithSuffix("txn"),
		RequestKey:           r.RequestKey,
		Hash:                 hash,
		Type:                 r.Type,
		Initiator:            r.Initiator,
		PaymentType:          r.PaymentType,
		SourceAccountID:      r.SourceAccountID,
		DestinationAccountID: r.DestinationAccountID,
		Amount:               r.Amount,
		Description:          r.Description,
		Status:               model.StatusReceived,
		ParentTransaction:    r.ParentTransaction,
		MetaData:             r.MetaData,
	}
}

// Post applies req at most once per request key. A failed posting returns its
// outcome together with the typed error, and replays of it return the same
// error kind.
func (c *CoreBank) Post(ctx context.Context, req PostRequest) (*PostingOutcome, error) {
	ctx, span := tracer.Start(ctx, "Post")
	defer span.End()

	req.applyDefaults()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash := req.fingerprint()
	span.SetAttributes(attribute.String("posting.request_key", req.RequestKey))

	existing, err := c.lookup(ctx, req.RequestKey)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if existing != nil {
		return c.replay(ctx, existing, hash)
	}

	if c.guard != nil {
		release, err := c.guard.Acquire(ctx, req.RequestKey)
		switch {
		case errors.Is(err, redlock.ErrLockHeld):
			return c.waitForOutcome(ctx, req.RequestKey, hash)
		case err != nil:
			logrus.WithField("request_key", req.RequestKey).Warnf("request guard unavailable, relying on the transaction log: %v", err)
		default:
			defer release()
		}
	}

	txn := req.draft(hash)
	if err := c.datasource.RecordPending(ctx, txn); err != nil {
		if errors.Is(err, model.ErrAlreadyExists) {
			return c.waitForOutcome(ctx, req.RequestKey, hash)
		}
		span.RecordError(err)
		return nil, err
	}

	result, err := c.engine.ApplyTransfer(ctx, TransferRequest{
		SourceID:      txn.SourceAccountID,
		DestinationID: txn.DestinationAccountID,
		Amount:        txn.Amount,
		Kind:          txn.Type,
	})
	if err != nil {
		span.RecordError(err)
		return c.fail(ctx, txn, err)
	}

	snapshot := result.Snapshot()
	err = c.persist(ctx, func(ctx context.Context) error {
		return c.datasource.MarkApplied(ctx, txn.TransactionID, snapshot)
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"transaction_id": txn.TransactionID,
			"request_key":    txn.RequestKey,
		}).Errorf("balances moved but the transaction could not be marked applied: %v", err)
		return &PostingOutcome{Transaction: txn}, err
	}
	txn.Status = model.StatusApplied
	txn.SenderRemainingBalance = snapshot.SenderRemainingBalance
	txn.RecipientRemainingBalance = snapshot.RecipientRemainingBalance
	txn.UpdatedAt = time.Now().UTC()

	c.finish(ctx, txn)
	return &PostingOutcome{Transaction: txn}, nil
}

// fail records a rejected posting. A failed compensation leaves the record
// PENDING: one leg moved and an operator must settle it by hand.
func (c *CoreBank) fail(ctx context.Context, txn *model.CashTransaction, cause error) (*PostingOutcome, error) {
	kind := model.KindOf(cause)
	entry := logrus.WithFields(logrus.Fields{
		"transaction_id": txn.TransactionID,
		"request_key":    txn.RequestKey,
		"kind":           kind,
	})

	if kind == model.KindCompensationFailed {
		entry.Errorf("posting left pending after failed compensation: %v", cause)
		return &PostingOutcome{Transaction: txn}, cause
	}
	if kind.IsBusinessFailure() {
		entry.Infof("posting rejected: %v", cause)
	} else {
		entry.Errorf("posting failed: %v", cause)
	}

	err := c.persist(ctx, func(ctx context.Context) error {
		return c.datasource.MarkFailed(ctx, txn.TransactionID, kind)
	})
	if err != nil {
		entry.Errorf("failed to mark transaction failed: %v", err)
		return &PostingOutcome{Transaction: txn}, cause
	}
	txn.Status = model.StatusFailed
	txn.FailureReason = kind
	txn.UpdatedAt = time.Now().UTC()

	c.finish(ctx, txn)
	return &PostingOutcome{Transaction: txn}, cause
}

// persist retries a transaction log write that must land after the engine
// ran. It ignores cancellation of ctx.
func (c *CoreBank) persist(ctx context.Context, write func(context.Context) error) error {
	ctx = context.WithoutCancel(ctx)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pendingPollInitial
	b.MaxInterval = pendingPollMax
	b.MaxElapsedTime = c.config.Ledger.PendingWaitTimeout()

	return backoff.Retry(func() error {
		err := write(ctx)
		if errors.Is(err, model.ErrInvalidStatusTransition) || errors.Is(err, model.ErrTransactionNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(b, uint64(c.config.Ledger.MaxRetries)))
}

// finish runs the post-posting actions of a terminal transaction.
func (c *CoreBank) finish(ctx context.Context, txn *model.CashTransaction) {
	c.remember(ctx, txn)
	c.dispatchWebhook(ctx, eventForStatus(txn.Status), txn)
}

// replay answers a request key that already has a record.
func (c *CoreBank) replay(ctx context.Context, existing *model.CashTransaction, hash string) (*PostingOutcome, error) {
	if existing.Hash != hash {
		return nil, fmt.Errorf("%w: request key %s was used for a different request", model.ErrIdempotencyKeyConflict, existing.RequestKey)
	}

	switch existing.Status {
	case model.StatusApplied, model.StatusReversed:
		return &PostingOutcome{Transaction: existing, Replayed: true}, nil
	case model.StatusFailed:
		return &PostingOutcome{Transaction: existing, Replayed: true},
			fmt.Errorf("%w: transaction %s", model.ErrorForKind(existing.FailureReason), existing.TransactionID)
	default:
		return c.waitForOutcome(ctx, existing.RequestKey, hash)
	}
}

// waitForOutcome polls the log until the concurrent attempt on requestKey
// finishes, then replays it.
func (c *CoreBank) waitForOutcome(ctx context.Context, requestKey, hash string) (*PostingOutcome, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = pendingPollInitial
	b.MaxInterval = pendingPollMax
	b.MaxElapsedTime = c.config.Ledger.PendingWaitTimeout()

	var resolved *model.CashTransaction
	err := backoff.Retry(func() error {
		txn, err := c.datasource.FindByRequestKey(ctx, requestKey)
		if err != nil {
			return backoff.Permanent(err)
		}
		if txn == nil || !txn.Status.IsTerminal() {
			return errStillPending
		}
		resolved = txn
		return nil
	}, backoff.WithContext(b, ctx))

	if errors.Is(err, errStillPending) {
		return nil, fmt.Errorf("%w: request key %s", model.ErrRequestInProgress, requestKey)
	}
	if err != nil {
		return nil, err
	}
	return c.replay(ctx, resolved, hash)
}

func replayKey(requestKey string) string {
	return "corebank:posting:" + requestKey
}

// lookup finds a record for requestKey, trying the replay cache first.
func (c *CoreBank) lookup(ctx context.Context, requestKey string) (*model.CashTransaction, error) {
	if c.cache != nil {
		var raw []byte
		if err := c.cache.Get(ctx, replayKey(requestKey), &raw); err != nil {
			logrus.WithField("request_key", requestKey).Warnf("replay cache read failed: %v", err)
		} else if len(raw) > 0 {
			var txn model.CashTransaction
			if err := json.Unmarshal(raw, &txn); err == nil {
				return &txn, nil
			}
		}
	}
	return c.datasource.FindByRequestKey(ctx, requestKey)
}

// remember caches a terminal transaction for fast replays.
func (c *CoreBank) remember(ctx context.Context, txn *model.CashTransaction) {
	if c.cache == nil || !txn.Status.IsTerminal() {
		return
	}
	raw, err := json.Marshal(txn)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, replayKey(txn.RequestKey), raw, c.config.Ledger.ReplayCacheTTL()); err != nil {
		logrus.WithField("request_key", txn.RequestKey).Warnf("replay cache write failed: %v", err)
	}
}

func (c *CoreBank) forget(ctx context.Context, requestKey string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, replayKey(requestKey)); err != nil {
		logrus.WithField("request_key", requestKey).Warnf("replay cache delete failed: %v", err)
	}
}
