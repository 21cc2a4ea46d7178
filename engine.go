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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/database"
	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

var engineTracer = otel.Tracer("corebank.engine")

// compensationAttemptFactor widens the retry budget of a refund leg.
const compensationAttemptFactor = 3

// RetryPolicy bounds how often a leg is retried after a version conflict.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func RetryPolicyFromConfig(cfg config.LedgerConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   cfg.RetryBaseDelay(),
		MaxDelay:    cfg.RetryMaxDelay(),
	}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// TransferRequest moves Amount out of SourceID. With a DestinationID the
// amount is credited there; without one Kind decides whether the source is
// credited (deposit) or debited.
type TransferRequest struct {
	SourceID      string
	DestinationID string
	Amount        money.Money
	Kind          model.TransactionType
}

// TransferResult carries the committed balances of every leg.
type TransferResult struct {
	Source      model.BalanceUpdate
	Destination *model.BalanceUpdate
}

func (r *TransferResult) Snapshot() model.ResultSnapshot {
	sender := r.Source.NewBalance
	snap := model.ResultSnapshot{SenderRemainingBalance: &sender}
	if r.Destination != nil {
		recipient := r.Destination.NewBalance
		snap.RecipientRemainingBalance = &recipient
	}
	return snap
}

// TransferEngine applies postings to the ledger store with optimistic
// concurrency. It never holds locks; stale snapshots are detected by the
// store's version check and retried.
type TransferEngine struct {
	store  database.LedgerStore
	policy RetryPolicy
}

func NewTransferEngine(store database.LedgerStore, policy RetryPolicy) *TransferEngine {
	return &TransferEngine{store: store, policy: policy}
}

// ApplyTransfer validates and commits req. On error no balance has moved,
// except when the error is model.ErrCompensationFailed.
func (e *TransferEngine) ApplyTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	ctx, span := engineTracer.Start(ctx, "ApplyTransfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("transfer.source", req.SourceID),
		attribute.String("transfer.destination", req.DestinationID),
		attribute.String("transfer.kind", string(req.Kind)),
	)

	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", model.ErrInvalidAmount, req.Amount)
	}
	if req.SourceID == "" {
		return nil, fmt.Errorf("%w: source account is required", model.ErrInvalidRequest)
	}
	if req.SourceID == req.DestinationID {
		return nil, fmt.Errorf("%w: %s", model.ErrSameAccount, req.SourceID)
	}

	var (
		result *TransferResult
		err    error
	)
	if req.DestinationID == "" {
		result, err = e.applySingle(ctx, req)
	} else {
		result, err = e.applyPair(ctx, req)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// retry runs op until it succeeds, fails with anything other than a version
// conflict, or the policy is exhausted.
func (e *TransferEngine) retry(ctx context.Context, op func() error) error {
	return retryConflicts(ctx, e.policy, op)
}

func retryConflicts(ctx context.Context, policy RetryPolicy, op func() error) error {
	err := backoff.Retry(func() error {
		err := op()
		if err == nil || errors.Is(err, model.ErrVersionConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, policy.backoff(ctx))
	if errors.Is(err, model.ErrVersionConflict) {
		return fmt.Errorf("%w: %v", model.ErrConcurrentUpdateExhausted, err)
	}
	return err
}

func checkUsable(acc *model.Account, amount money.Money) error {
	if !acc.Active {
		return fmt.Errorf("%w: %s", model.ErrAccountInactive, acc.AccountID)
	}
	if acc.Currency != amount.CurrencyCode() {
		return fmt.Errorf("%w: account %s holds %s, amount is %s", model.ErrCurrencyMismatch, acc.AccountID, acc.Currency, amount.CurrencyCode())
	}
	return nil
}

func checkFloor(acc *model.Account, amount money.Money) error {
	projected, err := acc.Balance.Subtract(amount)
	if err != nil {
		return err
	}
	if !acc.WithinFloor(projected) {
		return fmt.Errorf("%w: account %s has %s available, needs %s", model.ErrInsufficientFunds, acc.AccountID, acc.Available(), amount)
	}
	return nil
}

func (e *TransferEngine) applySingle(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	delta := req.Amount.Negate()
	if req.Kind.Credits() {
		delta = req.Amount
	}

	var update model.BalanceUpdate
	err := e.retry(ctx, func() error {
		acc, err := e.store.GetAccount(ctx, req.SourceID)
		if err != nil {
			return err
		}
		if err := checkUsable(acc, req.Amount); err != nil {
			return err
		}
		if delta.IsNegative() {
			if err := checkFloor(acc, req.Amount); err != nil {
				return err
			}
		}
		update, err = e.store.TryApplyDelta(ctx, acc.AccountID, delta, acc.Version)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &TransferResult{Source: update}, nil
}

func (e *TransferEngine) applyPair(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	var (
		debit model.BalanceUpdate
		dest  *model.Account
	)

	// The debit leg restarts from a fresh snapshot of both accounts.
	err := e.retry(ctx, func() error {
		accounts, err := e.store.GetAccounts(ctx, req.SourceID, req.DestinationID)
		if err != nil {
			return err
		}
		var src *model.Account
		for _, acc := range accounts {
			switch acc.AccountID {
			case req.SourceID:
				src = acc
			case req.DestinationID:
				dest = acc
			}
		}
		if src == nil || dest == nil {
			return fmt.Errorf("%w: %s or %s", model.ErrAccountNotFound, req.SourceID, req.DestinationID)
		}
		if err := checkUsable(src, req.Amount); err != nil {
			return err
		}
		if err := checkUsable(dest, req.Amount); err != nil {
			return err
		}
		if err := checkFloor(src, req.Amount); err != nil {
			return err
		}
		debit, err = e.store.TryApplyDelta(ctx, src.AccountID, req.Amount.Negate(), src.Version)
		return err
	})
	if err != nil {
		return nil, err
	}

	credit, err := e.credit(ctx, dest, req.Amount)
	if err != nil {
		if cerr := e.compensate(ctx, req.SourceID, req.Amount); cerr != nil {
			logrus.WithFields(logrus.Fields{
				"source":      req.SourceID,
				"destination": req.DestinationID,
				"amount":      req.Amount.String(),
			}).Errorf("compensation failed after credit leg error %v: %v", err, cerr)
			return nil, fmt.Errorf("%w: credit failed (%v), refund failed (%v)", model.ErrCompensationFailed, err, cerr)
		}
		return nil, err
	}

	return &TransferResult{Source: debit, Destination: &credit}, nil
}

// credit applies the destination leg. Only the destination is re-read on a
// conflict; the committed debit stays in place.
func (e *TransferEngine) credit(ctx context.Context, dest *model.Account, amount money.Money) (model.BalanceUpdate, error) {
	var update model.BalanceUpdate
	first := true
	err := e.retry(ctx, func() error {
		acc := dest
		if !first {
			fresh, err := e.store.GetAccount(ctx, dest.AccountID)
			if err != nil {
				return err
			}
			if err := checkUsable(fresh, amount); err != nil {
				return err
			}
			acc = fresh
		}
		first = false

		var err error
		update, err = e.store.TryApplyDelta(ctx, acc.AccountID, amount, acc.Version)
		return err
	})
	return update, err
}

// compensate credits the debited amount back to the source. A credit can't
// breach the floor, so only contention or store failures stop it. It runs
// even if ctx was cancelled after the debit committed.
func (e *TransferEngine) compensate(ctx context.Context, sourceID string, amount money.Money) error {
	ctx = context.WithoutCancel(ctx)
	policy := e.policy
	policy.MaxAttempts *= compensationAttemptFactor
	return retryConflicts(ctx, policy, func() error {
		acc, err := e.store.GetAccount(ctx, sourceID)
		if err != nil {
			return err
		}
		_, err = e.store.TryApplyDelta(ctx, sourceID, amount, acc.Version)
		return err
	})
}
