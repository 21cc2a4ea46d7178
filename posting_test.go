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
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/internal/cache"
	redlock "github.com/blnkfinance/corebank/internal/lock"
	"github.com/blnkfinance/corebank/model"
)

func transferRequest(key string, amount int64) PostRequest {
	return PostRequest{
		RequestKey:           key,
		Type:                 model.TransactionTypeTransfer,
		SourceAccountID:      "acc_a",
		DestinationAccountID: "acc_b",
		Amount:               try(amount),
		Description:          gofakeit.Sentence(4),
	}
}

func TestPost_AppliesAndReplays(t *testing.T) {
	hooks := &recordingDispatcher{}
	cb, ds := newTestCoreBank(t, WithDispatcher(hooks))
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	ctx := context.Background()

	outcome, err := cb.Post(ctx, transferRequest("req-1", 400))
	require.NoError(t, err)
	assert.False(t, outcome.Replayed)

	txn := outcome.Transaction
	assert.Equal(t, model.StatusApplied, txn.Status)
	assert.Equal(t, model.InitiatorCustomer, txn.Initiator)
	assert.Equal(t, model.PaymentTypeInternal, txn.PaymentType)
	assert.Equal(t, int64(600), txn.SenderRemainingBalance.Amount())
	assert.Equal(t, int64(400), txn.RecipientRemainingBalance.Amount())

	replay, err := cb.Post(ctx, transferRequest("req-1", 400))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, txn.TransactionID, replay.Transaction.TransactionID)

	assert.Equal(t, int64(600), balanceOf(t, ds, "acc_a"))
	assert.Equal(t, int64(400), balanceOf(t, ds, "acc_b"))
	assert.Equal(t, []string{"transaction.applied"}, hooks.events())

	stored, err := cb.GetTransaction(ctx, txn.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApplied, stored.Status)
}

func TestPost_FailureIsRecordedAndReplayed(t *testing.T) {
	hooks := &recordingDispatcher{}
	cb, ds := newTestCoreBank(t, WithDispatcher(hooks))
	seedAccount(t, ds, "acc_a", 100)
	seedAccount(t, ds, "acc_b", 0)
	ctx := context.Background()

	outcome, err := cb.Post(ctx, transferRequest("req-poor", 500))
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	require.NotNil(t, outcome)
	assert.Equal(t, model.StatusFailed, outcome.Transaction.Status)
	assert.Equal(t, model.KindInsufficientFunds, outcome.Transaction.FailureReason)

	replay, err := cb.Post(ctx, transferRequest("req-poor", 500))
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	require.NotNil(t, replay)
	assert.True(t, replay.Replayed)
	assert.Equal(t, outcome.Transaction.TransactionID, replay.Transaction.TransactionID)

	assert.Equal(t, int64(100), balanceOf(t, ds, "acc_a"))
	assert.Equal(t, int64(0), balanceOf(t, ds, "acc_b"))
	assert.Equal(t, []string{"transaction.failed"}, hooks.events())
}

func TestPost_KeyReusedForDifferentRequest(t *testing.T) {
	cb, ds := newTestCoreBank(t)
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	ctx := context.Background()

	_, err := cb.Post(ctx, transferRequest("req-1", 100))
	require.NoError(t, err)

	_, err = cb.Post(ctx, transferRequest("req-1", 200))
	assert.ErrorIs(t, err, model.ErrIdempotencyKeyConflict)
	assert.Equal(t, int64(900), balanceOf(t, ds, "acc_a"))
}

func TestPost_Validation(t *testing.T) {
	cb, ds := newTestCoreBank(t)
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)

	tests := []struct {
		name    string
		mutate  func(r *PostRequest)
		wantErr error
	}{
		{"missing request key", func(r *PostRequest) { r.RequestKey = "" }, model.ErrInvalidRequest},
		{"unknown type", func(r *PostRequest) { r.Type = "LOAN" }, model.ErrInvalidRequest},
		{"unknown payment type", func(r *PostRequest) { r.PaymentType = "CHEQUE" }, model.ErrInvalidRequest},
		{"zero amount", func(r *PostRequest) { r.Amount = try(0) }, model.ErrInvalidAmount},
		{"same account", func(r *PostRequest) { r.DestinationAccountID = "acc_a" }, model.ErrSameAccount},
		{"transfer without destination", func(r *PostRequest) { r.DestinationAccountID = "" }, model.ErrInvalidRequest},
		{"deposit with destination", func(r *PostRequest) { r.Type = model.TransactionTypeDeposit }, model.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := transferRequest("req-"+gofakeit.UUID(), 100)
			tt.mutate(&req)

			outcome, err := cb.Post(context.Background(), req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, outcome)

			if req.RequestKey != "" {
				found, err := ds.FindByRequestKey(context.Background(), req.RequestKey)
				require.NoError(t, err)
				assert.Nil(t, found)
			}
		})
	}
}

func TestPost_ConcurrentSameKeyAppliesOnce(t *testing.T) {
	cb, ds := newTestCoreBank(t)
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)

	const callers = 20
	var wg sync.WaitGroup
	outcomes := make([]*PostingOutcome, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = cb.Post(context.Background(), transferRequest("req-same", 250))
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, outcomes[0].Transaction.TransactionID, outcomes[i].Transaction.TransactionID)
		if !outcomes[i].Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, int64(750), balanceOf(t, ds, "acc_a"))
	assert.Equal(t, int64(250), balanceOf(t, ds, "acc_b"))
}

func TestPost_ConcurrentDistinctKeysNeverOverdraw(t *testing.T) {
	cb, ds := newTestCoreBank(t)
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	cb.engine = NewTransferEngine(ds, RetryPolicy{MaxAttempts: 100, BaseDelay: 100 * time.Microsecond, MaxDelay: time.Millisecond})

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cb.Post(context.Background(), transferRequest(gofakeit.UUID(), 100))
			if err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, model.ErrInsufficientFunds)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, applied)
	assert.Equal(t, int64(0), balanceOf(t, ds, "acc_a"))
	assert.Equal(t, int64(1000), balanceOf(t, ds, "acc_b"))
}

func TestPost_WaitsForPendingAttempt(t *testing.T) {
	cb, ds := newTestCoreBank(t)
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	ctx := context.Background()

	req := transferRequest("req-pending", 100)
	req.applyDefaults()
	pending := req.draft(req.fingerprint())
	require.NoError(t, ds.RecordPending(ctx, pending))

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = ds.MarkApplied(ctx, pending.TransactionID, model.ResultSnapshot{})
	}()

	outcome, err := cb.Post(ctx, req)
	require.NoError(t, err)
	assert.True(t, outcome.Replayed)
	assert.Equal(t, pending.TransactionID, outcome.Transaction.TransactionID)
	assert.Equal(t, int64(1000), balanceOf(t, ds, "acc_a"))
}

func TestPost_RequestInProgress(t *testing.T) {
	cb, ds := newTestCoreBank(t)
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	ctx := context.Background()

	req := transferRequest("req-stuck", 100)
	req.applyDefaults()
	require.NoError(t, ds.RecordPending(ctx, req.draft(req.fingerprint())))

	start := time.Now()
	_, err := cb.Post(ctx, req)
	assert.ErrorIs(t, err, model.ErrRequestInProgress)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestPost_InternalFailureRecorded(t *testing.T) {
	cb, ds := newTestCoreBank(t)
	seedAccount(t, ds, "acc_a", 1000)
	store := newFaultyStore(ds)
	store.fail["acc_a"] = errors.New("connection reset")
	cb.engine = NewTransferEngine(store, testPolicy)

	outcome, err := cb.Post(context.Background(), PostRequest{
		RequestKey:      "req-down",
		Type:            model.TransactionTypeWithdrawal,
		SourceAccountID: "acc_a",
		Amount:          try(10),
	})
	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, model.StatusFailed, outcome.Transaction.Status)
	assert.Equal(t, model.KindInternal, outcome.Transaction.FailureReason)
}

func TestPost_CompensationFailureStaysPending(t *testing.T) {
	cb, ds := newTestCoreBank(t)
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	store := newFaultyStore(ds)
	store.fail["acc_b"] = errors.New("disk full")
	store.fail["acc_a"] = errors.New("disk full")
	store.failFrom["acc_a"] = 2
	cb.engine = NewTransferEngine(store, testPolicy)

	outcome, err := cb.Post(context.Background(), transferRequest("req-stranded", 100))
	assert.ErrorIs(t, err, model.ErrCompensationFailed)

	stored, err := ds.GetTransaction(context.Background(), outcome.Transaction.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
}

type heldGuard struct{ err error }

func (g heldGuard) Acquire(context.Context, string) (func(), error) {
	return nil, g.err
}

func TestPost_RequestGuard(t *testing.T) {
	t.Run("held elsewhere waits for the holder", func(t *testing.T) {
		cb, ds := newTestCoreBank(t, WithRequestGuard(heldGuard{err: redlock.ErrLockHeld}))
		seedAccount(t, ds, "acc_a", 1000)
		seedAccount(t, ds, "acc_b", 0)

		_, err := cb.Post(context.Background(), transferRequest("req-guarded", 100))
		assert.ErrorIs(t, err, model.ErrRequestInProgress)
		assert.Equal(t, int64(1000), balanceOf(t, ds, "acc_a"))
	})

	t.Run("unavailable guard falls back to the log", func(t *testing.T) {
		cb, ds := newTestCoreBank(t, WithRequestGuard(heldGuard{err: errors.New("redis down")}))
		seedAccount(t, ds, "acc_a", 1000)
		seedAccount(t, ds, "acc_b", 0)

		outcome, err := cb.Post(context.Background(), transferRequest("req-unguarded", 100))
		require.NoError(t, err)
		assert.Equal(t, model.StatusApplied, outcome.Transaction.Status)
	})
}

func TestRedisRequestGuard(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	guard := NewRedisRequestGuard(client, 5*time.Second)
	ctx := context.Background()

	release, err := guard.Acquire(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("corebank:request:req-1"))

	_, err = guard.Acquire(ctx, "req-1")
	assert.ErrorIs(t, err, redlock.ErrLockHeld)

	release()
	assert.False(t, mr.Exists("corebank:request:req-1"))

	again, err := guard.Acquire(ctx, "req-1")
	require.NoError(t, err)
	again()
}

func TestPost_ReplayCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	conf := testConfig()
	conf.Redis.Dns = mr.Addr()
	config.MockConfig(conf)
	replayCache, err := cache.NewCache(conf)
	require.NoError(t, err)

	cb, ds := newTestCoreBank(t, WithCache(replayCache))
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	ctx := context.Background()

	outcome, err := cb.Post(ctx, transferRequest("req-cached", 100))
	require.NoError(t, err)
	assert.True(t, mr.Exists(replayKey("req-cached")))

	replay, err := cb.Post(ctx, transferRequest("req-cached", 100))
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, outcome.Transaction.TransactionID, replay.Transaction.TransactionID)
	assert.Equal(t, model.StatusApplied, replay.Transaction.Status)

	_, err = cb.Post(ctx, transferRequest("req-cached", 999))
	assert.ErrorIs(t, err, model.ErrIdempotencyKeyConflict)
}
