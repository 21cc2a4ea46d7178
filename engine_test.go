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
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/corebank/database"
	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

var testPolicy = RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

func TestApplyTransfer_MovesFunds(t *testing.T) {
	ds := database.NewMemoryDataSource()
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	engine := NewTransferEngine(ds, testPolicy)

	result, err := engine.ApplyTransfer(context.Background(), TransferRequest{
		SourceID:      "acc_a",
		DestinationID: "acc_b",
		Amount:        try(300),
		Kind:          model.TransactionTypeTransfer,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(700), result.Source.NewBalance.Amount())
	require.NotNil(t, result.Destination)
	assert.Equal(t, int64(300), result.Destination.NewBalance.Amount())
	assert.Equal(t, int64(700), balanceOf(t, ds, "acc_a"))
	assert.Equal(t, int64(300), balanceOf(t, ds, "acc_b"))

	snap := result.Snapshot()
	assert.Equal(t, int64(700), snap.SenderRemainingBalance.Amount())
	assert.Equal(t, int64(300), snap.RecipientRemainingBalance.Amount())
}

func TestApplyTransfer_SingleAccount(t *testing.T) {
	ds := database.NewMemoryDataSource()
	seedAccount(t, ds, "acc_a", 1000)
	engine := NewTransferEngine(ds, testPolicy)
	ctx := context.Background()

	result, err := engine.ApplyTransfer(ctx, TransferRequest{SourceID: "acc_a", Amount: try(250), Kind: model.TransactionTypeDeposit})
	require.NoError(t, err)
	assert.Equal(t, int64(1250), result.Source.NewBalance.Amount())
	assert.Nil(t, result.Destination)
	assert.Nil(t, result.Snapshot().RecipientRemainingBalance)

	for _, kind := range []model.TransactionType{model.TransactionTypeWithdrawal, model.TransactionTypeCommissionFees} {
		_, err = engine.ApplyTransfer(ctx, TransferRequest{SourceID: "acc_a", Amount: try(100), Kind: kind})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1050), balanceOf(t, ds, "acc_a"))
}

func TestApplyTransfer_Rejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, ds *database.MemoryDataSource)
		req     TransferRequest
		wantErr error
	}{
		{
			name:    "zero amount",
			req:     TransferRequest{SourceID: "acc_a", DestinationID: "acc_b", Amount: try(0)},
			wantErr: model.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			req:     TransferRequest{SourceID: "acc_a", DestinationID: "acc_b", Amount: try(-5)},
			wantErr: model.ErrInvalidAmount,
		},
		{
			name:    "same account",
			req:     TransferRequest{SourceID: "acc_a", DestinationID: "acc_a", Amount: try(5)},
			wantErr: model.ErrSameAccount,
		},
		{
			name:    "missing source",
			req:     TransferRequest{DestinationID: "acc_b", Amount: try(5)},
			wantErr: model.ErrInvalidRequest,
		},
		{
			name:    "unknown destination",
			req:     TransferRequest{SourceID: "acc_a", DestinationID: "acc_zz", Amount: try(5)},
			wantErr: model.ErrAccountNotFound,
		},
		{
			name:    "currency mismatch",
			req:     TransferRequest{SourceID: "acc_a", DestinationID: "acc_b", Amount: money.MustNew(5, "USD")},
			wantErr: model.ErrCurrencyMismatch,
		},
		{
			name:    "insufficient funds",
			req:     TransferRequest{SourceID: "acc_a", DestinationID: "acc_b", Amount: try(1001)},
			wantErr: model.ErrInsufficientFunds,
		},
		{
			name: "inactive destination",
			setup: func(t *testing.T, ds *database.MemoryDataSource) {
				require.NoError(t, ds.DeactivateAccount(ctx, "acc_b"))
			},
			req:     TransferRequest{SourceID: "acc_a", DestinationID: "acc_b", Amount: try(5)},
			wantErr: model.ErrAccountInactive,
		},
		{
			name: "inactive source withdrawal",
			setup: func(t *testing.T, ds *database.MemoryDataSource) {
				require.NoError(t, ds.DeactivateAccount(ctx, "acc_a"))
			},
			req:     TransferRequest{SourceID: "acc_a", Amount: try(5), Kind: model.TransactionTypeWithdrawal},
			wantErr: model.ErrAccountInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := database.NewMemoryDataSource()
			seedAccount(t, ds, "acc_a", 1000)
			seedAccount(t, ds, "acc_b", 0)
			if tt.setup != nil {
				tt.setup(t, ds)
			}

			_, err := NewTransferEngine(ds, testPolicy).ApplyTransfer(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int64(1000), balanceOf(t, ds, "acc_a"))
			assert.Equal(t, int64(0), balanceOf(t, ds, "acc_b"))
		})
	}
}

func TestApplyTransfer_OverdraftFloor(t *testing.T) {
	ctx := context.Background()
	ds := database.NewMemoryDataSource()
	acc, err := model.NewAccount("acc_od", "0000000001", model.AccountTypeCurrent, "TRY")
	require.NoError(t, err)
	acc.Balance = try(100)
	acc.AllowedBalanceToUse = try(500)
	require.NoError(t, ds.CreateAccount(ctx, acc))
	engine := NewTransferEngine(ds, testPolicy)

	result, err := engine.ApplyTransfer(ctx, TransferRequest{SourceID: "acc_od", Amount: try(600), Kind: model.TransactionTypeWithdrawal})
	require.NoError(t, err)
	assert.Equal(t, int64(-500), result.Source.NewBalance.Amount())

	stored, err := ds.GetAccount(ctx, "acc_od")
	require.NoError(t, err)
	assert.Equal(t, int64(500), stored.Debt.Amount())
	assert.True(t, stored.Available().IsZero())

	_, err = engine.ApplyTransfer(ctx, TransferRequest{SourceID: "acc_od", Amount: try(1), Kind: model.TransactionTypeWithdrawal})
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)
	assert.Equal(t, int64(-500), balanceOf(t, ds, "acc_od"))
}

func TestApplyTransfer_RetriesDebitConflicts(t *testing.T) {
	ds := database.NewMemoryDataSource()
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	store := newFaultyStore(ds)
	store.conflicts["acc_a"] = 2

	_, err := NewTransferEngine(store, testPolicy).ApplyTransfer(context.Background(), TransferRequest{
		SourceID: "acc_a", DestinationID: "acc_b", Amount: try(100), Kind: model.TransactionTypeTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, store.writesTo("acc_a"))
	assert.Equal(t, 1, store.writesTo("acc_b"))
	assert.Equal(t, int64(900), balanceOf(t, ds, "acc_a"))
	assert.Equal(t, int64(100), balanceOf(t, ds, "acc_b"))
}

func TestApplyTransfer_ExhaustedBudget(t *testing.T) {
	ds := database.NewMemoryDataSource()
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	store := newFaultyStore(ds)
	store.conflicts["acc_a"] = 100
	policy := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

	_, err := NewTransferEngine(store, policy).ApplyTransfer(context.Background(), TransferRequest{
		SourceID: "acc_a", DestinationID: "acc_b", Amount: try(100), Kind: model.TransactionTypeTransfer,
	})
	assert.ErrorIs(t, err, model.ErrConcurrentUpdateExhausted)
	assert.Equal(t, model.KindConcurrentUpdateExhausted, model.KindOf(err))
	assert.Equal(t, 3, store.writesTo("acc_a"))
	assert.Equal(t, 0, store.writesTo("acc_b"))
	assert.Equal(t, int64(1000), balanceOf(t, ds, "acc_a"))
}

func TestApplyTransfer_CreditConflictRereadsDestinationOnly(t *testing.T) {
	ds := database.NewMemoryDataSource()
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	store := newFaultyStore(ds)
	store.conflicts["acc_b"] = 2

	_, err := NewTransferEngine(store, testPolicy).ApplyTransfer(context.Background(), TransferRequest{
		SourceID: "acc_a", DestinationID: "acc_b", Amount: try(100), Kind: model.TransactionTypeTransfer,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.writesTo("acc_a"))
	assert.Equal(t, 3, store.writesTo("acc_b"))
	assert.Equal(t, int64(900), balanceOf(t, ds, "acc_a"))
	assert.Equal(t, int64(100), balanceOf(t, ds, "acc_b"))
}

func TestApplyTransfer_CompensatesFailedCredit(t *testing.T) {
	ds := database.NewMemoryDataSource()
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	store := newFaultyStore(ds)
	store.fail["acc_b"] = errors.New("disk full")

	_, err := NewTransferEngine(store, testPolicy).ApplyTransfer(context.Background(), TransferRequest{
		SourceID: "acc_a", DestinationID: "acc_b", Amount: try(100), Kind: model.TransactionTypeTransfer,
	})
	require.Error(t, err)
	assert.EqualError(t, err, "disk full")
	assert.NotErrorIs(t, err, model.ErrCompensationFailed)

	// debit plus refund
	assert.Equal(t, 2, store.writesTo("acc_a"))
	assert.Equal(t, int64(1000), balanceOf(t, ds, "acc_a"))
	assert.Equal(t, int64(0), balanceOf(t, ds, "acc_b"))
}

func TestApplyTransfer_CompensatesExhaustedCredit(t *testing.T) {
	ds := database.NewMemoryDataSource()
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	store := newFaultyStore(ds)
	store.conflicts["acc_b"] = 100

	_, err := NewTransferEngine(store, testPolicy).ApplyTransfer(context.Background(), TransferRequest{
		SourceID: "acc_a", DestinationID: "acc_b", Amount: try(100), Kind: model.TransactionTypeTransfer,
	})
	assert.ErrorIs(t, err, model.ErrConcurrentUpdateExhausted)
	assert.Equal(t, testPolicy.MaxAttempts, store.writesTo("acc_b"))
	assert.Equal(t, int64(1000), balanceOf(t, ds, "acc_a"))
	assert.Equal(t, int64(0), balanceOf(t, ds, "acc_b"))
}

func TestApplyTransfer_CompensationFailure(t *testing.T) {
	ds := database.NewMemoryDataSource()
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	store := newFaultyStore(ds)
	store.fail["acc_b"] = errors.New("disk full")
	store.fail["acc_a"] = errors.New("connection reset")
	store.failFrom["acc_a"] = 2

	_, err := NewTransferEngine(store, testPolicy).ApplyTransfer(context.Background(), TransferRequest{
		SourceID: "acc_a", DestinationID: "acc_b", Amount: try(100), Kind: model.TransactionTypeTransfer,
	})
	assert.ErrorIs(t, err, model.ErrCompensationFailed)
	assert.Equal(t, model.KindCompensationFailed, model.KindOf(err))
	assert.Equal(t, int64(900), balanceOf(t, ds, "acc_a"))
}

func TestApplyTransfer_CompensationSurvivesCancellation(t *testing.T) {
	ds := database.NewMemoryDataSource()
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	store := newFaultyStore(ds)
	store.fail["acc_b"] = context.Canceled

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelling := &cancelOnWrite{faultyStore: store, target: "acc_b", cancel: cancel}

	_, err := NewTransferEngine(cancelling, testPolicy).ApplyTransfer(ctx, TransferRequest{
		SourceID: "acc_a", DestinationID: "acc_b", Amount: try(100), Kind: model.TransactionTypeTransfer,
	})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrCompensationFailed)
	assert.Equal(t, int64(1000), balanceOf(t, ds, "acc_a"))
}

// cancelOnWrite cancels the caller's context when target is written.
type cancelOnWrite struct {
	*faultyStore
	target string
	cancel context.CancelFunc
}

func (c *cancelOnWrite) TryApplyDelta(ctx context.Context, id string, delta money.Money, expectedVersion int64) (model.BalanceUpdate, error) {
	if id == c.target {
		c.cancel()
	}
	return c.faultyStore.TryApplyDelta(ctx, id, delta, expectedVersion)
}

func TestApplyTransfer_ConcurrentConservation(t *testing.T) {
	ctx := context.Background()
	ds := database.NewMemoryDataSource()
	ids := []string{"acc_1", "acc_2", "acc_3", "acc_4"}
	for _, id := range ids {
		seedAccount(t, ds, id, 10_000)
	}
	engine := NewTransferEngine(ds, RetryPolicy{MaxAttempts: 50, BaseDelay: 100 * time.Microsecond, MaxDelay: time.Millisecond})

	const workers, transfers = 8, 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < transfers; i++ {
				from := ids[rng.Intn(len(ids))]
				to := ids[rng.Intn(len(ids))]
				if from == to {
					continue
				}
				_, err := engine.ApplyTransfer(ctx, TransferRequest{
					SourceID: from, DestinationID: to, Amount: try(int64(rng.Intn(500) + 1)), Kind: model.TransactionTypeTransfer,
				})
				switch {
				case err == nil:
					mu.Lock()
					applied++
					mu.Unlock()
				case errors.Is(err, model.ErrInsufficientFunds), errors.Is(err, model.ErrConcurrentUpdateExhausted):
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	var total int64
	for _, id := range ids {
		b := balanceOf(t, ds, id)
		assert.GreaterOrEqual(t, b, int64(0), fmt.Sprintf("%s went below its floor", id))
		total += b
	}
	assert.Equal(t, int64(40_000), total)
	assert.Positive(t, applied)
}
