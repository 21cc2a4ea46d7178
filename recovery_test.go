package corebank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/corebank/model"
)

func TestFlagStuck(t *testing.T) {
	hooks := &recordingDispatcher{}
	cb, ds := newTestCoreBank(t, WithDispatcher(hooks))
	seedAccount(t, ds, "acc_a", 1000)
	seedAccount(t, ds, "acc_b", 0)
	ctx := context.Background()

	stuck := transferRequest("req-stuck", 100).draft("hash")
	require.NoError(t, ds.RecordPending(ctx, stuck))
	_, err := cb.Post(ctx, transferRequest("req-done", 100))
	require.NoError(t, err)

	recovery := NewStuckTransactionRecovery(cb)

	n, err := recovery.FlagStuck(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "fresh pending transactions are left alone")

	n, err = recovery.FlagStuck(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, hooks.events(), "transaction.stuck")

	flagged, err := cb.GetTransaction(ctx, stuck.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, flagged.Status)
	assert.Contains(t, flagged.MetaData, "stuck_flagged_at")

	n, err = recovery.FlagStuck(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n, "a stuck transaction is announced once")
	assert.Equal(t, int64(900), balanceOf(t, ds, "acc_a"))
}

func TestRecoveryStartStop(t *testing.T) {
	cb, _ := newTestCoreBank(t)
	recovery := NewStuckTransactionRecovery(cb)

	recovery.Start(context.Background())
	recovery.Start(context.Background())
	recovery.Stop()
	recovery.Stop()
}
