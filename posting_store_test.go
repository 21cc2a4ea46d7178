package corebank

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/database/mocks"
	"github.com/blnkfinance/corebank/model"
)

func newMockedCoreBank(t *testing.T) (*CoreBank, *mocks.MockDataSource) {
	t.Helper()
	config.MockConfig(testConfig())
	ds := new(mocks.MockDataSource)
	cb, err := NewCoreBank(ds)
	require.NoError(t, err)
	return cb, ds
}

func depositRequest(key string, amount int64) PostRequest {
	return PostRequest{
		RequestKey:      key,
		Type:            model.TransactionTypeDeposit,
		SourceAccountID: "acc_a",
		Amount:          try(amount),
	}
}

func TestPost_RecordPendingFailureMovesNothing(t *testing.T) {
	cb, ds := newMockedCoreBank(t)
	dbErr := errors.New("connection reset by peer")

	ds.On("FindByRequestKey", mock.Anything, "dep-1").Return(nil, nil)
	ds.On("RecordPending", mock.Anything, mock.AnythingOfType("*model.CashTransaction")).Return(dbErr)

	out, err := cb.Post(context.Background(), depositRequest("dep-1", 100))
	assert.ErrorIs(t, err, dbErr)
	assert.Nil(t, out)

	ds.AssertExpectations(t)
	ds.AssertNotCalled(t, "TryApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPost_StoreWriteFailureIsRecordedAsInternal(t *testing.T) {
	cb, ds := newMockedCoreBank(t)
	acc, err := model.NewAccount("acc_a", "1234567890", model.AccountTypeCurrent, "TRY")
	require.NoError(t, err)
	dbErr := errors.New("disk full")

	ds.On("FindByRequestKey", mock.Anything, "dep-2").Return(nil, nil)
	ds.On("RecordPending", mock.Anything, mock.AnythingOfType("*model.CashTransaction")).Return(nil)
	ds.On("GetAccount", mock.Anything, "acc_a").Return(acc, nil)
	ds.On("TryApplyDelta", mock.Anything, "acc_a", try(100), int64(0)).Return(model.BalanceUpdate{}, dbErr).Once()
	ds.On("MarkFailed", mock.Anything, mock.AnythingOfType("string"), model.KindInternal).Return(nil)

	out, err := cb.Post(context.Background(), depositRequest("dep-2", 100))
	assert.ErrorIs(t, err, dbErr)
	require.NotNil(t, out)
	assert.Equal(t, model.StatusFailed, out.Transaction.Status)
	assert.Equal(t, model.KindInternal, out.Transaction.FailureReason)

	ds.AssertExpectations(t)
	ds.AssertNotCalled(t, "MarkApplied", mock.Anything, mock.Anything, mock.Anything)
}

func TestPost_UnknownAccountIsRecordedAsFailed(t *testing.T) {
	cb, ds := newMockedCoreBank(t)

	ds.On("FindByRequestKey", mock.Anything, "dep-4").Return(nil, nil)
	ds.On("RecordPending", mock.Anything, mock.AnythingOfType("*model.CashTransaction")).Return(nil)
	ds.On("GetAccount", mock.Anything, "acc_a").Return(nil, fmt.Errorf("%w: acc_a", model.ErrAccountNotFound))
	ds.On("MarkFailed", mock.Anything, mock.AnythingOfType("string"), model.KindAccountNotFound).Return(nil)

	out, err := cb.Post(context.Background(), depositRequest("dep-4", 100))
	assert.ErrorIs(t, err, model.ErrAccountNotFound)
	require.NotNil(t, out)
	assert.Equal(t, model.StatusFailed, out.Transaction.Status)
	assert.Equal(t, model.KindAccountNotFound, out.Transaction.FailureReason)

	ds.AssertExpectations(t)
	ds.AssertNotCalled(t, "TryApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPost_AccountReferenceRejectedByLog(t *testing.T) {
	cb, ds := newMockedCoreBank(t)

	ds.On("FindByRequestKey", mock.Anything, "dep-5").Return(nil, nil)
	ds.On("RecordPending", mock.Anything, mock.AnythingOfType("*model.CashTransaction")).
		Return(fmt.Errorf("record transaction with request key dep-5: %w", model.ErrAccountNotFound))

	_, err := cb.Post(context.Background(), depositRequest("dep-5", 100))
	assert.Equal(t, model.KindAccountNotFound, model.KindOf(err))
	ds.AssertNotCalled(t, "GetAccount", mock.Anything, mock.Anything)
}

func TestPost_MarkAppliedIsRetried(t *testing.T) {
	cb, ds := newMockedCoreBank(t)
	acc, err := model.NewAccount("acc_a", "1234567890", model.AccountTypeCurrent, "TRY")
	require.NoError(t, err)
	update := model.BalanceUpdate{AccountID: "acc_a", NewBalance: try(100), NewVersion: 1}

	ds.On("FindByRequestKey", mock.Anything, "dep-6").Return(nil, nil)
	ds.On("RecordPending", mock.Anything, mock.AnythingOfType("*model.CashTransaction")).Return(nil)
	ds.On("GetAccount", mock.Anything, "acc_a").Return(acc, nil)
	ds.On("TryApplyDelta", mock.Anything, "acc_a", try(100), int64(0)).Return(update, nil).Once()
	ds.On("MarkApplied", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(errors.New("connection reset")).Twice()
	ds.On("MarkApplied", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, err := cb.Post(ctx, depositRequest("dep-6", 100))
	require.NoError(t, err)
	assert.Equal(t, model.StatusApplied, out.Transaction.Status)
	assert.Equal(t, int64(100), out.Transaction.SenderRemainingBalance.Amount())

	ds.AssertExpectations(t)
	ds.AssertNumberOfCalls(t, "MarkApplied", 3)
	ds.AssertNumberOfCalls(t, "TryApplyDelta", 1)
}

func TestPost_ReplayFromStoreSkipsWrites(t *testing.T) {
	cb, ds := newMockedCoreBank(t)
	req := depositRequest("dep-3", 100)
	req.applyDefaults()
	applied := req.draft(req.fingerprint())
	applied.Status = model.StatusApplied

	ds.On("FindByRequestKey", mock.Anything, "dep-3").Return(applied, nil)

	out, err := cb.Post(context.Background(), depositRequest("dep-3", 100))
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.Equal(t, applied.TransactionID, out.Transaction.TransactionID)

	ds.AssertNotCalled(t, "RecordPending", mock.Anything, mock.Anything)
}
