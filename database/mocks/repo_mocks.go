package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

// MockDataSource is a testify mock of database.IDataSource.
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) CreateAccount(ctx context.Context, account *model.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockDataSource) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *MockDataSource) GetAccountByIBAN(ctx context.Context, iban string) (*model.Account, error) {
	args := m.Called(ctx, iban)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *MockDataSource) GetAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Account), args.Error(1)
}

func (m *MockDataSource) GetAccounts(ctx context.Context, ids ...string) ([]*model.Account, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Account), args.Error(1)
}

func (m *MockDataSource) TryApplyDelta(ctx context.Context, id string, delta money.Money, expectedVersion int64) (model.BalanceUpdate, error) {
	args := m.Called(ctx, id, delta, expectedVersion)
	return args.Get(0).(model.BalanceUpdate), args.Error(1)
}

func (m *MockDataSource) DeactivateAccount(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDataSource) RecordPending(ctx context.Context, txn *model.CashTransaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockDataSource) MarkApplied(ctx context.Context, id string, snapshot model.ResultSnapshot) error {
	args := m.Called(ctx, id, snapshot)
	return args.Error(0)
}

func (m *MockDataSource) MarkFailed(ctx context.Context, id string, kind model.FailureKind) error {
	args := m.Called(ctx, id, kind)
	return args.Error(0)
}

func (m *MockDataSource) MarkReversed(ctx context.Context, id string, reversalID string) error {
	args := m.Called(ctx, id, reversalID)
	return args.Error(0)
}

func (m *MockDataSource) FindByRequestKey(ctx context.Context, key string) (*model.CashTransaction, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CashTransaction), args.Error(1)
}

func (m *MockDataSource) GetTransaction(ctx context.Context, id string) (*model.CashTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CashTransaction), args.Error(1)
}

func (m *MockDataSource) GetTransactionHistory(ctx context.Context, accountID string, page model.Page) ([]*model.CashTransaction, error) {
	args := m.Called(ctx, accountID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CashTransaction), args.Error(1)
}

func (m *MockDataSource) GetStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.CashTransaction, error) {
	args := m.Called(ctx, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.CashTransaction), args.Error(1)
}

func (m *MockDataSource) UpdateTransactionMetadata(ctx context.Context, id string, metaData map[string]interface{}) error {
	args := m.Called(ctx, id, metaData)
	return args.Error(0)
}

func (m *MockDataSource) RecordFastTransaction(ctx context.Context, fast *model.FastTransaction) error {
	args := m.Called(ctx, fast)
	return args.Error(0)
}

func (m *MockDataSource) GetFastTransaction(ctx context.Context, id string) (*model.FastTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FastTransaction), args.Error(1)
}

func (m *MockDataSource) GetFastTransactionByTransactionID(ctx context.Context, transactionID string) (*model.FastTransaction, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FastTransaction), args.Error(1)
}

func (m *MockDataSource) UpdateSettlementStatus(ctx context.Context, id string, status model.SettlementStatus, reference string) error {
	args := m.Called(ctx, id, status, reference)
	return args.Error(0)
}
