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

package database

import (
	"context"
	"time"

	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	LedgerStore
	TransactionLog
	fastTransaction
}

// LedgerStore owns account state. TryApplyDelta is the only operation that
// changes a balance.
type LedgerStore interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	GetAccountByIBAN(ctx context.Context, iban string) (*model.Account, error)
	GetAccountByNumber(ctx context.Context, number string) (*model.Account, error)
	// GetAccounts reads a snapshot of every id, returned in canonical (ascending id) order.
	GetAccounts(ctx context.Context, ids ...string) ([]*model.Account, error)
	// TryApplyDelta adds delta to the balance if the stored version still equals
	// expectedVersion, bumping the version and recomputing debt in the same step.
	TryApplyDelta(ctx context.Context, id string, delta money.Money, expectedVersion int64) (model.BalanceUpdate, error)
	// DeactivateAccount clears the active flag and bumps the version.
	DeactivateAccount(ctx context.Context, id string) error
}

// TransactionLog is the durable record of posting attempts keyed by request key.
type TransactionLog interface {
	// RecordPending inserts txn with status PENDING. A duplicate request key yields model.ErrAlreadyExists.
	RecordPending(ctx context.Context, txn *model.CashTransaction) error
	MarkApplied(ctx context.Context, id string, snapshot model.ResultSnapshot) error
	MarkFailed(ctx context.Context, id string, kind model.FailureKind) error
	MarkReversed(ctx context.Context, id string, reversalID string) error
	// FindByRequestKey returns nil and no error when the key is unknown.
	FindByRequestKey(ctx context.Context, key string) (*model.CashTransaction, error)
	GetTransaction(ctx context.Context, id string) (*model.CashTransaction, error)
	GetTransactionHistory(ctx context.Context, accountID string, page model.Page) ([]*model.CashTransaction, error)
	// GetStalePending lists PENDING transactions last updated before cutoff, oldest first.
	GetStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*model.CashTransaction, error)
	UpdateTransactionMetadata(ctx context.Context, id string, metaData map[string]interface{}) error
}

type fastTransaction interface {
	RecordFastTransaction(ctx context.Context, fast *model.FastTransaction) error
	GetFastTransaction(ctx context.Context, id string) (*model.FastTransaction, error)
	GetFastTransactionByTransactionID(ctx context.Context, transactionID string) (*model.FastTransaction, error)
	UpdateSettlementStatus(ctx context.Context, id string, status model.SettlementStatus, reference string) error
}
