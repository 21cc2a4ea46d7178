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
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

// MemoryDataSource is an IDataSource held in process memory. Every method
// takes the single mutex, so each call is atomic with respect to the others.
type MemoryDataSource struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account
	transactions map[string]*model.CashTransaction
	insertOrder  []string
	requestKeys  map[string]string
	fast         map[string]*model.FastTransaction
	fastByTxn    map[string]string
	clock        func() time.Time
}

func NewMemoryDataSource() *MemoryDataSource {
	return &MemoryDataSource{
		accounts:     make(map[string]*model.Account),
		transactions: make(map[string]*model.CashTransaction),
		requestKeys:  make(map[string]string),
		fast:         make(map[string]*model.FastTransaction),
		fastByTxn:    make(map[string]string),
		clock:        func() time.Time { return time.Now().UTC() },
	}
}

func copyMeta(src map[string]interface{}) map[string]interface{} {
	if src == nil {
		return nil
	}
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneAccount(a *model.Account) *model.Account {
	c := *a
	c.MetaData = copyMeta(a.MetaData)
	return &c
}

func copyMoney(m *money.Money) *money.Money {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

func cloneTransaction(t *model.CashTransaction) *model.CashTransaction {
	c := *t
	c.MetaData = copyMeta(t.MetaData)
	c.SenderRemainingBalance = copyMoney(t.SenderRemainingBalance)
	c.RecipientRemainingBalance = copyMoney(t.RecipientRemainingBalance)
	return &c
}

func (m *MemoryDataSource) CreateAccount(_ context.Context, account *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[account.AccountID]; ok {
		return errors.Wrapf(model.ErrAlreadyExists, "account %s", account.AccountID)
	}
	for _, existing := range m.accounts {
		if existing.AccountNumber == account.AccountNumber {
			return errors.Wrapf(model.ErrAlreadyExists, "account number %s", account.AccountNumber)
		}
		if account.IBAN != "" && existing.IBAN == account.IBAN {
			return errors.Wrapf(model.ErrAlreadyExists, "iban %s", account.IBAN)
		}
	}
	if !account.WithinFloor(account.Balance) {
		return errors.Wrapf(model.ErrInsufficientFunds, "opening balance of account %s", account.AccountID)
	}
	now := m.clock()
	account.CreatedAt, account.UpdatedAt = now, now
	m.accounts[account.AccountID] = cloneAccount(account)
	return nil
}

func (m *MemoryDataSource) GetAccount(_ context.Context, id string) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[id]
	if !ok {
		return nil, errors.Wrapf(model.ErrAccountNotFound, "account with account_id '%s'", id)
	}
	return cloneAccount(acc), nil
}

func (m *MemoryDataSource) findAccount(match func(*model.Account) bool, what string) (*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, acc := range m.accounts {
		if match(acc) {
			return cloneAccount(acc), nil
		}
	}
	return nil, errors.Wrapf(model.ErrAccountNotFound, "account with %s", what)
}

func (m *MemoryDataSource) GetAccountByIBAN(_ context.Context, iban string) (*model.Account, error) {
	iban = model.NormalizeIBAN(iban)
	return m.findAccount(func(a *model.Account) bool { return a.IBAN == iban }, "iban '"+iban+"'")
}

func (m *MemoryDataSource) GetAccountByNumber(_ context.Context, number string) (*model.Account, error) {
	return m.findAccount(func(a *model.Account) bool { return a.AccountNumber == number }, "account_number '"+number+"'")
}

func (m *MemoryDataSource) GetAccounts(_ context.Context, ids ...string) ([]*model.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ordered := model.CanonicalOrder(ids...)
	accounts := make([]*model.Account, 0, len(ordered))
	for _, id := range ordered {
		acc, ok := m.accounts[id]
		if !ok {
			return nil, errors.Wrapf(model.ErrAccountNotFound, "account with account_id '%s'", id)
		}
		accounts = append(accounts, cloneAccount(acc))
	}
	return accounts, nil
}

func (m *MemoryDataSource) TryApplyDelta(_ context.Context, id string, delta money.Money, expectedVersion int64) (model.BalanceUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[id]
	if !ok {
		return model.BalanceUpdate{}, errors.Wrapf(model.ErrAccountNotFound, "account with account_id '%s'", id)
	}
	if acc.Currency != delta.CurrencyCode() {
		return model.BalanceUpdate{}, errors.Wrapf(model.ErrCurrencyMismatch, "account %s holds %s", id, acc.Currency)
	}
	if acc.Version != expectedVersion {
		return model.BalanceUpdate{}, errors.Wrapf(model.ErrVersionConflict, "account %s at version %d, expected %d", id, acc.Version, expectedVersion)
	}
	balance, err := acc.Balance.Add(delta)
	if err != nil {
		return model.BalanceUpdate{}, err
	}
	if delta.IsNegative() && !acc.WithinFloor(balance) {
		return model.BalanceUpdate{}, errors.Wrapf(model.ErrInsufficientFunds, "account %s", id)
	}

	acc.Balance = balance
	acc.Debt = model.DebtFor(balance)
	acc.Version++
	acc.UpdatedAt = m.clock()
	return model.BalanceUpdate{AccountID: id, NewBalance: balance, NewVersion: acc.Version}, nil
}

func (m *MemoryDataSource) DeactivateAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[id]
	if !ok {
		return errors.Wrapf(model.ErrAccountNotFound, "account with account_id '%s'", id)
	}
	acc.Active = false
	acc.Version++
	acc.UpdatedAt = m.clock()
	return nil
}

func (m *MemoryDataSource) RecordPending(_ context.Context, txn *model.CashTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if txn.Status == "" {
		txn.Status = model.StatusReceived
	}
	if !txn.Status.CanTransitionTo(model.StatusPending) {
		return errors.Wrapf(model.ErrInvalidStatusTransition, "%s -> %s", txn.Status, model.StatusPending)
	}
	if _, ok := m.requestKeys[txn.RequestKey]; ok {
		return errors.Wrapf(model.ErrAlreadyExists, "transaction with request key %s", txn.RequestKey)
	}
	if _, ok := m.transactions[txn.TransactionID]; ok {
		return errors.Wrapf(model.ErrAlreadyExists, "transaction %s", txn.TransactionID)
	}

	now := m.clock()
	txn.Status = model.StatusPending
	txn.CreatedAt, txn.UpdatedAt = now, now
	m.transactions[txn.TransactionID] = cloneTransaction(txn)
	m.insertOrder = append(m.insertOrder, txn.TransactionID)
	m.requestKeys[txn.RequestKey] = txn.TransactionID
	return nil
}

func (m *MemoryDataSource) transition(id string, next model.TransactionStatus, apply func(*model.CashTransaction)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[id]
	if !ok {
		return errors.Wrapf(model.ErrTransactionNotFound, "transaction with ID '%s'", id)
	}
	if !txn.Status.CanTransitionTo(next) {
		return errors.Wrapf(model.ErrInvalidStatusTransition, "%s -> %s", txn.Status, next)
	}
	txn.Status = next
	txn.UpdatedAt = m.clock()
	apply(txn)
	return nil
}

func (m *MemoryDataSource) MarkApplied(_ context.Context, id string, snapshot model.ResultSnapshot) error {
	return m.transition(id, model.StatusApplied, func(txn *model.CashTransaction) {
		txn.SenderRemainingBalance = copyMoney(snapshot.SenderRemainingBalance)
		txn.RecipientRemainingBalance = copyMoney(snapshot.RecipientRemainingBalance)
	})
}

func (m *MemoryDataSource) MarkFailed(_ context.Context, id string, kind model.FailureKind) error {
	return m.transition(id, model.StatusFailed, func(txn *model.CashTransaction) {
		txn.FailureReason = kind
	})
}

func (m *MemoryDataSource) MarkReversed(_ context.Context, id string, reversalID string) error {
	return m.transition(id, model.StatusReversed, func(txn *model.CashTransaction) {
		txn.ReversedBy = reversalID
	})
}

func (m *MemoryDataSource) FindByRequestKey(_ context.Context, key string) (*model.CashTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.requestKeys[key]
	if !ok {
		return nil, nil
	}
	return cloneTransaction(m.transactions[id]), nil
}

func (m *MemoryDataSource) GetStalePending(_ context.Context, cutoff time.Time, limit int) ([]*model.CashTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stale := make([]*model.CashTransaction, 0)
	for _, id := range m.insertOrder {
		txn := m.transactions[id]
		if txn.Status == model.StatusPending && txn.UpdatedAt.Before(cutoff) {
			stale = append(stale, cloneTransaction(txn))
		}
	}
	sort.SliceStable(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (m *MemoryDataSource) UpdateTransactionMetadata(_ context.Context, id string, metaData map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.transactions[id]
	if !ok {
		return errors.Wrapf(model.ErrTransactionNotFound, "transaction with ID '%s'", id)
	}
	txn.MetaData = copyMeta(metaData)
	return nil
}

func (m *MemoryDataSource) GetTransaction(_ context.Context, id string) (*model.CashTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	txn, ok := m.transactions[id]
	if !ok {
		return nil, errors.Wrapf(model.ErrTransactionNotFound, "transaction with ID '%s'", id)
	}
	return cloneTransaction(txn), nil
}

func (m *MemoryDataSource) GetTransactionHistory(_ context.Context, accountID string, page model.Page) ([]*model.CashTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*model.CashTransaction, 0)
	for i := len(m.insertOrder) - 1; i >= 0; i-- {
		txn := m.transactions[m.insertOrder[i]]
		if txn.SourceAccountID == accountID || txn.DestinationAccountID == accountID {
			matched = append(matched, cloneTransaction(txn))
		}
	}

	offset := page.Offset()
	if offset >= len(matched) {
		return []*model.CashTransaction{}, nil
	}
	end := offset + page.Limit()
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (m *MemoryDataSource) RecordFastTransaction(_ context.Context, fast *model.FastTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.fast[fast.FastTransactionID]; ok {
		return errors.Wrapf(model.ErrAlreadyExists, "fast transaction %s", fast.FastTransactionID)
	}
	if _, ok := m.fastByTxn[fast.TransactionID]; ok {
		return errors.Wrapf(model.ErrAlreadyExists, "fast transaction for %s", fast.TransactionID)
	}
	now := m.clock()
	fast.CreatedAt, fast.UpdatedAt = now, now
	c := *fast
	m.fast[fast.FastTransactionID] = &c
	m.fastByTxn[fast.TransactionID] = fast.FastTransactionID
	return nil
}

func (m *MemoryDataSource) GetFastTransaction(_ context.Context, id string) (*model.FastTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fast, ok := m.fast[id]
	if !ok {
		return nil, errors.Wrapf(model.ErrTransactionNotFound, "fast transaction with fast_transaction_id '%s'", id)
	}
	c := *fast
	return &c, nil
}

func (m *MemoryDataSource) GetFastTransactionByTransactionID(ctx context.Context, transactionID string) (*model.FastTransaction, error) {
	m.mu.RLock()
	id, ok := m.fastByTxn[transactionID]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(model.ErrTransactionNotFound, "fast transaction with transaction_id '%s'", transactionID)
	}
	return m.GetFastTransaction(ctx, id)
}

func (m *MemoryDataSource) UpdateSettlementStatus(_ context.Context, id string, status model.SettlementStatus, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fast, ok := m.fast[id]
	if !ok {
		return errors.Wrapf(model.ErrTransactionNotFound, "fast transaction with fast_transaction_id '%s'", id)
	}
	if fast.SettlementStatus != model.SettlementPending {
		return errors.Wrapf(model.ErrInvalidStatusTransition, "fast transaction %s is already settled or rejected", id)
	}
	fast.SettlementStatus = status
	fast.SettlementReference = reference
	fast.UpdatedAt = m.clock()
	return nil
}
