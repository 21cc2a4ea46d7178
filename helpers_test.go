package corebank

import (
	"context"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/database"
	"github.com/blnkfinance/corebank/model"
	"github.com/blnkfinance/corebank/money"
)

func testConfig() *config.Configuration {
	return &config.Configuration{
		ProjectName: "corebank-test",
		DataSource:  config.DataSourceConfig{InMemory: true},
		Ledger: config.LedgerConfig{
			MaxRetries:           5,
			RetryBaseDelayMs:     1,
			RetryMaxDelayMs:      2,
			PendingWaitTimeoutMs: 300,
		},
	}
}

func newTestCoreBank(t *testing.T, opts ...Option) (*CoreBank, *database.MemoryDataSource) {
	t.Helper()
	config.MockConfig(testConfig())
	ds := database.NewMemoryDataSource()
	cb, err := NewCoreBank(ds, opts...)
	require.NoError(t, err)
	return cb, ds
}

func try(minor int64) money.Money {
	return money.MustNew(minor, "TRY")
}

// seedAccount stores an active TRY account holding balance minor units.
func seedAccount(t *testing.T, ds database.LedgerStore, id string, balance int64) *model.Account {
	t.Helper()
	acc, err := model.NewAccount(id, gofakeit.Numerify("##########"), model.AccountTypeCurrent, "TRY")
	require.NoError(t, err)
	acc.Balance = try(balance)
	require.NoError(t, ds.CreateAccount(context.Background(), acc))
	return acc
}

func balanceOf(t *testing.T, ds database.LedgerStore, id string) int64 {
	t.Helper()
	acc, err := ds.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Balance.Amount()
}

// recordingDispatcher keeps every webhook and settlement it is handed.
type recordingDispatcher struct {
	mu          sync.Mutex
	webhooks    []NewWebhook
	settlements []string
}

func (d *recordingDispatcher) SendWebhook(_ context.Context, hook NewWebhook) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.webhooks = append(d.webhooks, hook)
	return nil
}

func (d *recordingDispatcher) EnqueueSettlement(_ context.Context, fastTransactionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settlements = append(d.settlements, fastTransactionID)
	return nil
}

func (d *recordingDispatcher) events() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.webhooks))
	for _, hook := range d.webhooks {
		out = append(out, hook.Event)
	}
	return out
}

// faultyStore wraps a ledger store and injects failures into TryApplyDelta.
// conflicts[id] version conflicts are returned for id before the real store is
// used. fail[id] makes writes to id fail with that error, starting at write
// number failFrom[id] when one is set.
type faultyStore struct {
	database.LedgerStore

	mu        sync.Mutex
	conflicts map[string]int
	fail      map[string]error
	failFrom  map[string]int
	writes    map[string]int
}

func newFaultyStore(inner database.LedgerStore) *faultyStore {
	return &faultyStore{
		LedgerStore: inner,
		conflicts:   map[string]int{},
		fail:        map[string]error{},
		failFrom:    map[string]int{},
		writes:      map[string]int{},
	}
}

func (s *faultyStore) TryApplyDelta(ctx context.Context, id string, delta money.Money, expectedVersion int64) (model.BalanceUpdate, error) {
	s.mu.Lock()
	s.writes[id]++
	if err := s.fail[id]; err != nil && s.writes[id] >= s.failFrom[id] {
		s.mu.Unlock()
		return model.BalanceUpdate{}, err
	}
	if s.conflicts[id] > 0 {
		s.conflicts[id]--
		s.mu.Unlock()
		return model.BalanceUpdate{}, model.ErrVersionConflict
	}
	s.mu.Unlock()
	return s.LedgerStore.TryApplyDelta(ctx, id, delta, expectedVersion)
}

func (s *faultyStore) writesTo(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[id]
}
