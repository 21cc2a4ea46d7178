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
	"embed"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/database"
	"github.com/blnkfinance/corebank/internal/cache"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// Dispatcher hands work to the background workers. Queue is the production
// implementation.
type Dispatcher interface {
	SendWebhook(ctx context.Context, hook NewWebhook) error
	EnqueueSettlement(ctx context.Context, fastTransactionID string) error
}

// CoreBank is the money-movement service. Balances only change through its
// TransferEngine; every posting goes through the transaction log first.
type CoreBank struct {
	datasource database.IDataSource
	engine     *TransferEngine
	config     *config.Configuration
	cache      cache.Cache
	guard      RequestGuard
	dispatcher Dispatcher
	settlement SettlementGateway
}

type Option func(*CoreBank)

// WithCache enables the replay cache of finished postings.
func WithCache(c cache.Cache) Option {
	return func(cb *CoreBank) { cb.cache = c }
}

// WithRequestGuard serializes identical request keys across instances.
func WithRequestGuard(g RequestGuard) Option {
	return func(cb *CoreBank) { cb.guard = g }
}

func WithDispatcher(d Dispatcher) Option {
	return func(cb *CoreBank) { cb.dispatcher = d }
}

func WithSettlementGateway(g SettlementGateway) Option {
	return func(cb *CoreBank) { cb.settlement = g }
}

// WithRetryPolicy overrides the conflict retry policy taken from config.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(cb *CoreBank) { cb.engine = NewTransferEngine(cb.datasource, p) }
}

// NewCoreBank builds the service over ds using the loaded configuration.
func NewCoreBank(ds database.IDataSource, opts ...Option) (*CoreBank, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	cb := &CoreBank{
		datasource: ds,
		config:     cfg,
		engine:     NewTransferEngine(ds, RetryPolicyFromConfig(cfg.Ledger)),
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb, nil
}

func (c *CoreBank) Config() *config.Configuration {
	return c.config
}

// dispatchWebhook never fails the caller; delivery problems are logged.
func (c *CoreBank) dispatchWebhook(ctx context.Context, event string, payload interface{}) {
	if c.dispatcher == nil {
		return
	}
	if err := c.dispatcher.SendWebhook(ctx, NewWebhook{Event: event, Payload: payload}); err != nil {
		logrus.WithField("event", event).Errorf("failed to enqueue webhook: %v", err)
	}
}
