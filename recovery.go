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
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/model"
)

const (
	stuckFlaggedAtKey = "stuck_flagged_at"
	stuckEvent        = "transaction.stuck"
	recoveryBatchSize = 500
)

// StuckTransactionRecovery periodically flags transactions that stayed
// PENDING past the stuck threshold. A stuck transaction may have moved
// balances, so it is never failed or retried automatically: it is logged and
// announced once with a transaction.stuck webhook for an operator to settle.
type StuckTransactionRecovery struct {
	corebank     *CoreBank
	threshold    time.Duration
	pollInterval time.Duration
	batchSize    int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

func NewStuckTransactionRecovery(c *CoreBank) *StuckTransactionRecovery {
	p := &StuckTransactionRecovery{
		corebank:     c,
		threshold:    c.config.Ledger.StuckThreshold(),
		pollInterval: c.config.Ledger.RecoveryInterval(),
		batchSize:    recoveryBatchSize,
	}
	if p.threshold <= 0 {
		p.threshold = config.DEFAULT_STUCK_THRESHOLD_SEC * time.Second
	}
	if p.pollInterval <= 0 {
		p.pollInterval = config.DEFAULT_RECOVERY_INTERVAL_SEC * time.Second
	}
	return p
}

func (p *StuckTransactionRecovery) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
	logrus.Info("stuck transaction recovery started")
}

func (p *StuckTransactionRecovery) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	logrus.Info("stuck transaction recovery stopped")
}

func (p *StuckTransactionRecovery) run(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if _, err := p.FlagStuck(ctx, time.Now().UTC().Add(-p.threshold)); err != nil {
				logrus.Errorf("failed to scan for stuck transactions: %v", err)
			}
		}
	}
}

// FlagStuck flags every not yet flagged PENDING transaction last updated
// before cutoff and returns how many it flagged.
func (p *StuckTransactionRecovery) FlagStuck(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := p.corebank.datasource.GetStalePending(ctx, cutoff, p.batchSize)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, txn := range stale {
		if _, done := txn.MetaData[stuckFlaggedAtKey]; done {
			continue
		}
		if err := p.flag(ctx, txn); err != nil {
			logrus.WithField("transaction_id", txn.TransactionID).Errorf("failed to flag stuck transaction: %v", err)
			continue
		}
		flagged++
	}
	return flagged, nil
}

func (p *StuckTransactionRecovery) flag(ctx context.Context, txn *model.CashTransaction) error {
	meta := make(map[string]interface{}, len(txn.MetaData)+1)
	for k, v := range txn.MetaData {
		meta[k] = v
	}
	meta[stuckFlaggedAtKey] = time.Now().UTC().Format(time.RFC3339)
	if err := p.corebank.datasource.UpdateTransactionMetadata(ctx, txn.TransactionID, meta); err != nil {
		return err
	}
	txn.MetaData = meta

	logrus.WithFields(logrus.Fields{
		"transaction_id": txn.TransactionID,
		"request_key":    txn.RequestKey,
		"pending_since":  txn.UpdatedAt,
	}).Error("transaction stuck in PENDING, needs manual settlement")
	p.corebank.dispatchWebhook(ctx, stuckEvent, txn)
	return nil
}
