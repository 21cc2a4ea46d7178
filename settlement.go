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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/internal/request"
	"github.com/blnkfinance/corebank/model"
)

// ErrSettlementRejected means the gateway refused the transfer for good.
var ErrSettlementRejected = errors.New("settlement rejected by gateway")

// SettlementGateway clears a fast transaction with the receiving bank.
type SettlementGateway interface {
	Settle(ctx context.Context, fast *model.FastTransaction) (reference string, err error)
}

// HTTPSettlementGateway posts fast transactions to the clearing gateway.
type HTTPSettlementGateway struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func NewHTTPSettlementGateway(cfg config.SettlementConfig) *HTTPSettlementGateway {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = config.DEFAULT_SETTLEMENT_TIMEOUT_SEC * time.Second
	}
	return &HTTPSettlementGateway{
		url:     cfg.GatewayURL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}
}

type settlementRequest struct {
	FastTransactionID  string `json:"fast_transaction_id"`
	SourceIBAN         string `json:"source_iban"`
	RecipientIBAN      string `json:"recipient_iban"`
	RecipientFullName  string `json:"recipient_full_name"`
	RecipientShortName string `json:"recipient_short_name,omitempty"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
}

type settlementResponse struct {
	Reference string `json:"reference"`
}

// Settle returns ErrSettlementRejected on a 4xx answer. Any other failure is
// transient.
func (g *HTTPSettlementGateway) Settle(ctx context.Context, fast *model.FastTransaction) (string, error) {
	if g.url == "" {
		return "", errors.New("settlement gateway url is not configured")
	}
	headers := map[string]string{"Idempotency-Key": fast.FastTransactionID}
	for key, value := range g.headers {
		headers[key] = value
	}
	req, err := request.NewJSONRequest(ctx, http.MethodPost, g.url, settlementRequest{
		FastTransactionID:  fast.FastTransactionID,
		SourceIBAN:         fast.SourceIBAN,
		RecipientIBAN:      fast.RecipientIBAN,
		RecipientFullName:  fast.RecipientFullName,
		RecipientShortName: fast.RecipientShortName,
		Amount:             fast.Amount.Decimal().StringFixed(fast.Amount.Currency().MinorUnits),
		Currency:           fast.Amount.CurrencyCode(),
	}, headers)
	if err != nil {
		return "", err
	}

	var out settlementResponse
	_, err = request.Call(g.client, req, &out)
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) && statusErr.ClientError() {
		return "", fmt.Errorf("%w: status %d", ErrSettlementRejected, statusErr.StatusCode)
	}
	if err != nil {
		return "", fmt.Errorf("settlement gateway: %w", err)
	}
	return out.Reference, nil
}

// SettleFastTransaction clears one pending fast transaction. A rejection
// reverses the source debit before the record is marked REJECTED.
func (c *CoreBank) SettleFastTransaction(ctx context.Context, fastTransactionID string) error {
	ctx, span := tracer.Start(ctx, "SettleFastTransaction")
	defer span.End()

	if c.settlement == nil {
		return errors.New("no settlement gateway configured")
	}
	fast, err := c.datasource.GetFastTransaction(ctx, fastTransactionID)
	if err != nil {
		return err
	}
	if fast.SettlementStatus != model.SettlementPending {
		return nil
	}

	entry := logrus.WithFields(logrus.Fields{
		"fast_transaction_id": fast.FastTransactionID,
		"transaction_id":      fast.TransactionID,
	})

	reference, err := c.settlement.Settle(ctx, fast)
	switch {
	case errors.Is(err, ErrSettlementRejected):
		entry.Warnf("fast transaction rejected: %v", err)
		if _, err := c.Reverse(ctx, fast.TransactionID, ""); err != nil {
			span.RecordError(err)
			return fmt.Errorf("reverse rejected fast transaction: %w", err)
		}
		return c.closeSettlement(ctx, fast, model.SettlementRejected, "", "fast_transaction.rejected")
	case err != nil:
		span.RecordError(err)
		return err
	default:
		entry.Infof("fast transaction settled with reference %s", reference)
		return c.closeSettlement(ctx, fast, model.SettlementSettled, reference, "fast_transaction.settled")
	}
}

func (c *CoreBank) closeSettlement(ctx context.Context, fast *model.FastTransaction, status model.SettlementStatus, reference, event string) error {
	err := c.datasource.UpdateSettlementStatus(ctx, fast.FastTransactionID, status, reference)
	if errors.Is(err, model.ErrInvalidStatusTransition) {
		return nil
	}
	if err != nil {
		return err
	}
	fast.SettlementStatus = status
	fast.SettlementReference = reference
	c.dispatchWebhook(ctx, event, fast)
	return nil
}

// ProcessSettlement is the asynq handler of the settlement queue.
func (c *CoreBank) ProcessSettlement(ctx context.Context, task *asynq.Task) error {
	var payload settlementPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	err := c.SettleFastTransaction(ctx, payload.FastTransactionID)
	if errors.Is(err, model.ErrTransactionNotFound) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
