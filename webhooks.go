/*
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

const webhookTimeout = 10 * time.Second

// NewWebhook represents the structure of a webhook notification.
type NewWebhook struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"data"`
}

// eventForStatus maps a transaction status to its webhook event.
func eventForStatus(status model.TransactionStatus) string {
	switch status {
	case model.StatusApplied:
		return "transaction.applied"
	case model.StatusFailed:
		return "transaction.failed"
	case model.StatusReversed:
		return "transaction.reversed"
	case model.StatusPending:
		return "transaction.pending"
	default:
		return "transaction.unknown"
	}
}

// processHTTP posts data to the webhook endpoint. A 4xx answer is not retried.
func processHTTP(ctx context.Context, hook config.WebhookConfig, data NewWebhook) error {
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()

	req, err := request.NewJSONRequest(ctx, http.MethodPost, hook.Url, data, hook.Headers)
	if err != nil {
		return err
	}
	_, err = request.Call(nil, req, nil)
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) && statusErr.ClientError() {
		return fmt.Errorf("webhook %s rejected: %v: %w", data.Event, err, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("webhook %s: %w", data.Event, err)
	}
	logrus.Infof("Webhook notification %s sent successfully", data.Event)
	return nil
}

// ProcessWebhook is the asynq handler of the webhook queue.
func ProcessWebhook(ctx context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}
	if conf.Notification.Webhook.Url == "" {
		return nil
	}

	var payload NewWebhook
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("Error unmarshaling webhook payload: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	logrus.Infof("Processing webhook: %s", payload.Event)
	return processHTTP(ctx, conf.Notification.Webhook, payload)
}
