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

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/corebank/config"
	redis_db "github.com/blnkfinance/corebank/internal/redis-db"
)

// Queue hands webhook deliveries and FAST settlements to the asynq workers.
type Queue struct {
	Client *asynq.Client
	conf   config.QueueConfig
	hooks  config.WebhookConfig
}

// settlementPayload is the body of a settlement task.
type settlementPayload struct {
	FastTransactionID string `json:"fast_transaction_id"`
}

// NewQueue connects an asynq client to the configured Redis.
func NewQueue(conf *config.Configuration) *Queue {
	queueOptions, err := RedisClientOpt(conf)
	if err != nil {
		logrus.Fatalf("Error parsing Redis URL: %v", err)
	}

	return &Queue{
		Client: asynq.NewClient(queueOptions),
		conf:   conf.Queue,
		hooks:  conf.Notification.Webhook,
	}
}

// RedisClientOpt translates the configured Redis URL into asynq options. The
// workers use the same options to consume what Queue produces.
func RedisClientOpt(conf *config.Configuration) (asynq.RedisClientOpt, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      redisOption.Addr,
		Password:  redisOption.Password,
		DB:        redisOption.DB,
		TLSConfig: redisOption.TLSConfig,
	}, nil
}

// SendWebhook enqueues a webhook delivery. It is a no-op when no webhook URL
// is configured.
func (q *Queue) SendWebhook(ctx context.Context, hook NewWebhook) error {
	if q.hooks.Url == "" {
		return nil
	}

	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.conf.WebhookQueue, payload,
		asynq.Queue(q.conf.WebhookQueue),
		asynq.MaxRetry(q.conf.MaxRetryAttempts),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		logrus.WithField("event", hook.Event).Errorf("enqueue webhook: %v", err)
		return err
	}
	logrus.Debugf(" [*] Successfully enqueued webhook %s as %s", hook.Event, info.ID)
	return nil
}

// EnqueueSettlement schedules the settlement of a fast transaction. The task
// id is the fast transaction id, so enqueueing twice is harmless.
func (q *Queue) EnqueueSettlement(ctx context.Context, fastTransactionID string) error {
	payload, err := json.Marshal(settlementPayload{FastTransactionID: fastTransactionID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(q.conf.SettlementQueue, payload,
		asynq.TaskID(fastTransactionID),
		asynq.Queue(q.conf.SettlementQueue),
		asynq.MaxRetry(q.conf.MaxRetryAttempts),
	)
	_, err = q.Client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		logrus.WithField("fast_transaction_id", fastTransactionID).Errorf("enqueue settlement: %v", err)
		return err
	}
	logrus.Infof(" [*] Successfully enqueued settlement: %s", fastTransactionID)
	return nil
}

func (q *Queue) Close() error {
	return q.Client.Close()
}
