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

package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/corebank"
	"github.com/blnkfinance/corebank/config"
)

// initializeQueues weights settlements above webhooks.
func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.SettlementQueue: 3,
		cfg.Queue.WebhookQueue:    1,
	}
}

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	redisOption, err := corebank.RedisClientOpt(conf)
	if err != nil {
		return nil, err
	}

	return asynq.NewServer(redisOption, asynq.Config{
		Concurrency: conf.Queue.Concurrency,
		Queues:      initializeQueues(conf),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logrus.WithFields(logrus.Fields{
				"task":  task.Type(),
				"retry": retried,
				"max":   maxRetry,
			}).Errorf("task failed: %v", err)
		}),
	}), nil
}

func initializeTaskHandlers(app *corebankInstance, mux *asynq.ServeMux) {
	mux.HandleFunc(app.cnf.Queue.WebhookQueue, corebank.ProcessWebhook)
	mux.HandleFunc(app.cnf.Queue.SettlementQueue, app.corebank.ProcessSettlement)
}

// workerCommands starts the asynq workers that deliver webhooks and settle
// fast transactions.
func workerCommands(app *corebankInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start corebank workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			shutdown, err := initializeObservability(ctx, app.cnf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			if app.cnf.Settlement.GatewayURL == "" {
				logrus.Warn("settlement.gateway_url is not set; fast settlements will be retried until it is")
			}

			srv, err := initializeWorkerServer(app.cnf)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			initializeTaskHandlers(app, mux)

			recovery := corebank.NewStuckTransactionRecovery(app.corebank)
			recovery.Start(ctx)
			defer recovery.Stop()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
