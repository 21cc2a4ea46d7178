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
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blnkfinance/corebank"
	"github.com/blnkfinance/corebank/config"
	"github.com/blnkfinance/corebank/database"
	"github.com/blnkfinance/corebank/internal/cache"
	redis_db "github.com/blnkfinance/corebank/internal/redis-db"
)

// CoreBankCLI is the root command of the corebank binary.
type CoreBankCLI struct {
	cmd *cobra.Command
}

// corebankInstance carries what preRun built to the subcommands.
type corebankInstance struct {
	corebank *corebank.CoreBank
	queue    *corebank.Queue
	cnf      *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and wires the service before any command.
func preRun(app *corebankInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := config.InitConfig(*configFile); err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		if err := setupCoreBank(app, cnf); err != nil {
			log.Fatal(err)
		}
		app.cnf = cnf
		return nil
	}
}

// setupCoreBank picks the data source and, when Redis is configured, adds
// the replay cache, the request guard and the asynq dispatcher.
func setupCoreBank(app *corebankInstance, cfg *config.Configuration) error {
	var ds database.IDataSource
	if cfg.DataSource.InMemory {
		logrus.Warn("using the in-memory data source; balances are lost on restart")
		ds = database.NewMemoryDataSource()
	} else {
		db, err := database.NewDataSource(cfg)
		if err != nil {
			return fmt.Errorf("error getting datasource: %v", err)
		}
		ds = db
	}

	var opts []corebank.Option
	if cfg.Redis.Dns != "" {
		replayCache, err := cache.NewCache(cfg)
		if err != nil {
			return fmt.Errorf("error connecting cache: %v", err)
		}
		client, err := redis_db.NewRedisClient([]string{cfg.Redis.Dns}, cfg.Redis.SkipTLSVerify)
		if err != nil {
			return fmt.Errorf("error connecting redis: %v", err)
		}
		app.queue = corebank.NewQueue(cfg)
		opts = append(opts,
			corebank.WithCache(replayCache),
			corebank.WithRequestGuard(corebank.NewRedisRequestGuard(client.Client(), cfg.Ledger.RequestGuardTTL())),
			corebank.WithDispatcher(app.queue),
		)
	}
	if cfg.Settlement.GatewayURL != "" {
		opts = append(opts, corebank.WithSettlementGateway(corebank.NewHTTPSettlementGateway(cfg.Settlement)))
	}

	cb, err := corebank.NewCoreBank(ds, opts...)
	if err != nil {
		return fmt.Errorf("error creating corebank: %v", err)
	}
	app.corebank = cb
	return nil
}

func NewCLI() *CoreBankCLI {
	var configFile string
	app := &corebankInstance{}

	var rootCmd = &cobra.Command{
		Use:   "corebank",
		Short: "Retail banking money-movement ledger",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./corebank.json", "Configuration file for corebank")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())
	rootCmd.AddCommand(tokenCommands())

	return &CoreBankCLI{cmd: rootCmd}
}

func (c CoreBankCLI) executeCLI() {
	if err := c.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
