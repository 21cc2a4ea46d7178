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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	DEFAULT_MAX_RETRIES              = 5
	DEFAULT_RETRY_BASE_DELAY_MS      = 5
	DEFAULT_RETRY_MAX_DELAY_MS       = 100
	DEFAULT_PENDING_WAIT_TIMEOUT_MS  = 3000
	DEFAULT_REPLAY_CACHE_TTL_SEC     = 3600
	DEFAULT_REQUEST_GUARD_TTL_SEC    = 30
	DEFAULT_STUCK_THRESHOLD_SEC      = 300
	DEFAULT_RECOVERY_INTERVAL_SEC    = 60
	DEFAULT_WEBHOOK_QUEUE            = "corebank_webhook_queue"
	DEFAULT_SETTLEMENT_QUEUE         = "corebank_fast_settlement_queue"
	DEFAULT_QUEUE_MAX_RETRY_ATTEMPTS = 10
	DEFAULT_SETTLEMENT_TIMEOUT_SEC   = 15
	DEFAULT_IBAN_COUNTRY_CODE        = "TR"
	DEFAULT_BANK_CODE                = "00099"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"COREBANK_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"COREBANK_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"COREBANK_SERVER_SECRET_KEY"`
	JWTSecret string `json:"jwt_secret" envconfig:"COREBANK_SERVER_JWT_SECRET"`
	Domain    string `json:"domain" envconfig:"COREBANK_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"COREBANK_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"COREBANK_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns                string `json:"dns" envconfig:"COREBANK_DATA_SOURCE_DNS"`
	InMemory           bool   `json:"in_memory" envconfig:"COREBANK_DATA_SOURCE_IN_MEMORY"`
	MaxOpenConns       int    `json:"max_open_conns" envconfig:"COREBANK_DATA_SOURCE_MAX_OPEN_CONNS"`
	MaxIdleConns       int    `json:"max_idle_conns" envconfig:"COREBANK_DATA_SOURCE_MAX_IDLE_CONNS"`
	ConnMaxLifetimeSec int    `json:"conn_max_lifetime_sec" envconfig:"COREBANK_DATA_SOURCE_CONN_MAX_LIFETIME_SEC"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"COREBANK_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"COREBANK_REDIS_SKIP_TLS_VERIFY"`
}

// LedgerConfig tunes the transfer engine and posting coordinator.
type LedgerConfig struct {
	MaxRetries           int `json:"max_retries" envconfig:"COREBANK_LEDGER_MAX_RETRIES"`
	RetryBaseDelayMs     int `json:"retry_base_delay_ms" envconfig:"COREBANK_LEDGER_RETRY_BASE_DELAY_MS"`
	RetryMaxDelayMs      int `json:"retry_max_delay_ms" envconfig:"COREBANK_LEDGER_RETRY_MAX_DELAY_MS"`
	PendingWaitTimeoutMs int `json:"pending_wait_timeout_ms" envconfig:"COREBANK_LEDGER_PENDING_WAIT_TIMEOUT_MS"`
	ReplayCacheTTLSec    int `json:"replay_cache_ttl_sec" envconfig:"COREBANK_LEDGER_REPLAY_CACHE_TTL_SEC"`
	RequestGuardTTLSec   int `json:"request_guard_ttl_sec" envconfig:"COREBANK_LEDGER_REQUEST_GUARD_TTL_SEC"`
	StuckThresholdSec    int `json:"stuck_threshold_sec" envconfig:"COREBANK_LEDGER_STUCK_THRESHOLD_SEC"`
	RecoveryIntervalSec  int `json:"recovery_interval_sec" envconfig:"COREBANK_LEDGER_RECOVERY_INTERVAL_SEC"`
}

func (l LedgerConfig) RetryBaseDelay() time.Duration {
	return time.Duration(l.RetryBaseDelayMs) * time.Millisecond
}

func (l LedgerConfig) RetryMaxDelay() time.Duration {
	return time.Duration(l.RetryMaxDelayMs) * time.Millisecond
}

func (l LedgerConfig) PendingWaitTimeout() time.Duration {
	return time.Duration(l.PendingWaitTimeoutMs) * time.Millisecond
}

func (l LedgerConfig) ReplayCacheTTL() time.Duration {
	return time.Duration(l.ReplayCacheTTLSec) * time.Second
}

func (l LedgerConfig) RequestGuardTTL() time.Duration {
	return time.Duration(l.RequestGuardTTLSec) * time.Second
}

// StuckThreshold is how long a transaction may stay PENDING before the
// recovery worker flags it.
func (l LedgerConfig) StuckThreshold() time.Duration {
	return time.Duration(l.StuckThresholdSec) * time.Second
}

func (l LedgerConfig) RecoveryInterval() time.Duration {
	return time.Duration(l.RecoveryIntervalSec) * time.Second
}

type QueueConfig struct {
	WebhookQueue     string `json:"webhook_queue" envconfig:"COREBANK_QUEUE_WEBHOOK"`
	SettlementQueue  string `json:"settlement_queue" envconfig:"COREBANK_QUEUE_SETTLEMENT"`
	MaxRetryAttempts int    `json:"max_retry_attempts" envconfig:"COREBANK_QUEUE_MAX_RETRY_ATTEMPTS"`
	Concurrency      int    `json:"concurrency" envconfig:"COREBANK_QUEUE_CONCURRENCY"`
}

// SettlementConfig points at the FAST clearing gateway.
type SettlementConfig struct {
	GatewayURL string            `json:"gateway_url" envconfig:"COREBANK_SETTLEMENT_GATEWAY_URL"`
	TimeoutSec int               `json:"timeout_sec" envconfig:"COREBANK_SETTLEMENT_TIMEOUT_SEC"`
	Headers    map[string]string `json:"headers"`
}

// UtilityConfig names the bank accounts utility payments settle into.
type UtilityConfig struct {
	CollectionAccountID string `json:"collection_account_id" envconfig:"COREBANK_UTILITY_COLLECTION_ACCOUNT_ID"`
	FeeAccountID        string `json:"fee_account_id" envconfig:"COREBANK_UTILITY_FEE_ACCOUNT_ID"`
}

type AccountGenerationHttpService struct {
	Url     string            `json:"url" envconfig:"COREBANK_ACCOUNT_NUMBER_SERVICE_URL"`
	Headers map[string]string `json:"headers"`
}

// AccountNumberGenerationConfig controls how new accounts get their number
// and IBAN. Without an HTTP service numbers are derived locally.
type AccountNumberGenerationConfig struct {
	EnableAutoGeneration bool                         `json:"enable_auto_generation" envconfig:"COREBANK_ACCOUNT_NUMBER_AUTO_GENERATION"`
	HttpService          AccountGenerationHttpService `json:"http_service"`
	IBANCountryCode      string                       `json:"iban_country_code" envconfig:"COREBANK_IBAN_COUNTRY_CODE"`
	BankCode             string                       `json:"bank_code" envconfig:"COREBANK_BANK_CODE"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"COREBANK_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"COREBANK_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"COREBANK_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"COREBANK_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"COREBANK_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"COREBANK_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Ledger          LedgerConfig     `json:"ledger"`
	Queue           QueueConfig      `json:"queue"`
	Settlement      SettlementConfig `json:"settlement"`
	Utility         UtilityConfig    `json:"utility"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`

	AccountNumberGeneration AccountNumberGenerationConfig `json:"account_number_generation"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("corebank", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return nil
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called corebank.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Corebank Server"
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.DataSource.Dns == "" && !cnf.DataSource.InMemory {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Warning: Redis DNS is empty. Redis-backed features are disabled.")
	}

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.Ledger.addDefaults()
	cnf.Queue.addDefaults()

	if cnf.Settlement.TimeoutSec <= 0 {
		cnf.Settlement.TimeoutSec = DEFAULT_SETTLEMENT_TIMEOUT_SEC
	}
	cnf.AccountNumberGeneration.addDefaults()

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (l *LedgerConfig) addDefaults() {
	if l.MaxRetries <= 0 {
		l.MaxRetries = DEFAULT_MAX_RETRIES
	}
	if l.RetryBaseDelayMs <= 0 {
		l.RetryBaseDelayMs = DEFAULT_RETRY_BASE_DELAY_MS
	}
	if l.RetryMaxDelayMs < l.RetryBaseDelayMs {
		l.RetryMaxDelayMs = DEFAULT_RETRY_MAX_DELAY_MS
		if l.RetryMaxDelayMs < l.RetryBaseDelayMs {
			l.RetryMaxDelayMs = l.RetryBaseDelayMs
		}
	}
	if l.PendingWaitTimeoutMs <= 0 {
		l.PendingWaitTimeoutMs = DEFAULT_PENDING_WAIT_TIMEOUT_MS
	}
	if l.ReplayCacheTTLSec <= 0 {
		l.ReplayCacheTTLSec = DEFAULT_REPLAY_CACHE_TTL_SEC
	}
	if l.RequestGuardTTLSec <= 0 {
		l.RequestGuardTTLSec = DEFAULT_REQUEST_GUARD_TTL_SEC
	}
	if l.StuckThresholdSec <= 0 {
		l.StuckThresholdSec = DEFAULT_STUCK_THRESHOLD_SEC
	}
	if l.RecoveryIntervalSec <= 0 {
		l.RecoveryIntervalSec = DEFAULT_RECOVERY_INTERVAL_SEC
	}
}

func (q *QueueConfig) addDefaults() {
	if q.WebhookQueue == "" {
		q.WebhookQueue = DEFAULT_WEBHOOK_QUEUE
	}
	if q.SettlementQueue == "" {
		q.SettlementQueue = DEFAULT_SETTLEMENT_QUEUE
	}
	if q.MaxRetryAttempts <= 0 {
		q.MaxRetryAttempts = DEFAULT_QUEUE_MAX_RETRY_ATTEMPTS
	}
	if q.Concurrency <= 0 {
		q.Concurrency = 5
	}
}

func (a *AccountNumberGenerationConfig) addDefaults() {
	if a.IBANCountryCode == "" {
		a.IBANCountryCode = DEFAULT_IBAN_COUNTRY_CODE
	}
	if a.BankCode == "" {
		a.BankCode = DEFAULT_BANK_CODE
	}
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.Ledger.addDefaults()
	mockConfig.Queue.addDefaults()
	mockConfig.AccountNumberGeneration.addDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
