/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Database   DatabaseConfig
	Queue      QueueConfig
	Monitor    MonitorConfig
	Invoice    InvoiceConfig
	Settlement SettlementConfig
	Chain      ChainConfig
	Exchange   ExchangeConfig
	Pricing    PricingConfig
	Payout     PayoutConfig
	Formance   FormanceConfig
	Events     EventsConfig
	Server     ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // sqlite3 or pgx
	Path            string // sqlite file, ignored for pgx
	URL             string // postgres connection string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// QueueConfig holds job queue and worker runtime settings
type QueueConfig struct {
	Backend               string // sql or redis
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	KeyPrefix             string
	MaxAttempts           int
	BackoffBase           time.Duration
	PollInterval          time.Duration
	VisibilityTimeout     time.Duration
	ConversionConcurrency int
	PayoutConcurrency     int
}

// MonitorConfig holds deposit monitor settings
type MonitorConfig struct {
	ConfirmationThreshold int
	PollingInterval       time.Duration
	ExpiryInterval        time.Duration
	WebsocketEnabled      bool
	AssetsFile            string
}

// InvoiceConfig holds invoice creation settings
type InvoiceConfig struct {
	TTL                  time.Duration
	PublicBaseUrl        string
	DefaultAddressSource string
	FiatCurrency         string
	CustodyFile          string
}

// SettlementConfig holds worker economics and limits
type SettlementConfig struct {
	PlatformFeePercent decimal.Decimal
	PayoutRetryCeiling int
	OrderTimeout       time.Duration
	ProviderTimeout    time.Duration
}

// ChainConfig holds the blockchain RPC provider settings
type ChainConfig struct {
	RpcUrl            string
	WsUrl             string
	WebhookSecret     string
	RequestsPerSecond float64
}

// ExchangeConfig holds the exchange integration settings
type ExchangeConfig struct {
	Provider      string // prime or paper
	QuoteCurrency string
	WebhookSecret string
}

// PricingConfig holds the price source settings
type PricingConfig struct {
	BaseUrl           string
	ApiKey            string
	RequestsPerSecond float64
}

// PayoutConfig holds the payout rail settings
type PayoutConfig struct {
	BaseUrl       string
	ClientId      string
	ClientSecret  string
	WebhookSecret string
}

// FormanceConfig holds the optional ledger mirror settings
type FormanceConfig struct {
	Enabled      bool
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// EventsConfig holds the domain event stream settings
type EventsConfig struct {
	KafkaBrokers []string
	Topic        string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr           string
	JWTSecret      string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}
