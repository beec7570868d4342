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

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"crypto-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	var (
		connMaxLifetime, connMaxIdleTime, pingTimeout            time.Duration
		backoffBase, queuePollInterval, visibilityTimeout        time.Duration
		monitorPollingInterval, expiryInterval                   time.Duration
		orderTimeout, providerTimeout, readTimeout, writeTimeout time.Duration
	)
	defaults := []struct {
		key    string
		target *time.Duration
		value  time.Duration
	}{
		{"DB_CONN_MAX_LIFETIME", &connMaxLifetime, 5 * time.Minute},
		{"DB_CONN_MAX_IDLE_TIME", &connMaxIdleTime, 30 * time.Second},
		{"DB_PING_TIMEOUT", &pingTimeout, 5 * time.Second},
		{"QUEUE_BACKOFF_BASE", &backoffBase, 2 * time.Second},
		{"QUEUE_POLL_INTERVAL", &queuePollInterval, time.Second},
		{"QUEUE_VISIBILITY_TIMEOUT", &visibilityTimeout, 5 * time.Minute},
		{"MONITOR_POLLING_INTERVAL", &monitorPollingInterval, 30 * time.Second},
		{"MONITOR_EXPIRY_INTERVAL", &expiryInterval, time.Minute},
		{"EXCHANGE_ORDER_TIMEOUT", &orderTimeout, 30 * time.Second},
		{"PROVIDER_TIMEOUT", &providerTimeout, 15 * time.Second},
		{"HTTP_READ_TIMEOUT", &readTimeout, 5 * time.Second},
		{"HTTP_WRITE_TIMEOUT", &writeTimeout, 10 * time.Second},
	}
	for _, d := range defaults {
		v, err := getEnvDuration(d.key, d.value)
		if err != nil {
			return nil, err
		}
		*d.target = v
	}

	feePercent, err := getEnvDecimal("PLATFORM_FEE_PERCENT", decimal.RequireFromString("1.5"))
	if err != nil {
		return nil, err
	}

	ttlMinutes := getEnvInt("INVOICE_TTL_MINUTES", 60)

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Driver:          getEnvString("DATABASE_DRIVER", "sqlite3"),
			Path:            getEnvString("DATABASE_PATH", "settlement.db"),
			URL:             getEnvString("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Queue: models.QueueConfig{
			Backend:               getEnvString("QUEUE_BACKEND", "sql"),
			RedisAddr:             getEnvString("REDIS_ADDR", "localhost:6379"),
			RedisPassword:         getEnvString("REDIS_PASSWORD", ""),
			RedisDB:               getEnvInt("REDIS_DB", 0),
			KeyPrefix:             getEnvString("QUEUE_KEY_PREFIX", "settlement"),
			MaxAttempts:           getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			BackoffBase:           backoffBase,
			PollInterval:          queuePollInterval,
			VisibilityTimeout:     visibilityTimeout,
			ConversionConcurrency: getEnvInt("QUEUE_CONVERSION_CONCURRENCY", 2),
			PayoutConcurrency:     getEnvInt("QUEUE_PAYOUT_CONCURRENCY", 2),
		},
		Monitor: models.MonitorConfig{
			ConfirmationThreshold: getEnvInt("DEPOSIT_CONFIRMATION_BLOCKS", 3),
			PollingInterval:       monitorPollingInterval,
			ExpiryInterval:        expiryInterval,
			WebsocketEnabled:      getEnvBool("MONITOR_WEBSOCKET_ENABLED", false),
			AssetsFile:            getEnvString("ASSETS_FILE", "assets.yaml"),
		},
		Invoice: models.InvoiceConfig{
			TTL:                  time.Duration(ttlMinutes) * time.Minute,
			PublicBaseUrl:        strings.TrimRight(getEnvString("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
			DefaultAddressSource: getEnvString("DEFAULT_ADDRESS_SOURCE", models.AddressSourceCustodial),
			FiatCurrency:         getEnvString("FIAT_CURRENCY", "INR"),
			CustodyFile:          getEnvString("CUSTODY_FILE", "custody.yaml"),
		},
		Settlement: models.SettlementConfig{
			PlatformFeePercent: feePercent,
			PayoutRetryCeiling: getEnvInt("PAYOUT_RETRY_CEILING", 3),
			OrderTimeout:       orderTimeout,
			ProviderTimeout:    providerTimeout,
		},
		Chain: models.ChainConfig{
			RpcUrl:            getEnvString("ALCHEMY_URL", ""),
			WsUrl:             getEnvString("ALCHEMY_WS_URL", ""),
			WebhookSecret:     getEnvString("ALCHEMY_AUTH_TOKEN", ""),
			RequestsPerSecond: getEnvFloat("CHAIN_RPS", 5),
		},
		Exchange: models.ExchangeConfig{
			Provider:      getEnvString("EXCHANGE_PROVIDER", "prime"),
			QuoteCurrency: getEnvString("EXCHANGE_QUOTE_CURRENCY", "USD"),
			WebhookSecret: getEnvString("COINDCX_API_SECRET", ""),
		},
		Pricing: models.PricingConfig{
			BaseUrl:           getEnvString("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
			ApiKey:            getEnvString("COINGECKO_API_KEY", ""),
			RequestsPerSecond: getEnvFloat("PRICING_RPS", 0.5),
		},
		Payout: models.PayoutConfig{
			BaseUrl:       getEnvString("CASHFREE_URL", "https://payout-gamma.cashfree.com"),
			ClientId:      getEnvString("CASHFREE_CLIENT_ID", ""),
			ClientSecret:  getEnvString("CASHFREE_CLIENT_SECRET", ""),
			WebhookSecret: getEnvString("CASHFREE_WEBHOOK_SECRET", getEnvString("CASHFREE_CLIENT_SECRET", "")),
		},
		Formance: models.FormanceConfig{
			Enabled:      getEnvBool("FORMANCE_ENABLED", false),
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "crypto-settlement"),
		},
		Events: models.EventsConfig{
			KafkaBrokers: getEnvList("KAFKA_BROKERS"),
			Topic:        getEnvString("KAFKA_TOPIC", "settlement-events"),
		},
		Server: models.ServerConfig{
			Addr:           getEnvString("HTTP_ADDR", ":8080"),
			JWTSecret:      getEnvString("JWT_SECRET", ""),
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *models.Config) error {
	if cfg.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be positive, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Monitor.ConfirmationThreshold <= 0 {
		return fmt.Errorf("DEPOSIT_CONFIRMATION_BLOCKS must be positive, got %d", cfg.Monitor.ConfirmationThreshold)
	}
	if cfg.Settlement.PlatformFeePercent.IsNegative() || cfg.Settlement.PlatformFeePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("PLATFORM_FEE_PERCENT must be in [0, 100), got %s", cfg.Settlement.PlatformFeePercent)
	}
	switch cfg.Invoice.DefaultAddressSource {
	case models.AddressSourceCustodial, models.AddressSourceExchange:
	default:
		return fmt.Errorf("DEFAULT_ADDRESS_SOURCE must be %q or %q, got %q",
			models.AddressSourceCustodial, models.AddressSourceExchange, cfg.Invoice.DefaultAddressSource)
	}
	switch cfg.Queue.Backend {
	case "sql", "redis":
	default:
		return fmt.Errorf("QUEUE_BACKEND must be sql or redis, got %q", cfg.Queue.Backend)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
