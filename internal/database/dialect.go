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

package database

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "github.com/mattn/go-sqlite3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// dialect papers over the few differences between SQLite and Postgres: placeholder
// style, column types in the schema, and how a unique violation is reported.
type dialect struct {
	driver string
}

// rebind rewrites ? placeholders into $n for Postgres.
func (d dialect) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() string {
	if d.driver == DriverPostgres {
		return schemaPostgres
	}
	return schemaSQLite
}

// statements splits the schema into individually executable statements.
func (d dialect) statements() []string {
	var out []string
	for _, stmt := range strings.Split(d.schema(), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

const schemaSQLite = `
	CREATE TABLE IF NOT EXISTS freelancers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL DEFAULT '',
		payout_method TEXT NOT NULL DEFAULT '',
		bank_account_number TEXT NOT NULL DEFAULT '',
		bank_ifsc TEXT NOT NULL DEFAULT '',
		upi_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		freelancer_id TEXT NOT NULL REFERENCES freelancers(id),
		amount_fiat TEXT NOT NULL,
		fiat_currency TEXT NOT NULL,
		amount_token TEXT NOT NULL,
		token_symbol TEXT NOT NULL,
		token_network TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		deposit_address TEXT NOT NULL DEFAULT '',
		address_source TEXT NOT NULL,
		public_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);
	CREATE INDEX IF NOT EXISTS idx_invoices_freelancer ON invoices(freelancer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_invoices_address ON invoices(LOWER(deposit_address));

	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		tx_hash TEXT NOT NULL UNIQUE,
		from_address TEXT NOT NULL DEFAULT '',
		amount_token TEXT NOT NULL,
		confirmations INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		confirmed_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deposits_invoice ON deposits(invoice_id);
	CREATE INDEX IF NOT EXISTS idx_deposits_status ON deposits(status);

	CREATE TABLE IF NOT EXISTS conversions (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL UNIQUE REFERENCES invoices(id),
		deposit_id TEXT NOT NULL REFERENCES deposits(id),
		exchange_order_id TEXT NOT NULL DEFAULT '',
		rate TEXT NOT NULL,
		amount_token TEXT NOT NULL,
		amount_fiat_gross TEXT NOT NULL,
		platform_fee TEXT NOT NULL,
		amount_fiat_net TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status);

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL UNIQUE REFERENCES invoices(id),
		conversion_id TEXT NOT NULL REFERENCES conversions(id),
		freelancer_id TEXT NOT NULL REFERENCES freelancers(id),
		amount_fiat TEXT NOT NULL,
		provider TEXT NOT NULL,
		provider_transfer_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		escalated BOOLEAN NOT NULL DEFAULT 0,
		generation INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts(status);
	CREATE INDEX IF NOT EXISTS idx_payouts_transfer ON payouts(provider_transfer_id);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		signature_valid BOOLEAN NOT NULL DEFAULT 0,
		processed BOOLEAN NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		received_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_events_provider ON webhook_events(provider, received_at);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		freelancer_id TEXT NOT NULL REFERENCES freelancers(id),
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_freelancer ON ledger_entries(freelancer_id, created_at);

	CREATE TABLE IF NOT EXISTS custody_addresses (
		id TEXT PRIMARY KEY,
		token_network TEXT NOT NULL,
		address TEXT NOT NULL UNIQUE,
		invoice_id TEXT,
		assigned_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_custody_addresses_free ON custody_addresses(token_network, invoice_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		lane TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		run_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_ready ON jobs(lane, state, run_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_inflight ON jobs(lane, invoice_id) WHERE state IN ('waiting', 'active')
`

const schemaPostgres = `
	CREATE TABLE IF NOT EXISTS freelancers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL DEFAULT '',
		payout_method TEXT NOT NULL DEFAULT '',
		bank_account_number TEXT NOT NULL DEFAULT '',
		bank_ifsc TEXT NOT NULL DEFAULT '',
		upi_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		freelancer_id TEXT NOT NULL REFERENCES freelancers(id),
		amount_fiat NUMERIC(38, 18) NOT NULL,
		fiat_currency TEXT NOT NULL,
		amount_token NUMERIC(38, 18) NOT NULL,
		token_symbol TEXT NOT NULL,
		token_network TEXT NOT NULL,
		memo TEXT NOT NULL DEFAULT '',
		deposit_address TEXT NOT NULL DEFAULT '',
		address_source TEXT NOT NULL,
		public_url TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);
	CREATE INDEX IF NOT EXISTS idx_invoices_freelancer ON invoices(freelancer_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_invoices_address ON invoices(LOWER(deposit_address));

	CREATE TABLE IF NOT EXISTS deposits (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		tx_hash TEXT NOT NULL UNIQUE,
		from_address TEXT NOT NULL DEFAULT '',
		amount_token NUMERIC(38, 18) NOT NULL,
		confirmations INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		confirmed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deposits_invoice ON deposits(invoice_id);
	CREATE INDEX IF NOT EXISTS idx_deposits_status ON deposits(status);

	CREATE TABLE IF NOT EXISTS conversions (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL UNIQUE REFERENCES invoices(id),
		deposit_id TEXT NOT NULL REFERENCES deposits(id),
		exchange_order_id TEXT NOT NULL DEFAULT '',
		rate NUMERIC(38, 18) NOT NULL,
		amount_token NUMERIC(38, 18) NOT NULL,
		amount_fiat_gross NUMERIC(38, 18) NOT NULL,
		platform_fee NUMERIC(38, 18) NOT NULL,
		amount_fiat_net NUMERIC(38, 18) NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status);

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL UNIQUE REFERENCES invoices(id),
		conversion_id TEXT NOT NULL REFERENCES conversions(id),
		freelancer_id TEXT NOT NULL REFERENCES freelancers(id),
		amount_fiat NUMERIC(38, 18) NOT NULL,
		provider TEXT NOT NULL,
		provider_transfer_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0,
		escalated BOOLEAN NOT NULL DEFAULT FALSE,
		generation INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts(status);
	CREATE INDEX IF NOT EXISTS idx_payouts_transfer ON payouts(provider_transfer_id);

	CREATE TABLE IF NOT EXISTS webhook_events (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		signature_valid BOOLEAN NOT NULL DEFAULT FALSE,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		error_message TEXT NOT NULL DEFAULT '',
		received_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_webhook_events_provider ON webhook_events(provider, received_at);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		freelancer_id TEXT NOT NULL REFERENCES freelancers(id),
		invoice_id TEXT NOT NULL REFERENCES invoices(id),
		amount NUMERIC(38, 18) NOT NULL,
		currency TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_freelancer ON ledger_entries(freelancer_id, created_at);

	CREATE TABLE IF NOT EXISTS custody_addresses (
		id TEXT PRIMARY KEY,
		token_network TEXT NOT NULL,
		address TEXT NOT NULL UNIQUE,
		invoice_id TEXT,
		assigned_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_custody_addresses_free ON custody_addresses(token_network, invoice_id);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		lane TEXT NOT NULL,
		invoice_id TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		run_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_ready ON jobs(lane, state, run_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_inflight ON jobs(lane, invoice_id) WHERE state IN ('waiting', 'active')
`
