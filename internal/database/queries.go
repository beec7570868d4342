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

const (
	invoiceColumns = `id, freelancer_id, amount_fiat, fiat_currency, amount_token, token_symbol, token_network,
		memo, deposit_address, address_source, public_url, status, expires_at, created_at, updated_at`

	depositColumns = `id, invoice_id, tx_hash, from_address, amount_token, confirmations, status,
		confirmed_at, created_at, updated_at`

	conversionColumns = `id, invoice_id, deposit_id, exchange_order_id, rate, amount_token, amount_fiat_gross,
		platform_fee, amount_fiat_net, status, error_message, created_at, updated_at`

	payoutColumns = `id, invoice_id, conversion_id, freelancer_id, amount_fiat, provider, provider_transfer_id,
		status, error_message, retry_count, escalated, generation, created_at, updated_at`

	webhookColumns = `id, provider, event_type, payload, signature_valid, processed, error_message,
		received_at, processed_at`

	ledgerColumns = `id, freelancer_id, invoice_id, amount, currency, entry_type, reason, reference, created_at`

	freelancerColumns = `id, name, email, phone, payout_method, bank_account_number, bank_ifsc, upi_id,
		created_at, updated_at`

	jobColumns = `id, lane, invoice_id, entity_id, state, attempts, max_attempts, last_error,
		run_at, created_at, updated_at, finished_at`
)

const (
	// Invoice queries
	queryInsertInvoice = `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetInvoice = `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE id = ?`

	queryFindPendingInvoiceByAddress = `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE LOWER(deposit_address) = LOWER(?) AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1`

	queryListPendingAddresses = `
		SELECT id, deposit_address, token_symbol, token_network
		FROM invoices
		WHERE status = 'pending' AND deposit_address != ''
		ORDER BY created_at`

	queryListOverdueInvoices = `
		SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE status = 'pending' AND expires_at < ?
		ORDER BY expires_at
		LIMIT ?`

	// formatted with the placeholder list of allowed prior statuses
	queryTransitionInvoice = `
		UPDATE invoices
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (%s)`

	queryInvoiceSummary = `
		SELECT i.id, i.freelancer_id, i.amount_fiat, i.fiat_currency, i.amount_token, i.token_symbol,
		       i.token_network, i.memo, i.deposit_address, i.address_source, i.public_url, i.status,
		       i.expires_at, i.created_at, i.updated_at,
		       COALESCE(d.status, ''), COALESCE(d.tx_hash, ''), COALESCE(d.confirmations, 0),
		       COALESCE(d.amount_token, '0'),
		       COALESCE(c.status, ''), COALESCE(c.amount_fiat_net, '0'),
		       COALESCE(p.status, ''), COALESCE(p.provider_transfer_id, '')
		FROM invoices i
		LEFT JOIN deposits d ON d.id = (
			SELECT id FROM deposits WHERE invoice_id = i.id ORDER BY created_at DESC LIMIT 1)
		LEFT JOIN conversions c ON c.invoice_id = i.id
		LEFT JOIN payouts p ON p.invoice_id = i.id`

	queryCountInvoicesByStatus = `
		SELECT status, COUNT(*)
		FROM invoices
		GROUP BY status`

	// Deposit queries
	queryInsertDeposit = `
		INSERT INTO deposits (` + depositColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)
		ON CONFLICT (tx_hash) DO NOTHING`

	queryGetDeposit = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE id = ?`

	queryGetDepositByTxHash = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE LOWER(tx_hash) = LOWER(?)`

	queryListPendingDeposits = `
		SELECT ` + depositColumns + `
		FROM deposits
		WHERE status = 'pending'
		ORDER BY created_at`

	queryUpdateDepositConfirmations = `
		UPDATE deposits
		SET confirmations = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryConfirmDeposit = `
		UPDATE deposits
		SET status = 'confirmed', confirmations = ?, confirmed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryFailDeposit = `
		UPDATE deposits
		SET status = 'failed', updated_at = ?
		WHERE id = ? AND status = 'pending'`

	// Conversion queries
	queryInsertConversion = `
		INSERT INTO conversions (` + conversionColumns + `)
		VALUES (?, ?, ?, '', ?, ?, ?, ?, ?, 'processing', '', ?, ?)`

	queryGetConversion = `
		SELECT ` + conversionColumns + `
		FROM conversions
		WHERE id = ?`

	queryGetConversionByInvoice = `
		SELECT ` + conversionColumns + `
		FROM conversions
		WHERE invoice_id = ?`

	querySetConversionOrder = `
		UPDATE conversions
		SET exchange_order_id = ?, updated_at = ?
		WHERE id = ?`

	queryCompleteConversion = `
		UPDATE conversions
		SET status = 'completed', error_message = '', updated_at = ?
		WHERE id = ? AND status = 'processing'`

	queryCompleteConversionWithOrder = `
		UPDATE conversions
		SET status = 'completed', exchange_order_id = ?, error_message = '', updated_at = ?
		WHERE id = ? AND status = 'processing'`

	queryFailConversion = `
		UPDATE conversions
		SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`

	queryResumeConversion = `
		UPDATE conversions
		SET status = 'processing', error_message = '', updated_at = ?
		WHERE id = ? AND status = 'failed'`

	queryListCompletedConversions = `
		SELECT ` + conversionColumns + `
		FROM conversions
		WHERE status = 'completed'
		ORDER BY created_at`

	// Payout queries
	queryInsertPayout = `
		INSERT INTO payouts (` + payoutColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, '', 'processing', '', 0, ?, 0, ?, ?)`

	queryGetPayout = `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE id = ?`

	queryGetPayoutByInvoice = `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE invoice_id = ?`

	queryClaimPayoutForTransfer = `
		UPDATE payouts
		SET status = 'processing', error_message = '', updated_at = ?
		WHERE id = ?
		  AND ((status = 'failed' AND retry_count < ?)
		    OR (status = 'pending' AND provider_transfer_id = ''))`

	queryMarkPayoutInitiated = `
		UPDATE payouts
		SET status = 'pending', provider_transfer_id = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'`

	queryRecordPayoutTransfer = `
		UPDATE payouts
		SET provider_transfer_id = ?, updated_at = ?
		WHERE id = ? AND provider_transfer_id = '' AND status IN ('pending', 'completed')`

	queryCompletePayout = `
		UPDATE payouts
		SET status = 'completed', error_message = '', updated_at = ?
		WHERE id = ? AND status IN ('processing', 'pending')`

	queryFailPayout = `
		UPDATE payouts
		SET status = 'failed', error_message = ?, retry_count = retry_count + 1,
		    escalated = (retry_count + 1 >= ?), updated_at = ?
		WHERE id = ? AND status IN ('processing', 'pending')
		RETURNING retry_count, escalated`

	queryRejectPayout = `
		UPDATE payouts
		SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')`

	queryResetPayoutForRetry = `
		UPDATE payouts
		SET status = 'pending', retry_count = 0, escalated = ?, generation = generation + 1,
		    provider_transfer_id = '', error_message = '', updated_at = ?
		WHERE id = ? AND status = 'failed'`

	queryListSettlingPayouts = `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE status IN ('processing', 'pending')
		ORDER BY created_at`

	queryListReconcilablePayouts = `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE status IN ('pending', 'completed')
		ORDER BY created_at`

	queryListEscalatedPayouts = `
		SELECT ` + payoutColumns + `
		FROM payouts
		WHERE escalated = ?
		ORDER BY updated_at DESC`

	queryListCompletedPayoutAmounts = `
		SELECT amount_fiat
		FROM payouts
		WHERE status = 'completed'`

	// Webhook event queries
	queryInsertWebhookEvent = `
		INSERT INTO webhook_events (` + webhookColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, '', ?, NULL)`

	queryMarkWebhookProcessed = `
		UPDATE webhook_events
		SET processed = ?, error_message = ?, processed_at = ?
		WHERE id = ?`

	queryListWebhookEvents = `
		SELECT ` + webhookColumns + `
		FROM webhook_events
		ORDER BY received_at DESC
		LIMIT ? OFFSET ?`

	queryListWebhookEventsByProvider = `
		SELECT ` + webhookColumns + `
		FROM webhook_events
		WHERE provider = ?
		ORDER BY received_at DESC
		LIMIT ? OFFSET ?`

	// Ledger queries
	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries (` + ledgerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (reference) DO NOTHING`

	queryGetLedgerEntryByReference = `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE reference = ?`

	queryListLedgerEntries = `
		SELECT ` + ledgerColumns + `
		FROM ledger_entries
		WHERE freelancer_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryLedgerAmounts = `
		SELECT entry_type, amount
		FROM ledger_entries
		WHERE freelancer_id = ?`

	// Freelancer queries
	queryInsertFreelancer = `
		INSERT INTO freelancers (` + freelancerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetFreelancer = `
		SELECT ` + freelancerColumns + `
		FROM freelancers
		WHERE id = ?`

	queryGetFreelancerByEmail = `
		SELECT ` + freelancerColumns + `
		FROM freelancers
		WHERE LOWER(email) = LOWER(?)`

	queryUpdatePayoutMethod = `
		UPDATE freelancers
		SET name = ?, payout_method = ?, bank_account_number = ?, bank_ifsc = ?, upi_id = ?, updated_at = ?
		WHERE id = ?`

	// Custody address queries
	queryInsertCustodyAddress = `
		INSERT INTO custody_addresses (id, token_network, address)
		VALUES (?, ?, ?)
		ON CONFLICT (address) DO NOTHING`

	queryClaimCustodyAddress = `
		UPDATE custody_addresses
		SET invoice_id = ?, assigned_at = ?
		WHERE id = (
			SELECT id FROM custody_addresses
			WHERE token_network = ? AND invoice_id IS NULL
			ORDER BY address
			LIMIT 1)
		  AND invoice_id IS NULL
		RETURNING address`

	queryCountFreeCustodyAddresses = `
		SELECT COUNT(*)
		FROM custody_addresses
		WHERE token_network = ? AND invoice_id IS NULL`

	// Stats queries
	queryConversionTotals = `
		SELECT amount_fiat_gross, platform_fee
		FROM conversions
		WHERE status = 'completed'`

	queryCountEscalatedPayouts = `
		SELECT COUNT(*)
		FROM payouts
		WHERE escalated = ?`

	// Job queries
	queryInsertJob = `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, 'waiting', 0, ?, '', ?, ?, ?, NULL)
		ON CONFLICT DO NOTHING`

	queryGetJob = `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE id = ?`

	// formatted with the dialect's row locking clause
	queryClaimJob = `
		UPDATE jobs
		SET state = 'active', attempts = attempts + 1, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE lane = ? AND state = 'waiting' AND run_at <= ?
			ORDER BY run_at
			LIMIT 1%s)
		  AND state = 'waiting'
		RETURNING id`

	queryCompleteJob = `
		UPDATE jobs
		SET state = 'completed', last_error = '', finished_at = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`

	queryFailJob = `
		UPDATE jobs
		SET state = 'failed', last_error = ?, finished_at = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`

	queryRescheduleJob = `
		UPDATE jobs
		SET state = 'waiting', last_error = ?, run_at = ?, updated_at = ?
		WHERE id = ? AND state = 'active'`

	queryRequeueStaleJobs = `
		UPDATE jobs
		SET state = 'waiting', run_at = ?, updated_at = ?
		WHERE lane = ? AND state = 'active' AND updated_at < ?`

	queryRetryJob = `
		UPDATE jobs
		SET state = 'waiting', attempts = 0, last_error = '', run_at = ?, finished_at = NULL, updated_at = ?
		WHERE id = ? AND state = 'failed'`

	queryListJobs = `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE lane = ? AND state = ?
		ORDER BY updated_at DESC
		LIMIT ?`

	queryCountJobs = `
		SELECT COUNT(*)
		FROM jobs
		WHERE lane = ? AND state = ?`
)
