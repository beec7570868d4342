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

package main

import (
	"context"
	"flag"
	"fmt"

	"crypto-settlement-go/internal/common"
	"crypto-settlement-go/internal/config"
	"crypto-settlement-go/internal/formance"
	"crypto-settlement-go/internal/models"

	"go.uber.org/zap"
)

func printEntry(entry models.LedgerEntry, isLast bool) {
	sign := "+"
	if entry.EntryType == models.EntryDebit {
		sign = "-"
	}
	fmt.Printf("%s%s%s%-14s%s %-8s invoice %s | %s | %s\n",
		common.BoxPrefix(isLast),
		common.StatusColor(entry.EntryType), sign, entry.Amount.StringFixed(2), common.ColorReset,
		entry.Currency,
		common.ShortId(entry.InvoiceId),
		entry.Reason,
		entry.CreatedAt.Format("2006-01-02 15:04:05"))
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	freelancerFlag := flag.String("freelancer", "", "Freelancer id or email (required)")
	limitFlag := flag.Int("limit", 50, "Number of entries to print")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	freelancer, err := common.ResolveFreelancer(ctx, dbService, *freelancerFlag)
	if err != nil {
		logger.Fatal("Failed to resolve freelancer", zap.Error(err))
	}

	entries, err := dbService.ListLedgerEntries(ctx, freelancer.Id, *limitFlag, 0)
	if err != nil {
		logger.Fatal("Failed to list ledger entries", zap.Error(err))
	}
	balance, err := dbService.GetFreelancerBalance(ctx, freelancer.Id)
	if err != nil {
		logger.Fatal("Failed to compute balance", zap.Error(err))
	}

	common.PrintHeader(fmt.Sprintf("LEDGER: %s (%s)", freelancer.Name, freelancer.Email), common.WideWidth)
	for i, entry := range entries {
		printEntry(entry, i == len(entries)-1)
	}

	summary := fmt.Sprintf("BALANCE: %s (%d entries shown)",
		common.FormatAmount(balance, cfg.Invoice.FiatCurrency), len(entries))

	// Cross-check against the mirror when it is enabled.
	if cfg.Formance.Enabled {
		mirror, err := formance.NewService(ctx, cfg.Formance)
		if err != nil {
			logger.Fatal("Failed to connect to Formance", zap.Error(err))
		}
		mirrored, err := mirror.Balance(ctx, freelancer.Id, cfg.Invoice.FiatCurrency)
		if err != nil {
			logger.Error("Failed to read mirrored balance", zap.Error(err))
		} else {
			status := common.ColorGreen + "in sync" + common.ColorReset
			if !mirrored.Equal(balance) {
				status = common.ColorRed + "DRIFT" + common.ColorReset
			}
			summary += fmt.Sprintf("\nMIRROR:  %s %s", common.FormatAmount(mirrored, cfg.Invoice.FiatCurrency), status)
		}
	}

	common.PrintFooter(summary, common.WideWidth)
}
