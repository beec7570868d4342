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
	"os"

	"crypto-settlement-go/internal/common"
	"crypto-settlement-go/internal/config"
	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/reconcile"

	"go.uber.org/zap"
)

func printDiscrepancy(d reconcile.Discrepancy, isLast bool) {
	fmt.Printf("%s%s%-16s%s invoice %s | expected %s | actual %s | delta %s\n",
		common.BoxPrefix(isLast),
		common.ColorRed, d.Kind, common.ColorReset,
		common.ShortId(d.InvoiceId),
		d.Expected.StringFixed(2),
		d.Actual.StringFixed(2),
		d.Delta.StringFixed(2))
}

func main() {
	if found := run(); found > 0 {
		os.Exit(1)
	}
}

// run prints the report and returns the number of discrepancies.
func run() int {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	publishFlag := flag.Bool("publish", false, "Publish discrepancies to the event stream")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	var publisher events.Publisher = events.NoopPublisher{}
	if *publishFlag {
		publisher = events.New(cfg.Events)
		defer publisher.Close()
	}

	report, err := reconcile.New(dbService, publisher).Run(ctx)
	if err != nil {
		zap.L().Fatal("Reconciliation failed", zap.Error(err))
	}

	common.PrintHeader("RECONCILIATION REPORT", common.WideWidth)
	fmt.Printf("Conversions: %d  Payouts: %d  Matched: %d\n", report.Conversions, report.Payouts, report.Matched)
	common.PrintSeparator("-", common.WideWidth)
	for i, d := range report.Discrepancies {
		printDiscrepancy(d, i == len(report.Discrepancies)-1)
	}

	summary := fmt.Sprintf("SUMMARY: %d missing payouts, %d amount mismatches",
		report.Count(reconcile.KindMissingPayout), report.Count(reconcile.KindAmountMismatch))
	common.PrintFooter(summary, common.WideWidth)

	return len(report.Discrepancies)
}
