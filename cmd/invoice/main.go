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

	"crypto-settlement-go/internal/api"
	"crypto-settlement-go/internal/common"
	"crypto-settlement-go/internal/config"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/pricing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func printSummary(s *models.InvoiceSummary) {
	common.PrintHeader("INVOICE "+s.Id, common.DefaultWidth)
	fmt.Printf("Status:      %s\n", common.Colorize(s.Status))
	fmt.Printf("Amount:      %s (%s %s)\n", common.FormatAmount(s.AmountFiat, s.FiatCurrency), s.AmountToken, s.TokenSymbol)
	fmt.Printf("Pay to:      %s (%s)\n", s.DepositAddress, s.TokenNetwork)
	fmt.Printf("Public URL:  %s\n", s.PublicUrl)
	fmt.Printf("Expires:     %s\n", s.ExpiresAt.Format("2006-01-02 15:04:05"))
	common.PrintSeparator("-", common.DefaultWidth)
	fmt.Printf("Deposit:     %s %s (%d conf)\n", common.Colorize(s.DepositStatus), common.ShortId(s.DepositTxHash), s.Confirmations)
	fmt.Printf("Conversion:  %s\n", common.Colorize(s.ConversionStatus))
	fmt.Printf("Payout:      %s %s\n", common.Colorize(s.PayoutStatus), common.FormatAmount(s.AmountFiatNet, s.FiatCurrency))
	common.PrintSeparator("=", common.DefaultWidth)
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	showFlag := flag.String("show", "", "Print the status of an existing invoice")
	freelancerFlag := flag.String("freelancer", "", "Freelancer id or email (required to create)")
	amountFlag := flag.String("amount", "", "Fiat amount to invoice")
	tokenFlag := flag.String("token", "USDC", "Token to be paid in")
	networkFlag := flag.String("network", "ethereum", "Token network")
	memoFlag := flag.String("memo", "", "Memo shown to the payer")
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

	assets, err := common.LoadAssets(cfg.Monitor.AssetsFile)
	if err != nil {
		zap.L().Fatal("Failed to load asset config", zap.Error(err))
	}
	registry := models.NewAssetRegistry(assets)

	prices, err := pricing.NewCoinGecko(cfg.Pricing, registry)
	if err != nil {
		zap.L().Fatal("Failed to create price source", zap.Error(err))
	}

	// Invoices created here always draw from the custody pool.
	svc := api.NewService(api.Config{
		Store:     dbService,
		Quoter:    prices,
		Addresses: map[string]api.AddressProvider{models.AddressSourceCustodial: api.CustodyAddresses{Store: dbService}},
		Assets:    registry,
		Invoice:   cfg.Invoice,
	})

	if *showFlag != "" {
		summary, err := svc.GetInvoice(ctx, *showFlag)
		if err != nil {
			zap.L().Fatal("Failed to load invoice", zap.Error(err))
		}
		printSummary(summary)
		return
	}

	freelancer, err := common.ResolveFreelancer(ctx, dbService, *freelancerFlag)
	if err != nil {
		zap.L().Fatal("Failed to resolve freelancer", zap.Error(err))
	}
	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		zap.L().Fatal("Invalid --amount", zap.String("amount", *amountFlag), zap.Error(err))
	}

	invoice, err := svc.CreateInvoice(ctx, freelancer.Id, models.CreateInvoiceRequest{
		AmountFiat:    amount,
		Token:         *tokenFlag,
		TokenNetwork:  *networkFlag,
		Memo:          *memoFlag,
		AddressSource: models.AddressSourceCustodial,
	})
	if err != nil {
		zap.L().Fatal("Failed to create invoice", zap.Error(err))
	}

	summary, err := svc.GetInvoice(ctx, invoice.Id)
	if err != nil {
		zap.L().Fatal("Failed to load invoice", zap.Error(err))
	}
	printSummary(summary)
}
