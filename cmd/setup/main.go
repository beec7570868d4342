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
	"crypto-settlement-go/internal/database"
	"crypto-settlement-go/internal/formance"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/prime"

	"go.uber.org/zap"
)

// seedCustodyPool loads custody.yaml into the address pool. Addresses already in
// the pool are skipped.
func seedCustodyPool(ctx context.Context, dbService *database.Service, custodyFile string) error {
	pool, err := common.LoadCustodyAddresses(custodyFile)
	if err != nil {
		return err
	}

	total := 0
	for network, addresses := range pool {
		added, err := dbService.AddCustodyAddresses(ctx, network, addresses)
		if err != nil {
			return fmt.Errorf("unable to seed %s pool: %w", network, err)
		}
		fmt.Printf("✓ %-12s %d new of %d addresses\n", network, added, len(addresses))
		total += added
	}

	zap.L().Info("Custody pool seeded", zap.Int("added", total), zap.Int("networks", len(pool)))
	return nil
}

// ensureTradingWallets makes sure the Prime portfolio holds a TRADING wallet for
// every configured asset, so exchange-issued deposit addresses can be created.
func ensureTradingWallets(ctx context.Context, assets []models.Asset) error {
	creds, err := common.LoadPrimeCredentials()
	if err != nil {
		return err
	}

	primeService, err := prime.NewService(creds)
	if err != nil {
		return err
	}
	portfolio, err := primeService.ResolvePortfolio(ctx, os.Getenv("PRIME_PORTFOLIO_ID"))
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	var failed []string
	for _, asset := range assets {
		if seen[asset.Symbol] {
			continue
		}
		seen[asset.Symbol] = true

		wallet, created, err := primeService.EnsureTradingWallet(ctx, portfolio.Id, asset.Symbol)
		if err != nil {
			zap.L().Error("Error preparing trading wallet", zap.String("asset", asset.Symbol), zap.Error(err))
			failed = append(failed, asset.Symbol)
			continue
		}
		state := "exists"
		if created {
			state = "created"
		}
		fmt.Printf("✓ %-6s wallet %s (%s)\n", asset.Symbol, state, wallet.Id)
	}

	if len(failed) > 0 {
		return fmt.Errorf("wallet setup failed for %v", failed)
	}
	return nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	custodyFlag := flag.Bool("custody", true, "Seed the custody address pool from CUSTODY_FILE")
	walletsFlag := flag.Bool("wallets", false, "Create missing Prime trading wallets for every configured asset")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	common.PrintHeader("SETTLEMENT SETUP", common.DefaultWidth)

	// Opening the database creates the schema.
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()
	fmt.Printf("✓ Schema ready (%s)\n", cfg.Database.Driver)

	assets, err := common.LoadAssets(cfg.Monitor.AssetsFile)
	if err != nil {
		zap.L().Fatal("Failed to load asset config", zap.Error(err))
	}
	fmt.Printf("✓ %d assets configured\n", len(assets))

	if *custodyFlag {
		if err := seedCustodyPool(ctx, dbService, cfg.Invoice.CustodyFile); err != nil {
			zap.L().Fatal("Failed to seed custody pool", zap.Error(err))
		}
	}

	if cfg.Formance.Enabled {
		// NewService creates the ledger when it does not exist.
		if _, err := formance.NewService(ctx, cfg.Formance); err != nil {
			zap.L().Fatal("Failed to prepare Formance ledger", zap.Error(err))
		}
		fmt.Printf("✓ Formance ledger %s ready\n", cfg.Formance.LedgerName)
	}

	if *walletsFlag {
		if err := ensureTradingWallets(ctx, assets); err != nil {
			zap.L().Fatal("Failed to set up trading wallets", zap.Error(err))
		}
	}

	common.PrintFooter("Setup complete", common.DefaultWidth)
}
