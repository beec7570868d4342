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
	"os"
	"os/signal"
	"syscall"

	"crypto-settlement-go/internal/common"
	"crypto-settlement-go/internal/config"
	"crypto-settlement-go/internal/server"

	"go.uber.org/zap"
)

func main() {
	embedded := flag.Bool("embedded-workers", false, "Also run the deposit monitor and queue workers in this process")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}
	if cfg.Server.JWTSecret == "" {
		zap.L().Fatal("JWT_SECRET must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	tokens, err := server.NewTokenManager(cfg.Server.JWTSecret)
	if err != nil {
		zap.L().Fatal("Failed to create token manager", zap.Error(err))
	}

	if *embedded {
		if err := services.Monitor.Start(ctx); err != nil {
			zap.L().Fatal("Failed to start deposit monitor", zap.Error(err))
		}
		defer services.Monitor.Stop()

		runtime := services.NewRuntime()
		runtime.Start(ctx)
		defer runtime.Stop()
	}

	srv := server.New(server.Config{
		API:            services.API,
		Ingestor:       services.Ingestor,
		Tokens:         tokens,
		Metrics:        services.Metrics.Handler(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	zap.L().Info("Starting settlement API",
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("embedded_workers", *embedded))

	if err := srv.ListenAndServe(ctx, cfg.Server); err != nil {
		zap.L().Error("HTTP server failed", zap.Error(err))
	}
	zap.L().Info("Settlement API stopped")
}
