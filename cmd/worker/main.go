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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-settlement-go/internal/common"
	"crypto-settlement-go/internal/config"
	"crypto-settlement-go/internal/listener"

	"go.uber.org/zap"
)

func main() {
	noMonitor := flag.Bool("no-monitor", false, "Run only the queue workers, without the deposit monitor")
	metricsAddr := flag.String("metrics-addr", ":9091", "Address of the worker's /metrics endpoint (empty to disable)")
	flag.Parse()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting settlement worker",
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.Int("conversion_concurrency", cfg.Queue.ConversionConcurrency),
		zap.Int("payout_concurrency", cfg.Queue.PayoutConcurrency))

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if !*noMonitor {
		if err := services.Monitor.Start(ctx); err != nil {
			zap.L().Fatal("Failed to start deposit monitor", zap.Error(err))
		}
	}

	var subscriber *listener.Subscriber
	if cfg.Monitor.WebsocketEnabled && cfg.Chain.WsUrl != "" {
		subscriber = listener.NewSubscriber(cfg.Chain.WsUrl, services.DbService, services.Monitor, cfg.Monitor.PollingInterval)
		subscriber.Start(ctx)
	}

	runtime := services.NewRuntime()
	runtime.Start(ctx)

	var metricsServer *http.Server
	if *metricsAddr != "" {
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: services.Metrics.Handler()}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zap.L().Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	zap.L().Info("Worker running, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	zap.L().Info("Shutdown signal received, draining workers...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		runtime.Stop()
		if subscriber != nil {
			subscriber.Stop()
		}
		if !*noMonitor {
			services.Monitor.Stop()
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
