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
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/queue"

	"go.uber.org/zap"
)

func printJob(job models.Job, isLast bool) {
	fmt.Printf("%s%-36s %-10s %s | invoice %s | attempt %d/%d | run %s\n",
		common.BoxPrefix(isLast),
		job.Id,
		job.Lane,
		common.Colorize(job.State),
		common.ShortId(job.InvoiceId),
		job.Attempts, job.MaxAttempts,
		job.RunAt.Format("2006-01-02 15:04:05"))
	if job.LastError != "" {
		fmt.Printf("   %s%s%s\n", common.ColorGray, job.LastError, common.ColorReset)
	}
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	laneFlag := flag.String("lane", "", "Lane to list: conversion or payout (default: both)")
	stateFlag := flag.String("state", models.JobFailed, "Job state: waiting, active, completed or failed")
	limitFlag := flag.Int("limit", 50, "Maximum jobs per lane")
	retryFlag := flag.String("retry", "", "Return a failed job to waiting")
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

	backend, err := common.InitializeQueueBackend(ctx, cfg, dbService)
	if err != nil {
		zap.L().Fatal("Failed to open job queue", zap.Error(err))
	}
	defer backend.Close()
	q := queue.New(backend, cfg.Queue.MaxAttempts)

	if *retryFlag != "" {
		retried, err := q.Retry(ctx, *retryFlag)
		if err != nil {
			zap.L().Fatal("Failed to retry job", zap.Error(err))
		}
		if !retried {
			fmt.Printf("%sJob %s is not failed, nothing to do%s\n", common.ColorYellow, *retryFlag, common.ColorReset)
			return
		}
		fmt.Printf("%s✓ Job %s returned to waiting%s\n", common.ColorGreen, *retryFlag, common.ColorReset)
		return
	}

	lanes := queue.Lanes
	if *laneFlag != "" {
		lanes = []string{*laneFlag}
	}

	common.PrintHeader(fmt.Sprintf("JOBS (%s)", *stateFlag), common.WideWidth)
	total := 0
	for _, lane := range lanes {
		jobs, err := q.List(ctx, lane, *stateFlag, *limitFlag)
		if err != nil {
			zap.L().Error("Failed to list jobs", zap.String("lane", lane), zap.Error(err))
			continue
		}
		for i, job := range jobs {
			printJob(job, i == len(jobs)-1)
		}
		total += len(jobs)
	}

	counts, err := q.Counts(ctx)
	if err != nil {
		zap.L().Warn("Failed to count jobs", zap.Error(err))
	}
	summary := fmt.Sprintf("SUMMARY: %d jobs listed", total)
	for _, lane := range queue.Lanes {
		if c, ok := counts[lane]; ok {
			summary += fmt.Sprintf("\n  %-10s waiting %d, active %d, failed %d", lane,
				c[models.JobWaiting], c[models.JobActive], c[models.JobFailed])
		}
	}
	common.PrintFooter(summary, common.WideWidth)
}
