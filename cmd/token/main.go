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
	"flag"
	"fmt"
	"time"

	"crypto-settlement-go/internal/common"
	"crypto-settlement-go/internal/config"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/server"

	"go.uber.org/zap"
)

func main() {
	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	subjectFlag := flag.String("subject", "", "Freelancer id, or operator name for admin tokens (required)")
	roleFlag := flag.String("role", models.RoleFreelancer, "Token role: freelancer or admin")
	ttlFlag := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	if *subjectFlag == "" {
		zap.L().Fatal("The --subject flag is required")
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	tokens, err := server.NewTokenManager(cfg.Server.JWTSecret)
	if err != nil {
		zap.L().Fatal("JWT_SECRET must be set", zap.Error(err))
	}

	token, err := tokens.Issue(*subjectFlag, *roleFlag, *ttlFlag)
	if err != nil {
		zap.L().Fatal("Failed to issue token", zap.Error(err))
	}

	zap.L().Info("Token issued",
		zap.String("subject", *subjectFlag),
		zap.String("role", *roleFlag),
		zap.Duration("ttl", *ttlFlag))
	fmt.Println(token)
}
