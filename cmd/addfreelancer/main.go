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
	"errors"
	"flag"
	"fmt"
	"regexp"

	"crypto-settlement-go/internal/api"
	"crypto-settlement-go/internal/common"
	"crypto-settlement-go/internal/config"
	"crypto-settlement-go/internal/store"

	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	nameFlag := flag.String("name", "", "Freelancer's full name (required)")
	emailFlag := flag.String("email", "", "Freelancer's email address (required)")
	phoneFlag := flag.String("phone", "", "Phone number (optional)")
	methodFlag := flag.String("method", "", "Payout method: bank or upi (optional)")
	accountFlag := flag.String("account", "", "Bank account number (method=bank)")
	ifscFlag := flag.String("ifsc", "", "Bank IFSC code (method=bank)")
	upiFlag := flag.String("upi", "", "UPI id (method=upi)")
	flag.Parse()

	if err := validateName(*nameFlag); err != nil {
		zap.L().Fatal("Invalid name", zap.Error(err))
	}
	if err := validateEmail(*emailFlag); err != nil {
		zap.L().Fatal("Invalid email", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	svc := api.NewService(api.Config{Store: dbService})
	freelancer, err := svc.RegisterFreelancer(ctx, store.CreateFreelancerParams{
		Name:              *nameFlag,
		Email:             *emailFlag,
		Phone:             *phoneFlag,
		PayoutMethod:      *methodFlag,
		BankAccountNumber: *accountFlag,
		BankIfsc:          *ifscFlag,
		UpiId:             *upiFlag,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateFreelancer) {
			zap.L().Fatal("Freelancer already exists with this email", zap.String("email", *emailFlag))
		}
		zap.L().Fatal("Failed to create freelancer", zap.Error(err))
	}

	common.PrintHeader("FREELANCER CREATED", common.DefaultWidth)
	fmt.Printf("ID:     %s\n", freelancer.Id)
	fmt.Printf("Name:   %s\n", freelancer.Name)
	fmt.Printf("Email:  %s\n", freelancer.Email)
	if freelancer.HasPayoutMethod() {
		fmt.Printf("Payout: %s\n", freelancer.PayoutMethod)
	} else {
		fmt.Printf("Payout: %snot configured, payouts will fail until it is set%s\n", common.ColorYellow, common.ColorReset)
	}
	common.PrintSeparator("=", common.DefaultWidth)
	fmt.Println("\nIssue an API token with: go run ./cmd/token -subject " + freelancer.Id)
}
