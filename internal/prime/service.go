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

package prime

import (
	"context"
	"fmt"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/transport"

	"github.com/coinbase-samples/prime-sdk-go/client"
	"github.com/coinbase-samples/prime-sdk-go/credentials"
	"github.com/coinbase-samples/prime-sdk-go/model"
	"github.com/coinbase-samples/prime-sdk-go/orders"
	"github.com/coinbase-samples/prime-sdk-go/portfolios"
	"github.com/coinbase-samples/prime-sdk-go/wallets"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPortfolioName is the portfolio used when PRIME_PORTFOLIO_ID is unset.
const DefaultPortfolioName = "Default Portfolio"

// WalletTypeTrading holds the balances market orders draw from.
const WalletTypeTrading = "TRADING"

// Service wraps the Prime REST API calls the settlement pipeline makes: portfolio
// lookup, trading wallets, deposit addresses and market orders.
type Service struct {
	portfolios portfolios.PortfoliosService
	wallets    wallets.WalletsService
	orders     orders.OrdersService
}

func NewService(creds *credentials.Credentials) (*Service, error) {
	httpClient, err := transport.NewHTTPClient(0)
	if err != nil {
		return nil, fmt.Errorf("unable to create prime http client: %w", err)
	}

	rest := client.NewRestClient(creds, httpClient)
	return &Service{
		portfolios: portfolios.NewPortfoliosService(rest),
		wallets:    wallets.NewWalletsService(rest),
		orders:     orders.NewOrdersService(rest),
	}, nil
}

// ResolvePortfolio looks up portfolioId, or the portfolio named
// DefaultPortfolioName when portfolioId is empty.
func (s *Service) ResolvePortfolio(ctx context.Context, portfolioId string) (*models.Portfolio, error) {
	response, err := s.portfolios.ListPortfolios(ctx, &portfolios.ListPortfoliosRequest{})
	if err != nil {
		return nil, fmt.Errorf("unable to list portfolios: %w", err)
	}

	for _, p := range response.Portfolios {
		if (portfolioId != "" && p.Id == portfolioId) || (portfolioId == "" && p.Name == DefaultPortfolioName) {
			return &models.Portfolio{Id: p.Id, Name: p.Name}, nil
		}
	}
	if portfolioId != "" {
		return nil, fmt.Errorf("portfolio %s not found", portfolioId)
	}
	return nil, fmt.Errorf("portfolio %q not found", DefaultPortfolioName)
}

// TradingWallet returns the trading wallet holding symbol, or nil when the
// portfolio has none.
func (s *Service) TradingWallet(ctx context.Context, portfolioId, symbol string) (*models.Wallet, error) {
	response, err := s.wallets.ListWallets(ctx, &wallets.ListWalletsRequest{
		PortfolioId: portfolioId,
		Type:        WalletTypeTrading,
		Symbols:     []string{symbol},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list %s wallets: %w", symbol, err)
	}
	if len(response.Wallets) == 0 {
		return nil, nil
	}
	w := response.Wallets[0]
	return &models.Wallet{Id: w.Id, Name: w.Name, Symbol: w.Symbol, Type: w.Type}, nil
}

// EnsureTradingWallet returns the trading wallet for symbol, creating it when
// missing. created reports whether a wallet was created by this call.
func (s *Service) EnsureTradingWallet(ctx context.Context, portfolioId, symbol string) (wallet *models.Wallet, created bool, err error) {
	wallet, err = s.TradingWallet(ctx, portfolioId, symbol)
	if err != nil || wallet != nil {
		return wallet, false, err
	}

	response, err := s.wallets.CreateWallet(ctx, &wallets.CreateWalletRequest{
		PortfolioId:    portfolioId,
		Name:           symbol + " Trading Wallet",
		Symbol:         symbol,
		Type:           WalletTypeTrading,
		IdempotencyKey: uuid.New().String(),
	})
	if err != nil {
		return nil, false, fmt.Errorf("unable to create %s wallet: %w", symbol, err)
	}

	zap.L().Info("Created trading wallet",
		zap.String("portfolio_id", portfolioId),
		zap.String("symbol", symbol),
		zap.String("activity_id", response.ActivityId))
	return &models.Wallet{Id: response.ActivityId, Name: response.Name, Symbol: response.Symbol, Type: response.Type}, true, nil
}

// NewDepositAddress creates a fresh address on walletId for network.
func (s *Service) NewDepositAddress(ctx context.Context, portfolioId string, wallet *models.Wallet, network string) (*models.DepositAddress, error) {
	response, err := s.wallets.CreateWalletAddress(ctx, &wallets.CreateWalletAddressRequest{
		PortfolioId: portfolioId,
		WalletId:    wallet.Id,
		NetworkId:   network,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create %s address on %s: %w", wallet.Symbol, network, err)
	}

	return &models.DepositAddress{
		Id:      response.AccountIdentifier,
		Address: response.Address,
		Network: network,
		Asset:   wallet.Symbol,
	}, nil
}

// CreateMarketSell places a market sell of baseQuantity on productId. Prime dedupes
// orders by client order id.
func (s *Service) CreateMarketSell(ctx context.Context, portfolioId, productId, baseQuantity, clientOrderId string) (string, error) {
	zap.L().Info("Placing market sell",
		zap.String("portfolio_id", portfolioId),
		zap.String("product_id", productId),
		zap.String("base_quantity", baseQuantity),
		zap.String("client_order_id", clientOrderId))

	response, err := s.orders.CreateOrder(ctx, &orders.CreateOrderRequest{
		Order: &model.Order{
			PortfolioId:   portfolioId,
			ProductId:     productId,
			Side:          "SELL",
			Type:          "MARKET",
			BaseQuantity:  baseQuantity,
			ClientOrderId: clientOrderId,
		},
	})
	if err != nil {
		zap.L().Error("Market sell rejected",
			zap.String("product_id", productId),
			zap.String("client_order_id", clientOrderId),
			zap.Error(err))
		return "", fmt.Errorf("unable to create order: %w", err)
	}
	return response.OrderId, nil
}

func (s *Service) GetOrder(ctx context.Context, portfolioId, orderId string) (*model.Order, error) {
	response, err := s.orders.GetOrder(ctx, &orders.GetOrderRequest{
		PortfolioId: portfolioId,
		OrderId:     orderId,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to get order: %w", err)
	}
	if response.Order == nil {
		return nil, fmt.Errorf("order %s not found", orderId)
	}
	return response.Order, nil
}
