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

package listener

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"crypto-settlement-go/internal/models"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AddressSource lists the deposit addresses currently worth watching.
type AddressSource interface {
	ListPendingAddresses(ctx context.Context) ([]models.PendingAddress, error)
}

// TransactionSink receives pushed transactions. *Monitor satisfies it.
type TransactionSink interface {
	HandleMinedTransaction(ctx context.Context, tx models.MinedTransaction) error
}

// Subscriber holds an alchemy_minedTransactions subscription filtered to the
// pending deposit addresses and reconnects when the address set changes.
type Subscriber struct {
	url     string
	source  AddressSource
	sink    TransactionSink
	dialer  websocket.Dialer
	refresh time.Duration
	backoff time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSubscriber(url string, source AddressSource, sink TransactionSink, refresh time.Duration) *Subscriber {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	return &Subscriber{
		url:      url,
		source:   source,
		sink:     sink,
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		refresh:  refresh,
		backoff:  2 * time.Second,
		stopChan: make(chan struct{}),
	}
}

func (s *Subscriber) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	zap.L().Info("Websocket subscriber started", zap.Duration("refresh", s.refresh))
}

func (s *Subscriber) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	zap.L().Info("Websocket subscriber stopped")
}

func (s *Subscriber) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		addresses, err := s.watchedAddresses(ctx)
		if err != nil {
			zap.L().Error("Failed to load watched addresses", zap.Error(err))
		}

		wait := s.refresh
		if len(addresses) > 0 {
			if err := s.session(ctx, addresses); err != nil {
				zap.L().Warn("Websocket session ended", zap.Error(err))
				wait = s.backoff
			} else {
				wait = 0
			}
		}

		select {
		case <-time.After(wait):
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Subscriber) watchedAddresses(ctx context.Context) ([]string, error) {
	pending, err := s.source.ListPendingAddresses(ctx)
	if err != nil {
		return nil, err
	}
	addresses := make([]string, 0, len(pending))
	for _, p := range pending {
		addresses = append(addresses, normalizeAddress(p.Address))
	}
	slices.Sort(addresses)
	return slices.Compact(addresses), nil
}

// minedNotification is the result of one alchemy_minedTransactions notification.
type minedNotification struct {
	Removed     bool                    `json:"removed"`
	Transaction models.MinedTransaction `json:"transaction"`
}

func minedTransactionsFilter(addresses []string) map[string]any {
	filters := make([]map[string]string, len(addresses))
	for i, a := range addresses {
		filters[i] = map[string]string{"to": a}
	}
	return map[string]any{
		"addresses":      filters,
		"includeRemoved": false,
		"hashesOnly":     false,
	}
}

// session runs one subscription until the address set changes, the connection
// drops or the subscriber stops. A nil return asks for an immediate resubscribe.
func (s *Subscriber) session(ctx context.Context, addresses []string) error {
	client, err := rpc.DialOptions(ctx, s.url, rpc.WithWebsocketDialer(s.dialer))
	if err != nil {
		return fmt.Errorf("unable to dial websocket: %w", err)
	}
	defer client.Close()

	notifications := make(chan minedNotification, 64)
	sub, err := client.EthSubscribe(ctx, notifications, "alchemy_minedTransactions", minedTransactionsFilter(addresses))
	if err != nil {
		return fmt.Errorf("unable to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	zap.L().Info("Subscribed to mined transactions", zap.Int("addresses", len(addresses)))

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case n := <-notifications:
			if n.Removed {
				continue
			}
			if err := s.sink.HandleMinedTransaction(ctx, n.Transaction); err != nil {
				zap.L().Error("Failed to handle pushed transaction",
					zap.String("tx_hash", n.Transaction.Hash), zap.Error(err))
			}
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return fmt.Errorf("subscription ended: %w", err)
		case <-ticker.C:
			current, err := s.watchedAddresses(ctx)
			if err != nil {
				zap.L().Warn("Failed to refresh watched addresses", zap.Error(err))
				continue
			}
			if !slices.Equal(current, addresses) {
				zap.L().Debug("Watched addresses changed, resubscribing",
					zap.Int("before", len(addresses)), zap.Int("after", len(current)))
				return nil
			}
		case <-s.stopChan:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
