package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/transport"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client reads an EVM chain through an Alchemy node endpoint. Standard methods go
// through ethclient; the Alchemy extensions go through the raw rpc client.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	limiter *rate.Limiter
}

func NewClient(cfg models.ChainConfig) (*Client, error) {
	if cfg.RpcUrl == "" {
		return nil, fmt.Errorf("ALCHEMY_URL is not set")
	}
	httpClient, err := transport.NewHTTPClient(30 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("unable to create http client: %w", err)
	}
	return NewClientWithHTTP(cfg, httpClient)
}

func NewClientWithHTTP(cfg models.ChainConfig, httpClient http.Client) (*Client, error) {
	rpcClient, err := rpc.DialOptions(context.Background(), cfg.RpcUrl, rpc.WithHTTPClient(&httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create rpc client: %w", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		rpc:     rpcClient,
		eth:     ethclient.NewClient(rpcClient),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	head, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("unable to get block number: %w", err)
	}
	return head, nil
}

// receipt holds the two receipt fields confirmation counting needs. ethclient's
// full receipt decoding rejects the trimmed receipts some L2 endpoints return.
type receipt struct {
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	Status      *hexutil.Uint64 `json:"status"`
}

// ConfirmationsFor reports how deep a transaction is buried. A missing receipt means
// the transaction is not mined yet.
func (c *Client) ConfirmationsFor(ctx context.Context, txHash string) (models.TxStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.TxStatus{}, err
	}
	var r *receipt
	if err := c.rpc.CallContext(ctx, &r, "eth_getTransactionReceipt", txHash); err != nil {
		return models.TxStatus{}, fmt.Errorf("unable to get receipt %s: %w", txHash, err)
	}
	if r == nil || r.BlockNumber == nil {
		return models.TxStatus{}, nil
	}
	if r.Status != nil && *r.Status == 0 {
		return models.TxStatus{Found: true, Reverted: true}, nil
	}

	mined := r.BlockNumber.ToInt().Uint64()
	head, err := c.BlockNumber(ctx)
	if err != nil {
		return models.TxStatus{}, err
	}

	confirmations := 0
	if head >= mined {
		confirmations = int(head-mined) + 1
	}
	return models.TxStatus{Found: true, Confirmations: confirmations}, nil
}

type assetTransfer struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Asset       string `json:"asset"`
	RawContract struct {
		Value   string `json:"value"`
		Address string `json:"address"`
		Decimal string `json:"decimal"`
	} `json:"rawContract"`
}

type assetTransfersResult struct {
	Transfers []assetTransfer `json:"transfers"`
	PageKey   string          `json:"pageKey"`
}

// FindTransfers lists incoming transfers of one asset into an address.
func (c *Client) FindTransfers(ctx context.Context, address string, asset models.Asset) ([]models.ChainTransfer, error) {
	filter := map[string]any{
		"fromBlock":        "0x0",
		"toBlock":          "latest",
		"toAddress":        address,
		"excludeZeroValue": true,
		"withMetadata":     false,
		"maxCount":         hexutil.Uint64(100),
	}
	if asset.Contract != "" {
		filter["category"] = []string{"erc20"}
		filter["contractAddresses"] = []string{asset.Contract}
	} else {
		filter["category"] = []string{"external"}
	}

	var transfers []models.ChainTransfer
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		var result assetTransfersResult
		if err := c.rpc.CallContext(ctx, &result, "alchemy_getAssetTransfers", filter); err != nil {
			return nil, fmt.Errorf("unable to list transfers to %s: %w", address, err)
		}
		for _, t := range result.Transfers {
			decimals := asset.Decimals
			if t.RawContract.Decimal != "" {
				if d, err := hexutil.DecodeUint64(t.RawContract.Decimal); err == nil {
					decimals = int32(d)
				}
			}
			amount, err := ParseValue(t.RawContract.Value, decimals)
			if err != nil {
				zap.L().Warn("Skipping transfer with unparseable value",
					zap.String("hash", t.Hash), zap.String("value", t.RawContract.Value), zap.Error(err))
				continue
			}
			transfers = append(transfers, models.ChainTransfer{
				Hash:   t.Hash,
				From:   t.From,
				To:     t.To,
				Asset:  t.Asset,
				Amount: amount,
			})
		}
		if result.PageKey == "" {
			return transfers, nil
		}
		filter["pageKey"] = result.PageKey
	}
}

// ParseValue converts a transfer value to token units. Hex ("0x...") and integer
// strings are base units scaled by decimals; a value with a decimal point is
// already in token units.
func ParseValue(value string, decimals int32) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, fmt.Errorf("empty value")
	}
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		n, err := decodeQuantity(value[2:])
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid hex value %q: %w", value, err)
		}
		return decimal.NewFromBigInt(n, -decimals), nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid value %q: %w", value, err)
	}
	if strings.Contains(value, ".") {
		return d, nil
	}
	return d.Shift(-decimals), nil
}

// decodeQuantity accepts the zero-padded 32-byte words log data carries, which
// hexutil rejects as leading-zero quantities.
func decodeQuantity(digits string) (*big.Int, error) {
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		digits = "0"
	}
	return hexutil.DecodeBig("0x" + digits)
}
