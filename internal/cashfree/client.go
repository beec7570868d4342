package cashfree

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/transport"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	apiVersion = "2024-01-01"

	codeBeneficiaryExists = "beneficiary_id_already_exists"
	codeTransferExists    = "transfer_id_already_exists"
)

// ErrSubPaisaAmount is returned for transfer amounts with more than two decimals.
// The caller's ledger would otherwise disagree with the money moved.
var ErrSubPaisaAmount = errors.New("transfer amount has more than two decimals")

// APIError is a non-2xx response from the payouts API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cashfree http %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client disburses INR through Cashfree Payouts. Beneficiary creation and
// transfers are idempotent on the caller's ids.
type Client struct {
	baseUrl      string
	clientId     string
	clientSecret string
	http         http.Client
}

func NewClient(cfg models.PayoutConfig) (*Client, error) {
	httpClient, err := transport.NewHTTPClient(30 * time.Second)
	if err != nil {
		return nil, fmt.Errorf("unable to create http client: %w", err)
	}
	return NewClientWithHTTP(cfg, httpClient), nil
}

func NewClientWithHTTP(cfg models.PayoutConfig, httpClient http.Client) *Client {
	return &Client{
		baseUrl:      strings.TrimRight(cfg.BaseUrl, "/"),
		clientId:     cfg.ClientId,
		clientSecret: cfg.ClientSecret,
		http:         httpClient,
	}
}

func (c *Client) Name() string {
	return "cashfree"
}

type instrumentDetails struct {
	BankAccountNumber string `json:"bank_account_number,omitempty"`
	BankIfsc          string `json:"bank_ifsc,omitempty"`
	Vpa               string `json:"vpa,omitempty"`
}

type contactDetails struct {
	Email string `json:"beneficiary_email,omitempty"`
	Phone string `json:"beneficiary_phone,omitempty"`
}

type beneficiaryRequest struct {
	BeneficiaryId     string            `json:"beneficiary_id"`
	BeneficiaryName   string            `json:"beneficiary_name"`
	InstrumentDetails instrumentDetails `json:"beneficiary_instrument_details"`
	ContactDetails    contactDetails    `json:"beneficiary_contact_details"`
}

type beneficiaryResponse struct {
	BeneficiaryId     string `json:"beneficiary_id"`
	BeneficiaryStatus string `json:"beneficiary_status"`
}

// CreateBeneficiary registers the freelancer's payout instrument. An existing
// beneficiary with the same id counts as success.
func (c *Client) CreateBeneficiary(ctx context.Context, beneficiaryId string, freelancer *models.Freelancer) (*models.BeneficiaryResult, error) {
	body := beneficiaryRequest{
		BeneficiaryId:   beneficiaryId,
		BeneficiaryName: freelancer.Name,
		ContactDetails: contactDetails{
			Email: freelancer.Email,
			Phone: freelancer.Phone,
		},
	}
	switch freelancer.PayoutMethod {
	case models.PayoutMethodBank:
		body.InstrumentDetails.BankAccountNumber = freelancer.BankAccountNumber
		body.InstrumentDetails.BankIfsc = freelancer.BankIfsc
	case models.PayoutMethodUpi:
		body.InstrumentDetails.Vpa = freelancer.UpiId
	}

	var resp beneficiaryResponse
	err := c.do(ctx, http.MethodPost, "/beneficiary", body, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusConflict || apiErr.Code == codeBeneficiaryExists) {
		zap.L().Debug("Beneficiary already exists", zap.String("beneficiary_id", beneficiaryId))
		return &models.BeneficiaryResult{BeneficiaryId: beneficiaryId, Status: "VERIFIED"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to create beneficiary: %w", err)
	}

	zap.L().Info("Created beneficiary",
		zap.String("beneficiary_id", beneficiaryId),
		zap.String("status", resp.BeneficiaryStatus))
	return &models.BeneficiaryResult{BeneficiaryId: beneficiaryId, Status: resp.BeneficiaryStatus}, nil
}

type transferRequest struct {
	TransferId       string          `json:"transfer_id"`
	TransferAmount   decimal.Decimal `json:"transfer_amount"`
	TransferCurrency string          `json:"transfer_currency"`
	TransferMode     string          `json:"transfer_mode,omitempty"`
	TransferRemarks  string          `json:"transfer_remarks,omitempty"`
	Beneficiary      struct {
		BeneficiaryId string `json:"beneficiary_id"`
	} `json:"beneficiary_details"`
}

type transferResponse struct {
	TransferId   string `json:"transfer_id"`
	CfTransferId string `json:"cf_transfer_id"`
	Status       string `json:"status"`
	StatusCode   string `json:"status_code"`
}

// InitiateTransfer starts a transfer keyed by transferId. Replaying the same id
// returns the existing transfer.
func (c *Client) InitiateTransfer(ctx context.Context, transferId, beneficiaryId string, amount decimal.Decimal, remarks string) (*models.TransferResult, error) {
	if !amount.Equal(amount.Truncate(2)) {
		return nil, fmt.Errorf("%w: %s", ErrSubPaisaAmount, amount)
	}

	body := transferRequest{
		TransferId:       transferId,
		TransferAmount:   amount,
		TransferCurrency: "INR",
		TransferRemarks:  sanitizeRemarks(remarks),
	}
	body.Beneficiary.BeneficiaryId = beneficiaryId

	var resp transferResponse
	err := c.do(ctx, http.MethodPost, "/transfers", body, &resp)
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusConflict || apiErr.Code == codeTransferExists) {
		zap.L().Info("Transfer already exists, fetching status", zap.String("transfer_id", transferId))
		return c.GetTransfer(ctx, transferId)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to initiate transfer: %w", err)
	}

	zap.L().Info("Initiated transfer",
		zap.String("transfer_id", transferId),
		zap.String("cf_transfer_id", resp.CfTransferId),
		zap.String("amount", amount.String()),
		zap.String("status", resp.Status))
	return &models.TransferResult{TransferId: transferId, ReferenceId: resp.CfTransferId, Status: resp.Status}, nil
}

// GetTransfer reads the provider's view of a transfer.
func (c *Client) GetTransfer(ctx context.Context, transferId string) (*models.TransferResult, error) {
	var resp transferResponse
	if err := c.do(ctx, http.MethodGet, "/transfers?transfer_id="+url.QueryEscape(transferId), nil, &resp); err != nil {
		return nil, fmt.Errorf("unable to get transfer: %w", err)
	}
	return &models.TransferResult{TransferId: transferId, ReferenceId: resp.CfTransferId, Status: resp.Status}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-version", apiVersion)
	req.Header.Set("x-client-id", c.clientId)
	req.Header.Set("x-client-secret", c.clientSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Code = payload.Code
			apiErr.Message = payload.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if result == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, result)
}

// sanitizeRemarks keeps the characters the transfer API accepts in remarks.
func sanitizeRemarks(remarks string) string {
	var b strings.Builder
	for _, r := range remarks {
		if r == ' ' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if len(out) > 70 {
		out = out[:70]
	}
	return out
}
