package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crypto-settlement-go/internal/events"
	"crypto-settlement-go/internal/models"
	"crypto-settlement-go/internal/queue"
	"crypto-settlement-go/internal/settlement"
	"crypto-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ConversionWorkerConfig contains configuration for ConversionWorker
type ConversionWorkerConfig struct {
	Store             store.SettlementStore
	Machine           *settlement.Machine
	Exchange          Exchange
	Enqueuer          settlement.Enqueuer
	Publisher         events.Publisher
	FeePercent        decimal.Decimal
	OrderTimeout      time.Duration
	OrderPollInterval time.Duration
}

// ConversionWorker sells a confirmed deposit for fiat and hands the proceeds to the
// payout lane.
type ConversionWorker struct {
	store        store.SettlementStore
	machine      *settlement.Machine
	exchange     Exchange
	enqueuer     settlement.Enqueuer
	publisher    events.Publisher
	feePercent   decimal.Decimal
	orderTimeout time.Duration
	pollInterval time.Duration
}

var _ queue.Handler = (*ConversionWorker)(nil)

func NewConversionWorker(cfg ConversionWorkerConfig) *ConversionWorker {
	orderTimeout := cfg.OrderTimeout
	if orderTimeout <= 0 {
		orderTimeout = 30 * time.Second
	}
	pollInterval := cfg.OrderPollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &ConversionWorker{
		store:        cfg.Store,
		machine:      cfg.Machine,
		exchange:     cfg.Exchange,
		enqueuer:     cfg.Enqueuer,
		publisher:    cfg.Publisher,
		feePercent:   cfg.FeePercent,
		orderTimeout: orderTimeout,
		pollInterval: pollInterval,
	}
}

// Handle processes one conversion job. Payload: invoice id, deposit id.
func (w *ConversionWorker) Handle(ctx context.Context, job *models.Job) queue.Result {
	cas, err := w.machine.MarkConverting(ctx, job.InvoiceId)
	if err != nil {
		return queue.Retry(err)
	}

	invoice, err := w.store.GetInvoice(ctx, job.InvoiceId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return queue.Terminal(err)
		}
		return queue.Retry(err)
	}

	var conversion *models.Conversion
	if !cas.Applied {
		if invoice.Status != models.InvoiceConverting {
			return queue.Skipped("invoice is " + invoice.Status)
		}
		var result *queue.Result
		conversion, result = w.resume(ctx, invoice)
		if result != nil {
			return *result
		}
	}

	if conversion == nil {
		var terminal bool
		conversion, terminal, err = w.lockConversion(ctx, job, invoice)
		if err != nil {
			return w.fail(ctx, job, invoice, nil, err, terminal)
		}
	}

	return w.execute(ctx, job, invoice, conversion)
}

// resume picks up a conversion left behind by an earlier attempt of the same job.
// A nil conversion and nil result means no row exists yet.
func (w *ConversionWorker) resume(ctx context.Context, invoice *models.Invoice) (*models.Conversion, *queue.Result) {
	conversion, err := w.store.GetConversionByInvoice(ctx, invoice.Id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		r := queue.Retry(err)
		return nil, &r
	}

	switch conversion.Status {
	case models.StatusCompleted:
		r := queue.Skipped("conversion already completed")
		return nil, &r
	case models.StatusFailed:
		resumed, err := w.store.ResumeConversion(ctx, conversion.Id)
		if err != nil {
			r := queue.Retry(err)
			return nil, &r
		}
		if !resumed.Applied {
			r := queue.Skipped("conversion resumed elsewhere")
			return nil, &r
		}
		conversion.Status = models.StatusProcessing
		zap.L().Info("Resuming failed conversion",
			zap.String("conversion_id", conversion.Id),
			zap.String("invoice_id", invoice.Id))
	}
	return conversion, nil
}

// lockConversion reads the deposit, prices it and persists the conversion with the
// locked rate and amounts.
func (w *ConversionWorker) lockConversion(ctx context.Context, job *models.Job, invoice *models.Invoice) (*models.Conversion, bool, error) {
	deposit, err := w.store.GetDeposit(ctx, job.EntityId)
	if err != nil {
		return nil, errors.Is(err, store.ErrNotFound), err
	}
	if deposit.Status != models.DepositConfirmed || deposit.InvoiceId != invoice.Id {
		return nil, true, fmt.Errorf("%w: deposit %s is %s", ErrDepositNotConfirmed, deposit.Id, deposit.Status)
	}

	rateCtx, cancel := context.WithTimeout(ctx, w.orderTimeout)
	rate, err := w.exchange.Rate(rateCtx, invoice.TokenSymbol, invoice.FiatCurrency)
	cancel()
	if err != nil {
		return nil, false, fmt.Errorf("unable to fetch %s/%s rate: %w", invoice.TokenSymbol, invoice.FiatCurrency, err)
	}
	if !rate.IsPositive() {
		return nil, false, fmt.Errorf("exchange returned non-positive rate %s", rate)
	}

	gross, fee, net := ComputeAmounts(deposit.AmountToken, rate, w.feePercent)
	conversion, err := w.store.CreateConversion(ctx, store.CreateConversionParams{
		InvoiceId:       invoice.Id,
		DepositId:       deposit.Id,
		Rate:            rate,
		AmountToken:     deposit.AmountToken,
		AmountFiatGross: gross,
		PlatformFee:     fee,
		AmountFiatNet:   net,
	})
	if errors.Is(err, store.ErrDuplicateConversion) {
		conversion, err = w.store.GetConversionByInvoice(ctx, invoice.Id)
	}
	if err != nil {
		return nil, false, err
	}

	zap.L().Info("Conversion locked",
		zap.String("conversion_id", conversion.Id),
		zap.String("invoice_id", invoice.Id),
		zap.String("rate", rate.String()),
		zap.String("gross", gross.String()),
		zap.String("fee", fee.String()),
		zap.String("net", net.String()))
	return conversion, false, nil
}

func (w *ConversionWorker) execute(ctx context.Context, job *models.Job, invoice *models.Invoice, conversion *models.Conversion) queue.Result {
	var (
		order *models.OrderResult
		err   error
	)
	if conversion.ExchangeOrderId != "" {
		order, err = w.exchange.GetOrder(ctx, conversion.ExchangeOrderId)
	} else {
		order, err = w.exchange.MarketSell(ctx, invoice.TokenSymbol, conversion.AmountToken, IdempotencyKey(conversion.Id))
	}
	if err != nil {
		return w.fail(ctx, job, invoice, conversion, fmt.Errorf("market sell failed: %w", err), false)
	}

	if order.OrderId != "" && order.OrderId != conversion.ExchangeOrderId {
		if err := w.store.SetConversionOrder(ctx, conversion.Id, order.OrderId); err != nil {
			zap.L().Warn("Failed to record exchange order id",
				zap.String("conversion_id", conversion.Id), zap.Error(err))
		}
		conversion.ExchangeOrderId = order.OrderId
	}

	order, err = w.waitForFill(ctx, order)
	if err != nil {
		return w.fail(ctx, job, invoice, conversion, err, errors.Is(err, ErrOrderRejected))
	}

	completed, err := w.store.CompleteConversion(ctx, conversion.Id, order.OrderId)
	if err != nil {
		return queue.Retry(err)
	}
	if !completed.Applied {
		return queue.Skipped("conversion completed elsewhere")
	}

	publish(ctx, w.publisher, events.Event{
		Type:      events.ConversionCompleted,
		InvoiceId: invoice.Id,
		EntityId:  conversion.Id,
		Status:    models.StatusCompleted,
		Data: map[string]string{
			"order_id":    order.OrderId,
			"rate":        conversion.Rate.String(),
			"gross":       conversion.AmountFiatGross.String(),
			"fee":         conversion.PlatformFee.String(),
			"net":         conversion.AmountFiatNet.String(),
			"fiat":        invoice.FiatCurrency,
			"token":       invoice.TokenSymbol,
			"token_total": conversion.AmountToken.String(),
		},
	})

	if _, _, err := w.enqueuer.Enqueue(ctx, models.LanePayout, invoice.Id, conversion.Id); err != nil {
		zap.L().Error("Failed to enqueue payout after conversion",
			zap.String("invoice_id", invoice.Id),
			zap.String("conversion_id", conversion.Id),
			zap.Error(err))
		return queue.Terminal(fmt.Errorf("conversion completed but payout not scheduled: %w", err))
	}
	return queue.Completed()
}

// waitForFill polls the exchange until the order is filled, rejected, or the order
// timeout elapses.
func (w *ConversionWorker) waitForFill(ctx context.Context, order *models.OrderResult) (*models.OrderResult, error) {
	deadline := time.Now().Add(w.orderTimeout)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		switch order.Status {
		case models.OrderFilled:
			return order, nil
		case models.OrderCancelled, models.OrderRejected, models.OrderExpired:
			return nil, fmt.Errorf("%w: order %s is %s", ErrOrderRejected, order.OrderId, order.Status)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: order %s still %s after %s", ErrOrderNotFilled, order.OrderId, order.Status, w.orderTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		next, err := w.exchange.GetOrder(ctx, order.OrderId)
		if err != nil {
			return nil, fmt.Errorf("unable to poll order %s: %w", order.OrderId, err)
		}
		order = next
	}
}

// fail records the error on the conversion. The invoice is failed only when no
// further attempt will run.
func (w *ConversionWorker) fail(ctx context.Context, job *models.Job, invoice *models.Invoice, conversion *models.Conversion, cause error, terminal bool) queue.Result {
	msg := cause.Error()
	zap.L().Error("Conversion attempt failed",
		zap.String("invoice_id", invoice.Id),
		zap.String("job_id", job.Id),
		zap.Int("attempt", job.Attempts),
		zap.Bool("terminal", terminal),
		zap.Error(cause))

	if conversion != nil {
		if _, err := w.store.FailConversion(ctx, conversion.Id, msg); err != nil {
			zap.L().Error("Failed to record conversion failure", zap.String("conversion_id", conversion.Id), zap.Error(err))
		}
	}
	if terminal || job.LastAttempt() {
		if _, err := w.machine.MarkFailed(ctx, invoice.Id, msg); err != nil {
			zap.L().Error("Failed to mark invoice failed", zap.String("invoice_id", invoice.Id), zap.Error(err))
		}
	}

	if terminal {
		return queue.Terminal(cause)
	}
	return queue.Retry(cause)
}
