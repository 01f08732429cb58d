// Package worker consumes verification events from the EventBus and turns them
// into metrics and an audit log.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-finance/rationguard/internal/domain"
)

// Recorder receives counts derived from events. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordTransaction(status string)
	RecordAlert(alertType, severity string)
}

// Worker processes verification events asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	recorder Recorder
	logger   *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	transactions atomic.Int64
	alerts       atomic.Int64
	failures     atomic.Int64
}

// NewWorker creates a new event worker. recorder may be nil.
func NewWorker(bus domain.EventBus, recorder Recorder, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		recorder: recorder,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the transaction and alert topics.
func (w *Worker) Start() error {
	handlers := []struct {
		topic   string
		handler domain.MessageHandler
	}{
		{domain.TopicTransactionRecorded, w.handleTransaction},
		{domain.TopicAlertRaised, w.handleAlert},
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, h := range handlers {
		sub, err := w.bus.Subscribe(w.ctx, h.topic, h.handler)
		if err != nil {
			w.unsubscribeAll()
			return fmt.Errorf("failed to subscribe to %s: %w", h.topic, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	w.logger.Info("event worker started",
		"topics", len(w.subscriptions),
	)
	return nil
}

func (w *Worker) handleTransaction(ctx context.Context, msg *domain.Message) error {
	var ev domain.TransactionEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		w.failures.Add(1)
		w.logger.Error("failed to parse transaction event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.transactions.Add(1)
	if w.recorder != nil {
		w.recorder.RecordTransaction(string(ev.Status))
	}

	w.logger.Info("transaction recorded",
		"transaction_id", ev.TransactionID,
		"beneficiary_id", ev.BeneficiaryID,
		"card_number", ev.CardNumber,
		"shop_id", ev.ShopID,
		"cycle_id", ev.CycleID,
		"status", ev.Status,
		"confidence", ev.Confidence,
		"alert_count", ev.AlertCount,
	)
	return nil
}

func (w *Worker) handleAlert(ctx context.Context, msg *domain.Message) error {
	var ev domain.AlertEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		w.failures.Add(1)
		w.logger.Error("failed to parse alert event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	w.alerts.Add(1)
	if w.recorder != nil {
		w.recorder.RecordAlert(string(ev.AlertType), string(ev.Severity))
	}

	level := slog.LevelInfo
	if ev.Severity == domain.SeverityCritical {
		level = slog.LevelWarn
	}
	w.logger.Log(ctx, level, "alert raised",
		"alert_id", ev.AlertID,
		"alert_type", ev.AlertType,
		"severity", ev.Severity,
		"transaction_id", ev.TransactionID,
		"card_number", ev.CardNumber,
		"shop_id", ev.ShopID,
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	w.unsubscribeAll()
	w.mu.Unlock()

	w.logger.Info("event worker stopped")
	return nil
}

func (w *Worker) unsubscribeAll() {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
}

// Stats holds worker counters.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
	Transactions      int64    `json:"transactions"`
	Alerts            int64    `json:"alerts"`
	Failures          int64    `json:"failures"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Transactions:      w.transactions.Load(),
		Alerts:            w.alerts.Load(),
		Failures:          w.failures.Load(),
	}
}
