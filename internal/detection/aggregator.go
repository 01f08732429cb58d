package detection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/rationguard/internal/domain"
)

// AlertWriter is the subset of domain.Repository the recorder writes to.
type AlertWriter interface {
	SaveAlert(ctx context.Context, a *domain.Alert) error
}

// FailureRecorder counts evaluator failures. *metrics.Metrics satisfies it.
type FailureRecorder interface {
	RecordEvaluatorFailure(rule string)
}

// Aggregator runs evaluators in order and persists the alerts they produce.
type Aggregator struct {
	evaluators []Evaluator
	alerts     AlertWriter
	failures   FailureRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the time source used for timing checks.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithLogger sets the logger used for contained evaluator failures.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// WithFailureRecorder sets where evaluator failures are counted.
func WithFailureRecorder(r FailureRecorder) Option {
	return func(a *Aggregator) { a.failures = r }
}

// NewAggregator creates an aggregator over evaluators, which run in the given order.
func NewAggregator(evaluators []Evaluator, alerts AlertWriter, opts ...Option) *Aggregator {
	a := &Aggregator{
		evaluators: evaluators,
		alerts:     alerts,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Evaluate runs every evaluator and returns their non-nil candidates in evaluator order.
// An evaluator that fails is logged and treated as producing no candidate.
func (a *Aggregator) Evaluate(ctx context.Context, beneficiaryID, cardNumber, shopID, cycleID string) []domain.AlertCandidate {
	in := Input{
		BeneficiaryID: beneficiaryID,
		CardNumber:    cardNumber,
		ShopID:        shopID,
		CycleID:       cycleID,
		Now:           a.now(),
	}

	candidates := make([]domain.AlertCandidate, 0, len(a.evaluators))
	for _, ev := range a.evaluators {
		cand, err := a.run(ctx, ev, in)
		if err != nil {
			a.logger.Warn("fraud evaluator failed, skipping",
				"rule", ev.Name(),
				"beneficiary_id", beneficiaryID,
				"card_number", cardNumber,
				"error", err,
			)
			if a.failures != nil {
				a.failures.RecordEvaluatorFailure(ev.Name())
			}
			continue
		}
		if cand != nil {
			candidates = append(candidates, *cand)
		}
	}
	return candidates
}

// run isolates a single evaluator, turning a panic into an error.
func (a *Aggregator) run(ctx context.Context, ev Evaluator, in Input) (cand *domain.AlertCandidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			cand, err = nil, fmt.Errorf("evaluator panic: %v", r)
		}
	}()
	return ev.Evaluate(ctx, in)
}

// Persist writes one pending alert for candidate. It is not idempotent: each call creates a row.
func (a *Aggregator) Persist(ctx context.Context, candidate domain.AlertCandidate, actx domain.AlertContext) (string, error) {
	if actx.TransactionID == "" {
		return "", fmt.Errorf("%w: transaction id is required to persist an alert", domain.ErrValidation)
	}

	alert := &domain.Alert{
		ID:                    uuid.New().String(),
		AlertType:             candidate.AlertType,
		BeneficiaryID:         actx.BeneficiaryID,
		CardNumber:            actx.CardNumber,
		TransactionID:         actx.TransactionID,
		ShopID:                actx.ShopID,
		Description:           candidate.Description,
		Severity:              candidate.Severity,
		Status:                domain.AlertPending,
		PreviousTransactionID: candidate.PreviousTransactionID,
		CreatedAt:             a.now().UTC(),
	}
	if err := a.alerts.SaveAlert(ctx, alert); err != nil {
		return "", fmt.Errorf("failed to save alert: %w", err)
	}
	return alert.ID, nil
}

// StatusFor returns the transaction status implied by a candidate set.
func StatusFor(candidates []domain.AlertCandidate) domain.TransactionStatus {
	if len(candidates) > 0 {
		return domain.TransactionFlagged
	}
	return domain.TransactionSuccess
}
