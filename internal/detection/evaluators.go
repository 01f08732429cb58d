// Package detection runs the duplicate and fraud-signal evaluators and records their alerts.
package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/rationguard/internal/domain"
)

// Input describes the verification being evaluated. CycleID is empty when no cycle is active.
type Input struct {
	BeneficiaryID string
	CardNumber    string
	ShopID        string
	CycleID       string
	Now           time.Time
}

// Evaluator inspects history and returns at most one alert candidate.
// A nil candidate with a nil error means no signal.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, in Input) (*domain.AlertCandidate, error)
}

// SameCardDifferentPerson flags a card whose recent transactions belong to another beneficiary.
type SameCardDifferentPerson struct {
	History domain.HistoryGateway
	Limit   int
}

func (e *SameCardDifferentPerson) Name() string { return string(domain.AlertDifferentPerson) }

func (e *SameCardDifferentPerson) Evaluate(ctx context.Context, in Input) (*domain.AlertCandidate, error) {
	records, err := e.History.RecentByCard(ctx, in.CardNumber, e.Limit, true)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.BeneficiaryID != in.BeneficiaryID {
			return &domain.AlertCandidate{
				AlertType:             domain.AlertDifferentPerson,
				Description:           fmt.Sprintf("Card %s was used by a different person in previous transaction", in.CardNumber),
				Severity:              domain.SeverityCritical,
				PreviousTransactionID: rec.TransactionID,
			}, nil
		}
	}
	return nil, nil
}

// DuplicateLocation flags a beneficiary who already collected at another shop in scope.
type DuplicateLocation struct {
	History domain.HistoryGateway
	Limit   int
}

func (e *DuplicateLocation) Name() string { return string(domain.AlertDuplicateLocation) }

func (e *DuplicateLocation) Evaluate(ctx context.Context, in Input) (*domain.AlertCandidate, error) {
	records, err := e.History.ByBeneficiaryInCycle(ctx, in.BeneficiaryID, in.CycleID, domain.TransactionSuccess, e.Limit)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.ShopID != in.ShopID {
			return &domain.AlertCandidate{
				AlertType:             domain.AlertDuplicateLocation,
				Description:           "Beneficiary already collected rations from a different shop in this cycle",
				Severity:              domain.SeverityHigh,
				PreviousTransactionID: rec.TransactionID,
			}, nil
		}
	}
	return nil, nil
}

// MultipleAttempts flags a beneficiary with more than one success in scope,
// counting the attempt being verified.
type MultipleAttempts struct {
	History domain.HistoryGateway
}

func (e *MultipleAttempts) Name() string { return string(domain.AlertMultipleAttempts) }

func (e *MultipleAttempts) Evaluate(ctx context.Context, in Input) (*domain.AlertCandidate, error) {
	records, err := e.History.ByBeneficiaryInCycle(ctx, in.BeneficiaryID, in.CycleID, domain.TransactionSuccess, 0)
	if err != nil {
		return nil, err
	}
	count := len(records) + 1
	if count <= 1 {
		return nil, nil
	}
	return &domain.AlertCandidate{
		AlertType:             domain.AlertMultipleAttempts,
		Description:           fmt.Sprintf("Beneficiary has %d transactions in current cycle", count),
		Severity:              domain.SeverityHigh,
		PreviousTransactionID: records[0].TransactionID,
	}, nil
}

// SuspiciousTiming flags a beneficiary with another transaction less than Gap ago.
type SuspiciousTiming struct {
	History domain.HistoryGateway
	Window  time.Duration
	Gap     time.Duration
}

func (e *SuspiciousTiming) Name() string { return string(domain.AlertSuspiciousTiming) }

func (e *SuspiciousTiming) Evaluate(ctx context.Context, in Input) (*domain.AlertCandidate, error) {
	records, err := e.History.ByBeneficiarySince(ctx, in.BeneficiaryID, in.Now.Add(-e.Window))
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		age := in.Now.Sub(rec.CreatedAt)
		if age < e.Gap {
			return &domain.AlertCandidate{
				AlertType:             domain.AlertSuspiciousTiming,
				Description:           fmt.Sprintf("Multiple transactions within %.1f hours", age.Hours()),
				Severity:              domain.SeverityMedium,
				PreviousTransactionID: rec.TransactionID,
			}, nil
		}
	}
	return nil, nil
}

// DefaultEvaluators returns the four evaluators in their fixed order.
func DefaultEvaluators(history domain.HistoryGateway, cfg domain.DetectionConfig) []Evaluator {
	def := domain.DefaultDetectionConfig()
	if cfg.CardHistoryLimit <= 0 {
		cfg.CardHistoryLimit = def.CardHistoryLimit
	}
	if cfg.LocationHistoryLimit <= 0 {
		cfg.LocationHistoryLimit = def.LocationHistoryLimit
	}
	if cfg.TimingWindow <= 0 {
		cfg.TimingWindow = def.TimingWindow
	}
	if cfg.RapidRepeatGap <= 0 {
		cfg.RapidRepeatGap = def.RapidRepeatGap
	}

	return []Evaluator{
		&SameCardDifferentPerson{History: history, Limit: cfg.CardHistoryLimit},
		&DuplicateLocation{History: history, Limit: cfg.LocationHistoryLimit},
		&MultipleAttempts{History: history},
		&SuspiciousTiming{History: history, Window: cfg.TimingWindow, Gap: cfg.RapidRepeatGap},
	}
}
