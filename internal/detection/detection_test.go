package detection

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/rationguard/internal/domain"
)

// memHistory is an in-memory HistoryGateway over a slice of transactions.
type memHistory struct {
	txs  []domain.Transaction
	fail map[string]bool // method name -> fail
}

func (m *memHistory) sorted(newestFirst bool) []domain.Transaction {
	out := append([]domain.Transaction(nil), m.txs...)
	sort.SliceStable(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func record(tx domain.Transaction) domain.HistoryRecord {
	return domain.HistoryRecord{TransactionID: tx.ID, BeneficiaryID: tx.BeneficiaryID, ShopID: tx.ShopID, Status: tx.Status, CreatedAt: tx.CreatedAt}
}

func (m *memHistory) RecentByCard(_ context.Context, card string, limit int, newestFirst bool) ([]domain.HistoryRecord, error) {
	if m.fail["RecentByCard"] {
		return nil, domain.ErrUpstream
	}
	var out []domain.HistoryRecord
	for _, tx := range m.sorted(newestFirst) {
		if tx.CardNumber == card && (limit <= 0 || len(out) < limit) {
			out = append(out, record(tx))
		}
	}
	return out, nil
}

func (m *memHistory) ByBeneficiaryInCycle(_ context.Context, ben, cycle string, status domain.TransactionStatus, limit int) ([]domain.HistoryRecord, error) {
	if m.fail["ByBeneficiaryInCycle"] {
		return nil, domain.ErrUpstream
	}
	var out []domain.HistoryRecord
	for _, tx := range m.sorted(true) {
		if tx.BeneficiaryID != ben || (cycle != "" && tx.CycleID != cycle) || (status != "" && tx.Status != status) {
			continue
		}
		if limit <= 0 || len(out) < limit {
			out = append(out, record(tx))
		}
	}
	return out, nil
}

func (m *memHistory) ByBeneficiarySince(_ context.Context, ben string, since time.Time) ([]domain.HistoryRecord, error) {
	if m.fail["ByBeneficiarySince"] {
		return nil, domain.ErrUpstream
	}
	var out []domain.HistoryRecord
	for _, tx := range m.sorted(true) {
		if tx.BeneficiaryID == ben && !tx.CreatedAt.Before(since) {
			out = append(out, record(tx))
		}
	}
	return out, nil
}

type memAlerts struct {
	saved []*domain.Alert
	err   error
}

func (m *memAlerts) SaveAlert(_ context.Context, a *domain.Alert) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, a)
	return nil
}

type countingFailures map[string]int

func (c countingFailures) RecordEvaluatorFailure(rule string) { c[rule]++ }

var testNow = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

func newTestAggregator(h domain.HistoryGateway, alerts AlertWriter, opts ...Option) *Aggregator {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewAggregator(DefaultEvaluators(h, domain.DefaultDetectionConfig()), alerts, opts...)
}

func alertTypes(cands []domain.AlertCandidate) []domain.AlertType {
	out := make([]domain.AlertType, len(cands))
	for i, c := range cands {
		out[i] = c.AlertType
	}
	return out
}

func TestSameCardDifferentPerson(t *testing.T) {
	ctx := context.Background()
	in := Input{BeneficiaryID: "ben-A", CardNumber: "CARD-X", ShopID: "S1", Now: testNow}

	t.Run("AllSameBeneficiary", func(t *testing.T) {
		h := &memHistory{}
		for i := 0; i < 5; i++ {
			h.txs = append(h.txs, domain.Transaction{ID: "t" + string(rune('0'+i)), BeneficiaryID: "ben-A", CardNumber: "CARD-X", CreatedAt: testNow.Add(-time.Duration(i+1) * 24 * time.Hour)})
		}
		ev := &SameCardDifferentPerson{History: h, Limit: 5}
		cand, err := ev.Evaluate(ctx, in)
		if err != nil || cand != nil {
			t.Errorf("expected no alert, got %+v, %v", cand, err)
		}
	})

	t.Run("ReportsFirstDiffering", func(t *testing.T) {
		h := &memHistory{txs: []domain.Transaction{
			{ID: "newest", BeneficiaryID: "ben-A", CardNumber: "CARD-X", CreatedAt: testNow.Add(-1 * time.Hour)},
			{ID: "other-1", BeneficiaryID: "ben-B", CardNumber: "CARD-X", CreatedAt: testNow.Add(-2 * time.Hour)},
			{ID: "other-2", BeneficiaryID: "ben-C", CardNumber: "CARD-X", CreatedAt: testNow.Add(-3 * time.Hour)},
		}}
		ev := &SameCardDifferentPerson{History: h, Limit: 5}
		cand, _ := ev.Evaluate(ctx, in)
		if cand == nil {
			t.Fatal("expected alert")
		}
		if cand.PreviousTransactionID != "other-1" {
			t.Errorf("expected evidence other-1, got %s", cand.PreviousTransactionID)
		}
		if cand.Severity != domain.SeverityCritical {
			t.Errorf("expected critical, got %s", cand.Severity)
		}
		if cand.Description != "Card CARD-X was used by a different person in previous transaction" {
			t.Errorf("unexpected description: %s", cand.Description)
		}
	})

	t.Run("OnlyLooksAtMostRecentFive", func(t *testing.T) {
		h := &memHistory{}
		for i := 0; i < 5; i++ {
			h.txs = append(h.txs, domain.Transaction{ID: "mine", BeneficiaryID: "ben-A", CardNumber: "CARD-X", CreatedAt: testNow.Add(-time.Duration(i+1) * time.Hour)})
		}
		h.txs = append(h.txs, domain.Transaction{ID: "old-other", BeneficiaryID: "ben-B", CardNumber: "CARD-X", CreatedAt: testNow.Add(-30 * 24 * time.Hour)})

		ev := &SameCardDifferentPerson{History: h, Limit: 5}
		if cand, _ := ev.Evaluate(ctx, in); cand != nil {
			t.Errorf("sixth-oldest transaction must not trigger, got %+v", cand)
		}
	})
}

func TestDuplicateLocation(t *testing.T) {
	ctx := context.Background()
	h := &memHistory{txs: []domain.Transaction{
		{ID: "c1-s1", BeneficiaryID: "ben-A", ShopID: "S1", CycleID: "C1", Status: domain.TransactionSuccess, CreatedAt: testNow.Add(-48 * time.Hour)},
		{ID: "c2-s2-failed", BeneficiaryID: "ben-A", ShopID: "S2", CycleID: "C2", Status: domain.TransactionFailed, CreatedAt: testNow.Add(-24 * time.Hour)},
	}}
	ev := &DuplicateLocation{History: h, Limit: 10}

	tests := []struct {
		name     string
		shop     string
		cycle    string
		evidence string
	}{
		{"different shop same cycle", "S2", "C1", "c1-s1"},
		{"same shop", "S1", "C1", ""},
		{"failed transactions ignored", "S1", "C2", ""},
		{"no cycle means all cycles", "S3", "", "c1-s1"},
		{"other cycle", "S3", "C2", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand, err := ev.Evaluate(ctx, Input{BeneficiaryID: "ben-A", ShopID: tt.shop, CycleID: tt.cycle, Now: testNow})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.evidence == "" {
				if cand != nil {
					t.Errorf("expected no alert, got %+v", cand)
				}
				return
			}
			if cand == nil || cand.PreviousTransactionID != tt.evidence || cand.Severity != domain.SeverityHigh {
				t.Errorf("expected high alert citing %s, got %+v", tt.evidence, cand)
			}
		})
	}
}

func TestMultipleAttempts(t *testing.T) {
	ctx := context.Background()
	in := Input{BeneficiaryID: "ben-A", CycleID: "C1", Now: testNow}

	h := &memHistory{}
	ev := &MultipleAttempts{History: h}
	if cand, _ := ev.Evaluate(ctx, in); cand != nil {
		t.Errorf("first success in cycle must not alert, got %+v", cand)
	}

	h.txs = append(h.txs, domain.Transaction{ID: "prior", BeneficiaryID: "ben-A", CycleID: "C1", Status: domain.TransactionSuccess, CreatedAt: testNow.Add(-72 * time.Hour)})
	cand, _ := ev.Evaluate(ctx, in)
	if cand == nil {
		t.Fatal("expected alert for second success in cycle")
	}
	if cand.Description != "Beneficiary has 2 transactions in current cycle" {
		t.Errorf("unexpected description: %s", cand.Description)
	}
	if cand.PreviousTransactionID != "prior" {
		t.Errorf("expected evidence prior, got %s", cand.PreviousTransactionID)
	}

	if cand, _ := ev.Evaluate(ctx, Input{BeneficiaryID: "ben-A", CycleID: "C9", Now: testNow}); cand != nil {
		t.Errorf("success in another cycle must not count, got %+v", cand)
	}
}

func TestSuspiciousTiming(t *testing.T) {
	ctx := context.Background()
	ev := &SuspiciousTiming{Window: 6 * time.Hour, Gap: 2 * time.Hour}

	tests := []struct {
		name string
		age  time.Duration
		want string
	}{
		{"ninety minutes", 90 * time.Minute, "Multiple transactions within 1.5 hours"},
		{"just under gap", 2*time.Hour - time.Minute, "Multiple transactions within 2.0 hours"},
		{"exactly gap", 2 * time.Hour, ""},
		{"three hours", 3 * time.Hour, ""},
		{"outside window", 7 * time.Hour, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev.History = &memHistory{txs: []domain.Transaction{
				{ID: "prev", BeneficiaryID: "ben-A", Status: domain.TransactionFailed, CreatedAt: testNow.Add(-tt.age)},
			}}
			cand, err := ev.Evaluate(ctx, Input{BeneficiaryID: "ben-A", Now: testNow})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want == "" {
				if cand != nil {
					t.Errorf("expected no alert, got %+v", cand)
				}
				return
			}
			if cand == nil || cand.Description != tt.want || cand.Severity != domain.SeverityMedium {
				t.Errorf("expected %q, got %+v", tt.want, cand)
			}
		})
	}
}

func TestEvaluateOrderAndStability(t *testing.T) {
	h := &memHistory{txs: []domain.Transaction{
		{ID: "by-B", BeneficiaryID: "ben-B", CardNumber: "CARD-X", ShopID: "S1", CycleID: "C1", Status: domain.TransactionSuccess, CreatedAt: testNow.Add(-30 * time.Minute)},
		{ID: "by-A", BeneficiaryID: "ben-A", CardNumber: "CARD-X", ShopID: "S1", CycleID: "C1", Status: domain.TransactionSuccess, CreatedAt: testNow.Add(-time.Hour)},
	}}
	agg := newTestAggregator(h, &memAlerts{})

	first := agg.Evaluate(context.Background(), "ben-A", "CARD-X", "S2", "C1")
	want := []domain.AlertType{domain.AlertDifferentPerson, domain.AlertDuplicateLocation, domain.AlertMultipleAttempts, domain.AlertSuspiciousTiming}
	got := alertTypes(first)
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}

	second := agg.Evaluate(context.Background(), "ben-A", "CARD-X", "S2", "C1")
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("evaluation not stable at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
	if StatusFor(first) != domain.TransactionFlagged {
		t.Errorf("expected flagged, got %s", StatusFor(first))
	}
}

func TestEvaluateContainsFailures(t *testing.T) {
	h := &memHistory{
		txs: []domain.Transaction{
			{ID: "prev", BeneficiaryID: "ben-A", CardNumber: "CARD-X", ShopID: "S1", Status: domain.TransactionSuccess, CreatedAt: testNow.Add(-time.Hour)},
		},
		fail: map[string]bool{"ByBeneficiaryInCycle": true},
	}
	failures := countingFailures{}
	agg := newTestAggregator(h, &memAlerts{}, WithFailureRecorder(failures))

	cands := agg.Evaluate(context.Background(), "ben-A", "CARD-X", "S2", "")
	got := alertTypes(cands)
	if len(got) != 1 || got[0] != domain.AlertSuspiciousTiming {
		t.Errorf("expected only suspicious_timing to survive, got %v", got)
	}
	if failures["duplicate_location"] != 1 || failures["multiple_attempts"] != 1 {
		t.Errorf("expected one failure each for cycle-scoped rules, got %v", failures)
	}
}

type panickingEvaluator struct{}

func (panickingEvaluator) Name() string { return "panicky" }
func (panickingEvaluator) Evaluate(context.Context, Input) (*domain.AlertCandidate, error) {
	panic("nil map")
}

func TestEvaluateRecoversPanics(t *testing.T) {
	h := &memHistory{txs: []domain.Transaction{
		{ID: "other", BeneficiaryID: "ben-B", CardNumber: "CARD-X", CreatedAt: testNow.Add(-48 * time.Hour)},
	}}
	evs := append([]Evaluator{panickingEvaluator{}}, DefaultEvaluators(h, domain.DetectionConfig{})...)
	failures := countingFailures{}
	agg := NewAggregator(evs, &memAlerts{}, WithClock(func() time.Time { return testNow }), WithFailureRecorder(failures))

	cands := agg.Evaluate(context.Background(), "ben-A", "CARD-X", "S1", "")
	if len(cands) != 1 || cands[0].AlertType != domain.AlertDifferentPerson {
		t.Errorf("expected different_person after panic, got %v", alertTypes(cands))
	}
	if failures["panicky"] != 1 {
		t.Errorf("expected panic to be counted, got %v", failures)
	}
}

func TestNoHistoryNoAlerts(t *testing.T) {
	agg := newTestAggregator(&memHistory{}, &memAlerts{})
	cands := agg.Evaluate(context.Background(), "ben-A", "CARD-X", "S1", "C1")
	if len(cands) != 0 {
		t.Errorf("expected no candidates, got %v", alertTypes(cands))
	}
	if StatusFor(cands) != domain.TransactionSuccess {
		t.Errorf("expected success, got %s", StatusFor(cands))
	}
}

func TestPersist(t *testing.T) {
	store := &memAlerts{}
	agg := newTestAggregator(&memHistory{}, store)
	cand := domain.AlertCandidate{
		AlertType:             domain.AlertDuplicateLocation,
		Description:           "Beneficiary already collected rations from a different shop in this cycle",
		Severity:              domain.SeverityHigh,
		PreviousTransactionID: "prev-tx",
	}
	actx := domain.AlertContext{TransactionID: "tx-1", BeneficiaryID: "ben-A", CardNumber: "CARD-X", ShopID: "S2"}

	id1, err := agg.Persist(context.Background(), cand, actx)
	if err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	id2, _ := agg.Persist(context.Background(), cand, actx)
	if id1 == id2 {
		t.Error("expected distinct alert ids for repeated persists")
	}
	if len(store.saved) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(store.saved))
	}

	a := store.saved[0]
	if a.Status != domain.AlertPending || a.TransactionID != "tx-1" || a.PreviousTransactionID != "prev-tx" || !a.CreatedAt.Equal(testNow) {
		t.Errorf("unexpected alert: %+v", a)
	}

	if _, err := agg.Persist(context.Background(), cand, domain.AlertContext{}); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation without transaction id, got %v", err)
	}

	store.err = errors.New("disk full")
	if _, err := agg.Persist(context.Background(), cand, actx); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected store error, got %v", err)
	}
}
