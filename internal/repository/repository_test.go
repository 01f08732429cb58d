package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/rationguard/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "rationguard-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testBeneficiary(id, card string) *domain.Beneficiary {
	now := time.Now().UTC()
	return &domain.Beneficiary{
		ID:            id,
		CardNumber:    card,
		Name:          "Asha Devi",
		Phone:         "9876543210",
		FaceEmbedding: "[0.1,0.2,0.3]",
		Status:        domain.BeneficiaryActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("CreateAndGetBeneficiary", func(t *testing.T) {
		b := testBeneficiary("ben-001", "CARD-001")
		if err := repo.CreateBeneficiary(ctx, b); err != nil {
			t.Fatalf("CreateBeneficiary failed: %v", err)
		}

		got, err := repo.GetBeneficiaryByCard(ctx, "CARD-001")
		if err != nil {
			t.Fatalf("GetBeneficiaryByCard failed: %v", err)
		}
		if got.ID != "ben-001" {
			t.Errorf("expected ID ben-001, got %s", got.ID)
		}
		if got.FaceEmbedding != b.FaceEmbedding {
			t.Errorf("expected embedding %s, got %s", b.FaceEmbedding, got.FaceEmbedding)
		}
		if got.Address != "" {
			t.Errorf("expected empty address, got %q", got.Address)
		}

		byID, err := repo.GetBeneficiary(ctx, "ben-001")
		if err != nil {
			t.Fatalf("GetBeneficiary failed: %v", err)
		}
		if byID.CardNumber != "CARD-001" {
			t.Errorf("expected card CARD-001, got %s", byID.CardNumber)
		}
	})

	t.Run("DuplicateCard", func(t *testing.T) {
		err := repo.CreateBeneficiary(ctx, testBeneficiary("ben-dup", "CARD-001"))
		if !errors.Is(err, domain.ErrDuplicateCard) {
			t.Errorf("expected ErrDuplicateCard, got: %v", err)
		}
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected duplicate card to be a validation error, got: %v", err)
		}
	})

	t.Run("UpdateBeneficiaryStatus", func(t *testing.T) {
		if err := repo.UpdateBeneficiaryStatus(ctx, "CARD-001", domain.BeneficiarySuspended); err != nil {
			t.Fatalf("UpdateBeneficiaryStatus failed: %v", err)
		}
		got, _ := repo.GetBeneficiaryByCard(ctx, "CARD-001")
		if got.Status != domain.BeneficiarySuspended {
			t.Errorf("expected suspended, got %s", got.Status)
		}

		if err := repo.UpdateBeneficiaryStatus(ctx, "CARD-404", domain.BeneficiaryActive); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if err := repo.UpdateBeneficiaryStatus(ctx, "CARD-001", "deleted"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("UpdateBeneficiaryFace", func(t *testing.T) {
		if err := repo.UpdateBeneficiaryFace(ctx, "CARD-001", "[0.9,0.8,0.7]", "faces/card-001.jpg"); err != nil {
			t.Fatalf("UpdateBeneficiaryFace failed: %v", err)
		}
		got, _ := repo.GetBeneficiaryByCard(ctx, "CARD-001")
		if got.FaceEmbedding != "[0.9,0.8,0.7]" {
			t.Errorf("expected new embedding, got %s", got.FaceEmbedding)
		}
		if got.FaceImageRef != "faces/card-001.jpg" {
			t.Errorf("expected image ref, got %s", got.FaceImageRef)
		}
	})

	t.Run("ListBeneficiaries", func(t *testing.T) {
		_ = repo.CreateBeneficiary(ctx, testBeneficiary("ben-002", "CARD-002"))

		all, err := repo.ListBeneficiaries(ctx, "", 0)
		if err != nil {
			t.Fatalf("ListBeneficiaries failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 beneficiaries, got %d", len(all))
		}

		active, _ := repo.ListBeneficiaries(ctx, domain.BeneficiaryActive, 10)
		if len(active) != 1 || active[0].CardNumber != "CARD-002" {
			t.Errorf("expected only CARD-002 active, got %d", len(active))
		}
	})

	t.Run("Shops", func(t *testing.T) {
		shop := &domain.Shop{ID: "shop-1", Name: "Ward 4 FPS", ShopCode: "FPS-004", CreatedAt: time.Now()}
		if err := repo.SaveShop(ctx, shop); err != nil {
			t.Fatalf("SaveShop failed: %v", err)
		}
		dup := &domain.Shop{ID: "shop-2", Name: "Other", ShopCode: "FPS-004", CreatedAt: time.Now()}
		if err := repo.SaveShop(ctx, dup); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for duplicate shop code, got: %v", err)
		}

		shops, err := repo.ListShops(ctx)
		if err != nil {
			t.Fatalf("ListShops failed: %v", err)
		}
		if len(shops) != 1 {
			t.Errorf("expected 1 shop, got %d", len(shops))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetBeneficiaryByCard(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetTransaction(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAlert(ctx, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetActiveCycle(ctx); err != ErrNotFound {
			t.Errorf("expected ErrNotFound with no active cycle, got: %v", err)
		}
	})
}

func TestCycles(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"cycle-mar", "cycle-apr"} {
		c := &domain.DistributionCycle{
			ID:        id,
			Name:      id,
			StartsAt:  start.AddDate(0, i, 0),
			EndsAt:    start.AddDate(0, i+1, 0),
			CreatedAt: time.Now(),
		}
		if err := repo.SaveCycle(ctx, c); err != nil {
			t.Fatalf("SaveCycle(%s) failed: %v", id, err)
		}
		if c.Status != domain.CyclePlanned {
			t.Errorf("expected new cycle to be planned, got %s", c.Status)
		}
	}

	t.Run("RejectsActiveOnCreate", func(t *testing.T) {
		c := &domain.DistributionCycle{ID: "x", Name: "x", Status: domain.CycleActive, StartsAt: start, EndsAt: start.Add(time.Hour)}
		if err := repo.SaveCycle(ctx, c); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("ActivateKeepsSingleActive", func(t *testing.T) {
		if err := repo.ActivateCycle(ctx, "cycle-mar"); err != nil {
			t.Fatalf("ActivateCycle failed: %v", err)
		}
		if err := repo.ActivateCycle(ctx, "cycle-apr"); err != nil {
			t.Fatalf("ActivateCycle failed: %v", err)
		}

		active, err := repo.GetActiveCycle(ctx)
		if err != nil {
			t.Fatalf("GetActiveCycle failed: %v", err)
		}
		if active.ID != "cycle-apr" {
			t.Errorf("expected cycle-apr active, got %s", active.ID)
		}

		cycles, _ := repo.ListCycles(ctx)
		activeCount := 0
		for _, c := range cycles {
			if c.Status == domain.CycleActive {
				activeCount++
			}
		}
		if activeCount != 1 {
			t.Errorf("expected exactly one active cycle, got %d", activeCount)
		}
	})

	t.Run("ClosedCannotReactivate", func(t *testing.T) {
		if err := repo.ActivateCycle(ctx, "cycle-mar"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for closed cycle, got: %v", err)
		}
		if err := repo.ActivateCycle(ctx, "cycle-404"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("Close", func(t *testing.T) {
		if err := repo.CloseCycle(ctx, "cycle-apr"); err != nil {
			t.Fatalf("CloseCycle failed: %v", err)
		}
		if _, err := repo.GetActiveCycle(ctx); err != ErrNotFound {
			t.Errorf("expected no active cycle, got: %v", err)
		}
	})
}

func TestTransactionsAndAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-24 * time.Hour).Truncate(time.Second)

	txs := []*domain.Transaction{
		{ID: "tx-1", BeneficiaryID: "ben-A", CardNumber: "CARD-1", ShopID: "shop-1", CycleID: "c1", Status: domain.TransactionSuccess, CreatedAt: base},
		{ID: "tx-2", BeneficiaryID: "ben-A", CardNumber: "CARD-1", ShopID: "shop-2", CycleID: "c1", Status: domain.TransactionFlagged, CreatedAt: base.Add(time.Hour)},
		{ID: "tx-3", BeneficiaryID: "ben-B", CardNumber: "CARD-1", ShopID: "shop-1", Status: domain.TransactionSuccess, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "tx-4", BeneficiaryID: "ben-A", CardNumber: "CARD-1", ShopID: "shop-1", CycleID: "c2", Status: domain.TransactionSuccess, CreatedAt: base.Add(20 * time.Hour),
			ItemsCollected: json.RawMessage(`[{"item":"rice","qty":5}]`)},
	}
	for _, tx := range txs {
		tx.VerificationType = domain.VerificationFace
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction(%s) failed: %v", tx.ID, err)
		}
	}

	t.Run("GetTransaction", func(t *testing.T) {
		tx, err := repo.GetTransaction(ctx, "tx-4")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if string(tx.ItemsCollected) != `[{"item":"rice","qty":5}]` {
			t.Errorf("unexpected items: %s", tx.ItemsCollected)
		}
		if tx.CycleID != "c2" {
			t.Errorf("expected cycle c2, got %s", tx.CycleID)
		}

		noCycle, _ := repo.GetTransaction(ctx, "tx-3")
		if noCycle.CycleID != "" {
			t.Errorf("expected empty cycle, got %s", noCycle.CycleID)
		}
	})

	t.Run("RejectsInvalidItems", func(t *testing.T) {
		bad := &domain.Transaction{ID: "tx-bad", CardNumber: "CARD-1", ShopID: "s", ItemsCollected: json.RawMessage(`{`)}
		if err := repo.SaveTransaction(ctx, bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("QueryByCardNewestFirst", func(t *testing.T) {
		got, err := repo.QueryTransactions(ctx, domain.TransactionQuery{CardNumber: "CARD-1", Limit: 2})
		if err != nil {
			t.Fatalf("QueryTransactions failed: %v", err)
		}
		if len(got) != 2 || got[0].ID != "tx-4" || got[1].ID != "tx-3" {
			t.Errorf("expected [tx-4 tx-3], got %v", ids(got))
		}
	})

	t.Run("QueryOldestFirst", func(t *testing.T) {
		got, _ := repo.QueryTransactions(ctx, domain.TransactionQuery{CardNumber: "CARD-1", OldestFirst: true, Limit: 1})
		if len(got) != 1 || got[0].ID != "tx-1" {
			t.Errorf("expected [tx-1], got %v", ids(got))
		}
	})

	t.Run("QueryByBeneficiaryCycleStatus", func(t *testing.T) {
		got, _ := repo.QueryTransactions(ctx, domain.TransactionQuery{
			BeneficiaryID: "ben-A", CycleID: "c1", Status: domain.TransactionSuccess,
		})
		if len(got) != 1 || got[0].ID != "tx-1" {
			t.Errorf("expected [tx-1], got %v", ids(got))
		}
	})

	t.Run("QuerySince", func(t *testing.T) {
		got, _ := repo.QueryTransactions(ctx, domain.TransactionQuery{BeneficiaryID: "ben-A", Since: base.Add(30 * time.Minute)})
		if len(got) != 2 || got[0].ID != "tx-4" || got[1].ID != "tx-2" {
			t.Errorf("expected [tx-4 tx-2], got %v", ids(got))
		}
	})

	t.Run("AlertLifecycle", func(t *testing.T) {
		alert := &domain.Alert{
			ID:                    "alert-1",
			AlertType:             domain.AlertDifferentPerson,
			BeneficiaryID:         "ben-B",
			CardNumber:            "CARD-1",
			TransactionID:         "tx-3",
			ShopID:                "shop-1",
			Description:           "Card CARD-1 was used by a different person in previous transaction",
			Severity:              domain.SeverityCritical,
			PreviousTransactionID: "tx-2",
			CreatedAt:             time.Now(),
		}
		if err := repo.SaveAlert(ctx, alert); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}

		got, err := repo.GetAlert(ctx, "alert-1")
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if got.Status != domain.AlertPending {
			t.Errorf("expected pending, got %s", got.Status)
		}
		if got.ReviewedAt != nil {
			t.Error("expected nil reviewed_at before review")
		}

		pending, _ := repo.ListAlerts(ctx, domain.AlertQuery{Status: domain.AlertPending, Severity: domain.SeverityCritical})
		if len(pending) != 1 {
			t.Errorf("expected 1 pending critical alert, got %d", len(pending))
		}

		if err := repo.ReviewAlert(ctx, "alert-1", domain.AlertConfirmed, "officer-7", time.Now()); err != nil {
			t.Fatalf("ReviewAlert failed: %v", err)
		}
		got, _ = repo.GetAlert(ctx, "alert-1")
		if got.Status != domain.AlertConfirmed || got.ReviewedBy != "officer-7" || got.ReviewedAt == nil {
			t.Errorf("review not recorded: %+v", got)
		}
		if got.Severity != domain.SeverityCritical || got.Description != alert.Description {
			t.Error("review must not change severity or description")
		}

		if err := repo.ReviewAlert(ctx, "alert-404", domain.AlertDismissed, "x", time.Now()); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("DashboardStats", func(t *testing.T) {
		stats, err := repo.DashboardStats(ctx)
		if err != nil {
			t.Fatalf("DashboardStats failed: %v", err)
		}
		if stats.TotalTransactions != 4 || stats.FlaggedTransactions != 1 {
			t.Errorf("unexpected transaction counts: %+v", stats)
		}
		if stats.PendingAlerts != 0 || stats.CriticalPendingAlerts != 0 {
			t.Errorf("expected no pending alerts after review: %+v", stats)
		}
	})
}

func TestListingJoins(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	shop := &domain.Shop{ID: "shop-9", Name: "Canal Road FPS", ShopCode: "FPS-009", CreatedAt: now}
	if err := repo.SaveShop(ctx, shop); err != nil {
		t.Fatalf("SaveShop failed: %v", err)
	}
	tx := &domain.Transaction{ID: "tx-9", BeneficiaryID: "ben-C", CardNumber: "CARD-9", ShopID: "shop-9",
		VerificationType: domain.VerificationFace, Status: domain.TransactionFlagged,
		CapturedImageRef: "data:image/jpeg;base64,abc...", CreatedAt: now}
	if err := repo.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}
	alert := &domain.Alert{ID: "alert-9", AlertType: domain.AlertSuspiciousTiming, BeneficiaryID: "ben-C",
		CardNumber: "CARD-9", TransactionID: "tx-9", ShopID: "shop-9", Description: "timing",
		Severity: domain.SeverityMedium, CreatedAt: now}
	if err := repo.SaveAlert(ctx, alert); err != nil {
		t.Fatalf("SaveAlert failed: %v", err)
	}

	t.Run("Transaction", func(t *testing.T) {
		got, err := repo.GetTransaction(ctx, "tx-9")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.ShopName != "Canal Road FPS" || got.ShopCode != "FPS-009" {
			t.Errorf("expected joined shop, got %q/%q", got.ShopName, got.ShopCode)
		}
		if got.BeneficiaryName != "" {
			t.Errorf("unknown beneficiary should join to empty name, got %q", got.BeneficiaryName)
		}
		if got.CapturedImageRef != "data:image/jpeg;base64,abc..." {
			t.Errorf("unexpected image ref %q", got.CapturedImageRef)
		}
	})

	t.Run("FilteredQuery", func(t *testing.T) {
		got, err := repo.QueryTransactions(ctx, domain.TransactionQuery{CardNumber: "CARD-9", Status: domain.TransactionFlagged})
		if err != nil {
			t.Fatalf("QueryTransactions failed: %v", err)
		}
		if len(got) != 1 || got[0].ShopCode != "FPS-009" {
			t.Errorf("expected tx-9 with shop code, got %v", ids(got))
		}
	})

	t.Run("Alert", func(t *testing.T) {
		got, err := repo.ListAlerts(ctx, domain.AlertQuery{Status: domain.AlertPending})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(got) != 1 || got[0].ShopName != "Canal Road FPS" || got[0].ShopCode != "FPS-009" {
			t.Errorf("expected joined alert, got %+v", got)
		}
	})
}

func ids(txs []*domain.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.ID
	}
	return out
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind should be a no-op, got %q", got)
	}
}
