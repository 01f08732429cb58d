package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/rationguard/internal/domain"
	"github.com/opensource-finance/rationguard/internal/face"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	// imageRefLength is how much of the enrollment image is kept as a reference.
	imageRefLength = 100
)

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// imageRef keeps a short prefix of an enrollment or verification image so
// operators can tell which capture was used without storing the full image.
func imageRef(encoded string) string {
	if len(encoded) <= imageRefLength {
		return encoded
	}
	return encoded[:imageRefLength] + "..."
}

// enroll extracts the reference embedding for an enrollment image.
func (s *Service) enroll(ctx context.Context, encodedImage string) (string, error) {
	image, err := face.DecodeImage(encodedImage)
	if err != nil {
		return "", err
	}
	emb, err := s.extractor.Extract(ctx, image)
	if err != nil {
		return "", err
	}
	return emb.Encode()
}

// RegisterBeneficiary enrolls a new beneficiary. The image must contain a face.
func (s *Service) RegisterBeneficiary(ctx context.Context, req domain.BeneficiaryRequest) (*domain.Beneficiary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	_, err := s.repo.GetBeneficiaryByCard(ctx, req.CardNumber)
	if err == nil {
		return nil, domain.ErrDuplicateCard
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, storeError("failed to check card number", err)
	}

	embedding, err := s.enroll(ctx, req.FaceImage)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	b := &domain.Beneficiary{
		ID:            uuid.New().String(),
		CardNumber:    req.CardNumber,
		Name:          req.Name,
		Phone:         req.Phone,
		Address:       req.Address,
		FaceImageRef:  imageRef(req.FaceImage),
		FaceEmbedding: embedding,
		Status:        domain.BeneficiaryActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateBeneficiary(ctx, b); err != nil {
		return nil, storeError("failed to register beneficiary", err)
	}

	s.logger.Info("beneficiary registered",
		"beneficiary_id", b.ID,
		"card_number", b.CardNumber,
	)
	return b, nil
}

// GetBeneficiary returns the stored beneficiary for a card, bypassing the lookup cache.
func (s *Service) GetBeneficiary(ctx context.Context, cardNumber string) (*domain.Beneficiary, error) {
	b, err := s.repo.GetBeneficiaryByCard(ctx, cardNumber)
	if err != nil {
		return nil, storeError("failed to get beneficiary", err)
	}
	return b, nil
}

// ListBeneficiaries lists beneficiaries, newest first.
func (s *Service) ListBeneficiaries(ctx context.Context, status domain.BeneficiaryStatus, limit int) ([]*domain.Beneficiary, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown beneficiary status %q", domain.ErrValidation, status)
	}
	out, err := s.repo.ListBeneficiaries(ctx, status, listLimit(limit))
	if err != nil {
		return nil, storeError("failed to list beneficiaries", err)
	}
	return out, nil
}

// SetBeneficiaryStatus suspends, blocks or reactivates a beneficiary.
func (s *Service) SetBeneficiaryStatus(ctx context.Context, cardNumber string, status domain.BeneficiaryStatus) (*domain.Beneficiary, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown beneficiary status %q", domain.ErrValidation, status)
	}
	if err := s.repo.UpdateBeneficiaryStatus(ctx, cardNumber, status); err != nil {
		return nil, storeError("failed to update beneficiary status", err)
	}
	s.invalidateBeneficiary(ctx, cardNumber)

	s.logger.Info("beneficiary status changed",
		"card_number", cardNumber,
		"status", status,
	)
	return s.GetBeneficiary(ctx, cardNumber)
}

// ReenrollBeneficiary replaces a beneficiary's reference face.
func (s *Service) ReenrollBeneficiary(ctx context.Context, cardNumber, encodedImage string) (*domain.Beneficiary, error) {
	if _, err := s.repo.GetBeneficiaryByCard(ctx, cardNumber); err != nil {
		return nil, storeError("failed to get beneficiary", err)
	}

	embedding, err := s.enroll(ctx, encodedImage)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateBeneficiaryFace(ctx, cardNumber, embedding, imageRef(encodedImage)); err != nil {
		return nil, storeError("failed to update face", err)
	}
	s.invalidateBeneficiary(ctx, cardNumber)

	s.logger.Info("beneficiary re-enrolled", "card_number", cardNumber)
	return s.GetBeneficiary(ctx, cardNumber)
}

func (s *Service) invalidateBeneficiary(ctx context.Context, cardNumber string) {
	if err := s.lookup.InvalidateBeneficiary(ctx, cardNumber); err != nil {
		s.logger.Warn("failed to invalidate cached beneficiary",
			"card_number", cardNumber,
			"error", err,
		)
	}
}

// ListTransactions lists transactions newest first, optionally filtered by shop and status.
func (s *Service) ListTransactions(ctx context.Context, shopID string, status domain.TransactionStatus, limit int) ([]*domain.Transaction, error) {
	out, err := s.repo.QueryTransactions(ctx, domain.TransactionQuery{
		ShopID: shopID,
		Status: status,
		Limit:  listLimit(limit),
	})
	if err != nil {
		return nil, storeError("failed to list transactions", err)
	}
	return out, nil
}

// GetTransaction returns a transaction by id.
func (s *Service) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, storeError("failed to get transaction", err)
	}
	return tx, nil
}

// ListAlerts lists alerts newest first.
func (s *Service) ListAlerts(ctx context.Context, q domain.AlertQuery) ([]*domain.Alert, error) {
	q.Limit = listLimit(q.Limit)
	out, err := s.repo.ListAlerts(ctx, q)
	if err != nil {
		return nil, storeError("failed to list alerts", err)
	}
	return out, nil
}

// ReviewAlert records a reviewer's decision on an alert.
func (s *Service) ReviewAlert(ctx context.Context, alertID string, status domain.AlertStatus, reviewerID string) error {
	if !status.Reviewable() {
		return fmt.Errorf("%w: review status must be confirmed or dismissed, got %q", domain.ErrValidation, status)
	}
	if strings.TrimSpace(reviewerID) == "" {
		return fmt.Errorf("%w: reviewed_by is required", domain.ErrValidation)
	}
	if err := s.repo.ReviewAlert(ctx, alertID, status, reviewerID, s.now().UTC()); err != nil {
		return storeError("failed to review alert", err)
	}

	s.logger.Info("alert reviewed",
		"alert_id", alertID,
		"status", status,
		"reviewed_by", reviewerID,
	)
	return nil
}

// RegisterShop adds a ration shop.
func (s *Service) RegisterShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error) {
	if shop.Name == "" || shop.ShopCode == "" {
		return nil, fmt.Errorf("%w: name and shop_code are required", domain.ErrValidation)
	}
	shop.ID = uuid.New().String()
	shop.CreatedAt = s.now().UTC()
	if err := s.repo.SaveShop(ctx, &shop); err != nil {
		return nil, storeError("failed to register shop", err)
	}
	return &shop, nil
}

// ListShops lists every shop.
func (s *Service) ListShops(ctx context.Context) ([]*domain.Shop, error) {
	out, err := s.repo.ListShops(ctx)
	if err != nil {
		return nil, storeError("failed to list shops", err)
	}
	return out, nil
}

// CreateCycle creates a planned distribution cycle.
func (s *Service) CreateCycle(ctx context.Context, name string, startsAt, endsAt time.Time) (*domain.DistributionCycle, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: cycle name is required", domain.ErrValidation)
	}
	if startsAt.IsZero() || endsAt.IsZero() {
		return nil, fmt.Errorf("%w: starts_at and ends_at are required", domain.ErrValidation)
	}
	if !endsAt.After(startsAt) {
		return nil, fmt.Errorf("%w: ends_at must be after starts_at", domain.ErrValidation)
	}
	c := &domain.DistributionCycle{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    domain.CyclePlanned,
		StartsAt:  startsAt.UTC(),
		EndsAt:    endsAt.UTC(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.SaveCycle(ctx, c); err != nil {
		return nil, storeError("failed to create cycle", err)
	}
	return c, nil
}

// ActivateCycle makes a cycle the active one, closing any other active cycle.
func (s *Service) ActivateCycle(ctx context.Context, id string) error {
	if err := s.repo.ActivateCycle(ctx, id); err != nil {
		return storeError("failed to activate cycle", err)
	}
	s.invalidateCycle(ctx)
	s.logger.Info("distribution cycle activated", "cycle_id", id)
	return nil
}

// CloseCycle closes a cycle.
func (s *Service) CloseCycle(ctx context.Context, id string) error {
	if err := s.repo.CloseCycle(ctx, id); err != nil {
		return storeError("failed to close cycle", err)
	}
	s.invalidateCycle(ctx)
	s.logger.Info("distribution cycle closed", "cycle_id", id)
	return nil
}

func (s *Service) invalidateCycle(ctx context.Context) {
	if err := s.lookup.InvalidateActiveCycle(ctx); err != nil {
		s.logger.Warn("failed to invalidate cached cycle", "error", err)
	}
}

// ListCycles lists distribution cycles.
func (s *Service) ListCycles(ctx context.Context) ([]*domain.DistributionCycle, error) {
	out, err := s.repo.ListCycles(ctx)
	if err != nil {
		return nil, storeError("failed to list cycles", err)
	}
	return out, nil
}

// DashboardStats returns the operator dashboard counters.
func (s *Service) DashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	stats, err := s.repo.DashboardStats(ctx)
	if err != nil {
		return nil, storeError("failed to compute dashboard stats", err)
	}
	return stats, nil
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
