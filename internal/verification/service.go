// Package verification implements the beneficiary verification flow and the
// registry operations exposed to shop terminals and reviewers.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/rationguard/internal/cache"
	"github.com/opensource-finance/rationguard/internal/detection"
	"github.com/opensource-finance/rationguard/internal/domain"
	"github.com/opensource-finance/rationguard/internal/face"
	"github.com/opensource-finance/rationguard/internal/history"
	"github.com/opensource-finance/rationguard/internal/metrics"
	"github.com/opensource-finance/rationguard/internal/policy"
)

var tracer = otel.Tracer("rationguard-verification")

// Result messages returned to terminals.
const (
	msgCardNotFound     = "Card number not found in system"
	msgVerified         = "Verification successful"
	msgVerifiedAlerts   = "Verification completed with alerts"
	msgFaceMismatchNote = "Face does not match registered beneficiary"
)

// Options holds the collaborators of a Service. Repository and Extractor are required;
// the rest fall back to defaults built from Face, Detection and the repository.
type Options struct {
	Repository domain.Repository
	Extractor  face.Extractor
	Lookup     *cache.Lookup
	Comparator *face.Comparator
	Policy     *policy.Policy
	Aggregator *detection.Aggregator
	Bus        domain.EventBus
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	Face         domain.FaceConfig
	Detection    domain.DetectionConfig
	Verification domain.VerificationConfig

	// Clock overrides time.Now for transaction and review timestamps.
	Clock func() time.Time
}

// Service runs verifications and registry operations.
type Service struct {
	repo       domain.Repository
	extractor  face.Extractor
	lookup     *cache.Lookup
	comparator *face.Comparator
	policy     *policy.Policy
	aggregator *detection.Aggregator
	bus        domain.EventBus
	metrics    *metrics.Metrics
	logger     *slog.Logger

	minConfidence float64
	recordFailed  bool
	now           func() time.Time
}

// New wires a Service.
func New(opts Options) (*Service, error) {
	if opts.Repository == nil {
		return nil, errors.New("verification: repository is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("verification: extractor is required")
	}

	s := &Service{
		repo:         opts.Repository,
		extractor:    opts.Extractor,
		lookup:       opts.Lookup,
		comparator:   opts.Comparator,
		policy:       opts.Policy,
		aggregator:   opts.Aggregator,
		bus:          opts.Bus,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		recordFailed: opts.Verification.RecordFailedAttempts,
		now:          opts.Clock,
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.lookup == nil {
		s.lookup = cache.NewLookup(nil, opts.Repository, 0)
	}
	if s.comparator == nil {
		c, err := face.NewComparator(face.Metric(opts.Face.Metric))
		if err != nil {
			return nil, err
		}
		s.comparator = c
	}
	if s.policy == nil {
		p, err := policy.New(opts.Face.AcceptExpression)
		if err != nil {
			return nil, err
		}
		s.policy = p
	}
	if s.aggregator == nil {
		evaluators := detection.DefaultEvaluators(history.NewGateway(opts.Repository), opts.Detection)
		s.aggregator = detection.NewAggregator(evaluators, opts.Repository,
			detection.WithClock(s.now),
			detection.WithLogger(s.logger),
			detection.WithFailureRecorder(s.metrics),
		)
	}

	threshold := opts.Face.MatchThreshold
	if threshold <= 0 {
		threshold = domain.DefaultConfig().Face.MatchThreshold
	}
	s.minConfidence = threshold * 100

	return s, nil
}

// Verify checks that the person presenting a card is its registered beneficiary,
// records the collection and raises duplicate or fraud alerts.
// Business rejections are returned as a result with Success false, not as errors.
func (s *Service) Verify(ctx context.Context, req domain.VerifyRequest) (result *domain.VerifyResult, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "verification.Verify",
		trace.WithAttributes(
			attribute.String("card_number", req.CardNumber),
			attribute.String("shop_id", req.ShopID),
		),
	)
	outcome := metrics.OutcomeError
	defer func() {
		s.metrics.RecordVerification(outcome, time.Since(start))
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req.CardNumber == "" || req.ShopID == "" {
		return nil, fmt.Errorf("%w: card_number and shop_id are required", domain.ErrValidation)
	}
	if len(req.ItemsCollected) > 0 && !json.Valid(req.ItemsCollected) {
		return nil, fmt.Errorf("%w: items_collected is not valid JSON", domain.ErrValidation)
	}

	ben, err := s.lookup.Beneficiary(ctx, req.CardNumber)
	if errors.Is(err, domain.ErrNotFound) {
		outcome = metrics.OutcomeNotFound
		return &domain.VerifyResult{
			Success: false,
			Message: msgCardNotFound,
			Alerts:  []domain.AlertCandidate{},
		}, nil
	}
	if err != nil {
		return nil, storeError("failed to load beneficiary", err)
	}

	if ben.Status != domain.BeneficiaryActive {
		outcome = metrics.OutcomeInactive
		return &domain.VerifyResult{
			Success:     false,
			Message:     fmt.Sprintf("Beneficiary account is %s", ben.Status),
			Beneficiary: ben,
			Alerts:      []domain.AlertCandidate{},
		}, nil
	}

	image, err := face.DecodeImage(req.CapturedImage)
	if err != nil {
		return nil, err
	}

	match, err := s.matchFace(ctx, image, ben)
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveConfidence(match.Confidence)
	confidence := match.Confidence

	if !s.accept(ctx, match, ben) {
		outcome = metrics.OutcomeFaceMismatch
		result = &domain.VerifyResult{
			Success:     false,
			Message:     fmt.Sprintf("Face verification failed. Confidence: %.2f%%", confidence),
			Beneficiary: ben,
			Confidence:  &confidence,
			Alerts: []domain.AlertCandidate{{
				AlertType:   domain.AlertDifferentPerson,
				Description: msgFaceMismatchNote,
				Severity:    domain.SeverityCritical,
			}},
		}
		if s.recordFailed {
			result.TransactionID = s.recordFailedAttempt(ctx, req, ben, confidence)
		}
		return result, nil
	}

	cycle, err := s.lookup.ActiveCycle(ctx)
	if err != nil {
		return nil, storeError("failed to load active cycle", err)
	}
	cycleID := ""
	if cycle != nil {
		cycleID = cycle.ID
	}

	candidates := s.aggregator.Evaluate(ctx, ben.ID, req.CardNumber, req.ShopID, cycleID)

	tx := s.newTransaction(req, ben, cycleID, confidence, detection.StatusFor(candidates))
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, storeError("failed to record transaction", err)
	}

	actx := domain.AlertContext{
		TransactionID: tx.ID,
		BeneficiaryID: ben.ID,
		CardNumber:    req.CardNumber,
		ShopID:        req.ShopID,
	}
	persisted := 0
	for _, cand := range candidates {
		alertID, err := s.aggregator.Persist(ctx, cand, actx)
		if err != nil {
			// The transaction stays flagged; reviewers find it by status.
			s.logger.Error("failed to persist alert",
				"transaction_id", tx.ID,
				"alert_type", cand.AlertType,
				"error", err,
			)
			s.metrics.RecordAlertPersistFailure(string(cand.AlertType))
			continue
		}
		persisted++
		s.publish(ctx, domain.TopicAlertRaised, domain.AlertEvent{
			AlertID:       alertID,
			AlertType:     cand.AlertType,
			Severity:      cand.Severity,
			TransactionID: tx.ID,
			CardNumber:    req.CardNumber,
			ShopID:        req.ShopID,
		})
	}
	if persisted == 0 && len(candidates) > 0 {
		s.logger.Warn("flagged transaction has no stored alerts",
			"transaction_id", tx.ID,
			"candidates", len(candidates),
		)
	}
	s.publishTransaction(ctx, tx, persisted)

	message := msgVerified
	outcome = metrics.OutcomeSuccess
	if len(candidates) > 0 {
		message = msgVerifiedAlerts
		outcome = metrics.OutcomeFlagged
	}

	s.logger.Info("verification completed",
		"transaction_id", tx.ID,
		"card_number", req.CardNumber,
		"shop_id", req.ShopID,
		"status", tx.Status,
		"confidence", confidence,
		"alert_count", len(candidates),
	)

	return &domain.VerifyResult{
		Success:       true,
		Message:       message,
		TransactionID: tx.ID,
		Beneficiary:   ben,
		Confidence:    &confidence,
		Alerts:        candidates,
	}, nil
}

// matchFace extracts the captured embedding and compares it with the stored one.
// A missing face or an unusable stored vector is a zero-confidence non-match.
func (s *Service) matchFace(ctx context.Context, image []byte, ben *domain.Beneficiary) (face.Match, error) {
	captured, err := s.extractor.Extract(ctx, image)
	if errors.Is(err, domain.ErrNoFaceDetected) {
		return face.Match{}, nil
	}
	if err != nil {
		return face.Match{}, err
	}

	stored, err := face.ParseEmbedding(ben.FaceEmbedding)
	if err == nil {
		var m face.Match
		m, err = s.comparator.Compare(captured, stored)
		if err == nil {
			return m, nil
		}
	}
	s.logger.Warn("face embedding unusable, treating as non-match",
		"beneficiary_id", ben.ID,
		"card_number", ben.CardNumber,
		"error", err,
	)
	return face.Match{}, nil
}

// ReloadPolicy swaps the acceptance expression used by in-flight and later
// verifications. On error the previous expression stays active.
func (s *Service) ReloadPolicy(expression string) error {
	previous := s.policy.Expression()
	if err := s.policy.Reload(expression); err != nil {
		return err
	}
	s.logger.Info("acceptance policy reloaded",
		"previous", previous,
		"expression", s.policy.Expression(),
	)
	return nil
}

func (s *Service) accept(ctx context.Context, m face.Match, ben *domain.Beneficiary) bool {
	ok, err := s.policy.Accept(policy.Input{
		IsMatch:       m.IsMatch,
		Confidence:    m.Confidence,
		Distance:      m.Distance,
		MinConfidence: s.minConfidence,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "acceptance policy failed, rejecting",
			"card_number", ben.CardNumber,
			"expression", s.policy.Expression(),
			"error", err,
		)
		return false
	}
	return ok
}

// recordFailedAttempt writes a failed transaction so later timing checks see the attempt.
// It returns the transaction id, or "" when the write did not happen.
func (s *Service) recordFailedAttempt(ctx context.Context, req domain.VerifyRequest, ben *domain.Beneficiary, confidence float64) string {
	cycleID := ""
	if cycle, err := s.lookup.ActiveCycle(ctx); err == nil && cycle != nil {
		cycleID = cycle.ID
	}

	tx := s.newTransaction(req, ben, cycleID, confidence, domain.TransactionFailed)
	if err := s.repo.SaveTransaction(ctx, tx); err != nil {
		s.logger.Error("failed to record failed attempt",
			"card_number", req.CardNumber,
			"error", err,
		)
		return ""
	}
	s.publishTransaction(ctx, tx, 0)
	return tx.ID
}

func (s *Service) newTransaction(req domain.VerifyRequest, ben *domain.Beneficiary, cycleID string, confidence float64, status domain.TransactionStatus) *domain.Transaction {
	return &domain.Transaction{
		ID:               uuid.New().String(),
		BeneficiaryID:    ben.ID,
		CardNumber:       req.CardNumber,
		ShopID:           req.ShopID,
		CycleID:          cycleID,
		OperatorID:       req.OperatorID,
		VerificationType: domain.VerificationFace,
		Confidence:       confidence,
		Status:           status,
		ItemsCollected:   req.ItemsCollected,
		CapturedImageRef: imageRef(req.CapturedImage),
		CreatedAt:        s.now().UTC(),
	}
}

func (s *Service) publishTransaction(ctx context.Context, tx *domain.Transaction, alertCount int) {
	s.publish(ctx, domain.TopicTransactionRecorded, domain.TransactionEvent{
		TransactionID: tx.ID,
		BeneficiaryID: tx.BeneficiaryID,
		CardNumber:    tx.CardNumber,
		ShopID:        tx.ShopID,
		CycleID:       tx.CycleID,
		Status:        tx.Status,
		Confidence:    tx.Confidence,
		AlertCount:    alertCount,
	})
}

// publish is best effort: the verification outcome never depends on the bus.
func (s *Service) publish(ctx context.Context, topic string, event any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal event", "topic", topic, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		s.logger.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

// storeError keeps domain errors intact and marks anything else as an unavailable store.
func storeError(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrUpstream) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, domain.ErrUpstream, err)
}
