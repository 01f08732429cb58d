package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/opensource-finance/rationguard/internal/domain"
)

const activeCycleKey = "cycle:active"

// beneficiaryEntry carries the embedding, which domain.Beneficiary hides from JSON.
type beneficiaryEntry struct {
	Beneficiary domain.Beneficiary `json:"beneficiary"`
	Embedding   string             `json:"embedding"`
}

// cycleEntry caches the active cycle, including the absence of one.
type cycleEntry struct {
	Cycle *domain.DistributionCycle `json:"cycle"`
}

// BeneficiaryStore is the read path a Lookup falls back to on a miss.
type BeneficiaryStore interface {
	GetBeneficiaryByCard(ctx context.Context, cardNumber string) (*domain.Beneficiary, error)
	GetActiveCycle(ctx context.Context) (*domain.DistributionCycle, error)
}

// Lookup is a read-through cache for the per-verification beneficiary and cycle reads.
// Cache failures fall back to the store; they never fail a lookup on their own.
type Lookup struct {
	cache domain.Cache
	store BeneficiaryStore
	ttl   time.Duration
}

// NewLookup creates a read-through lookup. A nil cache disables caching.
func NewLookup(c domain.Cache, store BeneficiaryStore, ttl time.Duration) *Lookup {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Lookup{cache: c, store: store, ttl: ttl}
}

func beneficiaryKey(cardNumber string) string {
	return "beneficiary:card:" + cardNumber
}

// Beneficiary returns the beneficiary for a card, or domain.ErrNotFound.
// Unknown cards are not cached so a registration is visible immediately.
func (l *Lookup) Beneficiary(ctx context.Context, cardNumber string) (*domain.Beneficiary, error) {
	if l.cache != nil {
		if raw, err := l.cache.Get(ctx, beneficiaryKey(cardNumber)); err == nil && raw != nil {
			var entry beneficiaryEntry
			if json.Unmarshal(raw, &entry) == nil {
				b := entry.Beneficiary
				b.FaceEmbedding = entry.Embedding
				return &b, nil
			}
		}
	}

	b, err := l.store.GetBeneficiaryByCard(ctx, cardNumber)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if raw, err := json.Marshal(beneficiaryEntry{Beneficiary: *b, Embedding: b.FaceEmbedding}); err == nil {
			_ = l.cache.Set(ctx, beneficiaryKey(cardNumber), raw, l.ttl)
		}
	}
	return b, nil
}

// InvalidateBeneficiary drops a cached beneficiary after a status or face change.
func (l *Lookup) InvalidateBeneficiary(ctx context.Context, cardNumber string) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Delete(ctx, beneficiaryKey(cardNumber))
}

// ActiveCycle returns the active cycle, or nil when none is active.
func (l *Lookup) ActiveCycle(ctx context.Context) (*domain.DistributionCycle, error) {
	if l.cache != nil {
		if raw, err := l.cache.Get(ctx, activeCycleKey); err == nil && raw != nil {
			var entry cycleEntry
			if json.Unmarshal(raw, &entry) == nil {
				return entry.Cycle, nil
			}
		}
	}

	cycle, err := l.store.GetActiveCycle(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		cycle, err = nil, nil
	}
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if raw, err := json.Marshal(cycleEntry{Cycle: cycle}); err == nil {
			_ = l.cache.Set(ctx, activeCycleKey, raw, l.ttl)
		}
	}
	return cycle, nil
}

// InvalidateActiveCycle drops the cached active cycle after activation or closing.
func (l *Lookup) InvalidateActiveCycle(ctx context.Context) error {
	if l.cache == nil {
		return nil
	}
	return l.cache.Delete(ctx, activeCycleKey)
}
