package domain

import (
	"context"
	"time"
)

// HistoryRecord is the read-only projection of a transaction used by evaluators.
type HistoryRecord struct {
	TransactionID string
	BeneficiaryID string
	ShopID        string
	Status        TransactionStatus
	CreatedAt     time.Time
}

// HistoryGateway answers the historical questions the rule evaluators ask.
// Empty results are not errors. Implementations must not mutate state.
type HistoryGateway interface {
	// RecentByCard returns the most recent transactions for a card number,
	// ordered newest first unless newestFirst is false.
	RecentByCard(ctx context.Context, cardNumber string, limit int, newestFirst bool) ([]HistoryRecord, error)

	// ByBeneficiaryInCycle returns a beneficiary's transactions, newest first.
	// An empty cycleID means all cycles, an empty status means any, limit <= 0 is unbounded.
	ByBeneficiaryInCycle(ctx context.Context, beneficiaryID, cycleID string, status TransactionStatus, limit int) ([]HistoryRecord, error)

	// ByBeneficiarySince returns a beneficiary's transactions created at or after since, newest first.
	ByBeneficiarySince(ctx context.Context, beneficiaryID string, since time.Time) ([]HistoryRecord, error)
}
