// Package history answers the historical transaction questions asked by the fraud evaluators.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/rationguard/internal/domain"
)

// Querier is the subset of domain.Repository the gateway reads from.
type Querier interface {
	QueryTransactions(ctx context.Context, q domain.TransactionQuery) ([]*domain.Transaction, error)
}

// Gateway implements domain.HistoryGateway over a transaction store.
// It never writes.
type Gateway struct {
	store Querier
}

// NewGateway creates a history gateway backed by store.
func NewGateway(store Querier) *Gateway {
	return &Gateway{store: store}
}

// RecentByCard returns up to limit transactions for a card number.
func (g *Gateway) RecentByCard(ctx context.Context, cardNumber string, limit int, newestFirst bool) ([]domain.HistoryRecord, error) {
	if cardNumber == "" {
		return nil, fmt.Errorf("%w: card number is required", domain.ErrValidation)
	}
	return g.query(ctx, domain.TransactionQuery{
		CardNumber:  cardNumber,
		Limit:       limit,
		OldestFirst: !newestFirst,
	})
}

// ByBeneficiaryInCycle returns a beneficiary's transactions, optionally scoped to a cycle and status.
func (g *Gateway) ByBeneficiaryInCycle(ctx context.Context, beneficiaryID, cycleID string, status domain.TransactionStatus, limit int) ([]domain.HistoryRecord, error) {
	if beneficiaryID == "" {
		return nil, fmt.Errorf("%w: beneficiary id is required", domain.ErrValidation)
	}
	return g.query(ctx, domain.TransactionQuery{
		BeneficiaryID: beneficiaryID,
		CycleID:       cycleID,
		Status:        status,
		Limit:         limit,
	})
}

// ByBeneficiarySince returns a beneficiary's transactions created at or after since.
func (g *Gateway) ByBeneficiarySince(ctx context.Context, beneficiaryID string, since time.Time) ([]domain.HistoryRecord, error) {
	if beneficiaryID == "" {
		return nil, fmt.Errorf("%w: beneficiary id is required", domain.ErrValidation)
	}
	return g.query(ctx, domain.TransactionQuery{
		BeneficiaryID: beneficiaryID,
		Since:         since,
	})
}

func (g *Gateway) query(ctx context.Context, q domain.TransactionQuery) ([]domain.HistoryRecord, error) {
	txs, err := g.store.QueryTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}

	records := make([]domain.HistoryRecord, 0, len(txs))
	for _, tx := range txs {
		records = append(records, domain.HistoryRecord{
			TransactionID: tx.ID,
			BeneficiaryID: tx.BeneficiaryID,
			ShopID:        tx.ShopID,
			Status:        tx.Status,
			CreatedAt:     tx.CreatedAt,
		})
	}
	return records, nil
}
