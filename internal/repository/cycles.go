package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opensource-finance/rationguard/internal/domain"
)

const cycleColumns = `id, name, status, starts_at, ends_at, created_at`

// SaveCycle inserts a distribution cycle. New cycles must not be created active;
// use ActivateCycle so the single-active invariant is kept.
func (r *SQLRepository) SaveCycle(ctx context.Context, c *domain.DistributionCycle) error {
	if c.ID == "" || c.Name == "" {
		return fmt.Errorf("%w: id and name are required", ErrInvalidInput)
	}
	if c.Status == "" {
		c.Status = domain.CyclePlanned
	}
	if c.Status == domain.CycleActive {
		return fmt.Errorf("%w: create the cycle first, then activate it", ErrInvalidInput)
	}
	if !c.EndsAt.After(c.StartsAt) {
		return fmt.Errorf("%w: cycle must end after it starts", ErrInvalidInput)
	}

	query := `INSERT INTO distribution_cycles (` + cycleColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.Name, string(c.Status), c.StartsAt.UTC(), c.EndsAt.UTC(), c.CreatedAt.UTC())
	return err
}

// GetActiveCycle returns the active cycle or ErrNotFound when none is active.
func (r *SQLRepository) GetActiveCycle(ctx context.Context) (*domain.DistributionCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM distribution_cycles WHERE status = 'active'`
	return scanCycle(r.db.QueryRowContext(ctx, query))
}

// ListCycles lists cycles, most recent start first.
func (r *SQLRepository) ListCycles(ctx context.Context) ([]*domain.DistributionCycle, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+cycleColumns+` FROM distribution_cycles ORDER BY starts_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []*domain.DistributionCycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	return cycles, rows.Err()
}

// ActivateCycle closes whichever cycle is active and activates id in one transaction.
func (r *SQLRepository) ActivateCycle(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, r.rebind(`SELECT status FROM distribution_cycles WHERE id = ?`), id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if domain.CycleStatus(status) == domain.CycleClosed {
		return fmt.Errorf("%w: cycle %s is closed", ErrInvalidInput, id)
	}

	if _, err := tx.ExecContext(ctx,
		r.rebind(`UPDATE distribution_cycles SET status = 'closed' WHERE status = 'active' AND id <> ?`), id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		r.rebind(`UPDATE distribution_cycles SET status = 'active' WHERE id = ?`), id); err != nil {
		return err
	}
	return tx.Commit()
}

// CloseCycle marks a cycle closed.
func (r *SQLRepository) CloseCycle(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`UPDATE distribution_cycles SET status = 'closed' WHERE id = ?`), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func scanCycle(row rowScanner) (*domain.DistributionCycle, error) {
	var c domain.DistributionCycle
	var status string
	err := row.Scan(&c.ID, &c.Name, &status, &c.StartsAt, &c.EndsAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = domain.CycleStatus(status)
	return &c, nil
}
