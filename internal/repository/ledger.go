package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/rationguard/internal/domain"
)

const transactionColumns = `id, beneficiary_id, card_number, shop_id, cycle_id, operator_id,
	verification_type, confidence_score, status, items_collected, captured_image_url, created_at`

// transactionSelect reads transactions with the beneficiary and shop names joined in.
const transactionSelect = `SELECT t.id, t.beneficiary_id, t.card_number, t.shop_id, t.cycle_id, t.operator_id,
	t.verification_type, t.confidence_score, t.status, t.items_collected, t.captured_image_url, t.created_at,
	COALESCE(b.name, ''), COALESCE(s.name, ''), COALESCE(s.shop_code, '')
	FROM transactions t
	LEFT JOIN beneficiaries b ON b.id = t.beneficiary_id
	LEFT JOIN ration_shops s ON s.id = t.shop_id`

// SaveTransaction appends a transaction. Transactions are never updated.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" || tx.CardNumber == "" || tx.ShopID == "" {
		return fmt.Errorf("%w: id, card number and shop are required", ErrInvalidInput)
	}

	var items sql.NullString
	if len(tx.ItemsCollected) > 0 {
		if !json.Valid(tx.ItemsCollected) {
			return fmt.Errorf("%w: items_collected is not valid JSON", ErrInvalidInput)
		}
		items = sql.NullString{String: string(tx.ItemsCollected), Valid: true}
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, nullString(tx.BeneficiaryID), tx.CardNumber, tx.ShopID,
		nullString(tx.CycleID), nullString(tx.OperatorID),
		tx.VerificationType, tx.Confidence, string(tx.Status),
		items, nullString(tx.CapturedImageRef), tx.CreatedAt.UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	query := transactionSelect + ` WHERE t.id = ?`
	return scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// QueryTransactions returns transactions matching every non-empty filter in q.
func (r *SQLRepository) QueryTransactions(ctx context.Context, q domain.TransactionQuery) ([]*domain.Transaction, error) {
	query := transactionSelect + ` WHERE 1=1`
	var args []any

	if q.CardNumber != "" {
		query += ` AND t.card_number = ?`
		args = append(args, q.CardNumber)
	}
	if q.BeneficiaryID != "" {
		query += ` AND t.beneficiary_id = ?`
		args = append(args, q.BeneficiaryID)
	}
	if q.CycleID != "" {
		query += ` AND t.cycle_id = ?`
		args = append(args, q.CycleID)
	}
	if q.ShopID != "" {
		query += ` AND t.shop_id = ?`
		args = append(args, q.ShopID)
	}
	if q.Status != "" {
		query += ` AND t.status = ?`
		args = append(args, string(q.Status))
	}
	if !q.Since.IsZero() {
		query += ` AND t.created_at >= ?`
		args = append(args, q.Since.UTC())
	}

	if q.OldestFirst {
		query += ` ORDER BY t.created_at ASC`
	} else {
		query += ` ORDER BY t.created_at DESC`
	}
	if q.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

const alertColumns = `id, alert_type, beneficiary_id, card_number, transaction_id, shop_id,
	description, severity, status, previous_transaction_id, reviewed_by, reviewed_at, created_at`

const alertSelect = `SELECT a.id, a.alert_type, a.beneficiary_id, a.card_number, a.transaction_id, a.shop_id,
	a.description, a.severity, a.status, a.previous_transaction_id, a.reviewed_by, a.reviewed_at, a.created_at,
	COALESCE(b.name, ''), COALESCE(s.name, ''), COALESCE(s.shop_code, '')
	FROM duplicate_alerts a
	LEFT JOIN beneficiaries b ON b.id = a.beneficiary_id
	LEFT JOIN ration_shops s ON s.id = a.shop_id`

// SaveAlert inserts an alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, a *domain.Alert) error {
	if a.ID == "" || a.TransactionID == "" {
		return fmt.Errorf("%w: id and transaction are required", ErrInvalidInput)
	}
	if a.Status == "" {
		a.Status = domain.AlertPending
	}

	query := `
		INSERT INTO duplicate_alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var reviewedAt sql.NullTime
	if a.ReviewedAt != nil {
		reviewedAt = sql.NullTime{Time: a.ReviewedAt.UTC(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, string(a.AlertType), a.BeneficiaryID, a.CardNumber, a.TransactionID, a.ShopID,
		a.Description, string(a.Severity), string(a.Status),
		nullString(a.PreviousTransactionID), nullString(a.ReviewedBy), reviewedAt,
		a.CreatedAt.UTC(),
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	query := alertSelect + ` WHERE a.id = ?`
	return scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// ListAlerts lists alerts, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, q domain.AlertQuery) ([]*domain.Alert, error) {
	query := alertSelect + ` WHERE 1=1`
	var args []any
	if q.Status != "" {
		query += ` AND a.status = ?`
		args = append(args, string(q.Status))
	}
	if q.Severity != "" {
		query += ` AND a.severity = ?`
		args = append(args, string(q.Severity))
	}
	query += ` ORDER BY a.created_at DESC`
	if q.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ReviewAlert records a reviewer's decision. Only status, reviewed_by and reviewed_at change.
func (r *SQLRepository) ReviewAlert(ctx context.Context, id string, status domain.AlertStatus, reviewedBy string, reviewedAt time.Time) error {
	query := `UPDATE duplicate_alerts SET status = ?, reviewed_by = ?, reviewed_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), string(status), nullString(reviewedBy), reviewedAt.UTC(), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var beneficiaryID, cycleID, operatorID, items, imageRef sql.NullString
	var status string

	err := row.Scan(
		&tx.ID, &beneficiaryID, &tx.CardNumber, &tx.ShopID, &cycleID, &operatorID,
		&tx.VerificationType, &tx.Confidence, &status, &items, &imageRef, &tx.CreatedAt,
		&tx.BeneficiaryName, &tx.ShopName, &tx.ShopCode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.BeneficiaryID = beneficiaryID.String
	tx.CycleID = cycleID.String
	tx.OperatorID = operatorID.String
	tx.CapturedImageRef = imageRef.String
	tx.Status = domain.TransactionStatus(status)
	if items.Valid {
		tx.ItemsCollected = json.RawMessage(items.String)
	}
	return &tx, nil
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var alertType, severity, status string
	var previous, reviewedBy sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(
		&a.ID, &alertType, &a.BeneficiaryID, &a.CardNumber, &a.TransactionID, &a.ShopID,
		&a.Description, &severity, &status, &previous, &reviewedBy, &reviewedAt, &a.CreatedAt,
		&a.BeneficiaryName, &a.ShopName, &a.ShopCode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	a.AlertType = domain.AlertType(alertType)
	a.Severity = domain.Severity(severity)
	a.Status = domain.AlertStatus(status)
	a.PreviousTransactionID = previous.String
	a.ReviewedBy = reviewedBy.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		a.ReviewedAt = &t
	}
	return &a, nil
}
