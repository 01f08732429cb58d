// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/rationguard/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrValidation
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const beneficiaryColumns = `id, card_number, name, phone, address, face_image_url,
	face_embedding, status, created_at, updated_at`

// CreateBeneficiary inserts a new beneficiary. A taken card number yields domain.ErrDuplicateCard.
func (r *SQLRepository) CreateBeneficiary(ctx context.Context, b *domain.Beneficiary) error {
	if b.ID == "" || b.CardNumber == "" {
		return fmt.Errorf("%w: id and card number are required", ErrInvalidInput)
	}
	if b.FaceEmbedding == "" {
		return fmt.Errorf("%w: face embedding is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO beneficiaries (` + beneficiaryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		b.ID, b.CardNumber, b.Name,
		nullString(b.Phone), nullString(b.Address), nullString(b.FaceImageRef),
		b.FaceEmbedding, string(b.Status),
		b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
	)
	if err != nil && r.isUniqueViolation(err) {
		return domain.ErrDuplicateCard
	}
	return err
}

// GetBeneficiaryByCard retrieves a beneficiary by card number.
func (r *SQLRepository) GetBeneficiaryByCard(ctx context.Context, cardNumber string) (*domain.Beneficiary, error) {
	query := `SELECT ` + beneficiaryColumns + ` FROM beneficiaries WHERE card_number = ?`
	return scanBeneficiary(r.db.QueryRowContext(ctx, r.rebind(query), cardNumber))
}

// GetBeneficiary retrieves a beneficiary by ID.
func (r *SQLRepository) GetBeneficiary(ctx context.Context, id string) (*domain.Beneficiary, error) {
	query := `SELECT ` + beneficiaryColumns + ` FROM beneficiaries WHERE id = ?`
	return scanBeneficiary(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// ListBeneficiaries lists beneficiaries, optionally filtered by status, newest first.
func (r *SQLRepository) ListBeneficiaries(ctx context.Context, status domain.BeneficiaryStatus, limit int) ([]*domain.Beneficiary, error) {
	query := `SELECT ` + beneficiaryColumns + ` FROM beneficiaries WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Beneficiary
	for rows.Next() {
		b, err := scanBeneficiary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBeneficiaryStatus changes a beneficiary's status.
func (r *SQLRepository) UpdateBeneficiaryStatus(ctx context.Context, cardNumber string, status domain.BeneficiaryStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown beneficiary status %q", ErrInvalidInput, status)
	}
	query := `UPDATE beneficiaries SET status = ?, updated_at = ? WHERE card_number = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), string(status), time.Now().UTC(), cardNumber)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// UpdateBeneficiaryFace replaces the reference embedding during re-enrollment.
func (r *SQLRepository) UpdateBeneficiaryFace(ctx context.Context, cardNumber, embedding, imageRef string) error {
	if embedding == "" {
		return fmt.Errorf("%w: face embedding is required", ErrInvalidInput)
	}
	query := `UPDATE beneficiaries SET face_embedding = ?, face_image_url = ?, updated_at = ? WHERE card_number = ?`
	res, err := r.db.ExecContext(ctx, r.rebind(query), embedding, nullString(imageRef), time.Now().UTC(), cardNumber)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// SaveShop stores a ration shop.
func (r *SQLRepository) SaveShop(ctx context.Context, s *domain.Shop) error {
	if s.ID == "" || s.ShopCode == "" {
		return fmt.Errorf("%w: id and shop code are required", ErrInvalidInput)
	}
	query := `INSERT INTO ration_shops (id, name, shop_code, district, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query), s.ID, s.Name, s.ShopCode, nullString(s.District), s.CreatedAt.UTC())
	if err != nil && r.isUniqueViolation(err) {
		return fmt.Errorf("%w: shop code %s already registered", ErrInvalidInput, s.ShopCode)
	}
	return err
}

// ListShops lists all shops ordered by name.
func (r *SQLRepository) ListShops(ctx context.Context) ([]*domain.Shop, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, shop_code, district, created_at FROM ration_shops ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shops []*domain.Shop
	for rows.Next() {
		var s domain.Shop
		var district sql.NullString
		if err := rows.Scan(&s.ID, &s.Name, &s.ShopCode, &district, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.District = district.String
		shops = append(shops, &s)
	}
	return shops, rows.Err()
}

// DashboardStats computes operator-facing counters.
func (r *SQLRepository) DashboardStats(ctx context.Context) (*domain.DashboardStats, error) {
	var stats domain.DashboardStats
	counts := []struct {
		dst   *int
		query string
	}{
		{&stats.TotalBeneficiaries, `SELECT COUNT(*) FROM beneficiaries`},
		{&stats.ActiveBeneficiaries, `SELECT COUNT(*) FROM beneficiaries WHERE status = 'active'`},
		{&stats.TotalTransactions, `SELECT COUNT(*) FROM transactions`},
		{&stats.FlaggedTransactions, `SELECT COUNT(*) FROM transactions WHERE status = 'flagged'`},
		{&stats.PendingAlerts, `SELECT COUNT(*) FROM duplicate_alerts WHERE status = 'pending'`},
		{&stats.CriticalPendingAlerts, `SELECT COUNT(*) FROM duplicate_alerts WHERE status = 'pending' AND severity = 'critical'`},
	}
	for _, c := range counts {
		if err := r.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, err
		}
	}
	return &stats, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, strconv.Itoa(n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func (r *SQLRepository) isUniqueViolation(err error) bool {
	if r.driver == "postgres" {
		return isPostgresUniqueViolation(err)
	}
	return isSQLiteUniqueViolation(err)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBeneficiary(row rowScanner) (*domain.Beneficiary, error) {
	var b domain.Beneficiary
	var phone, address, imageRef sql.NullString
	var status string

	err := row.Scan(
		&b.ID, &b.CardNumber, &b.Name,
		&phone, &address, &imageRef,
		&b.FaceEmbedding, &status,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	b.Phone = phone.String
	b.Address = address.String
	b.FaceImageRef = imageRef.String
	b.Status = domain.BeneficiaryStatus(status)
	return &b, nil
}

func expectAffected(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
