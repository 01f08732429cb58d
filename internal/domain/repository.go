package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Transactions and alerts are append-only; only alert review fields change after insert.
type Repository interface {
	// Beneficiary operations
	CreateBeneficiary(ctx context.Context, b *Beneficiary) error
	GetBeneficiaryByCard(ctx context.Context, cardNumber string) (*Beneficiary, error)
	GetBeneficiary(ctx context.Context, id string) (*Beneficiary, error)
	ListBeneficiaries(ctx context.Context, status BeneficiaryStatus, limit int) ([]*Beneficiary, error)
	UpdateBeneficiaryStatus(ctx context.Context, cardNumber string, status BeneficiaryStatus) error
	UpdateBeneficiaryFace(ctx context.Context, cardNumber, embedding, imageRef string) error

	// Shop operations
	SaveShop(ctx context.Context, s *Shop) error
	ListShops(ctx context.Context) ([]*Shop, error)

	// Distribution cycle operations
	SaveCycle(ctx context.Context, c *DistributionCycle) error
	GetActiveCycle(ctx context.Context) (*DistributionCycle, error)
	ListCycles(ctx context.Context) ([]*DistributionCycle, error)
	// ActivateCycle marks a cycle active and closes any other active cycle atomically.
	ActivateCycle(ctx context.Context, id string) error
	CloseCycle(ctx context.Context, id string) error

	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	QueryTransactions(ctx context.Context, q TransactionQuery) ([]*Transaction, error)

	// Alert operations
	SaveAlert(ctx context.Context, a *Alert) error
	GetAlert(ctx context.Context, id string) (*Alert, error)
	ListAlerts(ctx context.Context, q AlertQuery) ([]*Alert, error)
	ReviewAlert(ctx context.Context, id string, status AlertStatus, reviewedBy string, reviewedAt time.Time) error

	// Reporting
	DashboardStats(ctx context.Context) (*DashboardStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitepath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgreshost"`
	PostgresPort     int    `mapstructure:"postgresport"`
	PostgresUser     string `mapstructure:"postgresuser"`
	PostgresPassword string `mapstructure:"postgrespassword"`
	PostgresDB       string `mapstructure:"postgresdb"`
	PostgresSSLMode  string `mapstructure:"postgressslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxopenconns"`
	MaxIdleConns    int           `mapstructure:"maxidleconns"`
	ConnMaxLifetime time.Duration `mapstructure:"connmaxlifetime"`
}
