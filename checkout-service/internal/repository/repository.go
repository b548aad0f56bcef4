package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

var (
	ErrAttemptNotFound  = errors.New("payment attempt not found")
	ErrDuplicateAttempt = errors.New("payment attempt with this idempotency key already exists")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type Repository struct {
	db *sql.DB
}

// RepoInterface is the settlement journal: one row per payment submission keyed by its
// idempotency key, plus the outbox the publisher drains.
type RepoInterface interface {
	Close() error
	RunMigrations(*Credentials) error

	BeginAttempt(ctx context.Context, attempt *PaymentAttempt) error
	GetAttemptByIdempotencyKey(ctx context.Context, key string) (*PaymentAttempt, error)
	GetAttemptByReference(ctx context.Context, reference string) (*PaymentAttempt, error)
	CompleteAttempt(ctx context.Context, id, paymentID string, event *OutboxEvent) error
	FailAttempt(ctx context.Context, id, reason string) error
	MarkAttemptUnknown(ctx context.Context, id, reason string) error
	ListUnknownAttempts(ctx context.Context, olderThan time.Duration, limit int) ([]*PaymentAttempt, error)

	AddOutboxEvent(ctx context.Context, event *OutboxEvent) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id string) error
}

// NewRepository opens the journal database and checks it answers within five seconds.
func NewRepository(cred *Credentials) (*Repository, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host, cred.Port, cred.User, cred.Password, cred.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach journal database %s:%d: %w", cred.Host, cred.Port, err)
	}

	log.Printf("Connected to journal database %s", cred.DBName)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "checkout_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("failed to create journal migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to load journal migrations from %s: %w", cred.MigrationsDirPath, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate journal: %w", err)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
