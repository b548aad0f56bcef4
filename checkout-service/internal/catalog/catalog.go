package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

var ErrServiceNotFound = errors.New("service not found in catalog")

// Service is a bookable service as the till prices it for quick sales.
type Service struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DurationMinutes int             `json:"durationMinutes"`
	Active          bool            `json:"active"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Repository is the local service catalog kept in a sqlite file next to the service.
type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) GetService(ctx context.Context, id string) (*Service, error) {
	query := `
		SELECT id, name, price, duration_minutes, active, updated_at
		FROM services
		WHERE id = ?
	`
	s, err := scanService(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return s, nil
}

// ListServices returns the catalog ordered by name. Inactive services are only included
// when includeInactive is set.
func (r *Repository) ListServices(ctx context.Context, includeInactive bool) ([]*Service, error) {
	query := `
		SELECT id, name, price, duration_minutes, active, updated_at
		FROM services
		WHERE active = 1 OR ?
		ORDER BY name, id
	`

	rows, err := r.db.QueryContext(ctx, query, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return services, nil
}

// UpsertService inserts s or replaces the stored row with the same id.
func (r *Repository) UpsertService(ctx context.Context, s *Service) error {
	if s.ID == "" {
		return errors.New("service id is required")
	}
	if s.Price.IsNegative() {
		return fmt.Errorf("service %s: price must not be negative", s.ID)
	}
	s.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO services (id, name, price, duration_minutes, active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			duration_minutes = excluded.duration_minutes,
			active = excluded.active,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Name, s.Price.String(), s.DurationMinutes, s.Active, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert service: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (*Service, error) {
	s := &Service{}
	var price string
	err := row.Scan(
		&s.ID,
		&s.Name,
		&price,
		&s.DurationMinutes,
		&s.Active,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("service %s has invalid price %q: %w", s.ID, price, err)
	}
	return s, nil
}
