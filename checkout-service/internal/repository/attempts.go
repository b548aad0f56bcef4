package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/shopspring/decimal"
)

type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "PENDING"
	AttemptSucceeded AttemptStatus = "SUCCEEDED"
	AttemptFailed    AttemptStatus = "FAILED"
	// AttemptUnknown is a submission whose outcome the client never saw, e.g. a timeout.
	AttemptUnknown AttemptStatus = "UNKNOWN"
)

type PaymentAttempt struct {
	ID                string
	IdempotencyKey    string
	OrderID           string
	Method            string
	Amount            decimal.Decimal
	TipAmount         decimal.Decimal
	Status            AttemptStatus
	TerminalReference string
	TerminalID        string
	// Loyalty is the reward committed to the order before this attempt was charged.
	Loyalty   *d.LoyaltyDiscount
	PaymentID string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const attemptColumns = `id, idempotency_key, order_id, method, amount, tip_amount, status,
	COALESCE(terminal_reference, ''), COALESCE(terminal_id, ''), loyalty,
	COALESCE(payment_id, ''), COALESCE(error, ''), created_at, updated_at`

func scanAttempt(row interface{ Scan(...any) error }) (*PaymentAttempt, error) {
	var a PaymentAttempt
	var loyalty []byte
	err := row.Scan(
		&a.ID,
		&a.IdempotencyKey,
		&a.OrderID,
		&a.Method,
		&a.Amount,
		&a.TipAmount,
		&a.Status,
		&a.TerminalReference,
		&a.TerminalID,
		&loyalty,
		&a.PaymentID,
		&a.Error,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(loyalty) > 0 {
		if err := json.Unmarshal(loyalty, &a.Loyalty); err != nil {
			return nil, fmt.Errorf("decode attempt loyalty: %w", err)
		}
	}
	return &a, nil
}

// BeginAttempt journals a submission before it is sent. It always starts PENDING.
func (r *Repository) BeginAttempt(ctx context.Context, a *PaymentAttempt) error {
	var loyalty sql.NullString
	if a.Loyalty != nil {
		b, err := json.Marshal(a.Loyalty)
		if err != nil {
			return fmt.Errorf("encode attempt loyalty: %w", err)
		}
		loyalty = sql.NullString{String: string(b), Valid: true}
	}

	query := `INSERT INTO payment_attempts (id, idempotency_key, order_id, method, amount, tip_amount, status,
	              terminal_reference, terminal_id, loyalty, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, NOW(), NOW())`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.IdempotencyKey,
		a.OrderID,
		a.Method,
		a.Amount,
		a.TipAmount,
		AttemptPending,
		a.TerminalReference,
		a.TerminalID,
		loyalty)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateAttempt
		}
		return fmt.Errorf("insert payment attempt: %w", err)
	}
	a.Status = AttemptPending
	return nil
}

func (r *Repository) GetAttemptByIdempotencyKey(ctx context.Context, key string) (*PaymentAttempt, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM payment_attempts WHERE idempotency_key = $1`, key)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query attempt by idempotency key: %w", err)
	}
	return a, nil
}

func (r *Repository) GetAttemptByReference(ctx context.Context, reference string) (*PaymentAttempt, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM payment_attempts WHERE terminal_reference = $1`, reference)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query attempt by reference: %w", err)
	}
	return a, nil
}

// CompleteAttempt marks the attempt SUCCEEDED and, in the same transaction, writes the
// outbox event announcing it.
func (r *Repository) CompleteAttempt(ctx context.Context, id, paymentID string, event *OutboxEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE payment_attempts SET status = $1, payment_id = NULLIF($2, ''), error = NULL, updated_at = NOW() WHERE id = $3`,
		AttemptSucceeded, paymentID, id)
	if err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAttemptNotFound
	}

	if event != nil {
		if err := insertEvent(ctx, tx, event); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repository) FailAttempt(ctx context.Context, id, reason string) error {
	return r.setStatus(ctx, id, AttemptFailed, reason)
}

func (r *Repository) MarkAttemptUnknown(ctx context.Context, id, reason string) error {
	return r.setStatus(ctx, id, AttemptUnknown, reason)
}

func (r *Repository) setStatus(ctx context.Context, id string, status AttemptStatus, reason string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_attempts SET status = $1, error = NULLIF($2, ''), updated_at = NOW() WHERE id = $3`,
		status, reason, id)
	if err != nil {
		return fmt.Errorf("update attempt status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

// ListUnknownAttempts returns UNKNOWN attempts that have not been touched for olderThan,
// oldest first.
func (r *Repository) ListUnknownAttempts(ctx context.Context, olderThan time.Duration, limit int) ([]*PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts
	          WHERE status = $1 AND updated_at < NOW() - make_interval(secs => $2)
	          ORDER BY updated_at ASC LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, AttemptUnknown, olderThan.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("query unknown attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*PaymentAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt row: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return attempts, nil
}
