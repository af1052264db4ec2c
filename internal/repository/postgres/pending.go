package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nerochristian/robloxkeys/internal/domain"
	"github.com/nerochristian/robloxkeys/pkg/database"
	apperrors "github.com/nerochristian/robloxkeys/pkg/errors"
)

// PendingPaymentRepository implements repository.PendingPaymentStore using
// PostgreSQL. The table is the durable suspend point of the redirect flow:
// a record is written before the user leaves for the provider and consumed
// when the return is resolved.
type PendingPaymentRepository struct {
	db database.DBTX
}

// NewPendingPaymentRepository creates a new PostgreSQL-backed pending
// payment repository.
func NewPendingPaymentRepository(db database.DBTX) *PendingPaymentRepository {
	return &PendingPaymentRepository{db: db}
}

// Save inserts a pending payment record.
func (r *PendingPaymentRepository) Save(ctx context.Context, p *domain.PendingPayment) error {
	query := `
		INSERT INTO pending_payments (token, user_id, order_id, method, session_id, track_id, paypal_order_id, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		p.Token,
		p.UserID,
		p.OrderID,
		string(p.Method),
		p.SessionID,
		p.TrackID,
		p.PayPalOrderID,
		p.Total,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pending payment: %w", err)
	}

	return nil
}

// Get retrieves a pending payment by its correlation token.
func (r *PendingPaymentRepository) Get(ctx context.Context, token string) (*domain.PendingPayment, error) {
	query := `
		SELECT token, user_id, order_id, method, session_id, track_id, paypal_order_id, total, created_at
		FROM pending_payments
		WHERE token = $1`

	var p domain.PendingPayment
	var method string
	err := r.db.QueryRow(ctx, query, token).Scan(
		&p.Token,
		&p.UserID,
		&p.OrderID,
		&method,
		&p.SessionID,
		&p.TrackID,
		&p.PayPalOrderID,
		&p.Total,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("pending payment", token)
		}
		return nil, fmt.Errorf("select pending payment: %w", err)
	}

	p.Method = domain.Method(method)
	return &p, nil
}

// Delete consumes a pending payment record.
func (r *PendingPaymentRepository) Delete(ctx context.Context, token string) error {
	ct, err := r.db.Exec(ctx, `DELETE FROM pending_payments WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete pending payment: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("pending payment", token)
	}
	return nil
}

// DeleteByUser consumes all of a user's pending payment records. Deleting
// nothing is not an error; cancel returns arrive without a token.
func (r *PendingPaymentRepository) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM pending_payments WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete pending payments for user: %w", err)
	}
	return nil
}
