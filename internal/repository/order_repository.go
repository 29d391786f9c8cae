package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"

	"github.com/kurashi-commerce/grandpay-gateway/internal/models"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id SERIAL PRIMARY KEY,
			temp_id VARCHAR(64),
			session_id VARCHAR(255),
			payment_id VARCHAR(255),
			checkout_url TEXT,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			original_amount BIGINT NOT NULL DEFAULT 0,
			points_used BIGINT NOT NULL DEFAULT 0,
			points_discount BIGINT NOT NULL DEFAULT 0,
			final_amount BIGINT NOT NULL DEFAULT 0,
			customer_name VARCHAR(255),
			customer_email VARCHAR(255),
			customer_phone VARCHAR(64),
			member_id BIGINT NOT NULL DEFAULT 0,
			cart JSONB,
			pending_reason VARCHAR(64),
			failure_reason TEXT,
			callback_received_at TIMESTAMP,
			completed_at TIMESTAMP,
			failed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_temp_id ON orders(temp_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_session_id ON orders(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_payment_id ON orders(payment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_customer_email ON orders(customer_email)`,
		`CREATE TABLE IF NOT EXISTS members (
			id SERIAL PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			name VARCHAR(255),
			points BIGINT NOT NULL DEFAULT 0
		)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

const orderColumns = `id, COALESCE(temp_id, ''), COALESCE(session_id, ''), COALESCE(payment_id, ''),
	COALESCE(checkout_url, ''), status, original_amount, points_used, points_discount, final_amount,
	COALESCE(customer_name, ''), COALESCE(customer_email, ''), COALESCE(customer_phone, ''), member_id,
	cart, COALESCE(pending_reason, ''), COALESCE(failure_reason, ''),
	callback_received_at, completed_at, failed_at, created_at, updated_at`

func (r *OrderRepository) scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var o models.Order
	var cart []byte
	err := row.Scan(&o.ID, &o.TempID, &o.SessionID, &o.PaymentID,
		&o.CheckoutURL, &o.Status, &o.OriginalAmount, &o.PointsUsed, &o.PointsDiscount, &o.FinalAmount,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.MemberID,
		&cart, &o.PendingReason, &o.FailureReason,
		&o.CallbackReceivedAt, &o.CompletedAt, &o.FailedAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(cart) > 0 {
		if err := json.Unmarshal(cart, &o.Cart); err != nil {
			return nil, err
		}
	}
	return &o, nil
}

func (r *OrderRepository) Create(ctx context.Context, o *models.Order) (int64, error) {
	cart, err := json.Marshal(o.Cart)
	if err != nil {
		return 0, err
	}
	if o.Status == "" {
		o.Status = models.StatusPending
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO orders (temp_id, session_id, payment_id, checkout_url, status,
			original_amount, points_used, points_discount, final_amount,
			customer_name, customer_email, customer_phone, member_id, cart)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, nullable(o.TempID), nullable(o.SessionID), nullable(o.PaymentID), nullable(o.CheckoutURL), o.Status,
		o.OriginalAmount, o.PointsUsed, o.PointsDiscount, o.FinalAmount,
		o.Customer.Name, o.Customer.Email, o.Customer.Phone, o.MemberID, cart).Scan(&id)
	if err != nil {
		return 0, err
	}
	o.ID = id
	return id, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	return r.scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (r *OrderRepository) GetByTempID(ctx context.Context, tempID string) (*models.Order, error) {
	return r.scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE temp_id = $1 ORDER BY id DESC LIMIT 1`, tempID))
}

func (r *OrderRepository) GetBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	return r.scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE session_id = $1 ORDER BY id DESC LIMIT 1`, sessionID))
}

func (r *OrderRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	return r.scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_id = $1 ORDER BY id DESC LIMIT 1`, paymentID))
}

func (r *OrderRepository) FindUnattachedSince(ctx context.Context, since time.Time, limit int) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE (session_id IS NULL OR session_id = '') AND created_at >= $1
		ORDER BY created_at DESC LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *OrderRepository) FindUnattachedByEmail(ctx context.Context, email string, limit int) ([]*models.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE (session_id IS NULL OR session_id = '') AND customer_email = $1
		ORDER BY created_at DESC LIMIT $2
	`, email, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *OrderRepository) FindLatestPendingByEmail(ctx context.Context, email string) (*models.Order, error) {
	return r.scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE customer_email = $1 AND status = 'pending'
		ORDER BY created_at DESC LIMIT 1
	`, email))
}

func (r *OrderRepository) collect(rows *sql.Rows) ([]*models.Order, error) {
	var out []*models.Order
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *OrderRepository) UpdateCheckout(ctx context.Context, id int64, upd models.CheckoutUpdate) error {
	cart, err := json.Marshal(upd.Cart)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE orders SET
			temp_id = COALESCE($1, temp_id),
			session_id = $2,
			checkout_url = $3,
			original_amount = $4,
			points_used = $5,
			points_discount = $6,
			final_amount = $7,
			customer_name = $8,
			customer_email = $9,
			customer_phone = $10,
			member_id = $11,
			cart = CASE WHEN $12::jsonb IS NULL OR $12::jsonb = 'null'::jsonb THEN cart ELSE $12::jsonb END,
			updated_at = NOW()
		WHERE id = $13
	`, nullable(upd.TempID), nullable(upd.SessionID), nullable(upd.CheckoutURL),
		upd.OriginalAmount, upd.PointsUsed, upd.PointsDiscount, upd.FinalAmount,
		upd.Customer.Name, upd.Customer.Email, upd.Customer.Phone, upd.MemberID, cart, id)
	return err
}

// Transition is the guarded status update. The WHERE clause re-checks the
// expected current statuses so a concurrent transition wins at most once.
func (r *OrderRepository) Transition(ctx context.Context, id int64, from []models.PaymentStatus, to models.PaymentStatus) (int64, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)
	`, to, id, pq.Array(states))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *OrderRepository) MarkCallbackReceived(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET callback_received_at = $1, updated_at = NOW() WHERE id = $2`, at, id)
	return err
}

func (r *OrderRepository) SetPendingReason(ctx context.Context, id int64, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE orders SET pending_reason = $1, updated_at = NOW() WHERE id = $2`, reason, id)
	return err
}

func (r *OrderRepository) SetCompleted(ctx context.Context, id int64, paymentID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET payment_id = COALESCE($1, payment_id), completed_at = $2, pending_reason = '', updated_at = NOW()
		WHERE id = $3
	`, nullable(paymentID), at, id)
	return err
}

func (r *OrderRepository) SetFailed(ctx context.Context, id int64, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET failure_reason = $1, failed_at = $2, updated_at = NOW()
		WHERE id = $3
	`, reason, at, id)
	return err
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
