package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"
)

const uniqueViolation = "23505"

var (
	ErrDuplicatePayment = errors.New("payment already recorded")
	ErrNotFound         = errors.New("payment not found")
)

const paymentColumns = `id, gateway_order_id, gateway_payment_id, signature, amount, currency, status,
	payer_name, payer_email, payer_phone, created_at, updated_at`

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *PaymentRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// SaveWithEvent stores the payment and its outbox event atomically. A unique
// violation on either gateway identifier yields ErrDuplicatePayment and
// nothing is written.
func (r *PaymentRepository) SaveWithEvent(ctx context.Context, payment *PaymentEntity, event *PaymentEventEntity) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return pkgerrors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	query := `INSERT INTO payment (id, gateway_order_id, gateway_payment_id, signature, amount, currency, status,
	              payer_name, payer_email, payer_phone, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = tx.Exec(ctx, query, payment.ID, payment.GatewayOrderID, payment.GatewayPaymentID, payment.Signature,
		payment.Amount, payment.Currency, payment.Status, payment.PayerName, payment.PayerEmail, payment.PayerPhone,
		payment.CreatedAt, payment.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicatePayment
		}
		return pkgerrors.Wrap(err, "insert payment")
	}

	if event != nil {
		if err := r.createEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return pkgerrors.Wrap(err, "commit payment")
	}
	return nil
}

func (r *PaymentRepository) createEvent(ctx context.Context, tx pgx.Tx, event *PaymentEventEntity) error {
	query := `INSERT INTO payment_event (id, payment_id, type, payload, traceparent, created_at, scheduled_at, publish_attempts)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := tx.Exec(ctx, query, event.ID, event.PaymentID, event.Type, event.Payload, event.Traceparent,
		event.CreatedAt, event.ScheduledAt, event.PublishAttempts)
	return pkgerrors.Wrap(err, "insert payment event")
}

func (r *PaymentRepository) GetByGatewayOrderID(ctx context.Context, orderID string) (*PaymentEntity, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment WHERE gateway_order_id = $1`
	entity, err := scanPayment(r.pool.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "select payment")
	}
	return entity, nil
}

func (r *PaymentRepository) ListRecent(ctx context.Context, limit int) ([]*PaymentEntity, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment ORDER BY created_at DESC LIMIT $1`
	return r.queryPayments(ctx, query, limit)
}

func (r *PaymentRepository) ListByPayerEmail(ctx context.Context, email string, limit int) ([]*PaymentEntity, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment WHERE payer_email = $1 ORDER BY created_at DESC LIMIT $2`
	return r.queryPayments(ctx, query, email, limit)
}

func (r *PaymentRepository) queryPayments(ctx context.Context, query string, args ...any) ([]*PaymentEntity, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "query payments")
	}
	defer rows.Close()

	payments := make([]*PaymentEntity, 0)
	for rows.Next() {
		entity, err := scanPayment(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "scan payment")
		}
		payments = append(payments, entity)
	}
	return payments, rows.Err()
}

func scanPayment(row pgx.Row) (*PaymentEntity, error) {
	var entity PaymentEntity
	err := row.Scan(&entity.ID, &entity.GatewayOrderID, &entity.GatewayPaymentID, &entity.Signature, &entity.Amount,
		&entity.Currency, &entity.Status, &entity.PayerName, &entity.PayerEmail, &entity.PayerPhone,
		&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

// GetDueEvents locks up to limit events whose scheduled_at has passed.
// Rows locked by a concurrent producer are skipped.
func (r *PaymentRepository) GetDueEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*PaymentEventEntity, error) {
	query := `SELECT id, payment_id, type, payload::text, traceparent, created_at, scheduled_at, published_at,
	                 publish_attempts, error
	          FROM payment_event
	          WHERE scheduled_at IS NOT NULL AND scheduled_at <= now()
	          ORDER BY scheduled_at
	          LIMIT $1
	          FOR UPDATE SKIP LOCKED`
	rows, err := tx.Query(ctx, query, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "query due events")
	}
	defer rows.Close()

	var events []*PaymentEventEntity
	for rows.Next() {
		var e PaymentEventEntity
		err := rows.Scan(&e.ID, &e.PaymentID, &e.Type, &e.Payload, &e.Traceparent, &e.CreatedAt, &e.ScheduledAt,
			&e.PublishedAt, &e.PublishAttempts, &e.Error)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "scan event")
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (r *PaymentRepository) UpdateEvent(ctx context.Context, tx pgx.Tx, event *PaymentEventEntity) error {
	query := `UPDATE payment_event
	          SET scheduled_at = $2, published_at = $3, publish_attempts = $4, error = $5
	          WHERE id = $1`
	_, err := tx.Exec(ctx, query, event.ID, event.ScheduledAt, event.PublishedAt, event.PublishAttempts, event.Error)
	return pkgerrors.Wrap(err, "update event")
}

func (r *PaymentRepository) GetEventByID(ctx context.Context, id uuid.UUID) (*PaymentEventEntity, error) {
	query := `SELECT id, payment_id, type, payload::text, traceparent, created_at, scheduled_at, published_at,
	                 publish_attempts, error
	          FROM payment_event WHERE id = $1`
	var e PaymentEventEntity
	err := r.pool.QueryRow(ctx, query, id).Scan(&e.ID, &e.PaymentID, &e.Type, &e.Payload, &e.Traceparent,
		&e.CreatedAt, &e.ScheduledAt, &e.PublishedAt, &e.PublishAttempts, &e.Error)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "select event")
	}
	return &e, nil
}
