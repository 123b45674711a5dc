package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// onePendingPerOrder is the partial unique index guarding pending records.
const onePendingPerOrder = "payment_records_one_pending_per_order"

// allowedSortColumns is a whitelist of columns valid for ORDER BY.
var allowedSortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"amount":     "amount",
	"status":     "status",
}

const recordColumns = `id, order_id, amount::text, currency, method, external_transaction_id,
	status, paid_at, created_at, updated_at`

// PaymentRepository implements payment.Repository using PostgreSQL.
type PaymentRepository struct {
	conn DBTX
}

// NewPaymentRepository creates a new PaymentRepository.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{conn: pool}
}

func (r *PaymentRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.conn)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Create inserts a new record.
func (r *PaymentRepository) Create(ctx context.Context, rec *payment.Record) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO payment_records
		 (id, order_id, amount, currency, method, external_transaction_id, status, paid_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		rec.ID, rec.OrderID, decimalToNumeric(rec.Amount), rec.Currency, string(rec.Method),
		rec.ExternalTransactionID, string(rec.Status), rec.PaidAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == onePendingPerOrder {
				return domainErrors.ErrPaymentPending
			}
			return domainErrors.ErrDuplicateTransaction
		}
		return fmt.Errorf("insert payment record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Record, error) {
	return scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM payment_records WHERE id = $1`, id))
}

func (r *PaymentRepository) GetByTransactionID(ctx context.Context, method payment.Method, txID string) (*payment.Record, error) {
	return scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM payment_records
		 WHERE method = $1 AND external_transaction_id = $2`, string(method), txID))
}

func (r *PaymentRepository) GetPendingByOrderID(ctx context.Context, orderID string) (*payment.Record, error) {
	return scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM payment_records
		 WHERE order_id = $1 AND status = 'pending'`, orderID))
}

// LockByTransactionID must run inside TxManager.WithTransaction; the row lock
// is held until that transaction ends.
func (r *PaymentRepository) LockByTransactionID(ctx context.Context, method payment.Method, txID string) (*payment.Record, error) {
	if !InTransaction(ctx) {
		return nil, ErrNoTransaction
	}
	return scanRecord(r.db(ctx).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM payment_records
		 WHERE method = $1 AND external_transaction_id = $2
		 FOR UPDATE`, string(method), txID))
}

// CompareAndSetStatus updates the status only if the row is still in from.
// An existing paid_at is never overwritten.
func (r *PaymentRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to payment.Status, paidAt *time.Time) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE payment_records
		 SET status = $3, paid_at = COALESCE(paid_at, $4), updated_at = NOW()
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), paidAt,
	)
	if err != nil {
		return false, fmt.Errorf("update payment record status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List lists records with optional filters.
func (r *PaymentRepository) List(ctx context.Context, f payment.ListFilter) ([]*payment.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM payment_records WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.OrderID != nil {
		query += fmt.Sprintf(" AND order_id = $%d", argIdx)
		args = append(args, *f.OrderID)
		argIdx++
	}
	if f.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(*f.Status))
		argIdx++
	}
	if f.Method != nil {
		query += fmt.Sprintf(" AND method = $%d", argIdx)
		args = append(args, string(*f.Method))
		argIdx++
	}
	if f.CreatedBefore != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, *f.CreatedBefore)
		argIdx++
	}

	sortBy := "created_at"
	if col, ok := allowedSortColumns[f.SortBy]; ok {
		sortBy = col
	}
	sortOrder := "DESC"
	if strings.EqualFold(f.SortOrder, "asc") {
		sortOrder = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", sortBy, sortOrder)

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payment records: %w", err)
	}
	defer rows.Close()

	var records []*payment.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AddEvent inserts an audit event.
func (r *PaymentRepository) AddEvent(ctx context.Context, event *payment.Event) error {
	data, err := json.Marshal(event.EventData)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payment_events (id, record_id, event_type, source, from_status, to_status, event_data, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		event.ID, event.RecordID, event.EventType, event.Source,
		string(event.FromStatus), string(event.ToStatus), data, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment event: %w", err)
	}
	return nil
}

// GetEvents returns a record's events, oldest first.
func (r *PaymentRepository) GetEvents(ctx context.Context, recordID uuid.UUID) ([]*payment.Event, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT id, record_id, event_type, source, COALESCE(from_status, ''), COALESCE(to_status, ''), event_data, created_at
		 FROM payment_events WHERE record_id = $1 ORDER BY created_at ASC, id ASC`, recordID,
	)
	if err != nil {
		return nil, fmt.Errorf("list payment events: %w", err)
	}
	defer rows.Close()

	var events []*payment.Event
	for rows.Next() {
		e := &payment.Event{}
		var from, to string
		var data []byte
		if err := rows.Scan(&e.ID, &e.RecordID, &e.EventType, &e.Source, &from, &to, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.FromStatus, e.ToStatus = payment.Status(from), payment.Status(to)
		if err := json.Unmarshal(data, &e.EventData); err != nil {
			return nil, fmt.Errorf("unmarshal event data: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanRecord(s scanner) (*payment.Record, error) {
	rec := &payment.Record{}
	var (
		amount string
		method string
		status string
	)
	err := s.Scan(
		&rec.ID, &rec.OrderID, &amount, &rec.Currency, &method, &rec.ExternalTransactionID,
		&status, &rec.PaidAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment record: %w", err)
	}

	if rec.Amount, err = numericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if rec.Status, err = payment.ParseStatus(status); err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	rec.Method = payment.Method(method)
	return rec, nil
}
