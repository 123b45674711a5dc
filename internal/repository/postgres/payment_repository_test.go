package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingConn captures statements and answers them from its fields.
type recordingConn struct {
	sql  []string
	args [][]any

	execTag  string
	execErr  error
	rowErr   error
	queryErr error
}

func (c *recordingConn) capture(sql string, args []any) {
	c.sql = append(c.sql, normalizeSQL(sql))
	c.args = append(c.args, args)
}

func (c *recordingConn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.capture(sql, args)
	if c.execErr != nil {
		return pgconn.CommandTag{}, c.execErr
	}
	return pgconn.NewCommandTag(c.execTag), nil
}

func (c *recordingConn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	c.capture(sql, args)
	return nil, c.queryErr
}

func (c *recordingConn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	c.capture(sql, args)
	return errRow{err: c.rowErr}
}

func (c *recordingConn) last() string { return c.sql[len(c.sql)-1] }

type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }

// recordingTx stands in for an open transaction; only the query methods are used.
type recordingTx struct {
	pgx.Tx
	conn *recordingConn
}

func (t recordingTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.conn.Exec(ctx, sql, args...)
}

func (t recordingTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.conn.Query(ctx, sql, args...)
}

func (t recordingTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return t.conn.QueryRow(ctx, sql, args...)
}

func normalizeSQL(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

func TestCompareAndSetStatus_OnlySwapsFromExpectedStatus(t *testing.T) {
	id := uuid.New()
	paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		tag     string
		swapped bool
	}{
		{"row still in expected status", "UPDATE 1", true},
		{"row already moved on", "UPDATE 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &recordingConn{execTag: tt.tag}
			repo := &PaymentRepository{conn: conn}

			swapped, err := repo.CompareAndSetStatus(context.Background(), id, payment.StatusPending, payment.StatusCompleted, &paidAt)
			require.NoError(t, err)
			assert.Equal(t, tt.swapped, swapped)

			assert.Contains(t, conn.last(), "WHERE id = $1 AND status = $2")
			assert.Contains(t, conn.last(), "SET status = $3, paid_at = COALESCE(paid_at, $4)")
			assert.Equal(t, []any{id, "pending", "completed", &paidAt}, conn.args[0])
		})
	}
}

func TestCompareAndSetStatus_WrapsDriverError(t *testing.T) {
	repo := &PaymentRepository{conn: &recordingConn{execErr: errors.New("conn reset")}}

	_, err := repo.CompareAndSetStatus(context.Background(), uuid.New(), payment.StatusCompleted, payment.StatusRefunded, nil)
	assert.ErrorContains(t, err, "update payment record status: conn reset")
}

func TestLockByTransactionID_TakesRowLockInsideTransaction(t *testing.T) {
	conn := &recordingConn{rowErr: pgx.ErrNoRows}
	repo := &PaymentRepository{conn: conn}

	_, err := repo.LockByTransactionID(context.Background(), payment.MethodGCash, "T1")
	assert.ErrorIs(t, err, ErrNoTransaction)
	assert.Empty(t, conn.sql)

	ctx := context.WithValue(context.Background(), txKey, pgx.Tx(recordingTx{conn: conn}))
	_, err = repo.LockByTransactionID(ctx, payment.MethodGCash, "T1")
	assert.ErrorIs(t, err, domainErrors.ErrPaymentNotFound)

	require.Len(t, conn.sql, 1)
	assert.True(t, strings.HasSuffix(conn.last(), "WHERE method = $1 AND external_transaction_id = $2 FOR UPDATE"), conn.last())
	assert.Equal(t, []any{"gcash", "T1"}, conn.args[0])
}

func TestCreate_MapsUniqueViolations(t *testing.T) {
	tests := []struct {
		name    string
		pgErr   *pgconn.PgError
		wantErr error
	}{
		{
			name:    "second pending record for an order",
			pgErr:   &pgconn.PgError{Code: "23505", ConstraintName: onePendingPerOrder},
			wantErr: domainErrors.ErrPaymentPending,
		},
		{
			name:    "transaction id already recorded",
			pgErr:   &pgconn.PgError{Code: "23505", ConstraintName: "payment_records_method_tx_key"},
			wantErr: domainErrors.ErrDuplicateTransaction,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &PaymentRepository{conn: &recordingConn{execErr: tt.pgErr}}
			err := repo.Create(context.Background(), newRecord(t))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	repo := &PaymentRepository{conn: &recordingConn{execErr: &pgconn.PgError{Code: "23514", ConstraintName: "payment_records_amount_check"}}}
	err := repo.Create(context.Background(), newRecord(t))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domainErrors.ErrPaymentPending)
	assert.NotErrorIs(t, err, domainErrors.ErrDuplicateTransaction)
	assert.Contains(t, err.Error(), "insert payment record")
}

func TestOnePendingPerOrder_MatchesMigration(t *testing.T) {
	schema, err := os.ReadFile("../../infrastructure/postgres/migrations/000002_create_payment_records.up.sql")
	require.NoError(t, err)

	assert.Contains(t, normalizeSQL(string(schema)),
		"CREATE UNIQUE INDEX "+onePendingPerOrder+" ON payment_records (order_id) WHERE status = 'pending';")
}

func TestList_BuildsFilteredQuery(t *testing.T) {
	conn := &recordingConn{queryErr: errors.New("stop")}
	repo := &PaymentRepository{conn: conn}
	pending := payment.StatusPending
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := repo.List(context.Background(), payment.ListFilter{
		Status:        &pending,
		CreatedBefore: &cutoff,
		Limit:         50,
		SortBy:        "created_at",
		SortOrder:     "asc",
	})
	assert.ErrorContains(t, err, "list payment records")

	assert.True(t, strings.HasSuffix(conn.last(),
		"WHERE 1=1 AND status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3 OFFSET $4"), conn.last())
	assert.Equal(t, []any{"pending", cutoff, 50, 0}, conn.args[0])
}

func TestList_RejectsUnknownSortColumn(t *testing.T) {
	conn := &recordingConn{queryErr: errors.New("stop")}
	repo := &PaymentRepository{conn: conn}

	_, _ = repo.List(context.Background(), payment.ListFilter{SortBy: "amount; DROP TABLE payment_records"})
	assert.True(t, strings.HasSuffix(conn.last(), "ORDER BY created_at DESC LIMIT $1 OFFSET $2"), conn.last())
	assert.Equal(t, []any{20, 0}, conn.args[0])
}

func newRecord(t *testing.T) *payment.Record {
	t.Helper()
	rec, err := payment.NewRecord("O1", decimal.RequireFromString("250.00"), "PHP", payment.MethodGCash, "T1", payment.StatusPending)
	require.NoError(t, err)
	return rec
}
