package postgres

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/cassiomorais/paygate/internal/domain/order"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderRepository reads order totals and flips the payment status. The
// orders table belongs to the order-processing system.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	o := &order.Order{}
	var amount, status string
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, total_amount::text, currency, payment_status FROM orders WHERE id = $1`, id,
	).Scan(&o.ID, &amount, &o.Currency, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if o.TotalAmount, err = numericToDecimal(amount); err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	o.PaymentStatus = order.PaymentStatus(status)
	return o, nil
}

func (r *OrderRepository) SetPaymentStatus(ctx context.Context, id string, status order.PaymentStatus) error {
	tag, err := r.db(ctx).Exec(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("set order payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domainErrors.ErrOrderNotFound
	}
	return nil
}
