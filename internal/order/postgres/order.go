package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal"
	"github.com/frahmantamala/meddevice-orders/internal/core/database"
	orderDatamodel "github.com/frahmantamala/meddevice-orders/internal/core/datamodel/order"
	"github.com/frahmantamala/meddevice-orders/internal/order"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// maxNumberAttempts bounds retries when two writers pick the same order
// number.
const maxNumberAttempts = 5

// OrderRepository implements order.Repository using GORM
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) order.Repository {
	return &OrderRepository{db: db}
}

// Create assigns the next ORD-<year>-NNN number and inserts o. Orders are
// never deleted, so the per-year count is the last sequence used. The insert
// runs in a nested transaction so a duplicate number only rolls back to the
// savepoint.
func (r *OrderRepository) Create(ctx context.Context, o *orderDatamodel.Order, year int) error {
	conn := database.Conn(ctx, r.db)
	prefix := fmt.Sprintf("ORD-%d-", year)

	var lastErr error
	for range maxNumberAttempts {
		var count int64
		if err := conn.Model(&orderDatamodel.Order{}).
			Where("order_number LIKE ?", prefix+"%").
			Count(&count).Error; err != nil {
			return err
		}

		o.ID = 0
		o.OrderNumber = fmt.Sprintf("%s%03d", prefix, count+1)
		lastErr = conn.Transaction(func(tx *gorm.DB) error {
			return tx.Create(o).Error
		})
		if lastErr == nil {
			return nil
		}
		if !isUniqueViolation(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("allocate order number: %w", lastErr)
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (*orderDatamodel.Order, error) {
	var o orderDatamodel.Order
	err := database.Conn(ctx, r.db).Where("order_number = ?", orderNumber).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) List(ctx context.Context, filter order.ListOrdersFilter) ([]*orderDatamodel.Order, error) {
	query := database.Conn(ctx, r.db)
	if filter.Phase != "" {
		query = query.Where("current_phase = ?", filter.Phase)
	}

	var orders []*orderDatamodel.Order
	err := query.Order("created_at DESC").
		Order("id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&orders).Error
	return orders, err
}

// UpdatePhase is the optimistic write: it only matches the row while its
// version is still expectedVersion.
func (r *OrderRepository) UpdatePhase(ctx context.Context, id, expectedVersion int64, phase order.Phase, cancelledAt *time.Time) (bool, error) {
	updates := map[string]interface{}{
		"current_phase": string(phase),
		"version":       gorm.Expr("version + 1"),
		"updated_at":    time.Now().UTC(),
	}
	if cancelledAt != nil {
		updates["cancelled_at"] = *cancelledAt
	}

	result := database.Conn(ctx, r.db).
		Model(&orderDatamodel.Order{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *OrderRepository) AppendTransition(ctx context.Context, record *orderDatamodel.PhaseTransitionRecord) error {
	return database.Conn(ctx, r.db).Create(record).Error
}

func (r *OrderRepository) ListTransitions(ctx context.Context, orderID int64) ([]*orderDatamodel.PhaseTransitionRecord, error) {
	var records []*orderDatamodel.PhaseTransitionRecord
	err := database.Conn(ctx, r.db).
		Where("order_id = ?", orderID).
		Order("timestamp ASC").
		Order("id ASC").
		Find(&records).Error
	return records, err
}

// isUniqueViolation recognises duplicate keys from postgres and from the
// sqlite driver used in tests.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
