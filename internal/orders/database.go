package orders

import (
	"errors"

	"github.com/opentrade/order-service/internal/types"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateOrder means the (user, client order id) pair already exists.
	ErrDuplicateOrder = errors.New("duplicate client order id for user")
	// ErrOrderNotFound means no order row exists for the requested id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrStaleOrder means the order row changed under an optimistic update.
	ErrStaleOrder = errors.New("order modified concurrently")
)

// Database is the order store. An Order and its Executions are only written
// together, inside a single transaction.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Transaction runs fn against a transaction-scoped store, so reads that feed
// a pipeline transition happen in the same transaction as the write.
func (d *Database) Transaction(fn func(tx *Database) error) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Database{db: tx})
	})
}

func (d *Database) CreateOrder(order *types.Order) error {
	if err := d.db.Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateOrder
		}
		return err
	}
	return nil
}

func (d *Database) GetOrder(id uint) (*types.Order, error) {
	var order types.Order
	if err := d.db.Preload("Items").First(&order, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByClientOrderID(userID uint64, clientOrderID string) (*types.Order, error) {
	var order types.Order
	err := d.db.Preload("Items").
		Where("user_id = ? AND client_order_id = ?", userID, clientOrderID).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) ListOrdersByUser(userID uint64) ([]types.Order, error) {
	var list []types.Order
	err := d.db.Preload("Items").
		Where("user_id = ?", userID).
		Order("placed_at DESC").
		Find(&list).Error
	return list, err
}

// ListOrdersByUserChronological returns the user's orders oldest first, the
// iteration order the FIFO lot matcher depends on.
func (d *Database) ListOrdersByUserChronological(userID uint64) ([]types.Order, error) {
	var list []types.Order
	err := d.db.Preload("Items").
		Where("user_id = ?", userID).
		Order("placed_at ASC").
		Find(&list).Error
	return list, err
}

func (d *Database) ListOrdersByUserAndInstrument(userID uint64, instrumentID string) ([]types.Order, error) {
	var list []types.Order
	err := d.db.Preload("Items").
		Where("user_id = ? AND instrument_id = ?", userID, instrumentID).
		Order("placed_at DESC").
		Find(&list).Error
	return list, err
}

// SaveOrder upserts the order row guarded by its version column and appends
// any new executions, atomically. A concurrent writer surfaces as
// ErrStaleOrder, which the bus layer treats as retryable.
func (d *Database) SaveOrder(order *types.Order) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		previous := order.Version
		order.Version = previous + 1

		res := tx.Model(&types.Order{}).
			Where("id = ? AND version = ?", order.ID, previous).
			Select("*").Omit("Items", "CreatedAt").
			Updates(order)
		if res.Error != nil {
			order.Version = previous
			return res.Error
		}
		if res.RowsAffected == 0 {
			order.Version = previous
			return ErrStaleOrder
		}

		for i := range order.Items {
			if order.Items[i].ID != 0 {
				continue
			}
			order.Items[i].OrderID = order.ID
			if err := tx.Create(&order.Items[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
