// Package position derives instrument holdings from the execution history.
// A position is the net of buy and sell fills, not of order quantities, so
// partially filled orders only count what actually executed.
package position

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/opentrade/order-service/internal/orders"
	"github.com/opentrade/order-service/internal/types"
)

type Service struct {
	db *orders.Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{db: orders.NewDatabase(gormDB)}
}

// GetPosition returns the user's net executed quantity in one instrument.
func (s *Service) GetPosition(userID uint64, instrumentID string) (decimal.Decimal, error) {
	list, err := s.db.ListOrdersByUserAndInstrument(userID, instrumentID)
	if err != nil {
		return decimal.Zero, err
	}
	position := decimal.Zero
	for i := range list {
		position = position.Add(netExecuted(&list[i]))
	}
	return position, nil
}

// GetAllPositions returns every instrument the user holds a non-zero
// position in, keyed by instrument id.
func (s *Service) GetAllPositions(userID uint64) (map[string]decimal.Decimal, error) {
	list, err := s.db.ListOrdersByUser(userID)
	if err != nil {
		return nil, err
	}
	positions := make(map[string]decimal.Decimal)
	for i := range list {
		net := netExecuted(&list[i])
		if net.IsZero() {
			continue
		}
		positions[list[i].InstrumentID] = positions[list[i].InstrumentID].Add(net)
	}
	for id, qty := range positions {
		if qty.IsZero() {
			delete(positions, id)
		}
	}
	return positions, nil
}

// HasSufficientPosition reports whether the user can sell quantity of the
// instrument out of executed holdings.
func (s *Service) HasSufficientPosition(userID uint64, instrumentID string, quantity decimal.Decimal) (bool, error) {
	position, err := s.GetPosition(userID, instrumentID)
	if err != nil {
		return false, err
	}
	return position.GreaterThanOrEqual(quantity), nil
}

func netExecuted(order *types.Order) decimal.Decimal {
	net := decimal.Zero
	for _, item := range order.Items {
		if order.Side == types.SideBuy {
			net = net.Add(item.Quantity)
		} else {
			net = net.Sub(item.Quantity)
		}
	}
	return net
}
