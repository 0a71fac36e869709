package position

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/opentrade/order-service/internal/database"
	"github.com/opentrade/order-service/internal/orders"
	"github.com/opentrade/order-service/internal/types"
)

func newTestService(t *testing.T) (*Service, *orders.Database) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	return NewService(db), orders.NewDatabase(db)
}

func insertOrderWithFill(t *testing.T, store *orders.Database, instrumentID string, side types.OrderSide, executed float64) {
	t.Helper()
	quantity := decimal.NewFromFloat(executed)
	order := &types.Order{
		UserID:           7,
		InstrumentID:     instrumentID,
		InstrumentSymbol: instrumentID,
		Side:             side,
		Type:             types.TypeMarket,
		Status:           types.StatusFilled,
		TimeInForce:      types.TifDay,
		TotalQuantity:    quantity,
		FilledQuantity:   quantity,
		PlacedAt:         time.Now(),
		UpdatedAt:        time.Now(),
		Items: []types.Execution{{
			InstrumentID:  instrumentID,
			Quantity:      quantity,
			ExecutedPrice: decimal.NewFromInt(100),
			ExecutedAt:    time.Now(),
		}},
	}
	require.NoError(t, store.CreateOrder(order))
}

func TestGetPositionNetsBuysAndSells(t *testing.T) {
	svc, store := newTestService(t)

	insertOrderWithFill(t, store, "AAPL", types.SideBuy, 10)
	insertOrderWithFill(t, store, "AAPL", types.SideBuy, 5)
	insertOrderWithFill(t, store, "AAPL", types.SideSell, 3)

	position, err := svc.GetPosition(7, "AAPL")
	require.NoError(t, err)
	require.True(t, position.Equal(decimal.NewFromInt(12)))
}

func TestGetPositionCountsExecutedOnly(t *testing.T) {
	svc, store := newTestService(t)

	// Partially filled: ordered 10, executed 4.
	order := &types.Order{
		UserID:           7,
		InstrumentID:     "AAPL",
		InstrumentSymbol: "AAPL",
		Side:             types.SideBuy,
		Type:             types.TypeMarket,
		Status:           types.StatusPartiallyFilled,
		TimeInForce:      types.TifDay,
		TotalQuantity:    decimal.NewFromInt(10),
		FilledQuantity:   decimal.NewFromInt(4),
		PlacedAt:         time.Now(),
		UpdatedAt:        time.Now(),
		Items: []types.Execution{{
			InstrumentID:  "AAPL",
			Quantity:      decimal.NewFromInt(4),
			ExecutedPrice: decimal.NewFromInt(100),
			ExecutedAt:    time.Now(),
		}},
	}
	require.NoError(t, store.CreateOrder(order))

	position, err := svc.GetPosition(7, "AAPL")
	require.NoError(t, err)
	require.True(t, position.Equal(decimal.NewFromInt(4)), "only executed quantity counts")
}

func TestGetAllPositionsSkipsFlat(t *testing.T) {
	svc, store := newTestService(t)

	insertOrderWithFill(t, store, "AAPL", types.SideBuy, 10)
	insertOrderWithFill(t, store, "MSFT", types.SideBuy, 5)
	insertOrderWithFill(t, store, "MSFT", types.SideSell, 5)

	positions, err := svc.GetAllPositions(7)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.True(t, positions["AAPL"].Equal(decimal.NewFromInt(10)))
}

func TestHasSufficientPosition(t *testing.T) {
	svc, store := newTestService(t)
	insertOrderWithFill(t, store, "AAPL", types.SideBuy, 10)

	ok, err := svc.HasSufficientPosition(7, "AAPL", decimal.NewFromInt(10))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.HasSufficientPosition(7, "AAPL", decimal.NewFromInt(11))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.HasSufficientPosition(7, "TSLA", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.False(t, ok)
}
