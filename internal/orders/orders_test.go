package orders

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/opentrade/order-service/internal/database"
	"github.com/opentrade/order-service/internal/types"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedEvent
	err       error
}

type publishedEvent struct {
	topic    string
	key      string
	envelope types.EventEnvelope
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, envelope types.EventEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedEvent{topic: topic, key: key, envelope: envelope})
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	return db
}

func buyLimitRequest(clientOrderID string) *types.CreateOrderRequest {
	price := decimal.NewFromInt(100)
	req := &types.CreateOrderRequest{
		UserID:           7,
		InstrumentID:     "AAPL-NASDAQ",
		InstrumentSymbol: "AAPL",
		Side:             types.SideBuy,
		OrderType:        types.TypeLimit,
		Quantity:         decimal.NewFromInt(10),
		Price:            &price,
		TimeInForce:      types.TifGtc,
	}
	if clientOrderID != "" {
		req.ClientOrderID = &clientOrderID
	}
	return req
}

func TestCreateOrderDefaults(t *testing.T) {
	svc := NewService(openTestDB(t), &fakePublisher{})

	req := buyLimitRequest("")
	req.TimeInForce = ""
	order, err := svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, types.StatusNew, order.Status)
	require.Equal(t, types.TifIoc, order.TimeInForce)
	require.NotNil(t, order.NotionalValue)
	require.True(t, order.NotionalValue.Equal(decimal.NewFromInt(1000)))
	require.True(t, order.FilledQuantity.IsZero())
}

func TestCreateOrderDuplicateClientOrderID(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(openTestDB(t), pub)

	first, err := svc.CreateOrder(context.Background(), buyLimitRequest("abc"))
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	_, err = svc.CreateOrder(context.Background(), buyLimitRequest("abc"))
	require.ErrorIs(t, err, ErrDuplicateOrder)

	list, err := svc.ListOrders(7, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestConfirmOrderPublishesAndTransitions(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(openTestDB(t), pub)

	order, err := svc.CreateOrder(context.Background(), buyLimitRequest(""))
	require.NoError(t, err)

	confirmed, err := svc.ConfirmOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusPendingWalletCheck, confirmed.Status)
	require.True(t, confirmed.Confirmed)

	require.Len(t, pub.published, 1)
	require.Equal(t, types.TopicWalletCheck, pub.published[0].topic)
	require.Equal(t, OrderKey(order.ID), pub.published[0].key)

	var placed types.OrderPlacedEvent
	require.NoError(t, pub.published[0].envelope.DecodePayload(&placed))
	require.Equal(t, OrderKey(order.ID), placed.OrderID)
	require.Equal(t, "AAPL", placed.Symbol)
}

func TestConfirmOrderIsIdempotent(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewService(openTestDB(t), pub)

	order, err := svc.CreateOrder(context.Background(), buyLimitRequest(""))
	require.NoError(t, err)

	_, err = svc.ConfirmOrder(context.Background(), order.ID)
	require.NoError(t, err)
	again, err := svc.ConfirmOrder(context.Background(), order.ID)
	require.NoError(t, err)

	require.Equal(t, types.StatusPendingWalletCheck, again.Status)
	require.Len(t, pub.published, 1, "second confirm must not publish again")
}

func TestSaveOrderDetectsConcurrentWriter(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, &fakePublisher{})

	order, err := svc.CreateOrder(context.Background(), buyLimitRequest(""))
	require.NoError(t, err)

	store := NewDatabase(db)
	first, err := store.GetOrder(order.ID)
	require.NoError(t, err)
	second, err := store.GetOrder(order.ID)
	require.NoError(t, err)

	first.Status = types.StatusPendingWalletCheck
	first.UpdatedAt = time.Now()
	require.NoError(t, store.SaveOrder(first))

	second.Status = types.StatusRejected
	second.UpdatedAt = time.Now()
	require.ErrorIs(t, store.SaveOrder(second), ErrStaleOrder)
}

func TestSaveOrderAppendsExecutions(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(db, &fakePublisher{})

	order, err := svc.CreateOrder(context.Background(), buyLimitRequest(""))
	require.NoError(t, err)

	store := NewDatabase(db)
	loaded, err := store.GetOrder(order.ID)
	require.NoError(t, err)

	loaded.Items = append(loaded.Items, types.Execution{
		InstrumentID:  loaded.InstrumentID,
		Quantity:      decimal.NewFromInt(4),
		ExecutedPrice: decimal.NewFromInt(100),
		Fees:          decimal.Zero,
		ExecutionID:   "EX-1",
		ExecutedAt:    time.Now(),
	})
	loaded.FilledQuantity = decimal.NewFromInt(4)
	require.NoError(t, store.SaveOrder(loaded))

	reloaded, err := store.GetOrder(order.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Items, 1)
	require.Equal(t, "EX-1", reloaded.Items[0].ExecutionID)
	require.True(t, reloaded.Items[0].Notional.Equal(decimal.NewFromInt(400)), "notional derived from qty and price")
}

func TestListOrdersNewestFirst(t *testing.T) {
	db := openTestDB(t)
	store := NewDatabase(db)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		order := &types.Order{
			UserID:           7,
			InstrumentID:     "AAPL-NASDAQ",
			InstrumentSymbol: "AAPL",
			Side:             types.SideBuy,
			Type:             types.TypeMarket,
			Status:           types.StatusNew,
			TimeInForce:      types.TifDay,
			TotalQuantity:    decimal.NewFromInt(1),
			PlacedAt:         base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:        time.Now(),
		}
		require.NoError(t, store.CreateOrder(order))
	}

	list, err := store.ListOrdersByUser(7)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.True(t, list[0].PlacedAt.After(list[1].PlacedAt))
	require.True(t, list[1].PlacedAt.After(list[2].PlacedAt))

	chrono, err := store.ListOrdersByUserChronological(7)
	require.NoError(t, err)
	require.True(t, chrono[0].PlacedAt.Before(chrono[1].PlacedAt))
}
