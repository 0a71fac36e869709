package execution

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/opentrade/order-service/internal/database"
	"github.com/opentrade/order-service/internal/orders"
	"github.com/opentrade/order-service/internal/pipeline"
	"github.com/opentrade/order-service/internal/types"
)

type published struct {
	topic    string
	key      string
	envelope types.EventEnvelope
}

type fakePublisher struct {
	events []published
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, envelope types.EventEnvelope) error {
	f.events = append(f.events, published{topic: topic, key: key, envelope: envelope})
	return nil
}

type fakePositions struct{}

func (fakePositions) HasSufficientPosition(_ uint64, _ string, _ decimal.Decimal) (bool, error) {
	return true, nil
}

type fakeNotifier struct {
	messages   []string
	broadcasts []string
}

func (f *fakeNotifier) SendOrderUpdate(_ context.Context, _ *types.Order, message string, _ *types.Execution) {
	f.messages = append(f.messages, message)
}

func (f *fakeNotifier) Broadcast(_ context.Context, _ *types.Order, message string) {
	f.broadcasts = append(f.broadcasts, message)
}

type fakeWallet struct {
	released []uint
}

func (f *fakeWallet) ReserveFunds(_ context.Context, _ uint64, _ uint, _ decimal.Decimal) error {
	return nil
}

func (f *fakeWallet) ReleaseFunds(_ context.Context, _ uint64, orderID uint) error {
	f.released = append(f.released, orderID)
	return nil
}

type testRig struct {
	store      *orders.Database
	reconciler *Reconciler
	notifier   *fakeNotifier
	wallet     *fakeWallet
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)

	rig := &testRig{
		store:    orders.NewDatabase(db),
		notifier: &fakeNotifier{},
		wallet:   &fakeWallet{},
	}
	rig.reconciler = NewReconciler(db, rig.notifier, rig.wallet)
	return rig
}

func (r *testRig) insertPendingOrder(t *testing.T) *types.Order {
	t.Helper()
	price := decimal.NewFromInt(100)
	order := &types.Order{
		UserID:           7,
		InstrumentID:     "AAPL-NASDAQ",
		InstrumentSymbol: "AAPL",
		Side:             types.SideBuy,
		Type:             types.TypeLimit,
		Status:           types.StatusPending,
		TimeInForce:      types.TifGtc,
		TotalQuantity:    decimal.NewFromInt(10),
		FilledQuantity:   decimal.Zero,
		LimitPrice:       &price,
		PlacedAt:         time.Now(),
		UpdatedAt:        time.Now(),
	}
	require.NoError(t, r.store.CreateOrder(order))
	return order
}

func (r *testRig) reload(t *testing.T, id uint) *types.Order {
	t.Helper()
	order, err := r.store.GetOrder(id)
	require.NoError(t, err)
	return order
}

func fillEnvelope(t *testing.T, orderID uint, counterID string, qty, price int64, status types.OrderStatus) types.EventEnvelope {
	t.Helper()
	quantity := decimal.NewFromInt(qty)
	execPrice := decimal.NewFromInt(price)
	envelope, err := types.NewEnvelope("OrderExecuted", types.OrderExecutedEvent{
		OrderID:        orders.OrderKey(orderID),
		CounterOrderID: counterID,
		Quantity:       quantity,
		Price:          execPrice,
		NotionalValue:  quantity.Mul(execPrice),
		Status:         string(status),
		ExecutedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	return envelope
}

func cancelEnvelope(t *testing.T, orderID uint, reason string) types.EventEnvelope {
	t.Helper()
	envelope, err := types.NewEnvelope("OrderCancelled", types.OrderCancelledEvent{
		OrderID:     orders.OrderKey(orderID),
		Reason:      reason,
		CancelledAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	return envelope
}

func TestTwoFillsProduceWeightedAverage(t *testing.T) {
	rig := newTestRig(t)
	order := rig.insertPendingOrder(t)
	key := orders.OrderKey(order.ID)
	handler := rig.reconciler.HandleExecution()

	require.NoError(t, handler(context.Background(), key, fillEnvelope(t, order.ID, "EX-1", 4, 100, types.StatusPartiallyFilled)))

	mid := rig.reload(t, order.ID)
	require.Equal(t, types.StatusPartiallyFilled, mid.Status)
	require.True(t, mid.FilledQuantity.Equal(decimal.NewFromInt(4)))
	require.True(t, mid.AvgFillPrice.Equal(decimal.NewFromInt(100)))

	require.NoError(t, handler(context.Background(), key, fillEnvelope(t, order.ID, "EX-2", 6, 102, types.StatusFilled)))

	final := rig.reload(t, order.ID)
	require.Equal(t, types.StatusFilled, final.Status)
	require.True(t, final.FilledQuantity.Equal(decimal.NewFromInt(10)))
	require.True(t, final.AvgFillPrice.Equal(decimal.RequireFromString("101.2")), "avg = (4*100+6*102)/10, got %s", final.AvgFillPrice)
	require.Len(t, final.Items, 2)
	require.NotNil(t, final.ExecutedAt)
	require.Equal(t, []string{"Order filled"}, rig.notifier.broadcasts)

	// Sum of execution quantities equals the filled quantity.
	sum := decimal.Zero
	for _, item := range final.Items {
		sum = sum.Add(item.Quantity)
	}
	require.True(t, sum.Equal(final.FilledQuantity))
}

// Drives an order through every stage the pipeline chains together, feeding
// each published envelope into the next consumer the way the broker would.
func TestOrderLifecycleFromConfirmToFilled(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)

	publisher := &fakePublisher{}
	notifier := &fakeNotifier{}
	funds := &fakeWallet{}
	service := orders.NewService(db, publisher)
	controller := pipeline.NewController(db, publisher, notifier, funds, fakePositions{})
	reconciler := NewReconciler(db, notifier, funds)
	ctx := context.Background()

	price := decimal.NewFromInt(100)
	order, err := service.CreateOrder(ctx, &types.CreateOrderRequest{
		UserID:           7,
		InstrumentID:     "AAPL-NASDAQ",
		InstrumentSymbol: "AAPL",
		Side:             types.SideBuy,
		OrderType:        types.TypeLimit,
		TimeInForce:      types.TifGtc,
		Quantity:         decimal.NewFromInt(10),
		Price:            &price,
	})
	require.NoError(t, err)
	key := orders.OrderKey(order.ID)

	_, err = service.ConfirmOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, publisher.events, 1)
	require.Equal(t, types.TopicWalletCheck, publisher.events[0].topic)

	require.NoError(t, controller.HandleWalletCheck()(ctx, key, publisher.events[0].envelope))
	require.Len(t, publisher.events, 2)
	require.Equal(t, types.TopicCompliance, publisher.events[1].topic)

	decision, err := types.NewEnvelope("ComplianceApproved", types.ComplianceDecisionEvent{OrderID: key})
	require.NoError(t, err)
	require.NoError(t, controller.HandleComplianceApproved()(ctx, key, decision))
	require.Len(t, publisher.events, 3)
	require.Equal(t, types.TopicExchange, publisher.events[2].topic)

	atExchange, err := service.DB().GetOrder(order.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusPending, atExchange.Status, "order handed to the exchange awaits fills")

	handler := reconciler.HandleExecution()
	require.NoError(t, handler(ctx, key, fillEnvelope(t, order.ID, "EX-1", 4, 100, types.StatusPartiallyFilled)))
	lastFill := fillEnvelope(t, order.ID, "EX-2", 6, 102, types.StatusFilled)
	require.NoError(t, handler(ctx, key, lastFill))

	final, err := service.DB().GetOrder(order.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusFilled, final.Status)
	require.True(t, final.FilledQuantity.Equal(decimal.NewFromInt(10)))
	require.True(t, final.AvgFillPrice.Equal(decimal.RequireFromString("101.2")))
	require.Len(t, final.Items, 2)

	// A redelivered fill after the order settled must change nothing.
	require.NoError(t, handler(ctx, key, lastFill))
	replayed, err := service.DB().GetOrder(order.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusFilled, replayed.Status)
	require.Len(t, replayed.Items, 2)
	require.True(t, replayed.FilledQuantity.Equal(final.FilledQuantity))
}

func TestPartialFillThenCancel(t *testing.T) {
	rig := newTestRig(t)
	order := rig.insertPendingOrder(t)
	key := orders.OrderKey(order.ID)

	require.NoError(t, rig.reconciler.HandleExecution()(context.Background(), key, fillEnvelope(t, order.ID, "EX-1", 3, 100, types.StatusPartiallyFilled)))
	require.NoError(t, rig.reconciler.HandleCancellation()(context.Background(), key, cancelEnvelope(t, order.ID, "No liquidity")))

	final := rig.reload(t, order.ID)
	require.Equal(t, types.StatusCancelled, final.Status)
	require.True(t, final.FilledQuantity.Equal(decimal.NewFromInt(3)), "cancel keeps the partial fill")
	require.NotNil(t, final.CancelledAt)
	require.NotNil(t, final.ExecutedAt)
	require.Equal(t, []uint{order.ID}, rig.wallet.released)
}

func TestFillReplayAfterFullFillIsNoOp(t *testing.T) {
	rig := newTestRig(t)
	order := rig.insertPendingOrder(t)
	key := orders.OrderKey(order.ID)
	handler := rig.reconciler.HandleExecution()

	fill := fillEnvelope(t, order.ID, "EX-1", 10, 100, types.StatusFilled)
	require.NoError(t, handler(context.Background(), key, fill))

	before := rig.reload(t, order.ID)
	require.NoError(t, handler(context.Background(), key, fill))
	after := rig.reload(t, order.ID)

	require.Equal(t, types.StatusFilled, after.Status)
	require.Len(t, after.Items, 1, "replay must not add an execution row")
	require.True(t, before.FilledQuantity.Equal(after.FilledQuantity))
	require.True(t, before.AvgFillPrice.Equal(*after.AvgFillPrice))
}

func TestCancelAfterFillIsIgnored(t *testing.T) {
	rig := newTestRig(t)
	order := rig.insertPendingOrder(t)
	key := orders.OrderKey(order.ID)

	require.NoError(t, rig.reconciler.HandleExecution()(context.Background(), key, fillEnvelope(t, order.ID, "EX-1", 10, 100, types.StatusFilled)))
	require.NoError(t, rig.reconciler.HandleCancellation()(context.Background(), key, cancelEnvelope(t, order.ID, "too late")))

	final := rig.reload(t, order.ID)
	require.Equal(t, types.StatusFilled, final.Status)
	require.Empty(t, rig.wallet.released)
}

func TestCancelUnknownOrderIsAcknowledged(t *testing.T) {
	rig := newTestRig(t)
	err := rig.reconciler.HandleCancellation()(context.Background(), "424242", cancelEnvelope(t, 424242, "ghost"))
	require.NoError(t, err)
}
