package orders

import (
	"context"
	"strconv"
	"time"

	"github.com/opentrade/order-service/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Publisher sends an envelope to a topic, keyed so per-order ordering holds.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, envelope types.EventEnvelope) error
}

// Service handles order intake and the confirm step that starts the pipeline.
type Service struct {
	db        *Database
	publisher Publisher
}

func NewService(gormDB *gorm.DB, publisher Publisher) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		publisher: publisher,
	}
}

// DB exposes the order store for collaborators wired off the same service.
func (s *Service) DB() *Database {
	return s.db
}

// CreateOrder persists a NEW order. A duplicate (user, client order id) pair
// is rejected with ErrDuplicateOrder; nothing is published until the user
// confirms the order.
func (s *Service) CreateOrder(ctx context.Context, req *types.CreateOrderRequest) (*types.Order, error) {
	logger := log.With().
		Uint64("user_id", req.UserID).
		Str("symbol", req.InstrumentSymbol).
		Str("service", "orders").
		Logger()

	if req.ClientOrderID != nil {
		if _, err := s.db.GetOrderByClientOrderID(req.UserID, *req.ClientOrderID); err == nil {
			logger.Warn().Str("client_order_id", *req.ClientOrderID).Msg("duplicate client order id")
			return nil, ErrDuplicateOrder
		} else if err != ErrOrderNotFound {
			return nil, err
		}
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = types.TifIoc
	}

	now := time.Now().UTC()
	order := &types.Order{
		UserID:           req.UserID,
		InstrumentID:     req.InstrumentID,
		InstrumentSymbol: req.InstrumentSymbol,
		Side:             req.Side,
		Type:             req.OrderType,
		Status:           types.StatusNew,
		TimeInForce:      tif,
		TotalQuantity:    req.Quantity,
		FilledQuantity:   decimal.Zero,
		LimitPrice:       req.Price,
		StopPrice:        req.StopPrice,
		TrailingOffset:   req.TrailingOffset,
		TrailingType:     req.TrailingType,
		DisplayQuantity:  req.DisplayQuantity,
		ClientOrderID:    req.ClientOrderID,
		PlacedAt:         now,
		UpdatedAt:        now,

		OcoGroupID:           req.OcoGroupID,
		PrimaryOrderType:     req.PrimaryOrderType,
		PrimaryPrice:         req.PrimaryPrice,
		PrimaryStopPrice:     req.PrimaryStopPrice,
		SecondaryOrderType:   req.SecondaryOrderType,
		SecondaryPrice:       req.SecondaryPrice,
		SecondaryStopPrice:   req.SecondaryStopPrice,
		SecondaryTrailAmount: req.SecondaryTrailAmount,
	}
	if req.Price != nil {
		notional := req.Price.Mul(req.Quantity)
		order.NotionalValue = &notional
	}

	if err := s.db.CreateOrder(order); err != nil {
		return nil, err
	}

	logger.Info().Uint("order_id", order.ID).Msg("order created")
	return order, nil
}

// ConfirmOrder moves a NEW order to PENDING_WALLET_CHECK and publishes the
// placed event that starts the pipeline. Confirming an order that already
// left NEW is a no-op returning its current state.
func (s *Service) ConfirmOrder(ctx context.Context, id uint) (*types.Order, error) {
	var confirmed *types.Order
	err := s.db.Transaction(func(tx *Database) error {
		order, err := tx.GetOrder(id)
		if err != nil {
			return err
		}

		if order.Status != types.StatusNew {
			log.Warn().
				Uint("order_id", id).
				Str("status", string(order.Status)).
				Msg("confirm on non-NEW order, skipping")
			confirmed = order
			return nil
		}

		order.Status = types.StatusPendingWalletCheck
		order.Confirmed = true
		order.UpdatedAt = time.Now().UTC()
		if err := tx.SaveOrder(order); err != nil {
			return err
		}

		envelope, err := types.NewEnvelope("OrderConfirmed", PlacedEvent(order))
		if err != nil {
			return err
		}
		if err := s.publisher.Publish(ctx, types.TopicWalletCheck, OrderKey(order.ID), envelope); err != nil {
			return err
		}

		confirmed = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Uint("order_id", id).Str("status", string(confirmed.Status)).Msg("order confirmed")
	return confirmed, nil
}

func (s *Service) GetOrder(id uint) (*types.Order, error) {
	return s.db.GetOrder(id)
}

func (s *Service) ListOrders(userID uint64, instrumentID string) ([]types.Order, error) {
	if instrumentID != "" {
		return s.db.ListOrdersByUserAndInstrument(userID, instrumentID)
	}
	return s.db.ListOrdersByUser(userID)
}

// OrderKey is the bus partition key for an order: its stringified id.
func OrderKey(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// PlacedEvent flattens an order into the wallet-check topic payload.
func PlacedEvent(order *types.Order) types.OrderPlacedEvent {
	return types.OrderPlacedEvent{
		OrderID:         OrderKey(order.ID),
		UserID:          strconv.FormatUint(order.UserID, 10),
		Symbol:          order.InstrumentSymbol,
		Side:            string(order.Side),
		Type:            string(order.Type),
		Quantity:        order.TotalQuantity,
		Price:           order.LimitPrice,
		StopPrice:       order.StopPrice,
		TrailingOffset:  order.TrailingOffset,
		TrailingType:    order.TrailingType,
		DisplayQuantity: order.DisplayQuantity,
		TimeInForce:     string(order.TimeInForce),
		Status:          string(order.Status),
	}
}
