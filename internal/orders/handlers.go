package orders

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/opentrade/order-service/internal/types"
	"github.com/opentrade/order-service/pkg/response"
)

// GinHandlers contains HTTP handlers for the order intake endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateOrderHandler handles POST /api/orders.
// Returns 409 when the (user, client order id) pair already exists.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if req.Side != types.SideBuy && req.Side != types.SideSell {
			response.BadRequest(c, "side must be BUY or SELL")
			return
		}
		if !req.Quantity.IsPositive() {
			response.BadRequest(c, "quantity must be positive")
			return
		}

		order, err := h.service.CreateOrder(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, ErrDuplicateOrder) {
				response.Conflict(c, "Order with this client_order_id already exists")
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, order)
	}
}

// ConfirmOrderHandler handles PUT /api/orders/:order_id/review-confirm,
// starting the wallet-check pipeline for a NEW order.
func (h *GinHandlers) ConfirmOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseOrderID(c)
		if !ok {
			return
		}

		order, err := h.service.ConfirmOrder(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				response.NotFound(c, "Order not found")
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, order)
	}
}

// GetOrderHandler handles GET /api/orders/:order_id.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseOrderID(c)
		if !ok {
			return
		}

		order, err := h.service.GetOrder(id)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				response.NotFound(c, "Order not found")
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, order)
	}
}

// ListOrdersHandler handles GET /api/users/:user_id/orders?instrumentId=…,
// newest first.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid user id")
			return
		}

		list, err := h.service.ListOrders(userID, c.Query("instrumentId"))
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, list)
	}
}

func parseOrderID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("order_id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid order id")
		return 0, false
	}
	return uint(id), true
}
