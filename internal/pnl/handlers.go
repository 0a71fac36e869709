package pnl

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/opentrade/order-service/pkg/response"
)

// GinHandlers exposes the PnL engine over HTTP.
type GinHandlers struct {
	engine *Engine
}

func NewGinHandlers(engine *Engine) *GinHandlers {
	return &GinHandlers{engine: engine}
}

// CalculateHandler handles POST /api/pnl/calculate/:userId. The body is a
// map of symbol to current market price.
func (h *GinHandlers) CalculateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseUint(c.Param("userId"), 10, 64)
		if err != nil || userID == 0 {
			response.BadRequest(c, "Invalid user ID")
			return
		}

		marketPrices := make(map[string]decimal.Decimal)
		if err := c.ShouldBindJSON(&marketPrices); err != nil {
			response.BadRequest(c, "Invalid market price map: "+err.Error())
			return
		}

		result, err := h.engine.Calculate(userID, marketPrices)
		if err != nil {
			response.InternalError(c, "Failed to calculate PnL")
			return
		}
		response.Success(c, result)
	}
}
