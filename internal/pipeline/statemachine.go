package pipeline

import "github.com/opentrade/order-service/internal/types"

// legalTransitions is the order status machine. Anything not listed here is
// treated as an idempotent replay: the handler acknowledges without writing.
var legalTransitions = map[types.OrderStatus][]types.OrderStatus{
	types.StatusNew: {
		types.StatusPendingWalletCheck,
		types.StatusRejected,
	},
	types.StatusPendingValidation: {
		types.StatusPendingWalletCheck,
		types.StatusRejected,
	},
	types.StatusPendingWalletCheck: {
		types.StatusPendingCompliance,
		types.StatusRejected,
		types.StatusCancelled,
	},
	types.StatusPendingCompliance: {
		types.StatusApproved,
		types.StatusRejected,
		types.StatusCancelled,
	},
	types.StatusApproved: {
		types.StatusPending,
		types.StatusCancelled,
	},
	types.StatusPending: {
		types.StatusPartiallyFilled,
		types.StatusFilled,
		types.StatusCancelled,
	},
	types.StatusPartiallyFilled: {
		types.StatusPartiallyFilled,
		types.StatusFilled,
		types.StatusCancelled,
	},
}

// CanTransition reports whether moving an order from one status to another
// is legal. Terminal states allow nothing.
func CanTransition(from, to types.OrderStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
