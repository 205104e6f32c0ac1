package broker

import (
	"context"
	"fmt"
)

// Gateway is the contract the execution core needs from a broker
// integration. Implementations translate these calls to a concrete
// trading API; the core never speaks a broker wire format directly.
// All responses are treated as untrusted and re-validated by callers.
type Gateway interface {
	// PlaceOrder submits an order and returns the broker order ID
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)

	// CancelOrder cancels an open order
	CancelOrder(ctx context.Context, orderID string) (bool, error)

	// GetOrderStatus fetches the current state of an order
	GetOrderStatus(ctx context.Context, orderID string) (OrderState, error)

	// GetPositions fetches all open positions (authoritative state)
	GetPositions(ctx context.Context) ([]Position, error)

	// GetFunds fetches the current margin snapshot
	GetFunds(ctx context.Context) (Funds, error)
}

// ValidateOrderState sanity-checks a gateway response before the core
// acts on it
func ValidateOrderState(state OrderState) error {
	if state.OrderID == "" {
		return fmt.Errorf("broker returned order state without an order ID")
	}
	if _, err := ParseOrderStatus(string(state.Status)); err != nil {
		return err
	}
	if state.FilledQuantity < 0 {
		return fmt.Errorf("broker returned negative filled quantity %d for order %s", state.FilledQuantity, state.OrderID)
	}
	if state.Status == StatusFilled && state.FilledQuantity == 0 {
		return fmt.Errorf("broker reported order %s filled with zero quantity", state.OrderID)
	}
	return nil
}

// ValidateFunds sanity-checks a funds snapshot
func ValidateFunds(funds Funds) error {
	if funds.TotalEquity < 0 {
		return fmt.Errorf("broker returned negative total equity %.2f", funds.TotalEquity)
	}
	if funds.AvailableMargin < 0 {
		return fmt.Errorf("broker returned negative available margin %.2f", funds.AvailableMargin)
	}
	return nil
}
