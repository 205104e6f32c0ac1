package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// PaperGateway is an in-memory gateway used for dry runs and tests.
// Orders fill immediately at the requested price, positions and funds
// are tracked locally, and failures can be scripted per call to
// exercise the unwind paths.
type PaperGateway struct {
	mu        sync.Mutex
	positions map[string]*Position
	funds     Funds
	orders    map[string]*OrderState

	placedCount int

	// FailOnOrder makes the Nth PlaceOrder call (1-based) return
	// this error. Zero disables scripted failure.
	FailOnOrder int
	FailErr     error

	// FailAfter extends FailOnOrder: once the Nth call fails, every
	// later PlaceOrder fails too, simulating a broker outage
	FailAfter bool

	// FailCancels makes CancelOrder report failure, simulating an
	// unwind that cannot complete
	FailCancels bool
}

// NewPaperGateway creates a paper gateway with the given starting funds
func NewPaperGateway(availableMargin, totalEquity float64) *PaperGateway {
	return &PaperGateway{
		positions: make(map[string]*Position),
		orders:    make(map[string]*OrderState),
		funds: Funds{
			AvailableMargin: availableMargin,
			TotalEquity:     totalEquity,
			CashBalance:     availableMargin,
		},
	}
}

// PlaceOrder fills the order immediately and updates paper positions
func (g *PaperGateway) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.placedCount++
	if g.FailOnOrder > 0 && (g.placedCount == g.FailOnOrder || (g.FailAfter && g.placedCount > g.FailOnOrder)) {
		if g.FailErr != nil {
			return "", g.FailErr
		}
		return "", fmt.Errorf("order rejected by paper broker")
	}

	if req.Quantity <= 0 {
		return "", fmt.Errorf("invalid order quantity %d", req.Quantity)
	}
	if req.Price <= 0 {
		return "", fmt.Errorf("invalid order price %.2f", req.Price)
	}

	orderID := uuid.NewString()
	g.orders[orderID] = &OrderState{
		OrderID:        orderID,
		Status:         StatusFilled,
		FilledQuantity: req.Quantity,
		AveragePrice:   req.Price,
	}

	g.applyFill(req)

	return orderID, nil
}

// applyFill mutates paper positions and margin for a filled order
func (g *PaperGateway) applyFill(req OrderRequest) {
	pos, exists := g.positions[req.Symbol]
	if !exists {
		pos = &Position{
			Symbol:      req.Symbol,
			ProductType: string(req.ProductType),
			Exchange:    "NSE",
		}
		g.positions[req.Symbol] = pos
	}

	signedQty := req.Side.SignedQuantity(req.Quantity)
	newQty := pos.Quantity + signedQty

	if pos.Quantity == 0 || (pos.Quantity > 0) == (signedQty > 0) {
		// Opening or adding: blend the average price
		totalCost := pos.AveragePrice*abs(float64(pos.Quantity)) + req.Price*float64(req.Quantity)
		pos.AveragePrice = totalCost / abs(float64(newQty))
	} else if newQty == 0 {
		pos.AveragePrice = 0
	}
	pos.Quantity = newQty

	notional := float64(req.Quantity) * req.Price
	if signedQty > 0 {
		g.funds.AvailableMargin -= notional
		g.funds.UsedMargin += notional
	} else {
		g.funds.AvailableMargin += notional
		g.funds.UsedMargin -= notional
		if g.funds.UsedMargin < 0 {
			g.funds.UsedMargin = 0
		}
	}

	if pos.Quantity == 0 {
		delete(g.positions, req.Symbol)
	}
}

// CancelOrder cancels an order; paper orders fill instantly, so this
// only succeeds for orders that never filled
func (g *PaperGateway) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.FailCancels {
		return false, fmt.Errorf("paper broker refused cancel for %s", orderID)
	}

	order, exists := g.orders[orderID]
	if !exists {
		return false, fmt.Errorf("unknown order %s", orderID)
	}
	if order.Status.IsTerminal() {
		return false, nil
	}

	order.Status = StatusCancelled
	return true, nil
}

// GetOrderStatus returns the paper order state
func (g *PaperGateway) GetOrderStatus(ctx context.Context, orderID string) (OrderState, error) {
	if err := ctx.Err(); err != nil {
		return OrderState{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	order, exists := g.orders[orderID]
	if !exists {
		return OrderState{}, fmt.Errorf("unknown order %s", orderID)
	}
	return *order, nil
}

// GetPositions returns a copy of all open paper positions
func (g *PaperGateway) GetPositions(ctx context.Context) ([]Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	positions := make([]Position, 0, len(g.positions))
	for _, pos := range g.positions {
		positions = append(positions, *pos)
	}
	return positions, nil
}

// GetFunds returns the current paper margin snapshot
func (g *PaperGateway) GetFunds(ctx context.Context) (Funds, error) {
	if err := ctx.Err(); err != nil {
		return Funds{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	return g.funds, nil
}

// PlacedOrders returns how many orders reached the paper broker
func (g *PaperGateway) PlacedOrders() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.placedCount
}

// NetQuantity returns the signed paper position for a symbol
func (g *PaperGateway) NetQuantity(symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if pos, exists := g.positions[symbol]; exists {
		return pos.Quantity
	}
	return 0
}
