package broker

import "fmt"

// OrderSide is the direction of an order
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Opposite returns the neutralizing side for an unwind
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SignedQuantity applies the side's sign to a quantity
func (s OrderSide) SignedQuantity(quantity int) int {
	if s == SideSell {
		return -quantity
	}
	return quantity
}

// ProductType distinguishes intraday from carry-forward positions
type ProductType string

const (
	ProductIntraday ProductType = "INTRADAY"
	ProductDelivery ProductType = "DELIVERY"
	ProductMargin   ProductType = "MARGIN"
)

// OrderStatus is the broker-reported state of an order
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusOpen      OrderStatus = "OPEN"
	StatusFilled    OrderStatus = "FILLED"
	StatusRejected  OrderStatus = "REJECTED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the order can no longer change state
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseOrderStatus validates a broker-reported status string. Gateway
// responses are untrusted; anything outside the known enum is an error.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch OrderStatus(raw) {
	case StatusPending, StatusOpen, StatusFilled, StatusRejected, StatusCancelled:
		return OrderStatus(raw), nil
	default:
		return "", fmt.Errorf("unknown order status %q from broker", raw)
	}
}

// OrderRequest carries everything the gateway needs to place one order
type OrderRequest struct {
	Symbol      string
	Side        OrderSide
	Quantity    int
	Price       float64
	ProductType ProductType
}

// OrderState is the broker's view of a submitted order
type OrderState struct {
	OrderID        string
	Status         OrderStatus
	FilledQuantity int
	AveragePrice   float64
}

// Position is a broker-reported holding. Broker state is the source
// of truth; locally cached copies are advisory only.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      int     `json:"quantity"` // signed: negative for short
	AveragePrice  float64 `json:"average_price"`
	ProductType   string  `json:"product_type"`
	Exchange      string  `json:"exchange"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// Notional returns the absolute market value of the position
func (p Position) Notional() float64 {
	return abs(float64(p.Quantity)) * p.AveragePrice
}

// Funds is a broker-reported margin snapshot
type Funds struct {
	AvailableMargin float64 `json:"available_margin"`
	UsedMargin      float64 `json:"used_margin"`
	TotalEquity     float64 `json:"total_equity"`
	CashBalance     float64 `json:"cash_balance"`
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
