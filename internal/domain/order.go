package domain

import "time"

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of the known values.
func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Sign returns +1 for BUY and -1 for SELL.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// Valid reports whether the order type is one of the known values.
func (t OrderType) Valid() bool { return t == OrderMarket || t == OrderLimit }

// OrderStatus represents the lifecycle of a simulated order.
//
//	NEW → FILLED
//	NEW → PARTIALLY_FILLED → FILLED
//	NEW / PARTIALLY_FILLED → CANCELED
//	NEW → REJECTED
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// PaperOrder is a simulated order held by the orderbook simulator until it
// reaches a terminal state.
type PaperOrder struct {
	ID         string
	Instrument string
	Side       Side
	Type       OrderType
	Quantity   float64
	FilledQty  float64
	Price      float64 // limit price; unused for MARKET orders
	Status     OrderStatus
	Reason     string // populated on REJECTED
	CreatedAt  time.Time
}

// Remaining returns the quantity still open.
func (o PaperOrder) Remaining() float64 { return o.Quantity - o.FilledQty }

// Fill is the result of matching an order against a price update.
type Fill struct {
	OrderID    string
	Instrument string
	Side       Side
	Price      float64
	Quantity   float64
	Fee        float64
	Timestamp  time.Time
}

// Notional is the quote-currency value of the fill.
func (f Fill) Notional() float64 { return f.Price * f.Quantity }
