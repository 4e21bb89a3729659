package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierRegular  Tier = "REGULAR"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
)

var tierDiscounts = map[Tier]decimal.Decimal{
	TierRegular:  decimal.Zero,
	TierSilver:   decimal.RequireFromString("0.05"),
	TierGold:     decimal.RequireFromString("0.10"),
	TierPlatinum: decimal.RequireFromString("0.15"),
}

func (t Tier) Valid() bool {
	_, ok := tierDiscounts[t]
	return ok
}

// DiscountRate returns the fraction taken off a customer's order total.
// Unknown tiers get no discount.
func (t Tier) DiscountRate() decimal.Decimal {
	if rate, ok := tierDiscounts[t]; ok {
		return rate
	}
	return decimal.Zero
}

type Customer struct {
	ID          string          `json:"id"`
	Tier        Tier            `json:"tier"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	UsedCredit  decimal.Decimal `json:"used_credit"`
}

func (c Customer) AvailableCredit() decimal.Decimal {
	return c.CreditLimit.Sub(c.UsedCredit)
}

type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	Active        bool            `json:"active"`
}

// Item is an order line. UnitPrice and LinePrice are a snapshot of the
// catalog price taken when the order was created.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LinePrice decimal.Decimal `json:"line_price"`
}

func NewItem(productID string, quantity int, unitPrice decimal.Decimal) Item {
	return Item{
		ProductID: productID,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		LinePrice: unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

type Order struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	Items           []Item          `json:"items"`
	Status          Status          `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	VATAmount       decimal.Decimal `json:"vat_amount"`
	ShippingAddress string          `json:"shipping_address"`
}

func NewOrder(id, customerID string, items []Item, shippingAddress string, now time.Time) Order {
	return Order{
		ID:              id,
		CustomerID:      customerID,
		Items:           append([]Item(nil), items...),
		Status:          StatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
		ShippingAddress: shippingAddress,
	}
}

// Clone returns a copy that shares no item storage with o.
func (o Order) Clone() Order {
	o.Items = append([]Item(nil), o.Items...)
	return o
}
