package pricing

import (
	"github.com/safar/go-order-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const moneyPlaces int32 = 2

var (
	vatMultiplier     = decimal.RequireFromString("1.25")
	bulkDiscountRate  = decimal.RequireFromString("0.03")
	bulkDiscountAbove = decimal.NewFromInt(5000)
)

type Result struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
	VATAmount   decimal.Decimal `json:"vat_amount"`
}

// Calculate prices an order for a customer. Line prices already include VAT.
// The tier discount applies first, then a 3% bulk discount when the
// discounted total exceeds 5000. VAT is derived from the unrounded total
// before the total itself is rounded.
func Calculate(order models.Order, customer models.Customer) Result {
	base := decimal.Zero
	for _, item := range order.Items {
		base = base.Add(item.LinePrice)
	}

	afterDiscount := base.Mul(decimal.NewFromInt(1).Sub(customer.Tier.DiscountRate()))

	total := afterDiscount
	if afterDiscount.GreaterThan(bulkDiscountAbove) {
		total = afterDiscount.Mul(decimal.NewFromInt(1).Sub(bulkDiscountRate))
	}

	vat := total.Sub(total.DivRound(vatMultiplier, moneyPlaces))

	return Result{
		TotalAmount: total.Round(moneyPlaces),
		VATAmount:   vat.Round(moneyPlaces),
	}
}
