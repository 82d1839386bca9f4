// Package pricing computes order totals from line items. The rules are
// fixed business constants: free shipping above a threshold and a flat
// GST rate applied to the subtotal only.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/rahulmenon/orderdesk/internal/money"
)

var (
	// FreeShippingThreshold: orders at or above this subtotal ship free.
	FreeShippingThreshold = money.MustFromString("2999.00")
	// FlatShippingFee applies below the threshold.
	FlatShippingFee = money.MustFromString("99.00")
	// TaxRate is the flat 18% GST applied to the subtotal.
	TaxRate = decimal.NewFromFloat(0.18)
)

type LineItem struct {
	UnitPrice money.Money
	Quantity  int
}

type Quote struct {
	Subtotal money.Money
	Shipping money.Money
	Tax      money.Money
	Total    money.Money
}

// Compute is a pure function of its line items. Tax is rounded half-up
// to two decimal places; shipping is never taxed.
func Compute(items []LineItem) Quote {
	subtotal := money.Zero()
	for _, it := range items {
		subtotal = subtotal.Add(it.UnitPrice.MulInt(it.Quantity))
	}

	shipping := FlatShippingFee
	if subtotal.Cmp(FreeShippingThreshold) >= 0 {
		shipping = money.Zero()
	}

	tax := subtotal.Percent(TaxRate)

	return Quote{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}
}
