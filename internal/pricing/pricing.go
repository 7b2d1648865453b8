// Package pricing derives order and package totals from line items and
// caller-supplied discount and tax policy. Amounts are exact decimals; the
// engine never rounds unless a policy asks for whole units.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

var (
	// ErrDiscountExceedsSubtotal is reported as a warning; the discount is
	// clamped and the pricing is still valid.
	ErrDiscountExceedsSubtotal = errors.New("discount exceeds subtotal")
	ErrInvalidItem             = errors.New("invalid line item")
	ErrInvalidPolicy           = errors.New("invalid pricing policy")
)

// MaxPackageDiscount is the highest discount percentage a package sale may carry.
var MaxPackageDiscount = decimal.NewFromInt(50)

// DiscountPolicy is either a flat amount or a percentage of the subtotal.
type DiscountPolicy struct {
	Amount  decimal.Decimal `json:"amount"`
	Percent decimal.Decimal `json:"percent"`
	// Whole truncates a percentage discount to whole currency units.
	Whole bool `json:"whole,omitempty"`
}

// TaxPolicy is either a flat amount or a rate (in percent) of the subtotal.
type TaxPolicy struct {
	Amount decimal.Decimal `json:"amount"`
	Rate   decimal.Decimal `json:"rate"`
	Whole  bool            `json:"whole,omitempty"`
}

func FlatDiscount(amount decimal.Decimal) DiscountPolicy {
	return DiscountPolicy{Amount: amount}
}

func PercentDiscount(percent decimal.Decimal) DiscountPolicy {
	return DiscountPolicy{Percent: percent}
}

func FlatTax(amount decimal.Decimal) TaxPolicy {
	return TaxPolicy{Amount: amount}
}

func TaxRate(rate decimal.Decimal) TaxPolicy {
	return TaxPolicy{Rate: rate}
}

func (p DiscountPolicy) validate() error {
	if p.Amount.IsNegative() || p.Percent.IsNegative() {
		return fmt.Errorf("%w: negative discount", ErrInvalidPolicy)
	}
	if !p.Amount.IsZero() && !p.Percent.IsZero() {
		return fmt.Errorf("%w: discount has both amount and percent", ErrInvalidPolicy)
	}
	return nil
}

func (p DiscountPolicy) apply(subtotal decimal.Decimal) decimal.Decimal {
	if !p.Percent.IsZero() {
		d := subtotal.Mul(p.Percent).Shift(-2)
		if p.Whole {
			d = d.Floor()
		}
		return d
	}
	return p.Amount
}

func (p TaxPolicy) validate() error {
	if p.Amount.IsNegative() || p.Rate.IsNegative() {
		return fmt.Errorf("%w: negative tax", ErrInvalidPolicy)
	}
	if !p.Amount.IsZero() && !p.Rate.IsZero() {
		return fmt.Errorf("%w: tax has both amount and rate", ErrInvalidPolicy)
	}
	return nil
}

func (p TaxPolicy) apply(subtotal decimal.Decimal) decimal.Decimal {
	if !p.Rate.IsZero() {
		t := subtotal.Mul(p.Rate).Shift(-2)
		if p.Whole {
			t = t.Floor()
		}
		return t
	}
	return p.Amount
}

// Result is a recomputed pricing plus any non-fatal warnings.
type Result struct {
	Pricing  models.Pricing
	Warnings []error
}

func (r Result) HasWarning(target error) bool {
	for _, w := range r.Warnings {
		if errors.Is(w, target) {
			return true
		}
	}
	return false
}

// Subtotal sums unitPrice*quantity over items.
func Subtotal(items []models.OrderItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

// Recompute derives a Pricing from items. It must run after every item add,
// remove, or quantity edit, and is deterministic: equal inputs give equal
// output. A discount larger than the subtotal is clamped and reported in
// Result.Warnings. An empty subtotal carries no tax, so an order without
// items costs exactly its delivery charge.
func Recompute(items []models.OrderItem, discount DiscountPolicy, deliveryCharge decimal.Decimal, tax TaxPolicy) (Result, error) {
	for i, it := range items {
		if it.Quantity < 1 {
			return Result{}, fmt.Errorf("%w: item %d (%s) quantity %d", ErrInvalidItem, i, it.ProductRef, it.Quantity)
		}
		if it.UnitPrice.IsNegative() {
			return Result{}, fmt.Errorf("%w: item %d (%s) negative unit price", ErrInvalidItem, i, it.ProductRef)
		}
	}
	if deliveryCharge.IsNegative() {
		return Result{}, fmt.Errorf("%w: negative delivery charge", ErrInvalidPolicy)
	}
	if err := discount.validate(); err != nil {
		return Result{}, err
	}
	if err := tax.validate(); err != nil {
		return Result{}, err
	}

	var res Result
	subtotal := Subtotal(items)

	d := discount.apply(subtotal)
	if d.GreaterThan(subtotal) {
		res.Warnings = append(res.Warnings, fmt.Errorf("%w: %s > %s", ErrDiscountExceedsSubtotal, d, subtotal))
		d = subtotal
	}

	t := decimal.Zero
	if subtotal.IsPositive() {
		t = tax.apply(subtotal)
	}

	res.Pricing = models.Pricing{
		Subtotal:       subtotal,
		Discount:       d,
		DeliveryCharge: deliveryCharge,
		Tax:            t,
		Total:          subtotal.Sub(d).Add(deliveryCharge).Add(t),
	}
	return res, nil
}

// Consistent reports whether p satisfies the pricing invariants for items.
func Consistent(p models.Pricing, items []models.OrderItem) bool {
	if !p.Subtotal.Equal(Subtotal(items)) {
		return false
	}
	return p.Total.Equal(p.Subtotal.Sub(p.Discount).Add(p.DeliveryCharge).Add(p.Tax))
}

// Package derives a package sale's pricing from its list amount and discount
// percentage, which must lie within 0–MaxPackageDiscount.
func Package(original, discountPercentage decimal.Decimal) (models.AssignmentPricing, error) {
	if original.IsNegative() {
		return models.AssignmentPricing{}, fmt.Errorf("%w: negative package amount", ErrInvalidPolicy)
	}
	if discountPercentage.IsNegative() || discountPercentage.GreaterThan(MaxPackageDiscount) {
		return models.AssignmentPricing{}, fmt.Errorf("%w: discount percentage %s outside 0-%s", ErrInvalidPolicy, discountPercentage, MaxPackageDiscount)
	}
	discount := original.Mul(discountPercentage).Shift(-2)
	return models.AssignmentPricing{
		OriginalAmount:     original,
		DiscountPercentage: discountPercentage,
		DiscountAmount:     discount,
		FinalAmount:        original.Sub(discount),
	}, nil
}
