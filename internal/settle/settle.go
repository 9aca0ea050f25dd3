// Package settle computes the monetary summary for a cart. It is pure: the
// result is always a function of the cart lines and the two operator-entered
// scalars, with no state of its own.
package settle

import (
	"strings"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
)

// Calculate turns the cart plus the raw discount and payment inputs into a
// Settlement. Unparsable or empty inputs default to zero rather than erroring,
// and a discount above the subtotal is clamped to it; the clamped value is
// returned so the caller can surface it back into the input field. An
// insufficient payment is reported through AmountDue, never as an error, so
// the operator can keep editing the cart.
func Calculate(lines []domain.CartLine, discountInput string, paymentInput string) domain.Settlement {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.LineTotal())
	}

	discount := parseAmount(discountInput)
	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}

	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	payment := parseAmount(paymentInput)

	st := domain.Settlement{
		Subtotal:  subtotal,
		Discount:  discount,
		Total:     total,
		Payment:   payment,
		Change:    decimal.Zero,
		AmountDue: decimal.Zero,
	}
	if payment.GreaterThanOrEqual(total) {
		st.Change = payment.Sub(total)
		st.Settled = true
	} else {
		st.AmountDue = total.Sub(payment)
	}
	return st
}

// parseAmount normalizes an operator-entered monetary field. Empty, malformed
// and negative values all read as zero; monetary inputs are never negative.
func parseAmount(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}
