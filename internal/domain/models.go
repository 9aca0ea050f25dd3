package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog record for one sellable item. ID is the barcode
// string and is stable for the lifetime of the product.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

// CartLine is one cart entry. Name and UnitPrice are snapshots taken when the
// product was first added; later catalog edits do not change an open cart.
type CartLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Qty       int             `json:"qty"`
}

func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

// Cart lifecycle states.
const (
	CartStateOpen       = "open"
	CartStateCommitting = "committing"
	CartStateCommitted  = "committed"
	CartStateCancelled  = "cancelled"
)

type CartView struct {
	TerminalID string          `json:"terminal_id"`
	State      string          `json:"state"`
	Lines      []CartLine      `json:"lines"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// SalesRecord is one committed sale. Lines are value copies with no
// back-reference into the catalog; the record is never mutated once appended.
type SalesRecord struct {
	ID       string          `json:"id"`
	At       time.Time       `json:"at"`
	Cashier  string          `json:"cashier,omitempty"`
	Lines    []CartLine      `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
	Payment  decimal.Decimal `json:"payment"`
	Change   decimal.Decimal `json:"change"`
}

func (r SalesRecord) ItemCount() int {
	count := 0
	for _, line := range r.Lines {
		count += line.Qty
	}
	return count
}

// Settlement is recomputed from the cart and the two operator inputs on every
// edit; it is never persisted. Discount carries the clamped value so the UI
// can write it back into the input field.
type Settlement struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	Payment   decimal.Decimal `json:"payment"`
	Change    decimal.Decimal `json:"change"`
	AmountDue decimal.Decimal `json:"amount_due"`
	Settled   bool            `json:"settled"`
}

type ProductMatch struct {
	Product Product `json:"product"`
	Score   float64 `json:"score"`
}

// CartMatch pairs a matching line with its index in the live cart so edits
// made from search results operate on the real line, not a detached copy.
type CartMatch struct {
	Index int      `json:"index"`
	Line  CartLine `json:"line"`
}

type ProductUpsertRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

type StockAdjustRequest struct {
	Delta int `json:"delta"`
}

type AddItemRequest struct {
	TerminalID string `json:"terminal_id"`
	ProductID  string `json:"product_id"`
}

type SetQuantityRequest struct {
	TerminalID string `json:"terminal_id"`
	Quantity   int    `json:"quantity"`
}

type CheckoutRequest struct {
	TerminalID string `json:"terminal_id"`
	Discount   string `json:"discount"`
	Payment    string `json:"payment"`
}

type SalesSummary struct {
	Date      string          `json:"date"`
	Records   int             `json:"records"`
	ItemsSold int             `json:"items_sold"`
	Gross     decimal.Decimal `json:"gross"`
	Average   decimal.Decimal `json:"average"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)
