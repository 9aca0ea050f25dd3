package store

import (
	"context"
	"errors"
	"time"

	"dukapos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrValidation        = errors.New("validation failed")
)

// Repository is the persistence surface for the catalog, the sales ledger and
// the auth accounts. AdjustStock is the only operation that changes stock
// levels; every caller funnels through it, and each implementation serializes
// it so the stock >= 0 invariant holds even with multiple registers.
type Repository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	// UpsertProduct fully replaces an existing record (name, price, stock).
	// Callers that want to keep stock while changing price must
	// read-modify-write explicitly.
	UpsertProduct(ctx context.Context, product domain.Product) error
	// AdjustStock applies delta to the product's stock and returns the new
	// level. It fails with ErrInsufficientStock, applying no change, when the
	// result would be negative.
	AdjustStock(ctx context.Context, id string, delta int) (int, error)

	AppendSale(ctx context.Context, rec domain.SalesRecord) error
	GetSale(ctx context.Context, id string) (*domain.SalesRecord, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.SalesRecord, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
