package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

func seedProduct(t *testing.T, s *Store, id string, stock int) {
	t.Helper()
	err := s.UpsertProduct(context.Background(), domain.Product{
		ID:    id,
		Name:  "Product " + id,
		Price: decimal.RequireFromString("1000"),
		Stock: stock,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestAdjustStockEnforcesFloor(t *testing.T) {
	s := New()
	ctx := context.Background()
	seedProduct(t, s, "p1", 2)

	stock, err := s.AdjustStock(ctx, "p1", -2)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if stock != 0 {
		t.Fatalf("expected stock 0, got %d", stock)
	}

	if _, err := s.AdjustStock(ctx, "p1", -1); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if _, err := s.AdjustStock(ctx, "missing", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The failed adjustment must not have moved anything.
	p, err := s.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Stock != 0 {
		t.Fatalf("stock changed by failed adjust: %d", p.Stock)
	}
}

func TestUpsertProductValidatesAndReplaces(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.UpsertProduct(ctx, domain.Product{ID: "", Name: "x"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for empty id, got %v", err)
	}
	if err := s.UpsertProduct(ctx, domain.Product{ID: "p", Name: "x", Price: decimal.RequireFromString("-1")}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for negative price, got %v", err)
	}

	seedProduct(t, s, "p1", 5)
	err := s.UpsertProduct(ctx, domain.Product{ID: "p1", Name: "Renamed", Price: decimal.RequireFromString("2000"), Stock: 9})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}

	p, err := s.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Name != "Renamed" || p.Stock != 9 || !p.Price.Equal(decimal.RequireFromString("2000")) {
		t.Fatalf("upsert did not replace: %+v", p)
	}
}

func makeSale(id string, at time.Time) domain.SalesRecord {
	return domain.SalesRecord{
		ID: id,
		At: at,
		Lines: []domain.CartLine{
			{ProductID: "p1", Name: "Product p1", UnitPrice: decimal.RequireFromString("1000"), Qty: 1},
		},
		Subtotal: decimal.RequireFromString("1000"),
		Discount: decimal.Zero,
		Total:    decimal.RequireFromString("1000"),
		Payment:  decimal.RequireFromString("1000"),
		Change:   decimal.Zero,
	}
}

func TestAppendSaleRejectsDuplicates(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := makeSale("s1", time.Now().UTC())

	if err := s.AppendSale(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendSale(ctx, rec); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected duplicate to fail validation, got %v", err)
	}
}

func TestListSalesWindowAndOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := makeSale(fmt.Sprintf("s%d", i), base.Add(time.Duration(i)*time.Hour))
		if err := s.AppendSale(ctx, rec); err != nil {
			t.Fatalf("append s%d: %v", i, err)
		}
	}

	// Whole day, newest first.
	all, err := s.ListSales(ctx, time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 5 || all[0].ID != "s4" || all[4].ID != "s0" {
		t.Fatalf("unexpected order: %+v", all)
	}

	// Window [09:00, 11:00) keeps s1 and s2 only.
	windowed, err := s.ListSales(ctx, base.Add(time.Hour), base.Add(3*time.Hour), 0)
	if err != nil {
		t.Fatalf("list window: %v", err)
	}
	if len(windowed) != 2 || windowed[0].ID != "s2" || windowed[1].ID != "s1" {
		t.Fatalf("unexpected window: %+v", windowed)
	}

	limited, err := s.ListSales(ctx, time.Time{}, time.Time{}, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "s4" {
		t.Fatalf("unexpected limit: %+v", limited)
	}
}

func TestFilePersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewWithDir(dir)
	if err != nil {
		t.Fatalf("new with dir: %v", err)
	}
	seedProduct(t, s, "persist-1", 7)
	if _, err := s.AdjustStock(ctx, "persist-1", -3); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if err := s.AppendSale(ctx, makeSale("sale-1", time.Now().UTC())); err != nil {
		t.Fatalf("append sale: %v", err)
	}
	if err := s.AppendSale(ctx, makeSale("sale-2", time.Now().UTC())); err != nil {
		t.Fatalf("append sale: %v", err)
	}

	// A second store on the same dir sees everything.
	reloaded, err := NewWithDir(dir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	p, err := reloaded.GetProduct(ctx, "persist-1")
	if err != nil {
		t.Fatalf("get reloaded product: %v", err)
	}
	if p.Stock != 4 {
		t.Fatalf("expected persisted stock 4, got %d", p.Stock)
	}
	if _, err := reloaded.GetSale(ctx, "sale-1"); err != nil {
		t.Fatalf("get reloaded sale: %v", err)
	}
	records, err := reloaded.ListSales(ctx, time.Time{}, time.Time{}, 0)
	if err != nil {
		t.Fatalf("list reloaded sales: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 persisted sales, got %d", len(records))
	}
}

func TestFailedCatalogSaveLeavesStockUnchanged(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	ctx := context.Background()

	s, err := NewWithDir(dir)
	if err != nil {
		t.Fatalf("new with dir: %v", err)
	}
	seedProduct(t, s, "p1", 5)

	// Replace the data dir with a plain file so every catalog save fails.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if err := os.WriteFile(dir, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("block dir: %v", err)
	}

	if _, err := s.AdjustStock(ctx, "p1", -1); err == nil {
		t.Fatalf("expected adjust to fail when the catalog cannot be saved")
	}
	p, err := s.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Stock != 5 {
		t.Fatalf("failed save moved stock: got %d, want 5", p.Stock)
	}

	// A failed replacement keeps the old product, and a failed insert
	// leaves no product behind.
	err = s.UpsertProduct(ctx, domain.Product{ID: "p1", Name: "Renamed", Price: decimal.RequireFromString("2000"), Stock: 9})
	if err == nil {
		t.Fatalf("expected upsert to fail when the catalog cannot be saved")
	}
	p, err = s.GetProduct(ctx, "p1")
	if err != nil {
		t.Fatalf("get after failed upsert: %v", err)
	}
	if p.Name != "Product p1" || p.Stock != 5 {
		t.Fatalf("failed upsert changed product: %+v", p)
	}

	err = s.UpsertProduct(ctx, domain.Product{ID: "p2", Name: "New", Price: decimal.RequireFromString("1000"), Stock: 1})
	if err == nil {
		t.Fatalf("expected upsert to fail when the catalog cannot be saved")
	}
	if _, err := s.GetProduct(ctx, "p2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed upsert left product behind: %v", err)
	}
}

func TestLedgerFileIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewWithDir(dir)
	if err != nil {
		t.Fatalf("new with dir: %v", err)
	}
	if err := s.AppendSale(ctx, makeSale("sale-1", time.Now().UTC())); err != nil {
		t.Fatalf("append sale: %v", err)
	}

	before, err := os.ReadFile(filepath.Join(dir, ledgerFile))
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}

	if err := s.AppendSale(ctx, makeSale("sale-2", time.Now().UTC())); err != nil {
		t.Fatalf("append sale: %v", err)
	}
	after, err := os.ReadFile(filepath.Join(dir, ledgerFile))
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}

	// Earlier content is a strict prefix: records are only ever appended.
	if !strings.HasPrefix(string(after), string(before)) {
		t.Fatalf("ledger rewritten in place")
	}
	if strings.Count(strings.TrimSpace(string(after)), "\n") != 1 {
		t.Fatalf("expected exactly 2 ledger lines, got:\n%s", after)
	}
}

func TestUserAccountsRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.CreateUser(ctx, domain.UserAccount{
		Username:  "Amina",
		Password:  "$2a$10$fakehashfortest",
		Role:      domain.RoleStaff,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	// Usernames normalize to lower case; duplicates are rejected.
	if err := s.CreateUser(ctx, domain.UserAccount{Username: "amina", Password: "x"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected duplicate username to fail, got %v", err)
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].Username != "amina" {
		t.Fatalf("unexpected users: %+v", users)
	}

	if err := s.UpdateUserPassword(ctx, "amina", "$2a$10$newhash"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if err := s.UpdateUserPassword(ctx, "ghost", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}
