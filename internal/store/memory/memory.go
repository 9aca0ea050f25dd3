package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

const (
	catalogFile = "catalog.json"
	ledgerFile  = "sales.jsonl"
	usersFile   = "users.json"
)

// Store is an in-memory Repository. When constructed with NewWithDir it also
// persists the catalog as a full-replace JSON write and the ledger as an
// append-only JSON-lines file, so state survives restarts the way the
// original data files did.
type Store struct {
	mu        sync.RWMutex
	dir       string
	products  map[string]domain.Product
	salesByID map[string]domain.SalesRecord
	sales     []domain.SalesRecord
	users     map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:  make(map[string]domain.Product),
		salesByID: make(map[string]domain.SalesRecord),
		sales:     make([]domain.SalesRecord, 0, 64),
		users:     make(map[string]domain.UserAccount),
	}
}

// NewSeeded builds a dev/demo store with a small catalog and two accounts.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; if unset,
// hardcoded dev defaults are used with a warning. These seeds are never used
// in production (the backend uses PostgreSQL when DATABASE_URL is set).
func NewSeeded() *Store {
	s := New()
	for _, p := range seedCatalog() {
		s.products[p.ID] = p
	}
	s.users = seedUsers()
	return s
}

// NewWithDir loads prior state from dir (creating it if needed) and enables
// file persistence. A missing catalog starts seeded, matching the original's
// first-run behavior.
func NewWithDir(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := New()
	s.dir = dir

	loaded, err := s.loadCatalog()
	if err != nil {
		return nil, err
	}
	if !loaded {
		for _, p := range seedCatalog() {
			s.products[p.ID] = p
		}
		if err := s.saveCatalogLocked(); err != nil {
			return nil, err
		}
	}
	if err := s.loadLedger(); err != nil {
		return nil, err
	}
	if err := s.loadUsers(); err != nil {
		return nil, err
	}
	if len(s.users) == 0 {
		s.users = seedUsers()
		if err := s.saveUsersLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func seedCatalog() []domain.Product {
	return []domain.Product{
		{ID: "6291041500213", Name: "Drinking Water 500ml", Price: dec("1000"), Stock: 120},
		{ID: "6291041500220", Name: "Milk 1L", Price: dec("3500"), Stock: 60},
		{ID: "6291041500237", Name: "Bread Loaf", Price: dec("4500"), Stock: 40},
		{ID: "6291041500244", Name: "Sugar 1kg", Price: dec("4200"), Stock: 80},
		{ID: "6291041500251", Name: "Cooking Oil 1L", Price: dec("9800"), Stock: 50},
		{ID: "6291041500268", Name: "Rice 1kg", Price: dec("5500"), Stock: 90},
		{ID: "6291041500275", Name: "Laundry Soap Bar", Price: dec("2500"), Stock: 70},
		{ID: "6291041500282", Name: "Tea Leaves 250g", Price: dec("6000"), Stock: 45},
		{ID: "6291041500299", Name: "Biscuits Pack", Price: dec("1800"), Stock: 150},
		{ID: "6291041500305", Name: "Salt 500g", Price: dec("1200"), Stock: 100},
	}
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := product
	return &copied, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.Name) == "" {
		return store.ErrValidation
	}
	if product.Price.IsNegative() || product.Stock < 0 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.products[product.ID]
	s.products[product.ID] = product
	if err := s.saveCatalogLocked(); err != nil {
		// A failed save must leave no trace in memory either.
		if existed {
			s.products[product.ID] = prev
		} else {
			delete(s.products, product.ID)
		}
		return err
	}
	return nil
}

func (s *Store) AdjustStock(_ context.Context, id string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[id]
	if !exists {
		return 0, store.ErrNotFound
	}
	next := product.Stock + delta
	if next < 0 {
		return 0, fmt.Errorf("%w: %s has %d, requested %d", store.ErrInsufficientStock, id, product.Stock, -delta)
	}
	prev := product
	product.Stock = next
	s.products[id] = product
	if err := s.saveCatalogLocked(); err != nil {
		s.products[id] = prev
		return 0, err
	}
	return next, nil
}

func (s *Store) AppendSale(_ context.Context, rec domain.SalesRecord) error {
	if rec.ID == "" || len(rec.Lines) == 0 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.salesByID[rec.ID]; exists {
		return fmt.Errorf("%w: duplicate sale id %s", store.ErrValidation, rec.ID)
	}

	copied := cloneSale(rec)
	if err := s.appendLedgerLocked(copied); err != nil {
		return err
	}
	s.salesByID[copied.ID] = copied
	s.sales = append(s.sales, copied)
	return nil
}

func (s *Store) GetSale(_ context.Context, id string) (*domain.SalesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copied := cloneSale(rec)
	return &copied, nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.SalesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SalesRecord, 0, len(s.sales))
	for _, rec := range s.sales {
		if !from.IsZero() && rec.At.Before(from) {
			continue
		}
		if !to.IsZero() && !rec.At.Before(to) {
			continue
		}
		result = append(result, cloneSale(rec))
	}
	// Newest first; the ledger itself stays in append order.
	slices.Reverse(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || user.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return fmt.Errorf("%w: username %s taken", store.ErrValidation, username)
	}
	user.Username = username
	s.users[username] = user
	if err := s.saveUsersLocked(); err != nil {
		delete(s.users, username)
		return err
	}
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	prev := user
	user.Password = password
	s.users[username] = user
	if err := s.saveUsersLocked(); err != nil {
		s.users[username] = prev
		return err
	}
	return nil
}

func cloneSale(rec domain.SalesRecord) domain.SalesRecord {
	copied := rec
	copied.Lines = make([]domain.CartLine, len(rec.Lines))
	copy(copied.Lines, rec.Lines)
	return copied
}

// --- file persistence ---

func (s *Store) loadCatalog() (bool, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, catalogFile))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read catalog: %w", err)
	}
	var products map[string]domain.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return false, fmt.Errorf("decode catalog: %w", err)
	}
	for id, p := range products {
		p.ID = id
		s.products[id] = p
	}
	return true, nil
}

func (s *Store) saveCatalogLocked() error {
	if s.dir == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s.products, "", "  ")
	if err != nil {
		return err
	}
	// Full-replace write via rename so a crash never leaves a half catalog.
	tmp := filepath.Join(s.dir, catalogFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, catalogFile))
}

func (s *Store) loadLedger() error {
	f, err := os.Open(filepath.Join(s.dir, ledgerFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec domain.SalesRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return fmt.Errorf("decode ledger line: %w", err)
		}
		s.salesByID[rec.ID] = rec
		s.sales = append(s.sales, rec)
	}
	return scanner.Err()
}

func (s *Store) appendLedgerLocked(rec domain.SalesRecord) error {
	if s.dir == "" {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.dir, ledgerFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	return nil
}

func (s *Store) loadUsers() error {
	raw, err := os.ReadFile(filepath.Join(s.dir, usersFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read users: %w", err)
	}
	var users map[string]domain.UserAccount
	if err := json.Unmarshal(raw, &users); err != nil {
		return fmt.Errorf("decode users: %w", err)
	}
	s.users = users
	return nil
}

func (s *Store) saveUsersLocked() error {
	if s.dir == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, usersFile), raw, 0o600)
}
