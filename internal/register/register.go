// Package register implements the checkout engine: the per-terminal cart, the
// eager stock reservation rules, and the commit/cancel state machine that
// keeps cart contents, catalog stock, settlement totals and the sales ledger
// mutually consistent.
package register

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dukapos/backend/internal/cache"
	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/search"
	"dukapos/backend/internal/settle"
	"dukapos/backend/internal/store"
)

var (
	ErrOutOfStock          = errors.New("out of stock")
	ErrCartEmpty           = errors.New("cart is empty")
	ErrInsufficientPayment = errors.New("insufficient payment")
)

const defaultTerminalID = "terminal-1"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// cart is the transient per-terminal state. state only ever holds open here:
// committing is observable during Checkout, and both terminal states reset
// the terminal to a fresh open cart once recorded.
type cart struct {
	state string
	lines []domain.CartLine
}

// Service owns the open carts and funnels every stock movement through
// Repository.AdjustStock. All cart mutations run under one mutex; the
// single-operator model means an operation always runs to completion before
// the next one starts.
type Service struct {
	mu             sync.Mutex
	repo           store.Repository
	searchCache    cache.SearchCache
	searchCacheTTL time.Duration
	carts          map[string]*cart
}

func New(repo store.Repository, searchCache cache.SearchCache, searchCacheTTL time.Duration) *Service {
	if searchCache == nil {
		searchCache = cache.NoopSearchCache{}
	}
	if searchCacheTTL <= 0 {
		searchCacheTTL = 20 * time.Second
	}
	return &Service{
		repo:           repo,
		searchCache:    searchCache,
		searchCacheTTL: searchCacheTTL,
		carts:          make(map[string]*cart),
	}
}

func normalizeTerminal(terminalID string) string {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return defaultTerminalID
	}
	return terminalID
}

// cartFor returns the open cart for the terminal, creating it on first use.
// Callers must hold s.mu.
func (s *Service) cartFor(terminalID string) *cart {
	c, ok := s.carts[terminalID]
	if !ok {
		c = &cart{state: domain.CartStateOpen, lines: make([]domain.CartLine, 0, 8)}
		s.carts[terminalID] = c
	}
	return c
}

// AddItem reserves one unit: the catalog stock is decremented as part of the
// same operation that grows the cart, so an abandoned cart can never oversell
// what is still on the shelf.
func (s *Service) AddItem(ctx context.Context, terminalID string, productID string) (domain.CartView, error) {
	terminalID = normalizeTerminal(terminalID)
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CartView{}, fmt.Errorf("%w: product id required", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.CartView{}, err
	}
	if product.Stock <= 0 {
		return domain.CartView{}, fmt.Errorf("%w: %s", ErrOutOfStock, productID)
	}

	if _, err := s.repo.AdjustStock(ctx, productID, -1); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return domain.CartView{}, fmt.Errorf("%w: %s", ErrOutOfStock, productID)
		}
		return domain.CartView{}, err
	}

	c := s.cartFor(terminalID)
	found := false
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			c.lines[i].Qty++
			found = true
			break
		}
	}
	if !found {
		c.lines = append(c.lines, domain.CartLine{
			ProductID: product.ID,
			Name:      product.Name,
			UnitPrice: product.Price,
			Qty:       1,
		})
	}

	return s.viewLocked(terminalID), nil
}

// SetQuantity moves a line to the requested quantity, adjusting the catalog by
// the delta. A raise that would overdraw stock fails with ErrOutOfStock and
// changes nothing.
func (s *Service) SetQuantity(ctx context.Context, terminalID string, lineIndex int, qty int) (domain.CartView, error) {
	terminalID = normalizeTerminal(terminalID)
	if qty < 1 {
		return domain.CartView{}, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartFor(terminalID)
	if lineIndex < 0 || lineIndex >= len(c.lines) {
		return domain.CartView{}, fmt.Errorf("%w: no cart line at index %d", store.ErrValidation, lineIndex)
	}

	line := &c.lines[lineIndex]
	delta := qty - line.Qty
	if delta == 0 {
		return s.viewLocked(terminalID), nil
	}

	// Raising the quantity takes stock; lowering it gives stock back.
	if _, err := s.repo.AdjustStock(ctx, line.ProductID, -delta); err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			return domain.CartView{}, fmt.Errorf("%w: %s", ErrOutOfStock, line.ProductID)
		}
		return domain.CartView{}, err
	}
	line.Qty = qty

	return s.viewLocked(terminalID), nil
}

// RemoveLine releases the line's reservation back to the catalog and deletes
// the line, preserving the insertion order of the rest.
func (s *Service) RemoveLine(ctx context.Context, terminalID string, lineIndex int) (domain.CartView, error) {
	terminalID = normalizeTerminal(terminalID)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartFor(terminalID)
	if lineIndex < 0 || lineIndex >= len(c.lines) {
		return domain.CartView{}, fmt.Errorf("%w: no cart line at index %d", store.ErrValidation, lineIndex)
	}

	line := c.lines[lineIndex]
	if _, err := s.repo.AdjustStock(ctx, line.ProductID, line.Qty); err != nil {
		return domain.CartView{}, err
	}
	c.lines = append(c.lines[:lineIndex], c.lines[lineIndex+1:]...)

	return s.viewLocked(terminalID), nil
}

// Cancel abandons the cart: every reservation is returned to the catalog and
// the terminal gets a fresh open cart. The returned view is the cancelled
// cart with the lines it abandoned. Cancelling an empty cart is a no-op that
// reports the open cart, so a double cancel never errors and never
// double-restores.
func (s *Service) Cancel(ctx context.Context, terminalID string) (domain.CartView, error) {
	terminalID = normalizeTerminal(terminalID)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartFor(terminalID)
	if len(c.lines) == 0 {
		return s.viewLocked(terminalID), nil
	}

	abandoned := s.viewLocked(terminalID)

	// Restore back to front, popping each restored line, so a storage error
	// leaves only un-restored lines behind and the cancel can be retried
	// without double-restoring.
	for len(c.lines) > 0 {
		last := len(c.lines) - 1
		line := c.lines[last]
		if _, err := s.repo.AdjustStock(ctx, line.ProductID, line.Qty); err != nil {
			return domain.CartView{}, fmt.Errorf("restore stock for %s: %w", line.ProductID, err)
		}
		c.lines = c.lines[:last]
	}
	c.state = domain.CartStateCancelled
	abandoned.State = c.state

	s.carts[terminalID] = &cart{state: domain.CartStateOpen, lines: make([]domain.CartLine, 0, 8)}
	return abandoned, nil
}

// Settle previews the settlement for the current cart without mutating
// anything; the UI calls this on every discount/payment keystroke.
func (s *Service) Settle(terminalID string, discountInput string, paymentInput string) domain.Settlement {
	terminalID = normalizeTerminal(terminalID)

	s.mu.Lock()
	defer s.mu.Unlock()

	return settle.Calculate(s.cartFor(terminalID).lines, discountInput, paymentInput)
}

// Checkout drives the cart through committing to committed: it validates the
// payment against the settlement, appends one immutable SalesRecord to the
// ledger, and clears the cart WITHOUT restoring stock — the units are sold,
// not abandoned. A validation or ledger failure leaves cart and catalog
// exactly as they were.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.SalesRecord, error) {
	terminalID := normalizeTerminal(req.TerminalID)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.cartFor(terminalID)
	if len(c.lines) == 0 {
		return nil, ErrCartEmpty
	}

	st := settle.Calculate(c.lines, req.Discount, req.Payment)
	if !st.Settled {
		return nil, fmt.Errorf("%w: %s short", ErrInsufficientPayment, st.AmountDue)
	}
	c.state = domain.CartStateCommitting

	cashier := ""
	if actor, ok := ActorFromContext(ctx); ok {
		cashier = actor.Username
	}

	rec := domain.SalesRecord{
		ID:       uuid.NewString(),
		At:       time.Now().UTC(),
		Cashier:  cashier,
		Lines:    make([]domain.CartLine, len(c.lines)),
		Subtotal: st.Subtotal,
		Discount: st.Discount,
		Total:    st.Total,
		Payment:  st.Payment,
		Change:   st.Change,
	}
	copy(rec.Lines, c.lines)

	if err := s.repo.AppendSale(ctx, rec); err != nil {
		c.state = domain.CartStateOpen
		return nil, fmt.Errorf("append sale: %w", err)
	}

	c.state = domain.CartStateCommitted
	log.Printf("[register] committed sale %s terminal=%s lines=%d total=%s", rec.ID, terminalID, len(rec.Lines), rec.Total)

	// Fresh open cart; the committed state lives on in the record.
	s.carts[terminalID] = &cart{state: domain.CartStateOpen, lines: make([]domain.CartLine, 0, 8)}

	return &rec, nil
}

// Lines returns a copy of the cart's lines in insertion order.
func (s *Service) Lines(terminalID string) []domain.CartLine {
	return s.View(terminalID).Lines
}

func (s *Service) View(terminalID string) domain.CartView {
	terminalID = normalizeTerminal(terminalID)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.viewLocked(terminalID)
}

// viewLocked builds a copy for display. Callers must hold s.mu.
func (s *Service) viewLocked(terminalID string) domain.CartView {
	c := s.cartFor(terminalID)
	view := domain.CartView{
		TerminalID: terminalID,
		State:      c.state,
		Lines:      make([]domain.CartLine, len(c.lines)),
		Subtotal:   decimal.Zero,
	}
	copy(view.Lines, c.lines)
	for _, line := range c.lines {
		view.Subtotal = view.Subtotal.Add(line.LineTotal())
	}
	return view
}

// SearchCart projects the current cart through the query. Matches carry the
// live line index so a follow-up SetQuantity or RemoveLine hits the real line.
func (s *Service) SearchCart(terminalID string, query string) []domain.CartMatch {
	view := s.View(terminalID)
	return search.CartLines(view.Lines, query)
}

// --- catalog operations ---

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.repo.GetProduct(ctx, strings.TrimSpace(id))
}

func (s *Service) UpsertProduct(ctx context.Context, id string, req domain.ProductUpsertRequest) (domain.Product, error) {
	product := domain.Product{
		ID:    strings.TrimSpace(id),
		Name:  strings.TrimSpace(req.Name),
		Price: req.Price,
		Stock: req.Stock,
	}
	switch {
	case product.ID == "":
		return domain.Product{}, fmt.Errorf("%w: product id required", store.ErrValidation)
	case product.Name == "":
		return domain.Product{}, fmt.Errorf("%w: product name required", store.ErrValidation)
	case product.Price.IsNegative():
		return domain.Product{}, fmt.Errorf("%w: price must not be negative", store.ErrValidation)
	case product.Stock < 0:
		return domain.Product{}, fmt.Errorf("%w: stock must not be negative", store.ErrValidation)
	}

	if err := s.repo.UpsertProduct(ctx, product); err != nil {
		return domain.Product{}, err
	}
	if actor, ok := ActorFromContext(ctx); ok {
		log.Printf("[register] %s upserted product %s", actor.Username, product.ID)
	}
	return product, nil
}

// AdjustStock is the restock/correction path for deliveries and recounts; it
// reuses the same choke point as the cart reservations.
func (s *Service) AdjustStock(ctx context.Context, id string, delta int) (domain.Product, error) {
	if delta == 0 {
		return domain.Product{}, fmt.Errorf("%w: delta must be non-zero", store.ErrValidation)
	}

	if _, err := s.repo.AdjustStock(ctx, strings.TrimSpace(id), delta); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// SearchCatalog answers the product search endpoints. Name queries go through
// the cache-aside search cache; barcode and price filters are cheap enough to
// recompute every time.
func (s *Service) SearchCatalog(ctx context.Context, query string, barcode string, min *decimal.Decimal, max *decimal.Decimal) ([]domain.ProductMatch, error) {
	if barcode = strings.TrimSpace(barcode); barcode != "" {
		products, err := s.repo.ListProducts(ctx)
		if err != nil {
			return nil, err
		}
		hits := search.ByBarcode(products, barcode)
		matches := make([]domain.ProductMatch, 0, len(hits))
		for _, p := range hits {
			matches = append(matches, domain.ProductMatch{Product: p, Score: 1})
		}
		return matches, nil
	}

	if min != nil || max != nil {
		products, err := s.repo.ListProducts(ctx)
		if err != nil {
			return nil, err
		}
		hits := search.ByPriceRange(products, min, max)
		matches := make([]domain.ProductMatch, 0, len(hits))
		for _, p := range hits {
			matches = append(matches, domain.ProductMatch{Product: p, Score: 1})
		}
		return matches, nil
	}

	key := "search:name:" + strings.ToLower(strings.TrimSpace(query))
	if cached, ok, err := s.searchCache.Get(ctx, key); err == nil && ok {
		return cached, nil
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	matches := search.ByName(products, query)
	if err := s.searchCache.Set(ctx, key, matches, s.searchCacheTTL); err != nil {
		log.Printf("[register] WARN: search cache set failed: %v", err)
	}
	return matches, nil
}

// --- sales history ---

func (s *Service) GetSale(ctx context.Context, id string) (*domain.SalesRecord, error) {
	return s.repo.GetSale(ctx, strings.TrimSpace(id))
}

// ListSales returns records for one day (date "2006-01-02", empty for all),
// newest first.
func (s *Service) ListSales(ctx context.Context, date string, limit int) ([]domain.SalesRecord, error) {
	from, to, err := dayBounds(date)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListSales(ctx, from, to, limit)
}

// SalesSummary computes the dashboard figures for one day: record count,
// items sold, gross takings and the average sale value.
func (s *Service) SalesSummary(ctx context.Context, date string) (domain.SalesSummary, error) {
	from, to, err := dayBounds(date)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	records, err := s.repo.ListSales(ctx, from, to, 0)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := domain.SalesSummary{
		Date:    date,
		Records: len(records),
		Gross:   decimal.Zero,
		Average: decimal.Zero,
	}
	for _, rec := range records {
		summary.ItemsSold += rec.ItemCount()
		summary.Gross = summary.Gross.Add(rec.Total)
	}
	if summary.Records > 0 {
		summary.Average = summary.Gross.Div(decimal.NewFromInt(int64(summary.Records)))
	}
	return summary, nil
}

func dayBounds(date string) (time.Time, time.Time, error) {
	if strings.TrimSpace(date) == "" {
		return time.Time{}, time.Time{}, nil
	}
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: bad date %q", store.ErrValidation, date)
	}
	from := day.UTC()
	return from, from.Add(24 * time.Hour), nil
}
