// Package postgres implements the store.Repository interface on PostgreSQL.
// Schema migrations are embedded and applied on startup.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}
	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price, stock
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.Stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, stock
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) error {
	if product.ID == "" || product.Name == "" || product.Price.IsNegative() || product.Stock < 0 {
		return fmt.Errorf("%w: bad product", store.ErrValidation)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, price, stock, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock, updated_at = now()
	`, product.ID, product.Name, product.Price, product.Stock)
	return err
}

// AdjustStock applies the delta only when the result stays non-negative; the
// WHERE clause is the single serialization point for concurrent movements.
func (s *Store) AdjustStock(ctx context.Context, id string, delta int) (int, error) {
	var stock int
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1 AND stock + $2 >= 0
		RETURNING stock
	`, id, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	// The guarded update matched nothing: missing row or a floor violation.
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return 0, err
	}
	if !exists {
		return 0, store.ErrNotFound
	}
	return 0, fmt.Errorf("%w: product %s, delta %d", store.ErrInsufficientStock, id, delta)
}

func (s *Store) AppendSale(ctx context.Context, rec domain.SalesRecord) error {
	if rec.ID == "" || len(rec.Lines) == 0 {
		return fmt.Errorf("%w: bad sales record", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, at, cashier, subtotal, discount, total, payment, change_due)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, rec.ID, rec.At, rec.Cashier, rec.Subtotal, rec.Discount, rec.Total, rec.Payment, rec.Change)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: duplicate sale id %s", store.ErrValidation, rec.ID)
		}
		return err
	}

	for i, line := range rec.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_lines (sale_id, line_no, product_id, name, unit_price, qty)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, rec.ID, i, line.ProductID, line.Name, line.UnitPrice, line.Qty)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.SalesRecord, error) {
	var rec domain.SalesRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT id, at, cashier, subtotal, discount, total, payment, change_due
		FROM sales
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.At, &rec.Cashier, &rec.Subtotal, &rec.Discount, &rec.Total, &rec.Payment, &rec.Change)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	rec.At = rec.At.UTC()

	lines, err := s.loadLines(ctx, []string{rec.ID})
	if err != nil {
		return nil, err
	}
	rec.Lines = lines[rec.ID]
	return &rec, nil
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.SalesRecord, error) {
	query := `
		SELECT id, at, cashier, subtotal, discount, total, payment, change_due
		FROM sales
		WHERE ($1::timestamptz IS NULL OR at >= $1)
		  AND ($2::timestamptz IS NULL OR at < $2)
		ORDER BY at DESC
	`
	args := []any{nullableTime(from), nullableTime(to)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.SalesRecord, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var rec domain.SalesRecord
		if err := rows.Scan(&rec.ID, &rec.At, &rec.Cashier, &rec.Subtotal, &rec.Discount, &rec.Total, &rec.Payment, &rec.Change); err != nil {
			return nil, err
		}
		rec.At = rec.At.UTC()
		records = append(records, rec)
		ids = append(ids, rec.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lines, err := s.loadLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Lines = lines[records[i].ID]
	}
	return records, nil
}

func (s *Store) loadLines(ctx context.Context, saleIDs []string) (map[string][]domain.CartLine, error) {
	result := make(map[string][]domain.CartLine, len(saleIDs))
	if len(saleIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, product_id, name, unit_price, qty
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, line_no
	`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var saleID string
		var line domain.CartLine
		if err := rows.Scan(&saleID, &line.ProductID, &line.Name, &line.UnitPrice, &line.Qty); err != nil {
			return nil, err
		}
		result[saleID] = append(result[saleID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return fmt.Errorf("%w: bad user account", store.ErrValidation)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: username %s taken", store.ErrValidation, user.Username)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		u.CreatedAt = u.CreatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
