package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/zennara-clinic/zennara-admin-panel-sub002/pkg/models"
)

const uniqueViolation = "23505"

// PostgresStore keeps each record as a JSONB payload next to the status and
// history length columns that the compare-and-swap update checks.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects and waits for the database to accept connections.
func OpenPostgres(ctx context.Context, dsn string, attempts int, wait time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return db, nil
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	db.Close()
	return nil, fmt.Errorf("database not reachable: %w", err)
}

func (s *PostgresStore) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(255) PRIMARY KEY,
			order_number VARCHAR(64) NOT NULL,
			status VARCHAR(50) NOT NULL,
			history_len INTEGER NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0,
			payload JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS package_assignments (
			id VARCHAR(255) PRIMARY KEY,
			assignment_number VARCHAR(64) NOT NULL,
			status VARCHAR(50) NOT NULL,
			history_len INTEGER NOT NULL,
			revision INTEGER NOT NULL DEFAULT 0,
			payload JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS stock_items (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			category VARCHAR(255) NOT NULL DEFAULT '',
			vendor VARCHAR(255) NOT NULL DEFAULT '',
			quantity_on_hand INTEGER NOT NULL,
			low_stock_threshold INTEGER NOT NULL,
			reorder_point INTEGER NOT NULL,
			buying_price NUMERIC NOT NULL,
			selling_price NUMERIC NOT NULL
		)`,
		`ALTER TABLE orders ADD COLUMN IF NOT EXISTS revision INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE package_assignments ADD COLUMN IF NOT EXISTS revision INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE stock_items ALTER COLUMN buying_price TYPE NUMERIC, ALTER COLUMN selling_price TYPE NUMERIC`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_package_assignments_status ON package_assignments(status)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	var order models.Order
	err := s.getPayload(ctx, "SELECT payload FROM orders WHERE id = $1", id, &order)
	return order, err
}

func (s *PostgresStore) ListOrders(ctx context.Context, status string) ([]models.Order, error) {
	var orders []models.Order
	err := s.listPayloads(ctx, "orders", status, func(raw []byte) error {
		var o models.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			return err
		}
		orders = append(orders, o)
		return nil
	})
	return orders, err
}

func (s *PostgresStore) CreateOrder(ctx context.Context, order models.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO orders (id, order_number, status, history_len, revision, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		order.ID, order.OrderNumber, string(order.Status), len(order.StatusHistory), order.Revision, payload, order.CreatedAt)
	return insertError(err, "order")
}

func (s *PostgresStore) SaveOrder(ctx context.Context, order models.Order, expected models.Version) error {
	order.Revision = expected.Revision + 1
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}
	return s.compareAndSwap(ctx, "orders", order.ID, order.Version(), expected, payload)
}

func (s *PostgresStore) GetAssignment(ctx context.Context, id string) (models.PackageAssignment, error) {
	var a models.PackageAssignment
	err := s.getPayload(ctx, "SELECT payload FROM package_assignments WHERE id = $1", id, &a)
	return a, err
}

func (s *PostgresStore) ListAssignments(ctx context.Context, status string) ([]models.PackageAssignment, error) {
	var out []models.PackageAssignment
	err := s.listPayloads(ctx, "package_assignments", status, func(raw []byte) error {
		var a models.PackageAssignment
		if err := json.Unmarshal(raw, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

func (s *PostgresStore) CreateAssignment(ctx context.Context, a models.PackageAssignment) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assignment: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO package_assignments (id, assignment_number, status, history_len, revision, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		a.ID, a.AssignmentNumber, string(a.Status), len(a.StatusHistory), a.Revision, payload, a.CreatedAt)
	return insertError(err, "assignment")
}

func (s *PostgresStore) SaveAssignment(ctx context.Context, a models.PackageAssignment, expected models.Version) error {
	a.Revision = expected.Revision + 1
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assignment: %w", err)
	}
	return s.compareAndSwap(ctx, "package_assignments", a.ID, a.Version(), expected, payload)
}

func (s *PostgresStore) ListStock(ctx context.Context) ([]models.StockItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, vendor, quantity_on_hand, low_stock_threshold, reorder_point, buying_price, selling_price
		FROM stock_items ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock: %w", err)
	}
	defer rows.Close()

	var items []models.StockItem
	for rows.Next() {
		var it models.StockItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Category, &it.Vendor, &it.QuantityOnHand,
			&it.LowStockThreshold, &it.ReorderPoint, &it.BuyingPrice, &it.SellingPrice); err != nil {
			return nil, fmt.Errorf("failed to scan stock item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *PostgresStore) PutStock(ctx context.Context, item models.StockItem) error {
	query := `
		INSERT INTO stock_items (id, name, category, vendor, quantity_on_hand, low_stock_threshold, reorder_point, buying_price, selling_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			category = EXCLUDED.category,
			vendor = EXCLUDED.vendor,
			quantity_on_hand = EXCLUDED.quantity_on_hand,
			low_stock_threshold = EXCLUDED.low_stock_threshold,
			reorder_point = EXCLUDED.reorder_point,
			buying_price = EXCLUDED.buying_price,
			selling_price = EXCLUDED.selling_price
	`
	_, err := s.db.ExecContext(ctx, query, item.ID, item.Name, item.Category, item.Vendor, item.QuantityOnHand,
		item.LowStockThreshold, item.ReorderPoint, item.BuyingPrice, item.SellingPrice)
	if err != nil {
		return fmt.Errorf("failed to persist stock item: %w", err)
	}
	return nil
}

func (s *PostgresStore) getPayload(ctx context.Context, query, id string, dst interface{}) error {
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load record: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}

// listPayloads is only called with package-defined table names.
func (s *PostgresStore) listPayloads(ctx context.Context, table, status string, each func([]byte) error) error {
	query := "SELECT payload FROM " + table + " ORDER BY created_at DESC, id"
	args := []interface{}{}
	if !isAll(status) {
		query = "SELECT payload FROM " + table + " WHERE status = $1 ORDER BY created_at DESC, id"
		args = append(args, strings.TrimSpace(status))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("failed to scan %s: %w", table, err)
		}
		if err := each(raw); err != nil {
			return fmt.Errorf("failed to decode %s: %w", table, err)
		}
	}
	return rows.Err()
}

// compareAndSwap writes payload only while the stored row is still at
// expected, revision included. A miss is reported as ErrNotFound or
// ErrStaleWrite depending on whether the row exists.
func (s *PostgresStore) compareAndSwap(ctx context.Context, table, id string, next, expected models.Version, payload []byte) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE "+table+" SET status = $1, history_len = $2, revision = $3, payload = $4 WHERE id = $5 AND status = $6 AND history_len = $7 AND revision = $8",
		next.Status, next.HistoryLen, next.Revision, payload, id, expected.Status, expected.HistoryLen, expected.Revision)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", table, err)
	}
	if n == 1 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check %s: %w", table, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleWrite
}

func insertError(err error, kind string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrAlreadyExists
	}
	return fmt.Errorf("failed to insert %s: %w", kind, err)
}
