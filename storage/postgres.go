package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"pricewatch/models"
)

var _ Registry = (*PostgresStore)(nil)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			name TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			source_prices JSONB NOT NULL DEFAULT '{}',
			source_urls JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS price_history (
			id BIGSERIAL PRIMARY KEY,
			product_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			prices JSONB NOT NULL
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			seq BIGSERIAL,
			product_id TEXT NOT NULL,
			product_name TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			old_price DOUBLE PRECISION NOT NULL,
			new_price DOUBLE PRECISION NOT NULL,
			percent_change DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_price_history_product ON price_history(product_id, id);
	`)
	return err
}

// =============================================================================
// Products
// =============================================================================

const productColumns = `id, name, category, source_prices, source_urls, created_at, updated_at`

func scanPgProduct(row pgx.Row) (*models.Product, error) {
	var p models.Product
	var prices, urls []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &prices, &urls, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalProductMaps(&p, prices, urls); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *models.Product) error {
	prices, urls, err := marshalProductMaps(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO products (id, name, category, source_prices, source_urls, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.Category, prices, urls, p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := scanPgProduct(s.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]*models.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanPgProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error) {
	var updated *models.Product
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		p, err := scanPgProduct(tx.QueryRow(ctx,
			`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		patch.Apply(p, time.Now().UTC())
		prices, urls, err := marshalProductMaps(p)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE products SET name = $2, category = $3, source_prices = $4, source_urls = $5, updated_at = $6
			WHERE id = $1`,
			id, p.Name, p.Category, prices, urls, p.UpdatedAt)
		updated = p
		return err
	})
	return updated, err
}

func (s *PostgresStore) SetSourcePrice(ctx context.Context, id string, source models.Source, price float64, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE products
		SET source_prices = jsonb_set(source_prices, ARRAY[$2::text], to_jsonb($3::double precision)),
			updated_at = $4
		WHERE id = $1`,
		id, string(source), price, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = tx.Exec(ctx, `DELETE FROM price_history WHERE product_id = $1`, id)
		return err
	})
}

// =============================================================================
// History
// =============================================================================

func scanPgEntry(row pgx.Row) (*models.HistoryEntry, error) {
	var e models.HistoryEntry
	var prices []byte
	if err := row.Scan(&e.ID, &e.ProductID, &e.Timestamp, &prices); err != nil {
		return nil, err
	}
	e.Prices = make(map[models.Source]float64)
	if err := json.Unmarshal(prices, &e.Prices); err != nil {
		return nil, fmt.Errorf("decode history prices: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) LatestHistoryEntry(ctx context.Context, productID string) (*models.HistoryEntry, error) {
	e, err := scanPgEntry(s.pool.QueryRow(ctx, `
		SELECT id, product_id, timestamp, prices
		FROM price_history WHERE product_id = $1 ORDER BY id DESC LIMIT 1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *PostgresStore) InsertHistoryEntry(ctx context.Context, e *models.HistoryEntry) error {
	prices, err := json.Marshal(e.Prices)
	if err != nil {
		return err
	}
	// FOR SHARE makes a concurrent DeleteProduct wait for, or win over, this insert
	err = s.pool.QueryRow(ctx, `
		INSERT INTO price_history (product_id, timestamp, prices)
		SELECT $1::text, $2::timestamptz, $3::jsonb
		WHERE EXISTS (SELECT 1 FROM products WHERE id = $1 FOR SHARE)
		RETURNING id`,
		e.ProductID, e.Timestamp, prices).Scan(&e.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) UpdateHistoryEntry(ctx context.Context, e *models.HistoryEntry) error {
	prices, err := json.Marshal(e.Prices)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `UPDATE price_history SET prices = $2 WHERE id = $1`, e.ID, prices)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, productID string) ([]models.HistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, timestamp, prices
		FROM price_history WHERE product_id = $1 ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) DeleteHistory(ctx context.Context, productID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM price_history WHERE product_id = $1`, productID)
	return err
}

// =============================================================================
// Alerts
// =============================================================================

func (s *PostgresStore) AddAlert(ctx context.Context, a *models.Alert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alerts (id, product_id, product_name, source, old_price, new_price, percent_change, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.ProductID, a.ProductName, string(a.Source), a.OldPrice, a.NewPrice, a.PercentChange, a.CreatedAt)
	return err
}

func (s *PostgresStore) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, product_id, product_name, source, old_price, new_price, percent_change, created_at
		FROM alerts ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		var a models.Alert
		var source string
		if err := rows.Scan(&a.ID, &a.ProductID, &a.ProductName, &source, &a.OldPrice, &a.NewPrice, &a.PercentChange, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Source = models.Source(source)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) DeleteAlert(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
