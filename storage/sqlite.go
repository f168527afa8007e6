package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"pricewatch/models"
)

var _ Registry = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT,
		source_prices JSON,
		source_urls JSON,
		created_at DATETIME,
		updated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY,
		product_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		prices JSON NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		product_name TEXT,
		source TEXT NOT NULL,
		old_price REAL,
		new_price REAL,
		percent_change REAL,
		created_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS check_runs (
		id INTEGER PRIMARY KEY,
		trigger_type TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		products_checked INTEGER,
		products_failed INTEGER,
		alerts_created INTEGER
	);

	CREATE TABLE IF NOT EXISTS check_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		product_id TEXT
	);

	CREATE TABLE IF NOT EXISTS commands (
		id INTEGER PRIMARY KEY,
		command TEXT,
		params JSON,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		processed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_history_product ON price_history(product_id, id);
	CREATE INDEX IF NOT EXISTS idx_alerts_product ON alerts(product_id);
	CREATE INDEX IF NOT EXISTS idx_commands_pending ON commands(processed_at) WHERE processed_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_logs_run ON check_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON check_runs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// Products
// =============================================================================

func (s *SQLiteStore) CreateProduct(ctx context.Context, p *models.Product) error {
	prices, urls, err := marshalProductMaps(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, source_prices, source_urls, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Category, prices, urls, p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	var category sql.NullString
	var prices, urls []byte
	if err := row.Scan(&p.ID, &p.Name, &category, &prices, &urls, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Category = category.String
	if err := unmarshalProductMaps(&p, prices, urls); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, source_prices, source_urls, created_at, updated_at
		FROM products WHERE id = ?`, id)

	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *SQLiteStore) ListProducts(ctx context.Context) ([]*models.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, source_prices, source_urls, created_at, updated_at
		FROM products ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *SQLiteStore) UpdateProduct(ctx context.Context, id string, patch models.ProductPatch) (*models.Product, error) {
	var updated *models.Product
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, name, category, source_prices, source_urls, created_at, updated_at
			FROM products WHERE id = ?`, id)
		p, err := scanProduct(row)
		if errors.Is(err, sql.ErrNoRows) {
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
		_, err = tx.ExecContext(ctx, `
			UPDATE products SET name = ?, category = ?, source_prices = ?, source_urls = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, p.Category, prices, urls, p.UpdatedAt, id)
		updated = p
		return err
	})
	return updated, err
}

func (s *SQLiteStore) SetSourcePrice(ctx context.Context, id string, source models.Source, price float64, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var raw []byte
		err := tx.QueryRowContext(ctx, `SELECT source_prices FROM products WHERE id = ?`, id).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		prices := make(map[models.Source]*float64)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &prices); err != nil {
				return fmt.Errorf("decode source prices: %w", err)
			}
		}
		prices[source] = models.Float64Ptr(price)

		encoded, err := json.Marshal(prices)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE products SET source_prices = ?, updated_at = ? WHERE id = ?`,
			encoded, at.UTC(), id)
		return err
	})
}

func (s *SQLiteStore) DeleteProduct(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM price_history WHERE product_id = ?`, id)
		return err
	})
}

// =============================================================================
// History
// =============================================================================

func scanEntry(row rowScanner) (*models.HistoryEntry, error) {
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

func (s *SQLiteStore) LatestHistoryEntry(ctx context.Context, productID string) (*models.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, product_id, timestamp, prices
		FROM price_history WHERE product_id = ? ORDER BY id DESC LIMIT 1`, productID)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) InsertHistoryEntry(ctx context.Context, e *models.HistoryEntry) error {
	prices, err := json.Marshal(e.Prices)
	if err != nil {
		return err
	}
	// a product deleted mid-check must not get its timeline back
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO price_history (product_id, timestamp, prices)
		SELECT ?, ?, ? WHERE EXISTS (SELECT 1 FROM products WHERE id = ?)`,
		e.ProductID, e.Timestamp.UTC(), prices, e.ProductID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	e.ID, err = res.LastInsertId()
	return err
}

func (s *SQLiteStore) UpdateHistoryEntry(ctx context.Context, e *models.HistoryEntry) error {
	prices, err := json.Marshal(e.Prices)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE price_history SET prices = ? WHERE id = ?`, prices, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) History(ctx context.Context, productID string) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, timestamp, prices
		FROM price_history WHERE product_id = ? ORDER BY id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) DeleteHistory(ctx context.Context, productID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM price_history WHERE product_id = ?`, productID)
	return err
}

// =============================================================================
// Alerts
// =============================================================================

func (s *SQLiteStore) AddAlert(ctx context.Context, a *models.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, product_id, product_name, source, old_price, new_price, percent_change, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProductID, a.ProductName, string(a.Source), a.OldPrice, a.NewPrice, a.PercentChange, a.CreatedAt.UTC())
	return err
}

func (s *SQLiteStore) ListAlerts(ctx context.Context) ([]models.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, product_name, source, old_price, new_price, percent_change, created_at
		FROM alerts ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := []models.Alert{}
	for rows.Next() {
		var a models.Alert
		var name sql.NullString
		var source string
		if err := rows.Scan(&a.ID, &a.ProductID, &name, &source, &a.OldPrice, &a.NewPrice, &a.PercentChange, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.ProductName = name.String
		a.Source = models.Source(source)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *SQLiteStore) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Runs, logs and commands
// =============================================================================

func (s *SQLiteStore) CreateRun(run *models.CheckRun) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO check_runs (trigger_type, started_at, status, products_checked, products_failed, alerts_created)
		VALUES (?, ?, ?, 0, 0, 0)`,
		string(run.Trigger), run.StartedAt.UTC(), string(run.Status))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateRun(run *models.CheckRun) error {
	_, err := s.db.Exec(`
		UPDATE check_runs SET finished_at = ?, status = ?, products_checked = ?, products_failed = ?, alerts_created = ?
		WHERE id = ?`,
		run.FinishedAt, string(run.Status), run.ProductsChecked, run.ProductsFailed, run.AlertsCreated, run.ID)
	return err
}

func (s *SQLiteStore) RecentRuns(limit int) ([]models.CheckRun, error) {
	rows, err := s.db.Query(`
		SELECT id, trigger_type, started_at, finished_at, status, products_checked, products_failed, alerts_created
		FROM check_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.CheckRun
	for rows.Next() {
		var r models.CheckRun
		var trigger, status string
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &trigger, &r.StartedAt, &finished, &status,
			&r.ProductsChecked, &r.ProductsFailed, &r.AlertsCreated); err != nil {
			return nil, err
		}
		r.Trigger = models.RunTrigger(trigger)
		r.Status = models.RunStatus(status)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) Log(runID *int64, level models.LogLevel, message, productID string) error {
	_, err := s.db.Exec(`
		INSERT INTO check_logs (run_id, timestamp, level, message, product_id)
		VALUES (?, ?, ?, ?, ?)`,
		runID, time.Now().UTC(), string(level), message, productID)
	return err
}

func (s *SQLiteStore) EnqueueCommand(cmd models.CommandType, params models.CommandParams) (int64, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Exec(`INSERT INTO commands (command, params, created_at) VALUES (?, ?, ?)`,
		string(cmd), encoded, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetPendingCommands() ([]models.Command, error) {
	rows, err := s.db.Query(`
		SELECT id, command, params, created_at
		FROM commands WHERE processed_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []models.Command
	for rows.Next() {
		var cmd models.Command
		var command string
		var params []byte
		if err := rows.Scan(&cmd.ID, &command, &params, &cmd.CreatedAt); err != nil {
			return nil, err
		}
		cmd.Command = models.CommandType(command)
		cmd.Params = json.RawMessage(params)
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLiteStore) MarkCommandProcessed(id int64) error {
	_, err := s.db.Exec(`UPDATE commands SET processed_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

func ParseCommandParams(cmd *models.Command) (*models.CommandParams, error) {
	var params models.CommandParams
	if len(cmd.Params) == 0 {
		return &params, nil
	}
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return nil, fmt.Errorf("parse params for command %d: %w", cmd.ID, err)
	}
	return &params, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func marshalProductMaps(p *models.Product) ([]byte, []byte, error) {
	prices := p.SourcePrices
	if prices == nil {
		prices = map[models.Source]*float64{}
	}
	urls := p.SourceURLs
	if urls == nil {
		urls = map[models.Source]string{}
	}
	encodedPrices, err := json.Marshal(prices)
	if err != nil {
		return nil, nil, fmt.Errorf("encode source prices: %w", err)
	}
	encodedURLs, err := json.Marshal(urls)
	if err != nil {
		return nil, nil, fmt.Errorf("encode source urls: %w", err)
	}
	return encodedPrices, encodedURLs, nil
}

func unmarshalProductMaps(p *models.Product, prices, urls []byte) error {
	p.SourcePrices = make(map[models.Source]*float64)
	p.SourceURLs = make(map[models.Source]string)
	if len(prices) > 0 {
		if err := json.Unmarshal(prices, &p.SourcePrices); err != nil {
			return fmt.Errorf("decode source prices: %w", err)
		}
	}
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &p.SourceURLs); err != nil {
			return fmt.Errorf("decode source urls: %w", err)
		}
	}
	return nil
}
