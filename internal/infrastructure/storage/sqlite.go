package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/coin_tracker/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer; an in-memory database also lives in one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS asset_snapshots (
			asset_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			symbol TEXT NOT NULL,
			price_usd REAL,
			market_cap_usd REAL,
			change_24h_pct REAL,
			observed_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS asset_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			asset_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			symbol TEXT NOT NULL,
			price_usd REAL,
			market_cap_usd REAL,
			change_24h_pct REAL,
			observed_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_asset_history_asset_id ON asset_history(asset_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SnapshotRepository Implementation

func (s *SQLiteStore) UpsertSnapshot(ctx context.Context, snap *domain.AssetSnapshot) error {
	query := `INSERT INTO asset_snapshots (asset_id, display_name, symbol, price_usd, market_cap_usd, change_24h_pct, observed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(asset_id) DO UPDATE SET
			  display_name=excluded.display_name,
			  symbol=excluded.symbol,
			  price_usd=excluded.price_usd,
			  market_cap_usd=excluded.market_cap_usd,
			  change_24h_pct=excluded.change_24h_pct,
			  observed_at=excluded.observed_at`
	_, err := s.db.ExecContext(ctx, query,
		snap.AssetID, snap.DisplayName, snap.Symbol, snap.PriceUSD, snap.MarketCapUSD, snap.Change24hPct, snap.ObservedAt)
	return err
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context) ([]*domain.AssetSnapshot, error) {
	query := `SELECT asset_id, display_name, symbol, price_usd, market_cap_usd, change_24h_pct, observed_at FROM asset_snapshots ORDER BY market_cap_usd DESC, asset_id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snaps := []*domain.AssetSnapshot{}
	for rows.Next() {
		var a domain.AssetSnapshot
		if err := rows.Scan(&a.AssetID, &a.DisplayName, &a.Symbol, &a.PriceUSD, &a.MarketCapUSD, &a.Change24hPct, &a.ObservedAt); err != nil {
			return nil, err
		}
		snaps = append(snaps, &a)
	}
	return snaps, rows.Err()
}

// HistoryRepository Implementation

func (s *SQLiteStore) AppendHistory(ctx context.Context, rec *domain.HistoryRecord) error {
	query := `INSERT INTO asset_history (cycle_id, asset_id, display_name, symbol, price_usd, market_cap_usd, change_24h_pct, observed_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		rec.CycleID, rec.AssetID, rec.DisplayName, rec.Symbol, rec.PriceUSD, rec.MarketCapUSD, rec.Change24hPct, rec.ObservedAt)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListHistory(ctx context.Context, assetID string) ([]*domain.HistoryRecord, error) {
	query := `SELECT id, cycle_id, asset_id, display_name, symbol, price_usd, market_cap_usd, change_24h_pct, observed_at FROM asset_history WHERE asset_id = ? ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := []*domain.HistoryRecord{}
	for rows.Next() {
		var h domain.HistoryRecord
		if err := rows.Scan(&h.ID, &h.CycleID, &h.AssetID, &h.DisplayName, &h.Symbol, &h.PriceUSD, &h.MarketCapUSD, &h.Change24hPct, &h.ObservedAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}
