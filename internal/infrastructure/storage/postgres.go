package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
	"github.com/vitos/coin_tracker/internal/domain"
)

type snapshotRow struct {
	bun.BaseModel `bun:"table:asset_snapshots"`

	AssetID      string    `bun:"asset_id,pk"`
	DisplayName  string    `bun:"display_name,notnull"`
	Symbol       string    `bun:"symbol,notnull"`
	PriceUSD     *float64  `bun:"price_usd"`
	MarketCapUSD *float64  `bun:"market_cap_usd"`
	Change24hPct *float64  `bun:"change_24h_pct"`
	ObservedAt   time.Time `bun:"observed_at,notnull"`
}

type historyRow struct {
	bun.BaseModel `bun:"table:asset_history"`

	ID           int64     `bun:"id,pk,autoincrement"`
	CycleID      string    `bun:"cycle_id,notnull"`
	AssetID      string    `bun:"asset_id,notnull"`
	DisplayName  string    `bun:"display_name,notnull"`
	Symbol       string    `bun:"symbol,notnull"`
	PriceUSD     *float64  `bun:"price_usd"`
	MarketCapUSD *float64  `bun:"market_cap_usd"`
	Change24hPct *float64  `bun:"change_24h_pct"`
	ObservedAt   time.Time `bun:"observed_at,notnull"`
}

func (r *snapshotRow) toDomain() *domain.AssetSnapshot {
	return &domain.AssetSnapshot{
		AssetID:      r.AssetID,
		DisplayName:  r.DisplayName,
		Symbol:       r.Symbol,
		PriceUSD:     r.PriceUSD,
		MarketCapUSD: r.MarketCapUSD,
		Change24hPct: r.Change24hPct,
		ObservedAt:   r.ObservedAt,
	}
}

func (r *historyRow) toDomain() *domain.HistoryRecord {
	return &domain.HistoryRecord{
		ID:      r.ID,
		CycleID: r.CycleID,
		AssetSnapshot: domain.AssetSnapshot{
			AssetID:      r.AssetID,
			DisplayName:  r.DisplayName,
			Symbol:       r.Symbol,
			PriceUSD:     r.PriceUSD,
			MarketCapUSD: r.MarketCapUSD,
			Change24hPct: r.Change24hPct,
			ObservedAt:   r.ObservedAt,
		},
	}
}

// PostgresStore keeps snapshots and history in PostgreSQL through bun.
type PostgresStore struct {
	db *bun.DB
}

func NewPostgresStore(ctx context.Context, dsn string, timeout time.Duration) (*PostgresStore, error) {
	connector, err := newConnector(dsn, timeout)
	if err != nil {
		return nil, err
	}
	db := bun.NewDB(sql.OpenDB(connector), pgdialect.New())
	db.AddQueryHook(bundebug.NewQueryHook(
		bundebug.WithEnabled(false),
		// BUNDEBUG=1 logs failed queries, BUNDEBUG=2 logs all queries
		bundebug.FromEnv("BUNDEBUG"),
	))

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// newConnector turns the panic pgdriver.WithDSN raises on a bad DSN into an error.
func newConnector(dsn string, timeout time.Duration) (connector *pgdriver.Connector, err error) {
	defer func() {
		if r := recover(); r != nil {
			cause, ok := r.(error)
			if !ok {
				cause = fmt.Errorf("%v", r)
			}
			connector = nil
			msg := strings.ReplaceAll(unwrapURLError(cause).Error(), dsn, redact(dsn))
			err = fmt.Errorf("%w: %q: %s", ErrUnsupportedURI, redact(dsn), msg)
		}
	}()
	return pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithDialTimeout(timeout),
	), nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*snapshotRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	if _, err := s.db.NewCreateTable().Model((*historyRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := s.db.NewCreateIndex().
		Model((*historyRow)(nil)).
		Index("asset_history_asset_id_idx").
		Column("asset_id").
		IfNotExists().
		Exec(ctx)
	return err
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap *domain.AssetSnapshot) error {
	row := &snapshotRow{
		AssetID:      snap.AssetID,
		DisplayName:  snap.DisplayName,
		Symbol:       snap.Symbol,
		PriceUSD:     snap.PriceUSD,
		MarketCapUSD: snap.MarketCapUSD,
		Change24hPct: snap.Change24hPct,
		ObservedAt:   snap.ObservedAt,
	}
	_, err := s.upsertSnapshotQuery(row).Exec(ctx)
	return err
}

func (s *PostgresStore) upsertSnapshotQuery(row *snapshotRow) *bun.InsertQuery {
	return s.db.NewInsert().
		Model(row).
		On("CONFLICT (asset_id) DO UPDATE").
		Set("display_name = EXCLUDED.display_name").
		Set("symbol = EXCLUDED.symbol").
		Set("price_usd = EXCLUDED.price_usd").
		Set("market_cap_usd = EXCLUDED.market_cap_usd").
		Set("change_24h_pct = EXCLUDED.change_24h_pct").
		Set("observed_at = EXCLUDED.observed_at")
}

func (s *PostgresStore) ListSnapshots(ctx context.Context) ([]*domain.AssetSnapshot, error) {
	var rows []snapshotRow
	err := s.db.NewSelect().
		Model(&rows).
		OrderExpr("market_cap_usd DESC NULLS LAST, asset_id").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	snaps := make([]*domain.AssetSnapshot, 0, len(rows))
	for i := range rows {
		snaps = append(snaps, rows[i].toDomain())
	}
	return snaps, nil
}

func (s *PostgresStore) AppendHistory(ctx context.Context, rec *domain.HistoryRecord) error {
	row := &historyRow{
		CycleID:      rec.CycleID,
		AssetID:      rec.AssetID,
		DisplayName:  rec.DisplayName,
		Symbol:       rec.Symbol,
		PriceUSD:     rec.PriceUSD,
		MarketCapUSD: rec.MarketCapUSD,
		Change24hPct: rec.Change24hPct,
		ObservedAt:   rec.ObservedAt,
	}
	if _, err := s.appendHistoryQuery(row).Exec(ctx); err != nil {
		return err
	}
	rec.ID = row.ID
	return nil
}

func (s *PostgresStore) appendHistoryQuery(row *historyRow) *bun.InsertQuery {
	return s.db.NewInsert().Model(row).Returning("id")
}

func (s *PostgresStore) ListHistory(ctx context.Context, assetID string) ([]*domain.HistoryRecord, error) {
	var rows []historyRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("asset_id = ?", assetID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	history := make([]*domain.HistoryRecord, 0, len(rows))
	for i := range rows {
		history = append(history, rows[i].toDomain())
	}
	return history, nil
}
