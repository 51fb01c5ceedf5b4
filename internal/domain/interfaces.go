package domain

import "context"

// MarketSource retrieves one batch of asset snapshots from an upstream provider.
type MarketSource interface {
	FetchMarkets(ctx context.Context) ([]AssetSnapshot, error)
}

// SnapshotRepository holds the latest state per asset.
type SnapshotRepository interface {
	// UpsertSnapshot inserts the row or replaces every field of the existing one.
	UpsertSnapshot(ctx context.Context, snap *AssetSnapshot) error
	ListSnapshots(ctx context.Context) ([]*AssetSnapshot, error)
}

// HistoryRepository is an append-only log of snapshots.
type HistoryRepository interface {
	// AppendHistory always inserts a new record; there is no deduplication.
	AppendHistory(ctx context.Context, rec *HistoryRecord) error
	// ListHistory returns every record for the asset in insertion order.
	ListHistory(ctx context.Context, assetID string) ([]*HistoryRecord, error)
}

// Store is a connected storage backend.
type Store interface {
	SnapshotRepository
	HistoryRepository
	Ping(ctx context.Context) error
	Close() error
}
