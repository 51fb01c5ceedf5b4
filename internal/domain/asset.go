package domain

import "time"

// AssetSnapshot is the latest known market state of one asset.
// Nil numeric fields mean the upstream omitted them.
type AssetSnapshot struct {
	AssetID      string    `json:"coin_id"`
	DisplayName  string    `json:"name"`
	Symbol       string    `json:"symbol"`
	PriceUSD     *float64  `json:"price_usd"`
	MarketCapUSD *float64  `json:"market_cap"`
	Change24hPct *float64  `json:"change_24h_pct"`
	ObservedAt   time.Time `json:"timestamp"`
}

// HistoryRecord is an immutable point-in-time copy of a snapshot.
type HistoryRecord struct {
	ID      int64  `json:"id"`
	CycleID string `json:"cycle_id"`
	AssetSnapshot
}

func NewHistoryRecord(cycleID string, snap AssetSnapshot) *HistoryRecord {
	return &HistoryRecord{CycleID: cycleID, AssetSnapshot: snap}
}
