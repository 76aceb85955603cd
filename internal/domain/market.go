package domain

import "time"

// MarketData is one observed data point for a ticker. Timestamp is
// when the data refers to; AvailableAt is when the system could first
// have seen it. Reads filtered by AvailableAt keep simulations free of
// lookahead bias.
type MarketData struct {
	Ticker      string         `json:"ticker"`
	Timestamp   time.Time      `json:"timestamp"`
	AvailableAt time.Time      `json:"available_at"`
	Open        *float64       `json:"open,omitempty"`
	High        *float64       `json:"high,omitempty"`
	Low         *float64       `json:"low,omitempty"`
	Close       float64        `json:"close"`
	Volume      *float64       `json:"volume,omitempty"`
	Source      string         `json:"source,omitempty"`
	DataType    string         `json:"data_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// MarketSnapshot is a point-in-time view of market state used when
// assembling decision context.
type MarketSnapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Prices    map[string]float64 `json:"prices"`
	VIX       *float64           `json:"vix,omitempty"`
	Yields    map[string]float64 `json:"yields,omitempty"`
}
