package models

import "time"

// Stock is an entry of the stock catalog.
type Stock struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Market   string `json:"market"`
	Sector   string `json:"sector,omitempty"`
	IsActive bool   `json:"is_active"`
}

// PricePoint is one OHLCV bar.
type PricePoint struct {
	Time   string  `json:"time" msgpack:"time"` // YYYY-MM-DD
	Open   float64 `json:"open" msgpack:"open"`
	High   float64 `json:"high" msgpack:"high"`
	Low    float64 `json:"low" msgpack:"low"`
	Close  float64 `json:"close" msgpack:"close"`
	Volume int64   `json:"volume" msgpack:"volume"`
}

// SeriesSource tells real market data apart from the synthetic fallback.
type SeriesSource string

const (
	SourceMarket    SeriesSource = "market"
	SourceSynthetic SeriesSource = "synthetic"
)

// PriceSeries is an ordered price history for one stock and chart period.
type PriceSeries struct {
	StockCode   string       `json:"stock_code" msgpack:"stock_code"`
	Period      string       `json:"period" msgpack:"period"`
	Data        []PricePoint `json:"data" msgpack:"data"`
	Source      SeriesSource `json:"source" msgpack:"source"`
	LastUpdated time.Time    `json:"last_updated" msgpack:"last_updated"`
}

// Closes returns the closing prices in order.
func (s *PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Data))
	for i, p := range s.Data {
		out[i] = p.Close
	}
	return out
}

// Indicators is the technical indicator snapshot of a price series.
// Nil fields mean the series was too short to compute them.
type Indicators struct {
	SMA25         *float64 `json:"sma_25" msgpack:"sma_25"`
	SMA75         *float64 `json:"sma_75" msgpack:"sma_75"`
	RSI14         *float64 `json:"rsi_14" msgpack:"rsi_14"`
	MACDLine      *float64 `json:"macd_line" msgpack:"macd_line"`
	MACDSignal    *float64 `json:"macd_signal" msgpack:"macd_signal"`
	MACDHistogram *float64 `json:"macd_histogram" msgpack:"macd_histogram"`
	VolumeSMA25   *float64 `json:"volume_sma_25" msgpack:"volume_sma_25"`
}
