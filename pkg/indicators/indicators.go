// Package indicators computes the technical indicator snapshot of a price
// series with go-talib.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/kotori-note/kabunote/pkg/models"
)

// MinPoints is the shortest series indicators are computed for. It is the
// SMA75 window.
const MinPoints = 75

const (
	shortSMA   = 25
	longSMA    = 75
	rsiPeriod  = 14
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

// Compute returns the latest indicator values of points. Series shorter than
// MinPoints yield an empty snapshot.
func Compute(points []models.PricePoint) models.Indicators {
	if len(points) < MinPoints {
		return models.Indicators{}
	}

	closes := make([]float64, len(points))
	volumes := make([]float64, len(points))
	for i, p := range points {
		closes[i] = p.Close
		volumes[i] = float64(p.Volume)
	}

	macd, signal, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	return models.Indicators{
		SMA25:         last(talib.Sma(closes, shortSMA)),
		SMA75:         last(talib.Sma(closes, longSMA)),
		RSI14:         last(talib.Rsi(closes, rsiPeriod)),
		MACDLine:      last(macd),
		MACDSignal:    last(signal),
		MACDHistogram: last(hist),
		VolumeSMA25:   last(talib.Sma(volumes, shortSMA)),
	}
}

// last returns the final value of a talib output, or nil when it is
// missing or not a number.
func last(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	v := values[len(values)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
