package prices

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/kotori-note/kabunote/pkg/models"
)

// WarmPeriods are the chart periods cached ahead of demand.
var WarmPeriods = []string{"1W", "1M", "3M"}

// PeriodDays returns how many daily bars back a chart period. Every period
// reaches at least the 75 bars the long moving average needs, except
// unknown periods.
func PeriodDays(period string) int {
	switch period {
	case "1W":
		return 80
	case "1M":
		return 90
	case "3M":
		return 120
	case "6M":
		return 180
	case "1Y":
		return 365
	default:
		return 30
	}
}

var basePrices = map[string]float64{
	"7203": 3420,
	"6758": 13850,
	"9984": 7890,
	"6861": 52300,
}

const defaultBasePrice = 1000

// Synthetic produces deterministic stand-in series when market data is
// unavailable. The same code and period always give the same prices.
type Synthetic struct {
	clock clock.Clock
}

// NewSynthetic creates a Synthetic generator dated by clk.
func NewSynthetic(clk clock.Clock) *Synthetic {
	return &Synthetic{clock: clk}
}

// Series generates a daily random walk of ±3% a day starting from the
// code's base price. Bars end on the day before now.
func (s *Synthetic) Series(code, period string) []models.PricePoint {
	days := PeriodDays(period)
	rng := rand.New(rand.NewPCG(seed(code, period), 0x6b6162756e6f7465))

	price, ok := basePrices[code]
	if !ok {
		price = defaultBasePrice
	}

	today := s.clock.Now().UTC().Truncate(24 * time.Hour)
	day := today.AddDate(0, 0, -days)

	out := make([]models.PricePoint, 0, days)
	for i := 0; i < days; i++ {
		change := rng.Float64()*0.06 - 0.03
		open := price
		bar := models.PricePoint{
			Time:   day.Format("2006-01-02"),
			Open:   round2(open),
			High:   round2(open * (1 + math.Abs(change)*0.5)),
			Low:    round2(open * (1 - math.Abs(change)*0.5)),
			Close:  round2(open * (1 + change)),
			Volume: 1_000_000 + rng.Int64N(4_000_001),
		}
		out = append(out, bar)
		price = open * (1 + change)
		day = day.AddDate(0, 0, 1)
	}
	return out
}

func seed(code, period string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(code))
	h.Write([]byte{0})
	h.Write([]byte(period))
	return h.Sum64()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
