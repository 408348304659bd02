// Package prices serves stock price series and their indicators through the
// expiring cache.
package prices

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/kotori-note/kabunote/pkg/cache"
	"github.com/kotori-note/kabunote/pkg/indicators"
	"github.com/kotori-note/kabunote/pkg/metrics"
	"github.com/kotori-note/kabunote/pkg/models"
)

// Service is a cache-aside wrapper around a Fetcher. It never fails a read:
// cache errors degrade to misses and fetch errors to synthetic data.
type Service struct {
	cache     *cache.Store
	fetcher   Fetcher
	synthetic *Synthetic
	clock     clock.Clock
	log       zerolog.Logger
}

// NewService creates a Service. A nil fetcher serves synthetic data only.
func NewService(c *cache.Store, fetcher Fetcher, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		cache:     c,
		fetcher:   fetcher,
		synthetic: NewSynthetic(clk),
		clock:     clk,
		log:       log.With().Str("component", "prices").Logger(),
	}
}

func seriesLookup(code, period string) cache.Lookup {
	return cache.Lookup{
		Namespace: cache.NamespaceStockPrice,
		Subject:   code,
		Params:    map[string]string{"period": period},
	}
}

func indicatorLookup(code, period string) cache.Lookup {
	return cache.Lookup{
		Namespace: cache.NamespaceIndicators,
		Subject:   code,
		Params:    map[string]string{"period": period},
	}
}

// Series returns the price series of code for period.
func (s *Service) Series(ctx context.Context, code, period string) *models.PriceSeries {
	var cached models.PriceSeries
	ok, err := s.cache.Load(ctx, seriesLookup(code, period), &cached)
	if err != nil {
		s.log.Warn().Err(err).Str("code", code).Str("period", period).Msg("price cache read failed")
	}
	if ok {
		return &cached
	}

	series := s.load(ctx, code, period)
	if err := s.cache.Save(ctx, seriesLookup(code, period), series); err != nil {
		s.log.Warn().Err(err).Str("code", code).Str("period", period).Msg("price cache write failed")
	}
	return series
}

func (s *Service) load(ctx context.Context, code, period string) *models.PriceSeries {
	series := &models.PriceSeries{
		StockCode:   code,
		Period:      period,
		LastUpdated: s.clock.Now().UTC(),
	}

	if s.fetcher != nil {
		points, err := s.fetcher.Fetch(ctx, code, period)
		if err == nil {
			series.Data = points
			series.Source = models.SourceMarket
			metrics.PriceFetches.WithLabelValues(string(models.SourceMarket)).Inc()
			return series
		}
		s.log.Warn().Err(err).Str("code", code).Str("period", period).Msg("market data unavailable, using synthetic series")
	}

	series.Data = s.synthetic.Series(code, period)
	series.Source = models.SourceSynthetic
	metrics.PriceFetches.WithLabelValues(string(models.SourceSynthetic)).Inc()
	return series
}

// Indicators returns the indicator snapshot of code for period, computing it
// from Series on a miss.
func (s *Service) Indicators(ctx context.Context, code, period string) models.Indicators {
	var cached models.Indicators
	ok, err := s.cache.Load(ctx, indicatorLookup(code, period), &cached)
	if err != nil {
		s.log.Warn().Err(err).Str("code", code).Str("period", period).Msg("indicator cache read failed")
	}
	if ok {
		return cached
	}

	ind := indicators.Compute(s.Series(ctx, code, period).Data)
	if err := s.cache.Save(ctx, indicatorLookup(code, period), ind); err != nil {
		s.log.Warn().Err(err).Str("code", code).Str("period", period).Msg("indicator cache write failed")
	}
	return ind
}

// WarmUp caches the WarmPeriods series of every code that is not already
// cached and returns how many series it loaded.
func (s *Service) WarmUp(ctx context.Context, codes []string) (int, error) {
	warmed := 0
	for _, code := range codes {
		for _, period := range WarmPeriods {
			if err := ctx.Err(); err != nil {
				return warmed, fmt.Errorf("warm up: %w", err)
			}
			l := seriesLookup(code, period)
			_, ok, err := s.cache.Get(ctx, l.Key())
			if err != nil {
				s.log.Warn().Err(err).Str("code", code).Str("period", period).Msg("warm up lookup failed")
				continue
			}
			if ok {
				continue
			}
			if err := s.cache.Save(ctx, l, s.load(ctx, code, period)); err != nil {
				s.log.Warn().Err(err).Str("code", code).Str("period", period).Msg("warm up write failed")
				continue
			}
			warmed++
		}
	}
	s.log.Info().Int("warmed", warmed).Msg("price cache warmed up")
	return warmed, nil
}
