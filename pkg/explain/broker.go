// Package explain produces AI chart explanations under quota control and
// caches them per stock code and period.
package explain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kotori-note/kabunote/pkg/metrics"
	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/provider"
	"github.com/kotori-note/kabunote/pkg/quota"
)

// Config holds broker configuration.
type Config struct {
	// FallbackToMock serves the mock explanation when the provider fails
	// instead of returning provider.ErrUnavailable.
	FallbackToMock bool `yaml:"fallback_to_mock"`
	// Dedupe collapses concurrent misses on the same code and period into
	// one generation.
	Dedupe bool `yaml:"dedupe"`
}

// DefaultConfig returns the broker defaults.
func DefaultConfig() Config {
	return Config{Dedupe: true}
}

// Source supplies the chart inputs of an explanation.
type Source interface {
	Series(ctx context.Context, code, period string) *models.PriceSeries
	Indicators(ctx context.Context, code, period string) models.Indicators
}

// Ledger is the quota interface the broker needs.
type Ledger interface {
	CheckAdmission(ctx context.Context, userID string, estimatedTokens int64) (models.UsageStatus, error)
	RecordUsage(ctx context.Context, userID string, actualTokens int64) error
	Limits() quota.Limits
}

// Broker runs cache lookup, admission, generation, usage recording and
// cache write for explanation requests.
type Broker struct {
	records *Records
	ledger  Ledger
	source  Source
	gen     provider.Generator
	clock   clock.Clock
	ttl     time.Duration
	cfg     Config
	group   singleflight.Group
	log     zerolog.Logger
}

// NewBroker creates a Broker. ttl is the lifetime of stored explanations.
func NewBroker(records *Records, ledger Ledger, source Source, gen provider.Generator,
	clk clock.Clock, ttl time.Duration, cfg Config, log zerolog.Logger) *Broker {
	if gen == nil {
		gen = provider.Disabled{}
	}
	return &Broker{
		records: records,
		ledger:  ledger,
		source:  source,
		gen:     gen,
		clock:   clk,
		ttl:     ttl,
		cfg:     cfg,
		log:     log.With().Str("component", "explain").Logger(),
	}
}

// ProviderConfigured reports whether a live generator is attached.
func (b *Broker) ProviderConfigured() bool {
	return b.gen.Configured()
}

// Cached returns the live explanation for code and period, or nil. Store
// errors are returned.
func (b *Broker) Cached(ctx context.Context, code, period string) (*models.Explanation, error) {
	return b.records.Get(ctx, code, period)
}

// GetOrCreate returns the cached explanation for code and period, or
// generates one charged to userID.
//
// Admission is checked for every caller. With Dedupe, admitted callers that
// miss on the same code and period share one generation, which is charged to
// the caller that started it. Each caller waits under its own ctx; the shared
// generation is not cancelled when the caller that started it goes away.
//
// Errors: *quota.RateLimitedError when admission is denied, a
// store.ErrUnavailable error when the ledger cannot be read or written, and
// provider.ErrUnavailable when generation fails without mock fallback.
func (b *Broker) GetOrCreate(ctx context.Context, code, period, userID string) (*models.Explanation, error) {
	if exp := b.lookup(ctx, code, period); exp != nil {
		return exp, nil
	}
	if err := b.admit(ctx, code, period, userID); err != nil {
		return nil, err
	}
	if !b.cfg.Dedupe {
		return b.produce(ctx, code, period, userID)
	}

	shared := context.WithoutCancel(ctx)
	ch := b.group.DoChan(code+"|"+period, func() (any, error) {
		if exp := b.lookup(shared, code, period); exp != nil {
			return exp, nil
		}
		return b.produce(shared, code, period, userID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			b.log.Debug().Str("code", code).Str("period", period).Msg("joined in-flight explanation")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Explanation), nil
	}
}

// lookup treats store errors as misses; admission still guards the
// provider behind it.
func (b *Broker) lookup(ctx context.Context, code, period string) *models.Explanation {
	exp, err := b.records.Get(ctx, code, period)
	if err != nil {
		b.log.Warn().Err(err).Str("code", code).Str("period", period).Msg("explanation lookup failed, treating as miss")
		return nil
	}
	if exp != nil {
		metrics.CacheLookups.WithLabelValues("ai_explanation", "hit").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("ai_explanation", "miss").Inc()
	}
	return exp
}

func (b *Broker) admit(ctx context.Context, code, period, userID string) error {
	status, err := b.ledger.CheckAdmission(ctx, userID, b.ledger.Limits().TokensPerRequest)
	if err != nil {
		return fmt.Errorf("explain %s/%s: %w", code, period, err)
	}
	return quota.Denial(status)
}

// produce generates, charges and stores an explanation for an admitted
// caller.
func (b *Broker) produce(ctx context.Context, code, period, userID string) (*models.Explanation, error) {
	estimate := b.ledger.Limits().TokensPerRequest

	series := b.source.Series(ctx, code, period)
	ind := b.source.Indicators(ctx, code, period)

	text, tokens, source, err := b.generate(ctx, code, period, series, ind, estimate)
	if err != nil {
		return nil, err
	}

	if err := b.ledger.RecordUsage(ctx, userID, tokens); err != nil {
		return nil, fmt.Errorf("explain %s/%s: %w", code, period, err)
	}

	now := b.clock.Now().UTC()
	exp := &models.Explanation{
		ID:              uuid.NewString(),
		StockCode:       code,
		ChartPeriod:     period,
		ExplanationText: text,
		TechnicalData:   ind,
		Source:          source,
		CreatedAt:       now,
		ExpiresAt:       now.Add(b.ttl),
	}
	if err := b.records.Put(ctx, exp); err != nil {
		b.log.Error().Err(err).Str("code", code).Str("period", period).Msg("explanation cache write failed")
	}

	b.log.Info().
		Str("code", code).
		Str("period", period).
		Str("user", userID).
		Str("source", string(source)).
		Int64("tokens", tokens).
		Msg("explanation generated")
	return exp, nil
}

func (b *Broker) generate(ctx context.Context, code, period string, series *models.PriceSeries,
	ind models.Indicators, estimate int64) (string, int64, models.ExplanationSource, error) {
	if !b.gen.Configured() {
		metrics.ProviderCalls.WithLabelValues(string(models.ExplanationMock), "ok").Inc()
		return MockExplanation(code, ind), estimate, models.ExplanationMock, nil
	}

	gen, err := b.gen.Generate(ctx, BuildPrompt(code, period, series.Data, ind))
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(b.gen.Name(), "error").Inc()
		if !errors.Is(err, provider.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", provider.ErrUnavailable, err)
		}
		if b.cfg.FallbackToMock {
			b.log.Warn().Err(err).Str("code", code).Str("period", period).Msg("provider failed, serving mock explanation")
			metrics.ProviderCalls.WithLabelValues(string(models.ExplanationMock), "ok").Inc()
			return MockExplanation(code, ind), estimate, models.ExplanationMock, nil
		}
		return "", 0, "", fmt.Errorf("explain %s/%s: %w", code, period, err)
	}
	metrics.ProviderCalls.WithLabelValues(b.gen.Name(), "ok").Inc()

	tokens := gen.TokenCount
	if tokens <= 0 {
		tokens = estimate
	}
	return gen.Text, tokens, models.ExplanationSource(b.gen.Name()), nil
}
