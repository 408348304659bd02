// Package app wires the kabunote components together behind one facade used
// by the HTTP server, the MCP server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/kotori-note/kabunote/pkg/cache"
	"github.com/kotori-note/kabunote/pkg/catalog"
	"github.com/kotori-note/kabunote/pkg/config"
	"github.com/kotori-note/kabunote/pkg/explain"
	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/prices"
	"github.com/kotori-note/kabunote/pkg/provider"
	"github.com/kotori-note/kabunote/pkg/quota"
	"github.com/kotori-note/kabunote/pkg/store"
	"github.com/kotori-note/kabunote/pkg/users"
)

// ErrInvalidRequest is returned for missing or malformed arguments.
var ErrInvalidRequest = errors.New("invalid request")

// Option customizes App construction.
type Option func(*options)

type options struct {
	clock     clock.Clock
	generator provider.Generator
	fetcher   prices.Fetcher
}

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithGenerator replaces the generator built from the provider config.
func WithGenerator(g provider.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithFetcher replaces the price fetcher built from the prices config.
func WithFetcher(f prices.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// App is the kabunote service facade.
type App struct {
	db      *store.DB
	cache   *cache.Store
	ledger  *quota.Ledger
	records *explain.Records
	broker  *explain.Broker
	prices  *prices.Service
	catalog *catalog.Catalog
	users   *users.Store
	clock   clock.Clock

	minuteRetention time.Duration
	log             zerolog.Logger
}

// New opens the store and builds every component from cfg.
func New(cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	codec, err := cache.CodecByName(cfg.Cache.Codec)
	if err != nil {
		return nil, fmt.Errorf("cache codec: %w", err)
	}

	if o.generator == nil {
		o.generator = provider.New(cfg.Provider)
	}
	if o.fetcher == nil && cfg.Prices.Source == "yahoo" {
		o.fetcher = prices.NewYahoo(cfg.Prices.Yahoo, o.clock)
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	c := cache.New(db, o.clock, cfg.Cache.TTL, codec, log)
	ledger := quota.New(db, o.clock, cfg.Limits, log)
	records := explain.NewRecords(db, o.clock, log)
	priceSvc := prices.NewService(c, o.fetcher, o.clock, log)
	broker := explain.NewBroker(records, ledger, priceSvc, o.generator, o.clock,
		cfg.Cache.TTL.For(cache.NamespaceExplanation), cfg.Explain, log)

	a := &App{
		db:              db,
		cache:           c,
		ledger:          ledger,
		records:         records,
		broker:          broker,
		prices:          priceSvc,
		catalog:         catalog.New(c, catalog.DefaultStocks(), log),
		users:           users.NewStore(db, o.clock),
		clock:           o.clock,
		minuteRetention: cfg.Jobs.MinuteRetention,
		log:             log.With().Str("component", "app").Logger(),
	}
	if a.minuteRetention <= 0 {
		a.minuteRetention = time.Hour
	}

	a.log.Info().
		Str("driver", string(db.Driver())).
		Str("codec", codec.Name()).
		Str("generator", o.generator.Name()).
		Bool("market_data", o.fetcher != nil).
		Msg("app initialized")
	return a, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.db.Close()
}

// Ping checks the store connection.
func (a *App) Ping(ctx context.Context) error {
	return a.db.Ping(ctx)
}

// ProviderConfigured reports whether explanations come from a live provider.
func (a *App) ProviderConfigured() bool {
	return a.broker.ProviderConfigured()
}

// Limits returns the configured quota thresholds.
func (a *App) Limits() quota.Limits {
	return a.ledger.Limits()
}

// Explain returns the explanation of code for period, generating and
// charging it to userID on a miss. userID must exist in the user directory.
func (a *App) Explain(ctx context.Context, code, period, userID string) (*models.Explanation, error) {
	code, period = normalize(code, period)
	if code == "" {
		return nil, fmt.Errorf("%w: stock code is required", ErrInvalidRequest)
	}
	if _, err := a.users.Get(ctx, userID); err != nil {
		return nil, err
	}
	return a.broker.GetOrCreate(ctx, code, period, userID)
}

// CachedExplanation returns the live explanation of code for period, or nil.
func (a *App) CachedExplanation(ctx context.Context, code, period string) (*models.Explanation, error) {
	code, period = normalize(code, period)
	return a.broker.Cached(ctx, code, period)
}

// CheckUsage reports whether userID could request one more explanation now.
func (a *App) CheckUsage(ctx context.Context, userID string) (models.UsageStatus, error) {
	return a.ledger.CheckAdmission(ctx, userID, a.ledger.Limits().TokensPerRequest)
}

// Usage returns the raw counters of the current day and minute.
func (a *App) Usage(ctx context.Context, userID string) (models.UsageSnapshot, error) {
	return a.ledger.Usage(ctx, userID)
}

// UsageHistory returns the daily counters of the last days, newest first.
func (a *App) UsageHistory(ctx context.Context, days int) ([]models.DailyUsage, error) {
	return a.ledger.History(ctx, days)
}

// PriceSeries returns the price series of code for period. It always
// succeeds, falling back to synthetic data.
func (a *App) PriceSeries(ctx context.Context, code, period string) *models.PriceSeries {
	code, period = normalize(code, period)
	return a.prices.Series(ctx, code, period)
}

// Indicators returns the technical indicators of code for period.
func (a *App) Indicators(ctx context.Context, code, period string) models.Indicators {
	code, period = normalize(code, period)
	return a.prices.Indicators(ctx, code, period)
}

// CacheStats reports row counts for every cache namespace, explanations
// included.
func (a *App) CacheStats(ctx context.Context) (models.CacheStats, error) {
	stats, err := a.cache.Stats(ctx)
	if err != nil {
		return models.CacheStats{}, err
	}
	exp, err := a.records.Stats(ctx)
	if err != nil {
		return models.CacheStats{}, err
	}
	stats.Namespaces[string(cache.NamespaceExplanation)] = exp
	return stats, nil
}

// CleanupExpired deletes expired cache entries and explanations, and prunes
// minute counters older than the retention. It returns the number of
// expired entries removed.
func (a *App) CleanupExpired(ctx context.Context) (int64, error) {
	entries, err := a.cache.Cleanup(ctx)
	if err != nil {
		return 0, err
	}
	explanations, err := a.records.Cleanup(ctx)
	if err != nil {
		return entries, err
	}
	minutes, err := a.ledger.PruneMinutes(ctx, a.clock.Now().Add(-a.minuteRetention))
	if err != nil {
		return entries + explanations, err
	}

	a.log.Info().
		Int64("cache_entries", entries).
		Int64("explanations", explanations).
		Int64("minute_buckets", minutes).
		Msg("expired data cleaned up")
	return entries + explanations, nil
}

// Invalidate drops every cached entry and explanation of code. It reports
// whether anything was removed.
func (a *App) Invalidate(ctx context.Context, code string) (bool, error) {
	code, _ = normalize(code, "")
	if code == "" {
		return false, fmt.Errorf("%w: stock code is required", ErrInvalidRequest)
	}
	entries, err := a.cache.InvalidateSubject(ctx, code)
	if err != nil {
		return false, err
	}
	explanations, err := a.records.InvalidateSubject(ctx, code)
	if err != nil {
		return entries > 0, err
	}
	a.log.Info().Str("code", code).Int64("cache_entries", entries).Int64("explanations", explanations).Msg("subject invalidated")
	return entries+explanations > 0, nil
}

// Search finds catalog stocks by code or name.
func (a *App) Search(query string, limit int) []models.Stock {
	return a.catalog.Search(query, limit)
}

// Popular returns the popular-stock list.
func (a *App) Popular(ctx context.Context) []models.Stock {
	return a.catalog.Popular(ctx)
}

// Sector returns the catalog stocks of sector.
func (a *App) Sector(ctx context.Context, sector string) []models.Stock {
	return a.catalog.Sector(ctx, sector)
}

// WarmUp preloads the price series of every popular stock and returns how
// many were loaded.
func (a *App) WarmUp(ctx context.Context) (int, error) {
	return a.prices.WarmUp(ctx, a.catalog.Codes())
}

// User returns the user with id.
func (a *App) User(ctx context.Context, id string) (*models.User, error) {
	return a.users.Get(ctx, id)
}

// CreateUser registers a user.
func (a *App) CreateUser(ctx context.Context, email, nickname string) (*models.User, error) {
	return a.users.Create(ctx, email, nickname)
}

// Users lists every registered user.
func (a *App) Users(ctx context.Context) ([]models.User, error) {
	return a.users.List(ctx)
}

// AddSearch records that userID looked up code.
func (a *App) AddSearch(ctx context.Context, userID, code string) (*models.SearchHistory, error) {
	code, _ = normalize(code, "")
	if code == "" {
		return nil, fmt.Errorf("%w: stock code is required", ErrInvalidRequest)
	}
	return a.users.AddSearch(ctx, userID, code)
}

// SearchHistory returns the recent searches of userID, newest first.
func (a *App) SearchHistory(ctx context.Context, userID string) ([]models.SearchHistory, error) {
	return a.users.SearchHistory(ctx, userID)
}

// AddBookmark bookmarks code for userID.
func (a *App) AddBookmark(ctx context.Context, userID, code string) (*models.Bookmark, error) {
	code, _ = normalize(code, "")
	if code == "" {
		return nil, fmt.Errorf("%w: stock code is required", ErrInvalidRequest)
	}
	return a.users.AddBookmark(ctx, userID, code)
}

// Bookmarks returns the bookmarks of userID, newest first.
func (a *App) Bookmarks(ctx context.Context, userID string) ([]models.Bookmark, error) {
	return a.users.Bookmarks(ctx, userID)
}

// RemoveBookmark removes code from the bookmarks of userID.
func (a *App) RemoveBookmark(ctx context.Context, userID, code string) error {
	code, _ = normalize(code, "")
	return a.users.RemoveBookmark(ctx, userID, code)
}

func normalize(code, period string) (string, string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	period = strings.ToUpper(strings.TrimSpace(period))
	if period == "" {
		period = "1M"
	}
	return code, period
}
