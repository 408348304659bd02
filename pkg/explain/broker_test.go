package explain

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/provider"
	"github.com/kotori-note/kabunote/pkg/quota"
	"github.com/kotori-note/kabunote/pkg/store"
)

const explanationTTL = 4 * time.Hour

type fakeGenerator struct {
	calls   atomic.Int32
	text    string
	tokens  int64
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (g *fakeGenerator) Configured() bool { return true }
func (g *fakeGenerator) Name() string     { return "gemini" }

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (provider.Generation, error) {
	g.calls.Add(1)
	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.gate != nil {
		<-g.gate
	}
	if g.err != nil {
		return provider.Generation{}, g.err
	}
	return provider.Generation{Text: g.text, TokenCount: g.tokens}, nil
}

func f(v float64) *float64 { return &v }

type fakeSource struct {
	ind models.Indicators
}

func (s fakeSource) Series(ctx context.Context, code, period string) *models.PriceSeries {
	return &models.PriceSeries{
		StockCode: code,
		Period:    period,
		Source:    models.SourceSynthetic,
		Data: []models.PricePoint{
			{Time: "2026-10-16", Close: 100, Volume: 1000},
			{Time: "2026-10-17", Close: 101, Volume: 1_234_567},
		},
	}
}

func (s fakeSource) Indicators(ctx context.Context, code, period string) models.Indicators {
	return s.ind
}

var bullish = models.Indicators{
	SMA25:         f(110),
	SMA75:         f(100),
	RSI14:         f(75),
	MACDLine:      f(1.5),
	MACDSignal:    f(1.0),
	MACDHistogram: f(0.5),
}

type env struct {
	db      *store.DB
	clock   *clock.Mock
	ledger  *quota.Ledger
	records *Records
}

func newEnv(t *testing.T, limits quota.Limits) *env {
	t.Helper()
	db, err := store.Open(store.Config{DSN: filepath.Join(t.TempDir(), "explain_test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	return &env{
		db:      db,
		clock:   clk,
		ledger:  quota.New(db, clk, limits, zerolog.Nop()),
		records: NewRecords(db, clk, zerolog.Nop()),
	}
}

func (e *env) broker(gen provider.Generator, cfg Config) *Broker {
	return NewBroker(e.records, e.ledger, fakeSource{ind: bullish}, gen, e.clock, explanationTTL, cfg, zerolog.Nop())
}

func (e *env) dailyRequests(t *testing.T) int {
	t.Helper()
	snap, err := e.ledger.Usage(context.Background(), "u1")
	require.NoError(t, err)
	return snap.Daily.Requests
}

func TestGetOrCreateServesRepeatFromCache(t *testing.T) {
	e := newEnv(t, quota.DefaultLimits())
	gen := &fakeGenerator{text: "上昇トレンドです。", tokens: 420}
	b := e.broker(gen, DefaultConfig())
	ctx := context.Background()

	first, err := b.GetOrCreate(ctx, "7203", "1M", "u1")
	require.NoError(t, err)
	assert.Equal(t, "上昇トレンドです。", first.ExplanationText)
	assert.Equal(t, models.ExplanationGemini, first.Source)
	assert.Equal(t, bullish, first.TechnicalData)
	assert.True(t, first.ExpiresAt.Equal(e.clock.Now().Add(explanationTTL)))

	second, err := b.GetOrCreate(ctx, "7203", "1M", "u2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, 1, e.dailyRequests(t))

	snap, err := e.ledger.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(420), snap.Daily.ActualTokens)
	assert.Equal(t, int64(650), snap.Daily.EstimatedTokens)
}

func TestGetOrCreateRegeneratesAfterExpiry(t *testing.T) {
	e := newEnv(t, quota.DefaultLimits())
	gen := &fakeGenerator{text: "t", tokens: 10}
	b := e.broker(gen, DefaultConfig())
	ctx := context.Background()

	_, err := b.GetOrCreate(ctx, "7203", "1M", "u1")
	require.NoError(t, err)
	e.clock.Add(explanationTTL + time.Minute)
	_, err = b.GetOrCreate(ctx, "7203", "1M", "u1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), gen.calls.Load())
}

func TestMockPathIsDeterministicAndCharged(t *testing.T) {
	e := newEnv(t, quota.DefaultLimits())
	b := e.broker(provider.Disabled{}, DefaultConfig())
	ctx := context.Background()

	a, err := b.GetOrCreate(ctx, "7203", "1M", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ExplanationMock, a.Source)
	assert.Equal(t, MockExplanation("7203", bullish), a.ExplanationText)

	c, err := b.GetOrCreate(ctx, "7203", "3M", "u1")
	require.NoError(t, err)
	assert.Equal(t, a.ExplanationText, c.ExplanationText)

	snap, err := e.ledger.Usage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.User.Requests)
	assert.Equal(t, int64(1300), snap.Daily.ActualTokens, "mock is charged at the estimate")
	assert.False(t, b.ProviderConfigured())
}

func TestDeniedRequestIsRateLimited(t *testing.T) {
	limits := quota.DefaultLimits()
	limits.DailyRequests = 1
	e := newEnv(t, limits)
	gen := &fakeGenerator{text: "t", tokens: 10}
	b := e.broker(gen, DefaultConfig())
	ctx := context.Background()

	_, err := b.GetOrCreate(ctx, "7203", "1M", "u1")
	require.NoError(t, err)

	_, err = b.GetOrCreate(ctx, "6758", "1M", "u2")
	require.ErrorIs(t, err, quota.ErrRateLimited)
	var rl *quota.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, quota.WindowDay, rl.Window)
	assert.Equal(t, quota.ReasonDailyApp, rl.Reason)
	assert.Equal(t, int32(1), gen.calls.Load())

	_, err = b.GetOrCreate(ctx, "7203", "1M", "u2")
	assert.NoError(t, err, "cached explanations are served without admission")
}

func TestProviderErrorIsNotCharged(t *testing.T) {
	e := newEnv(t, quota.DefaultLimits())
	gen := &fakeGenerator{err: errors.New("503 from upstream")}
	b := e.broker(gen, DefaultConfig())
	ctx := context.Background()

	_, err := b.GetOrCreate(ctx, "7203", "1M", "u1")
	require.ErrorIs(t, err, provider.ErrUnavailable)
	assert.Zero(t, e.dailyRequests(t))

	cached, err := b.Cached(ctx, "7203", "1M")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestProviderErrorFallsBackToMock(t *testing.T) {
	e := newEnv(t, quota.DefaultLimits())
	gen := &fakeGenerator{err: fmt.Errorf("%w: timeout", provider.ErrUnavailable)}
	b := e.broker(gen, Config{FallbackToMock: true, Dedupe: true})

	exp, err := b.GetOrCreate(context.Background(), "7203", "1M", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.ExplanationMock, exp.Source)
	assert.Equal(t, 1, e.dailyRequests(t))
}

func TestZeroTokenCountChargesEstimate(t *testing.T) {
	e := newEnv(t, quota.DefaultLimits())
	b := e.broker(&fakeGenerator{text: "t"}, DefaultConfig())

	_, err := b.GetOrCreate(context.Background(), "7203", "1M", "u1")
	require.NoError(t, err)

	snap, err := e.ledger.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(650), snap.User.Tokens)
}

func TestCacheWriteFailureStillReturns(t *testing.T) {
	e := newEnv(t, quota.DefaultLimits())
	gen := &fakeGenerator{text: "t", tokens: 10}
	b := e.broker(gen, DefaultConfig())
	ctx := context.Background()

	_, err := e.db.Exec(ctx, `DROP TABLE ai_explanations`)
	require.NoError(t, err)

	exp, err := b.GetOrCreate(ctx, "7203", "1M", "u1")
	require.NoError(t, err)
	assert.Equal(t, "t", exp.ExplanationText)
	assert.Equal(t, 1, e.dailyRequests(t))
}

type brokenLedger struct{}

func (brokenLedger) CheckAdmission(context.Context, string, int64) (models.UsageStatus, error) {
	return models.UsageStatus{}, fmt.Errorf("admission check: %w", store.ErrUnavailable)
}
func (brokenLedger) RecordUsage(context.Context, string, int64) error { return store.ErrUnavailable }
func (brokenLedger) Limits() quota.Limits                            { return quota.DefaultLimits() }

func TestLedgerFailureDenies(t *testing.T) {
	e := newEnv(t, quota.DefaultLimits())
	gen := &fakeGenerator{text: "t"}
	b := NewBroker(e.records, brokenLedger{}, fakeSource{}, gen, e.clock, explanationTTL, DefaultConfig(), zerolog.Nop())

	_, err := b.GetOrCreate(context.Background(), "7203", "1M", "u1")
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Zero(t, gen.calls.Load(), "provider must not be called when admission cannot be checked")
}

func TestConcurrentMissesShareOneGeneration(t *testing.T) {
	e := newEnv(t, quota.DefaultLimits())
	gen := &fakeGenerator{text: "t", tokens: 10, gate: make(chan struct{}), entered: make(chan struct{}, 8)}
	b := e.broker(gen, DefaultConfig())
	ctx := context.Background()

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*models.Explanation, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.GetOrCreate(ctx, "7203", "1M", fmt.Sprintf("u%d", i))
		}(i)
	}

	<-gen.entered
	time.Sleep(50 * time.Millisecond)
	close(gen.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
	}
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, 1, e.dailyRequests(t))
}

// gatedLedger holds CheckAdmission for one user until release is closed.
type gatedLedger struct {
	*quota.Ledger
	user    string
	waiting chan struct{}
	release chan struct{}
}

func (l *gatedLedger) CheckAdmission(ctx context.Context, userID string, estimatedTokens int64) (models.UsageStatus, error) {
	if userID == l.user {
		close(l.waiting)
		<-l.release
	}
	return l.Ledger.CheckAdmission(ctx, userID, estimatedTokens)
}

func TestAdmissionIsPerCaller(t *testing.T) {
	limits := quota.DefaultLimits()
	limits.UserDailyRequests = 1
	e := newEnv(t, limits)
	ctx := context.Background()
	require.NoError(t, e.ledger.RecordUsage(ctx, "a", 10))

	ledger := &gatedLedger{Ledger: e.ledger, user: "a", waiting: make(chan struct{}), release: make(chan struct{})}
	gen := &fakeGenerator{text: "t", tokens: 10, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	b := NewBroker(e.records, ledger, fakeSource{ind: bullish}, gen, e.clock, explanationTTL, DefaultConfig(), zerolog.Nop())

	var errA error
	doneA := make(chan struct{})
	go func() {
		defer close(doneA)
		_, errA = b.GetOrCreate(ctx, "7203", "1M", "a")
	}()
	<-ledger.waiting

	var expB *models.Explanation
	var errB error
	doneB := make(chan struct{})
	go func() {
		defer close(doneB)
		expB, errB = b.GetOrCreate(ctx, "7203", "1M", "b")
	}()
	<-gen.entered

	close(ledger.release)
	<-doneA
	var rl *quota.RateLimitedError
	require.ErrorAs(t, errA, &rl)
	assert.Equal(t, quota.WindowUserDay, rl.Window)

	close(gen.gate)
	<-doneB
	require.NoError(t, errB)
	assert.Equal(t, "t", expB.ExplanationText)

	snap, err := e.ledger.Usage(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.User.Requests)
}

func TestCancelledCallerDoesNotCancelSharedGeneration(t *testing.T) {
	e := newEnv(t, quota.DefaultLimits())
	gen := &fakeGenerator{text: "t", tokens: 10, gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	b := e.broker(gen, DefaultConfig())

	leaderCtx, cancel := context.WithCancel(context.Background())
	var leaderErr error
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		_, leaderErr = b.GetOrCreate(leaderCtx, "7203", "1M", "u1")
	}()
	<-gen.entered

	var exp *models.Explanation
	var followerErr error
	followerDone := make(chan struct{})
	go func() {
		defer close(followerDone)
		exp, followerErr = b.GetOrCreate(context.Background(), "7203", "1M", "u2")
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-leaderDone
	require.ErrorIs(t, leaderErr, context.Canceled)

	close(gen.gate)
	<-followerDone
	require.NoError(t, followerErr)
	assert.Equal(t, "t", exp.ExplanationText)
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, 1, e.dailyRequests(t))
}
