package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/store"
)

var epoch = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, codec Codec) (*Store, *clock.Mock, *store.DB) {
	t.Helper()
	db, err := store.Open(store.Config{DSN: filepath.Join(t.TempDir(), "cache_test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	clk := clock.NewMock()
	clk.Set(epoch)
	return New(db, clk, DefaultTTLs(), codec, zerolog.Nop()), clk, db
}

func priceLookup(code, period string) Lookup {
	return Lookup{Namespace: NamespaceStockPrice, Subject: code, Params: map[string]string{"period": period}}
}

func TestKeyDeterminism(t *testing.T) {
	a := Key(NamespaceStockPrice, map[string]string{"code": "7203", "period": "1M"})
	b := Key(NamespaceStockPrice, map[string]string{"period": "1M", "code": "7203"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	assert.NotEqual(t, a, Key(NamespaceIndicators, map[string]string{"code": "7203", "period": "1M"}))
	assert.NotEqual(t, a, Key(NamespaceStockPrice, map[string]string{"code": "7203", "period": "3M"}))

	l := Lookup{Namespace: NamespaceStockPrice, Subject: "7203", Params: map[string]string{"period": "1M"}}
	assert.Equal(t, Key(NamespaceStockPrice, map[string]string{"subject": "7203", "period": "1M"}), l.Key())
	assert.Equal(t, Key(NamespacePopular, nil), Lookup{Namespace: NamespacePopular}.Key())
}

func TestTTLPolicy(t *testing.T) {
	p := DefaultTTLs()
	assert.Equal(t, 4*time.Hour, p.For(NamespaceExplanation))
	assert.Equal(t, 2*time.Hour, p.For(NamespaceSector))
	assert.Equal(t, DefaultTTL, p.For("unknown"))
}

func TestSetGetHonoursTTL(t *testing.T) {
	s, clk, _ := newTestStore(t, nil)
	ctx := context.Background()
	l := priceLookup("7203", "1M")

	require.NoError(t, s.Set(ctx, l, []byte("v1"), 30*time.Minute))

	clk.Add(29 * time.Minute)
	got, ok, err := s.Get(ctx, l.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), got)

	clk.Add(2 * time.Minute)
	_, ok, err = s.Get(ctx, l.Key())
	require.NoError(t, err)
	assert.False(t, ok, "entry must be a miss after its ttl")
}

func TestExpiryBoundaryIsAMiss(t *testing.T) {
	s, clk, _ := newTestStore(t, nil)
	ctx := context.Background()
	l := priceLookup("7203", "1M")

	require.NoError(t, s.Set(ctx, l, []byte("v"), time.Minute))
	clk.Add(time.Minute)

	_, ok, err := s.Get(ctx, l.Key())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetReplacesPriorEntry(t *testing.T) {
	s, clk, db := newTestStore(t, nil)
	ctx := context.Background()
	l := priceLookup("6758", "3M")

	require.NoError(t, s.Set(ctx, l, []byte("old"), time.Minute))
	clk.Add(2 * time.Minute)
	require.NoError(t, s.Set(ctx, l, []byte("new"), time.Hour))

	var n int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM cache_entries WHERE cache_key = ?`, l.Key()).Scan(&n))
	assert.Equal(t, 1, n)

	got, ok, err := s.Get(ctx, l.Key())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("new"), got)
}

func TestSetRejectsNonPositiveTTL(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	err := s.Set(context.Background(), priceLookup("7203", "1M"), []byte("v"), 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestCleanupDeletesOnlyExpired(t *testing.T) {
	s, clk, _ := newTestStore(t, nil)
	ctx := context.Background()
	short := priceLookup("7203", "1W")
	long := priceLookup("7203", "1Y")

	require.NoError(t, s.Set(ctx, short, []byte("a"), time.Minute))
	require.NoError(t, s.Set(ctx, long, []byte("b"), time.Hour))
	clk.Add(2 * time.Minute)

	n, err := s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, err := s.Get(ctx, long.Key())
	require.NoError(t, err)
	assert.True(t, ok)

	// A write after the cleanup snapshot survives the next run at the same instant.
	require.NoError(t, s.Set(ctx, short, []byte("c"), time.Minute))
	n, err = s.Cleanup(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInvalidate(t *testing.T) {
	s, _, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, priceLookup("7203", "1M"), []byte("a"), time.Hour))
	require.NoError(t, s.Set(ctx, priceLookup("7203", "3M"), []byte("b"), time.Hour))
	require.NoError(t, s.Set(ctx, priceLookup("9984", "1M"), []byte("c"), time.Hour))
	require.NoError(t, s.Set(ctx, Lookup{Namespace: NamespacePopular}, []byte("d"), time.Hour))

	n, err := s.Invalidate(ctx, priceLookup("9984", "1M"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.InvalidateSubject(ctx, "7203")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.InvalidateNamespace(ctx, NamespacePopular)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.InvalidateSubject(ctx, "7203")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStats(t *testing.T) {
	s, clk, _ := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, priceLookup("7203", "1M"), []byte("a"), time.Minute))
	require.NoError(t, s.Set(ctx, priceLookup("7203", "3M"), []byte("b"), time.Hour))
	require.NoError(t, s.Set(ctx, Lookup{Namespace: NamespacePopular}, []byte("c"), time.Hour))
	clk.Add(5 * time.Minute)

	_, _, _ = s.Get(ctx, priceLookup("7203", "3M").Key())
	_, _, _ = s.Get(ctx, priceLookup("7203", "1M").Key())

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.NamespaceStats{Total: 2, Live: 1, Expired: 1, HitRate: 0.5}, stats.Namespaces["stock_price"])
	assert.Equal(t, int64(1), stats.Namespaces["popular_stocks"].Live)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			s, _, _ := newTestStore(t, codec)
			ctx := context.Background()
			l := priceLookup("7203", "1M")
			in := models.PriceSeries{
				StockCode:   "7203",
				Period:      "1M",
				Source:      models.SourceSynthetic,
				Data:        []models.PricePoint{{Time: "2026-10-17", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100}},
				LastUpdated: epoch,
			}

			require.NoError(t, s.Save(ctx, l, in))

			var out models.PriceSeries
			ok, err := s.Load(ctx, l, &out)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, in.Data, out.Data)
			assert.Equal(t, in.Source, out.Source)
			assert.True(t, in.LastUpdated.Equal(out.LastUpdated))
		})
	}
}

func TestLoadDropsCorruptEntry(t *testing.T) {
	s, _, db := newTestStore(t, JSONCodec{})
	ctx := context.Background()
	l := priceLookup("7203", "1M")

	require.NoError(t, s.Set(ctx, l, []byte("{not json"), time.Hour))

	var out models.PriceSeries
	ok, err := s.Load(ctx, l, &out)
	require.NoError(t, err)
	assert.False(t, ok)

	var n int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n))
	assert.Zero(t, n, "corrupt entry must be deleted")
}

func TestGetOnClosedStore(t *testing.T) {
	s, _, db := newTestStore(t, nil)
	require.NoError(t, db.Close())

	_, _, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = CodecByName("msgpack")
	require.NoError(t, err)
	assert.Equal(t, "msgpack", c.Name())

	_, err = CodecByName("gob")
	assert.Error(t, err)
}
