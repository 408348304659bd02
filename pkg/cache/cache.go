// Package cache is an expiring key/value store over the cache_entries table.
package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/kotori-note/kabunote/pkg/metrics"
	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/store"
	"github.com/kotori-note/kabunote/pkg/window"
)

var (
	// ErrCorrupt reports a payload the codec could not decode.
	ErrCorrupt = errors.New("cache entry corrupt")
	// ErrInvalidTTL rejects writes that would be born expired.
	ErrInvalidTTL = errors.New("cache ttl must be positive")
)

// Store is an expiring cache backed by the relational store.
type Store struct {
	db     *store.DB
	clock  clock.Clock
	ttls   TTLPolicy
	codec  Codec
	log    zerolog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Store. A nil codec means JSON.
func New(db *store.DB, clk clock.Clock, ttls TTLPolicy, codec Codec, log zerolog.Logger) *Store {
	if codec == nil {
		codec = JSONCodec{}
	}
	if ttls == nil {
		ttls = DefaultTTLs()
	}
	return &Store{
		db:    db,
		clock: clk,
		ttls:  ttls,
		codec: codec,
		log:   log.With().Str("component", "cache").Logger(),
	}
}

// TTL returns the configured lifetime of ns.
func (s *Store) TTL(ns Namespace) time.Duration {
	return s.ttls.For(ns)
}

// Get returns the payload stored under key if it is still live. Expired rows
// are reported as misses and left for Cleanup.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	var expiresAt int64
	err := s.db.QueryRow(ctx,
		`SELECT payload, expires_at FROM cache_entries WHERE cache_key = ?`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", store.Wrap(err))
	}

	if window.Millis(s.clock.Now()) >= expiresAt {
		s.misses.Add(1)
		return nil, false, nil
	}
	s.hits.Add(1)
	return payload, true, nil
}

// Set replaces any entry for l with payload, expiring ttl from now.
func (s *Store) Set(ctx context.Context, l Lookup, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache set %s: %w", l.Namespace, ErrInvalidTTL)
	}
	key := l.Key()
	now := s.clock.Now()

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO cache_entries (cache_key, namespace, subject, payload, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (cache_key) DO UPDATE SET
				namespace = excluded.namespace,
				subject = excluded.subject,
				payload = excluded.payload,
				created_at = excluded.created_at,
				expires_at = excluded.expires_at`,
			key, string(l.Namespace), l.Subject, payload,
			window.Millis(now), window.Millis(now.Add(ttl)),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete removes the entry stored under key, live or not.
func (s *Store) Delete(ctx context.Context, key string) (int64, error) {
	return s.deleteWhere(ctx, "cache invalidate", `DELETE FROM cache_entries WHERE cache_key = ?`, key)
}

// Invalidate removes the entry for l, live or not.
func (s *Store) Invalidate(ctx context.Context, l Lookup) (int64, error) {
	return s.Delete(ctx, l.Key())
}

// InvalidateSubject removes every entry recorded for subject.
func (s *Store) InvalidateSubject(ctx context.Context, subject string) (int64, error) {
	return s.deleteWhere(ctx, "cache invalidate subject", `DELETE FROM cache_entries WHERE subject = ?`, subject)
}

// InvalidateNamespace removes every entry of ns.
func (s *Store) InvalidateNamespace(ctx context.Context, ns Namespace) (int64, error) {
	return s.deleteWhere(ctx, "cache invalidate namespace", `DELETE FROM cache_entries WHERE namespace = ?`, string(ns))
}

// Cleanup deletes entries that expired at or before the moment it was called.
// Entries written while it runs expire after that moment and are kept.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	snapshot := window.Millis(s.clock.Now())
	n, err := s.deleteWhere(ctx, "cache cleanup", `DELETE FROM cache_entries WHERE expires_at <= ?`, snapshot)
	if err != nil {
		return 0, err
	}
	metrics.CleanupDeleted.WithLabelValues("cache_entries").Add(float64(n))
	return n, nil
}

func (s *Store) deleteWhere(ctx context.Context, op, query string, arg any) (int64, error) {
	res, err := s.db.Exec(ctx, query, arg)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, store.Wrap(err))
	}
	return n, nil
}

// Stats counts rows per namespace and reports the in-process hit/miss
// counters.
func (s *Store) Stats(ctx context.Context) (models.CacheStats, error) {
	now := window.Millis(s.clock.Now())
	rows, err := s.db.Query(ctx,
		`SELECT namespace, COUNT(*), SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END)
		 FROM cache_entries GROUP BY namespace`, now)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	defer rows.Close()

	stats := models.CacheStats{Namespaces: make(map[string]models.NamespaceStats)}
	for rows.Next() {
		var ns string
		var total, live int64
		if err := rows.Scan(&ns, &total, &live); err != nil {
			return models.CacheStats{}, fmt.Errorf("cache stats scan: %w", store.Wrap(err))
		}
		stats.Namespaces[ns] = NewNamespaceStats(total, live)
	}
	if err := rows.Err(); err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", store.Wrap(err))
	}
	stats.Hits = s.hits.Load()
	stats.Misses = s.misses.Load()
	return stats, nil
}

// NewNamespaceStats fills in the derived fields of a row count.
func NewNamespaceStats(total, live int64) models.NamespaceStats {
	st := models.NamespaceStats{Total: total, Live: live, Expired: total - live}
	if total > 0 {
		st.HitRate = float64(live) / float64(total)
	}
	return st
}

// Load decodes the live entry for l into v. A payload that fails to decode
// is deleted and reported as a miss.
func (s *Store) Load(ctx context.Context, l Lookup, v any) (bool, error) {
	key := l.Key()
	payload, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		metrics.CacheLookups.WithLabelValues(string(l.Namespace), "miss").Inc()
		return false, nil
	}

	if err := s.decode(payload, v); err != nil {
		metrics.CacheLookups.WithLabelValues(string(l.Namespace), "corrupt").Inc()
		s.log.Warn().Err(err).
			Str("namespace", string(l.Namespace)).
			Str("subject", l.Subject).
			Msg("dropping undecodable cache entry")
		if _, delErr := s.Delete(ctx, key); delErr != nil {
			s.log.Error().Err(delErr).Str("key", key).Msg("delete corrupt cache entry")
		}
		return false, nil
	}
	metrics.CacheLookups.WithLabelValues(string(l.Namespace), "hit").Inc()
	return true, nil
}

// Save encodes v and stores it under l with the namespace TTL.
func (s *Store) Save(ctx context.Context, l Lookup, v any) error {
	payload, err := s.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", l.Namespace, err)
	}
	return s.Set(ctx, l, payload, s.ttls.For(l.Namespace))
}

func (s *Store) decode(payload []byte, v any) error {
	if err := s.codec.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, s.codec.Name(), err)
	}
	return nil
}
