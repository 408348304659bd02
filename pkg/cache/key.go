package cache

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Namespace tags a family of cache entries. Each has its own TTL.
type Namespace string

const (
	NamespaceStockPrice  Namespace = "stock_price"
	NamespaceExplanation Namespace = "ai_explanation"
	NamespacePopular     Namespace = "popular_stocks"
	NamespaceSector      Namespace = "sector_stocks"
	NamespaceIndicators  Namespace = "technical_indicators"
)

// DefaultTTL applies to namespaces missing from a TTLPolicy.
const DefaultTTL = 30 * time.Minute

// TTLPolicy maps namespaces to entry lifetimes.
type TTLPolicy map[Namespace]time.Duration

// DefaultTTLs returns the standard lifetimes.
func DefaultTTLs() TTLPolicy {
	return TTLPolicy{
		NamespaceStockPrice:  30 * time.Minute,
		NamespaceExplanation: 4 * time.Hour,
		NamespacePopular:     time.Hour,
		NamespaceSector:      2 * time.Hour,
		NamespaceIndicators:  30 * time.Minute,
	}
}

// For returns the TTL of ns.
func (p TTLPolicy) For(ns Namespace) time.Duration {
	if ttl, ok := p[ns]; ok && ttl > 0 {
		return ttl
	}
	return DefaultTTL
}

// Lookup identifies one cached value. Subject is usually the stock code and
// is stored alongside the entry so a subject can be invalidated as a whole.
type Lookup struct {
	Namespace Namespace
	Subject   string
	Params    map[string]string
}

// Key returns the storage key of l. The subject takes part in the key as the
// "subject" parameter.
func (l Lookup) Key() string {
	if l.Subject == "" {
		return Key(l.Namespace, l.Params)
	}
	params := make(map[string]string, len(l.Params)+1)
	for k, v := range l.Params {
		params[k] = v
	}
	params["subject"] = l.Subject
	return Key(l.Namespace, params)
}

// Key derives a deterministic key from a namespace and lookup parameters.
// Parameter order does not matter.
func Key(ns Namespace, params map[string]string) string {
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(string(ns))
	for _, k := range names {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
