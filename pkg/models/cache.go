package models

// NamespaceStats counts the cache rows of one namespace.
type NamespaceStats struct {
	Total   int64   `json:"total"`
	Live    int64   `json:"live"`
	Expired int64   `json:"expired"`
	HitRate float64 `json:"hit_rate"`
}

// CacheStats reports per-namespace row counts and in-process lookup counters.
type CacheStats struct {
	Namespaces map[string]NamespaceStats `json:"namespaces"`
	Hits       int64                     `json:"hits"`
	Misses     int64                     `json:"misses"`
}
