// Package catalog serves the static list of supported stocks.
package catalog

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kotori-note/kabunote/pkg/cache"
	"github.com/kotori-note/kabunote/pkg/models"
)

// DefaultStocks returns the popular Tokyo Stock Exchange listings served by
// default.
func DefaultStocks() []models.Stock {
	return []models.Stock{
		{Code: "7203", Name: "トヨタ自動車", Sector: "自動車", Market: "TSE", IsActive: true},
		{Code: "6758", Name: "ソニーグループ", Sector: "電気機器", Market: "TSE", IsActive: true},
		{Code: "9984", Name: "ソフトバンクグループ", Sector: "情報・通信業", Market: "TSE", IsActive: true},
		{Code: "6861", Name: "キーエンス", Sector: "電気機器", Market: "TSE", IsActive: true},
		{Code: "8306", Name: "三菱UFJフィナンシャル・グループ", Sector: "銀行業", Market: "TSE", IsActive: true},
		{Code: "4519", Name: "中外製薬", Sector: "医薬品", Market: "TSE", IsActive: true},
		{Code: "6098", Name: "リクルートホールディングス", Sector: "サービス業", Market: "TSE", IsActive: true},
		{Code: "9432", Name: "日本電信電話", Sector: "情報・通信業", Market: "TSE", IsActive: true},
		{Code: "6954", Name: "ファナック", Sector: "電気機器", Market: "TSE", IsActive: true},
		{Code: "8035", Name: "東京エレクトロン", Sector: "電気機器", Market: "TSE", IsActive: true},
	}
}

// Catalog answers stock lookups. Popular and sector lists go through the
// cache with their own TTLs.
type Catalog struct {
	cache  *cache.Store
	stocks []models.Stock
	log    zerolog.Logger
}

// New creates a Catalog over stocks. A nil slice means DefaultStocks.
func New(c *cache.Store, stocks []models.Stock, log zerolog.Logger) *Catalog {
	if stocks == nil {
		stocks = DefaultStocks()
	}
	return &Catalog{
		cache:  c,
		stocks: stocks,
		log:    log.With().Str("component", "catalog").Logger(),
	}
}

// Codes returns every stock code in catalog order.
func (c *Catalog) Codes() []string {
	codes := make([]string, len(c.stocks))
	for i, s := range c.stocks {
		codes[i] = s.Code
	}
	return codes
}

// Lookup returns the stock with code.
func (c *Catalog) Lookup(code string) (models.Stock, bool) {
	for _, s := range c.stocks {
		if s.Code == code {
			return s, true
		}
	}
	return models.Stock{}, false
}

// Search matches query against codes and names, case-insensitively, and
// returns at most limit stocks. A non-positive limit means 10.
func (c *Catalog) Search(query string, limit int) []models.Stock {
	if limit <= 0 {
		limit = 10
	}
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]models.Stock, 0, limit)
	for _, s := range c.stocks {
		if len(out) == limit {
			break
		}
		if strings.Contains(strings.ToLower(s.Code), q) || strings.Contains(strings.ToLower(s.Name), q) {
			out = append(out, s)
		}
	}
	return out
}

// Popular returns the popular stock list.
func (c *Catalog) Popular(ctx context.Context) []models.Stock {
	return c.cached(ctx, cache.Lookup{Namespace: cache.NamespacePopular}, func() []models.Stock {
		return append([]models.Stock(nil), c.stocks...)
	})
}

// Sector returns the stocks of one sector.
func (c *Catalog) Sector(ctx context.Context, sector string) []models.Stock {
	l := cache.Lookup{Namespace: cache.NamespaceSector, Params: map[string]string{"sector": sector}}
	return c.cached(ctx, l, func() []models.Stock {
		out := []models.Stock{}
		for _, s := range c.stocks {
			if s.Sector == sector {
				out = append(out, s)
			}
		}
		return out
	})
}

func (c *Catalog) cached(ctx context.Context, l cache.Lookup, build func() []models.Stock) []models.Stock {
	var stocks []models.Stock
	ok, err := c.cache.Load(ctx, l, &stocks)
	if err != nil {
		c.log.Warn().Err(err).Str("namespace", string(l.Namespace)).Msg("catalog cache read failed")
	}
	if ok {
		return stocks
	}

	stocks = build()
	if err := c.cache.Save(ctx, l, stocks); err != nil {
		c.log.Warn().Err(err).Str("namespace", string(l.Namespace)).Msg("catalog cache write failed")
	}
	return stocks
}
