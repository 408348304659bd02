package mcp

import (
	"context"
	"encoding/json"
	"strings"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"kabunote_usage":              handleUsage,
	"kabunote_usage_history":      handleUsageHistory,
	"kabunote_cache_stats":        handleCacheStats,
	"kabunote_cache_cleanup":      handleCacheCleanup,
	"kabunote_invalidate":         handleInvalidate,
	"kabunote_cached_explanation": handleCachedExplanation,
}

var allTools = []ToolDefinition{
	{
		Name:        "kabunote_usage",
		Description: "Show today's AI request counters against the daily, per-minute and per-user limits.",
		InputSchema: objectSchema(map[string]Property{
			"user_id": stringProp("Also show this user's daily counter (optional)"),
		}),
	},
	{
		Name:        "kabunote_usage_history",
		Description: "List app-wide daily AI usage, newest day first.",
		InputSchema: objectSchema(map[string]Property{
			"days": integerProp("Number of days to list (default 7)"),
		}),
	},
	{
		Name:        "kabunote_cache_stats",
		Description: "Show live and expired cache entries per namespace, AI explanations included.",
		InputSchema: objectSchema(nil),
	},
	{
		Name:        "kabunote_cache_cleanup",
		Description: "Delete expired cache entries and AI explanations.",
		InputSchema: objectSchema(nil),
	},
	{
		Name:        "kabunote_invalidate",
		Description: "Drop every cached price series, indicator set and AI explanation of a stock.",
		InputSchema: objectSchema(map[string]Property{
			"stock_code": stringProp("Stock code, e.g. 7203"),
		}, "stock_code"),
	},
	{
		Name:        "kabunote_cached_explanation",
		Description: "Show the cached AI explanation of a stock chart without generating a new one.",
		InputSchema: objectSchema(map[string]Property{
			"stock_code":   stringProp("Stock code, e.g. 7203"),
			"chart_period": stringProp("Chart period: 1W, 1M, 3M, 6M or 1Y (default 1M)"),
		}, "stock_code"),
	},
}

func parseArgs(raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		return true
	}
	return json.Unmarshal(raw, v) == nil
}

func handleUsage(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args usageArgs
	if !parseArgs(raw, &args) {
		return errorResult("invalid arguments")
	}
	snap, err := s.backend.Usage(ctx, args.UserID)
	if err != nil {
		return errorResult("Error fetching usage: " + err.Error())
	}
	return textResult(formatUsage(snap, s.backend.Limits(), args.UserID))
}

func handleUsageHistory(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args historyArgs
	if !parseArgs(raw, &args) {
		return errorResult("invalid arguments")
	}
	days, err := s.backend.UsageHistory(ctx, args.Days)
	if err != nil {
		return errorResult("Error fetching usage history: " + err.Error())
	}
	return textResult(formatHistory(days, s.backend.Limits()))
}

func handleCacheStats(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	stats, err := s.backend.CacheStats(ctx)
	if err != nil {
		return errorResult("Error fetching cache stats: " + err.Error())
	}
	return textResult(formatCacheStats(stats))
}

func handleCacheCleanup(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	n, err := s.backend.CleanupExpired(ctx)
	if err != nil {
		return errorResult("Error cleaning up cache: " + err.Error())
	}
	return textResult(formatCleanup(n))
}

func handleInvalidate(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args subjectArgs
	if !parseArgs(raw, &args) || strings.TrimSpace(args.StockCode) == "" {
		return errorResult("stock_code is required")
	}
	removed, err := s.backend.Invalidate(ctx, args.StockCode)
	if err != nil {
		return errorResult("Error invalidating cache: " + err.Error())
	}
	if !removed {
		return textResult("Nothing cached for " + args.StockCode + ".")
	}
	return textResult("Cache invalidated for " + args.StockCode + ".")
}

func handleCachedExplanation(ctx context.Context, s *Server, raw json.RawMessage) ToolCallResult {
	var args explanationArgs
	if !parseArgs(raw, &args) || strings.TrimSpace(args.StockCode) == "" {
		return errorResult("stock_code is required")
	}
	exp, err := s.backend.CachedExplanation(ctx, args.StockCode, args.ChartPeriod)
	if err != nil {
		return errorResult("Error fetching explanation: " + err.Error())
	}
	if exp == nil {
		return textResult("No cached explanation found.")
	}
	return textResult(formatExplanation(exp))
}
