package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/quota"
)

func percent(used, limit int64) float64 {
	if limit <= 0 {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

// formatUsage renders the current counters next to their limits.
func formatUsage(snap models.UsageSnapshot, limits quota.Limits, userID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "AI Usage (%s)\n", snap.Daily.Date)
	fmt.Fprintf(&b, "%-22s %10s %12s %7s\n", "Window", "Used", "Limit", "Usage%")
	b.WriteString(strings.Repeat("-", 54) + "\n")
	fmt.Fprintf(&b, "%-22s %10d %12d %6.1f%%\n", "day requests",
		snap.Daily.Requests, limits.DailyRequests, percent(int64(snap.Daily.Requests), int64(limits.DailyRequests)))
	fmt.Fprintf(&b, "%-22s %10d %12d %6.1f%%\n", "minute requests",
		snap.Minute.Requests, limits.MinuteRequests, percent(int64(snap.Minute.Requests), int64(limits.MinuteRequests)))
	fmt.Fprintf(&b, "%-22s %10d %12d %6.1f%%\n", "minute tokens",
		snap.Minute.Tokens, limits.MinuteTokens, percent(snap.Minute.Tokens, limits.MinuteTokens))
	if userID != "" {
		fmt.Fprintf(&b, "%-22s %10d %12d %6.1f%%\n", "user day requests",
			snap.User.Requests, limits.UserDailyRequests, percent(int64(snap.User.Requests), int64(limits.UserDailyRequests)))
	}
	fmt.Fprintf(&b, "\nTokens today: %d actual, %d estimated\n", snap.Daily.ActualTokens, snap.Daily.EstimatedTokens)
	return b.String()
}

// formatHistory renders daily usage rows.
func formatHistory(days []models.DailyUsage, limits quota.Limits) string {
	if len(days) == 0 {
		return "No usage data found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %10s %7s %12s %12s\n", "Date", "Requests", "Usage%", "Estimated", "Actual")
	b.WriteString(strings.Repeat("-", 57) + "\n")
	for _, d := range days {
		fmt.Fprintf(&b, "%-12s %10d %6.1f%% %12d %12d\n",
			d.Date, d.Requests, percent(int64(d.Requests), int64(limits.DailyRequests)), d.EstimatedTokens, d.ActualTokens)
	}
	return b.String()
}

// formatCacheStats renders per-namespace entry counts.
func formatCacheStats(stats models.CacheStats) string {
	if len(stats.Namespaces) == 0 {
		return "Cache is empty."
	}
	names := make([]string, 0, len(stats.Namespaces))
	for ns := range stats.Namespaces {
		names = append(names, ns)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%-22s %8s %8s %8s %8s\n", "Namespace", "Total", "Live", "Expired", "Live%")
	b.WriteString(strings.Repeat("-", 58) + "\n")
	for _, ns := range names {
		st := stats.Namespaces[ns]
		fmt.Fprintf(&b, "%-22s %8d %8d %8d %7.1f%%\n", ns, st.Total, st.Live, st.Expired, st.HitRate*100)
	}

	lookups := stats.Hits + stats.Misses
	if lookups > 0 {
		fmt.Fprintf(&b, "\nLookups: %d hits, %d misses (%.1f%% hit rate)\n",
			stats.Hits, stats.Misses, percent(stats.Hits, lookups))
	}
	return b.String()
}

func formatCleanup(n int64) string {
	if n == 0 {
		return "No expired entries."
	}
	return fmt.Sprintf("Removed %d expired entries.", n)
}

// formatExplanation renders a stored explanation with its indicators.
func formatExplanation(exp *models.Explanation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s, expires %s)\n\n", exp.StockCode, exp.ChartPeriod, exp.Source,
		exp.ExpiresAt.Format("2006-01-02 15:04"))
	b.WriteString(exp.ExplanationText)
	b.WriteString("\n\n")

	ind := exp.TechnicalData
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"SMA25", ind.SMA25},
		{"SMA75", ind.SMA75},
		{"RSI14", ind.RSI14},
		{"MACD", ind.MACDLine},
		{"Signal", ind.MACDSignal},
	} {
		if f.v == nil {
			fmt.Fprintf(&b, "%-7s -\n", f.name)
			continue
		}
		fmt.Fprintf(&b, "%-7s %.2f\n", f.name, *f.v)
	}
	return b.String()
}
