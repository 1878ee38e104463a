package mcp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pario-ai/shopkeep/pkg/models"
)

// formatCacheStats formats cache stats as a text table.
func formatCacheStats(stats models.CacheStats) string {
	var b strings.Builder
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	fmt.Fprintf(&b, "Hits: %d  Misses: %d  Errors: %d  Hit Rate: %.1f%%\n\n",
		stats.Hits, stats.Misses, stats.Errors, hitRate)

	if len(stats.Stores) == 0 {
		b.WriteString("No stores cached.")
		return b.String()
	}

	names := make([]string, 0, len(stats.Stores))
	for name := range stats.Stores {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(&b, "%-24s %8s %-20s %6s\n", "Store", "Items", "Updated", "Fresh")
	b.WriteString(strings.Repeat("-", 61) + "\n")
	for _, name := range names {
		s := stats.Stores[name]
		fmt.Fprintf(&b, "%-24s %8d %-20s %6t\n",
			name, s.ItemCount, s.LastUpdated.Format("2006-01-02 15:04:05"), s.IsValid)
	}
	return b.String()
}

// formatDeliveries formats delivery records as a text table.
func formatDeliveries(records []models.DeliveryRecord) string {
	if len(records) == 0 {
		return "No deliveries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-24s %-9s %-10s %8s  %s\n",
		"Time", "Chat", "Status", "Transport", "Attempts", "Error")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, r := range records {
		fmt.Fprintf(&b, "%-20s %-24s %-9s %-10s %8d  %s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"), r.ChatID, r.Status, r.Transport, r.Attempts, r.Error)
	}
	return b.String()
}

// formatDeliveryStats formats per-day delivery counts.
func formatDeliveryStats(stats []models.DeliveryStat) string {
	if len(stats) == 0 {
		return "No deliveries recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-9s %8s\n", "Day", "Status", "Count")
	b.WriteString(strings.Repeat("-", 31) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-12s %-9s %8d\n", s.Day, s.Status, s.Count)
	}
	return b.String()
}

// formatQuotaStatus formats quota statuses as a text table.
func formatQuotaStatus(statuses []models.QuotaStatus) string {
	if len(statuses) == 0 {
		return "No quota policies found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s %-8s %10s %10s %10s %6s\n",
		"Chat", "Period", "Max", "Used", "Remaining", "Usage%")
	b.WriteString(strings.Repeat("-", 73) + "\n")
	for _, s := range statuses {
		pct := float64(0)
		if s.Policy.MaxMessages > 0 {
			pct = float64(s.Used) / float64(s.Policy.MaxMessages) * 100
		}
		period := s.Policy.Period
		if period == "" {
			period = models.QuotaDaily
		}
		fmt.Fprintf(&b, "%-24s %-8s %10d %10d %10d %5.1f%%\n",
			s.Policy.ChatID, period, s.Policy.MaxMessages, s.Used, s.Remaining, pct)
	}
	return b.String()
}

// formatSendResult describes a successful send.
func formatSendResult(res models.SendResult) string {
	out := fmt.Sprintf("Message delivered after %d attempt(s).", res.Attempts)
	if len(res.Data) > 0 {
		out += "\n" + string(res.Data)
	}
	return out
}
