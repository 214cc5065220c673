package usage

import (
	"fmt"
	"strings"
)

// Summary is the aggregate view over a sequence of usage records.
type Summary struct {
	TotalQueries      int     `json:"total_queries"`
	TotalTokens       int     `json:"total_tokens"`
	AvgTokensPerQuery float64 `json:"avg_tokens_per_query"`
	TotalCostUSD      float64 `json:"total_cost_usd"`
}

// Summarize aggregates records. Defined (all-zero) for empty input.
func Summarize(records []Record) Summary {
	var s Summary
	for _, rec := range records {
		s.TotalQueries++
		s.TotalTokens += rec.TotalTokens
		s.TotalCostUSD += rec.CostUSD
	}
	if s.TotalQueries > 0 {
		s.AvgTokensPerQuery = float64(s.TotalTokens) / float64(s.TotalQueries)
	}
	return s
}

// Render formats the summary as the cost-report banner.
func (s Summary) Render() string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "💰 TOKEN USAGE SUMMARY")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Total spent: $%.4f\n", s.TotalCostUSD)
	fmt.Fprintf(&b, "Total queries: %d\n", s.TotalQueries)
	fmt.Fprintf(&b, "Total tokens: %d\n", s.TotalTokens)
	fmt.Fprintf(&b, "Avg tokens/query: %.0f\n", s.AvgTokensPerQuery)
	fmt.Fprint(&b, rule)
	return b.String()
}
