package usage

import (
	"strings"
	"testing"
)

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.TotalQueries != 0 || s.TotalTokens != 0 || s.TotalCostUSD != 0 {
		t.Errorf("empty ledger must summarize to zeros: %+v", s)
	}
	if s.AvgTokensPerQuery != 0 {
		t.Errorf("average over zero queries must be 0, got %v", s.AvgTokensPerQuery)
	}
}

func TestSummarizeExact(t *testing.T) {
	records := []Record{
		{TotalTokens: 100, CostUSD: 0.01},
		{TotalTokens: 200, CostUSD: 0.02},
		{TotalTokens: 300, CostUSD: 0.03},
	}
	s := Summarize(records)
	if s.TotalQueries != 3 {
		t.Errorf("expected 3 queries, got %d", s.TotalQueries)
	}
	if s.TotalTokens != 600 {
		t.Errorf("expected 600 tokens, got %d", s.TotalTokens)
	}
	if s.AvgTokensPerQuery != 200 {
		t.Errorf("expected average 200 exactly, got %v", s.AvgTokensPerQuery)
	}
	if diff := s.TotalCostUSD - 0.06; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected cost 0.06, got %v", s.TotalCostUSD)
	}
}

func TestRenderContainsTotals(t *testing.T) {
	out := Summary{
		TotalQueries:      4,
		TotalTokens:       4000,
		AvgTokensPerQuery: 1000,
		TotalCostUSD:      0.1234,
	}.Render()

	for _, want := range []string{"TOKEN USAGE SUMMARY", "$0.1234", "Total queries: 4", "Total tokens: 4000", "Avg tokens/query: 1000"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestCostUnknownModel(t *testing.T) {
	if got := DefaultPrices().Cost("unpriced-model", 1000, 1000); got != 0 {
		t.Errorf("unknown model should price at zero, got %v", got)
	}
}
