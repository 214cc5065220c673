package usage

import "math"

// Rate is the cost per 1K tokens for one model.
type Rate struct {
	InputPer1K  float64
	OutputPer1K float64
}

// PriceTable maps model IDs to token rates. Unknown models price at zero
// rather than failing; metering still records their token counts.
type PriceTable map[string]Rate

// DefaultPrices covers the models this assistant is normally run against.
func DefaultPrices() PriceTable {
	return PriceTable{
		"gpt-4o":      {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini": {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"meta.llama4-maverick-17b-instruct-v1:0": {InputPer1K: 0.00024, OutputPer1K: 0.00097},
		"meta.llama4-scout-17b-instruct-v1:0":    {InputPer1K: 0.00017, OutputPer1K: 0.00066},
		"anthropic.claude-3-5-sonnet-20241022-v2:0": {InputPer1K: 0.003, OutputPer1K: 0.015},
	}
}

// Cost derives the dollar cost of one invocation, rounded to micro-dollars.
func (t PriceTable) Cost(model string, inputTokens, outputTokens int) float64 {
	rate := t[model]
	cost := float64(inputTokens)/1000*rate.InputPer1K +
		float64(outputTokens)/1000*rate.OutputPer1K
	return math.Round(cost*1e6) / 1e6
}
