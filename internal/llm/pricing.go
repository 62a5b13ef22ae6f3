package llm

import "strings"

// modelPricing holds USD prices per million tokens for one model family.
type modelPricing struct {
	inputPerMTok  float64
	outputPerMTok float64
}

// pricingTable maps model identifier prefixes to published on-demand rates.
// The longest matching prefix wins, so dated snapshots such as
// "gpt-4o-2024-08-06" price like their family.
var pricingTable = map[string]modelPricing{
	"gpt-4o-mini":       {inputPerMTok: 0.15, outputPerMTok: 0.60},
	"gpt-4o":            {inputPerMTok: 2.50, outputPerMTok: 10.00},
	"gpt-4.1-mini":      {inputPerMTok: 0.40, outputPerMTok: 1.60},
	"gpt-4.1-nano":      {inputPerMTok: 0.10, outputPerMTok: 0.40},
	"gpt-4.1":           {inputPerMTok: 2.00, outputPerMTok: 8.00},
	"claude-opus-4":     {inputPerMTok: 15.00, outputPerMTok: 75.00},
	"claude-sonnet-4":   {inputPerMTok: 3.00, outputPerMTok: 15.00},
	"claude-3-7-sonnet": {inputPerMTok: 3.00, outputPerMTok: 15.00},
	"claude-3-5-haiku":  {inputPerMTok: 0.80, outputPerMTok: 4.00},
}

// EstimateCost returns the USD cost of one call at published per-token rates.
// Models without a pricing entry cost zero; the billing boundary treats
// unpriced usage as free instead of charging at a guessed rate.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	var (
		best    modelPricing
		bestLen = -1
	)
	for prefix, pricing := range pricingTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = pricing
			bestLen = len(prefix)
		}
	}
	if bestLen < 0 {
		return 0
	}
	return float64(inputTokens)*best.inputPerMTok/1e6 +
		float64(outputTokens)*best.outputPerMTok/1e6
}
