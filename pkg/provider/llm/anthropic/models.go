package anthropic

import (
	"strings"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// modelCapabilities derives capabilities from the model identifier alone.
// Unrecognised models get the current-generation defaults without pricing.
func modelCapabilities(model string) llm.Capabilities {
	lower := strings.ToLower(model)

	modern := strings.Contains(lower, "claude-3") ||
		strings.Contains(lower, "claude-4") ||
		strings.Contains(lower, "-4-") ||
		strings.HasSuffix(lower, "-4")
	legacy := strings.HasPrefix(lower, "claude-2") || strings.Contains(lower, "instant")

	caps := llm.Capabilities{
		SupportsStructuredOutput: true,
		SupportsStreaming:        true,
		SupportsSystemPrompts:    true,
		SupportsVision:           modern,
		SupportsToolCalling:      modern || !legacy,
		MaxContextTokens:         200_000,
		MaxOutputTokens:          4096,
		Pricing:                  modelPricing(lower),
	}
	if legacy {
		caps.MaxContextTokens = 100_000
	}
	extendedOutput := strings.Contains(lower, "claude-3-5") ||
		strings.Contains(lower, "claude-3-7") ||
		strings.Contains(lower, "claude-4") ||
		strings.Contains(lower, "-4-") ||
		strings.HasSuffix(lower, "-4")
	if extendedOutput {
		caps.MaxOutputTokens = 8192
	}
	return caps
}

// modelPricing returns list prices per million tokens by tier.
func modelPricing(lower string) *llm.Pricing {
	switch {
	case strings.Contains(lower, "opus-4-5"), strings.Contains(lower, "opus-4-6"):
		return &llm.Pricing{InputCostPer1M: 5, OutputCostPer1M: 25}
	case strings.Contains(lower, "opus"):
		return &llm.Pricing{InputCostPer1M: 15, OutputCostPer1M: 75}
	case strings.Contains(lower, "sonnet"):
		return &llm.Pricing{InputCostPer1M: 3, OutputCostPer1M: 15}
	case strings.Contains(lower, "haiku-4"):
		return &llm.Pricing{InputCostPer1M: 1, OutputCostPer1M: 5}
	case strings.Contains(lower, "3-5-haiku"):
		return &llm.Pricing{InputCostPer1M: 0.8, OutputCostPer1M: 4}
	case strings.Contains(lower, "haiku"):
		return &llm.Pricing{InputCostPer1M: 0.25, OutputCostPer1M: 1.25}
	case strings.HasPrefix(lower, "claude-2"):
		return &llm.Pricing{InputCostPer1M: 8, OutputCostPer1M: 24}
	case strings.Contains(lower, "instant"):
		return &llm.Pricing{InputCostPer1M: 0.8, OutputCostPer1M: 2.4}
	default:
		return nil
	}
}
