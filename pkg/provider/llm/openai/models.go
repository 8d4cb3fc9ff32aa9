package openai

import (
	"strings"

	"github.com/MrWong99/omnillm/pkg/provider/llm"
)

// modelSpec is one row of the capability table.
type modelSpec struct {
	prefix     string
	context    int
	maxOutput  int
	vision     bool
	tools      bool
	structured bool
	input      float64
	output     float64
}

// models is matched by prefix in order, so more specific ids come first.
var models = []modelSpec{
	// Compaction-extended: the advertised window covers several
	// compacted context segments.
	{"gpt-5.1-codex-max", 1_000_000, 128_000, true, true, true, 1.25, 10},
	{"gpt-5-nano", 400_000, 128_000, true, true, true, 0.05, 0.4},
	{"gpt-5-mini", 400_000, 128_000, true, true, true, 0.25, 2},
	{"gpt-5", 400_000, 128_000, true, true, true, 1.25, 10},
	{"gpt-4.1-nano", 1_047_576, 32_768, true, true, true, 0.1, 0.4},
	{"gpt-4.1-mini", 1_047_576, 32_768, true, true, true, 0.4, 1.6},
	{"gpt-4.1", 1_047_576, 32_768, true, true, true, 2, 8},
	{"gpt-4o-mini", 128_000, 16_384, true, true, true, 0.15, 0.6},
	{"gpt-4o", 128_000, 16_384, true, true, true, 2.5, 10},
	{"gpt-4-turbo", 128_000, 4_096, true, true, true, 10, 30},
	{"gpt-4", 8_192, 4_096, false, true, false, 30, 60},
	{"gpt-3.5-turbo", 16_385, 4_096, false, true, true, 0.5, 1.5},
	{"o1-mini", 128_000, 65_536, false, false, false, 1.1, 4.4},
	{"o1", 200_000, 100_000, true, true, true, 15, 60},
	{"o3-mini", 200_000, 100_000, false, true, true, 1.1, 4.4},
	{"o3", 200_000, 100_000, true, true, true, 2, 8},
	{"o4-mini", 200_000, 100_000, true, true, true, 1.1, 4.4},
}

// modelCapabilities returns capabilities for known OpenAI model names.
// Unknown models get a conservative 128K window without pricing.
func modelCapabilities(model string) llm.Capabilities {
	caps := llm.Capabilities{
		SupportsStructuredOutput: true,
		SupportsStreaming:        true,
		SupportsToolCalling:      true,
		SupportsSystemPrompts:    true,
		MaxContextTokens:         128_000,
		MaxOutputTokens:          4_096,
	}

	lower := strings.ToLower(model)
	for _, m := range models {
		if !strings.HasPrefix(lower, m.prefix) {
			continue
		}
		caps.MaxContextTokens = m.context
		caps.MaxOutputTokens = m.maxOutput
		caps.SupportsVision = m.vision
		caps.SupportsToolCalling = m.tools
		caps.SupportsStructuredOutput = m.structured
		caps.Pricing = &llm.Pricing{InputCostPer1M: m.input, OutputCostPer1M: m.output}
		break
	}
	// o1-mini and o1-preview reject the system role.
	if strings.HasPrefix(lower, "o1-mini") || strings.HasPrefix(lower, "o1-preview") {
		caps.SupportsSystemPrompts = false
	}
	return caps
}

// usesCompletionTokens reports whether model takes max_completion_tokens
// instead of the deprecated max_tokens.
func usesCompletionTokens(model string) bool {
	lower := strings.ToLower(model)
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
