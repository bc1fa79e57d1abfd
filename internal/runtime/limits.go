package runtime

import "strings"

// reservedTokens covers the system prompt, tool schemas and the response.
const reservedTokens = 10_000

// ContextLimitForModel returns the token limit for a model. A configured
// max_context_size wins; otherwise common naming patterns decide, with a
// conservative fallback.
func ContextLimitForModel(model string, configured int) int {
	if configured > 0 {
		return configured
	}
	model = strings.ToLower(strings.TrimSpace(model))

	switch {
	case strings.HasPrefix(model, "gemini-"):
		return 1_048_576
	case strings.HasPrefix(model, "claude-"):
		return 200_000
	case strings.HasPrefix(model, "gpt-4"):
		return 128_000
	case strings.HasPrefix(model, "deepseek"):
		return 64_000
	case strings.HasPrefix(model, "qwen"):
		return 131_072
	}
	return 128_000
}
