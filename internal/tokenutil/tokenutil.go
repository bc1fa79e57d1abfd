// Package tokenutil estimates the token footprint of journaled messages for
// compaction decisions. Estimates are deliberately rough; they only need to
// land on the right side of the context threshold.
package tokenutil

import (
	"strings"

	"github.com/kestrelcli/kestrel/internal/message"
)

// perMessageOverhead accounts for role markers and wire framing around each
// message.
const perMessageOverhead = 4

// EstimateText returns a word-based token estimate for a text fragment.
// Splits on whitespace, multiplies by 1.33 (avg tokens/word for English),
// with len/4 as a floor for code and non-English text.
func EstimateText(content string) int {
	if content == "" {
		return 0
	}
	words := len(strings.Fields(content))
	wordEstimate := int(float64(words) * 1.33)
	charEstimate := len(content) / 4
	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}

// EstimateMessage returns the estimate for one message, counting its text
// and any tool-call payloads it carries.
func EstimateMessage(m message.Message) int {
	total := perMessageOverhead + EstimateText(m.Content)
	for _, call := range m.ToolCalls {
		total += EstimateText(call.Name) + EstimateText(string(call.Arguments))
	}
	return total
}

// EstimateMessages sums EstimateMessage over a transcript.
func EstimateMessages(msgs []message.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}
