package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kestrelcli/kestrel/internal/journal"
	"github.com/kestrelcli/kestrel/internal/message"
	"github.com/kestrelcli/kestrel/internal/provider"
)

// CompactorOptions controls automatic history compaction.
type CompactorOptions struct {
	// Threshold is the fraction of the available context that triggers
	// compaction. Zero means 0.8.
	Threshold float64
	// KeepCheckpoints is how many trailing checkpoint segments survive.
	// Zero means 2.
	KeepCheckpoints int
}

// Compactor shrinks the journal when it approaches the model's context
// limit, replacing old history with a model-written summary.
type Compactor struct {
	journal  *journal.Journal
	provider provider.ChatProvider
	opts     CompactorOptions
	logger   *slog.Logger
}

func NewCompactor(j *journal.Journal, p provider.ChatProvider, opts CompactorOptions, logger *slog.Logger) *Compactor {
	if opts.Threshold <= 0 {
		opts.Threshold = 0.8
	}
	if opts.KeepCheckpoints <= 0 {
		opts.KeepCheckpoints = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{journal: j, provider: p, opts: opts, logger: logger}
}

// CompactIfNeeded compacts when the estimated journal size crosses the
// threshold. Below the threshold it does nothing.
func (c *Compactor) CompactIfNeeded(ctx context.Context) error {
	limit := ContextLimitForModel(c.provider.ModelName(), c.provider.MaxContextSize())
	available := limit - reservedTokens
	if available < 1000 {
		available = 1000
	}
	tokens := c.journal.EstimateTokens()
	if float64(tokens) < float64(available)*c.opts.Threshold {
		return nil
	}
	c.logger.Info("context near limit, compacting",
		"tokens", tokens,
		"limit", limit,
		"n_checkpoints", c.journal.NCheckpoints())
	return c.Compact(ctx)
}

// Compact summarizes everything before the last KeepCheckpoints segments
// and replaces it with a single summary message. When too little history
// exists it is a no-op.
func (c *Compactor) Compact(ctx context.Context) error {
	if c.journal.NCheckpoints() <= c.opts.KeepCheckpoints {
		return nil
	}

	summary, err := c.summarize(ctx)
	if err != nil {
		// A failed summarization still compacts; losing nuance beats
		// overflowing the context window.
		c.logger.Warn("summarization failed, compacting with placeholder", "error", err)
		summary = "[Earlier conversation history was compacted due to length.]"
	}

	summaryMsg := message.System("Previous conversation summary: " + summary)
	if err := c.journal.CompactTo(ctx, c.opts.KeepCheckpoints, summaryMsg); err != nil {
		return fmt.Errorf("compact journal: %w", err)
	}
	c.logger.Info("journal compacted",
		"n_checkpoints", c.journal.NCheckpoints(),
		"tokens", c.journal.EstimateTokens())
	return nil
}

func (c *Compactor) summarize(ctx context.Context) (string, error) {
	var conversation strings.Builder
	for _, msg := range c.journal.Messages() {
		conversation.WriteString(string(msg.Role))
		conversation.WriteString(": ")
		conversation.WriteString(msg.Content)
		conversation.WriteByte('\n')
	}

	prompt := fmt.Sprintf(`Summarize the following conversation history into a concise summary that preserves:
- Key facts, decisions, and conclusions
- User preferences and constraints mentioned
- Any ongoing tasks or action items
- Important context needed for future turns

Conversation:
%s`, conversation.String())

	resp, err := c.provider.Chat(ctx, provider.Request{
		Messages: []message.Message{message.User(prompt)},
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}
