package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kestrelcli/kestrel/internal/policy"
	"github.com/kestrelcli/kestrel/internal/provider"
)

type registered struct {
	tool     Tool
	compiled *jsonschema.Schema
}

// Registry holds the tool set of one session and validates arguments and
// capabilities before dispatch.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]registered
	policy policy.Checker
	logger *slog.Logger
}

// NewRegistry returns an empty registry. A nil policy grants every
// capability.
func NewRegistry(pol policy.Checker, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{byName: map[string]registered{}, policy: pol, logger: logger}
}

// Register compiles the tool's parameter schema and adds it. Registering a
// tool with a malformed schema fails at startup rather than at dispatch.
func (r *Registry) Register(t Tool) error {
	raw, err := json.Marshal(t.Schema())
	if err != nil {
		return fmt.Errorf("tool %s: encode schema: %w", t.Name(), err)
	}
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("tool %s: unmarshal schema: %w", t.Name(), err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return fmt.Errorf("tool %s: add schema resource: %w", t.Name(), err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[t.Name()]; dup {
		return fmt.Errorf("tool %s: already registered", t.Name())
	}
	r.byName[t.Name()] = registered{tool: t, compiled: compiled}
	r.order = append(r.order, t.Name())
	return nil
}

// Schemas returns the declared tool set in registration order, for the
// chat request.
func (r *Registry) Schemas() []provider.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		t := r.byName[name].tool
		out = append(out, provider.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return out
}

// Names returns the registered tool names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Dispatch validates args against the tool's schema and invokes it. An
// unknown tool or invalid arguments produce a failed Result, not an error;
// the model gets the feedback and can correct itself.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) Result {
	r.mu.RLock()
	entry, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return Errorf("unknown tool %q", name)
	}
	if capability := entry.tool.Capability(); capability != "" && r.policy != nil && !r.policy.AllowCapability(capability) {
		return Errorf("tool %s: capability %q is denied by policy", name, capability)
	}

	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(args)))
	if err != nil {
		return Errorf("tool %s: arguments are not valid JSON: %v", name, err)
	}
	if err := entry.compiled.Validate(parsed); err != nil {
		return Errorf("tool %s: invalid arguments: %v", name, err)
	}

	r.logger.Debug("dispatching tool", "tool", name)
	return entry.tool.Invoke(ctx, args)
}
