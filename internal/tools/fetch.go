package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kestrelcli/kestrel/internal/approval"
	"github.com/kestrelcli/kestrel/internal/policy"
)

const (
	fetchTimeout   = 30 * time.Second
	fetchBodyLimit = 512 << 10
	fetchUserAgent = "KestrelCLI/1.0"
)

// Fetch retrieves a URL over HTTP(S). The policy filters hosts before the
// approval gate is even consulted.
type Fetch struct {
	gate   *approval.Gate
	policy policy.Checker
	client *http.Client
}

func NewFetch(gate *approval.Gate, pol policy.Checker) *Fetch {
	return &Fetch{
		gate:   gate,
		policy: pol,
		client: &http.Client{Timeout: fetchTimeout},
	}
}

func (t *Fetch) Name() string { return "fetch" }

func (t *Fetch) Capability() string { return "network" }

func (t *Fetch) Description() string {
	return "Fetch the content of an HTTP or HTTPS URL."
}

func (t *Fetch) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to fetch.",
			},
		},
		"required":             []any{"url"},
		"additionalProperties": false,
	}
}

func (t *Fetch) Invoke(ctx context.Context, args json.RawMessage) Result {
	var in struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return Errorf("decode arguments: %v", err)
	}
	if t.policy != nil && !t.policy.AllowHTTPURL(in.URL) {
		return Errorf("url %s is not allowed by policy", in.URL)
	}

	approved, err := t.gate.Request(ctx, t.Name(), approval.ActionNetwork,
		fmt.Sprintf("Fetch %s", in.URL))
	if err != nil {
		return Errorf("approval: %v", err)
	}
	if !approved {
		return Rejected()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return Errorf("build request: %v", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	resp, err := t.client.Do(req)
	if err != nil {
		return Errorf("fetch %s: %v", in.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return Errorf("read body: %v", err)
	}
	if resp.StatusCode >= 400 {
		return Errorf("fetch %s: status %d", in.URL, resp.StatusCode)
	}
	return Result{
		OK:     true,
		Output: string(body),
		Brief:  fmt.Sprintf("Fetched %s (%d bytes, status %d)", in.URL, len(body), resp.StatusCode),
	}
}
