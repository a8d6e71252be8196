// Package llm wraps an Ollama model endpoint with the retry/backoff and
// JSON-schema-constrained call shapes the decision cascade and analysis
// battery both depend on.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"argus/internal/logger"
)

// Options configures a single generation call.
type Options struct {
	Temperature float32
	Model       string // overrides the client's bound model when set
	Schema      json.RawMessage
}

// Client is bound to one `host|port|model[/no_think]` endpoint, matching
// the per-worker model binding the decision and analysis pools use.
type Client struct {
	api     *api.Client
	model   string
	noThink bool
}

// NewClient dials host:port and binds model. noThink, when set, makes
// Generate append a "/no_think" line to every prompt.
func NewClient(host string, port int, model string, noThink bool) (*Client, error) {
	base, err := url.Parse("http://" + host + ":" + strconv.Itoa(port))
	if err != nil {
		return nil, fmt.Errorf("parsing endpoint %s:%d: %w", host, port, err)
	}
	return &Client{
		api:     api.NewClient(base, http.DefaultClient),
		model:   model,
		noThink: noThink,
	}, nil
}

// maxRetries, initial backoff, and RPC timeout implement spec.md §5's
// "Model RPC: 120s with up to 3 retries, backoff 2->4->8s".
const (
	maxRetries     = 3
	initialBackoff = 2 * time.Second
	rpcTimeout     = 120 * time.Second
)

// Generate runs prompt against the bound model, retrying transient
// failures with the mandated 2->4->8s backoff. An empty model response is
// not retried - it is a ModelRefusal the caller treats as a hard "no".
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	if c.noThink {
		prompt = prompt + "\n/no_think"
	}

	req := &api.GenerateRequest{
		Model:  model,
		Prompt: prompt,
		Stream: boolPtr(false),
		Options: map[string]interface{}{
			"temperature": opts.Temperature,
		},
	}
	if len(opts.Schema) > 0 {
		req.Format = opts.Schema
	}

	var out string
	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
		var response string
		err := c.api.Generate(callCtx, req, func(r api.GenerateResponse) error {
			response += r.Response
			return nil
		})
		cancel()
		if err == nil {
			out = strings.TrimSpace(response)
			lastErr = nil
			break
		}
		lastErr = err
		if attempt == maxRetries {
			break
		}
		logger.Get().Warn().Err(err).Str("model", model).Int("attempt", attempt+1).Msg("generate call failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		backoff *= 2
	}
	if lastErr != nil {
		return "", fmt.Errorf("generate against %s: %w", model, lastErr)
	}
	if out == "" {
		return "", ErrEmptyResponse
	}
	return out, nil
}

// GenerateJSON runs Generate with a JSON schema attached and unmarshals the
// response into target. An unparsable response is a ParseError, not a
// ModelRefusal - the distinction matters because the former is logged and
// skipped while the latter is treated as "no" in a cascade.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, schema json.RawMessage, opts Options, target interface{}) error {
	opts.Schema = schema
	raw, err := c.Generate(ctx, prompt, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return nil
}

// Embed produces a dense embedding for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	resp, err := c.api.Embed(callCtx, &api.EmbedRequest{
		Model: c.model,
		Input: text,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding via %s: %w", c.model, err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Embeddings[0], nil
}

// Probe sends a short readiness prompt, used by the analysis pool's mode
// switch before it starts trusting a fallback or primary endpoint again.
func (c *Client) Probe(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var response string
	err := c.api.Generate(callCtx, &api.GenerateRequest{
		Model:  c.model,
		Prompt: "respond with the single word: ready",
		Stream: boolPtr(false),
	}, func(r api.GenerateResponse) error {
		response += r.Response
		return nil
	})
	if err != nil {
		return fmt.Errorf("probing %s: %w", c.model, err)
	}
	if strings.TrimSpace(response) == "" {
		return ErrEmptyResponse
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
