package backends

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/okian/evalbench/internal/domain/scoring"
)

const maxReplyBytes = 1 << 20

// HTTP posts to a generic bearer-authenticated JSON scoring endpoint.
type HTTP struct {
	name   string
	model  string
	url    string
	apiKey string
	client *http.Client
}

type httpRequest struct {
	Model       string `json:"model"`
	Instruction string `json:"instruction"`
	Submission  string `json:"submission"`
}

type httpEnvelope struct {
	Output *string `json:"output"`
}

// NewHTTP builds a generic HTTP backend posting to cfg.BaseURL.
func NewHTTP(cfg Config) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("http backend %s: base_url is required", cfg.Name)
	}
	return &HTTP{
		name:   cfg.Name,
		model:  cfg.Model,
		url:    cfg.BaseURL,
		apiKey: cfg.APIKey,
		client: cfg.httpClient(),
	}, nil
}

// Name implements scoring.Backend.
func (h *HTTP) Name() string { return h.name }

// Complete posts {model, instruction, submission} and returns the reply's
// output field, or the raw body when it is not such an envelope.
func (h *HTTP) Complete(ctx context.Context, req scoring.Request) (string, error) {
	payload, err := json.Marshal(httpRequest{Model: h.model, Instruction: req.Instruction, Submission: req.Submission})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	hr.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		hr.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(hr)
	if err != nil {
		return "", fmt.Errorf("http backend %s: %w", h.name, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("http backend %s: status %d", h.name, resp.StatusCode)
	}

	var env httpEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Output != nil {
		body = []byte(*env.Output)
	}
	out := strings.TrimSpace(string(body))
	if out == "" {
		return "", fmt.Errorf("http backend %s: %w", h.name, ErrEmptyReply)
	}
	return out, nil
}
