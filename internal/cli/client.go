package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/evalbench/internal/domain/model"
)

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status int
	Code   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Detail)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to the evalbench HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client with a per-request timeout.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// WaitHealthy polls /healthz with exponential backoff until it answers or
// maxWait elapses.
func (c *Client) WaitHealthy(ctx context.Context, maxWait time.Duration) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = maxWait
	return backoff.Retry(func() error {
		return c.do(ctx, http.MethodGet, "/healthz", nil)
	}, backoff.WithContext(policy, ctx))
}

// StartRun starts a bulk evaluation and returns its run ID.
func (c *Client) StartRun(ctx context.Context, competitionID string) (string, error) {
	var resp struct {
		Message string `json:"message"`
		RunID   string `json:"runId"`
	}
	if err := c.do(ctx, http.MethodPost, "/bulk-evaluate/"+url.PathEscape(competitionID), &resp); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Progress returns the recorded run progress, or nil when none exists.
func (c *Client) Progress(ctx context.Context, competitionID string) (*model.RunProgress, error) {
	var resp struct {
		Progress *model.RunProgress `json:"progress"`
	}
	if err := c.do(ctx, http.MethodGet, "/bulk-evaluate/progress/"+url.PathEscape(competitionID), &resp); err != nil {
		return nil, err
	}
	return resp.Progress, nil
}

// Lease returns the shared lease, or nil when it was never taken.
func (c *Client) Lease(ctx context.Context) (*model.Lease, error) {
	var resp struct {
		Lease *model.Lease `json:"lease"`
	}
	if err := c.do(ctx, http.MethodGet, "/bulk-evaluate/lease", &resp); err != nil {
		return nil, err
	}
	return resp.Lease, nil
}

// GenerateLeaderboard triggers final or level 1 generation.
func (c *Client) GenerateLeaderboard(ctx context.Context, competitionID string, level1 bool) (string, error) {
	path := "/competitions/" + url.PathEscape(competitionID) + "/final-leaderboard"
	if level1 {
		path = "/competitions/" + url.PathEscape(competitionID) + "/level1-final-leaderboard"
	}
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, path, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// FinalLeaderboard fetches the persisted final entries.
func (c *Client) FinalLeaderboard(ctx context.Context, competitionID string) ([]model.FinalEntry, error) {
	var resp struct {
		Entries []model.FinalEntry `json:"entries"`
	}
	if err := c.do(ctx, http.MethodGet, "/competitions/"+url.PathEscape(competitionID)+"/final-leaderboard", &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// JudgeStatus fetches judge completeness.
func (c *Client) JudgeStatus(ctx context.Context, competitionID string) (model.JudgeStatus, error) {
	var st model.JudgeStatus
	err := c.do(ctx, http.MethodGet, "/competitions/"+url.PathEscape(competitionID)+"/judge-status", &st)
	return st, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		var e struct {
			Error  string `json:"error"`
			Detail string `json:"detail"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			apiErr.Code, apiErr.Detail = e.Error, e.Detail
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
