// Package mem0 is a client for the Mem0 memory service. Memories are
// scoped by user id plus run id (the session), so different sessions
// do not see each other's recollections.
package mem0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/omnimind-ai/omnimind/internal/httpkit"
)

// DefaultBaseURL is the hosted Mem0 endpoint.
const DefaultBaseURL = "https://api.mem0.ai"

// Client talks to the Mem0 REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Mem0 client. baseURL falls back to the hosted
// service when empty.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(),
		logger:     logger.With("component", "mem0"),
	}
}

type memoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type addRequest struct {
	Messages []memoryMessage `json:"messages"`
	UserID   string          `json:"user_id"`
	RunID    string          `json:"run_id,omitempty"`
}

type searchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	RunID  string `json:"run_id,omitempty"`
}

type memoryResult struct {
	Memory string `json:"memory"`
	Text   string `json:"text"`
}

// searchResponse tolerates both shapes the service returns: a bare
// array or an object with a results key.
type searchResponse struct {
	Results []memoryResult `json:"results"`
}

// Add records one memory text for the given user and session.
func (c *Client) Add(ctx context.Context, content, userID, runID string) error {
	body := addRequest{
		Messages: []memoryMessage{{Role: "user", Content: content}},
		UserID:   userID,
		RunID:    runID,
	}
	resp, err := c.send(ctx, http.MethodPost, "/v1/memories/", body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mem0 add: status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

// Search returns memory texts relevant to the query, scoped to the
// user and session.
func (c *Client) Search(ctx context.Context, query, userID, runID string) ([]string, error) {
	body := searchRequest{Query: query, UserID: userID, RunID: runID}
	resp, err := c.send(ctx, http.MethodPost, "/v1/memories/search/", body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mem0 search: status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	raw, err := decodeResults(resp)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(raw))
	for _, r := range raw {
		switch {
		case r.Memory != "":
			texts = append(texts, r.Memory)
		case r.Text != "":
			texts = append(texts, r.Text)
		}
	}
	return texts, nil
}

// Clear deletes all memories for a user.
func (c *Client) Clear(ctx context.Context, userID string) error {
	path := "/v1/memories/?user_id=" + url.QueryEscape(userID)
	resp, err := c.send(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mem0 clear: status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

func decodeResults(resp *http.Response) ([]memoryResult, error) {
	var payload json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode mem0 response: %w", err)
	}

	var list []memoryResult
	if err := json.Unmarshal(payload, &list); err == nil {
		return list, nil
	}
	var wrapped searchResponse
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, fmt.Errorf("unexpected mem0 response shape: %w", err)
	}
	return wrapped.Results, nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)

	c.logger.Log(ctx, slog.LevelDebug, "mem0 request", "method", method, "path", path)
	return c.httpClient.Do(req)
}
