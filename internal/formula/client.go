// Package formula is a client for a Formula tool service: a registry
// of remotely executed tools grouped by formula URI. Tool definitions
// are fetched per URI at startup and executed as fibers.
package formula

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/omnimind-ai/omnimind/internal/httpkit"
)

// Client talks to one Formula service covering a set of formula URIs.
type Client struct {
	baseURL    string
	apiKey     string
	uris       []string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	toolToURI map[string]string
}

// NewClient creates a Formula client over the given formula URIs.
func NewClient(baseURL, apiKey string, uris []string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		uris:       uris,
		httpClient: httpkit.NewClient(httpkit.WithTimeout(60 * time.Second)),
		logger:     logger.With("component", "formula"),
		toolToURI:  make(map[string]string),
	}
}

type toolsResponse struct {
	Tools []map[string]any `json:"tools"`
}

// fiber is the execution record returned by a fiber POST.
type fiber struct {
	Status  string          `json:"status"`
	Error   json.RawMessage `json:"error"`
	Context fiberContext    `json:"context"`
}

type fiberContext struct {
	Output          string          `json:"output"`
	EncryptedOutput string          `json:"encrypted_output"`
	Error           json.RawMessage `json:"error"`
}

// ListTools fetches tool definitions from every configured URI and
// returns them in provider catalog shape. A URI that fails to load is
// skipped with a warning; the catalog is whatever the rest provided.
func (c *Client) ListTools(ctx context.Context) []map[string]any {
	var all []map[string]any
	for _, uri := range c.uris {
		tools, err := c.fetchTools(ctx, uri)
		if err != nil {
			c.logger.Warn("failed to load formula tools", "uri", uri, "error", err)
			continue
		}
		all = append(all, tools...)
	}
	return all
}

func (c *Client) fetchTools(ctx context.Context, uri string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/formulas/"+uri+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var payload toolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}

	var tools []map[string]any
	for _, tool := range payload.Tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}
		c.mu.Lock()
		c.toolToURI[name] = uri
		c.mu.Unlock()
		tools = append(tools, tool)
	}
	return tools, nil
}

// Handles reports whether the named tool was advertised by any
// configured URI. ListTools must have run first.
func (c *Client) Handles(functionName string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.toolToURI[functionName]
	return ok
}

// CallTool executes a tool as a fiber and returns its output text. A
// fiber that completes with an error status yields the error text as
// the result, not a Go error; transport and protocol failures do.
func (c *Client) CallTool(ctx context.Context, functionName string, args map[string]any) (string, error) {
	c.mu.RLock()
	uri, ok := c.toolToURI[functionName]
	c.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", functionName)
	}

	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal arguments: %w", err)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(map[string]string{
		"name":      functionName,
		"arguments": string(argsJSON),
	}); err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/formulas/"+uri+"/fibers", &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("executing tool", "tool", functionName, "uri", uri)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var f fiber
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return "", fmt.Errorf("decode fiber: %w", err)
	}

	if f.Status == "succeeded" {
		if f.Context.Output != "" {
			return f.Context.Output, nil
		}
		return f.Context.EncryptedOutput, nil
	}

	errText := rawToString(f.Error)
	if errText == "" {
		errText = rawToString(f.Context.Error)
	}
	if errText == "" {
		errText = "Unknown error"
	}
	return "Error: " + errText, nil
}

// rawToString renders an error field that may be a string or an object.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
