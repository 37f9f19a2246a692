// Package tools defines the tools available to the agent: local
// builtins plus tools advertised by a remote Formula service.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool represents a callable builtin tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	Handler func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// RemoteProvider supplies remotely executed tools. Implemented by
// formula.Client.
type RemoteProvider interface {
	ListTools(ctx context.Context) []map[string]any
	Handles(functionName string) bool
	CallTool(ctx context.Context, functionName string, args map[string]any) (string, error)
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	remote RemoteProvider
}

// NewRegistry creates a tool registry. remote may be nil when no
// Formula service is configured.
func NewRegistry(remote RemoteProvider) *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		remote: remote,
	}
}

// Register adds a builtin tool.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a builtin tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Catalog returns all tool definitions in provider shape: builtins
// first, then whatever the remote service advertises.
func (r *Registry) Catalog(ctx context.Context) []map[string]any {
	var result []map[string]any
	for _, t := range r.tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	if r.remote != nil {
		result = append(result, r.remote.ListTools(ctx)...)
	}
	return result
}

// Execute runs a tool by name. Builtins shadow remote tools of the
// same name. argsJSON must be a JSON object or empty.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}

	if tool := r.tools[name]; tool != nil {
		return tool.Handler(ctx, args)
	}
	if r.remote != nil && r.remote.Handles(name) {
		return r.remote.CallTool(ctx, name, args)
	}
	return "", fmt.Errorf("unknown tool: %s", name)
}
