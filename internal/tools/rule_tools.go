package tools

import (
	"context"
	"fmt"

	"github.com/omnimind-ai/omnimind/internal/store"
)

// RuleSaver persists hard rules. Implemented by store.Store.
type RuleSaver interface {
	AddHardRule(userID, sessionID, content string) (*store.HardRule, error)
}

// SetRuleStore adds the store_hard_rule tool to the registry. The
// model calls it when the user states a standing instruction that
// should survive across turns.
func (r *Registry) SetRuleStore(rules RuleSaver) {
	r.Register(&Tool{
		Name: "store_hard_rule",
		Description: "Save a standing rule the user wants you to always follow, such as a " +
			"preferred language, tone, or formatting requirement. The rule is injected into " +
			"every future conversation. Only use this when the user explicitly states a " +
			"lasting preference, not for one-off requests.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"rule": map[string]any{
					"type":        "string",
					"description": "The rule text, phrased as an instruction to the assistant",
				},
			},
			"required": []string{"rule"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			rule, _ := args["rule"].(string)
			if rule == "" {
				return "", fmt.Errorf("rule is required")
			}

			scope := ScopeFromContext(ctx)
			if scope.UserID == "" {
				return "", fmt.Errorf("no user scope for rule storage")
			}

			saved, err := rules.AddHardRule(scope.UserID, "", rule)
			if err != nil {
				return "", fmt.Errorf("store rule: %w", err)
			}
			return fmt.Sprintf("Rule saved (id %s): %s", saved.ID, saved.Content), nil
		},
	})
}
