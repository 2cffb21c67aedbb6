package chatformat

import (
	"fmt"

	"github.com/goccy/go-json"
)

func toolCallJSON(tc ToolCall) (string, error) {
	args := tc.Arguments
	if args == nil {
		args = map[string]any{}
	}
	b, err := json.Marshal(struct {
		Name       string         `json:"name"`
		Parameters map[string]any `json:"parameters"`
	}{tc.ToolName, args})
	if err != nil {
		return "", fmt.Errorf("tool call %q: %w", tc.ToolName, err)
	}
	return string(b), nil
}

func normalizeRole(role string) string {
	if role == RoleTool {
		return RoleIPython
	}
	return role
}

func validRole(role string) bool {
	switch normalizeRole(role) {
	case RoleSystem, RoleUser, RoleAssistant, RoleIPython:
		return true
	}
	return false
}
