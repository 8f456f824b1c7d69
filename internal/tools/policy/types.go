// Package policy decides which tools are exposed to the agent and which of
// them only admins may call.
package policy

import (
	"strings"
)

// Profile is a preset allow list.
type Profile string

const (
	// ProfileMinimal allows only time and lookup tools.
	ProfileMinimal Profile = "minimal"

	// ProfileStandard allows everything except browser automation.
	ProfileStandard Profile = "standard"

	// ProfileFull allows all tools (except explicitly denied).
	ProfileFull Profile = "full"
)

// Policy defines tool access rules. Deny rules always take precedence over
// allow rules. An empty policy allows every tool.
type Policy struct {
	// Profile is a preset access level.
	Profile Profile `json:"profile,omitempty" yaml:"profile"`

	// Allow explicitly allows these tools (in addition to profile).
	Allow []string `json:"allow,omitempty" yaml:"allow"`

	// Deny explicitly denies these tools (overrides allow).
	Deny []string `json:"deny,omitempty" yaml:"deny"`

	// AdminOnly tools stay in the catalog but reject non-admin callers.
	AdminOnly []string `json:"admin_only,omitempty" yaml:"admin_only"`
}

// DefaultGroups are the built-in tool groups. Group names use the
// "group:" prefix.
var DefaultGroups = map[string][]string{
	"group:web":        {"web_search", "web_fetch"},
	"group:media":      {"text_to_speech", "browser"},
	"group:automation": {"schedule", "background_task"},
	"group:time":       {"datetime"},
	"group:all": {
		"web_search", "web_fetch",
		"text_to_speech", "browser",
		"schedule", "background_task",
		"datetime",
	},
}

// ProfileDefaults defines the default allow lists for each profile.
var ProfileDefaults = map[Profile][]string{
	ProfileMinimal:  {"group:time", "group:web"},
	ProfileStandard: {"group:web", "group:time", "group:automation", "text_to_speech"},
	ProfileFull:     {"group:all"},
}

// DefaultAdminOnly lists tools guarded when the configuration names none.
var DefaultAdminOnly = []string{"browser"}

// ToolAliases maps alternative names to canonical tool names.
var ToolAliases = map[string]string{
	"websearch": "web_search",
	"webfetch":  "web_fetch",
	"tts":       "text_to_speech",
	"cron":      "schedule",
	"jobs":      "schedule",
	"tasks":     "background_task",
	"time":      "datetime",
}

// NormalizeTool normalizes a tool name to its canonical form by converting
// to lowercase and resolving known aliases.
func NormalizeTool(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := ToolAliases[normalized]; ok {
		return alias
	}
	return normalized
}
