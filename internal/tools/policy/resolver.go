package policy

import (
	"fmt"
	"maps"
	"strings"

	"github.com/haasonsaas/parrot/internal/agent"
)

// Resolver resolves tool access based on policies.
type Resolver struct {
	groups map[string][]string
}

// NewResolver creates a new policy resolver.
func NewResolver() *Resolver {
	return &Resolver{groups: maps.Clone(DefaultGroups)}
}

// AddGroup adds a custom tool group.
func (r *Resolver) AddGroup(name string, tools []string) {
	r.groups[name] = tools
}

// ExpandGroups expands group references in a tool list, dropping duplicates.
func (r *Resolver) ExpandGroups(items []string) []string {
	var result []string
	seen := make(map[string]bool)
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			result = append(result, name)
		}
	}
	for _, item := range items {
		normalized := NormalizeTool(item)
		if tools, ok := r.groups[normalized]; ok {
			for _, tool := range tools {
				add(tool)
			}
			continue
		}
		add(normalized)
	}
	return result
}

// Validate rejects unknown profiles and group references.
func (r *Resolver) Validate(policy *Policy) error {
	if policy == nil {
		return nil
	}
	if policy.Profile != "" {
		if _, ok := ProfileDefaults[policy.Profile]; !ok {
			return fmt.Errorf("unknown tool profile %q", policy.Profile)
		}
	}
	for _, list := range [][]string{policy.Allow, policy.Deny, policy.AdminOnly} {
		for _, item := range list {
			name := NormalizeTool(item)
			if strings.HasPrefix(name, "group:") {
				if _, ok := r.groups[name]; !ok {
					return fmt.Errorf("unknown tool group %q", item)
				}
			}
		}
	}
	return nil
}

// IsAllowed checks if a tool is allowed by the given policy.
func (r *Resolver) IsAllowed(policy *Policy, toolName string) bool {
	if policy == nil {
		return true
	}
	normalized := NormalizeTool(toolName)

	for _, d := range r.ExpandGroups(policy.Deny) {
		if d == normalized {
			return false
		}
	}
	if policy.Profile == "" && len(policy.Allow) == 0 {
		return true
	}
	if policy.Profile == ProfileFull {
		return true
	}
	for _, a := range r.allowed(policy) {
		if a == normalized {
			return true
		}
	}
	return false
}

func (r *Resolver) allowed(policy *Policy) []string {
	items := append([]string{}, ProfileDefaults[policy.Profile]...)
	return r.ExpandGroups(append(items, policy.Allow...))
}

// IsAdminOnly reports whether toolName is restricted to admins. A policy
// with no AdminOnly list uses DefaultAdminOnly.
func (r *Resolver) IsAdminOnly(policy *Policy, toolName string) bool {
	list := DefaultAdminOnly
	if policy != nil && policy.AdminOnly != nil {
		list = policy.AdminOnly
	}
	normalized := NormalizeTool(toolName)
	for _, name := range r.ExpandGroups(list) {
		if name == normalized {
			return true
		}
	}
	return false
}

// Apply filters tools down to those the policy allows, in order, and wraps
// admin-only tools with RequireAdmin.
func (r *Resolver) Apply(policy *Policy, tools []agent.Tool) []agent.Tool {
	result := make([]agent.Tool, 0, len(tools))
	for _, tool := range tools {
		if tool == nil || !r.IsAllowed(policy, tool.Name()) {
			continue
		}
		if r.IsAdminOnly(policy, tool.Name()) {
			tool = RequireAdmin(tool)
		}
		result = append(result, tool)
	}
	return result
}
