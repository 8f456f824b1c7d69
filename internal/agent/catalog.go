package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/parrot/internal/outbound"
)

// Tool is the contract every catalog entry satisfies.
//
// Execute returns the result text handed back to the model, conventionally
// a JSON object. A returned error is converted into a structured error
// payload by the Invoker; return a *ToolError to choose its kind.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage, inv *Invocation) (string, error)
}

// Invocation is the per-turn context passed to every tool call.
type Invocation struct {
	// CallerID is the owner identity tools scope their data to.
	CallerID string

	// ChatID is the channel-specific conversation the turn arrived on.
	ChatID string

	// Notifier delivers out-of-band messages to users.
	Notifier outbound.Notifier

	// IsAdmin is true when the caller is on the configured admin allowlist.
	IsAdmin bool
}

// Tool name and argument limits.
const (
	// MaxToolNameLength matches the strictest provider limit.
	MaxToolNameLength = 64

	// MaxToolArgsSize bounds tool arguments JSON (1MB).
	MaxToolArgsSize = 1 << 20
)

var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type catalogEntry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Catalog is the immutable, ordered tool registry. It is safe for
// concurrent use because it is never mutated after NewCatalog returns.
type Catalog struct {
	entries []catalogEntry
	index   map[string]int
}

// NewCatalog validates and registers tools in the given order. It fails on
// duplicate or malformed names and on schemas that do not compile.
func NewCatalog(tools ...Tool) (*Catalog, error) {
	c := &Catalog{
		entries: make([]catalogEntry, 0, len(tools)),
		index:   make(map[string]int, len(tools)),
	}
	for _, tool := range tools {
		if tool == nil {
			return nil, fmt.Errorf("nil tool")
		}
		name := tool.Name()
		if name == "" {
			return nil, fmt.Errorf("tool name is required")
		}
		if len(name) > MaxToolNameLength || !toolNamePattern.MatchString(name) {
			return nil, fmt.Errorf("invalid tool name %q", name)
		}
		if _, exists := c.index[name]; exists {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		schema, err := compileToolSchema(name, tool.Schema())
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", name, err)
		}
		c.index[name] = len(c.entries)
		c.entries = append(c.entries, catalogEntry{tool: tool, schema: schema})
	}
	return c, nil
}

// MustCatalog is NewCatalog that panics on error, for static tool sets.
func MustCatalog(tools ...Tool) *Catalog {
	c, err := NewCatalog(tools...)
	if err != nil {
		panic(err)
	}
	return c
}

func compileToolSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("schema is not valid JSON")
	}
	compiled, err := jsonschema.CompileString("tool://"+name+".json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// Lookup returns the tool registered under name.
func (c *Catalog) Lookup(name string) (Tool, bool) {
	if c == nil {
		return nil, false
	}
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.entries[i].tool, true
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	_, ok := c.Lookup(name)
	return ok
}

// List returns definitions in registration order.
func (c *Catalog) List() []ToolDefinition {
	if c == nil {
		return nil
	}
	defs := make([]ToolDefinition, 0, len(c.entries))
	for _, e := range c.entries {
		defs = append(defs, ToolDefinition{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			Parameters:  e.tool.Schema(),
		})
	}
	return defs
}

// Names returns tool names in registration order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, e.tool.Name())
	}
	return names
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// validate checks args against the compiled schema of name.
func (c *Catalog) validate(name string, args json.RawMessage) error {
	i, ok := c.index[name]
	if !ok || c.entries[i].schema == nil {
		return nil
	}
	var decoded any
	if len(args) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	return c.entries[i].schema.Validate(decoded)
}
