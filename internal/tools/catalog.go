// Package tools defines the inventory tool catalog: the set of
// operations the model may call, their permission classes, parameter
// schemas, and handlers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/boxbot-dev/boxbot/internal/inventory"
	"github.com/boxbot-dev/boxbot/internal/llm"
	"github.com/boxbot-dev/boxbot/pkg/models"
)

// Permission classifies how much damage a tool can do.
type Permission string

const (
	// PermissionRead tools only read inventory state and run without
	// user approval.
	PermissionRead Permission = "read"

	// PermissionWrite tools create or modify records and require
	// approval before execution.
	PermissionWrite Permission = "write"

	// PermissionDestructive tools delete records irreversibly and
	// require approval before execution.
	PermissionDestructive Permission = "destructive"
)

// Handler executes one tool call against the inventory API using the
// caller's credential.
type Handler func(ctx context.Context, inv *inventory.Client, token string, params map[string]any) (*models.ToolResult, error)

// Descriptor declares one tool: identity, permission class, parameter
// schema, and handler.
type Descriptor struct {
	Name        string
	Description string
	Permission  Permission
	Schema      json.RawMessage
	Handler     Handler

	compiled *jsonschema.Schema
}

// Catalog is the registry of callable tools. Safe for concurrent use.
//
// Exported schemas are cached with a TTL because the export walks and
// rewrites every schema document when credential parameter injection
// is enabled.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor

	// credentialParam, when non-empty, is injected into every exported
	// schema as an optional string property. Handlers may use it to
	// override the session credential per call.
	credentialParam string

	schemaTTL   time.Duration
	cached      []llm.ToolDefinition
	cacheExpiry time.Time
	now         func() time.Time
}

const defaultSchemaTTL = 5 * time.Minute

type CatalogOption func(*Catalog)

// WithCredentialParam enables injection of an optional credential
// override parameter with the given name into exported schemas.
func WithCredentialParam(name string) CatalogOption {
	return func(c *Catalog) { c.credentialParam = name }
}

// WithSchemaTTL overrides the export cache TTL.
func WithSchemaTTL(ttl time.Duration) CatalogOption {
	return func(c *Catalog) {
		if ttl > 0 {
			c.schemaTTL = ttl
		}
	}
}

func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{
		tools:     make(map[string]*Descriptor),
		schemaTTL: defaultSchemaTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a tool to the catalog. The schema is compiled once at
// registration so malformed schemas surface at startup, not at call
// time.
func (c *Catalog) Register(desc *Descriptor) error {
	if desc == nil {
		return fmt.Errorf("tools: descriptor is nil")
	}
	if desc.Name == "" {
		return fmt.Errorf("tools: tool name is required")
	}
	if desc.Handler == nil {
		return fmt.Errorf("tools: tool %s has no handler", desc.Name)
	}
	switch desc.Permission {
	case PermissionRead, PermissionWrite, PermissionDestructive:
	default:
		return fmt.Errorf("tools: tool %s has invalid permission %q", desc.Name, desc.Permission)
	}

	if len(desc.Schema) > 0 {
		compiled, err := jsonschema.CompileString(desc.Name+".json", string(desc.Schema))
		if err != nil {
			return fmt.Errorf("tools: invalid schema for %s: %w", desc.Name, err)
		}
		desc.compiled = compiled
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[desc.Name]; exists {
		return fmt.Errorf("tools: tool %s already registered", desc.Name)
	}
	c.tools[desc.Name] = desc
	c.invalidateLocked()
	return nil
}

// MustRegister panics on registration failure. Used for the built-in
// catalog where a failure is a programming error.
func (c *Catalog) MustRegister(desc *Descriptor) {
	if err := c.Register(desc); err != nil {
		panic(err)
	}
}

// Get returns the named tool, or nil when it is not registered.
func (c *Catalog) Get(name string) *Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools[name]
}

// List returns tools sorted by name. With no filter all tools are
// returned; otherwise only those matching one of the given
// permissions.
func (c *Catalog) List(permissions ...Permission) []*Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []*Descriptor
	for _, desc := range c.tools {
		if len(permissions) == 0 || containsPermission(permissions, desc.Permission) {
			result = append(result, desc)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// RequiresApproval reports whether the named tool needs user approval
// before execution. Unknown tools require approval: a name the
// catalog has never seen must not execute silently.
func (c *Catalog) RequiresApproval(name string) bool {
	desc := c.Get(name)
	if desc == nil {
		return true
	}
	return desc.Permission != PermissionRead
}

// ValidateParams checks params against the tool's schema. Tools
// without a schema accept anything.
func (c *Catalog) ValidateParams(name string, params map[string]any) error {
	desc := c.Get(name)
	if desc == nil {
		return fmt.Errorf("tools: unknown tool %q", name)
	}
	if desc.compiled == nil {
		return nil
	}

	// Round-trip through JSON so Go-native values (ints, structs from
	// approval overrides) validate the same way wire values do.
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("tools: parameters for %s are not serializable: %w", name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("tools: parameters for %s are not valid JSON: %w", name, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	if err := desc.compiled.Validate(doc); err != nil {
		return fmt.Errorf("tools: invalid parameters for %s: %w", name, err)
	}
	return nil
}

// Export returns all tool schemas in function-calling format. The
// result is cached until the TTL lapses or the catalog changes.
func (c *Catalog) Export() []llm.ToolDefinition {
	c.mu.RLock()
	if c.cached != nil && c.now().Before(c.cacheExpiry) {
		defs := c.cached
		c.mu.RUnlock()
		return defs
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached != nil && c.now().Before(c.cacheExpiry) {
		return c.cached
	}

	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		desc := c.tools[name]
		schema := desc.Schema
		if c.credentialParam != "" {
			if injected, err := injectCredentialParam(schema, c.credentialParam); err == nil {
				schema = injected
			}
		}
		defs = append(defs, llm.ToolDefinition{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  schema,
		})
	}

	c.cached = defs
	c.cacheExpiry = c.now().Add(c.schemaTTL)
	return defs
}

// ResolveCredential strips the injected credential override from
// params and returns the token to use for the call. Without an
// override the session token is returned with params untouched.
func (c *Catalog) ResolveCredential(params map[string]any, sessionToken string) (string, map[string]any) {
	if c.credentialParam == "" {
		return sessionToken, params
	}
	override, ok := params[c.credentialParam].(string)
	if !ok || override == "" {
		return sessionToken, params
	}
	stripped := make(map[string]any, len(params))
	for k, v := range params {
		if k != c.credentialParam {
			stripped[k] = v
		}
	}
	return override, stripped
}

// InvalidateSchemas drops the export cache.
func (c *Catalog) InvalidateSchemas() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

func (c *Catalog) invalidateLocked() {
	c.cached = nil
	c.cacheExpiry = time.Time{}
}

// injectCredentialParam adds an optional string property to a schema
// document without marking it required.
func injectCredentialParam(schema json.RawMessage, param string) (json.RawMessage, error) {
	doc := map[string]any{}
	if len(schema) > 0 {
		if err := json.Unmarshal(schema, &doc); err != nil {
			return nil, err
		}
	}
	if doc["type"] == nil {
		doc["type"] = "object"
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		props = map[string]any{}
	}
	if _, exists := props[param]; !exists {
		props[param] = map[string]any{
			"type":        "string",
			"description": "Optional API token overriding the session credential for this call.",
		}
	}
	doc["properties"] = props
	return json.Marshal(doc)
}

func containsPermission(perms []Permission, p Permission) bool {
	for _, candidate := range perms {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePermission converts a config string to a Permission.
func ParsePermission(s string) (Permission, error) {
	switch Permission(strings.ToLower(s)) {
	case PermissionRead:
		return PermissionRead, nil
	case PermissionWrite:
		return PermissionWrite, nil
	case PermissionDestructive:
		return PermissionDestructive, nil
	default:
		return "", fmt.Errorf("tools: unknown permission %q", s)
	}
}
