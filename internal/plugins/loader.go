package plugins

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Loaded is a discovered and loaded plugin.
type Loaded struct {
	Manifest Manifest
	Path     string
	Enabled  bool
	// Eligible is false when the manifest's tool input schemas failed
	// JSON Schema validation at load time. An ineligible plugin is kept
	// (for visibility/diagnostics) but excluded from Tools().
	Eligible bool
	Missing  string
}

// Manager tracks loaded plugins keyed by manifest ID.
type Manager struct {
	plugins map[string]*Loaded
	logger  *slog.Logger
}

// NewManager returns an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		plugins: make(map[string]*Loaded),
		logger:  logger.With("component", "plugins"),
	}
}

// LoadAll discovers plugins under dirs and inserts each by manifest ID.
// Duplicate IDs on a rescan are ignored — first load wins — and logged
// at debug. Returns the IDs of newly loaded plugins.
func (m *Manager) LoadAll(dirs []string) []string {
	discovered := Discover(dirs, m.logger)
	var loadedIDs []string

	for _, d := range discovered {
		id := d.Manifest.ID
		if _, exists := m.plugins[id]; exists {
			m.logger.Debug("plugin already loaded, skipping", "plugin_id", id)
			continue
		}

		eligible, missing := validateToolSchemas(d.Manifest)
		if !eligible {
			m.logger.Warn("plugin tool schema invalid, marking ineligible", "plugin_id", id, "reason", missing)
		}

		m.logger.Info("loaded plugin", "plugin_id", id, "name", d.Manifest.Name, "version", d.Manifest.Version, "kind", d.Manifest.Kind)

		m.plugins[id] = &Loaded{
			Manifest: d.Manifest,
			Path:     d.Path,
			Enabled:  true,
			Eligible: eligible,
			Missing:  missing,
		}
		loadedIDs = append(loadedIDs, id)
	}

	return loadedIDs
}

// validateToolSchemas compiles each tool's input_schema as a JSON
// Schema document; an invalid schema makes the plugin ineligible for
// Tools() enumeration without discarding its manifest.
func validateToolSchemas(manifest Manifest) (bool, string) {
	compiler := jsonschema.NewCompiler()
	for _, tool := range manifest.Tools {
		if len(tool.InputSchema) == 0 {
			continue
		}
		var doc interface{}
		if err := json.Unmarshal(tool.InputSchema, &doc); err != nil {
			return false, fmt.Sprintf("tool %q: invalid schema json: %v", tool.Name, err)
		}
		resourceName := manifest.ID + "::" + tool.Name
		if err := compiler.AddResource(resourceName, doc); err != nil {
			return false, fmt.Sprintf("tool %q: %v", tool.Name, err)
		}
		if _, err := compiler.Compile(resourceName); err != nil {
			return false, fmt.Sprintf("tool %q: %v", tool.Name, err)
		}
	}
	return true, ""
}

// Get returns the plugin with the given ID.
func (m *Manager) Get(id string) (*Loaded, bool) {
	p, ok := m.plugins[id]
	return p, ok
}

// List returns all loaded plugins.
func (m *Manager) List() []*Loaded {
	out := make([]*Loaded, 0, len(m.plugins))
	for _, p := range m.plugins {
		out = append(out, p)
	}
	return out
}

// Enable sets a plugin's enabled flag, returning false if unknown.
func (m *Manager) Enable(id string) bool {
	p, ok := m.plugins[id]
	if !ok {
		return false
	}
	p.Enabled = true
	m.logger.Info("plugin enabled", "plugin_id", id)
	return true
}

// Disable clears a plugin's enabled flag, returning false if unknown.
func (m *Manager) Disable(id string) bool {
	p, ok := m.plugins[id]
	if !ok {
		return false
	}
	p.Enabled = false
	m.logger.Info("plugin disabled", "plugin_id", id)
	return true
}

// ScopedTool pairs a tool definition with its registry-scoped name.
type ScopedTool struct {
	ScopedName string
	Tool       ToolDef
}

// Tools collects tool definitions from enabled, eligible plugins of
// kind "tool", scoped as "plugin_id::tool_name".
func (m *Manager) Tools() []ScopedTool {
	var out []ScopedTool
	for _, p := range m.plugins {
		if !p.Enabled || !p.Eligible || p.Manifest.Kind != KindTool {
			continue
		}
		for _, tool := range p.Manifest.Tools {
			out = append(out, ScopedTool{
				ScopedName: p.Manifest.ID + "::" + tool.Name,
				Tool:       tool,
			})
		}
	}
	return out
}

// Len returns the number of loaded plugins.
func (m *Manager) Len() int { return len(m.plugins) }

// IsEmpty reports whether no plugins are loaded.
func (m *Manager) IsEmpty() bool { return len(m.plugins) == 0 }
