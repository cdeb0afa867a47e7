// Package plugins implements manifest discovery, loading, and scoped
// tool enumeration for filesystem-declared capability bundles.
package plugins

import "encoding/json"

// ManifestFile is the name of the manifest JSON file expected in each
// immediate plugin subdirectory.
const ManifestFile = "omni.plugin.json"

// Kind is a plugin's declared category.
type Kind string

const (
	KindTool     Kind = "tool"
	KindChannel  Kind = "channel"
	KindProvider Kind = "provider"
	KindSkill    Kind = "skill"
	KindHook     Kind = "hook"
	KindService  Kind = "service"
)

// ToolDef is a single tool definition within a manifest.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Manifest describes a plugin's metadata and capabilities, as parsed
// from omni.plugin.json.
type Manifest struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	Kind        Kind      `json:"kind"`
	Permissions []string  `json:"permissions,omitempty"`
	Tools       []ToolDef `json:"tools,omitempty"`
	Entry       string    `json:"entry,omitempty"`
	SkillsDir   string    `json:"skills_dir,omitempty"`
}

// ParseManifest decodes manifest JSON content.
func ParseManifest(content []byte) (Manifest, error) {
	var m Manifest
	err := json.Unmarshal(content, &m)
	return m, err
}
