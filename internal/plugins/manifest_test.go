package plugins

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeserializeManifest(t *testing.T) {
	raw := `{
		"id": "omni.weather",
		"name": "Weather",
		"version": "1.0.0",
		"description": "Get weather forecasts",
		"author": "Omni",
		"kind": "tool",
		"permissions": ["network"],
		"tools": [
			{
				"name": "get_forecast",
				"description": "Get weather forecast for a location",
				"input_schema": {"type": "object", "properties": {"location": {"type": "string"}}, "required": ["location"]}
			}
		],
		"entry": "weather.js"
	}`

	m, err := ParseManifest([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "omni.weather", m.ID)
	assert.Equal(t, KindTool, m.Kind)
	assert.Len(t, m.Tools, 1)
	assert.Equal(t, "get_forecast", m.Tools[0].Name)
	assert.Equal(t, []string{"network"}, m.Permissions)
}

func TestDeserializeMinimalManifest(t *testing.T) {
	raw := `{"id":"omni.example","name":"Example","version":"0.1.0","kind":"service"}`

	m, err := ParseManifest([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "omni.example", m.ID)
	assert.Equal(t, KindService, m.Kind)
	assert.Empty(t, m.Description)
	assert.Empty(t, m.Tools)
	assert.Empty(t, m.Permissions)
}

func TestRoundTripAllKinds(t *testing.T) {
	for _, kind := range []string{"tool", "channel", "provider", "skill", "hook", "service"} {
		raw := fmt.Sprintf(`{"id":"test","name":"Test","version":"1.0.0","kind":%q}`, kind)
		m, err := ParseManifest([]byte(raw))
		require.NoError(t, err)
		assert.True(t, strings.EqualFold(string(m.Kind), kind))
	}
}
