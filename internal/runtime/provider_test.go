// ABOUTME: Tests for provider wire mapping and the model-fallback heuristic.
// ABOUTME: Verifies the Codex config flattening and field suppression rules.

package runtime

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flint-sh/flint/internal/mcpprofile"
)

func sampleServers() map[string]mcpprofile.ServerConfig {
	return map[string]mcpprofile.ServerConfig{
		"files": {
			Command: "mcp-files",
			Args:    []string{"--root", "/srv"},
			Env:     map[string]string{"LOG": "1"},
			Cwd:     "/srv",
		},
		"search": {
			Kind:              "http",
			URL:               "https://search.example.com/mcp",
			Headers:           map[string]string{"X-Team": "core"},
			EnvHeaders:        map[string]string{"Authorization": "SEARCH_TOKEN"},
			BearerTokenEnvVar: "SEARCH_TOKEN",
		},
	}
}

func TestThreadStartParams_CodexFlattensServers(t *testing.T) {
	opts := ThreadOptions{
		Model:              "o4",
		SystemPrompt:       "base prompt",
		SystemPromptAppend: "extra",
		Servers:            sampleServers(),
	}
	codex := CodexDefaults{ApprovalPolicy: "on-request", SandboxMode: "workspace-write"}

	params := threadStartParams(ProviderCodex, opts, codex)

	assert.Equal(t, "base prompt", params.BaseInstructions)
	assert.Equal(t, "extra", params.DeveloperInstructions)
	assert.Empty(t, params.SystemPromptAppend)
	assert.Equal(t, "on-request", params.ApprovalPolicy)
	assert.Equal(t, "workspace-write", params.Sandbox)
	assert.Nil(t, params.MCPServers)

	require.NotNil(t, params.Config)
	assert.Equal(t, "mcp-files", params.Config["mcp_servers.files.command"])
	assert.Equal(t, []string{"--root", "/srv"}, params.Config["mcp_servers.files.args"])
	assert.Equal(t, "/srv", params.Config["mcp_servers.files.cwd"])
	assert.Equal(t, "https://search.example.com/mcp", params.Config["mcp_servers.search.url"])
	assert.Equal(t, map[string]string{"X-Team": "core"}, params.Config["mcp_servers.search.http_headers"])
	assert.Equal(t, map[string]string{"Authorization": "SEARCH_TOKEN"}, params.Config["mcp_servers.search.env_http_headers"])
	assert.Equal(t, "SEARCH_TOKEN", params.Config["mcp_servers.search.bearer_token_env_var"])

	// The wire encoding must not contain an mcpServers member at all.
	data, err := json.Marshal(params)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"mcpServers"`)
	assert.Contains(t, string(data), "mcp_servers.files.command")
}

func TestThreadStartParams_NonCodexPassThrough(t *testing.T) {
	opts := ThreadOptions{
		Model:              "sonnet",
		SystemPromptAppend: "extra",
		Servers:            sampleServers(),
	}
	codex := CodexDefaults{ApprovalPolicy: "on-request", SandboxMode: "workspace-write"}

	for _, p := range []Provider{ProviderClaude, ProviderPi} {
		params := threadStartParams(p, opts, codex)

		assert.Equal(t, "extra", params.SystemPromptAppend, string(p))
		assert.Nil(t, params.Config, string(p))
		require.NotNil(t, params.MCPServers, string(p))

		stdio, ok := params.MCPServers["files"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "mcp-files", stdio["command"])

		http, ok := params.MCPServers["search"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "https://search.example.com/mcp", http["url"])

		// Approval and sandbox policy never travel to other providers.
		data, err := json.Marshal(params)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "approvalPolicy", string(p))
		assert.NotContains(t, string(data), "sandbox", string(p))
	}
}

func TestThreadResumeParams_CarriesSessionID(t *testing.T) {
	params := threadResumeParams(ProviderClaude, "sess-42", ThreadOptions{Model: "sonnet"}, CodexDefaults{})
	assert.Equal(t, "sess-42", params.ThreadID)
	assert.Equal(t, "sonnet", params.Model)
}

func TestIsModelNotSupported(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		model string
		want  bool
	}{
		{"unknown model", errors.New(`unknown model: "haiku-9"`), "haiku-9", true},
		{"invalid model", errors.New("Invalid model haiku-9 requested"), "haiku-9", true},
		{"not supported", errors.New("model haiku-9 is not supported"), "haiku-9", true},
		{"unsupported", errors.New("unsupported model (haiku-9)"), "haiku-9", true},
		{"different model named", errors.New("unknown model: sonnet"), "haiku-9", false},
		{"unrelated error", errors.New("haiku-9 rate limited"), "haiku-9", false},
		{"no model requested", errors.New("unknown model: default"), "", false},
		{"nil error", nil, "haiku-9", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsModelNotSupported(tt.err, tt.model))
		})
	}
}
