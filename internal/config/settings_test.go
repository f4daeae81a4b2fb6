// ABOUTME: Tests for user settings loading and Codex validation deferral.
// ABOUTME: Covers env expansion, legacy idleMinutes, and missing files.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSettings_MissingFile(t *testing.T) {
	s, codexErr, err := LoadSettings(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.NoError(t, codexErr)
	assert.Empty(t, s.DefaultMCPProfileIDs)
	assert.Nil(t, s.Session.Reset)
}

func TestLoadSettings_FullDocument(t *testing.T) {
	path := writeSettings(t, `{
		"defaultMcpProfileIds": ["base"],
		"mcpProfiles": {
			"base": {"servers": {"files": {"command": "mcp-files"}}},
			"dev": {"profiles": ["base"], "servers": {"browser": {"command": "mcp-browser"}}}
		},
		"session": {
			"reset": {"mode": "daily", "atHour": 6},
			"resetByType": {"group": {"mode": "idle", "idleMinutes": 30}},
			"resetTriggers": ["/new", "/fresh"],
			"greetingPrompt": "hi"
		},
		"codex": {"approvalPolicy": "on-request", "sandboxMode": "workspace-write"}
	}`)

	s, codexErr, err := LoadSettings(path)
	require.NoError(t, err)
	assert.NoError(t, codexErr)

	assert.Equal(t, []string{"base"}, s.DefaultMCPProfileIDs)
	assert.Len(t, s.MCPProfiles, 2)
	assert.Equal(t, []string{"base"}, s.MCPProfiles["dev"].Profiles)
	require.NotNil(t, s.Session.Reset)
	assert.Equal(t, 6, *s.Session.Reset.AtHour)
	assert.Equal(t, []string{"/new", "/fresh"}, s.Session.Triggers())
	assert.Equal(t, "hi", s.Session.Greeting())
}

func TestLoadSettings_CodexErrorDeferred(t *testing.T) {
	path := writeSettings(t, `{"codex": {"approvalPolicy": "yolo"}}`)

	s, codexErr, err := LoadSettings(path)
	require.NoError(t, err, "bad codex config must not abort startup")
	require.Error(t, codexErr)
	assert.Contains(t, codexErr.Error(), "yolo")
	assert.NotNil(t, s)
}

func TestLoadSettings_ParseErrorFatal(t *testing.T) {
	path := writeSettings(t, `{broken`)
	_, _, err := LoadSettings(path)
	require.Error(t, err)
}

func TestLoadSettings_LegacyIdleMinutes(t *testing.T) {
	path := writeSettings(t, `{"idleMinutes": 45}`)

	s, _, err := LoadSettings(path)
	require.NoError(t, err)

	policy := s.Session.ResolvePolicy("telegram", "direct")
	assert.Nil(t, policy.DailyAtHour)
	require.NotNil(t, policy.IdleMinutes)
	assert.Equal(t, 45, *policy.IdleMinutes)
}

func TestLoadSettings_EnvExpansion(t *testing.T) {
	t.Setenv("FLINT_TEST_GREETING", "hello from env")
	path := writeSettings(t, `{"session": {"greetingPrompt": "${FLINT_TEST_GREETING}"}}`)

	s, _, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, "hello from env", s.Session.Greeting())
}

func TestLoadSettings_MissingEnvFatalOutsideServers(t *testing.T) {
	path := writeSettings(t, `{"session": {"greetingPrompt": "${FLINT_TEST_DEFINITELY_UNSET}"}}`)

	_, _, err := LoadSettings(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FLINT_TEST_DEFINITELY_UNSET")
}
