// ABOUTME: User settings JSON: MCP profiles, session policy, Codex defaults.
// ABOUTME: Invalid Codex config is deferred, not fatal; load errors are fatal.

package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flint-sh/flint/internal/mcpprofile"
	"github.com/flint-sh/flint/internal/session"
)

// Settings is the user settings document (~/.flint/settings.json).
type Settings struct {
	DefaultMCPProfileIDs []string                      `json:"defaultMcpProfileIds,omitempty"`
	MCPProfiles          map[string]mcpprofile.Profile `json:"mcpProfiles,omitempty"`
	Session              session.Settings              `json:"session"`
	Codex                CodexSettings                 `json:"codex"`

	// IdleMinutes is the legacy top-level idle window. When it is the
	// only reset configuration, the policy is idle-only with no daily.
	IdleMinutes *int `json:"idleMinutes,omitempty"`
}

// CodexSettings are defaults applied to every Codex thread.
type CodexSettings struct {
	ApprovalPolicy string `json:"approvalPolicy,omitempty"`
	SandboxMode    string `json:"sandboxMode,omitempty"`
}

var (
	codexApprovalPolicies = map[string]bool{"untrusted": true, "on-failure": true, "on-request": true, "never": true}
	codexSandboxModes     = map[string]bool{"read-only": true, "workspace-write": true, "danger-full-access": true}
)

// validate checks the Codex block. The returned error is deferred by the
// caller: requests are accepted, Codex turns fail until it is fixed.
func (c CodexSettings) validate() error {
	if c.ApprovalPolicy != "" && !codexApprovalPolicies[c.ApprovalPolicy] {
		return fmt.Errorf("codex.approvalPolicy %q is not a known policy", c.ApprovalPolicy)
	}
	if c.SandboxMode != "" && !codexSandboxModes[c.SandboxMode] {
		return fmt.Errorf("codex.sandboxMode %q is not a known mode", c.SandboxMode)
	}
	return nil
}

// LoadSettings reads and validates user settings. A missing file yields
// empty settings. codexErr reports a deferred Codex configuration error.
func LoadSettings(path string) (settings *Settings, codexErr error, err error) {
	var s Settings

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return &s, nil, nil
		}
		return nil, nil, fmt.Errorf("reading settings: %w", readErr)
	}

	if err := json.Unmarshal(data, &s); err != nil {
		return nil, nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}

	if err := expandSettingsEnv(&s); err != nil {
		return nil, nil, fmt.Errorf("settings %s: %w", path, err)
	}

	s.Session.LegacyIdleMinutes = s.IdleMinutes
	return &s, s.Codex.validate(), nil
}

// expandSettingsEnv expands ${NAME} references in settings strings
// outside MCP server configs. Missing variables abort the load here;
// server configs expand later, where a failure only drops the server.
func expandSettingsEnv(s *Settings) error {
	var err error
	expand := func(v string) string {
		if err != nil || v == "" {
			return v
		}
		var out string
		out, err = mcpprofile.ExpandEnv(v)
		return out
	}

	s.Session.GreetingPrompt = expand(s.Session.GreetingPrompt)
	s.Codex.ApprovalPolicy = expand(s.Codex.ApprovalPolicy)
	s.Codex.SandboxMode = expand(s.Codex.SandboxMode)
	return err
}
