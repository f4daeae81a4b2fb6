// ABOUTME: Provider identities and the thread-option to wire-param mapping.
// ABOUTME: The Codex shape flattens MCP servers into dotted config keys.

package runtime

import (
	"fmt"
	"strings"

	"github.com/flint-sh/flint/internal/mcpprofile"
	"github.com/flint-sh/flint/internal/protocol"
)

// Provider names an agent backend.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
	ProviderPi     Provider = "pi"
)

// DefaultProvider is used when neither the request nor the thread names one.
const DefaultProvider = ProviderClaude

// CodexDefaults carries policy applied to every Codex thread.
type CodexDefaults struct {
	ApprovalPolicy string
	SandboxMode    string
}

// ThreadOptions are the provider-neutral options for a new or resumed
// agent session.
type ThreadOptions struct {
	Model              string
	Cwd                string
	SystemPrompt       string
	SystemPromptAppend string
	Servers            map[string]mcpprofile.ServerConfig
}

// threadStartParams maps options onto the wire shape for the provider.
func threadStartParams(p Provider, opts ThreadOptions, codex CodexDefaults) protocol.ThreadStartParams {
	params := protocol.ThreadStartParams{
		Model: opts.Model,
		Cwd:   opts.Cwd,
	}

	if p == ProviderCodex {
		params.BaseInstructions = opts.SystemPrompt
		params.DeveloperInstructions = opts.SystemPromptAppend
		params.ApprovalPolicy = codex.ApprovalPolicy
		params.Sandbox = codex.SandboxMode
		if len(opts.Servers) > 0 {
			params.Config = flattenServers(opts.Servers)
		}
		return params
	}

	params.SystemPromptAppend = opts.SystemPromptAppend
	if len(opts.Servers) > 0 {
		params.MCPServers = serversToWire(opts.Servers)
	}
	return params
}

// threadResumeParams mirrors threadStartParams for thread/resume.
func threadResumeParams(p Provider, providerThreadID string, opts ThreadOptions, codex CodexDefaults) protocol.ThreadResumeParams {
	start := threadStartParams(p, opts, codex)
	return protocol.ThreadResumeParams{
		ThreadID:              providerThreadID,
		Cwd:                   start.Cwd,
		Model:                 start.Model,
		SystemPromptAppend:    start.SystemPromptAppend,
		DeveloperInstructions: start.DeveloperInstructions,
		BaseInstructions:      start.BaseInstructions,
		MCPServers:            start.MCPServers,
		Config:                start.Config,
		ApprovalPolicy:        start.ApprovalPolicy,
		Sandbox:               start.Sandbox,
	}
}

// serversToWire renders server configs as plain maps for providers that
// accept mcpServers directly.
func serversToWire(servers map[string]mcpprofile.ServerConfig) map[string]any {
	out := make(map[string]any, len(servers))
	for alias, cfg := range servers {
		m := map[string]any{}
		if cfg.IsHTTP() {
			m["url"] = cfg.URL
			if len(cfg.Headers) > 0 {
				m["headers"] = cfg.Headers
			}
			if len(cfg.EnvHeaders) > 0 {
				m["envHeaders"] = cfg.EnvHeaders
			}
			if cfg.BearerTokenEnvVar != "" {
				m["bearerTokenEnvVar"] = cfg.BearerTokenEnvVar
			}
		} else {
			m["command"] = cfg.Command
			if len(cfg.Args) > 0 {
				m["args"] = cfg.Args
			}
			if len(cfg.Env) > 0 {
				m["env"] = cfg.Env
			}
			if cfg.Cwd != "" {
				m["cwd"] = cfg.Cwd
			}
		}
		out[alias] = m
	}
	return out
}

// flattenServers renders server configs as dotted config keys of the
// form mcp_servers.{alias}.{field}, translating HTTP field names.
func flattenServers(servers map[string]mcpprofile.ServerConfig) map[string]any {
	out := make(map[string]any)
	put := func(alias, field string, v any) {
		out[fmt.Sprintf("mcp_servers.%s.%s", alias, field)] = v
	}

	for alias, cfg := range servers {
		if cfg.IsHTTP() {
			put(alias, "url", cfg.URL)
			if len(cfg.Headers) > 0 {
				put(alias, "http_headers", cfg.Headers)
			}
			if len(cfg.EnvHeaders) > 0 {
				put(alias, "env_http_headers", cfg.EnvHeaders)
			}
			if cfg.BearerTokenEnvVar != "" {
				put(alias, "bearer_token_env_var", cfg.BearerTokenEnvVar)
			}
			continue
		}
		put(alias, "command", cfg.Command)
		if len(cfg.Args) > 0 {
			put(alias, "args", cfg.Args)
		}
		if len(cfg.Env) > 0 {
			put(alias, "env", cfg.Env)
		}
		if cfg.Cwd != "" {
			put(alias, "cwd", cfg.Cwd)
		}
	}
	return out
}

// modelErrorPhrases mark agent errors that clearly blame the model id.
var modelErrorPhrases = []string{"unknown model", "invalid model", "not supported", "unsupported"}

// IsModelNotSupported reports whether err clearly blames the requested
// model, which makes the turn eligible for the default-model fallback.
func IsModelNotSupported(err error, model string) bool {
	if err == nil || model == "" {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, strings.ToLower(model)) {
		return false
	}
	for _, phrase := range modelErrorPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
