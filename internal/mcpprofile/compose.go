// ABOUTME: Depth-first profile composition with cycle and collision checks.
// ABOUTME: Env failures drop only the offending server; the rest survive.

package mcpprofile

import (
	"fmt"
	"log/slog"
	"sort"
)

// ServerConfig describes one MCP server attached to a thread. Kind is
// "stdio" (the default when Command is set) or "http".
type ServerConfig struct {
	Kind string `json:"kind,omitempty"`

	// stdio servers
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`

	// http servers
	URL               string            `json:"url,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	EnvHeaders        map[string]string `json:"envHeaders,omitempty"`
	BearerTokenEnvVar string            `json:"bearerTokenEnvVar,omitempty"`
}

// IsHTTP reports whether the server is addressed over HTTP.
func (c ServerConfig) IsHTTP() bool {
	return c.Kind == "http" || (c.URL != "" && c.Command == "")
}

// Profile is one named bundle in settings: referenced profiles plus a
// map of server aliases.
type Profile struct {
	Profiles []string                `json:"profiles,omitempty"`
	Servers  map[string]ServerConfig `json:"servers,omitempty"`
}

// Compose expands the listed profile ids depth-first into a single alias
// map. Referencing an unknown profile, a cycle, or the same alias from
// two profiles is an error. Server configs get environment references
// expanded; a server whose expansion fails is dropped with a warning.
func Compose(profiles map[string]Profile, ids []string, logger *slog.Logger) (map[string]ServerConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	out := make(map[string]ServerConfig)
	visited := make(map[string]bool)
	visiting := make(map[string]bool)

	var walk func(id string) error
	walk = func(id string) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return fmt.Errorf("mcp profile cycle through %q", id)
		}
		p, ok := profiles[id]
		if !ok {
			return fmt.Errorf("unknown mcp profile %q", id)
		}
		visiting[id] = true
		for _, ref := range p.Profiles {
			if err := walk(ref); err != nil {
				return err
			}
		}
		delete(visiting, id)
		visited[id] = true

		// Deterministic iteration keeps error messages stable.
		aliases := make([]string, 0, len(p.Servers))
		for alias := range p.Servers {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)

		for _, alias := range aliases {
			if _, exists := out[alias]; exists {
				return fmt.Errorf("mcp server alias %q declared by more than one profile", alias)
			}
			cfg, err := expandServerEnv(p.Servers[alias])
			if err != nil {
				logger.Warn("dropping mcp server", "profile", id, "alias", alias, "error", err)
				continue
			}
			out[alias] = cfg
		}
		return nil
	}

	for _, id := range ids {
		if err := walk(id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// expandServerEnv expands environment references across all string
// values of a server config.
func expandServerEnv(cfg ServerConfig) (ServerConfig, error) {
	var err error
	expand := func(s string) string {
		if err != nil || s == "" {
			return s
		}
		var out string
		out, err = ExpandEnv(s)
		return out
	}
	expandMap := func(m map[string]string) map[string]string {
		if m == nil {
			return nil
		}
		out := make(map[string]string, len(m))
		for k, v := range m {
			out[k] = expand(v)
		}
		return out
	}

	cfg.Command = expand(cfg.Command)
	for i, a := range cfg.Args {
		cfg.Args[i] = expand(a)
	}
	cfg.Env = expandMap(cfg.Env)
	cfg.Cwd = expand(cfg.Cwd)
	cfg.URL = expand(cfg.URL)
	cfg.Headers = expandMap(cfg.Headers)
	cfg.EnvHeaders = expandMap(cfg.EnvHeaders)
	cfg.BearerTokenEnvVar = expand(cfg.BearerTokenEnvVar)
	if err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// MergeMemoryServer adds the built-in memory server under an alias that
// does not collide with user-declared servers, suffixing _1, _2, ... as
// needed. Returns the alias used.
func MergeMemoryServer(servers map[string]ServerConfig, memory ServerConfig) string {
	alias := "memory"
	for i := 1; ; i++ {
		if _, exists := servers[alias]; !exists {
			break
		}
		alias = fmt.Sprintf("memory_%d", i)
	}
	servers[alias] = memory
	return alias
}
