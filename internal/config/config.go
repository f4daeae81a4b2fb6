// ABOUTME: Gateway configuration: YAML file with env expansion plus env overrides.
// ABOUTME: Absent files load pure defaults; validation runs after overrides.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flint-sh/flint/internal/identity"
)

// DefaultHTTPPort is used when neither config nor PORT name one.
const DefaultHTTPPort = 8788

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Agents    AgentsConfig    `yaml:"agents"`
	Slack     SlackConfig     `yaml:"slack"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// IdentityLinks come from FLINT_GATEWAY_IDENTITY_LINKS; JSON object
	// order decides link precedence, so they never live in YAML.
	IdentityLinks identity.Links `yaml:"-"`
}

// ServerConfig holds the HTTP listen address.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// AuthConfig holds the optional static bearer token for /v1 routes.
type AuthConfig struct {
	Token string `yaml:"token"`
}

// GatewayConfig holds core gateway behavior.
type GatewayConfig struct {
	Provider    string `yaml:"provider"`
	Model       string `yaml:"model"`
	RoutingMode string `yaml:"routing_mode"`
	StorePath   string `yaml:"store_path"`

	IdempotencyTTL    time.Duration `yaml:"-"`
	IdempotencyTTLRaw string        `yaml:"idempotency_ttl"`

	// IdleTimeout is the legacy idle reset window; newer deployments use
	// session.reset in user settings instead.
	IdleTimeout    time.Duration `yaml:"-"`
	IdleTimeoutRaw string        `yaml:"idle_timeout"`

	MemoryEnabled    *bool  `yaml:"memory_enabled"`
	MemoryStorePath  string `yaml:"memory_store_path"`
	MemoryCommand    string `yaml:"memory_command"`
	UserSettingsPath string `yaml:"user_settings_path"`
}

// AgentsConfig declares how agent children are spawned per provider.
type AgentsConfig struct {
	Providers map[string]ProviderAgent `yaml:"providers"`

	// ApprovalDecision answers agent approval prompts: accept or decline.
	ApprovalDecision string `yaml:"approval_decision"`
}

// ProviderAgent is the spawn command for one provider.
type ProviderAgent struct {
	Command []string `yaml:"command"`
}

// SlackConfig enables the Slack webhook channel.
type SlackConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SigningSecret string `yaml:"signing_secret"`
	BotToken      string `yaml:"bot_token"`
}

// TailscaleConfig serves the gateway on a tailnet instead of plain TCP.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	HTTPS     bool   `yaml:"https"`
	Funnel    bool   `yaml:"funnel"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig exposes Prometheus metrics when enabled.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MemoryOn reports whether the built-in memory server is merged into
// thread MCP configs.
func (c *Config) MemoryOn() bool {
	if c.Gateway.MemoryEnabled != nil {
		return *c.Gateway.MemoryEnabled
	}
	return true
}

// Load reads the config file at path, expands ${VAR} references, applies
// environment overrides, and validates. A missing file yields defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment values; unset
// variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		name := re.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Gateway.IdempotencyTTLRaw != "" {
		cfg.Gateway.IdempotencyTTL, err = time.ParseDuration(cfg.Gateway.IdempotencyTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing idempotency_ttl %q: %w", cfg.Gateway.IdempotencyTTLRaw, err)
		}
	}
	if cfg.Gateway.IdleTimeoutRaw != "" {
		cfg.Gateway.IdleTimeout, err = time.ParseDuration(cfg.Gateway.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Gateway.IdleTimeoutRaw, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("PORT must be numeric, got %q", port)
		}
		cfg.Server.HTTPAddr = ":" + port
	}
	if v := os.Getenv("FLINT_GATEWAY_PROVIDER"); v != "" {
		cfg.Gateway.Provider = v
	}
	if v := os.Getenv("FLINT_GATEWAY_MODEL"); v != "" {
		cfg.Gateway.Model = v
	}
	if v := os.Getenv("FLINT_GATEWAY_ROUTING_MODE"); v != "" {
		cfg.Gateway.RoutingMode = v
	}
	if v := os.Getenv("FLINT_GATEWAY_STORE_PATH"); v != "" {
		cfg.Gateway.StorePath = v
	}
	if v := os.Getenv("FLINT_GATEWAY_USER_SETTINGS_PATH"); v != "" {
		cfg.Gateway.UserSettingsPath = v
	}
	if v := os.Getenv("FLINT_GATEWAY_IDEMPOTENCY_TTL_MS"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ms <= 0 {
			return fmt.Errorf("FLINT_GATEWAY_IDEMPOTENCY_TTL_MS must be a positive integer, got %q", v)
		}
		cfg.Gateway.IdempotencyTTL = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("FLINT_GATEWAY_IDLE_TIMEOUT_SECONDS"); v != "" {
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil || secs <= 0 {
			return fmt.Errorf("FLINT_GATEWAY_IDLE_TIMEOUT_SECONDS must be a positive integer, got %q", v)
		}
		cfg.Gateway.IdleTimeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("FLINT_GATEWAY_MEMORY_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FLINT_GATEWAY_MEMORY_ENABLED must be a boolean, got %q", v)
		}
		cfg.Gateway.MemoryEnabled = &enabled
	}
	if v := os.Getenv("FLINT_GATEWAY_IDENTITY_LINKS"); v != "" {
		links, err := identity.ParseLinks([]byte(v))
		if err != nil {
			return fmt.Errorf("FLINT_GATEWAY_IDENTITY_LINKS: %w", err)
		}
		cfg.IdentityLinks = links
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = fmt.Sprintf(":%d", DefaultHTTPPort)
	}
	if cfg.Gateway.Provider == "" {
		cfg.Gateway.Provider = "claude"
	}
	if cfg.Gateway.RoutingMode == "" {
		cfg.Gateway.RoutingMode = string(identity.RoutePerPeer)
	}
	if cfg.Gateway.StorePath == "" {
		cfg.Gateway.StorePath = defaultPath("gateway", "threads.json")
	}
	if cfg.Gateway.UserSettingsPath == "" {
		cfg.Gateway.UserSettingsPath = defaultPath("settings.json")
	}
	if cfg.Gateway.MemoryStorePath == "" {
		cfg.Gateway.MemoryStorePath = defaultPath("memory.db")
	}
	if cfg.Gateway.MemoryCommand == "" {
		cfg.Gateway.MemoryCommand = "flint-memory"
	}
	if cfg.Gateway.IdempotencyTTL == 0 {
		cfg.Gateway.IdempotencyTTL = 5 * time.Minute
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Agents.ApprovalDecision == "" {
		cfg.Agents.ApprovalDecision = "accept"
	}
	if cfg.Agents.Providers == nil {
		cfg.Agents.Providers = map[string]ProviderAgent{}
	}
	for name, cmd := range map[string][]string{
		"claude": {"flint-agent-claude"},
		"codex":  {"flint-agent-codex"},
		"pi":     {"flint-agent-pi"},
	} {
		if _, ok := cfg.Agents.Providers[name]; !ok {
			cfg.Agents.Providers[name] = ProviderAgent{Command: cmd}
		}
	}
}

// defaultPath joins parts under ~/.flint, falling back to the working
// directory when the home directory is unknown.
func defaultPath(parts ...string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(parts...)
	}
	return filepath.Join(append([]string{home, ".flint"}, parts...)...)
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	if !identity.ValidRoutingMode(c.Gateway.RoutingMode) {
		return fmt.Errorf("gateway.routing_mode must be one of main, per-peer, per-channel-peer, per-account-channel-peer")
	}
	if _, ok := c.Agents.Providers[c.Gateway.Provider]; !ok {
		return fmt.Errorf("gateway.provider %q has no agents.providers entry", c.Gateway.Provider)
	}
	for name, p := range c.Agents.Providers {
		if len(p.Command) == 0 {
			return fmt.Errorf("agents.providers.%s.command must not be empty", name)
		}
	}
	if c.Agents.ApprovalDecision != "accept" && c.Agents.ApprovalDecision != "decline" {
		return fmt.Errorf("agents.approval_decision must be accept or decline")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Slack.Enabled && (c.Slack.SigningSecret == "" || c.Slack.BotToken == "") {
		return fmt.Errorf("slack.signing_secret and slack.bot_token are required when slack is enabled")
	}
	return nil
}

// DefaultConfigPath resolves the gateway config file location.
// Priority: FLINT_CONFIG env var, then XDG config dir, then ~/.config.
func DefaultConfigPath() string {
	if envPath := os.Getenv("FLINT_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "flint", "gateway.yaml")
}

// ProviderHints lists configured provider names for reset-command matching.
func (c *Config) ProviderHints() []string {
	hints := make([]string, 0, len(c.Agents.Providers))
	for name := range c.Agents.Providers {
		hints = append(hints, name)
	}
	return hints
}
