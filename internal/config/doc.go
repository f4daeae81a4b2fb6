// Package config loads the two configuration layers: the gateway YAML
// config (addresses, channels, serving) and the user settings JSON file
// (MCP profiles, session policy, provider defaults), plus environment
// overrides.
package config
