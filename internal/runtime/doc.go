// Package runtime owns the pool of live agent runtimes, one per thread.
//
// # Overview
//
// A runtime pairs a running agent child (driven through protocol.Peer)
// with the agent-side session it hosts. The Registry creates runtimes on
// first use, recycles them on reset or profile mismatch, and executes
// turns against them with a per-turn inactivity watchdog.
//
// # Providers
//
// Providers differ in how thread options map onto wire parameters. The
// Codex shape flattens MCP server configs into dotted config keys and
// carries approval/sandbox policy; every other provider passes servers
// through unchanged and never sends those fields.
package runtime
