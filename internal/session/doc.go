// Package session decides when a thread's agent session should be
// replaced: scheduled resets (daily hour, idle window) and in-band reset
// commands with optional provider/model retargeting.
package session
