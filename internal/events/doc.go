// Package events defines the uniform AgentEvent stream and the translator
// that maps agent protocol notifications onto it.
package events
