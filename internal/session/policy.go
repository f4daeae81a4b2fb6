// ABOUTME: Reset policy settings, per-request resolution, expiry evaluation.
// ABOUTME: Resolution order is channel override, then session type, then default.

package session

import (
	"time"

	"github.com/flint-sh/flint/internal/identity"
)

// Reset modes accepted in settings.
const (
	ModeDaily = "daily"
	ModeIdle  = "idle"
	ModeOff   = "off"
)

// Default policy values applied when settings are absent.
const (
	DefaultDailyHour = 4
)

// DefaultTriggers are the reset commands recognized without configuration.
var DefaultTriggers = []string{"/new", "/reset"}

// DefaultGreeting seeds a fresh session when a trigger carries no prompt.
const DefaultGreeting = "Give me a brief greeting and ask what I want to work on."

// ResetSetting is one reset policy entry in user settings.
type ResetSetting struct {
	Mode        string `json:"mode,omitempty"`
	AtHour      *int   `json:"atHour,omitempty"`
	IdleMinutes *int   `json:"idleMinutes,omitempty"`
}

// Settings is the session block of user settings.
type Settings struct {
	Reset          *ResetSetting           `json:"reset,omitempty"`
	ResetByType    map[string]ResetSetting `json:"resetByType,omitempty"`
	ResetByChannel map[string]ResetSetting `json:"resetByChannel,omitempty"`
	ResetTriggers  []string                `json:"resetTriggers,omitempty"`
	GreetingPrompt string                  `json:"greetingPrompt,omitempty"`

	// LegacyIdleMinutes mirrors the deprecated top-level idleMinutes
	// setting; when it is the only reset configuration, the policy is
	// idle-only with no daily boundary.
	LegacyIdleMinutes *int `json:"-"`
}

// Triggers returns the configured reset triggers or the defaults.
func (s *Settings) Triggers() []string {
	if s != nil && len(s.ResetTriggers) > 0 {
		return s.ResetTriggers
	}
	return DefaultTriggers
}

// Greeting returns the configured greeting prompt or the default.
func (s *Settings) Greeting() string {
	if s != nil && s.GreetingPrompt != "" {
		return s.GreetingPrompt
	}
	return DefaultGreeting
}

// Policy is a resolved reset policy. The zero value means "off".
type Policy struct {
	DailyAtHour *int
	IdleMinutes *int
}

// Off reports whether the policy disables resets entirely.
func (p Policy) Off() bool { return p.DailyAtHour == nil && p.IdleMinutes == nil }

// SessionType classifies a request for per-type policy overrides:
// "thread" when a channel thread id is present, else "direct" for direct
// chats, else "group".
func SessionType(channelThreadID string, chatType identity.ChatType) string {
	if channelThreadID != "" {
		return "thread"
	}
	if chatType == identity.ChatDirect {
		return "direct"
	}
	return "group"
}

// ResolvePolicy picks the effective policy for one request.
func (s *Settings) ResolvePolicy(channel, sessionType string) Policy {
	if s != nil {
		if rs, ok := s.ResetByChannel[channel]; ok {
			return fromSetting(rs)
		}
		if rs, ok := s.ResetByType[sessionType]; ok {
			return fromSetting(rs)
		}
		if s.Reset != nil {
			return fromSetting(*s.Reset)
		}
		if s.LegacyIdleMinutes != nil && *s.LegacyIdleMinutes > 0 {
			m := *s.LegacyIdleMinutes
			return Policy{IdleMinutes: &m}
		}
	}
	hour := DefaultDailyHour
	return Policy{DailyAtHour: &hour}
}

func fromSetting(rs ResetSetting) Policy {
	switch rs.Mode {
	case ModeOff:
		return Policy{}
	case ModeIdle:
		if rs.IdleMinutes != nil && *rs.IdleMinutes > 0 {
			m := *rs.IdleMinutes
			return Policy{IdleMinutes: &m}
		}
		return Policy{}
	case ModeDaily:
		hour := DefaultDailyHour
		if rs.AtHour != nil && *rs.AtHour >= 0 && *rs.AtHour <= 23 {
			hour = *rs.AtHour
		}
		return Policy{DailyAtHour: &hour}
	}

	// No mode: infer from which fields are set.
	var p Policy
	if rs.AtHour != nil && *rs.AtHour >= 0 && *rs.AtHour <= 23 {
		h := *rs.AtHour
		p.DailyAtHour = &h
	}
	if rs.IdleMinutes != nil && *rs.IdleMinutes > 0 {
		m := *rs.IdleMinutes
		p.IdleMinutes = &m
	}
	return p
}

// Reset reasons recorded on the thread when a session is replaced.
const (
	ReasonDaily = "daily"
	ReasonIdle  = "idle"
)

// Evaluate reports whether a session last touched at updatedAt has
// expired under the policy as of now. The daily boundary is the most
// recent instant at the configured hour in now's location.
func Evaluate(updatedAt time.Time, now time.Time, p Policy) (bool, string) {
	if p.DailyAtHour != nil {
		boundary := time.Date(now.Year(), now.Month(), now.Day(), *p.DailyAtHour, 0, 0, 0, now.Location())
		if now.Before(boundary) {
			boundary = boundary.Add(-24 * time.Hour)
		}
		if updatedAt.Before(boundary) {
			return true, ReasonDaily
		}
	}
	if p.IdleMinutes != nil {
		cutoff := now.Add(-time.Duration(*p.IdleMinutes) * time.Minute)
		if updatedAt.Before(cutoff) {
			return true, ReasonIdle
		}
	}
	return false, ""
}
