// ABOUTME: Deterministic thread id derivation from routing fields.
// ABOUTME: Identity links collapse cross-channel peers onto a canonical id.

package identity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Links maps canonical identities to the channel tokens that belong to
// them. Entry order is the insertion order of the source JSON object, so
// resolution is deterministic for a given configuration.
type Links struct {
	entries []linkEntry
}

type linkEntry struct {
	canonical string
	tokens    []string
}

// ParseLinks decodes a {"canonical": ["token", ...]} JSON object,
// preserving key order.
func ParseLinks(data []byte) (Links, error) {
	var links Links
	if len(data) == 0 {
		return links, nil
	}
	if err := links.UnmarshalJSON(data); err != nil {
		return Links{}, err
	}
	return links, nil
}

// UnmarshalJSON decodes the object token-by-token to retain key order.
func (l *Links) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("identity links: %w", err)
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("identity links: expected object, got %v", tok)
	}

	l.entries = nil
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("identity links: %w", err)
		}
		canonical, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("identity links: non-string key %v", keyTok)
		}

		var tokens []string
		if err := dec.Decode(&tokens); err != nil {
			return fmt.Errorf("identity links %q: %w", canonical, err)
		}
		for i, t := range tokens {
			tokens[i] = normToken(t)
		}
		l.entries = append(l.entries, linkEntry{canonical: normToken(canonical), tokens: tokens})
	}
	return nil
}

// Match returns the first canonical id whose token set contains peerID or
// channel:peerID.
func (l Links) Match(channel, peerID string) (string, bool) {
	if peerID == "" {
		return "", false
	}
	scoped := channel + ":" + peerID
	for _, e := range l.entries {
		for _, tok := range e.tokens {
			if tok == peerID || tok == scoped {
				return e.canonical, true
			}
		}
	}
	return "", false
}

// Len returns the number of link entries.
func (l Links) Len() int { return len(l.entries) }

// ResolveThreadID derives the stable thread id for a normalized message
// under the given routing mode. It is a pure function of its inputs.
func ResolveThreadID(m *InboundMessage, mode RoutingMode, links Links) string {
	channel := m.Channel
	accountID := m.AccountID
	if accountID == "" {
		accountID = "default"
	}
	peerID := m.PeerID
	if peerID == "" {
		peerID = normToken(m.UserID)
	}
	if peerID == "" {
		peerID = "unknown"
	}

	threadSuffix := ""
	if m.ChannelThreadID != "" {
		threadSuffix = ":thread:" + m.ChannelThreadID
	}

	// Group and channel chats ignore the routing mode entirely.
	if m.ChatType == ChatGroup || m.ChatType == ChatChannel {
		return fmt.Sprintf("agent:main:%s:%s:%s%s", channel, m.ChatType, peerID, threadSuffix)
	}

	principal := m.IdentityID
	if principal == "" {
		if canonical, ok := links.Match(channel, peerID); ok {
			principal = canonical
		} else {
			principal = peerID
		}
	}

	switch mode {
	case RouteMain:
		return "agent:main:main"
	case RoutePerChannelPeer:
		return fmt.Sprintf("agent:main:%s:direct:%s%s", channel, principal, threadSuffix)
	case RoutePerAccountChanPeer:
		return fmt.Sprintf("agent:main:%s:%s:direct:%s%s", channel, accountID, principal, threadSuffix)
	default: // per-peer
		return "agent:main:direct:" + principal
	}
}
