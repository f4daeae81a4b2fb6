// ABOUTME: InboundMessage model, enums, and normalization rules.
// ABOUTME: Tokens are lowercased and trimmed; text must survive trimming.

package identity

import (
	"errors"
	"fmt"
	"strings"
)

// ChatType classifies the conversation surface a message arrived on.
type ChatType string

const (
	ChatDirect  ChatType = "direct"
	ChatGroup   ChatType = "group"
	ChatChannel ChatType = "channel"
)

// RoutingMode selects how direct chats map onto threads.
type RoutingMode string

const (
	RouteMain               RoutingMode = "main"
	RoutePerPeer            RoutingMode = "per-peer"
	RoutePerChannelPeer     RoutingMode = "per-channel-peer"
	RoutePerAccountChanPeer RoutingMode = "per-account-channel-peer"
)

// ValidRoutingMode reports whether s is one of the four routing modes.
func ValidRoutingMode(s string) bool {
	switch RoutingMode(s) {
	case RouteMain, RoutePerPeer, RoutePerChannelPeer, RoutePerAccountChanPeer:
		return true
	}
	return false
}

// ValidChatType reports whether s is one of the three chat types.
func ValidChatType(s string) bool {
	switch ChatType(s) {
	case ChatDirect, ChatGroup, ChatChannel:
		return true
	}
	return false
}

// ErrEmptyText indicates the message text was blank after trimming.
var ErrEmptyText = errors.New("text must not be empty")

// InboundMessage is a channel-agnostic message entering the gateway.
type InboundMessage struct {
	Channel         string      `json:"channel"`
	UserID          string      `json:"userId"`
	Text            string      `json:"text"`
	Provider        string      `json:"provider,omitempty"`
	ChatType        ChatType    `json:"chatType,omitempty"`
	PeerID          string      `json:"peerId,omitempty"`
	AccountID       string      `json:"accountId,omitempty"`
	IdentityID      string      `json:"identityId,omitempty"`
	ChannelThreadID string      `json:"channelThreadId,omitempty"`
	MCPProfileIDs   []string    `json:"mcpProfileIds,omitempty"`
	RoutingMode     RoutingMode `json:"routingMode,omitempty"`
	IdempotencyKey  string      `json:"idempotencyKey,omitempty"`
}

// normToken lowercases and trims a routing token.
func normToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Normalize validates required fields and canonicalizes routing tokens
// in place. MCPProfileIDs are deduplicated preserving first occurrence.
func (m *InboundMessage) Normalize() error {
	m.Channel = normToken(m.Channel)
	if m.Channel == "" {
		return errors.New("channel is required")
	}
	m.UserID = strings.TrimSpace(m.UserID)
	if m.UserID == "" {
		return errors.New("userId is required")
	}
	m.Text = strings.TrimSpace(m.Text)
	if m.Text == "" {
		return ErrEmptyText
	}

	if m.ChatType == "" {
		m.ChatType = ChatDirect
	} else if !ValidChatType(string(m.ChatType)) {
		return fmt.Errorf("invalid chatType %q", m.ChatType)
	}
	if m.RoutingMode != "" && !ValidRoutingMode(string(m.RoutingMode)) {
		return fmt.Errorf("invalid routingMode %q", m.RoutingMode)
	}

	m.PeerID = normToken(m.PeerID)
	m.AccountID = normToken(m.AccountID)
	m.IdentityID = normToken(m.IdentityID)
	m.ChannelThreadID = strings.TrimSpace(m.ChannelThreadID)
	m.Provider = normToken(m.Provider)

	if len(m.MCPProfileIDs) > 0 {
		seen := make(map[string]bool, len(m.MCPProfileIDs))
		out := m.MCPProfileIDs[:0]
		for _, id := range m.MCPProfileIDs {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
		m.MCPProfileIDs = out
	}
	return nil
}
