// ABOUTME: The handleMessage pipeline: lifecycle, runtime, turn, persistence.
// ABOUTME: All thread-state mutation happens inside the per-thread queue slot.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flint-sh/flint/internal/events"
	"github.com/flint-sh/flint/internal/identity"
	"github.com/flint-sh/flint/internal/mcpprofile"
	"github.com/flint-sh/flint/internal/metrics"
	"github.com/flint-sh/flint/internal/runtime"
	"github.com/flint-sh/flint/internal/session"
	"github.com/flint-sh/flint/internal/threadstore"
)

// ErrThreadNotFound is returned for unknown thread ids.
var ErrThreadNotFound = errors.New("Thread not found.")

// ValidationError marks caller mistakes that map to a 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// TurnReply is the result of one handled message.
type TurnReply struct {
	ThreadID       string `json:"threadId"`
	RoutingMode    string `json:"routingMode"`
	Provider       string `json:"provider"`
	Reply          string `json:"reply"`
	DurationMs     int64  `json:"durationMs"`
	Cached         bool   `json:"cached,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// HandleMessage resolves the message to a thread and runs one turn on it.
// Events stream to onEvent (which may be nil) as the agent produces them.
func (g *Gateway) HandleMessage(ctx context.Context, msg *identity.InboundMessage, onEvent func(events.AgentEvent)) (*TurnReply, error) {
	mode := msg.RoutingMode
	if mode == "" {
		mode = identity.RoutingMode(g.cfg.Gateway.RoutingMode)
	}
	threadID := identity.ResolveThreadID(msg, mode, g.cfg.IdentityLinks)
	return g.handleOnThread(ctx, threadID, string(mode), msg, onEvent)
}

// HandleThreadMessage runs one turn on an existing thread. The stored
// record supplies the routing fields the original message carried.
func (g *Gateway) HandleThreadMessage(ctx context.Context, threadID, text string, onEvent func(events.AgentEvent)) (*TurnReply, error) {
	stored, ok := g.store.Get(threadID)
	if !ok {
		return nil, ErrThreadNotFound
	}

	msg := &identity.InboundMessage{
		Channel:         stored.Channel,
		UserID:          stored.UserID,
		Text:            text,
		ChatType:        identity.ChatType(stored.ChatType),
		PeerID:          stored.PeerID,
		AccountID:       stored.AccountID,
		IdentityID:      stored.IdentityID,
		ChannelThreadID: stored.ChannelThreadID,
		MCPProfileIDs:   stored.MCPProfileIDs,
	}
	if err := msg.Normalize(); err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	return g.handleOnThread(ctx, threadID, stored.RoutingMode, msg, onEvent)
}

// handleOnThread enqueues the turn on the thread's mailbox and waits.
func (g *Gateway) handleOnThread(ctx context.Context, threadID, routingMode string, msg *identity.InboundMessage, onEvent func(events.AgentEvent)) (*TurnReply, error) {
	type outcome struct {
		reply *TurnReply
		err   error
	}
	done := make(chan outcome, 1)

	g.queue.Enqueue(threadID, func() {
		reply, err := g.runThreadTurn(ctx, threadID, routingMode, msg, onEvent)
		done <- outcome{reply: reply, err: err}
	})

	out := <-done
	g.observeOutcome(msg.Channel, out.err)
	return out.reply, out.err
}

func (g *Gateway) observeOutcome(channel string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.MessagesTotal.WithLabelValues(channel, outcome).Inc()
	metrics.ActiveRuntimes.Set(float64(g.registry.Count()))
}

// runThreadTurn executes inside the thread's queue slot.
func (g *Gateway) runThreadTurn(ctx context.Context, threadID, routingMode string, msg *identity.InboundMessage, onEvent func(events.AgentEvent)) (*TurnReply, error) {
	start := g.now()

	stored, hasStored := g.store.Get(threadID)

	text := msg.Text
	resetReason := ""
	var cmd *session.ResetCommand
	if cmd = session.ParseResetCommand(text, g.settings.Session.Triggers(), g.cfg.ProviderHints(), g.settings.Session.Greeting()); cmd != nil {
		text = cmd.NextText
		resetReason = "trigger:" + cmd.Trigger
	} else if hasStored {
		sessionType := session.SessionType(msg.ChannelThreadID, msg.ChatType)
		policy := g.settings.Session.ResolvePolicy(msg.Channel, sessionType)
		if updatedAt, err := time.Parse(time.RFC3339, stored.UpdatedAt); err == nil {
			if expired, reason := session.Evaluate(updatedAt, start, policy); expired {
				resetReason = reason + "_expiry"
			}
		}
	}

	providerName, err := g.resolveProvider(cmd, msg, stored)
	if err != nil {
		return nil, err
	}

	model := g.cfg.Gateway.Model
	if hasStored && stored.Provider == providerName && stored.Model != "" {
		model = stored.Model
	}
	if cmd != nil && cmd.ModelOverride != "" {
		model = cmd.ModelOverride
	}

	profileIDs := msg.MCPProfileIDs
	if len(profileIDs) == 0 {
		profileIDs = g.settings.DefaultMCPProfileIDs
	}
	servers, err := mcpprofile.Compose(g.settings.MCPProfiles, profileIDs, g.logger)
	if err != nil {
		return nil, &ValidationError{Reason: err.Error()}
	}
	if g.cfg.MemoryOn() {
		mcpprofile.MergeMemoryServer(servers, mcpprofile.ServerConfig{
			Command: g.cfg.Gateway.MemoryCommand,
			Args:    []string{g.cfg.Gateway.MemoryStorePath},
		})
	}

	desired := runtime.Desired{
		Provider:        runtime.Provider(providerName),
		ProfileIDs:      profileIDs,
		ForceNewSession: resetReason != "",
		Options: runtime.ThreadOptions{
			Model:   model,
			Servers: servers,
		},
	}
	if hasStored {
		desired.ResumeThreadID = stored.ProviderThreadID
	}
	if resetReason != "" {
		g.logger.Info("resetting agent session",
			"thread_id", threadID,
			"reason", resetReason,
			"provider", providerName,
			"model", model,
		)
	}

	rt, err := g.registry.Ensure(ctx, threadID, desired)
	if err != nil {
		return nil, err
	}

	warnPrefix := ""
	outcome, err := g.registry.RunTurn(ctx, rt, text, onEvent)
	if err != nil && runtime.IsModelNotSupported(err, rt.Model) {
		g.logger.Warn("model rejected by agent, retrying with default model",
			"thread_id", threadID,
			"model", rt.Model,
			"error", err,
		)
		g.registry.Recycle(threadID)
		desired.ForceNewSession = true
		desired.ForceDefaultModel = true
		rt, err = g.registry.Ensure(ctx, threadID, desired)
		if err == nil {
			warnPrefix = fmt.Sprintf("Note: model %q is unavailable; using the default model.\n", model)
			outcome, err = g.registry.RunTurn(ctx, rt, text, onEvent)
		}
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.TurnDuration.WithLabelValues(providerName, status).Observe(g.now().Sub(start).Seconds())
	if err != nil {
		return nil, err
	}

	now := threadstore.Timestamp(g.now())
	record := &threadstore.Record{
		ThreadID:         threadID,
		RoutingMode:      routingMode,
		Provider:         string(rt.Provider),
		ProviderThreadID: rt.ProviderThreadID,
		Model:            rt.Model,
		MCPProfileIDs:    profileIDs,
		Channel:          msg.Channel,
		UserID:           msg.UserID,
		ChatType:         string(msg.ChatType),
		PeerID:           msg.PeerID,
		AccountID:        msg.AccountID,
		IdentityID:       msg.IdentityID,
		ChannelThreadID:  msg.ChannelThreadID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if hasStored {
		record.CreatedAt = stored.CreatedAt
	}
	if err := g.store.Upsert(record); err != nil {
		return nil, fmt.Errorf("persisting thread record: %w", err)
	}

	return &TurnReply{
		ThreadID:    threadID,
		RoutingMode: routingMode,
		Provider:    string(rt.Provider),
		Reply:       warnPrefix + outcome.Reply,
		DurationMs:  g.now().Sub(start).Milliseconds(),
	}, nil
}

// resolveProvider picks the provider for this turn: reset retarget, then
// request override, then the thread's stored provider, then the default.
func (g *Gateway) resolveProvider(cmd *session.ResetCommand, msg *identity.InboundMessage, stored *threadstore.Record) (string, error) {
	name := g.cfg.Gateway.Provider
	if stored != nil && stored.Provider != "" {
		name = stored.Provider
	}
	if msg.Provider != "" {
		name = msg.Provider
	}
	if cmd != nil && cmd.ProviderOverride != "" {
		name = cmd.ProviderOverride
	}
	if _, ok := g.cfg.Agents.Providers[name]; !ok {
		return "", validationErrorf("unknown provider %q", name)
	}
	return name, nil
}

// InterruptThread asks the thread's runtime to stop its current turn.
// Returns false when the thread has no live runtime.
func (g *Gateway) InterruptThread(ctx context.Context, threadID string) bool {
	return g.registry.Interrupt(ctx, threadID)
}
