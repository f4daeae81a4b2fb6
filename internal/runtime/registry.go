// ABOUTME: Registry of live runtimes keyed by thread id, with lifecycle rules.
// ABOUTME: Recycles on reset or profile mismatch; never switches provider silently.

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flint-sh/flint/internal/protocol"
)

// SpawnFunc starts an agent child for the provider and returns its peer,
// connected but not yet initialized.
type SpawnFunc func(ctx context.Context, provider Provider) (*protocol.Peer, error)

// Runtime pairs a live peer with the agent session it hosts.
type Runtime struct {
	Peer             *protocol.Peer
	Provider         Provider
	ProviderThreadID string
	Model            string
	ProfileIDs       []string

	mu            sync.Mutex
	currentTurnID string
}

func (rt *Runtime) setCurrentTurn(id string) {
	if id == "" {
		return
	}
	rt.mu.Lock()
	rt.currentTurnID = id
	rt.mu.Unlock()
}

// CurrentTurnID returns the most recently observed turn id.
func (rt *Runtime) CurrentTurnID() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.currentTurnID
}

// alive reports whether the peer has not terminated.
func (rt *Runtime) alive() bool {
	select {
	case <-rt.Peer.Done():
		return false
	default:
		return true
	}
}

// Desired describes the runtime a turn needs.
type Desired struct {
	Provider          Provider
	ProfileIDs        []string
	ForceNewSession   bool
	ForceDefaultModel bool

	// ResumeThreadID is the stored agent session id, when one exists.
	ResumeThreadID string

	Options ThreadOptions
}

// Config carries the registry's collaborators and policy.
type Config struct {
	Spawn  SpawnFunc
	Logger *slog.Logger
	Codex  CodexDefaults

	// CodexConfigErr defers an invalid Codex configuration: requests are
	// accepted but Codex turns fail with this error until it is fixed.
	CodexConfigErr error

	ClientName    string
	ClientVersion string
}

// Registry owns every live runtime. Mutation happens from per-thread
// drains and Close; Interrupt tolerates concurrent reads.
type Registry struct {
	spawn    SpawnFunc
	logger   *slog.Logger
	codex    CodexDefaults
	codexErr error

	mu       sync.Mutex
	runtimes map[string]*Runtime
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		spawn:    cfg.Spawn,
		logger:   logger,
		codex:    cfg.Codex,
		codexErr: cfg.CodexConfigErr,
		runtimes: make(map[string]*Runtime),
	}
}

// Ensure returns a live runtime for threadID, creating one when needed.
//
// An existing runtime is closed and replaced when the caller forces a new
// session or the MCP profile set changed. A provider mismatch keeps the
// existing runtime: threads never switch provider mid-session.
func (r *Registry) Ensure(ctx context.Context, threadID string, d Desired) (*Runtime, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, fmt.Errorf("runtime registry closed")
	}
	existing := r.runtimes[threadID]
	if existing != nil {
		switch {
		case d.ForceNewSession:
			delete(r.runtimes, threadID)
			r.mu.Unlock()
			_ = existing.Peer.Close()
		case !existing.alive():
			delete(r.runtimes, threadID)
			r.mu.Unlock()
			r.logger.Info("recycling dead runtime", "thread_id", threadID)
			_ = existing.Peer.Close()
		case existing.Provider != d.Provider:
			r.mu.Unlock()
			r.logger.Warn("provider change requested mid-thread, keeping existing runtime",
				"thread_id", threadID,
				"existing", existing.Provider,
				"requested", d.Provider,
			)
			return existing, nil
		case !equalProfiles(existing.ProfileIDs, d.ProfileIDs):
			delete(r.runtimes, threadID)
			r.mu.Unlock()
			r.logger.Info("mcp profiles changed, recycling runtime", "thread_id", threadID)
			_ = existing.Peer.Close()
		default:
			r.mu.Unlock()
			return existing, nil
		}
	} else {
		r.mu.Unlock()
	}

	rt, err := r.create(ctx, threadID, d)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = rt.Peer.Close()
		return nil, fmt.Errorf("runtime registry closed")
	}
	r.runtimes[threadID] = rt
	r.mu.Unlock()
	return rt, nil
}

// create spawns the child, performs the handshake, and resumes or starts
// the agent session. No registry lock is held here.
func (r *Registry) create(ctx context.Context, threadID string, d Desired) (*Runtime, error) {
	if d.Provider == ProviderCodex && r.codexErr != nil {
		return nil, fmt.Errorf("codex configuration invalid: %w", r.codexErr)
	}

	opts := d.Options
	if d.ForceDefaultModel {
		opts.Model = ""
	}

	peer, err := r.spawn(ctx, d.Provider)
	if err != nil {
		return nil, fmt.Errorf("spawning %s agent: %w", d.Provider, err)
	}
	if err := peer.Handshake(ctx); err != nil {
		_ = peer.Close()
		return nil, err
	}

	var thread protocol.ThreadResult
	started := false
	if d.ResumeThreadID != "" && !d.ForceNewSession {
		params := threadResumeParams(d.Provider, d.ResumeThreadID, opts, r.codex)
		if err := peer.Call(ctx, protocol.MethodThreadResume, params, &thread); err != nil {
			r.logger.Warn("thread resume failed, starting fresh session",
				"thread_id", threadID,
				"provider_thread_id", d.ResumeThreadID,
				"error", err,
			)
		} else {
			started = true
		}
	}
	if !started {
		params := threadStartParams(d.Provider, opts, r.codex)
		if err := peer.Call(ctx, protocol.MethodThreadStart, params, &thread); err != nil {
			_ = peer.Close()
			return nil, fmt.Errorf("starting agent session: %w", err)
		}
	}
	if thread.Thread.ID == "" {
		_ = peer.Close()
		return nil, fmt.Errorf("agent returned an empty session id")
	}

	r.logger.Info("runtime ready",
		"thread_id", threadID,
		"provider", d.Provider,
		"model", opts.Model,
		"resumed", started,
	)
	return &Runtime{
		Peer:             peer,
		Provider:         d.Provider,
		ProviderThreadID: thread.Thread.ID,
		Model:            opts.Model,
		ProfileIDs:       d.ProfileIDs,
	}, nil
}

// Recycle closes and forgets the runtime for threadID, if present.
func (r *Registry) Recycle(threadID string) {
	r.mu.Lock()
	rt := r.runtimes[threadID]
	delete(r.runtimes, threadID)
	r.mu.Unlock()

	if rt != nil {
		_ = rt.Peer.Close()
	}
}

// Interrupt sends turn/interrupt to the thread's runtime. Best effort:
// returns false when no runtime is live for the thread.
func (r *Registry) Interrupt(ctx context.Context, threadID string) bool {
	r.mu.Lock()
	rt := r.runtimes[threadID]
	r.mu.Unlock()

	if rt == nil || !rt.alive() {
		return false
	}
	params := protocol.TurnInterruptParams{ThreadID: rt.ProviderThreadID, TurnID: rt.CurrentTurnID()}
	if err := rt.Peer.Call(ctx, protocol.MethodTurnInterrupt, params, nil); err != nil {
		r.logger.Warn("turn interrupt failed", "thread_id", threadID, "error", err)
	}
	return true
}

// Count returns the number of live runtimes.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runtimes)
}

// Close shuts every runtime down. The registry refuses new work after.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	runtimes := r.runtimes
	r.runtimes = make(map[string]*Runtime)
	r.mu.Unlock()

	for id, rt := range runtimes {
		if err := rt.Peer.Close(); err != nil {
			r.logger.Warn("closing runtime", "thread_id", id, "error", err)
		}
	}
}

func equalProfiles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
