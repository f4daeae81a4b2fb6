// ABOUTME: Shared test fixtures: a scripted agent child and gateway builder.
// ABOUTME: The fake agent speaks the wire dialect over in-memory pipes.

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flint-sh/flint/internal/config"
	"github.com/flint-sh/flint/internal/protocol"
	"github.com/flint-sh/flint/internal/runtime"
	"github.com/flint-sh/flint/internal/threadstore"
)

// fakeAgent scripts agent children. All spawned instances share state so
// tests can assert across runtime recycles.
type fakeAgent struct {
	mu            sync.Mutex
	spawns        int
	threadStarts  []protocol.ThreadStartParams
	threadResumes []protocol.ThreadResumeParams
	turnStarts    []protocol.TurnStartParams

	reply      string
	failModels map[string]string
	turnDelay  time.Duration

	activeTurns int32
	maxActive   int32
}

func newFakeAgent() *fakeAgent {
	return &fakeAgent{reply: "hello", failModels: map[string]string{}}
}

func (a *fakeAgent) spawn(ctx context.Context, provider runtime.Provider) (*protocol.Peer, error) {
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	a.mu.Lock()
	a.spawns++
	a.mu.Unlock()

	go a.serve(stdinR, stdoutW)
	return protocol.NewPeer(stdinW, stdoutR, protocol.PeerConfig{}, func() { _ = stdinR.Close() }), nil
}

func (a *fakeAgent) serve(in io.Reader, out *io.PipeWriter) {
	write := func(v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		_, _ = out.Write(append(data, '\n'))
	}
	notify := func(method string, params any) {
		write(map[string]any{"method": method, "params": params})
	}

	sessions := 0
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var msg protocol.Message
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			continue
		}

		switch msg.Method {
		case protocol.MethodInitialize:
			write(map[string]any{"id": json.RawMessage(msg.ID), "result": map[string]any{"agentInfo": map[string]any{"name": "fake", "version": "0"}}})

		case protocol.MethodThreadStart:
			var p protocol.ThreadStartParams
			_ = json.Unmarshal(msg.Params, &p)
			a.mu.Lock()
			a.threadStarts = append(a.threadStarts, p)
			sessions++
			id := fmt.Sprintf("sess-%d-%d", a.spawns, sessions)
			a.mu.Unlock()
			write(map[string]any{"id": json.RawMessage(msg.ID), "result": map[string]any{"thread": map[string]any{"id": id}}})

		case protocol.MethodThreadResume:
			var p protocol.ThreadResumeParams
			_ = json.Unmarshal(msg.Params, &p)
			a.mu.Lock()
			a.threadResumes = append(a.threadResumes, p)
			a.mu.Unlock()
			write(map[string]any{"id": json.RawMessage(msg.ID), "result": map[string]any{"thread": map[string]any{"id": p.ThreadID}}})

		case protocol.MethodTurnStart:
			var p protocol.TurnStartParams
			_ = json.Unmarshal(msg.Params, &p)
			a.mu.Lock()
			a.turnStarts = append(a.turnStarts, p)
			failMsg := a.failModels[p.Model]
			reply := a.reply
			delay := a.turnDelay
			a.mu.Unlock()

			cur := atomic.AddInt32(&a.activeTurns, 1)
			for {
				prev := atomic.LoadInt32(&a.maxActive)
				if cur <= prev || atomic.CompareAndSwapInt32(&a.maxActive, prev, cur) {
					break
				}
			}

			write(map[string]any{"id": json.RawMessage(msg.ID), "result": map[string]any{"turn": map[string]any{"id": "turn-1"}}})
			notify(protocol.NotifyTurnStarted, map[string]any{"turn": map[string]any{"id": "turn-1"}})

			if delay > 0 {
				time.Sleep(delay)
			}
			if failMsg != "" {
				notify(protocol.NotifyTurnCompleted, map[string]any{"turn": map[string]any{"id": "turn-1"}, "status": "failed", "error": failMsg})
			} else {
				notify(protocol.NotifyAgentMessageDelta, map[string]any{"delta": reply})
				notify(protocol.NotifyTurnCompleted, map[string]any{"turn": map[string]any{"id": "turn-1"}, "status": "completed"})
			}
			atomic.AddInt32(&a.activeTurns, -1)

		case protocol.MethodTurnInterrupt:
			write(map[string]any{"id": json.RawMessage(msg.ID), "result": map[string]any{}})
		}
	}
}

func (a *fakeAgent) spawnCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spawns
}

func (a *fakeAgent) lastThreadStart(t *testing.T) protocol.ThreadStartParams {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.threadStarts)
	return a.threadStarts[len(a.threadStarts)-1]
}

func (a *fakeAgent) lastTurnStart(t *testing.T) protocol.TurnStartParams {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	require.NotEmpty(t, a.turnStarts)
	return a.turnStarts[len(a.turnStarts)-1]
}

// newTestGateway builds a gateway over a temp store and the fake agent.
func newTestGateway(t *testing.T, agent *fakeAgent, mutate func(*config.Config, *config.Settings)) *Gateway {
	t.Helper()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	cfg.Gateway.StorePath = filepath.Join(t.TempDir(), "threads.json")

	settings := &config.Settings{}
	if mutate != nil {
		mutate(cfg, settings)
	}

	gw, err := New(Options{
		Config:   cfg,
		Settings: settings,
		Version:  "test",
		Spawn:    agent.spawn,
		Store:    threadstore.NewFileStore(cfg.Gateway.StorePath, nil),
	})
	require.NoError(t, err)
	t.Cleanup(func() { gw.registry.Close() })
	return gw
}
