// ABOUTME: Turn execution: event stream consumption under an inactivity watchdog.
// ABOUTME: Text deltas concatenate into the reply; every event reaches onEvent.

package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flint-sh/flint/internal/events"
	"github.com/flint-sh/flint/internal/protocol"
)

// WatchdogTimeout is how long a turn may go without any agent event
// before it is interrupted.
const WatchdogTimeout = 120 * time.Second

// ErrNoActivity is wrapped into the error returned when the watchdog fires.
var ErrNoActivity = errors.New("no activity for 120 s")

// TurnOutcome is the result of a completed turn.
type TurnOutcome struct {
	Reply string
	Usage *events.Usage
}

// RunTurn submits text to the runtime's session and consumes the event
// stream to exhaustion. Events are forwarded to onEvent (which may be
// nil) in emission order; text deltas are concatenated into the reply.
func (r *Registry) RunTurn(ctx context.Context, rt *Runtime, text string, onEvent func(events.AgentEvent)) (*TurnOutcome, error) {
	return r.runTurn(ctx, rt, text, onEvent, WatchdogTimeout)
}

func (r *Registry) runTurn(ctx context.Context, rt *Runtime, text string, onEvent func(events.AgentEvent), watchdog time.Duration) (*TurnOutcome, error) {
	translator := events.NewTranslator()
	eventCh := make(chan events.AgentEvent, 64)
	turnDone := make(chan struct{})
	defer close(turnDone)

	unsubscribe := rt.Peer.Subscribe(func(n protocol.Notification) {
		ev, ok := translator.Translate(n)
		rt.setCurrentTurn(translator.CurrentTurnID())
		if !ok {
			return
		}
		select {
		case eventCh <- ev:
		case <-turnDone:
			// The consumer is gone; late events are dropped.
		}
	})
	defer unsubscribe()

	params := protocol.TurnStartParams{
		ThreadID: rt.ProviderThreadID,
		Input:    []protocol.InputItem{{Type: "text", Text: text}},
		Model:    rt.Model,
	}
	var started protocol.TurnResult
	if err := rt.Peer.Call(ctx, protocol.MethodTurnStart, params, &started); err != nil {
		return nil, fmt.Errorf("starting turn: %w", err)
	}
	rt.setCurrentTurn(started.Turn.ID)

	timer := time.NewTimer(watchdog)
	defer timer.Stop()

	var reply strings.Builder
	for {
		select {
		case ev := <-eventCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(watchdog)

			if onEvent != nil {
				onEvent(ev)
			}

			switch ev.Type {
			case events.TypeText:
				reply.WriteString(ev.Delta)
			case events.TypeError:
				return nil, errors.New(ev.Message)
			case events.TypeDone:
				return &TurnOutcome{Reply: reply.String(), Usage: ev.Usage}, nil
			}

		case <-timer.C:
			r.interruptTurn(rt)
			return nil, fmt.Errorf("turn aborted: %w", ErrNoActivity)

		case <-rt.Peer.Done():
			err := rt.Peer.Err()
			if err == nil {
				err = errors.New("agent connection closed mid-turn")
			}
			return nil, err

		case <-ctx.Done():
			r.interruptTurn(rt)
			return nil, ctx.Err()
		}
	}
}

// interruptTurn asks the agent to stop the current turn. Best effort.
func (r *Registry) interruptTurn(rt *Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), timeoutInterruptBudget)
	defer cancel()

	params := protocol.TurnInterruptParams{ThreadID: rt.ProviderThreadID, TurnID: rt.CurrentTurnID()}
	if err := rt.Peer.Call(ctx, protocol.MethodTurnInterrupt, params, nil); err != nil {
		r.logger.Warn("interrupting stalled turn failed", "error", err)
	}
}

const timeoutInterruptBudget = 10 * time.Second
