// ABOUTME: Channel adapter contract and the /webhooks/{name} flow.
// ABOUTME: Ack before processing; event ids dedupe for five minutes.

package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flint-sh/flint/internal/events"
	"github.com/flint-sh/flint/internal/identity"
	"github.com/flint-sh/flint/internal/metrics"
)

// Webhook parse outcomes.
const (
	WebhookChallenge = "challenge"
	WebhookMessage   = "message"
	WebhookIgnore    = "ignore"
)

// ParsedWebhook is the adapter's reading of one webhook delivery.
type ParsedWebhook struct {
	Type string

	// Challenge responses echo back to the channel verbatim.
	Response string

	// Message deliveries carry the inbound message plus adapter-private
	// metadata threaded through acknowledgment and reply delivery.
	Message *identity.InboundMessage
	Meta    any

	// EventID, when set, deduplicates channel retries.
	EventID string
}

// ChannelAdapter plugs an external channel into /webhooks/{name}.
type ChannelAdapter interface {
	// VerifyRequest authenticates the delivery (signatures, timestamps).
	VerifyRequest(r *http.Request, rawBody []byte) bool

	// ParseWebhook classifies the payload.
	ParseWebhook(rawBody []byte, header http.Header) (*ParsedWebhook, error)

	// Acknowledge tells the channel the event was accepted, before the
	// agent turn runs.
	Acknowledge(meta any)

	// DeliverReply sends the gateway's reply (or a formatted error) back
	// to the channel.
	DeliverReply(meta any, reply string, isError bool)
}

// AgentEventObserver is implemented by adapters that surface live
// activity (typing indicators, status updates) during a turn.
type AgentEventObserver interface {
	OnAgentEvent(meta any, ev events.AgentEvent)
}

func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	adapter, ok := g.adapters[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("no webhook adapter named %q", name)})
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	if !adapter.VerifyRequest(r, rawBody) {
		metrics.WebhookEventsTotal.WithLabelValues(name, "rejected").Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "signature verification failed"})
		return
	}

	parsed, err := adapter.ParseWebhook(rawBody, r.Header)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(name, "unparseable").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	switch parsed.Type {
	case WebhookChallenge:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(parsed.Response))

	case WebhookIgnore:
		metrics.WebhookEventsTotal.WithLabelValues(name, "ignored").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	case WebhookMessage:
		if parsed.EventID != "" && g.eventDedupe.CheckAndMark(name+":"+parsed.EventID) {
			metrics.WebhookEventsTotal.WithLabelValues(name, "duplicate").Inc()
			writeJSON(w, http.StatusOK, map[string]any{"ok": true, "duplicate": true})
			return
		}
		metrics.WebhookEventsTotal.WithLabelValues(name, "accepted").Inc()

		adapter.Acknowledge(parsed.Meta)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

		go g.processWebhookMessage(adapter, parsed)

	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("adapter returned unknown webhook type %q", parsed.Type)})
	}
}

// processWebhookMessage runs the agent turn for an acknowledged webhook
// and delivers the reply back through the adapter.
func (g *Gateway) processWebhookMessage(adapter ChannelAdapter, parsed *ParsedWebhook) {
	msg := parsed.Message
	if err := msg.Normalize(); err != nil {
		adapter.DeliverReply(parsed.Meta, fmt.Sprintf("Message rejected: %v", err), true)
		return
	}

	var onEvent func(events.AgentEvent)
	if observer, ok := adapter.(AgentEventObserver); ok {
		onEvent = func(ev events.AgentEvent) { observer.OnAgentEvent(parsed.Meta, ev) }
	}

	reply, err := g.HandleMessage(context.Background(), msg, onEvent)
	if err != nil {
		g.logger.Error("webhook turn failed", "channel", msg.Channel, "error", err)
		adapter.DeliverReply(parsed.Meta, fmt.Sprintf("Sorry, that failed: %v", err), true)
		return
	}
	adapter.DeliverReply(parsed.Meta, reply.Reply, false)
}
