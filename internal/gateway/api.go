// ABOUTME: HTTP surface: chi routing, validation, idempotency, SSE streaming.
// ABOUTME: JSON by default; Accept: text/event-stream switches to SSE.

package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flint-sh/flint/internal/events"
	"github.com/flint-sh/flint/internal/idempotency"
	"github.com/flint-sh/flint/internal/identity"
	"github.com/flint-sh/flint/internal/metrics"
)

// maxBodyBytes bounds inbound request bodies.
const maxBodyBytes = 1 << 20

// router assembles the HTTP surface.
func (g *Gateway) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
	}))

	if g.cfg.Metrics.Enabled {
		r.Handle(g.cfg.Metrics.Path, promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", g.handleHealth)
		r.Group(func(r chi.Router) {
			r.Use(g.requireAuth)
			r.Get("/threads", g.handleListThreads)
			r.Get("/threads/{threadID}", g.handleGetThread)
			r.Post("/threads", g.handleCreateThread)
			r.Post("/threads/{threadID}", g.handleThreadMessage)
			r.Post("/threads/{threadID}/interrupt", g.handleInterrupt)
		})
	})

	r.Post("/webhooks/{name}", g.handleWebhook)
	return r
}

// requireAuth enforces the optional static bearer token.
func (g *Gateway) requireAuth(next http.Handler) http.Handler {
	token := g.cfg.Auth.Token
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                 true,
		"provider":           g.cfg.Gateway.Provider,
		"defaultRoutingMode": g.cfg.Gateway.RoutingMode,
		"version":            g.version,
	})
}

func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	records := g.store.List()
	data := make([]any, 0, len(records))
	for _, rec := range records {
		data = append(data, rec.Public())
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (g *Gateway) handleGetThread(w http.ResponseWriter, r *http.Request) {
	record, ok := g.store.Get(chi.URLParam(r, "threadID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrThreadNotFound.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": record.Public()})
}

func (g *Gateway) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}

	msg, err := parseInboundMessage(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	key := idempotencyKey(r, msg.IdempotencyKey)
	ctx := context.WithoutCancel(r.Context())
	g.respondTurn(w, r, key, string(body), func(onEvent func(events.AgentEvent)) (*TurnReply, error) {
		return g.HandleMessage(ctx, msg, onEvent)
	})
}

// threadMessageRequest is the body of POST /v1/threads/{id}.
type threadMessageRequest struct {
	Text           string `json:"text"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

func (g *Gateway) handleThreadMessage(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if _, ok := g.store.Get(threadID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrThreadNotFound.Error()})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
		return
	}
	var req threadMessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": identity.ErrEmptyText.Error()})
		return
	}

	key := idempotencyKey(r, req.IdempotencyKey)
	ctx := context.WithoutCancel(r.Context())
	g.respondTurn(w, r, key, threadID+":"+string(body), func(onEvent func(events.AgentEvent)) (*TurnReply, error) {
		return g.HandleThreadMessage(ctx, threadID, req.Text, onEvent)
	})
}

func (g *Gateway) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if _, ok := g.store.Get(threadID); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrThreadNotFound.Error()})
		return
	}
	if !g.InterruptThread(r.Context(), threadID) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "No active runtime for this thread."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "threadId": threadID, "interrupted": true})
}

// idempotencyKey prefers the Idempotency-Key header over the body field.
func idempotencyKey(r *http.Request, bodyKey string) string {
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		return key
	}
	return bodyKey
}

// respondTurn executes the turn behind the idempotency gate and writes
// either a JSON reply or an SSE stream.
func (g *Gateway) respondTurn(w http.ResponseWriter, r *http.Request, key, fingerprint string, run func(func(events.AgentEvent)) (*TurnReply, error)) {
	if wantsSSE(r) {
		g.streamTurn(w, key, fingerprint, run)
		return
	}

	result, cached, err := g.executeTurn(key, fingerprint, nil, run)
	if errors.Is(err, idempotency.ErrConflict) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": idempotency.ErrConflict.Error()})
		return
	}
	if err != nil {
		g.writeTurnError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(decorateReply(result, cached, key))
}

// executeTurn runs the turn, routing through the idempotency store when a
// key is present.
func (g *Gateway) executeTurn(key, fingerprint string, onEvent func(events.AgentEvent), run func(func(events.AgentEvent)) (*TurnReply, error)) (json.RawMessage, bool, error) {
	task := func() (json.RawMessage, error) {
		reply, err := run(onEvent)
		if err != nil {
			return nil, err
		}
		return json.Marshal(reply)
	}
	if key == "" {
		result, err := task()
		return result, false, err
	}
	return g.idem.Execute(key, fingerprint, task)
}

// decorateReply annotates a stored turn reply with caching metadata.
// Replays of the same key produce byte-identical bodies.
func decorateReply(result json.RawMessage, cached bool, key string) []byte {
	if !cached && key == "" {
		return result
	}
	var m map[string]any
	if err := json.Unmarshal(result, &m); err != nil {
		return result
	}
	if cached {
		m["cached"] = true
	}
	if key != "" {
		m["idempotencyKey"] = key
	}
	out, err := json.Marshal(m)
	if err != nil {
		return result
	}
	return out
}

func (g *Gateway) writeTurnError(w http.ResponseWriter, err error) {
	var vErr *ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": vErr.Reason})
	case errors.Is(err, ErrThreadNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": ErrThreadNotFound.Error()})
	default:
		g.logger.Error("turn failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Agent turn failed.",
			"details": err.Error(),
		})
	}
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// streamTurn writes agent events as SSE frames, then a terminal result
// or error frame. A disconnected client does not interrupt the turn.
func (g *Gateway) streamTurn(w http.ResponseWriter, key, fingerprint string, run func(func(events.AgentEvent)) (*TurnReply, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.SSEConnections.Inc()
	defer metrics.SSEConnections.Dec()

	eventCh := make(chan events.AgentEvent, 64)
	type turnResult struct {
		data   json.RawMessage
		cached bool
		err    error
	}
	resCh := make(chan turnResult, 1)
	go func() {
		data, cached, err := g.executeTurn(key, fingerprint, func(ev events.AgentEvent) {
			eventCh <- ev
		}, run)
		resCh <- turnResult{data: data, cached: cached, err: err}
	}()

	for {
		select {
		case ev := <-eventCh:
			g.writeSSEEvent(w, string(ev.Type), ev)
			flusher.Flush()

		case out := <-resCh:
			// Flush whatever the producer emitted before finishing.
			for {
				select {
				case ev := <-eventCh:
					g.writeSSEEvent(w, string(ev.Type), ev)
				default:
					goto done
				}
			}
		done:
			if out.err != nil {
				msg := out.err.Error()
				if errors.Is(out.err, idempotency.ErrConflict) {
					msg = idempotency.ErrConflict.Error()
				}
				g.writeSSEEvent(w, "error", map[string]string{"type": "error", "message": msg})
			} else {
				g.writeSSEEvent(w, "result", json.RawMessage(decorateReply(out.data, out.cached, key)))
			}
			flusher.Flush()
			return
		}
	}
}

// writeSSEEvent writes one event: <type> / data: <JSON> frame.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseInboundMessage decodes and validates a create-thread body.
func parseInboundMessage(body []byte) (*identity.InboundMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if _, ok := raw["mcpServers"]; ok {
		return nil, errors.New("mcpServers is not accepted; declare servers in mcpProfiles and reference them via mcpProfileIds")
	}

	if rawIDs, ok := raw["mcpProfileIds"]; ok {
		var ids []string
		if err := json.Unmarshal(rawIDs, &ids); err != nil || len(ids) == 0 {
			return nil, errors.New("mcpProfileIds must be a non-empty string array")
		}
	}

	var msg identity.InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if err := msg.Normalize(); err != nil {
		return nil, err
	}
	return &msg, nil
}
