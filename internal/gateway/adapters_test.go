// ABOUTME: Tests for the webhook adapter flow: verify, parse, ack, deliver.
// ABOUTME: A recording adapter stands in for a real channel.

package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flint-sh/flint/internal/events"
	"github.com/flint-sh/flint/internal/identity"
)

// recordingAdapter scripts webhook parsing and records delivery calls.
type recordingAdapter struct {
	mu sync.Mutex

	verifyOK bool
	parsed   *ParsedWebhook
	parseErr error

	acked     []any
	delivered []deliveredReply
	observed  []events.AgentEvent
}

type deliveredReply struct {
	meta    any
	reply   string
	isError bool
}

func (a *recordingAdapter) VerifyRequest(r *http.Request, rawBody []byte) bool { return a.verifyOK }

func (a *recordingAdapter) ParseWebhook(rawBody []byte, header http.Header) (*ParsedWebhook, error) {
	return a.parsed, a.parseErr
}

func (a *recordingAdapter) Acknowledge(meta any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, meta)
}

func (a *recordingAdapter) DeliverReply(meta any, reply string, isError bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delivered = append(a.delivered, deliveredReply{meta: meta, reply: reply, isError: isError})
}

func (a *recordingAdapter) OnAgentEvent(meta any, ev events.AgentEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observed = append(a.observed, ev)
}

func (a *recordingAdapter) replies() []deliveredReply {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]deliveredReply, len(a.delivered))
	copy(out, a.delivered)
	return out
}

func webhookMessage(eventID string) *ParsedWebhook {
	return &ParsedWebhook{
		Type: WebhookMessage,
		Message: &identity.InboundMessage{
			Channel:  "slack",
			UserID:   "U01",
			Text:     "hi",
			ChatType: identity.ChatDirect,
			PeerID:   "U01",
		},
		Meta:    map[string]string{"channel": "C9"},
		EventID: eventID,
	}
}

func newWebhookServer(t *testing.T, adapter *recordingAdapter) (*Gateway, *httptest.Server) {
	gw, srv := newTestServer(t, newFakeAgent(), nil)
	gw.RegisterAdapter("slack", adapter)
	return gw, srv
}

func TestWebhook_SignatureRejected(t *testing.T) {
	adapter := &recordingAdapter{verifyOK: false}
	_, srv := newWebhookServer(t, adapter)

	resp, body := postJSON(t, srv.URL+"/webhooks/slack", `{}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body["error"], "signature")
}

func TestWebhook_Challenge(t *testing.T) {
	adapter := &recordingAdapter{verifyOK: true, parsed: &ParsedWebhook{Type: WebhookChallenge, Response: "challenge-token"}}
	_, srv := newWebhookServer(t, adapter)

	resp, err := http.Post(srv.URL+"/webhooks/slack", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	assert.Equal(t, "challenge-token", string(buf[:n]))
}

func TestWebhook_Ignore(t *testing.T) {
	adapter := &recordingAdapter{verifyOK: true, parsed: &ParsedWebhook{Type: WebhookIgnore}}
	_, srv := newWebhookServer(t, adapter)

	resp, body := postJSON(t, srv.URL+"/webhooks/slack", `{}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Empty(t, adapter.replies())
}

func TestWebhook_MessageDelivery(t *testing.T) {
	adapter := &recordingAdapter{verifyOK: true, parsed: webhookMessage("ev-1")}
	_, srv := newWebhookServer(t, adapter)

	resp, body := postJSON(t, srv.URL+"/webhooks/slack", `{}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	require.Eventually(t, func() bool {
		return len(adapter.replies()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	require.Len(t, adapter.acked, 1, "acknowledge happens before processing")
	assert.Equal(t, "hello", adapter.delivered[0].reply)
	assert.False(t, adapter.delivered[0].isError)
	assert.NotEmpty(t, adapter.observed, "live events reach the adapter observer")
}

func TestWebhook_DuplicateEventDropped(t *testing.T) {
	adapter := &recordingAdapter{verifyOK: true, parsed: webhookMessage("ev-dup")}
	_, srv := newWebhookServer(t, adapter)

	resp, _ := postJSON(t, srv.URL+"/webhooks/slack", `{}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := postJSON(t, srv.URL+"/webhooks/slack", `{}`, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["duplicate"])

	require.Eventually(t, func() bool {
		return len(adapter.replies()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, adapter.replies(), 1, "duplicate event must not trigger a second turn")
}

func TestWebhook_AgentErrorDeliveredAsError(t *testing.T) {
	agent := newFakeAgent()
	agent.failModels[""] = "model overloaded"
	gw, srv := newTestServer(t, agent, nil)
	adapter := &recordingAdapter{verifyOK: true, parsed: webhookMessage("ev-2")}
	gw.RegisterAdapter("slack", adapter)

	postJSON(t, srv.URL+"/webhooks/slack", `{}`, nil)

	require.Eventually(t, func() bool {
		return len(adapter.replies()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	got := adapter.replies()[0]
	assert.True(t, got.isError)
	assert.Contains(t, got.reply, "model overloaded")
}
