// ABOUTME: Slack Events API adapter: signing verification, parsing, delivery.
// ABOUTME: Bot and edited messages are ignored; replies stay in-thread.

package slack

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/flint-sh/flint/internal/gateway"
	"github.com/flint-sh/flint/internal/identity"
)

// poster is the slice of the Slack client the adapter needs.
type poster interface {
	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
}

// Meta threads Slack delivery context through the gateway.
type Meta struct {
	ChannelID string
	ThreadTS  string
}

// Adapter implements the gateway channel adapter contract for Slack.
type Adapter struct {
	signingSecret string
	client        poster
	logger        *slog.Logger
}

func (a *Adapter) log() *slog.Logger {
	if a.logger == nil {
		return slog.Default()
	}
	return a.logger
}

// New builds an adapter posting through the real Slack API.
func New(signingSecret, botToken string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		signingSecret: signingSecret,
		client:        slack.New(botToken),
		logger:        logger,
	}
}

// VerifyRequest checks the Slack request signature and timestamp window.
func (a *Adapter) VerifyRequest(r *http.Request, rawBody []byte) bool {
	verifier, err := slack.NewSecretsVerifier(r.Header, a.signingSecret)
	if err != nil {
		return false
	}
	if _, err := verifier.Write(rawBody); err != nil {
		return false
	}
	return verifier.Ensure() == nil
}

// eventEnvelope picks the retry-dedupe id out of the outer callback.
type eventEnvelope struct {
	EventID string `json:"event_id"`
}

// ParseWebhook classifies one Events API delivery.
func (a *Adapter) ParseWebhook(rawBody []byte, header http.Header) (*gateway.ParsedWebhook, error) {
	event, err := slackevents.ParseEvent(json.RawMessage(rawBody), slackevents.OptionNoVerifyToken())
	if err != nil {
		return nil, fmt.Errorf("parsing slack event: %w", err)
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(rawBody, &challenge); err != nil {
			return nil, fmt.Errorf("parsing url verification: %w", err)
		}
		return &gateway.ParsedWebhook{Type: gateway.WebhookChallenge, Response: challenge.Challenge}, nil

	case slackevents.CallbackEvent:
		var envelope eventEnvelope
		_ = json.Unmarshal(rawBody, &envelope)
		return a.parseCallback(event, envelope.EventID)
	}

	return &gateway.ParsedWebhook{Type: gateway.WebhookIgnore}, nil
}

func (a *Adapter) parseCallback(event slackevents.EventsAPIEvent, eventID string) (*gateway.ParsedWebhook, error) {
	switch inner := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Bot echoes and edits would loop back through the gateway.
		if inner.BotID != "" || inner.SubType != "" {
			return &gateway.ParsedWebhook{Type: gateway.WebhookIgnore}, nil
		}
		return a.messageWebhook(eventID, inner.User, inner.Text, inner.Channel, inner.ChannelType, inner.ThreadTimeStamp, inner.TimeStamp), nil

	case *slackevents.AppMentionEvent:
		return a.messageWebhook(eventID, inner.User, inner.Text, inner.Channel, "channel", inner.ThreadTimeStamp, inner.TimeStamp), nil
	}

	return &gateway.ParsedWebhook{Type: gateway.WebhookIgnore}, nil
}

func (a *Adapter) messageWebhook(eventID, user, text, channelID, channelType, threadTS, ts string) *gateway.ParsedWebhook {
	chatType := identity.ChatChannel
	peerID := channelID
	switch channelType {
	case "im":
		chatType = identity.ChatDirect
		peerID = user
	case "group", "mpim":
		chatType = identity.ChatGroup
	}

	replyTS := threadTS
	if replyTS == "" {
		replyTS = ts
	}

	return &gateway.ParsedWebhook{
		Type: gateway.WebhookMessage,
		Message: &identity.InboundMessage{
			Channel:         "slack",
			UserID:          user,
			Text:            text,
			ChatType:        chatType,
			PeerID:          peerID,
			ChannelThreadID: threadTS,
		},
		Meta:    &Meta{ChannelID: channelID, ThreadTS: replyTS},
		EventID: eventID,
	}
}

// Acknowledge is a no-op: Slack treats the 200 response as the ack.
func (a *Adapter) Acknowledge(meta any) {}

// DeliverReply posts the reply into the originating channel and thread.
func (a *Adapter) DeliverReply(meta any, reply string, isError bool) {
	m, ok := meta.(*Meta)
	if !ok {
		a.log().Error("slack delivery with foreign meta", "meta", fmt.Sprintf("%T", meta))
		return
	}

	text := ToMrkdwn(reply)
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if m.ThreadTS != "" {
		options = append(options, slack.MsgOptionTS(m.ThreadTS))
	}

	if _, _, err := a.client.PostMessage(m.ChannelID, options...); err != nil {
		a.log().Error("slack post failed", "channel", m.ChannelID, "error", err)
	}
}
