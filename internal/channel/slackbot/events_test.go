package slackbot

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convbridge/pkg/channel"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

type collector struct {
	mu     sync.Mutex
	events []channel.InboundEvent
}

func (c *collector) handle(_ context.Context, ev channel.InboundEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) all() []channel.InboundEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channel.InboundEvent(nil), c.events...)
}

func newTestChannel(mode string) (*Channel, *collector) {
	ch := New(Config{Mode: mode, BotToken: "xoxb-test", BotUserID: "UBOT", SigningSecret: testSecret})
	col := &collector{}
	ch.OnEvent(col.handle)
	return ch, col
}

func TestFromMessageEvent(t *testing.T) {
	ev := fromMessageEvent("Ev1", &slackevents.MessageEvent{
		User:            "U1",
		Text:            "hello",
		TimeStamp:       "100.2",
		ThreadTimeStamp: "100.1",
		Channel:         "C1",
		ChannelType:     "channel",
		SubType:         "thread_broadcast",
	})

	assert.Equal(t, channel.InboundEvent{
		Path:      channel.PathMessage,
		EventID:   "Ev1",
		ChannelID: "C1",
		ChatType:  channel.ChatTypeChannel,
		UserID:    "U1",
		Text:      "hello",
		TS:        "100.2",
		ThreadTS:  "100.1",
		Subtype:   "thread_broadcast",
	}, ev)

	bot := fromMessageEvent("", &slackevents.MessageEvent{BotID: "B9", Channel: "D1", ChannelType: "im"})
	assert.True(t, bot.IsBot)
	assert.True(t, bot.IsDirect())
}

func TestFromAppMention(t *testing.T) {
	ev := fromAppMention("Ev2", &slackevents.AppMentionEvent{
		User:      "U1",
		Text:      "<@UBOT> hi",
		TimeStamp: "100.1",
		Channel:   "C1",
	})
	assert.Equal(t, channel.PathMention, ev.Path)
	assert.Equal(t, "Ev2", ev.EventID)
	assert.Equal(t, channel.ChatTypeChannel, ev.ChatType)
	assert.Empty(t, ev.ThreadTS)
	assert.False(t, ev.IsBot)

	other := fromAppMention("Ev3", &slackevents.AppMentionEvent{
		User:    "UOTHERBOT",
		BotID:   "B999",
		Text:    "<@UBOT> hello",
		Channel: "C1",
	})
	assert.True(t, other.IsBot)
	assert.Equal(t, "UOTHERBOT", other.UserID)
}

func TestChatType(t *testing.T) {
	tests := []struct {
		declared, id string
		want         channel.ChatType
	}{
		{"im", "D1", channel.ChatTypeDirect},
		{"mpim", "G1", channel.ChatTypeMulti},
		{"group", "G1", channel.ChatTypeGroup},
		{"channel", "C1", channel.ChatTypeChannel},
		{"", "D1", channel.ChatTypeDirect},
		{"", "G1", channel.ChatTypeGroup},
		{"", "C1", channel.ChatTypeChannel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, chatType(tt.declared, tt.id), tt.declared+"/"+tt.id)
	}
}

func TestDedupe(t *testing.T) {
	now := time.Unix(1000, 0)
	d := newDedupe(time.Minute)
	d.now = func() time.Time { return now }

	msg := channel.InboundEvent{Path: channel.PathMessage, ChannelID: "C1", TS: "1.1"}
	mention := msg
	mention.Path = channel.PathMention

	assert.True(t, d.firstTime(msg))
	assert.False(t, d.firstTime(msg))
	assert.True(t, d.firstTime(mention), "each delivery path is tracked separately")

	now = now.Add(2 * time.Minute)
	assert.True(t, d.firstTime(msg), "expired entries are forgotten")
	assert.Len(t, d.seen, 1)
}

func TestHandleEventsAPI(t *testing.T) {
	ch, col := newTestChannel(ModeHTTP)
	ev := slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		Data: &slackevents.EventsAPICallbackEvent{EventID: "Ev3"},
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Type: "message",
			Data: &slackevents.MessageEvent{User: "U1", Text: "hi", TimeStamp: "1.1", Channel: "C1"},
		},
	}

	ch.handleEventsAPI(context.Background(), ev)
	ch.handleEventsAPI(context.Background(), ev)

	got := col.all()
	require.Len(t, got, 1, "redelivered event must be dropped")
	assert.Equal(t, "Ev3", got[0].EventID)

	ch.handleEventsAPI(context.Background(), slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Type: "reaction_added", Data: &slackevents.ReactionAddedEvent{}},
	})
	assert.Len(t, col.all(), 1)
}

type fakeAcker struct {
	acked []string
}

func (f *fakeAcker) Ack(req socketmode.Request, _ ...interface{}) {
	f.acked = append(f.acked, req.EnvelopeID)
}

func TestHandleSocketEvent(t *testing.T) {
	ch, col := newTestChannel(ModeSocket)
	ack := &fakeAcker{}

	ch.handleSocketEvent(context.Background(), ack, socketmode.Event{
		Type:    socketmode.EventTypeEventsAPI,
		Request: &socketmode.Request{EnvelopeID: "env-1"},
		Data: slackevents.EventsAPIEvent{
			Type: slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{
				Type: "app_mention",
				Data: &slackevents.AppMentionEvent{User: "U1", Text: "<@UBOT> q", TimeStamp: "2.2", Channel: "C1"},
			},
		},
	})
	ch.handleSocketEvent(context.Background(), ack, socketmode.Event{Type: socketmode.EventTypeConnected})

	assert.Equal(t, []string{"env-1"}, ack.acked)
	got := col.all()
	require.Len(t, got, 1)
	assert.Equal(t, channel.PathMention, got[0].Path)
}

func signedRequest(t *testing.T, body string, secret string) *http.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + body))

	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func TestEventsHandler_URLVerification(t *testing.T) {
	ch, _ := newTestChannel(ModeHTTP)
	body := `{"token":"t","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P","type":"url_verification"}`

	rec := httptest.NewRecorder()
	ch.EventsHandler().ServeHTTP(rec, signedRequest(t, body, testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P", rec.Body.String())
}

func TestEventsHandler_CallbackDelivered(t *testing.T) {
	ch, col := newTestChannel(ModeHTTP)
	body := `{"token":"t","team_id":"T1","api_app_id":"A1","type":"event_callback","event_id":"Ev9","event_time":1,` +
		`"event":{"type":"app_mention","user":"U1","text":"<@UBOT> hi","ts":"100.1","channel":"C1","event_ts":"100.1"}}`

	rec := httptest.NewRecorder()
	ch.EventsHandler().ServeHTTP(rec, signedRequest(t, body, testSecret))

	assert.Equal(t, http.StatusOK, rec.Code)
	got := col.all()
	require.Len(t, got, 1)
	assert.Equal(t, "Ev9", got[0].EventID)
	assert.Equal(t, "<@UBOT> hi", got[0].Text)
}

func TestEventsHandler_RejectsBadSignature(t *testing.T) {
	ch, col := newTestChannel(ModeHTTP)
	body := `{"type":"url_verification","challenge":"x"}`

	rec := httptest.NewRecorder()
	ch.EventsHandler().ServeHTTP(rec, signedRequest(t, body, "wrong-secret"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	rec = httptest.NewRecorder()
	ch.EventsHandler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, col.all())
}

func TestEventsHandler_MethodNotAllowed(t *testing.T) {
	ch, _ := newTestChannel(ModeHTTP)
	rec := httptest.NewRecorder()
	ch.EventsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slack/events", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChannel_StartWithConfiguredIdentity(t *testing.T) {
	ch, _ := newTestChannel(ModeHTTP)
	require.NoError(t, ch.Start(context.Background()))
	assert.Equal(t, "UBOT", ch.Identity().UserID)
	assert.NoError(t, ch.Stop(context.Background()))
	assert.Equal(t, channel.ChannelTypeSlack, ch.ID())
}

func TestChannel_SocketModeNeedsAppToken(t *testing.T) {
	ch, _ := newTestChannel(ModeSocket)
	assert.ErrorIs(t, ch.Start(context.Background()), ErrMissingAppToken)
}
