package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convbridge/pkg/channel"
)

var testBot = channel.BotIdentity{UserID: "UBOT", BotID: "BBOT"}

type fakeFetcher struct {
	msgs      []channel.HistoryMessage
	err       error
	calls     int
	lastLimit int
}

func (f *fakeFetcher) FetchThread(_ context.Context, _, _ string, limit int) ([]channel.HistoryMessage, error) {
	f.calls++
	f.lastLimit = limit
	return f.msgs, f.err
}

// asReceived mimics what the platform hands back for a reply we posted.
func asReceived(reply channel.OutboundReply) channel.HistoryMessage {
	msg := channel.HistoryMessage{UserID: testBot.UserID, Text: reply.Text}
	if reply.BlockID != "" {
		msg.BlockIDs = []string{reply.BlockID}
	}
	return msg
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ids := []string{"abc-123", NewID(), "x", "0f3c_with_underscores"}
	texts := []string{"", "hello", "multi\nline *markdown* conv_not_an_id"}

	for _, id := range ids {
		for _, text := range texts {
			reply := Encode(text, "100.1", id)
			assert.Equal(t, text, reply.Text)
			assert.Equal(t, id, reply.ConversationID)
			assert.NotContains(t, reply.Text, BlockIDPrefix+id)

			got, ok := Decode(asReceived(reply))
			require.True(t, ok)
			assert.Equal(t, id, got)
		}
	}
}

func TestEncodeWithoutID(t *testing.T) {
	reply := Encode("hi", "", "")
	assert.Empty(t, reply.BlockID)
	_, ok := Decode(asReceived(reply))
	assert.False(t, ok)
}

func TestDecodeFirstTaggedBlockWins(t *testing.T) {
	msg := channel.HistoryMessage{BlockIDs: []string{"header", "conv_first", "conv_second"}}
	id, ok := Decode(msg)
	require.True(t, ok)
	assert.Equal(t, "first", id)

	// An empty first tag is not skipped in favour of a later one.
	_, ok = Decode(channel.HistoryMessage{BlockIDs: []string{"header", "conv_", "conv_later"}})
	assert.False(t, ok)

	_, ok = Decode(channel.HistoryMessage{BlockIDs: []string{"abc", "xyz"}})
	assert.False(t, ok)
}

func TestNewIDIsUUID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestInspect_NoPriorBotMessage(t *testing.T) {
	f := &fakeFetcher{msgs: []channel.HistoryMessage{
		{UserID: "UHUMAN", TS: "100.1", Text: "root"},
		{UserID: "UOTHER", TS: "100.2", BlockIDs: []string{"conv_not-ours"}},
	}}
	l := NewLocator(LocatorConfig{Fetcher: f, Bot: testBot})

	state, err := l.Inspect(context.Background(), "C1", "100.1")
	require.NoError(t, err)
	assert.True(t, state.IsThread)
	assert.False(t, state.HasPriorBotReply)
	assert.False(t, state.Located())

	id, ok := l.Locate(context.Background(), "C1", "100.1")
	assert.False(t, ok)
	assert.Empty(t, id)
	assert.Equal(t, DefaultHistoryLimit, f.lastLimit)
}

func TestInspect_MostRecentBotIDWins(t *testing.T) {
	f := &fakeFetcher{msgs: []channel.HistoryMessage{
		{UserID: "UHUMAN", TS: "100.1"},
		{UserID: "UBOT", TS: "100.2", BlockIDs: []string{"conv_old"}},
		{UserID: "UHUMAN", TS: "100.3"},
		{BotID: "BBOT", TS: "100.4", BlockIDs: []string{"conv_abc-123"}},
		{UserID: "UHUMAN", TS: "100.5"},
	}}
	l := NewLocator(LocatorConfig{Fetcher: f, Bot: testBot})

	id, ok := l.Locate(context.Background(), "C1", "100.1")
	require.True(t, ok)
	assert.Equal(t, "abc-123", id)
}

func TestInspect_SkipsBotMessagesWithoutID(t *testing.T) {
	f := &fakeFetcher{msgs: []channel.HistoryMessage{
		{UserID: "UBOT", TS: "100.2", BlockIDs: []string{"conv_abc-123"}},
		{UserID: "UBOT", TS: "100.3", Text: "Thinking..."},
	}}
	l := NewLocator(LocatorConfig{Fetcher: f, Bot: testBot})

	state, err := l.Inspect(context.Background(), "C1", "100.1")
	require.NoError(t, err)
	assert.True(t, state.HasPriorBotReply)
	assert.Equal(t, "abc-123", state.ConversationID)
}

func TestInspect_BotMessageWithoutAnyID(t *testing.T) {
	f := &fakeFetcher{msgs: []channel.HistoryMessage{{UserID: "UBOT", TS: "100.2", Text: "plain"}}}
	l := NewLocator(LocatorConfig{Fetcher: f, Bot: testBot})

	state, err := l.Inspect(context.Background(), "C1", "100.1")
	require.NoError(t, err)
	assert.True(t, state.HasPriorBotReply)
	assert.False(t, state.Located())
}

func TestInspect_WindowIsBounded(t *testing.T) {
	msgs := []channel.HistoryMessage{{UserID: "UBOT", TS: "1", BlockIDs: []string{"conv_too-old"}}}
	for i := 0; i < 5; i++ {
		msgs = append(msgs, channel.HistoryMessage{UserID: "UHUMAN"})
	}
	f := &fakeFetcher{msgs: msgs}
	l := NewLocator(LocatorConfig{Fetcher: f, Bot: testBot, Limit: 5})

	_, ok := l.Locate(context.Background(), "C1", "1")
	assert.False(t, ok, "messages beyond the window must not be consulted")
	assert.Equal(t, 5, f.lastLimit)
}

func TestLocate_FetchFailureMeansNewConversation(t *testing.T) {
	f := &fakeFetcher{err: errors.New("channel_not_found")}
	l := NewLocator(LocatorConfig{Fetcher: f, Bot: testBot})

	_, err := l.Inspect(context.Background(), "C1", "100.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel_not_found")

	id, ok := l.Locate(context.Background(), "C1", "100.1")
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestInspect_RootMessageSkipsFetch(t *testing.T) {
	f := &fakeFetcher{}
	l := NewLocator(LocatorConfig{Fetcher: f, Bot: testBot})

	state, err := l.Inspect(context.Background(), "C1", "")
	require.NoError(t, err)
	assert.True(t, state.IsRootMessage)
	assert.Zero(t, f.calls)
}
