package admission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convbridge/internal/conversation"
	"convbridge/pkg/channel"
)

type fakeInspector struct {
	state conversation.ThreadState
	err   error
	calls int
}

func (f *fakeInspector) Inspect(_ context.Context, _, _ string) (conversation.ThreadState, error) {
	f.calls++
	return f.state, f.err
}

var bot = channel.BotIdentity{UserID: "UBOT", BotID: "BBOT"}

func newClassifier(monitored string, insp ThreadInspector) *Classifier {
	return New(Config{Bot: bot, MonitoredChannel: monitored}, insp, nil)
}

func msg(text string) channel.InboundEvent {
	return channel.InboundEvent{
		Path:      channel.PathMessage,
		ChannelID: "C1",
		ChatType:  channel.ChatTypeChannel,
		UserID:    "UHUMAN",
		Text:      text,
		TS:        "200.1",
	}
}

func TestClassify_FilteredAuthors(t *testing.T) {
	c := newClassifier("", &fakeInspector{})

	tests := []struct {
		name   string
		mutate func(*channel.InboundEvent)
		reason string
	}{
		{"bot flag", func(e *channel.InboundEvent) { e.IsBot = true }, ReasonBotAuthor},
		{"own user id", func(e *channel.InboundEvent) { e.UserID = "UBOT" }, ReasonBotAuthor},
		{"other bot mentioning us", func(e *channel.InboundEvent) {
			e.Path = channel.PathMention
			e.UserID = "UOTHERBOT"
			e.IsBot = true
		}, ReasonBotAuthor},
		{"system assistant", func(e *channel.InboundEvent) { e.UserID = DefaultSystemUserID }, ReasonSystemAuthor},
		{"edited subtype", func(e *channel.InboundEvent) { e.Subtype = "message_changed" }, ReasonSubtype},
		{"join subtype on mention path", func(e *channel.InboundEvent) {
			e.Path = channel.PathMention
			e.Subtype = "channel_join"
		}, ReasonSubtype},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := msg("<@UBOT> hello")
			tt.mutate(&ev)
			d := c.Classify(context.Background(), ev)
			assert.Equal(t, Ignore, d.Verdict)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestClassify_BroadcastReplyIsAdmissible(t *testing.T) {
	insp := &fakeInspector{state: conversation.ThreadState{IsThread: true, HasPriorBotReply: true}}
	c := newClassifier("", insp)

	ev := msg("also sent to channel")
	ev.Subtype = DefaultBroadcastSubtype
	ev.ThreadTS = "100.1"

	d := c.Classify(context.Background(), ev)
	assert.Equal(t, Respond, d.Verdict)
	assert.Equal(t, ReasonActiveThread, d.Reason)
}

func TestClassify_DirectMessages(t *testing.T) {
	for _, ct := range []channel.ChatType{channel.ChatTypeDirect, channel.ChatTypeMulti} {
		t.Run(string(ct), func(t *testing.T) {
			ev := msg("hello?")
			ev.ChannelID = "D9"
			ev.ChatType = ct

			d := newClassifier("C1", &fakeInspector{}).Classify(context.Background(), ev)
			assert.Equal(t, Redirect, d.Verdict)

			// Without a monitored channel there is nothing to redirect to.
			d = newClassifier("", &fakeInspector{}).Classify(context.Background(), ev)
			assert.Equal(t, Ignore, d.Verdict)
			assert.Equal(t, ReasonRootWithoutMention, d.Reason)
		})
	}
}

func TestClassify_UnmonitoredChannel(t *testing.T) {
	ev := msg("hello")
	ev.Path = channel.PathMention
	ev.ChannelID = "C2"

	d := newClassifier("C1", &fakeInspector{}).Classify(context.Background(), ev)
	assert.Equal(t, Ignore, d.Verdict)
	assert.Equal(t, ReasonUnmonitored, d.Reason)

	d = newClassifier("", &fakeInspector{}).Classify(context.Background(), ev)
	assert.Equal(t, Respond, d.Verdict, "no monitored channel means no restriction")
}

func TestClassify_AsideIsIgnored(t *testing.T) {
	insp := &fakeInspector{state: conversation.ThreadState{HasPriorBotReply: true}}
	c := newClassifier("C1", insp)

	d := c.Classify(context.Background(), msg("side note: ignore me"))
	assert.Equal(t, Ignore, d.Verdict)
	assert.Equal(t, ReasonAside, d.Reason)

	reply := msg("<@UOTHER> Sidenote, lunch at noon")
	reply.ThreadTS = "100.1"
	d = c.Classify(context.Background(), reply)
	assert.Equal(t, Ignore, d.Verdict)
	assert.Equal(t, ReasonAside, d.Reason)
	assert.Zero(t, insp.calls, "aside must short-circuit before history is read")
}

func TestClassify_RootMessages(t *testing.T) {
	insp := &fakeInspector{}
	c := newClassifier("C1", insp)

	// Root message, no mention: ignored.
	d := c.Classify(context.Background(), msg("hello"))
	assert.Equal(t, Ignore, d.Verdict)
	assert.Equal(t, ReasonRootWithoutMention, d.Reason)

	// Root message with a mention on the generic path: left to the mention path.
	d = c.Classify(context.Background(), msg("<@UBOT> hello"))
	assert.Equal(t, Ignore, d.Verdict)
	assert.Equal(t, ReasonMentionViaMessage, d.Reason)

	// Same message via the mention path: respond with the stripped text.
	ev := msg("<@UBOT> hello")
	ev.Path = channel.PathMention
	d = c.Classify(context.Background(), ev)
	assert.Equal(t, Respond, d.Verdict)
	assert.Equal(t, ReasonMention, d.Reason)
	assert.Equal(t, "hello", d.Text)
	assert.Nil(t, d.Hint)
	assert.Zero(t, insp.calls)
}

func TestClassify_MentionInsideThreadUsesMentionPathOnly(t *testing.T) {
	insp := &fakeInspector{state: conversation.ThreadState{HasPriorBotReply: true, ConversationID: "abc-123"}}
	c := newClassifier("C1", insp)

	ev := msg("thanks <@UBOT|bot>, one more thing")
	ev.ThreadTS = "100.1"
	d := c.Classify(context.Background(), ev)
	assert.Equal(t, Ignore, d.Verdict)
	assert.Equal(t, ReasonMentionViaMessage, d.Reason)

	ev.Path = channel.PathMention
	d = c.Classify(context.Background(), ev)
	assert.Equal(t, Respond, d.Verdict)
	assert.Equal(t, "thanks <@UBOT|bot>, one more thing", d.Text)
}

func TestClassify_ThreadReplies(t *testing.T) {
	t.Run("active thread", func(t *testing.T) {
		insp := &fakeInspector{state: conversation.ThreadState{IsThread: true, HasPriorBotReply: true, ConversationID: "abc-123"}}
		ev := msg("<@UOTHER> follow-up question")
		ev.ThreadTS = "100.1"

		d := newClassifier("C1", insp).Classify(context.Background(), ev)
		assert.Equal(t, Respond, d.Verdict)
		assert.Equal(t, ReasonActiveThread, d.Reason)
		assert.Equal(t, "follow-up question", d.Text)
		require.NotNil(t, d.Hint)
		assert.Equal(t, "abc-123", d.Hint.ConversationID)
	})

	t.Run("thread without bot", func(t *testing.T) {
		insp := &fakeInspector{state: conversation.ThreadState{IsThread: true}}
		ev := msg("humans chatting")
		ev.ThreadTS = "100.1"

		d := newClassifier("C1", insp).Classify(context.Background(), ev)
		assert.Equal(t, Ignore, d.Verdict)
		assert.Equal(t, ReasonInactiveThread, d.Reason)
	})

	t.Run("history unavailable", func(t *testing.T) {
		insp := &fakeInspector{err: errors.New("ratelimited")}
		ev := msg("anyone?")
		ev.ThreadTS = "100.1"

		d := newClassifier("C1", insp).Classify(context.Background(), ev)
		assert.Equal(t, Ignore, d.Verdict)
		assert.Equal(t, ReasonHistoryUnavailable, d.Reason)
	})

	t.Run("thread parent is a root message", func(t *testing.T) {
		insp := &fakeInspector{state: conversation.ThreadState{HasPriorBotReply: true}}
		ev := msg("parent")
		ev.ThreadTS = ev.TS

		d := newClassifier("C1", insp).Classify(context.Background(), ev)
		assert.Equal(t, ReasonRootWithoutMention, d.Reason)
		assert.Zero(t, insp.calls)
	})
}

func TestClassify_EmptyTextAfterStrip(t *testing.T) {
	ev := msg("<@UBOT>")
	ev.Path = channel.PathMention
	d := newClassifier("C1", &fakeInspector{}).Classify(context.Background(), ev)
	assert.Equal(t, Ignore, d.Verdict)
	assert.Equal(t, ReasonEmptyText, d.Reason)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "ignore", Ignore.String())
	assert.Equal(t, "respond", Respond.String())
	assert.Equal(t, "redirect", Redirect.String())
}
