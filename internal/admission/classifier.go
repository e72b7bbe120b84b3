// Package admission decides whether an inbound event is a conversational turn
// the bot must answer.
package admission

import (
	"context"

	"github.com/rs/zerolog"

	"convbridge/internal/conversation"
	"convbridge/internal/metrics"
	"convbridge/pkg/channel"
	"convbridge/pkg/logger"
)

// Platform defaults for Slack.
const (
	DefaultSystemUserID     = "USLACKBOT"
	DefaultBroadcastSubtype = "thread_broadcast"
)

// Verdict is the outcome of admission.
type Verdict int

const (
	Ignore Verdict = iota
	Respond
	Redirect
)

func (v Verdict) String() string {
	switch v {
	case Respond:
		return "respond"
	case Redirect:
		return "redirect"
	default:
		return "ignore"
	}
}

// Reasons attached to decisions. They double as metric labels.
const (
	ReasonBotAuthor          = "bot_author"
	ReasonSystemAuthor       = "system_author"
	ReasonSubtype            = "subtype"
	ReasonDirectMessage      = "direct_message"
	ReasonUnmonitored        = "unmonitored_channel"
	ReasonEmptyText          = "empty_text"
	ReasonAside              = "aside"
	ReasonMentionViaMessage  = "mention_via_message_path"
	ReasonMention            = "mention"
	ReasonActiveThread       = "active_thread"
	ReasonInactiveThread     = "inactive_thread"
	ReasonHistoryUnavailable = "history_unavailable"
	ReasonRootWithoutMention = "root_without_mention"
)

// Decision is the classifier's answer for one event.
type Decision struct {
	Verdict Verdict
	Reason  string
	// Text is the event text with a leading mention removed.
	Text string
	// Hint carries the thread state when classification already replayed the
	// thread, so the turn does not fetch it again.
	Hint *conversation.ThreadState
}

// ThreadInspector derives a thread's state from platform history.
type ThreadInspector interface {
	Inspect(ctx context.Context, channelID, anchor string) (conversation.ThreadState, error)
}

// Config is fixed at construction.
type Config struct {
	Bot channel.BotIdentity
	// MonitoredChannel restricts the bot to one channel. Empty means no restriction.
	MonitoredChannel string
	SystemUserID     string
	BroadcastSubtype string
}

// Classifier applies the admission rules in order; the first match wins.
type Classifier struct {
	cfg       Config
	inspector ThreadInspector
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// New creates a Classifier.
func New(cfg Config, inspector ThreadInspector, m *metrics.Metrics) *Classifier {
	if cfg.SystemUserID == "" {
		cfg.SystemUserID = DefaultSystemUserID
	}
	if cfg.BroadcastSubtype == "" {
		cfg.BroadcastSubtype = DefaultBroadcastSubtype
	}
	return &Classifier{
		cfg:       cfg,
		inspector: inspector,
		metrics:   m,
		log:       logger.Component("admission"),
	}
}

// Config returns the classifier's configuration.
func (c *Classifier) Config() Config {
	return c.cfg
}

// Classify decides what to do with ev.
func (c *Classifier) Classify(ctx context.Context, ev channel.InboundEvent) Decision {
	d := c.classify(ctx, ev)
	c.metrics.Admission(string(ev.Path), d.Verdict.String(), d.Reason)
	c.log.Debug().
		Str("path", string(ev.Path)).
		Str("channel", ev.ChannelID).
		Str("ts", ev.TS).
		Str("thread_ts", ev.ThreadTS).
		Str("verdict", d.Verdict.String()).
		Str("reason", d.Reason).
		Msg("admission decided")
	return d
}

func (c *Classifier) classify(ctx context.Context, ev channel.InboundEvent) Decision {
	switch {
	case ev.IsBot || (c.cfg.Bot.UserID != "" && ev.UserID == c.cfg.Bot.UserID):
		return ignore(ReasonBotAuthor)
	case ev.UserID == c.cfg.SystemUserID:
		return ignore(ReasonSystemAuthor)
	case ev.Subtype != "" && ev.Subtype != c.cfg.BroadcastSubtype:
		return ignore(ReasonSubtype)
	}

	monitored := c.cfg.MonitoredChannel
	if monitored != "" && ev.IsDirect() {
		return Decision{Verdict: Redirect, Reason: ReasonDirectMessage}
	}
	if monitored != "" && ev.ChannelID != monitored {
		return ignore(ReasonUnmonitored)
	}

	trig := channel.CheckTrigger(ev.Text, c.cfg.Bot.UserID)
	if trig.StrippedContent == "" {
		return ignore(ReasonEmptyText)
	}

	if ev.Path == channel.PathMention {
		return Decision{Verdict: Respond, Reason: ReasonMention, Text: trig.StrippedContent}
	}

	if trig.Aside {
		return ignore(ReasonAside)
	}
	if trig.MentionsBot {
		return ignore(ReasonMentionViaMessage)
	}

	if !ev.IsThreadReply() {
		return ignore(ReasonRootWithoutMention)
	}

	state, err := c.inspector.Inspect(ctx, ev.ChannelID, ev.ThreadTS)
	if err != nil {
		c.log.Warn().Err(err).
			Str("channel", ev.ChannelID).
			Str("thread_ts", ev.ThreadTS).
			Msg("cannot tell whether thread is active")
		return ignore(ReasonHistoryUnavailable)
	}
	if !state.HasPriorBotReply {
		return ignore(ReasonInactiveThread)
	}
	return Decision{
		Verdict: Respond,
		Reason:  ReasonActiveThread,
		Text:    trig.StrippedContent,
		Hint:    &state,
	}
}

func ignore(reason string) Decision {
	return Decision{Verdict: Ignore, Reason: reason}
}
