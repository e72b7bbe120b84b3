package conversation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"convbridge/internal/metrics"
	"convbridge/pkg/channel"
	"convbridge/pkg/logger"
)

// DefaultHistoryLimit bounds how many thread replies are replayed per lookup.
const DefaultHistoryLimit = 50

// ThreadState is what a replay of the thread tells us. It is derived on every
// turn and never stored.
type ThreadState struct {
	IsThread         bool
	IsRootMessage    bool
	HasPriorBotReply bool
	ConversationID   string
}

// Located reports whether a conversation id was recovered.
func (s ThreadState) Located() bool {
	return s.ConversationID != ""
}

// LocatorConfig configures a Locator.
type LocatorConfig struct {
	Fetcher channel.HistoryFetcher
	Bot     channel.BotIdentity
	Limit   int
	Metrics *metrics.Metrics
}

// Locator replays thread history to find the conversation a reply belongs to.
type Locator struct {
	fetcher channel.HistoryFetcher
	bot     channel.BotIdentity
	limit   int
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewLocator creates a Locator. A non-positive limit means DefaultHistoryLimit.
func NewLocator(cfg LocatorConfig) *Locator {
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Locator{
		fetcher: cfg.Fetcher,
		bot:     cfg.Bot,
		limit:   limit,
		metrics: cfg.Metrics,
		log:     logger.Component("conversation"),
	}
}

// Inspect fetches the thread under anchor and derives its state. The scan
// runs newest to oldest; the first bot message with an embedded id wins.
func (l *Locator) Inspect(ctx context.Context, channelID, anchor string) (ThreadState, error) {
	state := ThreadState{IsThread: anchor != ""}
	if anchor == "" {
		state.IsRootMessage = true
		return state, nil
	}

	msgs, err := l.fetcher.FetchThread(ctx, channelID, anchor, l.limit)
	if err != nil {
		l.metrics.HistoryLookup("error")
		return state, fmt.Errorf("fetch thread %s/%s: %w", channelID, anchor, err)
	}
	if len(msgs) > l.limit {
		msgs = msgs[len(msgs)-l.limit:]
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if !msg.AuthoredBy(l.bot) {
			continue
		}
		state.HasPriorBotReply = true
		if id, ok := Decode(msg); ok {
			state.ConversationID = id
			break
		}
	}

	switch {
	case state.Located():
		l.metrics.HistoryLookup("found")
	case state.HasPriorBotReply:
		l.metrics.HistoryLookup("bot_without_id")
	default:
		l.metrics.HistoryLookup("not_found")
	}
	return state, nil
}

// Locate returns the conversation id recovered from the thread, if any.
// Fetch failures are logged and reported as "no conversation".
func (l *Locator) Locate(ctx context.Context, channelID, anchor string) (string, bool) {
	state, err := l.Inspect(ctx, channelID, anchor)
	if err != nil {
		l.log.Warn().Err(err).
			Str("channel", channelID).
			Str("thread_ts", anchor).
			Msg("history lookup failed, treating as new conversation")
		return "", false
	}
	return state.ConversationID, state.Located()
}
