package slackbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"convbridge/pkg/channel"
	"convbridge/pkg/logger"
)

// API wraps the Slack Web API calls the bridge needs. Every call waits on a
// shared token bucket; a rate-limited response is retried once after the
// server-provided delay.
type API struct {
	client  *slack.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewAPI creates an API client. The app-level token is only attached when set.
func NewAPI(cfg Config) *API {
	cfg.applyDefaults()
	opts := []slack.Option{
		slack.OptionHTTPClient(cfg.HTTPClient),
		slack.OptionAPIURL(strings.TrimRight(cfg.APIURL, "/") + "/"),
		slack.OptionDebug(cfg.Debug),
	}
	if cfg.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.AppToken))
	}
	return &API{
		client:  slack.New(cfg.BotToken, opts...),
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		log:     logger.Component("slack"),
	}
}

// Client exposes the underlying slack-go client.
func (a *API) Client() *slack.Client {
	return a.client
}

// call runs fn under the rate limiter.
func (a *API) call(ctx context.Context, method string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slack.RateLimitedError
		if attempt == 1 && errors.As(err, &rle) {
			a.log.Warn().
				Str("method", method).
				Dur("retry_after", rle.RetryAfter).
				Msg("slack rate limited, retrying")
			if err := sleepCtx(ctx, rle.RetryAfter); err != nil {
				return fmt.Errorf("%s: %w", method, err)
			}
			continue
		}
		return fmt.Errorf("%s: %w", method, err)
	}
}

// AuthTest resolves the bot's own user and bot ids.
func (a *API) AuthTest(ctx context.Context) (channel.BotIdentity, error) {
	var resp *slack.AuthTestResponse
	err := a.call(ctx, "auth.test", func() error {
		var err error
		resp, err = a.client.AuthTestContext(ctx)
		return err
	})
	if err != nil {
		return channel.BotIdentity{}, err
	}
	return channel.BotIdentity{UserID: resp.UserID, BotID: resp.BotID}, nil
}

// PostMessage implements channel.Messenger.
func (a *API) PostMessage(ctx context.Context, channelID string, reply channel.OutboundReply) (string, error) {
	opts := messageOptions(reply)
	if reply.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(reply.ThreadTS))
	}

	var ts string
	err := a.call(ctx, "chat.postMessage", func() error {
		var err error
		_, ts, err = a.client.PostMessageContext(ctx, channelID, opts...)
		return err
	})
	return ts, err
}

// UpdateMessage implements channel.Messenger.
func (a *API) UpdateMessage(ctx context.Context, channelID, ts string, reply channel.OutboundReply) error {
	opts := messageOptions(reply)
	return a.call(ctx, "chat.update", func() error {
		_, _, _, err := a.client.UpdateMessageContext(ctx, channelID, ts, opts...)
		return err
	})
}

// DeleteMessage implements channel.Messenger.
func (a *API) DeleteMessage(ctx context.Context, channelID, ts string) error {
	return a.call(ctx, "chat.delete", func() error {
		_, _, err := a.client.DeleteMessageContext(ctx, channelID, ts)
		return err
	})
}

// FetchThread implements channel.HistoryFetcher. conversations.replies only
// pages oldest to newest, so every page is read and only the raw tail of
// limit messages is kept; messages are normalized once the cursor runs out.
func (a *API) FetchThread(ctx context.Context, channelID, threadTS string, limit int) ([]channel.HistoryMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	params := &slack.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadTS,
		Limit:     repliesPageSize,
	}

	var (
		tail  []slack.Message
		pages int
	)
	for {
		var (
			msgs    []slack.Message
			hasMore bool
			next    string
		)
		err := a.call(ctx, "conversations.replies", func() error {
			var err error
			msgs, hasMore, next, err = a.client.GetConversationRepliesContext(ctx, params)
			return err
		})
		if err != nil {
			return nil, err
		}
		pages++

		tail = append(tail, msgs...)
		if len(tail) > limit {
			tail = append(tail[:0:0], tail[len(tail)-limit:]...)
		}
		if !hasMore || next == "" {
			break
		}
		params.Cursor = next
	}

	if pages > 1 {
		a.log.Debug().
			Str("channel", channelID).
			Str("thread_ts", threadTS).
			Int("pages", pages).
			Msg("read long thread")
	}

	window := make([]channel.HistoryMessage, 0, len(tail))
	for _, m := range tail {
		window = append(window, toHistoryMessage(m))
	}
	return window, nil
}

func messageOptions(reply channel.OutboundReply) []slack.MsgOption {
	opts := []slack.MsgOption{slack.MsgOptionText(reply.Text, false)}
	if blocks := buildBlocks(reply); len(blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(blocks...))
	}
	return opts
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
