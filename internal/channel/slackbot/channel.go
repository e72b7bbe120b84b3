package slackbot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"convbridge/pkg/channel"
	"convbridge/pkg/logger"
)

// ErrMissingAppToken is returned when socket mode is requested without an app-level token.
var ErrMissingAppToken = errors.New("socket mode requires an app-level token")

// Channel Slack 渠道实现
type Channel struct {
	*API

	config  Config
	handler channel.EventHandler
	bot     channel.BotIdentity
	dedupe  *dedupe
	mu      sync.RWMutex

	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
	log     zerolog.Logger
}

// New 创建新的 Slack 渠道
func New(cfg Config) *Channel {
	cfg.applyDefaults()
	return &Channel{
		API:    NewAPI(cfg),
		config: cfg,
		bot:    channel.BotIdentity{UserID: cfg.BotUserID},
		dedupe: newDedupe(dedupeTTL),
		log:    logger.Component("slack"),
	}
}

// ID 返回渠道唯一标识
func (c *Channel) ID() channel.ChannelType {
	return channel.ChannelTypeSlack
}

// Name 返回渠道显示名称
func (c *Channel) Name() string {
	return "Slack"
}

// Mode returns the configured transport mode.
func (c *Channel) Mode() string {
	return c.config.Mode
}

// Identity 返回机器人身份
func (c *Channel) Identity() channel.BotIdentity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bot
}

// ResolveIdentity asks auth.test for the bot identity unless a user id was configured.
func (c *Channel) ResolveIdentity(ctx context.Context) (channel.BotIdentity, error) {
	if bot := c.Identity(); bot.UserID != "" {
		return bot, nil
	}
	bot, err := c.AuthTest(ctx)
	if err != nil {
		return channel.BotIdentity{}, fmt.Errorf("resolve bot identity: %w", err)
	}
	c.mu.Lock()
	c.bot = bot
	c.mu.Unlock()
	c.log.Info().Str("user_id", bot.UserID).Str("bot_id", bot.BotID).Msg("slack identity resolved")
	return bot, nil
}

// OnEvent 注册事件回调
func (c *Channel) OnEvent(handler channel.EventHandler) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// Start 启动渠道监听
//
// In socket mode a websocket session is opened; in http mode events arrive
// through EventsHandler and Start only resolves the identity.
func (c *Channel) Start(ctx context.Context) error {
	if _, err := c.ResolveIdentity(ctx); err != nil {
		return err
	}
	if c.config.Mode != ModeSocket {
		c.log.Info().Str("mode", c.config.Mode).Msg("slack channel ready")
		return nil
	}
	if c.config.AppToken == "" {
		return ErrMissingAppToken
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	client := socketmode.New(c.Client(), socketmode.OptionDebug(c.config.Debug))
	go c.runSocket(runCtx, client)

	c.log.Info().Msg("slack socket mode started")
	return nil
}

// Stop 停止渠道监听
func (c *Channel) Stop(ctx context.Context) error {
	if c.stopped.Swap(true) || c.cancel == nil {
		return nil
	}
	c.cancel()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleEventsAPI normalizes a callback event and delivers it.
func (c *Channel) handleEventsAPI(ctx context.Context, ev slackevents.EventsAPIEvent) {
	if ev.Type != slackevents.CallbackEvent {
		return
	}
	eventID := ""
	if cb, ok := ev.Data.(*slackevents.EventsAPICallbackEvent); ok && cb != nil {
		eventID = cb.EventID
	}

	var in channel.InboundEvent
	switch e := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if e == nil {
			return
		}
		in = fromMessageEvent(eventID, e)
	case *slackevents.AppMentionEvent:
		if e == nil {
			return
		}
		in = fromAppMention(eventID, e)
	default:
		c.log.Debug().Str("type", ev.InnerEvent.Type).Msg("ignoring slack event")
		return
	}
	c.deliver(ctx, in)
}

func (c *Channel) deliver(ctx context.Context, ev channel.InboundEvent) {
	if !c.dedupe.firstTime(ev) {
		c.log.Debug().
			Str("path", string(ev.Path)).
			Str("channel", ev.ChannelID).
			Str("ts", ev.TS).
			Msg("skipping duplicate event")
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}
	handler(ctx, ev)
}

var _ channel.ChannelPlugin = (*Channel)(nil)
