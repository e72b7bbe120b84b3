package slackbot

import (
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack/slackevents"

	"convbridge/pkg/channel"
)

// fromMessageEvent normalizes a generic message delivery.
func fromMessageEvent(eventID string, ev *slackevents.MessageEvent) channel.InboundEvent {
	return channel.InboundEvent{
		Path:      channel.PathMessage,
		EventID:   eventID,
		ChannelID: ev.Channel,
		ChatType:  chatType(ev.ChannelType, ev.Channel),
		UserID:    ev.User,
		Text:      ev.Text,
		TS:        ev.TimeStamp,
		ThreadTS:  ev.ThreadTimeStamp,
		Subtype:   ev.SubType,
		IsBot:     ev.BotID != "",
	}
}

// fromAppMention normalizes a dedicated mention delivery. Mentions carry no
// channel type, so it is inferred from the channel id.
func fromAppMention(eventID string, ev *slackevents.AppMentionEvent) channel.InboundEvent {
	return channel.InboundEvent{
		Path:      channel.PathMention,
		EventID:   eventID,
		ChannelID: ev.Channel,
		ChatType:  chatType("", ev.Channel),
		UserID:    ev.User,
		Text:      ev.Text,
		TS:        ev.TimeStamp,
		ThreadTS:  ev.ThreadTimeStamp,
		IsBot:     ev.BotID != "",
	}
}

func chatType(declared, channelID string) channel.ChatType {
	switch declared {
	case "im":
		return channel.ChatTypeDirect
	case "mpim":
		return channel.ChatTypeMulti
	case "group":
		return channel.ChatTypeGroup
	case "channel":
		return channel.ChatTypeChannel
	}
	switch {
	case strings.HasPrefix(channelID, "D"):
		return channel.ChatTypeDirect
	case strings.HasPrefix(channelID, "G"):
		return channel.ChatTypeGroup
	default:
		return channel.ChatTypeChannel
	}
}

// dedupe remembers recently delivered events. Slack redelivers when an ack
// is late; the same message also arrives once per subscribed event type, so
// the path is part of the key.
type dedupe struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newDedupe(ttl time.Duration) *dedupe {
	return &dedupe{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

func dedupeKey(ev channel.InboundEvent) string {
	return string(ev.Path) + ":" + ev.ChannelID + ":" + ev.TS
}

// firstTime records ev and reports whether it had not been seen within the TTL.
func (d *dedupe) firstTime(ev channel.InboundEvent) bool {
	key := dedupeKey(ev)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return false
	}
	d.seen[key] = now

	// 清理过期记录
	for k, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, k)
		}
	}
	return true
}
