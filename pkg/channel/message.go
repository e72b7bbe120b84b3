package channel

import "strings"

// EventPath 入站事件的投递路径
type EventPath string

const (
	// PathMessage is the generic "new message" delivery.
	PathMessage EventPath = "message"
	// PathMention is the platform's dedicated "bot was mentioned" delivery.
	PathMention EventPath = "mention"
)

// ChatType 会话类型
type ChatType string

const (
	ChatTypeChannel ChatType = "channel"
	ChatTypeGroup   ChatType = "group"
	ChatTypeDirect  ChatType = "im"
	ChatTypeMulti   ChatType = "mpim"
)

// InboundEvent 统一后的入站事件
//
// Both platform entry points are normalized into this shape at the adapter
// boundary so admission is decided in exactly one place.
type InboundEvent struct {
	Path      EventPath `json:"path"`
	EventID   string    `json:"eventId,omitempty"`
	ChannelID string    `json:"channelId"`
	ChatType  ChatType  `json:"chatType,omitempty"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	TS        string    `json:"ts"`
	ThreadTS  string    `json:"threadTs,omitempty"`
	Subtype   string    `json:"subtype,omitempty"`
	IsBot     bool      `json:"isBot"`
}

// IsThreadReply reports whether the event sits inside a thread it did not start.
func (e InboundEvent) IsThreadReply() bool {
	return e.ThreadTS != "" && e.ThreadTS != e.TS
}

// ThreadAnchor returns the timestamp replies to this event should be threaded under.
func (e InboundEvent) ThreadAnchor() string {
	if e.ThreadTS != "" {
		return e.ThreadTS
	}
	return e.TS
}

// IsDirect reports whether the event came from a 1:1 or multi-party direct conversation.
func (e InboundEvent) IsDirect() bool {
	return e.ChatType == ChatTypeDirect || e.ChatType == ChatTypeMulti
}

// HistoryMessage 线程历史中的一条消息
type HistoryMessage struct {
	UserID   string   `json:"userId,omitempty"`
	BotID    string   `json:"botId,omitempty"`
	TS       string   `json:"ts"`
	Text     string   `json:"text"`
	BlockIDs []string `json:"blockIds,omitempty"`
}

// AuthoredBy reports whether the message was posted by the given bot identity.
// Either the bot user id or the bot id may match.
func (m HistoryMessage) AuthoredBy(bot BotIdentity) bool {
	if bot.UserID != "" && strings.EqualFold(m.UserID, bot.UserID) {
		return true
	}
	return bot.BotID != "" && strings.EqualFold(m.BotID, bot.BotID)
}

// BotIdentity 机器人身份
type BotIdentity struct {
	UserID string `json:"userId"`
	BotID  string `json:"botId,omitempty"`
}

// OutboundReply 出站回复，携带隐藏的会话标识
type OutboundReply struct {
	Text           string `json:"text"`
	ThreadTS       string `json:"threadTs,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	// BlockID is the machine-readable identifier of the single structural
	// element carrying Text. Empty means a plain text message.
	BlockID string `json:"blockId,omitempty"`
}
