// Package channel defines the platform-neutral shapes shared by the
// messaging adapters and the conversation core.
package channel

import "context"

// ChannelType 渠道类型
type ChannelType string

const (
	ChannelTypeSlack ChannelType = "slack"
)

// Messenger is the outbound surface of a messaging platform.
type Messenger interface {
	// PostMessage posts reply and returns the new message timestamp.
	PostMessage(ctx context.Context, channelID string, reply OutboundReply) (string, error)

	// UpdateMessage edits the message at ts in place.
	UpdateMessage(ctx context.Context, channelID, ts string, reply OutboundReply) error

	// DeleteMessage removes the message at ts.
	DeleteMessage(ctx context.Context, channelID, ts string) error
}

// HistoryFetcher reads a thread's replies, oldest first, capped at limit.
type HistoryFetcher interface {
	FetchThread(ctx context.Context, channelID, threadTS string, limit int) ([]HistoryMessage, error)
}

// Platform 消息平台
type Platform interface {
	Messenger
	HistoryFetcher

	// Identity returns the bot's own identity on the platform.
	Identity() BotIdentity
}

// ChannelPlugin 渠道插件接口
type ChannelPlugin interface {
	Platform

	// ID 返回渠道唯一标识
	ID() ChannelType

	// Name 返回渠道显示名称
	Name() string

	// Start 启动渠道监听
	Start(ctx context.Context) error

	// Stop 停止渠道监听
	Stop(ctx context.Context) error

	// OnEvent 注册事件回调
	OnEvent(handler EventHandler)
}

// EventHandler 事件处理回调
type EventHandler func(ctx context.Context, event InboundEvent)
