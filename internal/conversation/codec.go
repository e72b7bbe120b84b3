// Package conversation carries a conversation id through a thread without a
// database: the id rides along in the block_id of the bot's own replies and is
// recovered later by replaying the thread.
package conversation

import (
	"strings"

	"github.com/google/uuid"

	"convbridge/pkg/channel"
)

// BlockIDPrefix tags the structural element that carries the conversation id.
const BlockIDPrefix = "conv_"

// IDGenerator mints new conversation ids.
type IDGenerator func() string

// NewID mints a random (v4) conversation id.
func NewID() string {
	return uuid.NewString()
}

// Encode builds the reply for text with id embedded in its single block.
// An empty id yields a plain reply without a block.
func Encode(text, threadTS, id string) channel.OutboundReply {
	reply := channel.OutboundReply{
		Text:     text,
		ThreadTS: threadTS,
	}
	if id != "" {
		reply.ConversationID = id
		reply.BlockID = BlockIDPrefix + id
	}
	return reply
}

// Decode returns the id carried by the first block id with the prefix. Only
// that block counts: a bare prefix there means the message carries no id.
func Decode(msg channel.HistoryMessage) (string, bool) {
	for _, blockID := range msg.BlockIDs {
		if !strings.HasPrefix(blockID, BlockIDPrefix) {
			continue
		}
		id := strings.TrimPrefix(blockID, BlockIDPrefix)
		return id, id != ""
	}
	return "", false
}
