package slackbot

import (
	"github.com/slack-go/slack"

	"convbridge/pkg/channel"
)

// buildBlocks renders reply as mrkdwn sections. The first section carries
// reply.BlockID; long text spills into further untagged sections.
func buildBlocks(reply channel.OutboundReply) []slack.Block {
	chunks := splitText(reply.Text, maxSectionText)
	blocks := make([]slack.Block, 0, len(chunks))
	for i, chunk := range chunks {
		section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, chunk, false, false), nil, nil)
		if i == 0 {
			section.BlockID = reply.BlockID
		}
		blocks = append(blocks, section)
	}
	return blocks
}

func splitText(text string, max int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var out []string
	for len(runes) > max {
		out = append(out, string(runes[:max]))
		runes = runes[max:]
	}
	return append(out, string(runes))
}

// blockIDs lists the block_id of every block in msg, in order.
func blockIDs(msg slack.Message) []string {
	var ids []string
	for _, b := range msg.Blocks.BlockSet {
		if id := blockID(b); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func blockID(b slack.Block) string {
	switch v := b.(type) {
	case *slack.SectionBlock:
		return v.BlockID
	case *slack.RichTextBlock:
		return v.BlockID
	case *slack.ContextBlock:
		return v.BlockID
	case *slack.HeaderBlock:
		return v.BlockID
	case *slack.DividerBlock:
		return v.BlockID
	case *slack.ActionBlock:
		return v.BlockID
	case *slack.ImageBlock:
		return v.BlockID
	}
	if withID, ok := b.(interface{ ID() string }); ok {
		return withID.ID()
	}
	return ""
}

func toHistoryMessage(msg slack.Message) channel.HistoryMessage {
	return channel.HistoryMessage{
		UserID:   msg.User,
		BotID:    msg.BotID,
		TS:       msg.Timestamp,
		Text:     msg.Text,
		BlockIDs: blockIDs(msg),
	}
}
