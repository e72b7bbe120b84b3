package channel

import (
	"regexp"
	"strings"
)

var (
	// <@U123> or <@U123|display name> at the very start, then whitespace or end of text.
	leadingMentionRe = regexp.MustCompile(`^\s*<@[A-Za-z0-9]+(?:\|[^>]*)?>(?:\s+|$)`)
	// "side note", "sidenote", "side-note" in any case.
	asideRe = regexp.MustCompile(`(?i)^side[ \t-]?note`)
)

// TriggerResult 触发检测结果
type TriggerResult struct {
	StrippedContent string // 去除开头提及后的内容
	Aside           bool   // 作者显式声明为旁白
	MentionsBot     bool   // 原文中提及了机器人
}

// CheckTrigger strips a leading mention from text and reports the aside
// marker and whether botUserID is mentioned anywhere in the original text.
func CheckTrigger(text, botUserID string) TriggerResult {
	stripped := StripMention(text)
	return TriggerResult{
		StrippedContent: stripped,
		Aside:           IsAside(stripped),
		MentionsBot:     MentionsUser(text, botUserID),
	}
}

// StripMention removes one leading mention token and trims the rest.
func StripMention(text string) string {
	if loc := leadingMentionRe.FindStringIndex(text); loc != nil {
		text = text[loc[1]:]
	}
	return strings.TrimSpace(text)
}

// IsAside reports whether text opens with an explicit side-note marker.
func IsAside(text string) bool {
	return asideRe.MatchString(strings.TrimSpace(text))
}

// MentionsUser reports whether text contains a mention token for userID.
func MentionsUser(text, userID string) bool {
	if userID == "" {
		return false
	}
	return strings.Contains(text, "<@"+userID+">") || strings.Contains(text, "<@"+userID+"|")
}
