package turn

import (
	"fmt"

	"convbridge/internal/backend"
)

// User-facing texts.
const (
	DefaultThinkingText = "Thinking..."

	apologyTimeout     = "Sorry, the answer service took too long to respond. Please try again in a moment."
	apologySaturated   = "Sorry, the answer service is busy right now. Please try again shortly."
	apologyUnavailable = "Sorry, the answer service is unavailable right now. Please try again later."
	apologyUnknown     = "Sorry, something went wrong while preparing an answer. Please try again."
	apologyDelivery    = "Sorry, I couldn't deliver my answer. Please try again."
)

// Apology renders the message shown when a turn fails with err.
func Apology(err error) string {
	switch backend.Classify(err) {
	case backend.KindTimeout:
		return apologyTimeout
	case backend.KindSaturated:
		return apologySaturated
	case backend.KindUnavailable:
		return apologyUnavailable
	default:
		return apologyUnknown
	}
}

// RedirectText points a direct-message author at the monitored channel.
func RedirectText(channelID string) string {
	return fmt.Sprintf("I only answer in <#%s>. Mention me there!", channelID)
}
