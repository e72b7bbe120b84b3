// Package slackbot implements the Slack channel plugin on top of slack-go.
package slackbot

import (
	"net/http"
	"time"
)

// Transport modes.
const (
	ModeSocket = "socket"
	ModeHTTP   = "http"
)

// Defaults.
const (
	DefaultAPIURL = "https://slack.com/api/"
	DefaultRPS    = 1.0
	DefaultBurst  = 5

	// Slack rejects section text longer than this.
	maxSectionText = 3000
	// Page size for conversations.replies.
	repliesPageSize = 200
	// How long a delivered event is remembered for de-duplication.
	dedupeTTL = 10 * time.Minute
)

// Config Slack 渠道配置
type Config struct {
	Mode          string `json:"mode"`
	BotToken      string `json:"botToken"`
	AppToken      string `json:"appToken"`      // socket mode
	SigningSecret string `json:"signingSecret"` // http mode
	APIURL        string `json:"apiUrl"`
	// BotUserID skips auth.test when set.
	BotUserID string  `json:"botUserId"`
	RPS       float64 `json:"rps"`
	Burst     int     `json:"burst"`
	Debug     bool    `json:"debug"`

	HTTPClient *http.Client `json:"-"`
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeSocket
	}
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.RPS <= 0 {
		c.RPS = DefaultRPS
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
}
