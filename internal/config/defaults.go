package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults 设置所有配置项的默认值
//
// Every key needs a default, otherwise AutomaticEnv cannot populate it
// during Unmarshal.
func SetDefaults() {
	// Slack 配置
	viper.SetDefault("slack.mode", "socket")
	viper.SetDefault("slack.bot_token", "")
	viper.SetDefault("slack.app_token", "")
	viper.SetDefault("slack.signing_secret", "")
	viper.SetDefault("slack.api_url", "https://slack.com/api/")
	viper.SetDefault("slack.bot_user_id", "")
	viper.SetDefault("slack.monitored_channel", "")
	viper.SetDefault("slack.history_limit", 50)
	viper.SetDefault("slack.rate_limit.rps", 1.0)
	viper.SetDefault("slack.rate_limit.burst", 5)
	viper.SetDefault("slack.debug", false)

	// Backend 配置
	viper.SetDefault("backend.endpoint", "")
	viper.SetDefault("backend.api_key", "")
	viper.SetDefault("backend.timeout", 30*time.Second)
	viper.SetDefault("backend.max_attempts", 3)

	// Turn 配置
	viper.SetDefault("turn.max_concurrency", 16)
	viper.SetDefault("turn.thinking_text", "Thinking...")

	// Gateway 配置
	viper.SetDefault("gateway.port", 8080)
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.rate_limit.enabled", true)
	viper.SetDefault("gateway.rate_limit.requests_per_minute", 600)
	viper.SetDefault("gateway.rate_limit.burst", 50)
	viper.SetDefault("gateway.rate_limit.cleanup_interval", 5*time.Minute)

	// Log 配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")
}
