package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀，例如 CONVBRIDGE_SLACK_BOT_TOKEN
const EnvPrefix = "CONVBRIDGE"

// Config 是应用配置的根结构体
type Config struct {
	Slack   SlackConfig   `mapstructure:"slack" yaml:"slack"`
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`
	Turn    TurnConfig    `mapstructure:"turn" yaml:"turn"`
	Gateway GatewayConfig `mapstructure:"gateway" yaml:"gateway"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// SlackConfig Slack 渠道配置
type SlackConfig struct {
	Mode             string          `mapstructure:"mode" yaml:"mode"` // socket 或 http
	BotToken         string          `mapstructure:"bot_token" yaml:"bot_token"`
	AppToken         string          `mapstructure:"app_token" yaml:"app_token"`           // 仅 socket 模式需要
	SigningSecret    string          `mapstructure:"signing_secret" yaml:"signing_secret"` // 仅 http 模式需要
	APIURL           string          `mapstructure:"api_url" yaml:"api_url"`
	BotUserID        string          `mapstructure:"bot_user_id" yaml:"bot_user_id"` // 为空时通过 auth.test 获取
	MonitoredChannel string          `mapstructure:"monitored_channel" yaml:"monitored_channel"`
	HistoryLimit     int             `mapstructure:"history_limit" yaml:"history_limit"`
	RateLimit        SlackRateConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Debug            bool            `mapstructure:"debug" yaml:"debug"`
}

// SlackRateConfig Web API 出站限流配置
type SlackRateConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

// BackendConfig 后端问答服务配置
type BackendConfig struct {
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"` // 单次请求超时
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// TurnConfig 单轮对话处理配置
type TurnConfig struct {
	MaxConcurrency int    `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	ThinkingText   string `mapstructure:"thinking_text" yaml:"thinking_text"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Port      int             `mapstructure:"port" yaml:"port"`
	Host      string          `mapstructure:"host" yaml:"host"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// Address returns host:port for the gateway listener.
func (g GatewayConfig) Address() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// Validate 检查运行 serve 所需的配置项
func (c *Config) Validate() error {
	var errs []error
	if c.Slack.BotToken == "" {
		errs = append(errs, errors.New("slack.bot_token is required"))
	}
	switch c.Slack.Mode {
	case "socket":
		if c.Slack.AppToken == "" {
			errs = append(errs, errors.New("slack.app_token is required in socket mode"))
		}
	case "http":
		if c.Slack.SigningSecret == "" {
			errs = append(errs, errors.New("slack.signing_secret is required in http mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("slack.mode must be socket or http, got %q", c.Slack.Mode))
	}
	if c.Slack.HistoryLimit <= 0 {
		errs = append(errs, errors.New("slack.history_limit must be positive"))
	}
	if c.Backend.Endpoint == "" {
		errs = append(errs, errors.New("backend.endpoint is required"))
	}
	if c.Backend.MaxAttempts <= 0 {
		errs = append(errs, errors.New("backend.max_attempts must be positive"))
	}
	if c.Turn.MaxConcurrency <= 0 {
		errs = append(errs, errors.New("turn.max_concurrency must be positive"))
	}
	return errors.Join(errs...)
}

// Masked 返回一份隐藏了密钥的副本，用于展示
func (c Config) Masked() Config {
	c.Slack.BotToken = mask(c.Slack.BotToken)
	c.Slack.AppToken = mask(c.Slack.AppToken)
	c.Slack.SigningSecret = mask(c.Slack.SigningSecret)
	c.Backend.APIKey = mask(c.Backend.APIKey)
	return c
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load 加载配置文件
// 优先级: ENV > .env > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	// 设置默认值
	SetDefaults()

	// .env 不覆盖已存在的环境变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	// 设置环境变量前缀
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 如果提供了配置路径，则加载配置文件
	if path != "" {
		expandedPath, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expandedPath

		viper.SetConfigFile(expandedPath)
		if err := viper.ReadInConfig(); err != nil {
			// 忽略文件不存在错误
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) && !os.IsNotExist(err) {
				var parseErr viper.ConfigParseError
				if errors.As(err, &parseErr) {
					return nil, err
				}
			}
		}
	}

	// 反序列化到结构体
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Watch 监听配置文件变更，变更后重新解析并回调
//
// Only fields read through the callback take effect; components built from
// the previous Config keep their values.
func Watch(onChange func(*Config)) {
	mu.RLock()
	path := configPath
	mu.RUnlock()
	if path == "" {
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return
		}
		mu.Lock()
		globalConfig = &cfg
		mu.Unlock()
		if onChange != nil {
			onChange(&cfg)
		}
	})
	viper.WatchConfig()
}

// GetConfig 获取当前配置
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Path 返回当前使用的配置文件路径
func Path() string {
	mu.RLock()
	defer mu.RUnlock()
	return configPath
}

// Get 获取任意配置键值
func Get(key string) any {
	return viper.Get(key)
}

// GetString 获取字符串配置值
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt 获取整数配置值
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool 获取布尔配置值
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// Set 设置配置值并持久化
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	viper.Set(key, value)

	// 如果有配置文件路径，则持久化
	if configPath != "" {
		return save()
	}
	return nil
}

// Save 保存配置到文件
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

// save 内部保存函数，调用者需要持有锁
func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}

	// 确保目录存在
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}

	// 配置中含有 token，使用 0600
	return os.WriteFile(configPath, data, 0600)
}

// SaveTo 保存配置到指定路径
func SaveTo(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Show 将配置序列化为 YAML，密钥被隐藏
func Show(cfg *Config) ([]byte, error) {
	masked := cfg.Masked()
	return yaml.Marshal(&masked)
}

// Reset 重置配置（主要用于测试）
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}

// SetTestConfig 设置全局配置（仅用于测试）
func SetTestConfig(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = cfg
}
