package cli

import (
	"github.com/rs/zerolog"

	"convbridge/internal/config"
	"convbridge/pkg/logger"
)

// CLIContext CLI 上下文
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	Verbose    bool
	Quiet      bool
}

// NewCLIContext 创建 CLI 上下文
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log,
		Verbose:    verbose,
		Quiet:      quiet,
	}
}

// LogLevel 返回命令行标志调整后的日志级别
func (c *CLIContext) LogLevel() string {
	switch {
	case c.Verbose:
		return "debug"
	case c.Quiet:
		return "error"
	default:
		return c.Config.Log.Level
	}
}

// Close 关闭资源
func (c *CLIContext) Close() error {
	return logger.Close()
}

// Log 获取 Logger
func (c *CLIContext) Log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Get()
}
