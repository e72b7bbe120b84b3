package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"convbridge/internal/config"
)

// 敏感配置键（需要脱敏）
var sensitiveKeys = map[string]bool{
	"slack.bot_token":      true,
	"slack.app_token":      true,
	"slack.signing_secret": true,
	"backend.api_key":      true,
}

// NewConfigCmd 创建 config 命令组
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigListCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return fmt.Errorf("CLI context not initialized")
			}
			data, err := config.Show(cliCtx.Config)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := config.Get(key)
			if value == nil {
				return fmt.Errorf("key not found: %s", key)
			}
			if s, ok := value.(string); ok && sensitiveKeys[key] {
				value = maskValue(s)
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := config.Set(key, value); err != nil {
				return fmt.Errorf("set config: %w", err)
			}
			if sensitiveKeys[key] {
				value = maskValue(value)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}
}

func newConfigListCmd() *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all configuration values",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := flattenSettings("", viper.AllSettings())
			sort.Strings(keys)

			for _, key := range keys {
				value := viper.Get(key)
				if sensitiveKeys[key] && !showAll {
					if s, ok := value.(string); ok && s != "" {
						value = maskValue(s)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showAll, "all", false, "show sensitive values")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx := GetCLIContext(cmd); cliCtx != nil && cliCtx.ConfigPath != "" {
				fmt.Fprintln(cmd.OutOrStdout(), cliCtx.ConfigPath)
				return nil
			}
			path, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

// flattenSettings 将嵌套配置展平为点分隔的键列表
func flattenSettings(prefix string, settings map[string]any) []string {
	var keys []string

	for k, v := range settings {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		if nested, ok := v.(map[string]any); ok {
			keys = append(keys, flattenSettings(key, nested)...)
		} else {
			keys = append(keys, key)
		}
	}

	return keys
}

// maskValue 脱敏处理
func maskValue(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
