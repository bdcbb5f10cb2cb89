package cmd

import (
	"fmt"
	"io"
	"strings"

	"git-backup/internal/config"

	"github.com/spf13/cobra"
)

// newSetCmd 构建 set 命令，用于查看或修改配置文件。
// 1. git-backup set - 显示当前配置文件内容
// 2. git-backup set <key> <value> - 设置配置项
func newSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set or show saved configuration",
		Long: `View or modify the config file (default ~/.config/git-backup/config.yaml).

Without arguments, displays the saved configuration. The token is masked.
With key/value, validates and saves the option. exclude takes a comma
separated list.`,
		Example: `  git-backup set
  git-backup set provider gitlab
  git-backup set token glpat-xxxx
  git-backup set workers 8
  git-backup set exclude big-group/archive,big-group/huge`,
		Args: validateSetArgs,
		RunE: runSet,
	}
}

// validateSetArgs 校验 set 参数格式。
func validateSetArgs(_ *cobra.Command, args []string) error {
	if len(args) != 0 && len(args) != 2 {
		return &usageError{err: fmt.Errorf("usage: git-backup set [<key> <value>]")}
	}
	return nil
}

// runSet 显示或修改配置。只读写配置文件，不合并环境变量。
func runSet(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		printConfig(cmd.OutOrStdout(), cfg)
		return nil
	}

	key := strings.ToLower(strings.TrimSpace(args[0]))
	if err := cfg.Set(key, args[1]); err != nil {
		return &usageError{err: err}
	}
	if err := config.Save(configFile, *cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s saved\n", key)
	return nil
}

// printConfig 按 key: value 格式输出可持久化的配置项。
func printConfig(out io.Writer, cfg *config.Config) {
	fmt.Fprintf(out, "%s: %d\n", config.KeyWorkers, cfg.Workers)
	fmt.Fprintf(out, "%s: %s\n", config.KeyDirectory, cfg.Directory)
	fmt.Fprintf(out, "%s: %s\n", config.KeyProvider, cfg.Provider)
	fmt.Fprintf(out, "%s: %s\n", config.KeyToken, maskToken(cfg.Token))
	fmt.Fprintf(out, "%s: %s\n", config.KeyBaseURL, cfg.BaseURL)
	fmt.Fprintf(out, "%s: %t\n", config.KeyInsecure, cfg.Insecure)
	fmt.Fprintf(out, "%s: %s\n", config.KeyExclude, strings.Join(cfg.Exclude, ","))
	fmt.Fprintf(out, "%s: %t\n", config.KeyExcludeArchived, cfg.ExcludeArchived)
	fmt.Fprintf(out, "%s: %t\n", config.KeyExcludeForks, cfg.ExcludeForks)
	fmt.Fprintf(out, "%s: %t\n", config.KeyRemoveOrphans, cfg.RemoveOrphans)
	fmt.Fprintf(out, "%s: %d\n", config.KeyDepth, cfg.Depth)
	fmt.Fprintf(out, "%s: %s\n", config.KeyProtocol, cfg.Protocol)
	fmt.Fprintf(out, "%s: %s\n", config.KeyReport, cfg.Report)
	fmt.Fprintf(out, "%s: %s\n", config.KeyMetricsFile, cfg.MetricsFile)
	fmt.Fprintf(out, "%s: %s\n", config.KeyLogLevel, cfg.LogLevel)
}

// maskToken 只保留末尾 4 个字符。
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

func init() {
	rootCmd.AddCommand(newSetCmd())
}
