package cmd

import (
	"errors"
	"fmt"
	"io"

	"git-backup/internal/config"
	"git-backup/internal/repo"

	"github.com/spf13/cobra"
)

// newDoctorCmd 构建 doctor 子命令，一站式诊断配置和本地镜像目录。
// 有错误时返回非零退出码，仅警告时返回 0。
// 用法: git-backup doctor [-d dir]
func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose configuration and the local mirror",
		Long: `Check the configuration and every repository below the mirror root.

The mirror root comes from --directory, the config file or GIT_BACKUP_DIRECTORY.`,
		Args: cobra.NoArgs,
		RunE: runDoctor,
	}
	cmd.Flags().StringP(config.KeyDirectory, "d", config.DefaultDirectory, "mirror root directory")
	cmd.Flags().StringSliceP(config.KeyExclude, "e", nil, "repository or namespace path to skip (repeatable)")
	cmd.Flags().IntP(config.KeyWorkers, "n", config.DefaultWorkers, "number of repositories synced concurrently")
	return cmd
}

// runDoctor 按顺序执行 6 项诊断检查：
//  1. 配置合法性（provider、token 缺失只给警告）
//  2. 镜像目录扫描
//  3. 分支可达性（空仓库只给警告）
//  4. 读权限（.git/HEAD 可读）
//  5. origin 远程地址
//  6. 性能预警（单 worker 同步大量仓库、.git 体积 >1GB）
//
// 输出使用 ✅/⚠️/❌ 分类显示，有错误时返回 error（exit 非零）。
func runDoctor(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Running diagnostics...")

	hasError := false

	// 1. 配置合法性检查
	cfg, cfgErr := loadConfig(cmd)
	if cfgErr != nil {
		hasError = true
		fmt.Fprintf(out, "❌ Config: %v\n", cfgErr)
		d := config.Default()
		cfg = &d
	} else {
		issues := config.ValidateConfig(cfg)
		var warnings []string
		if cfg.Provider == "" {
			warnings = append(warnings, "provider is not set")
		}
		if cfg.Token == "" {
			warnings = append(warnings, "token is not set")
		}
		switch {
		case len(issues) > 0:
			hasError = true
			fmt.Fprintf(out, "❌ Config: %d issue(s)\n", len(issues))
			printLines(out, issues)
		case len(warnings) > 0:
			fmt.Fprintf(out, "⚠️  Config: %d warning(s)\n", len(warnings))
			printLines(out, warnings)
		default:
			fmt.Fprintln(out, "✅ Config: OK")
		}
	}

	// 2. 镜像目录扫描
	mirrors, scanErr := repo.ScanMirror(cfg.Directory, -1, cfg.Exclude)
	switch {
	case scanErr != nil:
		hasError = true
		fmt.Fprintf(out, "❌ Mirror: %v\n", scanErr)
	case len(mirrors) == 0:
		fmt.Fprintln(out, "⚠️  Mirror: no repositories found")
	default:
		fmt.Fprintf(out, "✅ Mirror: %d repositories\n", len(mirrors))
	}

	paths := make([]string, 0, len(mirrors))
	for _, m := range mirrors {
		paths = append(paths, m.Path)
	}

	// 3. 分支可达性检查
	if len(mirrors) == 0 {
		fmt.Fprintln(out, "⚠️  Branch reachability: skipped (no repositories)")
	} else {
		var branchErrors, empty []string
		for _, m := range mirrors {
			err := repo.CheckBranchReachability(m.Path, "")
			switch {
			case errors.Is(err, repo.ErrEmptyRepository):
				empty = append(empty, m.Rel)
			case err != nil:
				branchErrors = append(branchErrors, fmt.Sprintf("%s: %v", m.Rel, err))
			}
		}
		switch {
		case len(branchErrors) > 0:
			hasError = true
			fmt.Fprintf(out, "❌ Branch reachability: %d issue(s)\n", len(branchErrors))
			printLines(out, branchErrors)
		case len(empty) > 0:
			fmt.Fprintf(out, "⚠️  Branch reachability: %d empty repositories\n", len(empty))
			printLines(out, empty)
		default:
			fmt.Fprintln(out, "✅ Branch reachability: OK")
		}
	}

	// 4. 读权限检查
	if failed := checkEach(out, "Permissions", mirrors, repo.CheckPermissions); failed {
		hasError = true
	}

	// 5. origin 检查
	if failed := checkEach(out, "Remotes", mirrors, repo.CheckRemote); failed {
		hasError = true
	}

	// 6. 性能预警
	performanceWarnings := repo.CheckPerformance(paths, cfg.Workers)
	if len(performanceWarnings) == 0 {
		fmt.Fprintln(out, "✅ Performance: OK")
	} else {
		fmt.Fprintf(out, "⚠️  Performance: %d warning(s)\n", len(performanceWarnings))
		printLines(out, performanceWarnings)
	}

	if hasError {
		return fmt.Errorf("doctor found issues")
	}
	return nil
}

// checkEach 对每个仓库执行 check，输出结果，返回是否有失败。
func checkEach(out io.Writer, name string, mirrors []repo.Mirror, check func(string) error) bool {
	if len(mirrors) == 0 {
		fmt.Fprintf(out, "⚠️  %s: skipped (no repositories)\n", name)
		return false
	}

	var problems []string
	for _, m := range mirrors {
		if err := check(m.Path); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", m.Rel, err))
		}
	}
	if len(problems) == 0 {
		fmt.Fprintf(out, "✅ %s: OK\n", name)
		return false
	}
	fmt.Fprintf(out, "❌ %s: %d issue(s)\n", name, len(problems))
	printLines(out, problems)
	return true
}

// printLines 将字符串列表以缩进列表形式输出，每行前加 "   - " 前缀。
func printLines(out io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintf(out, "   - %s\n", line)
	}
}

func init() {
	rootCmd.AddCommand(newDoctorCmd())
}
