package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"git-backup/internal/config"
	"git-backup/internal/discovery"
	"git-backup/internal/mirror"
	"git-backup/internal/provider"
	"git-backup/internal/provider/github"
	"git-backup/internal/provider/gitlab"
	"git-backup/internal/report"
	"git-backup/internal/vcs"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// 退出码：0 全部成功，1 有仓库同步或发现失败，2 参数错误。
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// errSyncFailed 表示运行已完成但存在失败，失败详情已经写入日志。
var errSyncFailed = errors.New("one or more repositories failed")

// usageError 标记参数错误，对应退出码 2。
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

var rootCmd = newRootCmd()

// newRootCmd 构建同步命令，便于在测试中复用。
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "git-backup [flags] <path>...",
		Short: "Mirror every repository of a user or group from GitHub or GitLab",
		Long: `Mirror every Git repository below one or more namespaces into a local
directory tree and keep it in sync.

Each path is resolved as a project, a user and a group; groups are walked
with all their subgroups. Repositories land in <directory>/<path>. Local
directories that no longer match a remote repository are reported as
orphans, or deleted with --remove-orphans.`,
		Example: `  git-backup -p gitlab -t $TOKEN -d ~/mirror my-group
  git-backup -p github -n 8 --exclude octo/huge octo
  git-backup -p gitlab -u https://git.example.com --all-groups --list`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runSync,
	}

	f := cmd.Flags()
	f.IntP(config.KeyWorkers, "n", config.DefaultWorkers, "number of repositories synced concurrently")
	f.StringP(config.KeyDirectory, "d", config.DefaultDirectory, "mirror root directory")
	f.StringP(config.KeyProvider, "p", "", "hosting provider: github or gitlab")
	f.StringP(config.KeyToken, "t", "", "API token (or GIT_BACKUP_TOKEN)")
	f.Bool(config.KeyInsecure, false, "skip TLS certificate verification")
	f.StringP(config.KeyBaseURL, "u", "", "API base URL of a self-hosted instance")
	f.StringSliceP(config.KeyExclude, "e", nil, "repository or namespace path to skip (repeatable)")
	f.Bool(config.KeyExcludeArchived, false, "skip archived repositories")
	f.Bool(config.KeyExcludeForks, false, "skip forked repositories")
	f.Bool(config.KeyRemoveOrphans, false, "delete orphan directories instead of reporting them")
	f.Int(config.KeyDepth, 0, "shallow clone depth, 0 for full history")
	f.String(config.KeyProtocol, config.DefaultProtocol, "clone protocol: ssh or https")
	f.BoolP(config.KeyQuiet, "q", false, "only log warnings and errors")
	f.Bool(config.KeyProgress, false, "show a progress bar instead of per repository logs")
	f.Bool(config.KeyList, false, "print the repositories that would be synced and exit")
	f.Bool(config.KeyAllGroups, false, "add every group visible to the token as a path")
	f.String(config.KeyReport, "", "write a YAML run report to this file")
	f.String(config.KeyMetricsFile, "", "write Prometheus textfile metrics to this file")
	f.String(config.KeyLogLevel, config.DefaultLogLevel, "log level: debug, info, warn, error")

	cmd.PersistentFlags().String("config", "", "config file (default ~/.config/git-backup/config.yaml)")

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	return cmd
}

// Execute 运行根命令并以对应退出码结束进程。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil && !errors.Is(err, errSyncFailed) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var ue *usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(os.Stderr, "Run '%s --help' for usage.\n", rootCmd.CommandPath())
		}
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var ue *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ue):
		return exitUsage
	default:
		return exitFailure
	}
}

// loadConfig 合并配置文件、环境变量和命令行参数。
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.Load(configFile, cmd.Flags())
}

// validateRun 校验同步所需参数，返回 usageError。
func validateRun(cfg *config.Config, args []string) error {
	if len(args) == 0 && !cfg.AllGroups {
		return usagef("must specify at least --all-groups or a path")
	}
	if cfg.Provider == "" {
		return usagef("--provider is required (github or gitlab)")
	}
	if cfg.Token == "" {
		return usagef("--token is required (or set %s_TOKEN)", config.EnvPrefix)
	}
	if issues := config.ValidateConfig(cfg); len(issues) > 0 {
		return usagef("%s", strings.Join(issues, "; "))
	}
	return nil
}

// newLogger 按输出模式选择日志级别：--quiet/--progress 只输出警告，
// 显式指定的 --log-level 优先。
func newLogger(out io.Writer, cfg *config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	level := logrus.InfoLevel
	if cfg.Quiet || cfg.Progress {
		level = logrus.WarnLevel
	}
	if cfg.LogLevel != "" && cfg.LogLevel != config.DefaultLogLevel {
		parsed, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, usagef("invalid --log-level: %v", err)
		}
		level = parsed
	}
	log.SetLevel(level)
	return log, nil
}

// newDiscovery 按 provider 创建发现客户端，并返回 https 克隆使用的用户名。
func newDiscovery(cfg *config.Config) (provider.Discovery, string, error) {
	opts := provider.Options{
		BaseURL:  cfg.BaseURL,
		Token:    cfg.Token,
		Insecure: cfg.Insecure,
		Protocol: cfg.Protocol,
	}
	switch cfg.Provider {
	case provider.GitHub:
		c, err := github.New(opts)
		return c, "x-access-token", err
	case provider.GitLab:
		c, err := gitlab.New(opts)
		return c, "oauth2", err
	default:
		return nil, "", usagef("unsupported provider %q", cfg.Provider)
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := validateRun(cfg, args); err != nil {
		return err
	}

	log, err := newLogger(cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}
	api, username, err := newDiscovery(cfg)
	if err != nil {
		return err
	}
	root, err := config.ExpandPath(cfg.Directory)
	if err != nil {
		return usagef("invalid --directory: %v", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	log.Infof("Begin %q processing using %q", cfg.Provider, root)

	roots, err := rootPaths(ctx, api, cfg, args)
	if err != nil {
		return err
	}

	listOpts := provider.ListOptions{ExcludeArchived: cfg.ExcludeArchived, ExcludeForks: cfg.ExcludeForks}
	resolver := discovery.NewResolver(api, listOpts, log)
	filter := discovery.NewFilter(cfg.Exclude, listOpts)
	repos, discoveryErrs := collectTargets(ctx, resolver, filter, roots, log)

	if cfg.List {
		out := cmd.OutOrStdout()
		for _, repo := range repos {
			fmt.Fprintln(out, repo.Path)
		}
		if len(discoveryErrs) > 0 {
			return errSyncFailed
		}
		return nil
	}

	bar := newSyncProgressBar(cfg.Progress, len(repos))
	var onResult func(mirror.Result)
	if bar != nil {
		onResult = func(mirror.Result) { _ = bar.Add(1) }
	}

	client := vcs.NewGoGit(vcs.Options{Token: cfg.Token, Username: username, Insecure: cfg.Insecure})
	scheduler := mirror.NewScheduler(client, mirror.Options{
		Root:     root,
		Workers:  cfg.Workers,
		Depth:    cfg.Depth,
		OnResult: onResult,
		Log:      log,
	})
	results := scheduler.Run(ctx, repos)
	if bar != nil {
		_ = bar.Finish()
	}

	orphans, err := scanOrphans(root, repos, discoveryErrs, cfg.RemoveOrphans, log)
	if err != nil {
		log.WithError(err).Error("Orphan scan failed")
		discoveryErrs = append(discoveryErrs, err)
	}

	summary := report.NewSummary(report.Run{
		Provider:        cfg.Provider,
		Roots:           roots,
		MirrorRoot:      root,
		StartedAt:       started,
		FinishedAt:      time.Now(),
		DiscoveryErrors: discoveryErrs,
		Orphans:         orphans,
		RemoveOrphans:   cfg.RemoveOrphans,
	}, results)
	log.Info(summary.Line())

	var writeErrs []error
	if cfg.Report != "" {
		if err := report.WriteYAML(cfg.Report, summary); err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("write report: %w", err))
		}
	}
	if cfg.MetricsFile != "" {
		if err := report.WriteMetrics(cfg.MetricsFile, summary); err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if err := errors.Join(writeErrs...); err != nil {
		return err
	}

	if summary.Failures > 0 {
		return errSyncFailed
	}
	return nil
}

// rootPaths 合并命令行路径和 --all-groups 枚举出的顶级组，去重排序。
func rootPaths(ctx context.Context, api provider.Discovery, cfg *config.Config, args []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, arg := range args {
		if p := strings.Trim(strings.TrimSpace(arg), "/"); p != "" {
			seen[p] = struct{}{}
		}
	}
	if cfg.AllGroups {
		groups, err := discovery.AllGroups(ctx, api)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			seen[g] = struct{}{}
		}
	}

	roots := make([]string, 0, len(seen))
	for p := range seen {
		roots = append(roots, p)
	}
	sort.Strings(roots)
	return roots, nil
}

// collectTargets 解析所有根路径，过滤并按路径去重排序。
// 单个根路径的发现错误不影响其他根路径。
func collectTargets(ctx context.Context, resolver *discovery.Resolver, filter *discovery.Filter, roots []string, log logrus.FieldLogger) ([]provider.Repository, []error) {
	var (
		repos []provider.Repository
		errs  []error
	)
	seen := make(map[string]struct{})

	for _, root := range roots {
		for repo, err := range resolver.Resolve(ctx, root) {
			if err != nil {
				log.WithError(err).Error("Discovery failed")
				errs = append(errs, err)
				continue
			}
			if _, ok := seen[repo.Path]; ok {
				continue
			}
			seen[repo.Path] = struct{}{}
			if !filter.Keep(repo) {
				log.WithField("path", repo.Path).Debug("Excluded")
				continue
			}
			repos = append(repos, repo)
		}
	}

	sort.Slice(repos, func(i, j int) bool { return repos[i].Path < repos[j].Path })
	return repos, errs
}

// scanOrphans 在发现完整时查找孤儿目录并报告或删除。
// 发现不完整或没有任何目标时跳过，避免把合法仓库当成孤儿。
func scanOrphans(root string, repos []provider.Repository, discoveryErrs []error, remove bool, log logrus.FieldLogger) ([]string, error) {
	if len(discoveryErrs) > 0 {
		log.Warn("Skipping orphan scan: discovery was incomplete")
		return nil, nil
	}
	if len(repos) == 0 {
		log.Warn("Skipping orphan scan: no repositories discovered")
		return nil, nil
	}

	targets := make([]string, 0, len(repos))
	for _, repo := range repos {
		local, err := mirror.LocalPath(root, repo.Path)
		if err != nil {
			continue
		}
		targets = append(targets, local)
	}

	orphans, err := mirror.FindOrphans(root, targets)
	if err != nil {
		return nil, err
	}
	return orphans, mirror.HandleOrphans(root, orphans, remove, log)
}

// newSyncProgressBar 创建同步进度条。
// 仅当指定 --progress 且在终端环境下才显示。
func newSyncProgressBar(enabled bool, total int) *progressbar.ProgressBar {
	if !enabled || total == 0 {
		return nil
	}
	if !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}

	return progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription("syncing"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionThrottle(65*time.Millisecond),
	)
}
