package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultWorkers   = 1
	DefaultDirectory = "."
	DefaultProtocol  = "ssh"
	DefaultLogLevel  = "info"

	// EnvPrefix prefixes environment overrides: GIT_BACKUP_TOKEN, GIT_BACKUP_BASE_URL, ...
	EnvPrefix = "GIT_BACKUP"
)

// Keys accepted in the config file, the environment and by `set`.
const (
	KeyWorkers         = "workers"
	KeyDirectory       = "directory"
	KeyProvider        = "provider"
	KeyToken           = "token"
	KeyInsecure        = "insecure"
	KeyBaseURL         = "base-url"
	KeyExclude         = "exclude"
	KeyExcludeArchived = "exclude-archived"
	KeyExcludeForks    = "exclude-forks"
	KeyRemoveOrphans   = "remove-orphans"
	KeyDepth           = "depth"
	KeyProtocol        = "protocol"
	KeyQuiet           = "quiet"
	KeyProgress        = "progress"
	KeyList            = "list"
	KeyAllGroups       = "all-groups"
	KeyReport          = "report"
	KeyMetricsFile     = "metrics-file"
	KeyLogLevel        = "log-level"
)

// persistentKeys are written by Save. Per-run modes (list, all-groups,
// quiet, progress) only come from flags or the environment.
var persistentKeys = []string{
	KeyWorkers, KeyDirectory, KeyProvider, KeyToken, KeyInsecure, KeyBaseURL,
	KeyExclude, KeyExcludeArchived, KeyExcludeForks, KeyRemoveOrphans,
	KeyDepth, KeyProtocol, KeyReport, KeyMetricsFile, KeyLogLevel,
}

type Config struct {
	Workers         int
	Directory       string
	Provider        string
	Token           string
	Insecure        bool
	BaseURL         string
	Exclude         []string
	ExcludeArchived bool
	ExcludeForks    bool
	RemoveOrphans   bool
	Depth           int
	Protocol        string
	Quiet           bool
	Progress        bool
	List            bool
	AllGroups       bool
	Report          string
	MetricsFile     string
	LogLevel        string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Workers:   DefaultWorkers,
		Directory: DefaultDirectory,
		Protocol:  DefaultProtocol,
		LogLevel:  DefaultLogLevel,
	}
}

func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "git-backup"), nil
}

func File() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func newViper(configFile string, env bool) (*viper.Viper, error) {
	if configFile == "" {
		var err error
		if configFile, err = File(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")
	if env {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		v.AutomaticEnv()
	}

	d := Default()
	v.SetDefault(KeyWorkers, d.Workers)
	v.SetDefault(KeyDirectory, d.Directory)
	v.SetDefault(KeyProtocol, d.Protocol)
	v.SetDefault(KeyLogLevel, d.LogLevel)
	for _, key := range []string{KeyProvider, KeyToken, KeyBaseURL, KeyReport, KeyMetricsFile} {
		v.SetDefault(key, "")
	}
	for _, key := range []string{KeyInsecure, KeyExcludeArchived, KeyExcludeForks, KeyRemoveOrphans, KeyQuiet, KeyProgress, KeyList, KeyAllGroups} {
		v.SetDefault(key, false)
	}
	v.SetDefault(KeyDepth, 0)
	v.SetDefault(KeyExclude, []string{})
	return v, nil
}

// Load reads configFile (the default location when empty), the environment
// and, when flags is not nil, the flags the user set. A missing config file
// is not an error.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	return load(configFile, flags, true)
}

// LoadFile reads only configFile and the defaults, for editing the file
// without picking up environment overrides.
func LoadFile(configFile string) (*Config, error) {
	return load(configFile, nil, false)
}

func load(configFile string, flags *pflag.FlagSet, env bool) (*Config, error) {
	v, err := newViper(configFile, env)
	if err != nil {
		return nil, err
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return &Config{
		Workers:         v.GetInt(KeyWorkers),
		Directory:       v.GetString(KeyDirectory),
		Provider:        strings.ToLower(strings.TrimSpace(v.GetString(KeyProvider))),
		Token:           strings.TrimSpace(v.GetString(KeyToken)),
		Insecure:        v.GetBool(KeyInsecure),
		BaseURL:         strings.TrimSpace(v.GetString(KeyBaseURL)),
		Exclude:         v.GetStringSlice(KeyExclude),
		ExcludeArchived: v.GetBool(KeyExcludeArchived),
		ExcludeForks:    v.GetBool(KeyExcludeForks),
		RemoveOrphans:   v.GetBool(KeyRemoveOrphans),
		Depth:           v.GetInt(KeyDepth),
		Protocol:        strings.ToLower(strings.TrimSpace(v.GetString(KeyProtocol))),
		Quiet:           v.GetBool(KeyQuiet),
		Progress:        v.GetBool(KeyProgress),
		List:            v.GetBool(KeyList),
		AllGroups:       v.GetBool(KeyAllGroups),
		Report:          v.GetString(KeyReport),
		MetricsFile:     v.GetString(KeyMetricsFile),
		LogLevel:        v.GetString(KeyLogLevel),
	}, nil
}

// Save writes the persistent settings of config to configFile (the default
// location when empty).
func Save(configFile string, config Config) error {
	if configFile == "" {
		var err error
		if configFile, err = File(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigPermissions(0o600)

	values := map[string]any{
		KeyWorkers:         config.Workers,
		KeyDirectory:       config.Directory,
		KeyProvider:        config.Provider,
		KeyToken:           config.Token,
		KeyInsecure:        config.Insecure,
		KeyBaseURL:         config.BaseURL,
		KeyExclude:         config.Exclude,
		KeyExcludeArchived: config.ExcludeArchived,
		KeyExcludeForks:    config.ExcludeForks,
		KeyRemoveOrphans:   config.RemoveOrphans,
		KeyDepth:           config.Depth,
		KeyProtocol:        config.Protocol,
		KeyReport:          config.Report,
		KeyMetricsFile:     config.MetricsFile,
		KeyLogLevel:        config.LogLevel,
	}
	for _, key := range persistentKeys {
		v.Set(key, values[key])
	}
	return v.WriteConfigAs(configFile)
}

// Set parses value and stores it under key.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)

	parseInt := func() (int, error) {
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		return n, nil
	}
	parseBool := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
		}
		return b, nil
	}

	var err error
	switch key {
	case KeyWorkers:
		c.Workers, err = parseInt()
	case KeyDepth:
		c.Depth, err = parseInt()
	case KeyInsecure:
		c.Insecure, err = parseBool()
	case KeyExcludeArchived:
		c.ExcludeArchived, err = parseBool()
	case KeyExcludeForks:
		c.ExcludeForks, err = parseBool()
	case KeyRemoveOrphans:
		c.RemoveOrphans, err = parseBool()
	case KeyDirectory:
		c.Directory = value
	case KeyProvider:
		c.Provider = strings.ToLower(value)
	case KeyToken:
		c.Token = value
	case KeyBaseURL:
		c.BaseURL = value
	case KeyProtocol:
		c.Protocol = strings.ToLower(value)
	case KeyReport:
		c.Report = value
	case KeyMetricsFile:
		c.MetricsFile = value
	case KeyLogLevel:
		c.LogLevel = value
	case KeyExclude:
		c.Exclude = nil
		for _, ex := range strings.Split(value, ",") {
			if ex = strings.TrimSpace(ex); ex != "" {
				c.Exclude = append(c.Exclude, ex)
			}
		}
	default:
		return fmt.Errorf("unsupported key %q (supported: %s)", key, strings.Join(persistentKeys, ", "))
	}
	if err != nil {
		return err
	}

	if issues := ValidateConfig(c); len(issues) > 0 {
		for _, issue := range issues {
			if strings.HasPrefix(issue, key+" ") {
				return errors.New(issue)
			}
		}
	}
	return nil
}

// ValidateConfig 检查配置合法性，返回问题列表（为空表示通过）。
// 缺少 provider 和 token 不在此检查，由同步命令单独校验。
func ValidateConfig(c *Config) []string {
	var issues []string

	if c.Workers < 1 {
		issues = append(issues, fmt.Sprintf("workers must be >= 1, got %d", c.Workers))
	}
	if c.Depth < 0 {
		issues = append(issues, fmt.Sprintf("depth must be >= 0, got %d", c.Depth))
	}
	if c.Provider != "" && c.Provider != "github" && c.Provider != "gitlab" {
		issues = append(issues, fmt.Sprintf("provider must be github or gitlab, got %q", c.Provider))
	}
	if c.Protocol != "ssh" && c.Protocol != "https" {
		issues = append(issues, fmt.Sprintf("protocol must be ssh or https, got %q", c.Protocol))
	}
	if c.Quiet && c.Progress {
		issues = append(issues, "quiet and progress cannot be used together")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		issues = append(issues, fmt.Sprintf("log-level %v", err))
	}
	if c.Directory == "" {
		issues = append(issues, "directory must not be empty")
	}

	return issues
}

// ExpandPath trims p, expands a leading ~ and returns it absolute and clean.
func ExpandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", errors.New("empty path")
	}

	// 展开 ~ 为用户主目录
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if p == "~" {
			p = home
		} else {
			p = filepath.Join(home, p[2:])
		}
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
