// Package report 汇总一次同步运行的结果，输出 YAML 报告和 Prometheus 文本指标。
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"git-backup/internal/mirror"

	"gopkg.in/yaml.v3"
)

// Failure is a repository that could not be synced.
type Failure struct {
	Path  string `yaml:"path"`
	Error string `yaml:"error"`
}

// Summary describes one run.
type Summary struct {
	Provider        string    `yaml:"provider"`
	Roots           []string  `yaml:"roots"`
	MirrorRoot      string    `yaml:"mirror_root"`
	StartedAt       time.Time `yaml:"started_at"`
	FinishedAt      time.Time `yaml:"finished_at"`
	Repositories    int       `yaml:"repositories"`
	Cloned          int       `yaml:"cloned"`
	Updated         int       `yaml:"updated"`
	UpToDate        int       `yaml:"up_to_date"`
	Failures        int       `yaml:"failures"`
	Failed          []Failure `yaml:"failed,omitempty"`
	DiscoveryErrors []string  `yaml:"discovery_errors,omitempty"`
	Orphans         []string  `yaml:"orphans,omitempty"`
	OrphansRemoved  bool      `yaml:"orphans_removed"`

	durations []time.Duration
}

// Run collects what NewSummary needs besides the sync results.
type Run struct {
	Provider        string
	Roots           []string
	MirrorRoot      string
	StartedAt       time.Time
	FinishedAt      time.Time
	DiscoveryErrors []error
	Orphans         []string
	RemoveOrphans   bool
}

// NewSummary tallies results. Discovery errors count as failures; orphans
// are stored relative to the mirror root.
func NewSummary(run Run, results []mirror.Result) Summary {
	s := Summary{
		Provider:       run.Provider,
		Roots:          run.Roots,
		MirrorRoot:     run.MirrorRoot,
		StartedAt:      run.StartedAt.UTC(),
		FinishedAt:     run.FinishedAt.UTC(),
		Repositories:   len(results),
		OrphansRemoved: run.RemoveOrphans && len(run.Orphans) > 0,
	}

	for _, r := range results {
		s.durations = append(s.durations, r.Duration)
		switch {
		case !r.Success:
			s.Failures++
			msg := "unknown error"
			if r.Err != nil {
				msg = r.Err.Error()
			}
			s.Failed = append(s.Failed, Failure{Path: r.Path, Error: msg})
		case r.Cloned:
			s.Cloned++
		case r.UpToDate:
			s.UpToDate++
		default:
			s.Updated++
		}
	}

	for _, err := range run.DiscoveryErrors {
		s.Failures++
		s.DiscoveryErrors = append(s.DiscoveryErrors, err.Error())
	}

	for _, o := range run.Orphans {
		rel, err := filepath.Rel(run.MirrorRoot, o)
		if err != nil {
			rel = o
		}
		s.Orphans = append(s.Orphans, filepath.ToSlash(rel))
	}
	return s
}

// Line is the final log line of a run.
func (s Summary) Line() string {
	return fmt.Sprintf("Finished %q processing %d repos with %d failures and %d orphans",
		s.Provider, s.Repositories, s.Failures, len(s.Orphans))
}

// WriteYAML writes s to path, replacing it atomically.
func WriteYAML(path string, s Summary) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	// 原子写入：先写临时文件，再 rename
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
