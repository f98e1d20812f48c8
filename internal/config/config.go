package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Zuo-Peng/ai-session-graph/internal/classify"
	"github.com/Zuo-Peng/ai-session-graph/internal/parse"
	"github.com/Zuo-Peng/ai-session-graph/internal/snapshot"
)

// Duration reads TOML strings such as "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	ProjectsRoot string `toml:"projects_root"`
	TodosRoot    string `toml:"todos_root"`
	DBPath       string `toml:"db_path"`
	Workers      int    `toml:"workers"`

	// Aliases maps a project directory name to other directory names
	// holding sessions of the same logical project (renamed or moved
	// checkouts). Aliased projects are analysed together.
	Aliases map[string][]string `toml:"aliases"`

	Snapshot  SnapshotConfig  `toml:"snapshot"`
	Sidechain SidechainConfig `toml:"sidechain"`
	SDK       SDKConfig       `toml:"sdk"`
}

type SnapshotConfig struct {
	Threshold float64  `toml:"threshold"`
	Adjacency Duration `toml:"adjacency"`
}

type SidechainConfig struct {
	MultiAgentThreshold int      `toml:"multi_agent_threshold"`
	DelegationTools     []string `toml:"delegation_tools"`
}

type SDKWeights struct {
	Pattern  float64 `toml:"pattern"`
	Short    float64 `toml:"short"`
	Siblings float64 `toml:"siblings"`
}

type SDKConfig struct {
	Patterns          []string   `toml:"patterns"`
	SecondaryPatterns []string   `toml:"secondary_patterns"`
	Weights           SDKWeights `toml:"weights"`
	Threshold         float64    `toml:"threshold"`
	MaxNodes          int        `toml:"max_nodes"`
	SiblingWindow     Duration   `toml:"sibling_window"`
}

func defaults(home string) *Config {
	cls := classify.DefaultConfig()
	return &Config{
		ProjectsRoot: filepath.Join(home, ".claude", "projects"),
		TodosRoot:    filepath.Join(home, ".claude", "todos"),
		DBPath:       filepath.Join(home, ".config", "ais", "ais.db"),
		Workers:      runtime.NumCPU(),
		Snapshot: SnapshotConfig{
			Threshold: snapshot.DefaultThreshold,
			Adjacency: Duration{snapshot.DefaultAdjacency},
		},
		Sidechain: SidechainConfig{
			MultiAgentThreshold: cls.MultiAgentThreshold,
			DelegationTools:     clone(parse.DefaultDelegationTools),
		},
		SDK: SDKConfig{
			Patterns:          clone(cls.SDK.Patterns),
			SecondaryPatterns: clone(cls.SDK.SecondaryPatterns),
			Weights: SDKWeights{
				Pattern:  cls.SDK.PatternWeight,
				Short:    cls.SDK.ShortWeight,
				Siblings: cls.SDK.SiblingWeight,
			},
			Threshold:     cls.SDK.Threshold,
			MaxNodes:      cls.SDK.MaxNodes,
			SiblingWindow: Duration{cls.SDK.SiblingWindow},
		},
	}
}

func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return LoadFile(filepath.Join(home, ".config", "ais", "config.toml"), home)
}

// LoadFile applies the TOML file at cfgPath, if present, over the
// defaults.
func LoadFile(cfgPath, home string) (*Config, error) {
	cfg := defaults(home)

	if _, err := os.Stat(cfgPath); err == nil {
		if _, err := toml.DecodeFile(cfgPath, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", cfgPath, err)
		}
	}

	// expand ~ in paths
	cfg.ProjectsRoot = expandHome(cfg.ProjectsRoot, home)
	cfg.TodosRoot = expandHome(cfg.TodosRoot, home)
	cfg.DBPath = expandHome(cfg.DBPath, home)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0, 1], got %v", name, v))
		}
	}
	unit("snapshot.threshold", c.Snapshot.Threshold)
	unit("sdk.threshold", c.SDK.Threshold)
	unit("sdk.weights.pattern", c.SDK.Weights.Pattern)
	unit("sdk.weights.short", c.SDK.Weights.Short)
	unit("sdk.weights.siblings", c.SDK.Weights.Siblings)
	if c.Snapshot.Threshold == 0 {
		errs = append(errs, errors.New("snapshot.threshold must be positive"))
	}
	if c.Snapshot.Adjacency.Duration < 0 || c.SDK.SiblingWindow.Duration < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers))
	}
	if c.SDK.MaxNodes < 0 || c.Sidechain.MultiAgentThreshold < 0 {
		errs = append(errs, errors.New("counts must not be negative"))
	}
	return errors.Join(errs...)
}

// Classify converts the thresholds into classifier settings.
func (c *Config) Classify() classify.Config {
	return classify.Config{
		MultiAgentThreshold: c.Sidechain.MultiAgentThreshold,
		SDK: classify.SDKConfig{
			Patterns:          c.SDK.Patterns,
			SecondaryPatterns: c.SDK.SecondaryPatterns,
			PatternWeight:     c.SDK.Weights.Pattern,
			ShortWeight:       c.SDK.Weights.Short,
			SiblingWeight:     c.SDK.Weights.Siblings,
			Threshold:         c.SDK.Threshold,
			MaxNodes:          c.SDK.MaxNodes,
			SiblingWindow:     c.SDK.SiblingWindow.Duration,
		},
	}
}

func (c *Config) SnapshotOptions() snapshot.Options {
	return snapshot.Options{Threshold: c.Snapshot.Threshold, Adjacency: c.Snapshot.Adjacency.Duration}
}

func (c *Config) ParseOptions() parse.Options {
	return parse.Options{DelegationTools: c.Sidechain.DelegationTools}
}

// clone keeps decoding from writing into the package-level defaults.
func clone(s []string) []string {
	return append([]string(nil), s...)
}

func expandHome(path, home string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return path
}
