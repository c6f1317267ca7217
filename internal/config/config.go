// Package config loads pps settings from config.toml, PPS_* environment
// variables and defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

const (
	configName = "config"
	configFile = "config.toml"
	dbFile     = "pps.db"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PPS"
)

// DataDir returns the pps home directory, ~/.pps, or PPS_HOME when set.
func DataDir() string {
	if d := os.Getenv(EnvPrefix + "_HOME"); d != "" {
		return d
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pps"
	}
	return filepath.Join(home, ".pps")
}

// DefaultDBPath returns the database path used when nothing else is configured.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), dbFile)
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, configFile)
}

// InitViper creates a viper instance with defaults registered, config.toml
// read from configDir (if present) and PPS_ environment variables bound.
//
// Precedence, highest first: environment, config.toml, defaults.
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()
	setViperDefaults(v)

	v.SetConfigName(configName)
	v.SetConfigType("toml")
	if configDir != "" {
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("storage.db_path", d.Storage.DBPath)

	v.SetDefault("crystallize.turn_threshold", d.Crystallize.TurnThreshold)
	v.SetDefault("crystallize.staleness", d.Crystallize.Staleness)
	v.SetDefault("crystallize.max_batch", d.Crystallize.MaxBatch)
	v.SetDefault("crystallize.retention", d.Crystallize.Retention)
	v.SetDefault("crystallize.summarize_timeout", d.Crystallize.SummarizeTimeout)
	v.SetDefault("crystallize.lock_ttl", d.Crystallize.LockTTL)
	v.SetDefault("crystallize.failure_threshold", d.Crystallize.FailureThreshold)

	v.SetDefault("curation.batch_size", d.Curation.BatchSize)
	v.SetDefault("curation.max_edges", d.Curation.MaxEdges)
	v.SetDefault("curation.reflexive_predicates", d.Curation.ReflexivePredicates)
	v.SetDefault("curation.vague_terms", d.Curation.VagueTerms)
	v.SetDefault("curation.lock_ttl", d.Curation.LockTTL)
	v.SetDefault("curation.failure_threshold", d.Curation.FailureThreshold)
	v.SetDefault("curation.dry_run", d.Curation.DryRun)

	v.SetDefault("recall.crystal_limit", d.Recall.CrystalLimit)
	v.SetDefault("recall.anchor_limit", d.Recall.AnchorLimit)
	v.SetDefault("recall.brief_tail", d.Recall.BriefTail)

	v.SetDefault("schedule.crystallize_every", d.Schedule.CrystallizeEvery)
	v.SetDefault("schedule.curate_every", d.Schedule.CurateEvery)

	v.SetDefault("summarizer.provider", d.Summarizer.Provider)
	v.SetDefault("summarizer.model", d.Summarizer.Model)
	v.SetDefault("summarizer.target", d.Summarizer.Target)
	v.SetDefault("summarizer.max_input", d.Summarizer.MaxInput)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.target", d.Embedding.Target)

	v.SetDefault("eventstream.provider", d.EventStream.Provider)
	v.SetDefault("eventstream.brokers", []string{})
	v.SetDefault("eventstream.topic", d.EventStream.Topic)
}

// Load resolves the effective configuration for configDir.
func Load(configDir string) (*Config, error) {
	v, err := InitViper(configDir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// ParseConfigTOML decodes raw TOML over the defaults.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Save writes cfg as config.toml into dir.
func Save(dir string, cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, configFile), buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// applyDefaults fills zero values from NewDefaultConfig and clamps batch
// sizes to MaxBatchCap.
func applyDefaults(cfg *Config) {
	d := NewDefaultConfig()

	c := &cfg.Crystallize
	if c.TurnThreshold <= 0 {
		c.TurnThreshold = d.Crystallize.TurnThreshold
	}
	if c.Staleness <= 0 {
		c.Staleness = d.Crystallize.Staleness
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = d.Crystallize.MaxBatch
	}
	if c.MaxBatch > MaxBatchCap {
		c.MaxBatch = MaxBatchCap
	}
	if c.Retention < 0 {
		c.Retention = d.Crystallize.Retention
	}
	if c.SummarizeTimeout <= 0 {
		c.SummarizeTimeout = d.Crystallize.SummarizeTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = d.Crystallize.LockTTL
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.Crystallize.FailureThreshold
	}

	u := &cfg.Curation
	if u.BatchSize <= 0 {
		u.BatchSize = d.Curation.BatchSize
	}
	if u.BatchSize > MaxBatchCap {
		u.BatchSize = MaxBatchCap
	}
	if u.MaxEdges < 0 {
		u.MaxEdges = 0
	}
	if u.ReflexivePredicates == nil {
		u.ReflexivePredicates = d.Curation.ReflexivePredicates
	}
	if u.VagueTerms == nil {
		u.VagueTerms = d.Curation.VagueTerms
	}
	if u.LockTTL <= 0 {
		u.LockTTL = d.Curation.LockTTL
	}
	if u.FailureThreshold <= 0 {
		u.FailureThreshold = d.Curation.FailureThreshold
	}

	r := &cfg.Recall
	if r.CrystalLimit <= 0 {
		r.CrystalLimit = d.Recall.CrystalLimit
	}
	if r.AnchorLimit <= 0 {
		r.AnchorLimit = d.Recall.AnchorLimit
	}
	if r.BriefTail <= 0 {
		r.BriefTail = d.Recall.BriefTail
	}

	if cfg.Schedule.CrystallizeEvery < 0 {
		cfg.Schedule.CrystallizeEvery = 0
	}
	if cfg.Schedule.CurateEvery < 0 {
		cfg.Schedule.CurateEvery = 0
	}

	if cfg.Summarizer.Provider == "" {
		cfg.Summarizer.Provider = d.Summarizer.Provider
	}
	if cfg.Summarizer.MaxInput <= 0 {
		cfg.Summarizer.MaxInput = d.Summarizer.MaxInput
	}

	if cfg.EventStream.Provider == "" {
		cfg.EventStream.Provider = d.EventStream.Provider
	}
	if cfg.EventStream.Topic == "" {
		cfg.EventStream.Topic = d.EventStream.Topic
	}
}
