package config

import "time"

// Config is the pps configuration, stored as config.toml in the data
// directory. Every field can be overridden with a PPS_<SECTION>_<KEY>
// environment variable.
type Config struct {
	Storage     StorageConfig     `toml:"storage" mapstructure:"storage"`
	Crystallize CrystallizeConfig `toml:"crystallize" mapstructure:"crystallize"`
	Curation    CurationConfig    `toml:"curation" mapstructure:"curation"`
	Recall      RecallConfig      `toml:"recall" mapstructure:"recall"`
	Schedule    ScheduleConfig    `toml:"schedule" mapstructure:"schedule"`
	Summarizer  SummarizerConfig  `toml:"summarizer" mapstructure:"summarizer"`
	Embedding   EmbeddingConfig   `toml:"embedding" mapstructure:"embedding"`
	EventStream EventStreamConfig `toml:"eventstream" mapstructure:"eventstream"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path,omitempty" mapstructure:"db_path"`
}

// CrystallizeConfig tunes when turns are compressed into crystals.
type CrystallizeConfig struct {
	TurnThreshold    int           `toml:"turn_threshold" mapstructure:"turn_threshold"`
	Staleness        time.Duration `toml:"staleness" mapstructure:"staleness"`
	MaxBatch         int           `toml:"max_batch" mapstructure:"max_batch"`
	Retention        int           `toml:"retention" mapstructure:"retention"`
	SummarizeTimeout time.Duration `toml:"summarize_timeout" mapstructure:"summarize_timeout"`
	LockTTL          time.Duration `toml:"lock_ttl" mapstructure:"lock_ttl"`
	FailureThreshold int           `toml:"failure_threshold" mapstructure:"failure_threshold"`
}

// CurationConfig tunes the fact graph curation pass.
type CurationConfig struct {
	BatchSize           int               `toml:"batch_size" mapstructure:"batch_size"`
	MaxEdges            int               `toml:"max_edges" mapstructure:"max_edges"`
	ReflexivePredicates []string          `toml:"reflexive_predicates" mapstructure:"reflexive_predicates"`
	VagueTerms          []string          `toml:"vague_terms" mapstructure:"vague_terms"`
	Aliases             map[string]string `toml:"aliases,omitempty" mapstructure:"aliases"`
	LockTTL             time.Duration     `toml:"lock_ttl" mapstructure:"lock_ttl"`
	FailureThreshold    int               `toml:"failure_threshold" mapstructure:"failure_threshold"`
	DryRun              bool              `toml:"dry_run" mapstructure:"dry_run"`
}

type RecallConfig struct {
	CrystalLimit int `toml:"crystal_limit" mapstructure:"crystal_limit"`
	AnchorLimit  int `toml:"anchor_limit" mapstructure:"anchor_limit"`
	BriefTail    int `toml:"brief_tail" mapstructure:"brief_tail"`
}

// ScheduleConfig sets the daemon's tick intervals. Zero disables a pass.
type ScheduleConfig struct {
	CrystallizeEvery time.Duration `toml:"crystallize_every" mapstructure:"crystallize_every"`
	CurateEvery      time.Duration `toml:"curate_every" mapstructure:"curate_every"`
}

type SummarizerConfig struct {
	Provider string `toml:"provider" mapstructure:"provider"` // extractive | ollama | openai
	Model    string `toml:"model,omitempty" mapstructure:"model"`
	Target   string `toml:"target,omitempty" mapstructure:"target"`
	MaxInput int    `toml:"max_input" mapstructure:"max_input"`
}

type EmbeddingConfig struct {
	Provider string `toml:"provider,omitempty" mapstructure:"provider"` // "" | ollama | openai
	Model    string `toml:"model,omitempty" mapstructure:"model"`
	Target   string `toml:"target,omitempty" mapstructure:"target"`
}

type EventStreamConfig struct {
	Provider string   `toml:"provider" mapstructure:"provider"` // nop | kafka
	Brokers  []string `toml:"brokers,omitempty" mapstructure:"brokers"`
	Topic    string   `toml:"topic,omitempty" mapstructure:"topic"`
}
