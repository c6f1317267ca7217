package config

import (
	"time"

	"github.com/rcliao/pattern-persistence/internal/chunker"
	"github.com/rcliao/pattern-persistence/internal/coord"
	"github.com/rcliao/pattern-persistence/internal/crystallize"
	"github.com/rcliao/pattern-persistence/internal/curate"
)

const (
	defaultTurnThreshold    = crystallize.DefaultTurnThreshold
	defaultStaleness        = crystallize.DefaultStaleness
	defaultMaxBatch         = crystallize.DefaultMaxBatch
	defaultRetention        = 10
	defaultSummarizeTimeout = crystallize.DefaultSummarizeTimeout
	defaultLockTTL          = coord.DefaultTTL
	defaultFailureThreshold = crystallize.DefaultFailureThreshold

	defaultCurationBatch = curate.DefaultBatchSize

	// MaxBatchCap bounds every batch size setting.
	MaxBatchCap = crystallize.MaxBatchCap

	defaultCrystalLimit = 3
	defaultAnchorLimit  = 5
	defaultBriefTail    = 20

	defaultCrystallizeEvery = 5 * time.Minute
	defaultCurateEvery      = time.Hour

	defaultSummarizer = "extractive"
	defaultMaxInput   = chunker.DefaultMaxSize

	defaultEventStream = "nop"
	defaultTopic       = "pps.events"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
func NewDefaultConfig() *Config {
	return &Config{
		Crystallize: CrystallizeConfig{
			TurnThreshold:    defaultTurnThreshold,
			Staleness:        defaultStaleness,
			MaxBatch:         defaultMaxBatch,
			Retention:        defaultRetention,
			SummarizeTimeout: defaultSummarizeTimeout,
			LockTTL:          defaultLockTTL,
			FailureThreshold: defaultFailureThreshold,
		},
		Curation: CurationConfig{
			BatchSize:           defaultCurationBatch,
			ReflexivePredicates: append([]string(nil), curate.DefaultReflexivePredicates...),
			VagueTerms:          append([]string(nil), curate.DefaultVagueTerms...),
			LockTTL:             defaultLockTTL,
			FailureThreshold:    defaultFailureThreshold,
		},
		Recall: RecallConfig{
			CrystalLimit: defaultCrystalLimit,
			AnchorLimit:  defaultAnchorLimit,
			BriefTail:    defaultBriefTail,
		},
		Schedule: ScheduleConfig{
			CrystallizeEvery: defaultCrystallizeEvery,
			CurateEvery:      defaultCurateEvery,
		},
		Summarizer: SummarizerConfig{
			Provider: defaultSummarizer,
			MaxInput: defaultMaxInput,
		},
		EventStream: EventStreamConfig{
			Provider: defaultEventStream,
			Topic:    defaultTopic,
		},
	}
}
