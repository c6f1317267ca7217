// Package service is the transport-agnostic request/response surface of
// pps. It wires the store, the coordinator and the background passes from a
// Config and exposes one method per external operation.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/pattern-persistence/internal/config"
	"github.com/rcliao/pattern-persistence/internal/coord"
	"github.com/rcliao/pattern-persistence/internal/crystallize"
	"github.com/rcliao/pattern-persistence/internal/curate"
	"github.com/rcliao/pattern-persistence/internal/embedding"
	"github.com/rcliao/pattern-persistence/internal/eventstream"
	"github.com/rcliao/pattern-persistence/internal/eventstream/kafka"
	"github.com/rcliao/pattern-persistence/internal/eventstream/nop"
	"github.com/rcliao/pattern-persistence/internal/recall"
	"github.com/rcliao/pattern-persistence/internal/schedule"
	"github.com/rcliao/pattern-persistence/internal/store"
	"github.com/rcliao/pattern-persistence/internal/summarize"
)

// Options configures Open. Collaborators left nil are built from Config.
type Options struct {
	Config *config.Config
	DBPath string // overrides Config.Storage.DBPath
	Logger *zap.Logger

	Summarizer summarize.Summarizer
	Embedder   embedding.Embedder
	Publisher  eventstream.Publisher

	Now func() time.Time
}

// Service holds one open database and the components running over it.
type Service struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *store.SQLiteStore
	coord     *coord.Coordinator
	embedder  embedding.Embedder
	publisher eventstream.Publisher

	crystallizer *crystallize.Crystallizer
	curator      *curate.Curator
	recall       *recall.Aggregator
}

// Open opens the database and builds every component.
func Open(opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewDefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = cfg.Storage.DBPath
	}
	if dbPath == "" {
		dbPath = config.DefaultDBPath()
	}

	var storeOpts []store.Option
	if opts.Now != nil {
		storeOpts = append(storeOpts, store.WithClock(opts.Now))
	}
	s, err := store.NewSQLiteStore(dbPath, storeOpts...)
	if err != nil {
		return nil, err
	}

	svc := &Service{cfg: cfg, logger: logger, store: s}
	if err := svc.wire(opts); err != nil {
		s.Close()
		return nil, err
	}
	logger.Debug("service opened", zap.String("db", dbPath))
	return svc, nil
}

func (s *Service) wire(opts Options) error {
	cfg := s.cfg

	summarizer := opts.Summarizer
	if summarizer == nil {
		var err error
		summarizer, err = summarize.New(summarize.Config{
			Provider: cfg.Summarizer.Provider,
			Model:    cfg.Summarizer.Model,
			Target:   cfg.Summarizer.Target,
			MaxInput: cfg.Summarizer.MaxInput,
		})
		if err != nil {
			return fmt.Errorf("summarizer: %w", err)
		}
	}

	s.embedder = opts.Embedder
	if s.embedder == nil {
		var err error
		s.embedder, err = embedding.New(embedding.Config{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
			Target:   cfg.Embedding.Target,
		})
		if err != nil {
			return fmt.Errorf("embedder: %w", err)
		}
	}

	s.publisher = opts.Publisher
	if s.publisher == nil {
		var err error
		s.publisher, err = NewPublisher(cfg.EventStream)
		if err != nil {
			return fmt.Errorf("event stream: %w", err)
		}
	}

	s.coord = coord.New(coord.Config{
		Locks:  s.store,
		Logger: s.logger.Named("coord"),
		Now:    opts.Now,
	})

	var err error
	s.crystallizer, err = crystallize.New(crystallize.Config{
		Store:            s.store,
		Coordinator:      s.coord,
		Summarizer:       summarizer,
		Publisher:        s.publisher,
		Logger:           s.logger.Named("crystallize"),
		TurnThreshold:    cfg.Crystallize.TurnThreshold,
		Staleness:        cfg.Crystallize.Staleness,
		MaxBatch:         cfg.Crystallize.MaxBatch,
		Retention:        cfg.Crystallize.Retention,
		SummarizeTimeout: cfg.Crystallize.SummarizeTimeout,
		LockTTL:          cfg.Crystallize.LockTTL,
		FailureThreshold: cfg.Crystallize.FailureThreshold,
		Now:              opts.Now,
	})
	if err != nil {
		return err
	}

	s.curator, err = curate.New(curate.Config{
		Graph:               s.store,
		Coordinator:         s.coord,
		Publisher:           s.publisher,
		Logger:              s.logger.Named("curate"),
		BatchSize:           cfg.Curation.BatchSize,
		MaxEdges:            cfg.Curation.MaxEdges,
		ReflexivePredicates: cfg.Curation.ReflexivePredicates,
		VagueTerms:          cfg.Curation.VagueTerms,
		LockTTL:             cfg.Curation.LockTTL,
		FailureThreshold:    cfg.Curation.FailureThreshold,
		Now:                 opts.Now,
	})
	if err != nil {
		return err
	}

	s.recall = recall.New(recall.Config{
		Store:        s.store,
		Embedder:     s.embedder,
		Logger:       s.logger.Named("recall"),
		CrystalLimit: cfg.Recall.CrystalLimit,
		AnchorLimit:  cfg.Recall.AnchorLimit,
		BriefTail:    cfg.Recall.BriefTail,
	})
	return nil
}

// NewPublisher builds the configured event stream publisher.
func NewPublisher(c config.EventStreamConfig) (eventstream.Publisher, error) {
	switch strings.ToLower(c.Provider) {
	case "", "nop":
		return nop.NewPublisher(), nil
	case "kafka":
		return kafka.NewPublisher(kafka.Config{Brokers: c.Brokers, Topic: c.Topic})
	default:
		return nil, fmt.Errorf("unknown event stream provider %q (valid: nop, kafka)", c.Provider)
	}
}

// DBPath returns the path of the open database.
func (s *Service) DBPath() string {
	return s.store.Path()
}

// Close flushes the publisher and closes the database.
func (s *Service) Close() error {
	perr := s.publisher.Close()
	if err := s.store.Close(); err != nil {
		return err
	}
	return perr
}

// Scheduler returns a runner for the periodic crystallize and curate passes
// at the configured intervals.
func (s *Service) Scheduler() *schedule.Runner {
	return schedule.NewRunner(s.logger.Named("schedule"),
		schedule.Task{
			Name:  coord.PassCrystallize,
			Every: s.cfg.Schedule.CrystallizeEvery,
			Run: func(ctx context.Context) error {
				_, err := s.crystallizer.Tick(ctx)
				return err
			},
		},
		schedule.Task{
			Name:  coord.PassCurate,
			Every: s.cfg.Schedule.CurateEvery,
			Run: func(ctx context.Context) error {
				_, err := s.curator.Run(ctx, curate.Options{DryRun: s.cfg.Curation.DryRun})
				return err
			},
		},
	)
}
