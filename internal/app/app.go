// Package app wires stores, clients and services from configuration. Both
// binaries build on it.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"politikcred/internal/domain"
	"politikcred/internal/ingest/seen"
	ingest "politikcred/internal/ingest/service"
	"politikcred/internal/ingest/sources"
	actionstore "politikcred/internal/ingest/store"
	jwttoken "politikcred/internal/jwt_token"
	"politikcred/internal/matching"
	"politikcred/internal/pipeline/events"
	pipelinemetrics "politikcred/internal/pipeline/metrics"
	pipeline "politikcred/internal/pipeline/service"
	runstore "politikcred/internal/pipeline/store"
	"politikcred/internal/platform/config"
	"politikcred/internal/platform/kafka"
	"politikcred/internal/platform/metrics"
	"politikcred/internal/platform/postgres"
	"politikcred/internal/platform/redis"
	"politikcred/internal/politician/seed"
	politicianstore "politikcred/internal/politician/store"
	"politikcred/internal/scoring"
	verificationmetrics "politikcred/internal/verification/metrics"
	moderation "politikcred/internal/verification/service"
	verificationstore "politikcred/internal/verification/store"
	"politikcred/pkg/platform/circuit"
)

// PoliticianStore is everything the services need from politician storage.
type PoliticianStore interface {
	seed.Store
	pipeline.PoliticianStore
	Get(ctx context.Context, id domain.PoliticianID) (*domain.Politician, error)
	UpdateScore(ctx context.Context, id domain.PoliticianID, score int, label domain.CredibilityLabel, at time.Time) error
}

type ActionStore interface {
	ingest.ActionStore
	pipeline.ActionStore
}

type VerificationStore interface {
	pipeline.VerificationStore
	moderation.Store
	ListByPolitician(ctx context.Context, id domain.PoliticianID) ([]*domain.Verification, error)
}

// App holds the wired dependency graph.
type App struct {
	Config config.Config
	Logger *slog.Logger

	DB    *sql.DB
	Redis *redis.Client
	Kafka *kafka.Client

	Politicians   PoliticianStore
	Actions       ActionStore
	Verifications VerificationStore
	Runs          pipeline.RunStore

	Pipeline   *pipeline.Service
	Moderation *moderation.Moderation
	Seeder     *seed.Seeder
	Triggers   *jwttoken.JWTService

	HTTPMetrics       *metrics.Metrics
	ModerationMetrics *verificationmetrics.Metrics
	PipelineMetrics   *pipelinemetrics.Metrics
	Registry          prometheus.Gatherer
}

type Option func(*options)

type options struct {
	registry *prometheus.Registry
}

// WithRegistry registers metrics on reg instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// New connects the configured backends and builds every service. Without a
// database URL all state is in memory and lost on exit.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if o.registry != nil {
		reg, gatherer = o.registry, o.registry
	}
	a := &App{
		Config:            cfg,
		Logger:            logger,
		HTTPMetrics:       metrics.NewWithRegisterer(reg),
		ModerationMetrics: verificationmetrics.NewWithRegisterer(reg),
		PipelineMetrics:   pipelinemetrics.NewWithRegisterer(reg),
		Registry:          gatherer,
		Triggers:          jwttoken.NewJWTService(cfg.Server.TriggerSecret, cfg.Server.TriggerIssuer),
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}
	if err := a.openMessaging(ctx); err != nil {
		return nil, err
	}
	if err := a.buildServices(); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	db, err := postgres.Open(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	if db == nil {
		a.Logger.WarnContext(ctx, "no database configured, using in-memory stores")
		a.Politicians = politicianstore.NewInMemoryStore()
		a.Actions = actionstore.NewInMemoryStore()
		a.Verifications = verificationstore.NewInMemoryStore()
		a.Runs = runstore.NewInMemoryStore()
		return nil
	}
	a.DB = db
	if err := postgres.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.Politicians = politicianstore.NewPostgres(db)
	a.Actions = actionstore.NewPostgres(db)
	a.Verifications = verificationstore.NewPostgres(db)
	a.Runs = runstore.NewPostgres(db)
	return nil
}

func (a *App) openMessaging(ctx context.Context) error {
	rc, err := redis.New(a.Config.Redis)
	if err != nil {
		return err
	}
	a.Redis = rc

	kc, err := kafka.New(a.Config.Kafka)
	if err != nil {
		return err
	}
	a.Kafka = kc
	if kc != nil {
		if err := kc.EnsureTopic(ctx, 3, 1); err != nil {
			a.Logger.WarnContext(ctx, "could not ensure pipeline topic", "topic", kc.Topic(), "error", err)
		}
	}
	return nil
}

func (a *App) buildServices() error {
	cfg := a.Config
	var cache seen.Cache = seen.NewMemoryCache(cfg.Redis.SeenTTL)
	if a.Redis != nil {
		cache = seen.NewRedisCache(a.Redis.Client, cfg.Redis.SeenTTL)
	}
	ingestor, err := ingest.New(a.Actions, a.sources(),
		ingest.WithLogger(a.Logger),
		ingest.WithSeenCache(cache),
	)
	if err != nil {
		return err
	}

	scorer, err := a.scorer()
	if err != nil {
		return err
	}
	matcher, err := matching.New(scorer, matching.Config{
		MinConfidence: cfg.Matching.MinConfidence,
		Lookback:      cfg.Matching.Lookback,
		Lookahead:     cfg.Matching.Lookahead,
	}, matching.WithLogger(a.Logger))
	if err != nil {
		return err
	}

	engine, err := scoring.New(a.Politicians, a.Verifications, a.Politicians, scoring.Config{
		HalfLife:        cfg.Scoring.HalfLife,
		AutomatedWeight: cfg.Scoring.AutomatedWeight,
		Steepness:       cfg.Scoring.Steepness,
	}, scoring.WithLogger(a.Logger))
	if err != nil {
		return err
	}

	var sink events.Sink
	if a.Kafka != nil {
		sink = a.Kafka
	}
	a.Pipeline, err = pipeline.New(pipeline.Dependencies{
		Runs:          a.Runs,
		Ingestor:      ingestor,
		Actions:       a.Actions,
		Politicians:   a.Politicians,
		Matcher:       matcher,
		Verifications: a.Verifications,
		Scores:        engine,
		Events:        events.NewPublisher(sink),
	},
		pipeline.WithLogger(a.Logger),
		pipeline.WithMetrics(a.PipelineMetrics),
		pipeline.WithWorkers(cfg.Pipeline.Workers),
		pipeline.WithStaleAfter(cfg.Pipeline.StaleAfter),
		pipeline.WithRunTimeout(cfg.Pipeline.RunTimeout),
	)
	if err != nil {
		return err
	}

	a.Moderation, err = moderation.New(a.Verifications, a.Politicians,
		moderation.WithLogger(a.Logger),
		moderation.WithMetrics(a.ModerationMetrics),
	)
	if err != nil {
		return err
	}

	seedOpts := []seed.Option{seed.WithLogger(a.Logger)}
	if a.DB != nil {
		db := a.DB
		seedOpts = append(seedOpts, seed.WithTx(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return postgres.RunInTx(ctx, db, fn)
		}))
	}
	a.Seeder = seed.New(a.Politicians, seedOpts...)
	return nil
}

func (a *App) sources() []sources.Source {
	out := make([]sources.Source, 0, len(a.Config.Sources))
	for _, s := range a.Config.Sources {
		var opts []sources.HTTPOption
		if s.RatePerSecond > 0 {
			opts = append(opts, sources.WithRateLimit(s.RatePerSecond, s.Burst))
		}
		out = append(out, sources.NewHTTPSource(s.ID, s.BaseURL, s.APIKey, s.Timeout, opts...))
	}
	return out
}

// scorer is the keyword scorer, fronted by the AI scorer when enabled.
func (a *App) scorer() (matching.Scorer, error) {
	keyword := matching.NewKeywordScorer()
	cfg := a.Config
	if !cfg.Matching.UseOpenAI {
		return keyword, nil
	}
	ai, err := matching.NewOpenAIScorer(matching.OpenAIConfig{
		APIKey:   cfg.OpenAI.APIKey,
		BaseURL:  cfg.OpenAI.BaseURL,
		Model:    cfg.OpenAI.Model,
		Timeout:  cfg.OpenAI.Timeout,
		CacheTTL: cfg.OpenAI.CacheTTL,
	}, matching.WithOpenAILogger(a.Logger))
	if err != nil {
		return nil, fmt.Errorf("openai scorer: %w", err)
	}
	return matching.NewFallbackScorer(ai, keyword,
		matching.WithFallbackLogger(a.Logger),
		matching.WithBreaker(circuit.New("openai")),
	), nil
}

// Close releases every connection that was opened.
func (a *App) Close() {
	if a.Kafka != nil {
		a.Kafka.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
