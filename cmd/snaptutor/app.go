package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mohans/snaptutor/asyncx"
	"github.com/mohans/snaptutor/internal/config"
	"github.com/mohans/snaptutor/internal/database"
	"github.com/mohans/snaptutor/internal/explain"
	"github.com/mohans/snaptutor/internal/history"
	"github.com/mohans/snaptutor/internal/logging"
	"github.com/mohans/snaptutor/internal/metrics"
	"github.com/mohans/snaptutor/internal/vision"
)

// app holds the shared connections every command needs.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	db       *sql.DB
	dialect  database.Dialect
	rdb      *redis.Client
	redisOpt asynq.RedisConnOpt
	tasks    *asyncx.SQLStore
	history  *history.SQLStore
	cache    *asyncx.ResultCache
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.Log.Level)

	redisOptions, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	redisOpt, err := asynq.ParseRedisURI(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL for asynq: %w", err)
	}
	db, dialect, err := database.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(redisOptions)

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		dialect:  dialect,
		rdb:      rdb,
		redisOpt: redisOpt,
		tasks:    asyncx.NewSQLStore(db, dialect),
		history:  history.NewSQLStore(db, dialect),
		cache:    asyncx.NewResultCache(rdb, cfg.Cache.TTL),
	}, nil
}

func (a *app) close() {
	if err := a.rdb.Close(); err != nil {
		a.logger.WithError(err).Warn("close redis")
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("close database")
	}
}

func (a *app) migrate(ctx context.Context) error {
	return database.MigrateLocked(ctx, a.db, a.dialect, redislock.New(a.rdb), a.logger)
}

func (a *app) explainer(model string) *vision.OpenAIClient {
	return vision.NewOpenAIClient(vision.OpenAIConfig{
		APIKey:  a.cfg.OpenAI.APIKey,
		BaseURL: a.cfg.OpenAI.BaseURL,
		Model:   model,
		Timeout: a.cfg.Task.ModelTimeout,
	}, a.logger).WithObserver(metrics.ObserveModelCall)
}

func (a *app) processor() (*asyncx.Processor, *asynq.ServeMux) {
	retry := asyncx.RetryPolicy{
		MaxAttempts: a.cfg.Task.MaxAttempts,
		Delay:       a.cfg.Task.RetryDelay,
		OnFailure: func(int, error) {
			metrics.TaskAttemptFailures.Inc()
		},
	}
	runner := explain.NewRunner(a.tasks, a.history, a.cache, a.explainer(a.cfg.OpenAI.Model), explain.RunnerConfig{
		Retry:        retry,
		Model:        a.cfg.OpenAI.Model,
		ModelTimeout: a.cfg.Task.ModelTimeout,
		OnOutcome: func(taskType string, status asyncx.Status) {
			metrics.ObserveOutcome(taskType, string(status))
		},
	}, a.logger)
	mux := asynq.NewServeMux()
	runner.Register(mux)

	p := asyncx.NewProcessor(a.redisOpt, a.tasks, asyncx.ProcessorConfig{
		Concurrency: a.cfg.Worker.Concurrency,
		Queues:      map[string]int{a.cfg.Worker.Queue: 1},
		Logger:      a.logger,
		Observe:     metrics.ObserveTask,
	})
	return p, mux
}
