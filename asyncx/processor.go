package asyncx

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Processor manages background workers and keeps the Store consistent when a
// handler gives up on a task.
type Processor struct {
	server  *asynq.Server
	store   Store
	logger  *logrus.Logger
	observe func(taskType string, d time.Duration, err error)
}

type ProcessorConfig struct {
	Concurrency int
	Queues      map[string]int
	Logger      *logrus.Logger
	// Observe, if set, sees every finished task.
	Observe func(taskType string, d time.Duration, err error)
}

func NewProcessor(redisOpt asynq.RedisConnOpt, store Store, cfg ProcessorConfig) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 10
	}
	qs := cfg.Queues
	if qs == nil {
		qs = map[string]int{"default": 1}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: con,
		Queues:      qs,
		Logger:      logger,
	})
	return &Processor{server: server, store: store, logger: logger, observe: cfg.Observe}
}

// lifecycleMiddleware logs each task, recovers handler panics and marks the
// task failed when the handler returns an error. Handlers that record their
// own terminal state return nil.
func (p *Processor) lifecycleMiddleware(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) (err error) {
		start := time.Now()
		id, _ := asynq.GetTaskID(ctx)
		log := p.logger.WithFields(logrus.Fields{"task_id": id, "type": t.Type()})
		log.Info("task started")
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s handler: %v", t.Type(), r)
			}
			if err != nil {
				log.WithError(err).Error("task handler failed")
				if p.store != nil && id != "" {
					if merr := p.store.MarkFailed(context.WithoutCancel(ctx), id, err.Error(), time.Now().UTC()); merr != nil {
						log.WithError(merr).Warn("mark task failed")
					}
				}
			} else {
				log.WithField("elapsed", time.Since(start).String()).Info("task finished")
			}
			if p.observe != nil {
				p.observe(t.Type(), time.Since(start), err)
			}
		}()
		return next.ProcessTask(ctx, t)
	})
}

// Handler returns mux wrapped with the lifecycle middleware.
func (p *Processor) Handler(mux *asynq.ServeMux) asynq.Handler {
	if mux == nil {
		mux = asynq.NewServeMux()
	}
	return p.lifecycleMiddleware(mux)
}

// Start runs the server with provided mux/handler registrations until
// Shutdown is called or a signal arrives.
func (p *Processor) Start(mux *asynq.ServeMux) error {
	return p.server.Run(p.Handler(mux))
}

// Run starts the workers without installing signal handlers and blocks until
// ctx is done, then shuts down.
func (p *Processor) Run(ctx context.Context, mux *asynq.ServeMux) error {
	if err := p.server.Start(p.Handler(mux)); err != nil {
		return err
	}
	<-ctx.Done()
	p.server.Shutdown()
	return nil
}

func (p *Processor) Shutdown() { p.server.Shutdown() }
