package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mohans/snaptutor/asyncx"
	"github.com/mohans/snaptutor/internal/explain"
	"github.com/mohans/snaptutor/internal/handler"
	"github.com/mohans/snaptutor/internal/history"
	"github.com/mohans/snaptutor/internal/ratelimit"
	"github.com/mohans/snaptutor/internal/router"
)

func newServeCommand() *cobra.Command {
	var withWorker, skipMigrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and, by default, the background worker)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, withWorker, skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "worker", true, "Run the task worker in the same process")
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not create or verify tables on startup")
	return cmd
}

func runServe(ctx context.Context, withWorker, skipMigrate bool) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if !skipMigrate {
		if err := a.migrate(ctx); err != nil {
			return err
		}
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + a.cfg.Server.Port,
		Handler:           router.Setup(a.handler(), a.routerOptions()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if withWorker {
		p, mux := a.processor()
		g.Go(func() error { return p.Run(ctx, mux) })
	}
	return g.Wait()
}

func (a *app) handler() *handler.Handler {
	client := asyncx.NewClient(a.redisOpt, a.tasks, asyncx.ClientOptions{
		Queue:   a.cfg.Worker.Queue,
		Timeout: a.cfg.Task.TaskTimeout(),
	})
	return handler.New(handler.Deps{
		Submitter: explain.NewSubmitter(client, a.logger),
		Status:    explain.NewStatusService(asyncx.NewStatusReader(a.tasks, a.cache, a.logger)),
		History:   history.NewService(a.history),
		FollowUp: explain.NewFollowUp(a.history, a.explainer(a.cfg.OpenAI.FollowUpModel), explain.FollowUpConfig{
			Model:   a.cfg.OpenAI.FollowUpModel,
			Timeout: a.cfg.Task.ModelTimeout,
		}, a.logger),
		Database: a.tasks,
		Redis:    a.cache,
		Logger:   a.logger,
	})
}

func (a *app) routerOptions() router.Options {
	rl := a.cfg.RateLimit
	limit := func(scope string, n int) handler.Limit {
		rule := ratelimit.Rule{Limit: n, Window: rl.Window}
		return handler.Limit{Limiter: ratelimit.NewRedisWindow(a.rdb, scope, rule), Rule: rule}
	}
	return router.Options{
		StaticDir: a.cfg.Static.Dir,
		Upload:    limit("upload", rl.Upload),
		Status:    limit("status", rl.Status),
		History:   limit("history", rl.History),
		FollowUp:  limit("followup", rl.FollowUp),
		Logger:    a.logger,
	}
}
