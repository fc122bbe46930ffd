package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wellcheck/internal/auth"
	"wellcheck/internal/checkin"
	httpx "wellcheck/internal/http"
	"wellcheck/internal/jobs"
	"wellcheck/internal/notify"
)

var (
	serveWorkers     int
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, scheduler and job workers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 1, "Number of job workers (0 disables)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "Do not run the scheduler loop")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, gdb, err := open()
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		return errors.New("missing env: JWT_SECRET")
	}

	svc := &checkin.Service{DB: gdb, Log: logger.Named("checkin")}
	r := httpx.NewRouter(cfg, gdb, auth.NewJWT(cfg.JWTSecret), svc, logger.Named("http"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	host, _ := os.Hostname()
	handlers := svc.JobHandlers(notify.ForDB(gdb, cfg.NotifyChannel, logger.Named("notify")))
	for i := 0; i < serveWorkers; i++ {
		w := &jobs.Worker{
			ID:       fmt.Sprintf("%s-%d-%d", host, os.Getpid(), i+1),
			Repo:     &jobs.Repo{DB: gdb},
			Handlers: handlers,
			Log:      logger.Named("worker"),
			Interval: cfg.WorkerPollInterval,
		}
		g.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}

	if !serveNoScheduler {
		sch := &checkin.Scheduler{Service: svc, Concurrency: cfg.SchedulerConcurrency, Log: logger.Named("scheduler")}
		g.Go(func() error {
			sch.Run(gctx, cfg.SchedulerInterval)
			return nil
		})
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
