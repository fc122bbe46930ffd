package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wellcheck/internal/checkin"
	"wellcheck/internal/config"
	"wellcheck/internal/db"
	"wellcheck/internal/jobs"
	"wellcheck/internal/notify"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, _, err := open()
		if err == nil {
			logger.Info("schema up to date")
		}
		return err
	},
}

var tickDrain bool

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run one scheduler pass",
	Long: `Run one scheduler pass for every user at the current time. With --drain
the jobs it enqueued are run before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, gdb, err := open()
		if err != nil {
			return err
		}
		svc := &checkin.Service{DB: gdb, Log: logger.Named("checkin")}
		sch := &checkin.Scheduler{Service: svc, Concurrency: cfg.SchedulerConcurrency, Log: logger.Named("scheduler")}

		ctx := cmd.Context()
		st, err := sch.Tick(ctx, time.Now())
		if err != nil {
			return err
		}
		if !tickDrain {
			return nil
		}

		w := &jobs.Worker{
			ID:       fmt.Sprintf("tick-%d", os.Getpid()),
			Repo:     &jobs.Repo{DB: gdb},
			Handlers: svc.JobHandlers(notify.ForDB(gdb, cfg.NotifyChannel, logger.Named("notify"))),
			Log:      logger.Named("worker"),
		}
		ran := 0
		for {
			found, err := w.RunOnce(ctx)
			if err != nil {
				return err
			}
			if !found {
				break
			}
			ran++
		}
		logger.Info("tick drained", zap.Int64("notified", st.Notified), zap.Int("jobs", ran))
		return nil
	},
}

var (
	aggregateUser uint64
	aggregateDate string
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute one user's daily log",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, gdb, err := open()
		if err != nil {
			return err
		}
		svc := &checkin.Service{DB: gdb, Log: logger.Named("checkin")}
		l, err := svc.AggregateDay(cmd.Context(), aggregateUser, aggregateDate)
		if err != nil {
			return err
		}
		emotions := make(map[string]int, len(l.Emotions))
		for _, e := range l.Emotions {
			emotions[e.Emotion] = e.Intensity
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"date":         l.Date,
			"is_completed": l.IsCompleted,
			"summary":      l.Summary,
			"emotions":     emotions,
		})
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print check-in prompts published on the notify channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		gdb, err := db.Connect(cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		if gdb.Dialector.Name() != "postgres" {
			return errors.New("listen requires a postgres DATABASE_URL")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		enc := json.NewEncoder(cmd.OutOrStdout())
		return notify.Listen(ctx, cfg.DatabaseURL, cfg.NotifyChannel, logger.Named("listen"), func(p notify.Prompt) {
			_ = enc.Encode(p)
		})
	},
}

func init() {
	tickCmd.Flags().BoolVar(&tickDrain, "drain", false, "Run enqueued jobs before exiting")

	aggregateCmd.Flags().Uint64Var(&aggregateUser, "user", 0, "User id (required)")
	aggregateCmd.Flags().StringVar(&aggregateDate, "date", "", "Day as YYYY-MM-DD (required)")
	_ = aggregateCmd.MarkFlagRequired("user")
	_ = aggregateCmd.MarkFlagRequired("date")
}
