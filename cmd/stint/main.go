// Command stint runs a demo batch engine and inspects its persisted jobs.
//
//	stint demo            # run a simulated batch against a quota budget
//	stint status          # list persisted jobs and their progress
//	stint --config c.yaml # point either command at a config file
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stintio/stint"
	"github.com/stintio/stint/pkg/core"
	"github.com/stintio/stint/pkg/metrics"
	"github.com/stintio/stint/pkg/runner"
	"github.com/stintio/stint/pkg/trigger"
)

var configFile string

func main() {
	if err := buildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stint",
		Short: "stint: a resumable, quota-aware batch execution engine",
		Long: `Stint processes batch jobs in bounded runs: each run checkpoints its
progress and returns before its time budget, pausing on exhausted quota
windows or open circuits and resuming automatically when they clear.`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "stint.yaml", "config file path")

	rootCmd.AddCommand(buildDemoCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func buildDemoCommand() *cobra.Command {
	var items int
	var quotaLimit int64
	var flakyPct int

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a simulated batch job against a small quota budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(items, quotaLimit, flakyPct)
		},
	}

	cmd.Flags().IntVar(&items, "items", 200, "number of items in the demo job")
	cmd.Flags().Int64Var(&quotaLimit, "quota", 50, "quota budget per minute window")
	cmd.Flags().IntVar(&flakyPct, "flaky", 5, "percent of item calls that fail transiently")

	return cmd
}

func runDemo(items int, quotaLimit int64, flakyPct int) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	engine := stint.NewEngine(store,
		stint.WithLogger(logger),
		stint.WithRunDefaults(runner.RunConfig{
			TimeBudget:     cfg.Engine.TimeBudget,
			SafetyFraction: cfg.Engine.SafetyFraction,
			SaveEvery:      cfg.Engine.SaveEvery,
			ResumeDelay:    cfg.Engine.ResumeDelay,
		}),
		stint.WithDispatcher(trigger.DispatcherConfig{
			PollInterval: cfg.Dispatcher.PollInterval,
			ClaimLimit:   cfg.Dispatcher.ClaimLimit,
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	// A one-minute rolling window keeps the demo pausing and resuming
	// visibly instead of finishing in one run.
	engine.Quota().Add("demo_api", quotaLimit, stint.Every(time.Minute))
	engine.Pacer().Set("demo_api", 25, 5)

	err = engine.Register("demo-batch", func(ctx context.Context, job *stint.Job, offset int) error {
		time.Sleep(10 * time.Millisecond) // simulated remote call
		if flakyPct > 0 && rand.Intn(100) < flakyPct {
			return fmt.Errorf("simulated transient failure at offset %d", offset)
		}
		return nil
	},
		stint.WithBudget("demo_api", 1),
		stint.WithDependency("demo_api"),
	)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("metrics server listening", "addr", addr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	go logEvents(ctx, engine, logger)

	job, err := engine.Submit(ctx, "demo-batch", nil, items,
		stint.WithUniqueKey("demo-"+time.Now().Format("20060102-150405")))
	if err != nil {
		return fmt.Errorf("failed to submit demo job: %w", err)
	}
	logger.Info("demo job submitted", "job_id", job.ID, "items", items, "quota", quotaLimit)

	// First run happens inline; paused continuations come back through
	// the dispatcher as their triggers fire.
	report, err := engine.Run(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("first run failed: %w", err)
	}
	logger.Info("first run returned", "status", report.Status, "offset", report.LastCompletedOffset)

	if report.Status == core.RunCompleted {
		return nil
	}

	err = engine.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func buildStatusCommand() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List persisted jobs and their progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showStatus(status, limit)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by job status (new, running, paused, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum jobs to list")

	return cmd
}

func showStatus(status string, limit int) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	jobs, err := store.ListJobs(context.Background(), core.JobStatus(status), limit)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("no jobs")
		return nil
	}

	fmt.Printf("%-36s  %-16s  %-10s  %5s  %9s  %s\n",
		"ID", "TYPE", "STATUS", "RUNS", "PROGRESS", "DETAIL")
	for _, j := range jobs {
		detail := j.PauseReason
		if j.Status == core.StatusFailed {
			detail = j.LastError
		}
		fmt.Printf("%-36s  %-16s  %-10s  %5d  %4d/%-4d  %s\n",
			j.ID, j.Type, j.Status, j.Runs, j.ItemsProcessed, j.ItemCount, detail)
	}
	return nil
}

func logEvents(ctx context.Context, engine *stint.Engine, logger *slog.Logger) {
	ch := engine.Events()
	defer engine.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			switch e := evt.(type) {
			case *stint.JobPaused:
				logger.Info("job paused",
					"job_id", e.Job.ID, "reason", e.Report.Reason, "resume_at", e.ResumeAt)
			case *stint.JobCompleted:
				logger.Info("job completed",
					"job_id", e.Job.ID, "items", e.Job.ItemCount, "duration", e.Duration)
			case *stint.JobFailed:
				logger.Error("job failed", "job_id", e.Job.ID, "error", e.Error)
			case *stint.CircuitOpened:
				logger.Warn("circuit opened", "dependency", e.Dependency, "retry_at", e.RetryAt)
			}
		}
	}
}
