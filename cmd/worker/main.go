package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/punchamoorthee/dropledger/internal/app"
	"github.com/punchamoorthee/dropledger/internal/config"
	"github.com/punchamoorthee/dropledger/internal/store"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:          "market-worker",
		Short:        "Scheduled lifecycle jobs for the marketplace",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "optional YAML config file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(onceCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "market-worker")
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func build(ctx context.Context, logger *slog.Logger) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, logger)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the cron schedule and the notification drainer until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			logger := newLogger()

			a, err := build(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sched := a.Scheduler(ctx)
			for _, job := range a.Jobs() {
				if err := sched.Add(job); err != nil {
					return err
				}
			}
			if a.Payout == nil {
				logger.Warn("payout job disabled, no payout credentials", "module", "worker", "operation", "run", "outcome", "skipped")
			}
			sched.Start()
			go a.Drainer.Run(ctx, a.Config.Outbox.Interval)

			logger.Info("worker started", "module", "worker", "operation", "run", "outcome", "started")
			<-ctx.Done()
			sched.Stop()
			logger.Info("worker stopped", "module", "worker", "operation", "run", "outcome", "stopped")
			return nil
		},
	}
}

func onceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once [cleanup|expiration_warnings|payout|drain]",
		Short: "Run a single job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			logger := newLogger()

			a, err := build(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if args[0] == "drain" {
				sent, failed, err := a.Drainer.Drain(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "sent=%d failed=%d\n", sent, failed)
				return nil
			}

			job, err := a.Job(args[0])
			if err != nil {
				return err
			}
			if !a.Scheduler(ctx).RunOnce(ctx, job) {
				return fmt.Errorf("job %s did not run: lease held elsewhere", job.Name)
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			logger := newLogger()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			st, err := store.NewPostgres(ctx, cfg.DBSource, cfg.MaxDBConns)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.Migrate(ctx, logger)
		},
	}
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [user-id...]",
		Short: "Compare ledger sums against stored balances",
		Long: `Sums every transaction of each user and compares it with the stored
balance. Without arguments every account holding a balance is checked.
Exits non-zero when any account is out of balance.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			logger := newLogger()

			a, err := build(ctx, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			users := args
			if len(users) == 0 {
				accounts, err := a.Store.ListAccountsWithBalance(ctx)
				if err != nil {
					return err
				}
				for _, acct := range accounts {
					users = append(users, acct.ID)
				}
			}

			drift := 0
			for _, id := range users {
				r, err := a.Ledger.Reconcile(ctx, id)
				if err != nil {
					return fmt.Errorf("reconcile %s: %w", id, err)
				}
				status := "ok"
				if !r.Balanced() {
					status = "DRIFT"
					drift++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tledger=%s\tbalance=%s\t%s\n", id, r.LedgerSum.StringFixed(2), r.Balance.StringFixed(2), status)
			}
			if drift > 0 {
				return fmt.Errorf("%d of %d accounts out of balance", drift, len(users))
			}
			return nil
		},
	}
}
