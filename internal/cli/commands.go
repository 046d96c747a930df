package cli

import (
	"context"
	"fmt"

	"github.com/smallbiznis/chargeflow/internal/migration"
	"github.com/smallbiznis/chargeflow/internal/scheduler"
	"github.com/smallbiznis/chargeflow/internal/server"
	"github.com/smallbiznis/chargeflow/internal/usage"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func newServeCmd() *cobra.Command {
	var withDaemon bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the charging API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := []fx.Option{
				infrastructure(),
				migration.Module,
				chargingStack(),
				usage.Module,
				server.Module,
			}
			if withDaemon {
				opts = append(opts, scheduler.Module, scheduler.DaemonModule)
			}
			return runUntilDone(cmd.Context(), fx.New(opts...))
		},
	}
	cmd.Flags().BoolVar(&withDaemon, "with-daemon", false, "also run the reconciliation daemon in this process")
	return cmd
}

func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the reconciliation daemon on its cron schedule",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUntilDone(cmd.Context(), fx.New(
				infrastructure(),
				chargingStack(),
				scheduler.Module,
				scheduler.DaemonModule,
			))
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation tick and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var sched *scheduler.Scheduler
			app := fx.New(
				infrastructure(),
				chargingStack(),
				scheduler.Module,
				fx.Populate(&sched),
			)
			return runOnce(cmd.Context(), app, func(ctx context.Context) error {
				if err := sched.RunOnce(ctx); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "reconciliation tick complete")
				return err
			})
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and seed reference data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := fx.New(
				infrastructure(),
				migration.Module,
			)
			return runOnce(cmd.Context(), app, func(context.Context) error {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return err
			})
		},
	}
}

func runUntilDone(ctx context.Context, app *fx.App) error {
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-app.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	return app.Stop(stopCtx)
}

func runOnce(ctx context.Context, app *fx.App, fn func(context.Context) error) error {
	if err := app.Err(); err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}

	runErr := fn(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancel()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
