package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"bitbucket.org/mmdatafocus/erp_mirror/config"
	"bitbucket.org/mmdatafocus/erp_mirror/erpsync"
	"bitbucket.org/mmdatafocus/erp_mirror/models"
	"bitbucket.org/mmdatafocus/erp_mirror/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func connectDB() error {
	if err := config.ConnectDatabase(); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	return nil
}

func runCmd() *cobra.Command {
	var (
		entities    string
		strict      bool
		migrate     bool
		triggeredBy string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Reconcile upstream collections into the mirror",
		Long: `Fetch every selected upstream collection and upsert it into the mirror,
in dependency order: parties and users, orders, tasks, time entries.

Exit status is 1 when the upstream configuration is missing. With --strict it is 2
when any record failed or any entity type did not complete.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadUpstreamConfig()
			if err != nil {
				return exitWith(1, err)
			}
			types, err := erpsync.ParseEntityTypes(utils.SplitAndTrim(entities))
			if err != nil {
				return exitWith(1, err)
			}
			source, err := models.ParseTriggerSource(triggeredBy)
			if err != nil {
				return exitWith(1, err)
			}

			if err := connectDB(); err != nil {
				return exitWith(1, err)
			}
			defer config.CloseDatabase()
			db := config.GetDB()

			if config.RedisConfigured() {
				if err := config.ConnectRedis(); err != nil {
					config.GetLogger().WithError(err).Warn("redis unavailable; run is not guarded against concurrent runs")
				}
			}
			if migrate {
				if err := models.MigrateTables(db); err != nil {
					return exitWith(1, fmt.Errorf("migrate: %w", err))
				}
			}

			svc, err := erpsync.NewServiceFromConfig(cfg, db, nil)
			if err != nil {
				return exitWith(1, err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())

			run, summary, err := svc.RunNow(ctx, types, source)
			if err != nil {
				return exitWith(1, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %d: %s\n", run.ID, summary.Status())
			if err := summary.WriteTable(out); err != nil {
				return err
			}
			if strict && !summary.Clean() {
				return exitWith(2, errors.New("run did not complete cleanly"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&entities, "entities", "", "comma separated entity types (default all)")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit 2 when any record failed or any entity type did not complete")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run AutoMigrate before syncing")
	cmd.Flags().StringVar(&triggeredBy, "triggered-by", models.SyncTriggeredManual, "trigger source recorded on the run (manual, schedule)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the mirror and bookkeeping tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connectDB(); err != nil {
				return err
			}
			defer config.CloseDatabase()
			if err := models.MigrateTables(config.GetDB()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrated")
			return nil
		},
	}
}

func runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := connectDB(); err != nil {
				return err
			}
			defer config.CloseDatabase()

			runs, err := models.ListSyncRuns(cmd.Context(), config.GetDB(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tTRIGGER\tSTARTED\tDURATION\tSUCCEEDED\tFALLBACK\tFAILED")
			for _, run := range runs {
				started := ""
				if run.StartedAt != nil {
					started = run.StartedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
					run.ID, run.Status, run.TriggeredBy, started,
					(time.Duration(run.DurationMs) * time.Millisecond).String(),
					run.Succeeded, run.Fallback, run.Failed)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show (max 100)")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		runId uint
		out   string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the diagnostics of a run to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runId == 0 {
				return errors.New("--run is required")
			}
			if out == "" {
				out = fmt.Sprintf("erp-sync-run-%d.xlsx", runId)
			}
			if err := connectDB(); err != nil {
				return err
			}
			defer config.CloseDatabase()
			db := config.GetDB()

			run, err := models.GetSyncRun(cmd.Context(), db, runId)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("run %d not found", runId)
			}
			if err != nil {
				return err
			}
			diags, err := models.ListSyncDiagnostics(cmd.Context(), db, run.ID)
			if err != nil {
				return err
			}
			f, err := erpsync.BuildDiagnosticsWorkbook(run, diags)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := f.SaveAs(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d diagnostics to %s\n", len(diags), out)
			return nil
		},
	}
	cmd.Flags().UintVar(&runId, "run", 0, "sync run id")
	cmd.Flags().StringVar(&out, "out", "", "output file (default erp-sync-run-<id>.xlsx)")
	return cmd
}
