package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"survey-platform/internal/audit"
	"survey-platform/internal/ingest"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Respondent queue maintenance",
}

var (
	queueSurvey     string
	importFile      string
	importSheet     string
	importHeaderRow int
	stuckOlderThan  time.Duration
)

var queueImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Queue respondents from an xlsx contact sheet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sheet, err := ingest.ReadContactSheet(importFile, ingest.Options{SheetName: importSheet, HeaderRow: importHeaderRow})
		if err != nil {
			return eris.Wrap(err, "queue import")
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		res, err := a.Queue.Initialize(ctx, queueSurvey, sheet.Contacts)
		if err != nil {
			return eris.Wrap(err, "queue import: initialize")
		}
		logAdmin(ctx, a.Audit, queueSurvey, "queue import", map[string]any{"file": importFile, "result": res, "dropped": sheet.Dropped})
		log.Info("queue import complete",
			"survey_id", queueSurvey,
			"inserted", res.Inserted,
			"skipped", res.Skipped,
			"dropped_rows", sheet.Dropped)
		return printJSON(cmd.OutOrStdout(), map[string]any{"result": res, "dropped_rows": sheet.Dropped, "columns": sheet.Columns})
	},
}

var queueResetCmd = &cobra.Command{
	Use:   "reset-stuck",
	Short: "Return entries held by interviewers for too long to pending",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if stuckOlderThan <= 0 {
			return eris.New("--older-than must be positive")
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		n, err := a.Queue.ResetStuck(ctx, queueSurvey, stuckOlderThan)
		if err != nil {
			return eris.Wrap(err, "queue reset-stuck")
		}
		logAdmin(ctx, a.Audit, queueSurvey, "queue reset stuck", map[string]any{"older_than": stuckOlderThan.String(), "reset": n})
		log.Info("stuck entries reset", "survey_id", queueSurvey, "reset", n)
		return printJSON(cmd.OutOrStdout(), map[string]int{"reset": n})
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue entry counts by status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		st, err := a.Queue.Stats(ctx, queueSurvey)
		if err != nil {
			return eris.Wrap(err, "queue stats")
		}
		return printJSON(cmd.OutOrStdout(), st)
	},
}

// logAdmin records a CLI admin action; audit failures only warn.
func logAdmin(ctx context.Context, svc *audit.Service, surveyID, message string, meta any) {
	if err := svc.LogAdminAction(ctx, "surveyctl", "cli", surveyID, message, audit.Metadata(meta)); err != nil {
		log.Warn("audit append failed", "err", err)
	}
}

func init() {
	queueCmd.PersistentFlags().StringVar(&queueSurvey, "survey", "", "survey id (required)")
	_ = queueCmd.MarkPersistentFlagRequired("survey")

	queueImportCmd.Flags().StringVar(&importFile, "file", "", "path to xlsx contact sheet (required)")
	queueImportCmd.Flags().StringVar(&importSheet, "sheet", "", "sheet name; defaults to the first sheet")
	queueImportCmd.Flags().IntVar(&importHeaderRow, "header-row", 0, "zero-based header row index")
	_ = queueImportCmd.MarkFlagRequired("file")

	queueResetCmd.Flags().DurationVar(&stuckOlderThan, "older-than", 30*time.Minute, "reset entries assigned longer ago than this")

	queueCmd.AddCommand(queueImportCmd, queueResetCmd, queueStatsCmd)
	rootCmd.AddCommand(queueCmd)
}
