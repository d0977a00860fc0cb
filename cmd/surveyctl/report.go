package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"survey-platform/internal/reporting"
	"survey-platform/internal/reports"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Survey reports and statistics",
}

var (
	reportSurvey string
	reportInput  string
	reportDate   string
)

var reportGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Run the external report generator and upload its output",
	Long: "Exports approved and pending responses of a survey to xlsx and feeds it to the " +
		"configured generator (REPORT_GENERATOR_PATH). With --input an existing spreadsheet is used instead.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		refDate, err := parseDay(reportDate)
		if err != nil {
			return eris.Wrap(err, "--date")
		}
		if refDate.IsZero() {
			refDate = time.Now()
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		var res reports.Result
		if reportInput != "" {
			res, err = a.Reports.Run(ctx, reports.Request{SurveyID: reportSurvey, InputPath: reportInput, RefDate: refDate})
		} else {
			res, err = a.Reports.RunSurvey(ctx, a.Responses, reportSurvey, refDate)
		}
		if err != nil {
			return eris.Wrap(err, "report generate")
		}
		log.Info("report generated", "survey_id", reportSurvey, "key", res.Key, "duration", res.Duration)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var reportStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show call statistics and survey progress",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		calls, err := a.Reporting.CallsSummary(ctx, reporting.CallsSummaryRequest{SurveyID: reportSurvey})
		if err != nil {
			return eris.Wrap(err, "report stats: calls")
		}
		progress, err := a.Reporting.SurveyProgress(ctx, reporting.SurveyProgressRequest{SurveyID: reportSurvey})
		if err != nil {
			return eris.Wrap(err, "report stats: progress")
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"calls": calls, "progress": progress})
	},
}

func init() {
	reportCmd.PersistentFlags().StringVar(&reportSurvey, "survey", "", "survey id (required)")
	_ = reportCmd.MarkPersistentFlagRequired("survey")

	reportGenerateCmd.Flags().StringVar(&reportInput, "input", "", "existing xlsx to feed the generator")
	reportGenerateCmd.Flags().StringVar(&reportDate, "date", "", "reference date (YYYY-MM-DD); defaults to today")

	reportCmd.AddCommand(reportGenerateCmd, reportStatsCmd)
	rootCmd.AddCommand(reportCmd)
}
