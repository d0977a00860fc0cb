package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"survey-platform/internal/dedupe"
	"survey-platform/internal/responses"
)

var (
	dedupeSurvey    string
	dedupeMode      string
	dedupeFrom      string
	dedupeTo        string
	dedupeApply     bool
	dedupeOut       string
	dedupeWorkers   int
	dedupeBatchSize int
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Find duplicate interviews and optionally mark them abandoned",
	Long: "Scans stored responses for interviews submitted more than once (same interviewer, " +
		"start time, answers and audio or location). Without --apply only a report is printed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f, err := dedupeFilter()
		if err != nil {
			return err
		}
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		det := dedupe.NewDetector(a.Responses, a.Responses, dedupe.Options{Workers: dedupeWorkers, BatchSize: dedupeBatchSize})
		rep, err := det.Analyze(ctx, f)
		if err != nil {
			return eris.Wrap(err, "dedupe: analyze")
		}
		log.Info("duplicate analysis complete",
			"scanned", rep.Scanned,
			"groups", len(rep.Groups),
			"duplicates", rep.DuplicateCount(),
			"skipped", len(rep.Skipped))

		if dedupeOut != "" {
			fh, err := os.Create(dedupeOut)
			if err != nil {
				return eris.Wrap(err, "dedupe: create report file")
			}
			werr := printJSON(fh, rep)
			if cerr := fh.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				return eris.Wrap(werr, "dedupe: write report file")
			}
		}

		if !dedupeApply {
			return printJSON(cmd.OutOrStdout(), map[string]any{"scanned": rep.Scanned, "groups": rep.Groups, "duplicates": rep.DuplicateCount()})
		}
		res, err := det.Apply(ctx, rep)
		if err != nil {
			return eris.Wrap(err, "dedupe: apply")
		}
		logAdmin(ctx, a.Audit, dedupeSurvey, "duplicates applied", map[string]any{"groups": len(rep.Groups), "result": res})
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func dedupeFilter() (responses.Filter, error) {
	f := responses.Filter{SurveyID: dedupeSurvey}
	if dedupeMode != "" {
		f.Mode = responses.Mode(dedupeMode)
		if !f.Mode.Valid() {
			return f, eris.Errorf("--mode must be in_person or phone, got %q", dedupeMode)
		}
	}
	var err error
	if f.From, err = parseDay(dedupeFrom); err != nil {
		return f, eris.Wrap(err, "--from")
	}
	if f.To, err = parseDay(dedupeTo); err != nil {
		return f, eris.Wrap(err, "--to")
	}
	return f, nil
}

// parseDay accepts RFC 3339 or a plain YYYY-MM-DD date (UTC midnight).
func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func init() {
	dedupeCmd.Flags().StringVar(&dedupeSurvey, "survey", "", "survey id; empty scans every survey")
	dedupeCmd.Flags().StringVar(&dedupeMode, "mode", "", "in_person or phone; empty scans both")
	dedupeCmd.Flags().StringVar(&dedupeFrom, "from", "", "only responses created at or after this date")
	dedupeCmd.Flags().StringVar(&dedupeTo, "to", "", "only responses created before this date")
	dedupeCmd.Flags().BoolVar(&dedupeApply, "apply", false, "mark duplicates abandoned")
	dedupeCmd.Flags().StringVar(&dedupeOut, "out", "", "also write the full report as JSON to this file")
	dedupeCmd.Flags().IntVar(&dedupeWorkers, "workers", dedupe.DefaultWorkers, "concurrent group comparisons")
	dedupeCmd.Flags().IntVar(&dedupeBatchSize, "batch-size", dedupe.DefaultBatchSize, "responses read per page")
	rootCmd.AddCommand(dedupeCmd)
}
