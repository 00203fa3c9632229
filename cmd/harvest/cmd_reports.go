package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"harvestreport/internal/export"
	"harvestreport/internal/queue"
	"harvestreport/internal/types"
)

// submitCmd submits a draft read from a JSON file
var submitCmd = &cobra.Command{
	Use:   "submit [draft.json]",
	Short: "Validate and submit a harvest report",
	Long: `Reads a draft as JSON (from the file, or stdin when the argument is "-" or
missing), validates it and submits it. When the authority cannot be reached
the report is queued and a local confirmation number is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

// sectionsCmd shows which form sections a draft unlocks
var sectionsCmd = &cobra.Command{
	Use:   "sections [draft.json]",
	Short: "Show visible form sections for a draft",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSections,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List pending reports",
	RunE:  runQueue,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List submitted reports",
	RunE:  runHistory,
}

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "List pending and submitted reports, newest first",
	RunE:  runTimeline,
}

var retryCmd = &cobra.Command{
	Use:   "retry [report-id]",
	Short: "Retry one pending report, or all with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRetry,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one rate-limited sync pass over the pending queue",
	RunE:  runSync,
}

var exportCmd = &cobra.Command{
	Use:   "export [out.xlsx]",
	Short: "Export the report timeline as a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var retryAll bool

func init() {
	retryCmd.Flags().BoolVar(&retryAll, "all", false, "Retry every pending report")
}

func readDraft(cmd *cobra.Command, args []string) (types.Draft, error) {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return types.Draft{}, fmt.Errorf("failed to open draft: %w", err)
		}
		defer f.Close()
		r = f
	}
	var d types.Draft
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return types.Draft{}, fmt.Errorf("failed to parse draft: %w", err)
	}
	return d, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()

	d, err := readDraft(cmd, args)
	if err != nil {
		return err
	}
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Submit(ctx, d)
	if v, ok := types.IsValidation(err); ok {
		_ = printJSON(cmd, map[string]any{"fields": v})
		return fmt.Errorf("report is incomplete (%d fields)", len(v))
	}
	if err != nil {
		return err
	}
	logger.Info("report submitted",
		zap.String("report_id", res.ReportID()),
		zap.String("status", string(res.Status)),
		zap.String("confirmation", res.ConfirmationNumber()))
	return printJSON(cmd, map[string]any{
		"reportId":           res.ReportID(),
		"status":             res.Status,
		"confirmationNumber": res.ConfirmationNumber(),
	})
}

func runSections(cmd *cobra.Command, args []string) error {
	d, err := readDraft(cmd, args)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return printJSON(cmd, a.Sections(d))
}

func runQueue(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return printJSON(cmd, a.Queue.Queue())
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return printJSON(cmd, a.Queue.History())
}

func runTimeline(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return printJSON(cmd, a.Queue.Timeline())
}

func runRetry(cmd *cobra.Command, args []string) error {
	if !retryAll && len(args) == 0 {
		return fmt.Errorf("report id required (or pass --all)")
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if retryAll {
		outcomes := a.Queue.RetryAll(ctx)
		rows := make([]map[string]any, 0, len(outcomes))
		for _, o := range outcomes {
			row := map[string]any{"reportId": o.ReportID, "status": o.Result.Status}
			if o.Err != nil {
				row["error"] = o.Err.Error()
			}
			rows = append(rows, row)
		}
		return printJSON(cmd, rows)
	}

	res, err := a.Queue.Retry(ctx, args[0])
	if err != nil && res.Status != queue.StatusPending {
		return err
	}
	out := map[string]any{
		"reportId":           res.ReportID(),
		"status":             res.Status,
		"confirmationNumber": res.ConfirmationNumber(),
	}
	if err != nil {
		out["error"] = err.Error()
	}
	return printJSON(cmd, out)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.Syncer.Pass(ctx)
	return printJSON(cmd, map[string]any{
		"attempted": res.Attempted,
		"submitted": res.Submitted,
		"failed":    res.Failed,
		"remaining": len(a.Queue.Queue()),
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd)
	defer cancel()
	a, err := bootApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Create(args[0])
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", args[0], err)
	}
	entries := a.Queue.Timeline()
	if err := export.WriteTimeline(f, entries); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d reports to %s\n", len(entries), args[0])
	return nil
}
