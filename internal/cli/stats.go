package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/studiowebux/perfhttp/internal/metrics"
)

// StatsOptions contains options for reading stored runs
type StatsOptions struct {
	Database     string
	Limit        int
	RunID        int64 // 0 lists runs instead of showing one
	OutputFormat string
	Stdout       io.Writer
}

// ShowStats lists recent runs or prints the report of one run
func ShowStats(opts StatsOptions) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	store, err := metrics.NewStore(opts.Database, zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to open metrics store: %w", err)
	}
	defer store.Close()

	runs, err := store.ListRuns(opts.Limit)
	if err != nil {
		return err
	}

	if opts.RunID == 0 {
		if len(runs) == 0 {
			fmt.Fprintln(opts.Stdout, "No runs recorded")
			return nil
		}
		tw := tabwriter.NewWriter(opts.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tDURATION\tSTATUS")
		for _, run := range runs {
			duration := "-"
			if run.CompletedAt != nil {
				duration = run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
				run.ID, run.Name, run.StartedAt.Format("2006-01-02 15:04:05"), duration, run.Status)
		}
		return tw.Flush()
	}

	var run *metrics.Run
	for _, r := range runs {
		if r.ID == opts.RunID {
			run = r
			break
		}
	}
	if run == nil {
		return fmt.Errorf("run %d not found in the last %d runs", opts.RunID, opts.Limit)
	}

	summaries, err := store.Summaries(run.ID)
	if err != nil {
		return err
	}
	errs, err := store.Errors(run.ID)
	if err != nil {
		return err
	}

	report := newReport(summaries, errs)
	report.Name = run.Name
	report.RunID = run.UUID
	for _, s := range summaries {
		report.Sent += s.Count
		report.Failed += s.Failed
	}
	report.Succeeded = report.Sent - report.Failed
	if run.CompletedAt != nil {
		report.Duration = run.CompletedAt.Sub(run.StartedAt).String()
	}

	output, err := report.format(opts.OutputFormat)
	if err != nil {
		return err
	}
	fmt.Fprint(opts.Stdout, output)
	return nil
}
