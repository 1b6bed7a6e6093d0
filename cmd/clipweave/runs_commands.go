package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipweave/internal/artifact"
	"clipweave/internal/logging"
	"clipweave/internal/runstore"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and prune recorded runs",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	runsCmd.AddCommand(newRunsPruneCommand(ctx))
	return runsCmd
}

type runView struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	CompletedAt   string  `json:"completed_at,omitempty"`
	TotalDuration float64 `json:"total_duration"`
	SegmentLength float64 `json:"segment_length"`
	SegmentCount  int     `json:"segment_count"`
	Concurrency   int     `json:"concurrency"`
	OutputPath    string  `json:"output_path,omitempty"`
	PublishedURL  string  `json:"published_url,omitempty"`
	Incomplete    bool    `json:"incomplete"`
	Error         string  `json:"error,omitempty"`
}

func newRunView(run *runstore.Run) runView {
	view := runView{
		ID:            run.ID,
		Status:        string(run.Status),
		CreatedAt:     run.CreatedAt.UTC().Format(time.RFC3339),
		TotalDuration: run.TotalDuration.Seconds(),
		SegmentLength: run.SegmentLength.Seconds(),
		SegmentCount:  run.SegmentCount,
		Concurrency:   run.Concurrency,
		OutputPath:    run.OutputPath,
		PublishedURL:  run.PublishedURL,
		Incomplete:    run.Incomplete,
		Error:         run.ErrorMessage,
	}
	if run.CompletedAt != nil {
		view.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunStore(func(store *runstore.Store) error {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					views := make([]runView, 0, len(runs))
					for _, run := range runs {
						views = append(views, newRunView(run))
					}
					return writeJSON(cmd, views)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Status", "Created", "Segments", "Duration", "Output"},
					buildRunRows(runs),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(out, formatRunStats(stats))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print runs as JSON")
	return cmd
}

func buildRunRows(runs []*runstore.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortRunID(run.ID),
			formatStatusLabel(string(run.Status)),
			formatDisplayTime(run.CreatedAt),
			strconv.Itoa(run.SegmentCount),
			formatSeconds(run.TotalDuration),
			run.OutputPath,
		})
	}
	return rows
}

func formatRunStats(stats map[runstore.Status]int) string {
	keys := make([]string, 0, len(stats))
	for status := range stats {
		keys = append(keys, string(status))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s %d", formatStatusLabel(key), stats[runstore.Status(key)]))
	}
	return "Totals: " + strings.Join(parts, ", ")
}

func newRunsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRunStore(func(store *runstore.Store) error {
				run, err := store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					if strings.TrimSpace(run.ManifestJSON) != "" {
						return writeRawJSON(cmd, run.ManifestJSON)
					}
					return writeJSON(cmd, newRunView(run))
				}
				segments, err := store.Segments(cmd.Context(), run.ID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderPairs(runDetailPairs(run)))
				if len(segments) > 0 {
					fmt.Fprintln(out, renderTable(
						[]string{"#", "State", "Operation", "Recreates", "Size", "Error"},
						buildSegmentRows(segments),
						[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
					))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the run manifest as JSON")
	return cmd
}

func runDetailPairs(run *runstore.Run) [][2]string {
	pairs := [][2]string{
		{"Run", run.ID},
		{"Status", formatStatusLabel(string(run.Status))},
		{"Created", formatDisplayTime(run.CreatedAt)},
	}
	if run.CompletedAt != nil {
		pairs = append(pairs, [2]string{"Completed", formatDisplayTime(*run.CompletedAt)})
	}
	pairs = append(pairs,
		[2]string{"Duration", formatSeconds(run.TotalDuration)},
		[2]string{"Segment length", formatSeconds(run.SegmentLength)},
		[2]string{"Segments", strconv.Itoa(run.SegmentCount)},
		[2]string{"Concurrency", strconv.Itoa(run.Concurrency)},
		[2]string{"Incomplete", yesNo(run.Incomplete)},
	)
	if run.OutputPath != "" {
		pairs = append(pairs, [2]string{"Output", run.OutputPath})
	}
	if run.PublishedURL != "" {
		pairs = append(pairs, [2]string{"Published", run.PublishedURL})
	}
	if run.ErrorMessage != "" {
		pairs = append(pairs, [2]string{"Error", run.ErrorMessage})
	}
	return pairs
}

func buildSegmentRows(segments []runstore.Segment) [][]string {
	rows := make([][]string, 0, len(segments))
	for _, seg := range segments {
		size := ""
		if seg.SizeBytes > 0 {
			size = logging.FormatBytes(seg.SizeBytes)
		}
		rows = append(rows, []string{
			strconv.Itoa(seg.SegmentIndex),
			formatStatusLabel(string(seg.State)),
			seg.OperationID,
			strconv.Itoa(seg.RecreateCount),
			size,
			truncate(seg.ErrorMessage, 60),
		})
	}
	return rows
}

func newRunsPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	var markInterrupted bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove run directories older than a cutoff",
		Long: `Remove run directories under paths.work_dir whose last change is older than
--older-than. Directories of runs still recorded as running are kept. Pass
--mark-interrupted when no clipweave process is active to first flag runs
left in the running state by a process that died.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return ctx.withRunStore(func(store *runstore.Store) error {
				out := cmd.OutOrStdout()
				if markInterrupted {
					n, err := store.MarkInterrupted(cmd.Context())
					if err != nil {
						return err
					}
					if n > 0 {
						fmt.Fprintf(out, "Marked %d run(s) interrupted\n", n)
					}
				}
				keep, err := store.ActiveRunIDs(cmd.Context())
				if err != nil {
					return err
				}
				result := artifact.CleanStale(cfg.Paths.WorkDir, olderThan, keep, logger)
				fmt.Fprintf(out, "Removed %d run director%s\n", len(result.Removed), pluralY(len(result.Removed)))
				for _, failure := range result.Errors {
					fmt.Fprintf(out, "  failed: %s: %v\n", failure.Path, failure.Error)
				}
				if len(result.Errors) > 0 {
					return fmt.Errorf("%d run directories could not be removed", len(result.Errors))
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Minimum age of run directories to remove")
	cmd.Flags().BoolVar(&markInterrupted, "mark-interrupted", false, "Flag runs still recorded as running as interrupted first")
	return cmd
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
