package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"clipweave/internal/assemble"
	"clipweave/internal/pipeline"
	"clipweave/internal/preflight"
)

type runOptions struct {
	duration      string
	segmentLength string
	concurrency   int
	maxSegments   int
	audio         string
	audioMode     string
	output        string
	prompt        string
	promptsFile   string
	jsonOutput    bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate a long video from remotely generated segments",
		Long: `Split the requested duration into segments, submit one generation job per
segment, poll each job until its clip is downloaded, and join the clips in
segment order. Segments that never complete are left out and reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := ctx.buildRuntime(sigCtx, cmd.ErrOrStderr(), runtimeNeeds{runStore: true, sinks: true})
			if err != nil {
				return err
			}
			defer rt.close()

			describer, err := pipeline.NewDescriber(rt.cfg, opts.prompt, opts.promptsFile)
			if err != nil {
				return fmt.Errorf("prompts: %w", err)
			}

			pipelineOpts := []pipeline.Option{
				pipeline.WithDescriber(describer),
				pipeline.WithRunStore(rt.runs),
				pipeline.WithEvents(rt.events),
				pipeline.WithNotifier(rt.notifier),
				pipeline.WithPreflight(preflight.RunAll),
				pipeline.WithLogger(rt.logger),
			}
			if rt.uploader != nil {
				pipelineOpts = append(pipelineOpts, pipeline.WithUploader(rt.uploader))
			}
			pl, err := pipeline.New(rt.cfg, rt.client, rt.creds, pipelineOpts...)
			if err != nil {
				return err
			}

			result, runErr := pl.Run(sigCtx, req)
			if result == nil {
				return runErr
			}
			if opts.jsonOutput {
				if err := writeJSON(cmd, result); err != nil {
					return err
				}
			} else {
				printRunSummary(cmd, result)
			}
			if errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("run %s interrupted", result.RunID)
			}
			return runErr
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.duration, "duration", "d", "", "Total duration to generate (seconds or Go duration, e.g. 90 or 1m30s)")
	flags.StringVar(&opts.segmentLength, "segment-length", "", "Segment length (defaults to segments.length_seconds)")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "Jobs submitted per wave (defaults to dispatch.concurrency)")
	flags.IntVar(&opts.maxSegments, "max-segments", 0, "Cap on planned segments, -1 for no cap (defaults to segments.max_segments)")
	flags.StringVar(&opts.audio, "audio", "", "Audio track to add to the joined video")
	flags.StringVar(&opts.audioMode, "audio-mode", "", "How the audio track is combined: replace or mix")
	flags.StringVarP(&opts.output, "output", "o", "", "Output file (defaults to <work_dir>/<run id>/output.mp4)")
	flags.StringVar(&opts.prompt, "prompt", "", "Prompt template rendered per segment")
	flags.StringVar(&opts.promptsFile, "prompts-file", "", "File with one prompt per line, assigned to segments in order")
	flags.BoolVar(&opts.jsonOutput, "json", false, "Print the run result as JSON")
	_ = cmd.MarkFlagRequired("duration")
	return cmd
}

func (o runOptions) request() (pipeline.Request, error) {
	total, err := parseSeconds(o.duration)
	if err != nil {
		return pipeline.Request{}, fmt.Errorf("--duration: %w", err)
	}
	req := pipeline.Request{
		TotalDuration: total,
		Concurrency:   o.concurrency,
		MaxSegments:   o.maxSegments,
		AudioTrack:    strings.TrimSpace(o.audio),
		OutputPath:    strings.TrimSpace(o.output),
	}
	if strings.TrimSpace(o.segmentLength) != "" {
		if req.SegmentLength, err = parseSeconds(o.segmentLength); err != nil {
			return pipeline.Request{}, fmt.Errorf("--segment-length: %w", err)
		}
	}
	if req.MaxSegments < -1 {
		return pipeline.Request{}, errors.New("--max-segments must be -1 or greater")
	}
	switch mode := strings.ToLower(strings.TrimSpace(o.audioMode)); mode {
	case "":
	case string(assemble.AudioReplace), string(assemble.AudioMix):
		req.AudioMode = assemble.AudioMode(mode)
	default:
		return pipeline.Request{}, fmt.Errorf("--audio-mode must be replace or mix, got %q", o.audioMode)
	}
	if req.AudioTrack != "" {
		if _, err := os.Stat(req.AudioTrack); err != nil {
			return pipeline.Request{}, fmt.Errorf("--audio: %w", err)
		}
	}
	return req, nil
}

// parseSeconds accepts a plain number of seconds or a Go duration string.
func parseSeconds(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("value is required")
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("must be positive, got %s", value)
		}
		return time.Duration(seconds * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", value)
	}
	return d, nil
}

func printRunSummary(cmd *cobra.Command, result *pipeline.Result) {
	m := result.Manifest
	out := cmd.OutOrStdout()
	status := "complete"
	switch {
	case m.Error != "":
		status = "failed: " + m.Error
	case m.Incomplete:
		status = "partial"
	}
	pairs := [][2]string{
		{"Run", result.RunID},
		{"Status", status},
		{"Segments", fmt.Sprintf("%d of %d completed", m.Completed(), len(m.Segments))},
	}
	if len(m.Missing) > 0 {
		pairs = append(pairs, [2]string{"Missing", formatIndices(m.Missing)})
	}
	if result.OutputPath != "" {
		pairs = append(pairs, [2]string{"Output", result.OutputPath})
	}
	if result.PublishedURL != "" {
		pairs = append(pairs, [2]string{"Published", result.PublishedURL})
	}
	fmt.Fprintln(out, renderPairs(pairs))
}

func formatIndices(indices []int) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, ", ")
}
