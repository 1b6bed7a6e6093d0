package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"clipweave/internal/artifact"
	"clipweave/internal/fileutil"
	"clipweave/internal/job"
	"clipweave/internal/logging"
	"clipweave/internal/services"
)

// ErrNoArtifacts is returned when no completed job has a usable clip.
var ErrNoArtifacts = errors.New("no artifacts to assemble")

// AudioMode selects how an extra audio track is combined with the video.
type AudioMode string

const (
	// AudioReplace drops the clips' own audio in favour of the supplied track.
	AudioReplace AudioMode = "replace"
	// AudioMix mixes the supplied track with the clips' audio.
	AudioMix AudioMode = "mix"
)

// Request describes one assembly.
type Request struct {
	// Total is the number of planned segments; indices 0..Total-1 not included
	// in the output are reported missing. Zero means len(jobs).
	Total      int
	OutputPath string
	AudioTrack string
	AudioMode  AudioMode
}

// Output describes the assembled file.
type Output struct {
	OutputPath string
	SizeBytes  int64
	Included   []int
	Missing    []int
	Incomplete bool
}

// Option customizes an Assembler.
type Option func(*Assembler)

// WithRunner replaces the process runner.
func WithRunner(r CommandRunner) Option {
	return func(a *Assembler) {
		if r != nil {
			a.runner = r
		}
	}
}

// WithLogger sets the assembler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		a.logger = logging.NewComponentLogger(logger, "assemble")
	}
}

// Assembler concatenates clips with ffmpeg.
type Assembler struct {
	ffmpeg string
	runner CommandRunner
	logger *slog.Logger
}

// New returns an Assembler invoking the given ffmpeg binary.
func New(ffmpegBinary string, opts ...Option) *Assembler {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	a := &Assembler{
		ffmpeg: ffmpegBinary,
		runner: ExecRunner{},
		logger: logging.NewComponentLogger(nil, "assemble"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Select returns the artifacts of completed jobs whose files exist, sorted by
// segment index. Completion order plays no part. Clips are stream-copied, so
// only clips sharing the run's dominant container are returned.
func Select(jobs []*job.Job) []job.Artifact {
	kept, _ := selectClips(jobs)
	return kept
}

// selectClips splits usable clips into those in the dominant container and
// those in any other container. The dominant container is the most common
// extension; ties go to the lowest segment index.
func selectClips(jobs []*job.Job) (kept, mismatched []job.Artifact) {
	var usable []job.Artifact
	seen := make(map[int]struct{}, len(jobs))
	for _, j := range jobs {
		if j == nil || j.State != job.StateCompleted || !artifact.Exists(j.Artifact) {
			continue
		}
		if _, dup := seen[j.SegmentIndex]; dup {
			continue
		}
		seen[j.SegmentIndex] = struct{}{}
		usable = append(usable, *j.Artifact)
	}
	sort.Slice(usable, func(a, b int) bool {
		return usable[a].SegmentIndex < usable[b].SegmentIndex
	})

	counts := make(map[string]int, 2)
	dominant := ""
	for _, art := range usable {
		ext := containerOf(art)
		counts[ext]++
		if dominant == "" || counts[ext] > counts[dominant] {
			dominant = ext
		}
	}
	for _, art := range usable {
		if containerOf(art) == dominant {
			kept = append(kept, art)
		} else {
			mismatched = append(mismatched, art)
		}
	}
	return kept, mismatched
}

func containerOf(art job.Artifact) string {
	return strings.ToLower(filepath.Ext(art.Path))
}

// Missing lists the indices 0..total-1 absent from included.
func Missing(total int, included []int) []int {
	have := make(map[int]struct{}, len(included))
	for _, idx := range included {
		have[idx] = struct{}{}
	}
	missing := make([]int, 0)
	for idx := 0; idx < total; idx++ {
		if _, ok := have[idx]; !ok {
			missing = append(missing, idx)
		}
	}
	return missing
}

// Assemble writes the ordered clips of completed jobs to req.OutputPath. The
// returned Output is populated even when ErrNoArtifacts is returned.
func (a *Assembler) Assemble(ctx context.Context, jobs []*job.Job, req Request) (Output, error) {
	total := req.Total
	if total <= 0 {
		total = len(jobs)
	}
	selected, mismatched := selectClips(jobs)
	if len(mismatched) > 0 {
		indices := make([]int, 0, len(mismatched))
		for _, art := range mismatched {
			indices = append(indices, art.SegmentIndex)
		}
		logging.WarnWithContext(a.logger, "clips in a different container excluded", "assembly_container_mismatch",
			logging.String("container", containerOf(selected[0])),
			logging.Any("excluded_segments", indices),
			logging.String(logging.FieldImpact, "excluded segments are reported missing"),
			logging.String(logging.FieldErrorHint, "the provider returned mixed container formats for this run"),
		)
	}
	out := Output{OutputPath: req.OutputPath}
	for _, art := range selected {
		out.Included = append(out.Included, art.SegmentIndex)
	}
	out.Missing = Missing(total, out.Included)
	out.Incomplete = len(out.Missing) > 0

	if len(selected) == 0 {
		return out, ErrNoArtifacts
	}
	if strings.TrimSpace(req.OutputPath) == "" {
		return out, services.Wrap(services.ErrValidation, "assemble", "output", "output path is empty", nil)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return out, fmt.Errorf("create output dir: %w", err)
	}

	videoPath := req.OutputPath
	if req.AudioTrack != "" {
		videoPath = intermediatePath(req.OutputPath)
		defer os.Remove(videoPath)
	}

	if err := a.join(ctx, selected, videoPath); err != nil {
		return out, err
	}
	if req.AudioTrack != "" {
		if err := a.muxAudio(ctx, videoPath, req.AudioTrack, req.AudioMode, req.OutputPath); err != nil {
			return out, err
		}
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return out, services.Wrap(services.ErrExternalTool, "assemble", "verify", "output missing after ffmpeg", err)
	}
	if info.Size() == 0 {
		return out, services.Wrap(services.ErrExternalTool, "assemble", "verify", "output is empty", nil)
	}
	out.SizeBytes = info.Size()

	attrs := []logging.Attr{
		logging.String("output_path", req.OutputPath),
		logging.Int("included", len(out.Included)),
		logging.Int("missing", len(out.Missing)),
		logging.Int64("output_bytes", out.SizeBytes),
	}
	if out.Incomplete {
		logging.WarnWithContext(a.logger, "assembled incomplete output", "assembly_incomplete",
			append(attrs,
				logging.Any("missing_segments", out.Missing),
				logging.String(logging.FieldImpact, "output is shorter than requested"),
			)...,
		)
	} else {
		a.logger.Info("assembled output", logging.Args(attrs...)...)
	}
	return out, nil
}

func (a *Assembler) join(ctx context.Context, clips []job.Artifact, target string) error {
	if len(clips) == 1 {
		if err := fileutil.CopyFileVerified(clips[0].Path, target); err != nil {
			return services.Wrap(services.ErrExternalTool, "assemble", "copy", "copy single clip", err)
		}
		return nil
	}

	listPath, err := writeConcatList(filepath.Dir(target), clips)
	if err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	args := []string{"-hide_banner", "-loglevel", "error", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", "-y", target}
	return a.run(ctx, "concat", args)
}

func (a *Assembler) muxAudio(ctx context.Context, video, audio string, mode AudioMode, target string) error {
	if _, err := os.Stat(audio); err != nil {
		return services.Wrap(services.ErrValidation, "assemble", "audio", "audio track unavailable", err)
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-i", video, "-i", audio}
	switch mode {
	case AudioMix:
		args = append(args,
			"-filter_complex", "[0:a][1:a]amix=inputs=2:duration=shortest[aout]",
			"-map", "0:v:0", "-map", "[aout]",
		)
	case AudioReplace, "":
		args = append(args, "-map", "0:v:0", "-map", "1:a:0")
	default:
		return services.Wrap(services.ErrValidation, "assemble", "audio", fmt.Sprintf("unknown audio mode %q", mode), nil)
	}
	args = append(args, "-c:v", "copy", "-c:a", "aac", "-shortest", "-y", target)
	return a.run(ctx, "audio", args)
}

func (a *Assembler) run(ctx context.Context, operation string, args []string) error {
	a.logger.Debug("running ffmpeg", logging.String("operation", operation), logging.Any("args", args))
	result, err := a.runner.Run(ctx, a.ffmpeg, args...)
	if err != nil {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = fmt.Sprintf("exit code %d", result.ExitCode)
		}
		return services.Wrap(services.ErrExternalTool, "assemble", operation, "ffmpeg failed: "+detail, err)
	}
	return nil
}

func writeConcatList(dir string, clips []job.Artifact) (string, error) {
	f, err := os.CreateTemp(dir, ".clipweave-concat-*.txt")
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, clip := range clips {
		abs, err := filepath.Abs(clip.Path)
		if err != nil {
			abs = clip.Path
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(abs, "'", `'\''`))
		b.WriteString("'\n")
	}
	if _, err := f.WriteString(b.String()); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func intermediatePath(output string) string {
	ext := filepath.Ext(output)
	base := strings.TrimSuffix(filepath.Base(output), ext)
	return filepath.Join(filepath.Dir(output), "."+base+".video"+ext)
}
