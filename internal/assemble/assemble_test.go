package assemble_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clipweave/internal/assemble"
	"clipweave/internal/job"
	"clipweave/internal/services"
	"clipweave/internal/testsupport"
)

func TestAssembleOrdersBySegmentIndexNotCompletion(t *testing.T) {
	dir := t.TempDir()
	// Jobs listed in completion order.
	jobs := []*job.Job{
		testsupport.CompletedJob(t, dir, 3),
		testsupport.CompletedJob(t, dir, 0),
		testsupport.CompletedJob(t, dir, 2),
		testsupport.CompletedJob(t, dir, 1),
	}
	runner := &testsupport.FakeFFmpeg{}
	a := assemble.New("ffmpeg", assemble.WithRunner(runner))
	output := filepath.Join(dir, "out", "final.mp4")

	out, err := a.Assemble(context.Background(), jobs, assemble.Request{Total: 4, OutputPath: output})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[0][1][2][3]" {
		t.Fatalf("clips joined out of order: %q", data)
	}
	if out.Incomplete || len(out.Missing) != 0 {
		t.Fatalf("expected complete output, got %+v", out)
	}
	if fmt.Sprint(out.Included) != "[0 1 2 3]" {
		t.Fatalf("unexpected included %v", out.Included)
	}
	if out.SizeBytes != int64(len(data)) {
		t.Fatalf("unexpected size %d", out.SizeBytes)
	}
	call := strings.Join(runner.Calls[0], " ")
	if !strings.Contains(call, "-f concat -safe 0") || !strings.Contains(call, "-c copy -y "+output) {
		t.Fatalf("unexpected ffmpeg invocation %q", call)
	}
	if entries, _ := os.ReadDir(filepath.Dir(output)); len(entries) != 1 {
		t.Fatalf("expected concat list cleaned up, found %d entries", len(entries))
	}
}

func TestAssembleReportsMissingSegments(t *testing.T) {
	dir := t.TempDir()
	failed := job.NewFailed(1, nil, errors.New("recreate limit"))
	timedOut := job.NewPending(3, "op-3", nil, timeZero)
	_ = timedOut.TimeOut()
	gone := testsupport.CompletedJob(t, dir, 4)
	if err := os.Remove(gone.Artifact.Path); err != nil {
		t.Fatal(err)
	}
	jobs := []*job.Job{testsupport.CompletedJob(t, dir, 0), failed, testsupport.CompletedJob(t, dir, 2), timedOut, gone}

	a := assemble.New("ffmpeg", assemble.WithRunner(&testsupport.FakeFFmpeg{}))
	out, err := a.Assemble(context.Background(), jobs, assemble.Request{Total: 5, OutputPath: filepath.Join(dir, "final.mp4")})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !out.Incomplete || fmt.Sprint(out.Missing) != "[1 3 4]" {
		t.Fatalf("unexpected missing report %+v", out)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "final.mp4"))
	if string(data) != "[0][2]" {
		t.Fatalf("unexpected output %q", data)
	}
}

func TestAssembleExcludesClipsInAnotherContainer(t *testing.T) {
	dir := t.TempDir()
	odd := testsupport.CompletedJob(t, dir, 1)
	webm := strings.TrimSuffix(odd.Artifact.Path, ".mp4") + ".webm"
	if err := os.Rename(odd.Artifact.Path, webm); err != nil {
		t.Fatal(err)
	}
	odd.Artifact.Path = webm
	jobs := []*job.Job{testsupport.CompletedJob(t, dir, 0), odd, testsupport.CompletedJob(t, dir, 2)}

	if got := assemble.Select(jobs); len(got) != 2 || got[0].SegmentIndex != 0 || got[1].SegmentIndex != 2 {
		t.Fatalf("expected only mp4 clips selected, got %+v", got)
	}

	a := assemble.New("ffmpeg", assemble.WithRunner(&testsupport.FakeFFmpeg{}))
	out, err := a.Assemble(context.Background(), jobs, assemble.Request{Total: 3, OutputPath: filepath.Join(dir, "final.mp4")})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if !out.Incomplete || fmt.Sprint(out.Missing) != "[1]" {
		t.Fatalf("expected the webm clip reported missing, got %+v", out)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "final.mp4"))
	if string(data) != "[0][2]" {
		t.Fatalf("unexpected output %q", data)
	}
}

func TestMissingIsEmptyNotNil(t *testing.T) {
	missing := assemble.Missing(3, []int{0, 1, 2})
	if missing == nil || len(missing) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", missing)
	}
}

func TestAssembleWithoutArtifactsFails(t *testing.T) {
	jobs := []*job.Job{job.NewFailed(0, nil, errors.New("x")), job.NewFailed(1, nil, errors.New("y"))}
	runner := &testsupport.FakeFFmpeg{}
	a := assemble.New("ffmpeg", assemble.WithRunner(runner))

	out, err := a.Assemble(context.Background(), jobs, assemble.Request{OutputPath: filepath.Join(t.TempDir(), "final.mp4")})
	if !errors.Is(err, assemble.ErrNoArtifacts) {
		t.Fatalf("expected ErrNoArtifacts, got %v", err)
	}
	if fmt.Sprint(out.Missing) != "[0 1]" || !out.Incomplete {
		t.Fatalf("expected manifest data even on failure, got %+v", out)
	}
	if len(runner.Calls) != 0 {
		t.Fatal("ffmpeg should not run without artifacts")
	}
}

func TestAssembleSingleClipIsCopied(t *testing.T) {
	dir := t.TempDir()
	runner := &testsupport.FakeFFmpeg{}
	a := assemble.New("ffmpeg", assemble.WithRunner(runner))
	output := filepath.Join(dir, "final.mp4")

	if _, err := a.Assemble(context.Background(), []*job.Job{testsupport.CompletedJob(t, dir, 0)}, assemble.Request{Total: 1, OutputPath: output}); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(runner.Calls) != 0 {
		t.Fatalf("expected no ffmpeg call for a single clip, got %v", runner.Calls)
	}
	data, _ := os.ReadFile(output)
	if string(data) != "[0]" {
		t.Fatalf("unexpected output %q", data)
	}
}

func TestAssembleMuxesAudio(t *testing.T) {
	cases := []struct {
		mode assemble.AudioMode
		want string
	}{
		{assemble.AudioReplace, "-map 0:v:0 -map 1:a:0"},
		{assemble.AudioMix, "amix=inputs=2:duration=shortest"},
	}
	for _, tc := range cases {
		t.Run(string(tc.mode), func(t *testing.T) {
			dir := t.TempDir()
			audio := filepath.Join(dir, "narration.m4a")
			if err := os.WriteFile(audio, []byte("aac"), 0o644); err != nil {
				t.Fatal(err)
			}
			runner := &testsupport.FakeFFmpeg{}
			a := assemble.New("/opt/ffmpeg/bin/ffmpeg", assemble.WithRunner(runner))
			output := filepath.Join(dir, "final.mp4")

			_, err := a.Assemble(context.Background(),
				[]*job.Job{testsupport.CompletedJob(t, dir, 1), testsupport.CompletedJob(t, dir, 0)},
				assemble.Request{Total: 2, OutputPath: output, AudioTrack: audio, AudioMode: tc.mode})
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			if len(runner.Calls) != 2 {
				t.Fatalf("expected concat then audio mux, got %d calls", len(runner.Calls))
			}
			mux := strings.Join(runner.Calls[1], " ")
			if runner.Calls[1][0] != "/opt/ffmpeg/bin/ffmpeg" {
				t.Fatalf("unexpected binary %q", runner.Calls[1][0])
			}
			if !strings.Contains(mux, tc.want) || !strings.Contains(mux, "-c:v copy") || !strings.Contains(mux, "-shortest") {
				t.Fatalf("unexpected mux invocation %q", mux)
			}
			data, _ := os.ReadFile(output)
			if string(data) != "[0][1]+audio" {
				t.Fatalf("unexpected output %q", data)
			}
			if entries, _ := os.ReadDir(dir); len(entries) != 4 {
				t.Fatalf("expected intermediate video removed, found %d entries", len(entries))
			}
		})
	}
}

func TestAssembleSurfacesFFmpegFailure(t *testing.T) {
	dir := t.TempDir()
	a := assemble.New("ffmpeg", assemble.WithRunner(&testsupport.FakeFFmpeg{Fail: true}))
	_, err := a.Assemble(context.Background(),
		[]*job.Job{testsupport.CompletedJob(t, dir, 0), testsupport.CompletedJob(t, dir, 1)},
		assemble.Request{Total: 2, OutputPath: filepath.Join(dir, "final.mp4")})
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestExecRunnerCapturesExitCode(t *testing.T) {
	result, err := assemble.ExecRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if result.ExitCode != 3 || strings.TrimSpace(result.Stdout) != "out" || strings.TrimSpace(result.Stderr) != "err" {
		t.Fatalf("unexpected result %+v", result)
	}
}

var timeZero = time.Time{}
