package artifact_test

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clipweave/internal/artifact"
	"clipweave/internal/job"
	"clipweave/internal/logging"
)

func TestStoreLayoutIsNamespacedByRunAndIndex(t *testing.T) {
	work := t.TempDir()
	a := artifact.New(work, "run-a")
	b := artifact.New(work, "run-b")

	if got := a.PathFor(7, ".webm"); got != filepath.Join(work, "run-a", "segments", "segment_0007.webm") {
		t.Fatalf("unexpected path %q", got)
	}
	if got := a.PathFor(12, ""); !strings.HasSuffix(got, "segment_0012.mp4") {
		t.Fatalf("expected default extension, got %q", got)
	}
	if a.PathFor(1, ".mp4") == b.PathFor(1, ".mp4") {
		t.Fatal("expected distinct paths across runs")
	}
	if a.ManifestPath() != filepath.Join(work, "run-a", "manifest.json") {
		t.Fatalf("unexpected manifest path %q", a.ManifestPath())
	}
}

func TestWriteFinalizesOnlyAfterSuccess(t *testing.T) {
	store := artifact.New(t.TempDir(), "run")

	art, err := store.Write(2, ".mp4", func(w io.Writer) (int64, error) {
		return io.Copy(w, strings.NewReader("clip bytes"))
	})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if art.SegmentIndex != 2 || art.SizeBytes != int64(len("clip bytes")) {
		t.Fatalf("unexpected artifact %+v", art)
	}
	if !artifact.Exists(&art) {
		t.Fatal("expected artifact to exist")
	}

	boom := errors.New("connection reset")
	_, err = store.Write(3, ".mp4", func(w io.Writer) (int64, error) {
		_, _ = w.Write([]byte("partial"))
		return 7, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected download error, got %v", err)
	}
	if _, statErr := os.Stat(store.PathFor(3, ".mp4")); !os.IsNotExist(statErr) {
		t.Fatalf("expected no final file after failed write, stat err=%v", statErr)
	}
	entries, _ := os.ReadDir(store.SegmentsDir())
	if len(entries) != 1 {
		t.Fatalf("expected partial file removed, found %d entries", len(entries))
	}
}

func TestWriteRejectsEmptyDownload(t *testing.T) {
	store := artifact.New(t.TempDir(), "run")
	_, err := store.Write(0, ".mp4", func(io.Writer) (int64, error) { return 0, nil })
	if !errors.Is(err, artifact.ErrEmptyArtifact) {
		t.Fatalf("expected ErrEmptyArtifact, got %v", err)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.mp4")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		name string
		art  *job.Artifact
		want bool
	}{
		{"nil", nil, false},
		{"blank path", &job.Artifact{}, false},
		{"missing file", &job.Artifact{Path: filepath.Join(dir, "gone.mp4")}, false},
		{"empty file", &job.Artifact{Path: empty}, false},
		{"directory", &job.Artifact{Path: dir}, false},
	}
	for _, tc := range cases {
		if got := artifact.Exists(tc.art); got != tc.want {
			t.Errorf("%s: Exists = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestExtensionFromURL(t *testing.T) {
	cases := map[string]string{
		"https://cdn.example.com/out/clip.webm?sig=abc": ".webm",
		"https://cdn.example.com/out/CLIP.MOV":          ".mov",
		"https://cdn.example.com/out/clip":              ".mp4",
		"https://cdn.example.com/out/clip.json":         ".mp4",
		"/v1/files/abc.mp4":                             ".mp4",
	}
	for raw, want := range cases {
		if got := artifact.ExtensionFromURL(raw); got != want {
			t.Errorf("ExtensionFromURL(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestCleanStaleRemovesOldRunsExceptKept(t *testing.T) {
	work := t.TempDir()
	old := time.Now().Add(-48 * time.Hour)
	for _, name := range []string{"old-run", "kept-run"} {
		dir := filepath.Join(work, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(filepath.Join(work, "fresh-run"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(work, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(filepath.Join(work, "stray.txt"), old, old); err != nil {
		t.Fatal(err)
	}

	result := artifact.CleanStale(work, 24*time.Hour, map[string]struct{}{"kept-run": {}}, logging.NewNop())
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors %+v", result.Errors)
	}
	if len(result.Removed) != 1 || result.Removed[0] != filepath.Join(work, "old-run") {
		t.Fatalf("unexpected removals %v", result.Removed)
	}
	for _, name := range []string{"kept-run", "fresh-run", "stray.txt"} {
		if _, err := os.Stat(filepath.Join(work, name)); err != nil {
			t.Fatalf("expected %s to survive: %v", name, err)
		}
	}
}

func TestListRunDirsMissingWorkDir(t *testing.T) {
	dirs, err := artifact.ListRunDirs(filepath.Join(t.TempDir(), "absent"))
	if err != nil || len(dirs) != 0 {
		t.Fatalf("expected empty listing, got %v, %v", dirs, err)
	}
}
