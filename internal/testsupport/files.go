package testsupport

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clipweave/internal/job"
)

// WriteFile creates path holding size bytes of filler. A size <= 0 writes a
// single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()
	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{0x42}, int(size)), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// CompletedJob returns a completed job for index whose clip in dir holds
// "[index]", so joined output reveals the concatenation order.
func CompletedJob(t testing.TB, dir string, index int) *job.Job {
	t.Helper()
	body := fmt.Sprintf("[%d]", index)
	path := filepath.Join(dir, fmt.Sprintf("segment_%04d.mp4", index))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write clip %s: %v", path, err)
	}
	j := job.NewPending(index, fmt.Sprintf("op-%d", index), nil, time.Time{})
	if err := j.Complete(job.Artifact{SegmentIndex: index, Path: path, SizeBytes: int64(len(body))}); err != nil {
		t.Fatalf("complete job %d: %v", index, err)
	}
	return j
}
