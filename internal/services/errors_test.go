package services_test

import (
	"errors"
	"strings"
	"testing"

	"clipweave/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "assemble", "concat", "ffmpeg failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"assemble", "concat", "ffmpeg failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestErrorHint(t *testing.T) {
	if hint := services.ErrorHint(nil); hint != "" {
		t.Fatalf("expected empty hint for nil, got %q", hint)
	}
	toolErr := services.Wrap(services.ErrExternalTool, "assemble", "concat", "", nil)
	if hint := services.ErrorHint(toolErr); !strings.Contains(hint, "binary") {
		t.Fatalf("unexpected tool hint %q", hint)
	}
	cfgErr := services.Wrap(services.ErrConfiguration, "publish", "", "bucket missing", nil)
	if hint := services.ErrorHint(cfgErr); !strings.Contains(hint, "config") {
		t.Fatalf("unexpected config hint %q", hint)
	}
}
