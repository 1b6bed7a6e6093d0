package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// LiveSource produces a brand-new credential. Implementations are slow and may fail.
type LiveSource interface {
	Acquire(ctx context.Context) (string, error)
}

// Validator asks the provider whether a credential is still accepted.
type Validator interface {
	Validate(ctx context.Context, value string) error
}

// StaticSource serves a fixed token, typically from CLIPWEAVE_PROVIDER_TOKEN.
type StaticSource struct {
	Token string
}

func (s StaticSource) Acquire(context.Context) (string, error) {
	token := strings.TrimSpace(s.Token)
	if token == "" {
		return "", errors.New("static credential is empty")
	}
	return token, nil
}

// CommandSource runs an external harvesting command and reads the credential
// from its stdout. The output may be a bare token (the last non-empty line is
// used) or a JSON object with a "value" or "token" field.
type CommandSource struct {
	Command []string
	Timeout time.Duration
}

func (s CommandSource) Acquire(ctx context.Context) (string, error) {
	if len(s.Command) == 0 {
		return "", errors.New("live credential command is not configured")
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...) //nolint:gosec // operator supplied command
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("harvest credential: %w", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return "", fmt.Errorf("harvest credential: %w: %s", err, lastLine(detail))
		}
		return "", fmt.Errorf("harvest credential: %w", err)
	}
	value := parseHarvestOutput(stdout.String())
	if value == "" {
		return "", errors.New("harvest credential: command printed no credential")
	}
	return value, nil
}

func parseHarvestOutput(out string) string {
	trimmed := strings.TrimSpace(out)
	if strings.HasPrefix(trimmed, "{") {
		var payload struct {
			Value string `json:"value"`
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
			if v := strings.TrimSpace(payload.Value); v != "" {
				return v
			}
			return strings.TrimSpace(payload.Token)
		}
	}
	return lastLine(trimmed)
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
