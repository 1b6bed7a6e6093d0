package deps

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const versionProbeTimeout = 5 * time.Second

// CheckFFmpeg resolves the configured ffmpeg binary and records the version
// banner it reports. A binary that resolves but cannot report its version is
// treated as unavailable since assembly would fail the same way.
func CheckFFmpeg(ctx context.Context, binary string) Status {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	result := Status{
		Name:        "FFmpeg",
		Command:     binary,
		Description: "Required for clip assembly and audio muxing",
	}

	resolved, err := exec.LookPath(binary)
	if err != nil {
		result.Detail = fmt.Sprintf("binary %q not found", binary)
		return result
	}
	result.Command = resolved

	probeCtx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(probeCtx, resolved, "-version").Output() //nolint:gosec // operator supplied binary
	if err != nil {
		result.Detail = fmt.Sprintf("version probe failed: %v", err)
		return result
	}
	result.Available = true
	result.Detail = firstLine(string(out))
	return result
}

// CheckHarvester reports whether the live credential command can be resolved.
// An empty command means a static token is used and nothing is required.
func CheckHarvester(command []string) Status {
	result := Status{
		Name:        "Credential harvester",
		Description: "Acquires fresh provider sessions",
		Optional:    true,
	}
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		result.Available = true
		result.Detail = "not configured (static token)"
		return result
	}
	result.Optional = false
	statuses := CheckBinaries([]Requirement{{
		Name:        result.Name,
		Command:     command[0],
		Description: result.Description,
	}})
	return statuses[0]
}

func firstLine(text string) string {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line
		}
	}
	return ""
}
