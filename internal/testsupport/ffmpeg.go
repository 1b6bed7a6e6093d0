package testsupport

import (
	"bufio"
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"clipweave/internal/assemble"
)

// FakeFFmpeg emulates the assembler's ffmpeg invocations without the binary:
// a concat-demuxer join writes the listed files back to back, and an audio
// mux writes the video followed by "+audio".
type FakeFFmpeg struct {
	mu    sync.Mutex
	Calls [][]string
	Fail  bool
}

// Run implements assemble.CommandRunner.
func (f *FakeFFmpeg) Run(_ context.Context, name string, args ...string) (assemble.CommandResult, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, append([]string{name}, args...))
	fail := f.Fail
	f.mu.Unlock()
	if fail {
		return assemble.CommandResult{Stderr: "Invalid data found when processing input", ExitCode: 1}, errors.New("exit status 1")
	}
	target := args[len(args)-1]
	if ArgValue(args, "-f") == "concat" {
		list, err := os.Open(ArgValue(args, "-i"))
		if err != nil {
			return assemble.CommandResult{ExitCode: 1}, err
		}
		defer list.Close()
		var joined strings.Builder
		scanner := bufio.NewScanner(list)
		for scanner.Scan() {
			path := strings.TrimSuffix(strings.TrimPrefix(scanner.Text(), "file '"), "'")
			data, err := os.ReadFile(path)
			if err != nil {
				return assemble.CommandResult{ExitCode: 1}, err
			}
			joined.Write(data)
		}
		return assemble.CommandResult{}, os.WriteFile(target, []byte(joined.String()), 0o644)
	}
	video, err := os.ReadFile(ArgValue(args, "-i"))
	if err != nil {
		return assemble.CommandResult{ExitCode: 1}, err
	}
	return assemble.CommandResult{}, os.WriteFile(target, append(video, []byte("+audio")...), 0o644)
}

// CallCount reports how many commands ran.
func (f *FakeFFmpeg) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// ArgValue returns the argument following flag, or "".
func ArgValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
