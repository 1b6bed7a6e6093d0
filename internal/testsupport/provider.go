package testsupport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"clipweave/internal/credential"
	"clipweave/internal/provider"
)

// PollStep is one scripted poll answer.
type PollStep struct {
	Status provider.Status
	Err    error
}

// FakeProvider is a scripted provider.Provider. Submissions hand out
// sequential operation ids ("op-1", "op-2", ...). Poll answers are scripted per
// operation id; once a script runs out the last step repeats, and an
// operation without a script reports running.
type FakeProvider struct {
	mu          sync.Mutex
	nextID      int
	submitErrs  []error
	submitFunc  func(payload json.RawMessage) error
	polls       map[string][]PollStep
	pollCursor  map[string]int
	downloads   map[string]string
	downloadErr error

	Submissions []Submission
	PollCalls   map[string]int
	Credentials []string
}

// Submission records one Submit call.
type Submission struct {
	OperationID string
	Payload     json.RawMessage
	Credential  string
	Err         error
}

// NewFakeProvider returns an empty fake.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		polls:      make(map[string][]PollStep),
		pollCursor: make(map[string]int),
		downloads:  make(map[string]string),
		PollCalls:  make(map[string]int),
	}
}

// FailSubmits queues errors returned by the next Submit calls, in order.
func (f *FakeProvider) FailSubmits(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErrs = append(f.submitErrs, errs...)
}

// SubmitFunc installs a hook consulted on every Submit after queued errors.
func (f *FakeProvider) SubmitFunc(fn func(payload json.RawMessage) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitFunc = fn
}

// ScriptPolls sets the poll answers for an operation id.
func (f *FakeProvider) ScriptPolls(operationID string, steps ...PollStep) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls[operationID] = steps
	f.pollCursor[operationID] = 0
}

// Done is a poll step reporting completion at url.
func Done(url string) PollStep {
	return PollStep{Status: provider.Status{State: provider.OperationDone, ArtifactURL: url}}
}

// Running is a poll step reporting the operation is still running.
func Running() PollStep {
	return PollStep{Status: provider.Status{State: provider.OperationRunning}}
}

// Failed is a poll step reporting a failed operation.
func Failed(message string) PollStep {
	return PollStep{Status: provider.Status{State: provider.OperationFailed, Error: message}}
}

// FailedAuth is a poll step reporting a failed operation whose message reads
// like an expired session, as the HTTP adapter surfaces it.
func FailedAuth(message string) PollStep {
	return PollStep{
		Status: provider.Status{State: provider.OperationFailed, Error: message},
		Err:    fmt.Errorf("%w: %s", provider.ErrAuth, message),
	}
}

// PollError is a poll step returning err.
func PollError(err error) PollStep {
	return PollStep{Err: err}
}

// SetDownload registers the body served for url.
func (f *FakeProvider) SetDownload(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads[url] = body
}

// FailDownloads makes every download return err until cleared with nil.
func (f *FakeProvider) FailDownloads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadErr = err
}

// Submit implements provider.Provider.
func (f *FakeProvider) Submit(ctx context.Context, descriptor json.RawMessage, cred string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Credentials = append(f.Credentials, cred)
	var err error
	if len(f.submitErrs) > 0 {
		err = f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
	} else if f.submitFunc != nil {
		err = f.submitFunc(descriptor)
	}
	if err != nil {
		f.Submissions = append(f.Submissions, Submission{Payload: descriptor, Credential: cred, Err: err})
		return "", err
	}
	f.nextID++
	id := fmt.Sprintf("op-%d", f.nextID)
	f.Submissions = append(f.Submissions, Submission{OperationID: id, Payload: descriptor, Credential: cred})
	return id, nil
}

// Poll implements provider.Provider.
func (f *FakeProvider) Poll(ctx context.Context, operationID string, cred string) (provider.Status, error) {
	if err := ctx.Err(); err != nil {
		return provider.Status{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PollCalls[operationID]++
	f.Credentials = append(f.Credentials, cred)
	steps := f.polls[operationID]
	if len(steps) == 0 {
		return provider.Status{State: provider.OperationRunning}, nil
	}
	cursor := f.pollCursor[operationID]
	if cursor >= len(steps) {
		cursor = len(steps) - 1
	} else {
		f.pollCursor[operationID] = cursor + 1
	}
	step := steps[cursor]
	return step.Status, step.Err
}

// Download implements provider.Provider.
func (f *FakeProvider) Download(ctx context.Context, url string, _ string, dst io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	f.mu.Lock()
	body, ok := f.downloads[url]
	downloadErr := f.downloadErr
	f.mu.Unlock()
	if downloadErr != nil {
		return 0, downloadErr
	}
	if !ok {
		body = "clip:" + url
	}
	return io.Copy(dst, strings.NewReader(body))
}

// SubmitCount reports how many Submit calls were made.
func (f *FakeProvider) SubmitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Submissions)
}

// PollCount reports how many polls hit operationID.
func (f *FakeProvider) PollCount(operationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PollCalls[operationID]
}

// FakeCredentials is a scripted credential source for dispatcher and monitor
// tests.
type FakeCredentials struct {
	mu       sync.Mutex
	Value    string
	Err      error
	Calls    int
	Forced   int
	Rejected []string
}

// NewFakeCredentials returns a source that always hands out value.
func NewFakeCredentials(value string) *FakeCredentials {
	return &FakeCredentials{Value: value}
}

// Acquire returns the configured value or error.
func (c *FakeCredentials) Acquire(ctx context.Context, forceRefresh bool) (credential.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls++
	if forceRefresh {
		c.Forced++
	}
	if err := ctx.Err(); err != nil {
		return credential.Credential{}, err
	}
	if c.Err != nil {
		return credential.Credential{}, c.Err
	}
	return credential.Credential{Value: c.Value, Source: credential.SourceCache, TTL: credential.DefaultTTL}, nil
}

// Refresh records the rejected value and behaves like a forced Acquire.
func (c *FakeCredentials) Refresh(ctx context.Context, rejected string) (credential.Credential, error) {
	c.mu.Lock()
	c.Rejected = append(c.Rejected, rejected)
	c.mu.Unlock()
	return c.Acquire(ctx, true)
}

// ForcedCount reports how many forced refreshes were requested.
func (c *FakeCredentials) ForcedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Forced
}

// NoSleep is a sleeper that returns immediately unless ctx is done.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}
