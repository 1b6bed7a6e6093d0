package provider

import (
	"context"
	"encoding/json"
	"io"
)

// OperationState is the remote state of a submitted operation.
type OperationState string

const (
	OperationRunning OperationState = "running"
	OperationDone    OperationState = "done"
	OperationFailed  OperationState = "failed"
)

// Status is the result of polling an operation.
type Status struct {
	State       OperationState `json:"status"`
	ArtifactURL string         `json:"artifact_url,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Provider submits descriptors, reports operation status, and serves artifacts.
// The credential argument is the opaque session value issued by the credential cache.
type Provider interface {
	Submit(ctx context.Context, descriptor json.RawMessage, credential string) (string, error)
	Poll(ctx context.Context, operationID, credential string) (Status, error)
	Download(ctx context.Context, url, credential string, dst io.Writer) (int64, error)
}
