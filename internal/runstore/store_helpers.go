package runstore

import (
	"database/sql"
	"errors"
	"time"

	"clipweave/internal/job"
)

const runColumns = "id, status, created_at, updated_at, completed_at, total_seconds, segment_seconds, segment_count, concurrency, output_path, published_url, incomplete, error_message, manifest_json"

const segmentColumns = "run_id, segment_index, state, operation_id, recreate_count, submitted_at, artifact_path, size_bytes, error_message, updated_at"

func scanRun(scanner interface{ Scan(dest ...any) error }) (*Run, error) {
	var (
		run          Run
		status       string
		createdRaw   string
		updatedRaw   string
		completedRaw sql.NullString
		totalSecs    float64
		segmentSecs  float64
		outputPath   sql.NullString
		publishedURL sql.NullString
		incomplete   int
		errorMessage sql.NullString
		manifest     sql.NullString
	)
	if err := scanner.Scan(
		&run.ID,
		&status,
		&createdRaw,
		&updatedRaw,
		&completedRaw,
		&totalSecs,
		&segmentSecs,
		&run.SegmentCount,
		&run.Concurrency,
		&outputPath,
		&publishedURL,
		&incomplete,
		&errorMessage,
		&manifest,
	); err != nil {
		return nil, err
	}
	run.Status = Status(status)
	run.CreatedAt, _ = parseTimeString(createdRaw)
	run.UpdatedAt, _ = parseTimeString(updatedRaw)
	if completedRaw.Valid {
		if t, err := parseTimeString(completedRaw.String); err == nil {
			run.CompletedAt = &t
		}
	}
	run.TotalDuration = secondsToDuration(totalSecs)
	run.SegmentLength = secondsToDuration(segmentSecs)
	run.OutputPath = outputPath.String
	run.PublishedURL = publishedURL.String
	run.Incomplete = incomplete != 0
	run.ErrorMessage = errorMessage.String
	run.ManifestJSON = manifest.String
	return &run, nil
}

func scanSegment(scanner interface{ Scan(dest ...any) error }) (Segment, error) {
	var (
		seg          Segment
		state        string
		operationID  sql.NullString
		submittedRaw sql.NullString
		artifactPath sql.NullString
		errorMessage sql.NullString
		updatedRaw   string
	)
	if err := scanner.Scan(
		&seg.RunID,
		&seg.SegmentIndex,
		&state,
		&operationID,
		&seg.RecreateCount,
		&submittedRaw,
		&artifactPath,
		&seg.SizeBytes,
		&errorMessage,
		&updatedRaw,
	); err != nil {
		return Segment{}, err
	}
	seg.State = job.State(state)
	seg.OperationID = operationID.String
	if submittedRaw.Valid {
		if t, err := parseTimeString(submittedRaw.String); err == nil {
			seg.SubmittedAt = &t
		}
	}
	seg.ArtifactPath = artifactPath.String
	seg.ErrorMessage = errorMessage.String
	seg.UpdatedAt, _ = parseTimeString(updatedRaw)
	return seg, nil
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
