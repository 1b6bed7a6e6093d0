package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInput reports a non-positive total duration or segment length.
var ErrInvalidInput = errors.New("invalid segmentation input")

// Segment is one contiguous slice of the requested output.
type Segment struct {
	Index      int             `json:"index"`
	Start      time.Duration   `json:"start"`
	End        time.Duration   `json:"end"`
	Descriptor json.RawMessage `json:"descriptor,omitempty"`
}

// Duration returns End-Start.
func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}

// Plan splits total into ceil(total/length) segments of the given length,
// clipping the last one to total. maxSegments <= 0 leaves the count uncapped;
// a positive cap truncates the plan to the first maxSegments segments.
func Plan(total, length time.Duration, maxSegments int) ([]Segment, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: total duration must be positive, got %s", ErrInvalidInput, total)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: segment length must be positive, got %s", ErrInvalidInput, length)
	}

	count := int(total / length)
	if time.Duration(count)*length < total {
		count++
	}
	if maxSegments > 0 && count > maxSegments {
		count = maxSegments
	}

	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		start := time.Duration(i) * length
		end := start + length
		if end > total {
			end = total
		}
		segments = append(segments, Segment{Index: i, Start: start, End: end})
	}
	return segments, nil
}

// Validate checks that segments are indexed 0..N-1 and tile [0, last.End)
// with no gap or overlap.
func Validate(segments []Segment) error {
	if len(segments) == 0 {
		return errors.New("segment list is empty")
	}
	var cursor time.Duration
	for i, seg := range segments {
		if seg.Index != i {
			return fmt.Errorf("segment %d has incorrect index %d", i, seg.Index)
		}
		if seg.End <= seg.Start {
			return fmt.Errorf("segment %d has empty span [%s, %s)", i, seg.Start, seg.End)
		}
		switch {
		case seg.Start < cursor:
			return fmt.Errorf("segments %d and %d overlap at %s", i-1, i, seg.Start)
		case seg.Start > cursor:
			return fmt.Errorf("gap before segment %d: %s to %s", i, cursor, seg.Start)
		}
		cursor = seg.End
	}
	return nil
}

// Coverage returns the end of the last segment, which equals the requested
// total unless the plan was capped.
func Coverage(segments []Segment) time.Duration {
	if len(segments) == 0 {
		return 0
	}
	return segments[len(segments)-1].End
}
