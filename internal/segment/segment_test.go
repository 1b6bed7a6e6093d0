package segment_test

import (
	"errors"
	"testing"
	"time"

	"clipweave/internal/segment"
)

func TestPlanPartitionsTotal(t *testing.T) {
	tests := []struct {
		name      string
		total     time.Duration
		length    time.Duration
		max       int
		wantCount int
		wantLast  time.Duration
	}{
		{"exact multiple", 24 * time.Second, 8 * time.Second, 0, 3, 24 * time.Second},
		{"clipped last", 25 * time.Second, 8 * time.Second, 0, 4, 25 * time.Second},
		{"shorter than length", 3 * time.Second, 8 * time.Second, 0, 1, 3 * time.Second},
		{"capped", 100 * time.Second, 8 * time.Second, 5, 5, 40 * time.Second},
		{"cap above count", 16 * time.Second, 8 * time.Second, 10, 2, 16 * time.Second},
		{"fractional", 2500 * time.Millisecond, time.Second, 0, 3, 2500 * time.Millisecond},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			segs, err := segment.Plan(tc.total, tc.length, tc.max)
			if err != nil {
				t.Fatalf("Plan returned error: %v", err)
			}
			if len(segs) != tc.wantCount {
				t.Fatalf("expected %d segments, got %d", tc.wantCount, len(segs))
			}
			if err := segment.Validate(segs); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if got := segment.Coverage(segs); got != tc.wantLast {
				t.Fatalf("expected coverage %s, got %s", tc.wantLast, got)
			}
			for i, seg := range segs[:len(segs)-1] {
				if seg.Duration() != tc.length {
					t.Fatalf("segment %d has length %s, want %s", i, seg.Duration(), tc.length)
				}
			}
		})
	}
}

func TestPlanLastSegmentEndsAtTotal(t *testing.T) {
	segs, err := segment.Plan(25*time.Second, 8*time.Second, 0)
	if err != nil {
		t.Fatalf("Plan returned error: %v", err)
	}
	last := segs[len(segs)-1]
	if last.Index != 3 || last.Start != 24*time.Second || last.End != 25*time.Second {
		t.Fatalf("unexpected last segment: %+v", last)
	}
}

func TestPlanRejectsNonPositiveInput(t *testing.T) {
	cases := [][2]time.Duration{{0, time.Second}, {-time.Second, time.Second}, {time.Second, 0}, {time.Second, -time.Second}}
	for _, c := range cases {
		if _, err := segment.Plan(c[0], c[1], 0); !errors.Is(err, segment.ErrInvalidInput) {
			t.Fatalf("Plan(%s, %s): expected ErrInvalidInput, got %v", c[0], c[1], err)
		}
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	a, _ := segment.Plan(61*time.Second, 7*time.Second, 0)
	b, _ := segment.Plan(61*time.Second, 7*time.Second, 0)
	if len(a) != len(b) {
		t.Fatalf("length mismatch %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Index != b[i].Index || a[i].Start != b[i].Start || a[i].End != b[i].End {
			t.Fatalf("segment %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestValidateDetectsGapsAndOverlaps(t *testing.T) {
	gap := []segment.Segment{
		{Index: 0, Start: 0, End: 8 * time.Second},
		{Index: 1, Start: 9 * time.Second, End: 16 * time.Second},
	}
	if err := segment.Validate(gap); err == nil {
		t.Fatal("expected gap error")
	}
	overlap := []segment.Segment{
		{Index: 0, Start: 0, End: 8 * time.Second},
		{Index: 1, Start: 7 * time.Second, End: 16 * time.Second},
	}
	if err := segment.Validate(overlap); err == nil {
		t.Fatal("expected overlap error")
	}
	badIndex := []segment.Segment{{Index: 1, Start: 0, End: time.Second}}
	if err := segment.Validate(badIndex); err == nil {
		t.Fatal("expected index error")
	}
	if err := segment.Validate(nil); err == nil {
		t.Fatal("expected empty list error")
	}
}
