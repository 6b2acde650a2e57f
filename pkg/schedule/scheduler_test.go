package schedule

import (
	"reflect"
	"testing"

	"github.com/NERVsystems/streetglow/pkg/geometry"
)

func makeSegments(n int) []geometry.Segment {
	segs := make([]geometry.Segment, n)
	for i := range segs {
		segs[i] = geometry.Segment{StartX: float32(i), Length: float32(i)}
	}
	return segs
}

func TestAdvanceCoversSequence(t *testing.T) {
	for _, total := range []int{0, 1, 999, 1000, 1001, 2500} {
		for _, batch := range []int{1, 7, 1000} {
			segs := makeSegments(total)
			s := New(segs)

			var got []geometry.Segment
			calls := 0
			for !s.Done() {
				b := s.Advance(batch)
				if len(b) == 0 {
					t.Fatalf("total=%d batch=%d: empty batch before completion", total, batch)
				}
				calls++
				got = append(got, b...)
			}

			wantCalls := (total + batch - 1) / batch
			if calls != wantCalls {
				t.Errorf("total=%d batch=%d: %d non-empty calls, want %d", total, batch, calls, wantCalls)
			}
			if total > 0 && !reflect.DeepEqual(got, segs) {
				t.Errorf("total=%d batch=%d: concatenated batches differ from sequence", total, batch)
			}
		}
	}
}

func TestAdvanceAfterComplete(t *testing.T) {
	s := New(makeSegments(3))
	if got := s.Advance(10); len(got) != 3 {
		t.Fatalf("first batch has %d segments, want 3", len(got))
	}
	for i := 0; i < 3; i++ {
		if got := s.Advance(10); len(got) != 0 {
			t.Errorf("advance after completion returned %d segments", len(got))
		}
	}
	if p := s.Progress(); p.Cursor != 3 || p.Total != 3 || !p.Done() {
		t.Errorf("progress = %+v", p)
	}
}

func TestAdvanceNonPositiveBatch(t *testing.T) {
	s := New(makeSegments(5))
	for _, batch := range []int{0, -1} {
		if got := s.Advance(batch); got != nil {
			t.Errorf("Advance(%d) = %d segments, want none", batch, len(got))
		}
	}
	if p := s.Progress(); p.Cursor != 0 {
		t.Errorf("cursor moved to %d", p.Cursor)
	}
}

func TestBatchCannotGrowIntoNextBatch(t *testing.T) {
	s := New(makeSegments(4))
	first := s.Advance(2)
	first = append(first, geometry.Segment{StartX: -1})
	second := s.Advance(2)
	if second[0].StartX != 2 {
		t.Errorf("appending to a batch overwrote the sequence: %+v", second[0])
	}
	_ = first
}

func TestCompleted(t *testing.T) {
	s := New(makeSegments(2))
	select {
	case <-s.Completed():
		t.Fatal("completed before any segment was released")
	default:
	}

	s.Advance(1)
	select {
	case <-s.Completed():
		t.Fatal("completed early")
	default:
	}

	s.Advance(1)
	select {
	case <-s.Completed():
	default:
		t.Fatal("not completed after the last batch")
	}
	s.Advance(1) // must not close twice

	empty := New(nil)
	select {
	case <-empty.Completed():
	default:
		t.Fatal("empty scheduler should start complete")
	}
	if p := empty.Progress(); p.Fraction() != 1 {
		t.Errorf("empty fraction = %v, want 1", p.Fraction())
	}
}

func TestGlow(t *testing.T) {
	var g Glow
	if g.Amount() != 0 {
		t.Fatal("glow should start at zero")
	}
	for i := uint32(1); i <= 3; i++ {
		if got := g.Tick(); got != i {
			t.Errorf("Tick() = %d, want %d", got, i)
		}
	}
}
