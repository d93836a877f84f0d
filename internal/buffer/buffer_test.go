package buffer

import (
	"fmt"
	"testing"
	"time"

	"velvet/internal/types"
)

func ev(ts time.Time, id string) types.RawSignalEvent {
	return types.RawSignalEvent{
		ID:        id,
		Timestamp: ts,
		Modality:  types.ModalityWindow,
		Key:       "window_focus",
	}
}

func TestRing_OverwritesOldest(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := NewRing(10)

	for i := 0; i < 1000; i++ {
		if !r.Add(ev(base.Add(time.Duration(i)*time.Second), fmt.Sprintf("e%d", i))) {
			t.Fatalf("Add(%d) = false, want true", i)
		}
	}

	if r.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", r.Len())
	}

	got := r.Query(time.Time{}.Add(time.Nanosecond))
	if len(got) != 10 {
		t.Fatalf("Query returned %d events, want 10", len(got))
	}
	// The last 10 inserted survive, in insertion order.
	for i, e := range got {
		want := fmt.Sprintf("e%d", 990+i)
		if e.ID != want {
			t.Fatalf("got[%d].ID = %s, want %s", i, e.ID, want)
		}
	}
}

func TestRing_RejectsZeroTimestamp(t *testing.T) {
	r := NewRing(4)
	if r.Add(types.RawSignalEvent{ID: "bad"}) {
		t.Fatal("Add with zero timestamp = true, want false")
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestRing_QuerySince(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := NewRing(8)
	for i := 0; i < 6; i++ {
		r.Add(ev(base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("e%d", i)))
	}

	got := r.Query(base.Add(3 * time.Minute))
	if len(got) != 3 {
		t.Fatalf("Query returned %d events, want 3", len(got))
	}
	if got[0].ID != "e3" {
		t.Fatalf("got[0].ID = %s, want e3", got[0].ID)
	}
}

func TestRing_Prune(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := NewRing(8)
	for i := 0; i < 6; i++ {
		r.Add(ev(base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("e%d", i)))
	}

	removed := r.Prune(base.Add(4 * time.Minute))
	if removed != 4 {
		t.Fatalf("Prune removed %d, want 4", removed)
	}
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}

	// Ring keeps working after a prune wraps the head.
	for i := 6; i < 12; i++ {
		r.Add(ev(base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("e%d", i)))
	}
	if r.Len() != 8 {
		t.Fatalf("Len() after refill = %d, want 8", r.Len())
	}
}

func TestWindow_DropsStaleOnAdd(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	clock := types.ClockFunc(func() time.Time { return now })

	w := NewWindow(5*time.Minute, clock)

	if !w.Add(ev(base.Add(-time.Minute), "fresh")) {
		t.Fatal("fresh event rejected")
	}
	// An event already older than the window never lands.
	if w.Add(ev(base.Add(-10*time.Minute), "stale")) {
		t.Fatal("stale event accepted")
	}
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", w.Len())
	}
}

func TestWindow_ExpiresAsClockAdvances(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	clock := types.ClockFunc(func() time.Time { return now })

	w := NewWindow(5*time.Minute, clock)
	for i := 0; i < 5; i++ {
		w.Add(ev(base.Add(time.Duration(i)*time.Minute), fmt.Sprintf("e%d", i)))
		now = base.Add(time.Duration(i) * time.Minute)
	}
	if w.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", w.Len())
	}

	// Advance 7 minutes past the first event: e0 and e1 age out.
	now = base.Add(7 * time.Minute)
	got := w.Query(time.Time{}.Add(time.Nanosecond))
	if len(got) != 3 {
		t.Fatalf("Query returned %d events, want 3", len(got))
	}
	if got[0].ID != "e2" {
		t.Fatalf("got[0].ID = %s, want e2", got[0].ID)
	}
}

func TestWindow_QuerySnapshotIsNotLive(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	clock := types.ClockFunc(func() time.Time { return now })

	w := NewWindow(time.Hour, clock)
	w.Add(ev(base, "e0"))

	snap := w.Query(time.Time{}.Add(time.Nanosecond))
	w.Add(ev(base.Add(time.Second), "e1"))

	if len(snap) != 1 {
		t.Fatalf("snapshot grew to %d after Add, want 1", len(snap))
	}
}

func TestStore_RejectsUnknownKeyAndCounts(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Register("window_focus", NewRing(4))

	if !s.Add("window_focus", ev(base, "ok")) {
		t.Fatal("Add to registered key = false, want true")
	}
	if s.Add("nope", ev(base, "lost")) {
		t.Fatal("Add to unknown key = true, want false")
	}
	if s.Add("window_focus", types.RawSignalEvent{ID: "zero-ts"}) {
		t.Fatal("Add with zero timestamp = true, want false")
	}

	if s.Rejected() != 2 {
		t.Fatalf("Rejected() = %d, want 2", s.Rejected())
	}
	if s.Get("window_focus").Len() != 1 {
		t.Fatalf("buffer Len() = %d, want 1", s.Get("window_focus").Len())
	}
}

func TestStore_PruneAll(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.Register("a", NewRing(8))
	s.Register("b", NewRing(8))

	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		s.Add("a", ev(ts, fmt.Sprintf("a%d", i)))
		s.Add("b", ev(ts, fmt.Sprintf("b%d", i)))
	}

	removed := s.PruneAll(base.Add(2 * time.Minute))
	if removed != 4 {
		t.Fatalf("PruneAll removed %d, want 4", removed)
	}
}
