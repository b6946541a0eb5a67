package substorage

import "testing"

func TestGetScansTopToBottomWithTombstones(t *testing.T) {
	s := New()
	s.Set("a", []byte("1"))
	s.CreateCheckpoint()
	s.Remove("a")

	if _, ok := s.Get("a"); ok {
		t.Fatalf("Get(a) found a value, want tombstone to hide it")
	}
	if s.Has("a") {
		t.Fatalf("Has(a) = true, want false")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := New()
	s.Set("a", []byte("1"))
	before, _ := s.Get("a")

	s.CreateCheckpoint()
	s.Set("a", []byte("2"))
	s.Set("b", []byte("x"))
	s.RevertToCheckpoint()

	got, ok := s.Get("a")
	if !ok || string(got) != string(before) {
		t.Fatalf("Get(a) after revert = %q, want %q", got, before)
	}
	if s.Has("b") {
		t.Fatalf("Has(b) after revert = true, want false")
	}
	if s.Depth() != 1 {
		t.Fatalf("Depth() after revert = %d, want 1", s.Depth())
	}
}

func TestCheckpointDiscardIsEquivalentToNoCheckpoint(t *testing.T) {
	withCheckpoint := New()
	withCheckpoint.Set("a", []byte("1"))
	withCheckpoint.CreateCheckpoint()
	withCheckpoint.Set("a", []byte("2"))
	withCheckpoint.DiscardCheckpoint()

	without := New()
	without.Set("a", []byte("1"))
	without.Set("a", []byte("2"))

	got, _ := withCheckpoint.Get("a")
	want, _ := without.Get("a")
	if string(got) != string(want) {
		t.Fatalf("Get(a) with discard = %q, want %q", got, want)
	}
	if withCheckpoint.Depth() != without.Depth() {
		t.Fatalf("Depth() with discard = %d, want %d", withCheckpoint.Depth(), without.Depth())
	}
}

func TestNestedCheckpointStack(t *testing.T) {
	s := New()
	s.Set("a", []byte("1"))
	s.CreateCheckpoint()
	s.Set("a", []byte("2"))
	s.CreateCheckpoint()
	s.Set("a", []byte("3"))

	s.RevertToCheckpoint()
	got, _ := s.Get("a")
	if string(got) != "2" {
		t.Fatalf("Get(a) after inner revert = %q, want %q", got, "2")
	}

	s.RevertToCheckpoint()
	got, _ = s.Get("a")
	if string(got) != "1" {
		t.Fatalf("Get(a) after outer revert = %q, want %q", got, "1")
	}
	if s.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1", s.Depth())
	}
}

func TestRevertBaselineFramePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic reverting the baseline frame")
		}
	}()
	New().RevertToCheckpoint()
}

func TestShardRingStableAssignment(t *testing.T) {
	r := NewShardRing(4)
	a := r.Open("session-1")
	a.Set("k", []byte("v"))

	again := r.Open("session-1")
	if again != a {
		t.Fatalf("Open(session-1) returned a different SubStorage on second call")
	}

	r.Retire("session-1")
	fresh := r.Open("session-1")
	if fresh == a {
		t.Fatalf("Open(session-1) after Retire returned the retired SubStorage")
	}
	if fresh.Has("k") {
		t.Fatalf("fresh SubStorage unexpectedly has data from the retired session")
	}
}
