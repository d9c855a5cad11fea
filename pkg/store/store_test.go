package store

import (
	"errors"
	"testing"
	"time"

	"github.com/juannvilchez/ciudadseguraappi/pkg/geo"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionValuesRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Get(KeyToken); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for absent key, got %v", err)
	}

	if err := s.Set(KeyToken, "jwt-abc"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(KeyToken)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "jwt-abc" {
		t.Errorf("expected jwt-abc, got %q", got)
	}

	// Overwrite
	if err := s.Set(KeyToken, "jwt-def"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ = s.Get(KeyToken)
	if got != "jwt-def" {
		t.Errorf("expected jwt-def after overwrite, got %q", got)
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := newTestStore(t)

	for _, key := range []string{KeyToken, KeyRefreshToken, KeyRole, KeyCategory} {
		if err := s.Set(key, "v-"+key); err != nil {
			t.Fatalf("Set %s failed: %v", key, err)
		}
	}

	if err := s.Delete(KeyRole); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(KeyRole); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent key is fine
	if err := s.Delete(KeyRole); err != nil {
		t.Errorf("double delete must not fail: %v", err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	for _, key := range []string{KeyToken, KeyRefreshToken, KeyCategory} {
		if _, err := s.Get(key); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected %s cleared, got %v", key, err)
		}
	}
}

func TestSampleJournal(t *testing.T) {
	s := newTestStore(t)

	coords := []geo.Coordinate{
		geo.NewCoordinate(-34.603722, -58.381592),
		geo.NewCoordinate(-34.603800, -58.381700),
		geo.NewCoordinate(-34.603950, -58.381850),
	}
	for _, c := range coords {
		if err := s.RecordSample("ep-1", c); err != nil {
			t.Fatalf("RecordSample failed: %v", err)
		}
	}
	if err := s.RecordSample("ep-2", geo.NewCoordinate(-31.417, -64.183)); err != nil {
		t.Fatalf("RecordSample failed: %v", err)
	}

	records, err := s.SamplesForEpisode("ep-1")
	if err != nil {
		t.Fatalf("SamplesForEpisode failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 samples for ep-1, got %d", len(records))
	}
	for i, r := range records {
		if r.Latitude != coords[i].Latitude || r.Longitude != coords[i].Longitude {
			t.Errorf("sample %d mismatch: got (%v, %v)", i, r.Latitude, r.Longitude)
		}
		if r.RecordedAt.IsZero() {
			t.Errorf("sample %d has zero timestamp", i)
		}
	}

	other, err := s.SamplesForEpisode("ep-2")
	if err != nil {
		t.Fatalf("SamplesForEpisode failed: %v", err)
	}
	if len(other) != 1 {
		t.Errorf("expected 1 sample for ep-2, got %d", len(other))
	}

	none, err := s.SamplesForEpisode("ep-missing")
	if err != nil {
		t.Fatalf("SamplesForEpisode failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no samples for unknown episode, got %d", len(none))
	}
}

func TestPruneSamplesBefore(t *testing.T) {
	s := newTestStore(t)

	if err := s.RecordSample("ep-1", geo.NewCoordinate(-34.6, -58.38)); err != nil {
		t.Fatalf("RecordSample failed: %v", err)
	}

	// Cutoff in the past removes nothing
	n, err := s.PruneSamplesBefore(time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneSamplesBefore failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 pruned, got %d", n)
	}

	// Cutoff in the future removes the entry
	n, err = s.PruneSamplesBefore(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneSamplesBefore failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
}
