package history

import (
	"context"
	"testing"
)

func TestInMemorySaveAndRecent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.SaveResult(ctx, GameRecord{
			SessionID: "sess",
			UserID:    "u1",
			Score:     i,
		})
		if err != nil {
			t.Fatalf("SaveResult() error = %v", err)
		}
	}

	got, err := s.Recent(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Score != 1 || got[1].Score != 2 {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got[0].ID == "" || got[0].FinishedAt.IsZero() {
		t.Fatalf("record should have defaulted ID and FinishedAt: %+v", got[0])
	}
}

func TestInMemoryRecentUnknownUser(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.Recent(context.Background(), "nobody", 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0", len(got))
	}
}

func TestFactoryDefaultsToInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("store type = %T, want *InMemoryStore", s)
	}
}
