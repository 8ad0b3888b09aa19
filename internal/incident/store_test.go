package incident

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "incidents.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	records := []Incident{
		{Service: "gateway", Kind: KindTransition, From: "HEALTHY", To: "DOWN", At: base},
		{Service: "gateway", Kind: KindRecovery, Detail: "attempt 1", At: base.Add(time.Second)},
		{Service: "dashboard", Kind: KindTransition, From: "UNKNOWN", To: "HEALTHY", At: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		if err := s.Record(ctx, r); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	if all[0].Service != "dashboard" {
		t.Errorf("all[0].Service = %q, want newest first", all[0].Service)
	}

	gw, err := s.List(ctx, "gateway", 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(gw) != 1 {
		t.Fatalf("len(gw) = %d, want 1", len(gw))
	}
	if gw[0].Kind != KindRecovery || gw[0].Detail != "attempt 1" {
		t.Errorf("gw[0] = %+v", gw[0])
	}
	if !gw[0].At.Equal(base.Add(time.Second)) {
		t.Errorf("At = %v, want %v", gw[0].At, base.Add(time.Second))
	}
	if gw[0].ID == uuid.Nil {
		t.Error("ID should be assigned")
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidents.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	id := uuid.New()
	if err := s.Record(ctx, Incident{ID: id, Service: "gateway", Kind: KindGaveUp}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	got, err := s.List(ctx, "gateway", 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != id {
		t.Errorf("got = %+v, want one incident with id %s", got, id)
	}
}

func TestStore_DuplicateID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inc := Incident{ID: uuid.New(), Service: "gateway", Kind: KindTransition}
	if err := s.Record(ctx, inc); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := s.Record(ctx, inc); err == nil {
		t.Error("expected primary key violation")
	}
}
