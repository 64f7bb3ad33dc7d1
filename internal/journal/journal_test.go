package journal

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T, maxEntries int) *Journal {
	t.Helper()

	j, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"), maxEntries)
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordAndList(t *testing.T) {
	j := openTestJournal(t, 10)
	ctx := context.Background()

	entries := []Entry{
		{Secret: "acme-a", Username: "c36f50e8-4632-44f0-83fe-e070fef28a10", Subdomain: "foo", Outcome: "registered"},
		{Secret: "acme-b", Entry: "second", Outcome: "rejected", Reason: "subdomain is not a valid DNS label"},
		{Secret: "acme-a", Username: "c36f50e8-4632-44f0-83fe-e070fef28a10", Subdomain: "foo", Outcome: "failed", Reason: "database is locked"},
	}
	for _, e := range entries {
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := j.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(got))
	}

	// newest first
	if got[0].Outcome != "failed" || got[2].Outcome != "registered" {
		t.Errorf("List() order = %s, %s, %s, want newest first", got[0].Outcome, got[1].Outcome, got[2].Outcome)
	}
	for _, e := range got {
		if e.ID == "" {
			t.Error("entry ID not assigned")
		}
		if e.Time.IsZero() {
			t.Error("entry time not assigned")
		}
	}
	if got[1].Entry != "second" {
		t.Errorf("Entry = %s, want second", got[1].Entry)
	}
}

func TestJournalListFilter(t *testing.T) {
	j := openTestJournal(t, 10)
	ctx := context.Background()

	for i, outcome := range []string{"registered", "rejected", "registered", "failed", "registered"} {
		e := Entry{Secret: fmt.Sprintf("secret-%d", i%2), Outcome: outcome}
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter ListFilter
		want   int
	}{
		{"no filter", ListFilter{}, 5},
		{"limit", ListFilter{Limit: 2}, 2},
		{"outcome", ListFilter{Outcome: "registered"}, 3},
		{"secret", ListFilter{Secret: "secret-1"}, 2},
		{"outcome and secret", ListFilter{Outcome: "registered", Secret: "secret-0"}, 3},
		{"no match", ListFilter{Outcome: "unknown"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("List() returned %d entries, want %d", len(got), tt.want)
			}
		})
	}
}

func TestJournalTrimsOldest(t *testing.T) {
	j := openTestJournal(t, 3)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		e := Entry{Secret: fmt.Sprintf("secret-%d", i), Outcome: "registered"}
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	n, err := j.Count()
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}

	got, err := j.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"secret-6", "secret-5", "secret-4"}
	for i, e := range got {
		if e.Secret != want[i] {
			t.Errorf("entry %d secret = %s, want %s", i, e.Secret, want[i])
		}
	}
}

func TestJournalPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if j.maxEntries != DefaultMaxEntries {
		t.Errorf("maxEntries = %d, want %d", j.maxEntries, DefaultMaxEntries)
	}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := j.Record(ctx, Entry{Time: ts, Secret: "acme", Outcome: "registered"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	j.Close()

	j, err = Open(path, 0)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer j.Close()

	got, err := j.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(got))
	}
	if !got[0].Time.Equal(ts) {
		t.Errorf("Time = %v, want %v", got[0].Time, ts)
	}
}
