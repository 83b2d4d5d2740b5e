package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	// Verify the database file doesn't exist yet
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatal("database file should not exist before creating store")
	}

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"cycles", "settings"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q should exist after migrations: %v", table, err)
		}
	}

	var idx string
	err := s.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name=?",
		"idx_cycles_started_at",
	).Scan(&idx)
	if err != nil {
		t.Errorf("index should exist after migrations: %v", err)
	}
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Settings().Set(SettingMode, "mediapipe"); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	v, err := s.Settings().Get(SettingMode)
	if err != nil || v != "mediapipe" {
		t.Errorf("Get() = %q, %v; want mediapipe", v, err)
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("close should not return error: %v", err)
	}

	// After closing, DB operations should fail
	if _, err := s.DB().Exec("SELECT 1"); err == nil {
		t.Error("DB operations should fail after close")
	}
}

func TestCycleRepository_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	repo := s.Cycles()

	c := &Cycle{
		ID:       "c1",
		Origin:   "gesture",
		Gesture:  "OK",
		Mode:     "mediapipe",
		Strategy: "synthetic",
	}
	if err := repo.Create(c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if c.Outcome != OutcomeRunning || c.StartedAt.IsZero() {
		t.Errorf("Create() did not set defaults: %+v", c)
	}

	got, err := repo.GetByID("c1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Gesture != "OK" || got.Outcome != OutcomeRunning || got.FinishedAt != nil {
		t.Errorf("GetByID() = %+v", got)
	}

	c.Token = "20240501_142233"
	c.PhotoPath = "photos/photo_20240501_142233.jpg"
	c.PoemPath = "photos/poems/poem_20240501_142233.txt"
	c.Poem = "a poem"
	if err := repo.Finish(c, OutcomePrinted); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	got, err = repo.GetByID("c1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Outcome != OutcomePrinted || got.Token != c.Token || got.Poem != "a poem" {
		t.Errorf("after Finish = %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not stored")
	}
}

func TestCycleRepository_NotFound(t *testing.T) {
	repo := newTestStore(t).Cycles()

	if _, err := repo.GetByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	if err := repo.Update(&Cycle{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestCycleRepository_ListAndCount(t *testing.T) {
	repo := newTestStore(t).Cycles()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	outcomes := []Outcome{OutcomePrinted, OutcomeCaptureFailed, OutcomeGenerated, OutcomePrinted}
	for i, o := range outcomes {
		c := &Cycle{
			ID:        string(rune('a' + i)),
			Origin:    "gpio",
			Mode:      "manual",
			Outcome:   o,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(c); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		limit   int
		wantIDs []string
	}{
		{limit: 2, wantIDs: []string{"d", "c"}},
		{limit: 0, wantIDs: []string{"d", "c", "b", "a"}},
	}
	for _, tt := range tests {
		list, err := repo.List(tt.limit)
		if err != nil {
			t.Fatalf("List(%d) error = %v", tt.limit, err)
		}
		if len(list) != len(tt.wantIDs) {
			t.Fatalf("List(%d) returned %d cycles, want %d", tt.limit, len(list), len(tt.wantIDs))
		}
		for i, id := range tt.wantIDs {
			if list[i].ID != id {
				t.Errorf("List(%d)[%d] = %s, want %s", tt.limit, i, list[i].ID, id)
			}
		}
	}

	if n, _ := repo.Count(OutcomePrinted); n != 2 {
		t.Errorf("Count(printed) = %d, want 2", n)
	}
	if n, _ := repo.Count(""); n != 4 {
		t.Errorf("Count(all) = %d, want 4", n)
	}
}

func TestCycleRepository_AbandonRunning(t *testing.T) {
	repo := newTestStore(t).Cycles()

	repo.Create(&Cycle{ID: "left", Origin: "gpio", Mode: "manual"})
	repo.Create(&Cycle{ID: "done", Origin: "gpio", Mode: "manual", Outcome: OutcomePrinted})

	n, err := repo.AbandonRunning()
	if err != nil {
		t.Fatalf("AbandonRunning() error = %v", err)
	}
	if n != 1 {
		t.Errorf("AbandonRunning() = %d, want 1", n)
	}

	got, _ := repo.GetByID("left")
	if got.Outcome != OutcomeAborted || got.Error != "interrupted" {
		t.Errorf("abandoned cycle = %+v", got)
	}
}

func TestSettingRepository(t *testing.T) {
	repo := newTestStore(t).Settings()

	if _, err := repo.Get(SettingMode); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() on empty store error = %v, want ErrNotFound", err)
	}

	for _, v := range []string{"manual", "teachable"} {
		if err := repo.Set(SettingMode, v); err != nil {
			t.Fatalf("Set(%q) error = %v", v, err)
		}
		got, err := repo.Get(SettingMode)
		if err != nil || got != v {
			t.Errorf("Get() = %q, %v; want %q", got, err, v)
		}
	}
}
