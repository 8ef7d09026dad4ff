package audit

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/directout-bridge/internal/infrastructure/database"
	"github.com/nerrad567/directout-bridge/migrations"
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func TestCreate_Defaults(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	e := &Entry{Command: CommandSet, Target: "/settings/input_mute/3", Subject: "desk-1", Role: "operator"}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.ID == "" || e.Source != "api" || e.Outcome != OutcomeOK || e.CreatedAt.IsZero() {
		t.Errorf("defaults not applied: %+v", e)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || len(res.Entries) != 1 {
		t.Fatalf("List() = %+v, want one entry", res)
	}
	got := res.Entries[0]
	if got.ID != e.ID || got.Target != e.Target || got.Subject != "desk-1" || got.Role != "operator" {
		t.Errorf("entry = %+v, want %+v", got, e)
	}
	if got.Details != nil {
		t.Errorf("details = %v, want nil", got.Details)
	}
}

func TestCreate_RequiresCommand(t *testing.T) {
	repo := openTestRepo(t)
	if err := repo.Create(context.Background(), &Entry{}); err == nil {
		t.Error("Create() without command should fail")
	}
}

func TestCreate_Details(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	e := &Entry{
		Command: CommandAction,
		Target:  "input_mute",
		Outcome: "device_unavailable",
		Details: map[string]any{"channel": 3, "value": "%%toggle%%"},
	}
	if err := repo.Create(ctx, e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	got := res.Entries[0]
	if got.Outcome != "device_unavailable" {
		t.Errorf("outcome = %q", got.Outcome)
	}
	if got.Details["channel"] != float64(3) || got.Details["value"] != "%%toggle%%" {
		t.Errorf("details = %v", got.Details)
	}
}

func TestList_Filter(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	seed := []Entry{
		{ID: "a1", Command: CommandSet, Subject: "desk-1", CreatedAt: t0},
		{ID: "a2", Command: CommandAction, Subject: "desk-1", CreatedAt: t0.Add(time.Second)},
		{ID: "a3", Command: CommandSet, Subject: "desk-2", CreatedAt: t0.Add(2 * time.Second)},
		{ID: "a4", Command: CommandRaw, Subject: "admin", CreatedAt: t0.Add(3 * time.Second)},
	}
	for i := range seed {
		if err := repo.Create(ctx, &seed[i]); err != nil {
			t.Fatalf("Create(%s) error = %v", seed[i].ID, err)
		}
	}

	tests := []struct {
		name    string
		filter  Filter
		wantIDs []string
		total   int
	}{
		{"all newest first", Filter{}, []string{"a4", "a3", "a2", "a1"}, 4},
		{"by command", Filter{Command: CommandSet}, []string{"a3", "a1"}, 2},
		{"by subject", Filter{Subject: "desk-1"}, []string{"a2", "a1"}, 2},
		{"since", Filter{Since: t0.Add(2 * time.Second)}, []string{"a4", "a3"}, 2},
		{"page", Filter{Limit: 2, Offset: 1}, []string{"a3", "a2"}, 4},
		{"negative offset", Filter{Limit: 1, Offset: -5}, []string{"a4"}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.total {
				t.Errorf("Total = %d, want %d", res.Total, tt.total)
			}
			if len(res.Entries) != len(tt.wantIDs) {
				t.Fatalf("entries = %d, want %d", len(res.Entries), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if res.Entries[i].ID != id {
					t.Errorf("entries[%d] = %s, want %s", i, res.Entries[i].ID, id)
				}
			}
		})
	}
}

func TestList_LimitClamp(t *testing.T) {
	repo := openTestRepo(t)

	res, err := repo.List(context.Background(), Filter{Limit: 10000})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxLimit {
		t.Errorf("Limit = %d, want %d", res.Limit, maxLimit)
	}
	if res.Entries == nil {
		t.Error("Entries should be an empty slice, not nil")
	}

	res, err = repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", res.Limit, defaultLimit)
	}
}
