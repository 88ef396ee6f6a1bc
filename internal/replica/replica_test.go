package replica

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/ledger"
	"github.com/davidchanminpark/time-my-life/internal/schema"
	"github.com/davidchanminpark/time-my-life/internal/store"
)

type recordingObserver struct {
	changes []schema.Change
}

func (r *recordingObserver) Observe(c schema.Change) {
	r.changes = append(r.changes, c)
}

func newTestStore(t *testing.T) (*Store, *store.DB, *recordingObserver) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	s := New(db, log.New(io.Discard, "", 0))
	obs := &recordingObserver{}
	s.SetObserver(obs)
	return s, db, obs
}

func piano() ActivityInput {
	return ActivityInput{Name: "Piano", Color: "blue", Category: "Music", Schedule: []int{4, 2, 2}}
}

func TestCreateActivity(t *testing.T) {
	ctx := context.Background()
	s, _, obs := newTestStore(t)

	a, err := s.CreateActivity(ctx, piano())
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	if a.ID == "" || a.CreatedAt.IsZero() {
		t.Errorf("CreateActivity() = %+v, want id and created_at", a)
	}
	if len(a.Schedule) != 2 || a.Schedule[0] != 2 || a.Schedule[1] != 4 {
		t.Errorf("Schedule = %v, want [2 4]", a.Schedule)
	}

	if len(obs.changes) != 1 {
		t.Fatalf("observed %d changes, want 1", len(obs.changes))
	}
	c := obs.changes[0]
	if c.Action != schema.ActionCreate || c.Kind != schema.KindActivity || c.ID != a.ID {
		t.Errorf("change = %+v", c)
	}
}

func TestCreateActivity_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		in   ActivityInput
	}{
		{"empty name", ActivityInput{Name: "   ", Schedule: []int{1}}},
		{"long name", ActivityInput{Name: strings.Repeat("n", 31), Schedule: []int{1}}},
		{"long category", ActivityInput{Name: "Run", Category: strings.Repeat("c", 21), Schedule: []int{1}}},
		{"no schedule", ActivityInput{Name: "Run"}},
		{"bad weekday", ActivityInput{Name: "Run", Schedule: []int{8}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, db, obs := newTestStore(t)
			_, err := s.CreateActivity(ctx, tt.in)
			if !errors.Is(err, schema.ErrValidation) {
				t.Fatalf("CreateActivity() error = %v, want ErrValidation", err)
			}
			if n, _ := db.CountActivities(ctx); n != 0 {
				t.Errorf("invalid activity stored (%d rows)", n)
			}
			if len(obs.changes) != 0 {
				t.Errorf("invalid activity emitted %d changes", len(obs.changes))
			}
		})
	}
}

func TestCreateActivity_Limit(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	for i := 0; i < schema.MaxActivities; i++ {
		in := ActivityInput{Name: fmt.Sprintf("Activity %d", i), Schedule: []int{1}}
		if _, err := s.CreateActivity(ctx, in); err != nil {
			t.Fatalf("CreateActivity(%d) failed: %v", i, err)
		}
	}

	_, err := s.CreateActivity(ctx, ActivityInput{Name: "One too many", Schedule: []int{1}})
	if !errors.Is(err, ErrActivityLimit) {
		t.Fatalf("CreateActivity() error = %v, want ErrActivityLimit", err)
	}
	if !errors.Is(err, schema.ErrValidation) {
		t.Error("ErrActivityLimit should be a validation error")
	}
}

func TestUpdateActivity(t *testing.T) {
	ctx := context.Background()
	s, _, obs := newTestStore(t)

	a, err := s.CreateActivity(ctx, piano())
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}

	updated, err := s.UpdateActivity(ctx, a.ID, ActivityInput{Name: "Grand Piano", Color: "red", Schedule: []int{7}})
	if err != nil {
		t.Fatalf("UpdateActivity() failed: %v", err)
	}
	if updated.Name != "Grand Piano" || updated.Category != "" || !updated.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("UpdateActivity() = %+v", updated)
	}
	if last := obs.changes[len(obs.changes)-1]; last.Action != schema.ActionUpdate {
		t.Errorf("last change = %s, want update", last.Action)
	}

	if _, err := s.UpdateActivity(ctx, "missing", piano()); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateActivity(missing) error = %v, want ErrNotFound", err)
	}

	before := len(obs.changes)
	if _, err := s.UpdateActivity(ctx, a.ID, ActivityInput{Name: ""}); !errors.Is(err, schema.ErrValidation) {
		t.Errorf("UpdateActivity(invalid) error = %v, want ErrValidation", err)
	}
	got, err := s.GetActivity(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetActivity() failed: %v", err)
	}
	if got.Name != "Grand Piano" {
		t.Errorf("invalid update partially applied: %+v", got)
	}
	if len(obs.changes) != before {
		t.Error("invalid update emitted a change")
	}
}

func TestDeleteActivity_CascadesLedger(t *testing.T) {
	ctx := context.Background()
	s, db, obs := newTestStore(t)
	l := ledger.New(db, time.UTC)

	a, err := s.CreateActivity(ctx, piano())
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	if _, err := l.Accumulate(ctx, a.ID, day, time.Hour); err != nil {
		t.Fatalf("Accumulate() failed: %v", err)
	}
	if _, err := s.CreateGoal(ctx, GoalInput{ActivityID: a.ID, Period: schema.PeriodDaily, Target: time.Hour}); err != nil {
		t.Fatalf("CreateGoal() failed: %v", err)
	}

	if err := s.DeleteActivity(ctx, a.ID); err != nil {
		t.Fatalf("DeleteActivity() failed: %v", err)
	}
	if last := obs.changes[len(obs.changes)-1]; last.Action != schema.ActionDelete || last.Entity != nil {
		t.Errorf("last change = %+v, want delete without entity", last)
	}

	entries, err := l.ReadAll(ctx, a.ID)
	if err != nil {
		t.Fatalf("ReadAll() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("%d ledger entries survived delete", len(entries))
	}
	goals, err := s.ListGoals(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListGoals() failed: %v", err)
	}
	if len(goals) != 0 {
		t.Errorf("%d goals survived delete", len(goals))
	}

	if err := s.DeleteActivity(ctx, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteActivity() error = %v, want ErrNotFound", err)
	}
}

func TestFindActivity(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	a, err := s.CreateActivity(ctx, piano())
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	if _, err := s.CreateActivity(ctx, ActivityInput{Name: "Running", Schedule: []int{1}}); err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}

	tests := []struct {
		ref     string
		wantID  string
		wantErr error
	}{
		{a.ID, a.ID, nil},
		{a.ID[:8], a.ID, nil},
		{"piano", a.ID, nil},
		{"PIANO", a.ID, nil},
		{"guitar", "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := s.FindActivity(ctx, tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("FindActivity(%q) error = %v, want %v", tt.ref, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindActivity(%q) failed: %v", tt.ref, err)
			}
			if got.ID != tt.wantID {
				t.Errorf("FindActivity(%q) = %s, want %s", tt.ref, got.ID, tt.wantID)
			}
		})
	}
}

func TestScheduledOn(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	if _, err := s.CreateActivity(ctx, ActivityInput{Name: "Weekend", Schedule: []int{1, 7}}); err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	if _, err := s.CreateActivity(ctx, ActivityInput{Name: "Thursday", Schedule: []int{5}}); err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}

	thursday := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	got, err := s.ScheduledOn(ctx, thursday)
	if err != nil {
		t.Fatalf("ScheduledOn() failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Thursday" {
		t.Errorf("ScheduledOn(Thursday) = %v", got)
	}
}

func TestApplyActivity_IdempotentAndSilent(t *testing.T) {
	ctx := context.Background()
	s, db, obs := newTestStore(t)

	remote := &schema.Activity{
		ID:        "8a1c9e40-3f0b-4d55-9a43-5d6b1f7c2e10",
		Name:      "Piano",
		Schedule:  []int{2},
		CreatedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}

	created, err := s.ApplyActivity(ctx, remote)
	if err != nil || !created {
		t.Fatalf("first ApplyActivity() = %v, %v", created, err)
	}
	created, err = s.ApplyActivity(ctx, remote)
	if err != nil || created {
		t.Fatalf("second ApplyActivity() = %v, %v; want update", created, err)
	}

	if n, _ := db.CountActivities(ctx); n != 1 {
		t.Errorf("CountActivities() = %d, want 1", n)
	}
	if len(obs.changes) != 0 {
		t.Errorf("Apply emitted %d changes, want 0", len(obs.changes))
	}
}

func TestApplyActivity_SkipsLimit(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	for i := 0; i < schema.MaxActivities; i++ {
		if _, err := s.CreateActivity(ctx, ActivityInput{Name: fmt.Sprintf("A%d", i), Schedule: []int{1}}); err != nil {
			t.Fatalf("CreateActivity() failed: %v", err)
		}
	}
	remote := &schema.Activity{ID: "remote-1", Name: "From peer", Schedule: []int{1}, CreatedAt: time.Now()}
	if _, err := s.ApplyActivity(ctx, remote); err != nil {
		t.Errorf("ApplyActivity() at limit failed: %v", err)
	}
}

func TestGoalProgress(t *testing.T) {
	ctx := context.Background()
	s, db, _ := newTestStore(t)
	l := ledger.New(db, time.UTC)

	a, err := s.CreateActivity(ctx, piano())
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	g, err := s.CreateGoal(ctx, GoalInput{ActivityID: a.ID, Period: schema.PeriodWeekly, Target: 4 * time.Hour})
	if err != nil {
		t.Fatalf("CreateGoal() failed: %v", err)
	}

	// Sunday 2026-10-11 through Saturday 2026-10-17
	for _, day := range []time.Time{
		time.Date(2026, 10, 10, 0, 0, 0, 0, time.UTC), // previous week
		time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC),
	} {
		if _, err := l.Accumulate(ctx, a.ID, day, time.Hour); err != nil {
			t.Fatalf("Accumulate() failed: %v", err)
		}
	}

	p, err := s.GoalProgress(ctx, l, g, time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC), time.UTC)
	if err != nil {
		t.Fatalf("GoalProgress() failed: %v", err)
	}
	if p.Tracked != 2*time.Hour {
		t.Errorf("Tracked = %v, want 2h", p.Tracked)
	}
	if p.Fraction() != 0.5 || p.Met() {
		t.Errorf("Fraction() = %v, Met() = %v", p.Fraction(), p.Met())
	}

	if _, err := s.CreateGoal(ctx, GoalInput{ActivityID: "missing", Period: schema.PeriodDaily, Target: time.Hour}); !errors.Is(err, ErrNotFound) {
		t.Errorf("CreateGoal(missing activity) error = %v, want ErrNotFound", err)
	}
}

func TestGoal_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	s, _, obs := newTestStore(t)

	a, err := s.CreateActivity(ctx, piano())
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	g, err := s.CreateGoal(ctx, GoalInput{ActivityID: a.ID, Period: schema.PeriodDaily, Target: time.Hour})
	if err != nil {
		t.Fatalf("CreateGoal() failed: %v", err)
	}

	g, err = s.UpdateGoal(ctx, g.ID, schema.PeriodWeekly, 3*time.Hour)
	if err != nil {
		t.Fatalf("UpdateGoal() failed: %v", err)
	}
	if g.Period != schema.PeriodWeekly || g.Target != 3*time.Hour {
		t.Errorf("UpdateGoal() = %+v", g)
	}
	if _, err := s.UpdateGoal(ctx, g.ID, "yearly", time.Hour); !errors.Is(err, schema.ErrValidation) {
		t.Errorf("UpdateGoal(yearly) error = %v, want ErrValidation", err)
	}

	if err := s.DeleteGoal(ctx, g.ID); err != nil {
		t.Fatalf("DeleteGoal() failed: %v", err)
	}
	if err := s.DeleteGoal(ctx, g.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteGoal() error = %v, want ErrNotFound", err)
	}

	kinds := 0
	for _, c := range obs.changes {
		if c.Kind == schema.KindGoal {
			kinds++
		}
	}
	if kinds != 3 {
		t.Errorf("goal changes = %d, want 3 (create, update, delete)", kinds)
	}
}
