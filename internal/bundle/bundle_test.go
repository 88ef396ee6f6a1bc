package bundle

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/ledger"
	"github.com/davidchanminpark/time-my-life/internal/peersync"
	"github.com/davidchanminpark/time-my-life/internal/replica"
	"github.com/davidchanminpark/time-my-life/internal/schema"
	"github.com/davidchanminpark/time-my-life/internal/store"
)

type testDevice struct {
	db      *store.DB
	replica *replica.Store
	ledger  *ledger.Ledger
	coord   *peersync.Coordinator
}

// nopTransport discards outbound traffic.
type nopTransport struct{}

func (nopTransport) IsPeerReachable() bool                                   { return false }
func (nopTransport) SendImmediate(context.Context, *peersync.Message) error { return nil }
func (nopTransport) Enqueue(context.Context, *peersync.Message) error       { return nil }
func (nopTransport) RequestFullResync(context.Context) error                 { return nil }

func newTestDevice(t *testing.T) *testDevice {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "replica.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	d := &testDevice{
		db:      db,
		replica: replica.New(db, quiet),
		ledger:  ledger.New(db, time.UTC),
	}
	d.coord = peersync.New(peersync.Config{
		Replica:   d.replica,
		Ledger:    d.ledger,
		Transport: nopTransport{},
		Logger:    quiet,
	})
	return d
}

func seed(t *testing.T, d *testDevice) *schema.Activity {
	t.Helper()
	ctx := context.Background()
	a, err := d.replica.CreateActivity(ctx, replica.ActivityInput{Name: "Guitar", Color: "#AA3300", Schedule: []int{2, 5}})
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	if _, err := d.replica.CreateGoal(ctx, replica.GoalInput{ActivityID: a.ID, Period: schema.PeriodWeekly, Target: 3 * time.Hour}); err != nil {
		t.Fatalf("CreateGoal() failed: %v", err)
	}
	for i, mins := range []int{30, 45} {
		day := time.Date(2026, 10, 13+i, 0, 0, 0, 0, time.UTC)
		if _, err := d.ledger.Accumulate(ctx, a.ID, day, time.Duration(mins)*time.Minute); err != nil {
			t.Fatalf("Accumulate() failed: %v", err)
		}
	}
	return a
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	watch := newTestDevice(t)
	phone := newTestDevice(t)
	a := seed(t, watch)

	path := filepath.Join(t.TempDir(), "inbox", "watch.jsonl")
	res, err := Export(ctx, watch.db, path, time.Now())
	if err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	if res.Activities != 1 || res.Goals != 1 || res.LedgerEntries != 2 || res.Total() != 4 {
		t.Errorf("Export() = %+v, want 1 activity, 1 goal, 2 entries", res)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	imp, err := Import(ctx, phone.coord, path)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if imp.Applied != 4 || imp.Skipped != 0 {
		t.Errorf("Import() = %+v, want 4 applied", imp)
	}

	total, err := phone.ledger.TotalOverRange(ctx, a.ID,
		time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("TotalOverRange() failed: %v", err)
	}
	if total != 75*time.Minute {
		t.Errorf("phone total = %v, want 1h15m0s", total)
	}
	goals, err := phone.replica.ListGoals(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListGoals() failed: %v", err)
	}
	if len(goals) != 1 {
		t.Errorf("phone has %d goals, want 1", len(goals))
	}

	// Importing twice changes nothing.
	if _, err := Import(ctx, phone.coord, path); err != nil {
		t.Fatalf("second Import() failed: %v", err)
	}
	activities, _ := phone.replica.ListActivities(ctx)
	if len(activities) != 1 {
		t.Errorf("phone has %d activities after re-import, want 1", len(activities))
	}
}

func TestExportOrdersActivitiesFirst(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t)
	seed(t, d)

	path := filepath.Join(t.TempDir(), "out.jsonl")
	if _, err := Export(ctx, d.db, path, time.Now()); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	msgs, bad, err := Read(path)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(bad) != 0 {
		t.Fatalf("Read() reported bad lines: %v", bad)
	}
	if msgs[0].EntityKind != schema.KindActivity {
		t.Errorf("first message kind = %s, want activity", msgs[0].EntityKind)
	}
	for _, m := range msgs {
		if m.Action != schema.ActionCreate {
			t.Errorf("message %s is not a create", m)
		}
	}
}

func TestImportSkipsMalformedLines(t *testing.T) {
	ctx := context.Background()
	d := newTestDevice(t)

	good := `{"action":"create","entity_kind":"ledgerEntry","payload":{"activity_id":"a-1","day":"2026-10-15","duration_ns":60000000000},"origin_timestamp":"2026-10-15T10:00:00Z","entity_id":"a-1/2026-10-15"}`
	lines := []string{
		good,
		`{not json`,
		``,
		`{"action":"explode","entity_kind":"activity","entity_id":"x"}`,
		`{"action":"create","entity_kind":"ledgerEntry","payload":{"activity_id":"a-1","day":"yesterday","duration_ns":1},"origin_timestamp":"2026-10-15T10:00:00Z","entity_id":"a-1/yesterday"}`,
	}
	path := filepath.Join(t.TempDir(), "mixed.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	res, err := Import(ctx, d.coord, path)
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	if res.Applied != 1 || res.Skipped != 3 {
		t.Errorf("Import() = %+v, want 1 applied, 3 skipped", res)
	}
	if len(res.Errors) != 3 || !strings.HasPrefix(res.Errors[0], "line 2:") {
		t.Errorf("Errors = %q", res.Errors)
	}
}

func TestMarkImported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.jsonl")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	dest, err := MarkImported(path)
	if err != nil {
		t.Fatalf("MarkImported() failed: %v", err)
	}
	if dest != path+ImportedSuffix {
		t.Errorf("MarkImported() = %q", dest)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("original still present: %v", err)
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, _, err := Read(filepath.Join(t.TempDir(), "nope.jsonl")); err == nil {
		t.Error("Read() of a missing file succeeded")
	}
}
