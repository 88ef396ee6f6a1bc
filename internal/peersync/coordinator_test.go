package peersync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/ledger"
	"github.com/davidchanminpark/time-my-life/internal/notify"
	"github.com/davidchanminpark/time-my-life/internal/replica"
	"github.com/davidchanminpark/time-my-life/internal/schema"
	"github.com/davidchanminpark/time-my-life/internal/store"
)

// fakeTransport records traffic and optionally forwards immediate sends to a
// peer coordinator.
type fakeTransport struct {
	mu             sync.Mutex
	reachable      bool
	failImmediate  bool
	failEnqueue    bool
	peer           *Coordinator
	immediate      []*Message
	queued         []*Message
	resyncRequests int
}

func (f *fakeTransport) IsPeerReachable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable
}

func (f *fakeTransport) SendImmediate(ctx context.Context, m *Message) error {
	f.mu.Lock()
	f.immediate = append(f.immediate, m)
	fail, peer := f.failImmediate, f.peer
	f.mu.Unlock()

	if fail {
		return errors.New("peer did not acknowledge")
	}
	if peer != nil {
		data, err := m.Encode()
		if err != nil {
			return err
		}
		return peer.Receive(ctx, data)
	}
	return nil
}

func (f *fakeTransport) Enqueue(ctx context.Context, m *Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnqueue {
		return errors.New("queue unavailable")
	}
	f.queued = append(f.queued, m)
	return nil
}

func (f *fakeTransport) RequestFullResync(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncRequests++
	return nil
}

func (f *fakeTransport) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.immediate), len(f.queued)
}

// device is one replica with its coordinator.
type device struct {
	db        *store.DB
	replica   *replica.Store
	ledger    *ledger.Ledger
	coord     *Coordinator
	transport *fakeTransport
	bus       *notify.Bus
}

func newDevice(t *testing.T) *device {
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
	d := &device{
		db:        db,
		replica:   replica.New(db, quiet),
		ledger:    ledger.New(db, time.UTC),
		transport: &fakeTransport{},
		bus:       notify.NewBus(32),
	}
	d.coord = New(Config{
		Replica:     d.replica,
		Ledger:      d.ledger,
		Transport:   d.transport,
		Publisher:   d.bus,
		SendTimeout: time.Second,
		Logger:      quiet,
	})
	d.replica.SetObserver(d.coord)
	d.ledger.SetObserver(d.coord)
	return d
}

// pair connects two devices with reachable immediate channels.
func pair(t *testing.T) (*device, *device) {
	t.Helper()
	primary, companion := newDevice(t), newDevice(t)
	primary.transport.reachable = true
	primary.transport.peer = companion.coord
	companion.transport.reachable = true
	companion.transport.peer = primary.coord
	return primary, companion
}

func activityMessage(t *testing.T, a *schema.Activity, action schema.Action) []byte {
	t.Helper()
	m, err := NewMessage(schema.Change{Action: action, Kind: schema.KindActivity, ID: a.ID, Entity: a}, time.Now())
	if err != nil {
		t.Fatalf("NewMessage() failed: %v", err)
	}
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	return data
}

var day = time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

func TestMessage_WireShape(t *testing.T) {
	a := &schema.Activity{ID: "a-1", Name: "Piano", Schedule: []int{2}, CreatedAt: day}
	m, err := NewMessage(schema.Change{Action: schema.ActionCreate, Kind: schema.KindActivity, ID: "a-1", Entity: a}, day)
	if err != nil {
		t.Fatalf("NewMessage() failed: %v", err)
	}
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	for _, key := range []string{"action", "entity_kind", "payload", "origin_timestamp", "entity_id"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("wire message missing %q: %s", key, data)
		}
	}

	del, err := NewMessage(schema.Change{Action: schema.ActionDelete, Kind: schema.KindActivity, ID: "a-1"}, day)
	if err != nil {
		t.Fatalf("NewMessage(delete) failed: %v", err)
	}
	data, _ = del.Encode()
	raw = nil
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if _, ok := raw["payload"]; ok {
		t.Errorf("delete message carries a payload: %s", data)
	}
}

func TestDecodeMessage_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"unknown action", `{"action":"merge","entity_kind":"activity","entity_id":"a","payload":{}}`},
		{"unknown kind", `{"action":"create","entity_kind":"task","entity_id":"a","payload":{}}`},
		{"missing id", `{"action":"create","entity_kind":"activity","payload":{}}`},
		{"create without payload", `{"action":"create","entity_kind":"activity","entity_id":"a"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeMessage([]byte(tt.data)); !errors.Is(err, ErrMalformedMessage) {
				t.Errorf("DecodeMessage() error = %v, want ErrMalformedMessage", err)
			}
		})
	}
}

func TestObserve_TransportSelection(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		reachable     bool
		failImmediate bool
		wantImmediate int
		wantQueued    int
	}{
		{"reachable", true, false, 1, 0},
		{"reachable but send fails", true, true, 1, 1},
		{"unreachable", false, false, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDevice(t)
			d.transport.reachable = tt.reachable
			d.transport.failImmediate = tt.failImmediate

			if _, err := d.replica.CreateActivity(ctx, replica.ActivityInput{Name: "Piano", Schedule: []int{2}}); err != nil {
				t.Fatalf("CreateActivity() failed: %v", err)
			}
			d.coord.Wait()

			immediate, queued := d.transport.counts()
			if immediate != tt.wantImmediate || queued != tt.wantQueued {
				t.Errorf("immediate=%d queued=%d, want %d/%d", immediate, queued, tt.wantImmediate, tt.wantQueued)
			}
		})
	}
}

func TestObserve_TransportFailureDoesNotUnwindLocalWrite(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)
	d.transport.reachable = true
	d.transport.failImmediate = true
	d.transport.failEnqueue = true

	a, err := d.replica.CreateActivity(ctx, replica.ActivityInput{Name: "Piano", Schedule: []int{2}})
	if err != nil {
		t.Fatalf("CreateActivity() returned transport error: %v", err)
	}
	d.coord.Wait()

	if _, err := d.replica.GetActivity(ctx, a.ID); err != nil {
		t.Errorf("local activity missing after failed sync: %v", err)
	}
}

func TestObserve_QueuePreservesCommitOrder(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)

	const n = 20
	for i := 0; i < n; i++ {
		if _, err := d.ledger.Accumulate(ctx, "a-1", day, time.Second); err != nil {
			t.Fatalf("Accumulate() failed: %v", err)
		}
	}
	d.coord.Wait()

	d.transport.mu.Lock()
	queued := append([]*Message(nil), d.transport.queued...)
	d.transport.mu.Unlock()
	if len(queued) != n {
		t.Fatalf("queued %d messages, want %d", len(queued), n)
	}

	for i, m := range queued {
		var e schema.LedgerEntry
		if err := json.Unmarshal(m.Payload, &e); err != nil {
			t.Fatalf("Unmarshal() failed: %v", err)
		}
		if want := time.Duration(i+1) * time.Second; e.Duration != want {
			t.Fatalf("queued[%d] duration = %v, want %v", i, e.Duration, want)
		}
	}

	local, err := d.ledger.Read(ctx, "a-1", day)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if local.Duration != n*time.Second {
		t.Errorf("local duration = %v, want %v", local.Duration, n*time.Second)
	}
}

func TestSync_CreatePropagates(t *testing.T) {
	ctx := context.Background()
	primary, companion := pair(t)

	a, err := primary.replica.CreateActivity(ctx, replica.ActivityInput{Name: "Piano", Color: "blue", Category: "Music", Schedule: []int{2, 4}})
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	primary.coord.Wait()

	got, err := companion.replica.GetActivity(ctx, a.ID)
	if err != nil {
		t.Fatalf("companion missing activity: %v", err)
	}
	if got.Name != "Piano" || got.Category != "Music" || len(got.Schedule) != 2 {
		t.Errorf("companion activity = %+v", got)
	}

	// The companion applied silently and did not echo the change back
	companion.coord.Wait()
	if immediate, queued := companion.transport.counts(); immediate != 0 || queued != 0 {
		t.Errorf("companion echoed %d/%d messages", immediate, queued)
	}
}

func TestReceive_DuplicateCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)

	a := &schema.Activity{ID: "8a1c9e40-3f0b-4d55-9a43-5d6b1f7c2e10", Name: "Piano", Schedule: []int{2}, CreatedAt: day}
	data := activityMessage(t, a, schema.ActionCreate)

	for i := 0; i < 2; i++ {
		if err := d.coord.Receive(ctx, data); err != nil {
			t.Fatalf("Receive() #%d failed: %v", i+1, err)
		}
	}

	list, err := d.replica.ListActivities(ctx)
	if err != nil {
		t.Fatalf("ListActivities() failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != a.ID {
		t.Errorf("activities = %v, want exactly one %s", list, a.ID)
	}
}

func TestReceive_ActivityLastWriteWins(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)

	local, err := d.replica.CreateActivity(ctx, replica.ActivityInput{Name: "Piano", Color: "blue", Schedule: []int{2}})
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	d.coord.Wait()

	// An older remote edit still wins because it arrived last
	remote := *local
	remote.Name = "Keys"
	remote.Color = "red"
	remote.Category = "Music"
	remote.Schedule = []int{1, 7}
	m, _ := NewMessage(schema.Change{Action: schema.ActionUpdate, Kind: schema.KindActivity, ID: remote.ID, Entity: &remote}, local.CreatedAt.Add(-time.Hour))
	if err := d.coord.Apply(ctx, m); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	got, err := d.replica.GetActivity(ctx, local.ID)
	if err != nil {
		t.Fatalf("GetActivity() failed: %v", err)
	}
	if got.Name != "Keys" || got.Color != "red" || got.Category != "Music" || len(got.Schedule) != 2 {
		t.Errorf("activity after inbound update = %+v", got)
	}
}

func TestReceive_LedgerOverwriteLosesLocalIncrement(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)

	snapshot := &schema.LedgerEntry{ActivityID: "a-1", Day: "2026-10-15", Duration: 1800 * time.Second}
	m, err := NewMessage(schema.Change{Action: schema.ActionUpdate, Kind: schema.KindLedgerEntry, ID: snapshot.ID(), Entity: snapshot}, time.Now())
	if err != nil {
		t.Fatalf("NewMessage() failed: %v", err)
	}

	if err := d.coord.Apply(ctx, m); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if _, err := d.ledger.Accumulate(ctx, "a-1", day, 600*time.Second); err != nil {
		t.Fatalf("Accumulate() failed: %v", err)
	}
	d.coord.Wait()

	entry, err := d.ledger.Read(ctx, "a-1", day)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if entry.Duration != 2400*time.Second {
		t.Fatalf("local duration = %v, want 2400s", entry.Duration)
	}

	// The same snapshot arrives again and overwrites the local increment
	if err := d.coord.Apply(ctx, m); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	entry, err = d.ledger.Read(ctx, "a-1", day)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if entry.Duration != 1800*time.Second {
		t.Errorf("duration after inbound overwrite = %v, want 1800s (overwrite, not merge)", entry.Duration)
	}
}

func TestSync_DeleteCascadesOnPeer(t *testing.T) {
	ctx := context.Background()
	primary, companion := pair(t)

	a, err := primary.replica.CreateActivity(ctx, replica.ActivityInput{Name: "Piano", Schedule: []int{2}})
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	primary.coord.Wait()
	if _, err := primary.ledger.Accumulate(ctx, a.ID, day, time.Hour); err != nil {
		t.Fatalf("Accumulate() failed: %v", err)
	}
	primary.coord.Wait()

	peerEntry, err := companion.ledger.Read(ctx, a.ID, day)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if peerEntry.Duration != time.Hour {
		t.Fatalf("peer ledger = %v, want 1h before delete", peerEntry.Duration)
	}

	if err := primary.replica.DeleteActivity(ctx, a.ID); err != nil {
		t.Fatalf("DeleteActivity() failed: %v", err)
	}
	primary.coord.Wait()

	for name, d := range map[string]*device{"primary": primary, "companion": companion} {
		if _, err := d.replica.GetActivity(ctx, a.ID); !errors.Is(err, replica.ErrNotFound) {
			t.Errorf("%s still has activity: %v", name, err)
		}
		entries, err := d.ledger.ReadAll(ctx, a.ID)
		if err != nil {
			t.Fatalf("ReadAll() failed: %v", err)
		}
		if len(entries) != 0 {
			t.Errorf("%s kept %d ledger entries", name, len(entries))
		}
	}
}

func TestReceive_LedgerDeleteByID(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)

	if _, err := d.ledger.Overwrite(ctx, &schema.LedgerEntry{ActivityID: "a-1", Day: "2026-10-15", Duration: time.Minute}); err != nil {
		t.Fatalf("Overwrite() failed: %v", err)
	}
	m := &Message{Action: schema.ActionDelete, EntityKind: schema.KindLedgerEntry, EntityID: "a-1/2026-10-15", OriginTimestamp: time.Now()}
	if err := d.coord.Apply(ctx, m); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	entry, err := d.ledger.Read(ctx, "a-1", day)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if entry.Duration != 0 {
		t.Errorf("entry survived delete: %v", entry.Duration)
	}

	// Deleting again is a no-op
	if err := d.coord.Apply(ctx, m); err != nil {
		t.Errorf("second Apply() failed: %v", err)
	}
}

func TestReceive_GoalSync(t *testing.T) {
	ctx := context.Background()
	primary, companion := pair(t)

	a, err := primary.replica.CreateActivity(ctx, replica.ActivityInput{Name: "Piano", Schedule: []int{2}})
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	g, err := primary.replica.CreateGoal(ctx, replica.GoalInput{ActivityID: a.ID, Period: schema.PeriodWeekly, Target: 3 * time.Hour})
	if err != nil {
		t.Fatalf("CreateGoal() failed: %v", err)
	}
	primary.coord.Wait()

	got, err := companion.replica.GetGoal(ctx, g.ID)
	if err != nil {
		t.Fatalf("companion missing goal: %v", err)
	}
	if got.Target != 3*time.Hour || got.ActivityID != a.ID {
		t.Errorf("companion goal = %+v", got)
	}

	if err := primary.replica.DeleteGoal(ctx, g.ID); err != nil {
		t.Fatalf("DeleteGoal() failed: %v", err)
	}
	primary.coord.Wait()
	if _, err := companion.replica.GetGoal(ctx, g.ID); !errors.Is(err, replica.ErrNotFound) {
		t.Errorf("companion goal after delete: %v", err)
	}
}

func TestReceive_MalformedIsDropped(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)

	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte("not json")},
		{"bad payload", []byte(`{"action":"create","entity_kind":"activity","entity_id":"a-1","payload":"oops","origin_timestamp":"2026-10-15T00:00:00Z"}`)},
		{"invalid activity", activityMessage(t, &schema.Activity{ID: "a-1", Name: "", Schedule: []int{1}, CreatedAt: day}, schema.ActionCreate)},
		{"id mismatch", []byte(`{"action":"create","entity_kind":"activity","entity_id":"a-2","payload":{"id":"a-1","name":"x","schedule":[1],"created_at":"2026-10-15T00:00:00Z"},"origin_timestamp":"2026-10-15T00:00:00Z"}`)},
		{"bad ledger id", []byte(`{"action":"delete","entity_kind":"ledgerEntry","entity_id":"nope","origin_timestamp":"2026-10-15T00:00:00Z"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.coord.Receive(ctx, tt.data); err != nil {
				t.Errorf("Receive() = %v, want nil (logged and dropped)", err)
			}
		})
	}

	if n, _ := d.db.CountActivities(ctx); n != 0 {
		t.Errorf("malformed messages stored %d activities", n)
	}
}

func TestReceive_ActiveTimerIgnored(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)

	start := time.Now()
	rec := &schema.ActiveTimerRecord{ActivityID: "a-1", StartTime: &start, Running: true}
	m, err := NewMessage(schema.Change{Action: schema.ActionUpdate, Kind: schema.KindActiveTimer, ID: "active", Entity: rec}, time.Now())
	if err != nil {
		t.Fatalf("NewMessage() failed: %v", err)
	}
	if err := d.coord.Apply(ctx, m); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	local, _, err := d.db.LoadActiveTimer(ctx)
	if err != nil {
		t.Fatalf("LoadActiveTimer() failed: %v", err)
	}
	if local.Running {
		t.Error("peer timer state was mirrored locally")
	}
}

func TestHandleResyncRequest_ActivitiesOnly(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)

	for _, name := range []string{"Piano", "Run"} {
		a, err := d.replica.CreateActivity(ctx, replica.ActivityInput{Name: name, Schedule: []int{1}})
		if err != nil {
			t.Fatalf("CreateActivity() failed: %v", err)
		}
		if _, err := d.ledger.Accumulate(ctx, a.ID, day, time.Minute); err != nil {
			t.Fatalf("Accumulate() failed: %v", err)
		}
	}
	d.coord.Wait()
	d.transport.queued = nil

	sent, err := d.coord.HandleResyncRequest(ctx)
	if err != nil {
		t.Fatalf("HandleResyncRequest() failed: %v", err)
	}
	if sent != 2 {
		t.Errorf("sent = %d, want 2", sent)
	}
	for _, m := range d.transport.queued {
		if m.EntityKind != schema.KindActivity || m.Action != schema.ActionCreate {
			t.Errorf("resync sent %s", m)
		}
	}
	if len(d.transport.queued) != 2 {
		t.Errorf("queued %d messages, want 2", len(d.transport.queued))
	}
}

func TestRequestFullResync(t *testing.T) {
	d := newDevice(t)
	if err := d.coord.RequestFullResync(context.Background()); err != nil {
		t.Fatalf("RequestFullResync() failed: %v", err)
	}
	if d.transport.resyncRequests != 1 {
		t.Errorf("resync requests = %d, want 1", d.transport.resyncRequests)
	}
}

func TestApply_PublishesNotifications(t *testing.T) {
	ctx := context.Background()
	d := newDevice(t)
	events, cancel := d.bus.Subscribe()
	defer cancel()

	a := &schema.Activity{ID: "a-1", Name: "Piano", Schedule: []int{2}, CreatedAt: day}
	if err := d.coord.Receive(ctx, activityMessage(t, a, schema.ActionCreate)); err != nil {
		t.Fatalf("Receive() failed: %v", err)
	}
	entry := &schema.LedgerEntry{ActivityID: "a-1", Day: "2026-10-15", Duration: time.Hour}
	m, _ := NewMessage(schema.Change{Action: schema.ActionCreate, Kind: schema.KindLedgerEntry, ID: entry.ID(), Entity: entry}, time.Now())
	if err := d.coord.Apply(ctx, m); err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}

	want := []notify.EventType{notify.ActivitySynced, notify.LedgerEntrySynced}
	for _, typ := range want {
		select {
		case e := <-events:
			if e.Type != typ {
				t.Errorf("event = %s, want %s", e.Type, typ)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %s notification", typ)
		}
	}
}
