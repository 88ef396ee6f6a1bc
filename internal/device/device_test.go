package device

import (
	"context"
	"testing"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/config"
	"github.com/davidchanminpark/time-my-life/internal/logging"
	"github.com/davidchanminpark/time-my-life/internal/replica"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Timezone = "UTC"
	return cfg
}

func openDevice(t *testing.T, cfg *config.Config, now time.Time) *Device {
	t.Helper()
	d, err := Open(context.Background(), cfg, Options{Logs: logging.Discard(), Clock: fixedClock{now}})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return d
}

func TestTimerSurvivesProcessRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	t0 := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	d := openDevice(t, cfg, t0)
	a, err := d.Replica.CreateActivity(ctx, replica.ActivityInput{Name: "Writing", Color: "#123456", Schedule: []int{5}})
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	if _, err := d.Timer.Start(ctx, a.ID, t0); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	d2 := openDevice(t, cfg, t0.Add(50*time.Minute))
	defer d2.Close()

	state := d2.Timer.State()
	if !state.Running || state.ActivityID != a.ID {
		t.Fatalf("restored state = %+v, want running %s", state, a.ID)
	}
	if got := d2.Timer.CurrentElapsed(); got != 50*time.Minute {
		t.Errorf("CurrentElapsed() = %v, want 50m", got)
	}

	sess, err := d2.Timer.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if sess.Elapsed != 50*time.Minute || sess.Day != "2026-10-15" {
		t.Errorf("Stop() = %+v", sess)
	}

	e, err := d2.Ledger.Read(ctx, a.ID, t0)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if e.Duration != 50*time.Minute {
		t.Errorf("ledger = %v, want 50m", e.Duration)
	}
}

func TestNoPeerQueuesChanges(t *testing.T) {
	ctx := context.Background()
	d := openDevice(t, testConfig(t), time.Now())
	defer d.Close()

	if d.Link != nil || d.Prober != nil || d.NewDrainer() != nil {
		t.Fatal("peer components built without a peer url")
	}
	if d.CheckPeer(ctx) {
		t.Error("CheckPeer() = true without a peer")
	}

	if _, err := d.Replica.CreateActivity(ctx, replica.ActivityInput{Name: "Yoga", Color: "#00AA88", Schedule: []int{1}}); err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	d.Coordinator.Wait()

	n, err := d.Queue.Len(ctx)
	if err != nil {
		t.Fatalf("Len() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
}

func TestPeerComponents(t *testing.T) {
	cfg := testConfig(t)
	cfg.Peer.URL = "http://127.0.0.1:1"

	d := openDevice(t, cfg, time.Now())
	defer d.Close()

	if d.Link == nil || d.Prober == nil {
		t.Fatal("peer components missing with a peer url")
	}
	if d.Transport.IsPeerReachable() {
		t.Error("peer reachable before any probe")
	}
	if d.NewDrainer() == nil {
		t.Error("NewDrainer() = nil with a peer")
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Device.Role = "tablet"
	if _, err := Open(context.Background(), cfg, Options{Logs: logging.Discard()}); err == nil {
		t.Error("Open() with an invalid role succeeded")
	}
}
