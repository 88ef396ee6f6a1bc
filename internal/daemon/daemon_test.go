package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/bundle"
	"github.com/davidchanminpark/time-my-life/internal/config"
	"github.com/davidchanminpark/time-my-life/internal/device"
	"github.com/davidchanminpark/time-my-life/internal/logging"
	"github.com/davidchanminpark/time-my-life/internal/replica"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestIsBundle(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"watch.jsonl", true},
		{"/inbox/2026-10-15.jsonl", true},
		{"watch.jsonl.tmp", false},
		{"watch.jsonl.imported", false},
		{".hidden.jsonl", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		if got := IsBundle(tt.name); got != tt.want {
			t.Errorf("IsBundle(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestInboxWatcher(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "a-existing.jsonl")
	if err := os.WriteFile(existing, []byte("{}\n"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	var mu sync.Mutex
	var imported []string
	importFn := func(ctx context.Context, path string) error {
		mu.Lock()
		defer mu.Unlock()
		imported = append(imported, filepath.Base(path))
		return nil
	}
	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(imported)
	}

	w := NewInboxWatcher(dir, 50*time.Millisecond, importFn, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitFor(t, "existing bundle import", func() bool { return count() == 1 })
	if _, err := os.Stat(existing + bundle.ImportedSuffix); err != nil {
		t.Errorf("existing bundle not marked imported: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b-new.jsonl"), []byte("{}\n"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	waitFor(t, "new bundle import", func() bool { return count() == 2 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if imported[0] != "a-existing.jsonl" || imported[1] != "b-new.jsonl" {
		t.Errorf("imported = %v", imported)
	}
}

func TestInboxWatcherKeepsFailedBundle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.jsonl")
	if err := os.WriteFile(path, nil, 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	w := NewInboxWatcher(dir, time.Second, func(context.Context, string) error {
		return errors.New("database is locked")
	}, log.New(io.Discard, "", 0))
	if err := w.ScanOnce(context.Background()); err != nil {
		t.Fatalf("ScanOnce() failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("failed bundle was moved: %v", err)
	}
}

func testConfig(t *testing.T, role, peerURL string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Device.Name = role
	cfg.Device.Role = role
	cfg.DataDir = t.TempDir()
	cfg.Timezone = "UTC"
	cfg.Peer.Listen = "127.0.0.1:0"
	cfg.Peer.URL = peerURL
	cfg.Dashboard.Port = 0
	cfg.Sync.ProbeInterval = 50 * time.Millisecond
	cfg.Sync.DrainInterval = 50 * time.Millisecond
	cfg.Inbox.Debounce = 50 * time.Millisecond
	cfg.Timer.TickInterval = 50 * time.Millisecond
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config) (*device.Device, *Daemon) {
	t.Helper()
	dev, err := device.Open(context.Background(), cfg, device.Options{Logs: logging.Discard()})
	if err != nil {
		t.Fatalf("device.Open() failed: %v", err)
	}

	d := New(dev, log.New(io.Discard, "", 0))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() = %v", err)
		}
		dev.Close()
	})

	<-d.Ready()
	if d.PeerAddr() == "" {
		t.Fatal("peer server did not start")
	}
	return dev, d
}

func TestDaemonsSyncAndImport(t *testing.T) {
	ctx := context.Background()

	phone, phoneDaemon := startDaemon(t, testConfig(t, config.RolePhone, ""))
	watch, _ := startDaemon(t, testConfig(t, config.RoleWatch, "http://"+phoneDaemon.PeerAddr()))

	waitFor(t, "peer probe", func() bool { return watch.Transport.IsPeerReachable() })

	a, err := watch.Replica.CreateActivity(ctx, replica.ActivityInput{Name: "Swimming", Color: "#0077CC", Schedule: []int{3}})
	if err != nil {
		t.Fatalf("CreateActivity() failed: %v", err)
	}
	waitFor(t, "activity on phone", func() bool {
		_, err := phone.Replica.GetActivity(ctx, a.ID)
		return err == nil
	})

	// A bundle dropped into the phone's inbox carries the ledger.
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	if _, err := watch.Ledger.Accumulate(ctx, a.ID, day, 20*time.Minute); err != nil {
		t.Fatalf("Accumulate() failed: %v", err)
	}
	path := filepath.Join(phone.Config.InboxDir(), "watch.jsonl")
	if _, err := bundle.Export(ctx, watch.DB, path, time.Now()); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}

	waitFor(t, "ledger entry on phone", func() bool {
		e, err := phone.Ledger.Read(ctx, a.ID, day)
		return err == nil && e.Duration == 20*time.Minute
	})
}
