// Package daemon runs a device's long-lived background work.
//
// The daemon:
//  1. Serves the peer endpoint (/sync, /health, /metrics)
//  2. Probes the peer and drains the durable queue while it is reachable
//  3. Imports bundles dropped into the inbox directory
//  4. Refreshes the timer every tick so work started by CLI processes shows up
//  5. Broadcasts notifications on the dashboard websocket
//
// Each piece runs in one errgroup; the first failure or cancellation stops
// them all.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/davidchanminpark/time-my-life/internal/bundle"
	"github.com/davidchanminpark/time-my-life/internal/dashboard"
	"github.com/davidchanminpark/time-my-life/internal/device"
	"github.com/davidchanminpark/time-my-life/internal/transport"
)

// Daemon orchestrates a device's servers and background loops.
type Daemon struct {
	dev    *device.Device
	logger *log.Logger

	mu      sync.Mutex
	peer    *transport.PeerServer
	dash    *dashboard.Server
	handler *dashboard.Handler
	ready   chan struct{}
}

// New creates a daemon for dev.
func New(dev *device.Device, logger *log.Logger) *Daemon {
	if logger == nil {
		logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	return &Daemon{dev: dev, logger: logger, ready: make(chan struct{})}
}

// Ready is closed once the servers are listening, or startup failed.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// PeerAddr returns the peer server's listening address after Ready.
func (d *Daemon) PeerAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.peer == nil {
		return ""
	}
	return d.peer.Addr()
}

// DashboardAddr returns the dashboard's listening address after Ready, or
// "" when the dashboard is disabled.
func (d *Daemon) DashboardAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dash == nil {
		return ""
	}
	return d.dash.GetAddr()
}

// Run blocks until ctx is cancelled or a component fails.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.dev.Config
	d.logger.Printf("Starting daemon for %s (%s)", cfg.Device.Name, cfg.Device.Role)

	if err := d.startServers(); err != nil {
		close(d.ready)
		return err
	}
	defer d.stopServers()
	close(d.ready)

	g, gctx := errgroup.WithContext(ctx)

	if d.dev.Prober != nil {
		g.Go(func() error { return quiet(d.dev.Prober.Run(gctx)) })
	}
	if drainer := d.dev.NewDrainer(); drainer != nil {
		g.Go(func() error { return quiet(drainer.Run(gctx)) })
	} else {
		d.logger.Println("No peer configured; outbound changes stay queued")
	}

	inbox := NewInboxWatcher(cfg.InboxDir(), cfg.Inbox.Debounce, d.importBundle, d.dev.Logger("inbox"))
	g.Go(func() error { return quiet(inbox.Run(gctx)) })

	g.Go(func() error { return quiet(d.dev.Timer.RunTicker(gctx, cfg.Timer.TickInterval)) })

	if d.handler != nil {
		events, unsubscribe := d.dev.Bus.Subscribe()
		defer unsubscribe()
		g.Go(func() error { return quiet(d.handler.Run(gctx, events)) })
	}

	err := g.Wait()
	d.logger.Println("Daemon stopped")
	return err
}

func (d *Daemon) startServers() error {
	cfg := d.dev.Config

	peer := transport.NewPeerServer(transport.ServerConfig{
		Addr:     cfg.Peer.Listen,
		Receiver: d.dev.Coordinator,
		Logger:   d.dev.Logger("peer"),
	})
	if err := peer.Start(); err != nil {
		return fmt.Errorf("failed to start peer server: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.peer = peer

	if cfg.Dashboard.Port > 0 {
		dash := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Logger: d.dev.Logger("dashboard"),
		})
		handler := dashboard.NewHandler(dash, d.dev.Logger("dashboard"))
		if err := dash.Start(); err != nil {
			_ = peer.Stop()
			d.peer = nil
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		d.dash, d.handler = dash, handler
	}
	return nil
}

func (d *Daemon) stopServers() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dash != nil {
		if err := d.dash.Stop(); err != nil {
			d.logger.Printf("Error stopping dashboard: %v", err)
		}
	}
	if d.peer != nil {
		if err := d.peer.Stop(); err != nil {
			d.logger.Printf("Error stopping peer server: %v", err)
		}
	}
}

func (d *Daemon) importBundle(ctx context.Context, path string) error {
	res, err := bundle.Import(ctx, d.dev.Coordinator, path)
	if err != nil {
		return err
	}
	d.logger.Printf("Imported %s: %d applied, %d skipped", path, res.Applied, res.Skipped)
	for _, e := range res.Errors {
		d.logger.Printf("  skipped %s", e)
	}
	return nil
}

// quiet treats cancellation as a clean exit.
func quiet(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
