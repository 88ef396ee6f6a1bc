// Package device assembles one replica: its database, ledger, replica store,
// timer engine, sync coordinator and transport, all configured from a
// config.Config. The CLI opens a Device per command; the daemon opens one for
// its lifetime.
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/config"
	"github.com/davidchanminpark/time-my-life/internal/ledger"
	"github.com/davidchanminpark/time-my-life/internal/logging"
	"github.com/davidchanminpark/time-my-life/internal/notify"
	"github.com/davidchanminpark/time-my-life/internal/peersync"
	"github.com/davidchanminpark/time-my-life/internal/replica"
	"github.com/davidchanminpark/time-my-life/internal/store"
	"github.com/davidchanminpark/time-my-life/internal/timer"
	"github.com/davidchanminpark/time-my-life/internal/transport"
)

// Options adjusts how a Device is assembled.
type Options struct {
	// Logs supplies component loggers (default: stderr)
	Logs *logging.Factory

	// Host is the timer's execution host (default: timer.NopHost)
	Host timer.ExecutionHost

	// Clock overrides the timer clock, for tests
	Clock timer.Clock
}

// Device is an assembled replica.
type Device struct {
	Config   *config.Config
	Location *time.Location

	DB          *store.DB
	Bus         *notify.Bus
	Ledger      *ledger.Ledger
	Replica     *replica.Store
	Timer       *timer.Engine
	Coordinator *peersync.Coordinator

	Queue     *transport.Queue
	Transport *transport.Dual

	// Link and Prober are nil when no peer URL is configured
	Link   *transport.Link
	Prober *transport.Prober

	logs   *logging.Factory
	logger *log.Logger
}

// Open assembles a device and restores its timer from the database.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	logs := opts.Logs
	if logs == nil {
		logs = logging.Stderr()
	}

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	d := &Device{
		Config:   cfg,
		Location: loc,
		DB:       db,
		Bus:      notify.NewBus(64),
		logs:     logs,
		logger:   logs.Logger("device"),
	}

	if cfg.Peer.URL != "" {
		d.Link, err = transport.NewLink(cfg.Peer.URL, cfg.Sync.SendTimeout, logs.Logger("link"))
		if err != nil {
			db.Close()
			return nil, err
		}
		d.Prober, err = transport.NewProber(cfg.Peer.URL, cfg.Sync.ProbeInterval, logs.Logger("probe"))
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	d.Ledger = ledger.New(db, loc)
	d.Replica = replica.New(db, logs.Logger("replica"))
	d.Queue = transport.NewQueue(db, cfg.Sync.QueueCapacity, logs.Logger("queue"))
	d.Transport = transport.NewDual(d.Link, d.Queue, d.peerReachable)

	d.Coordinator = peersync.New(peersync.Config{
		Replica:     d.Replica,
		Ledger:      d.Ledger,
		Transport:   d.Transport,
		Publisher:   d.Bus,
		SendTimeout: cfg.Sync.SendTimeout,
		Logger:      logs.Logger("sync"),
	})
	d.Replica.SetObserver(d.Coordinator)
	d.Ledger.SetObserver(d.Coordinator)

	d.Timer = timer.New(timer.Config{
		Store:     db,
		Recorder:  d.Ledger,
		Host:      opts.Host,
		Publisher: d.Bus,
		Clock:     opts.Clock,
		Location:  loc,
		Logger:    logs.Logger("timer"),
	})
	if _, err := d.Timer.Restore(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to restore timer: %w", err)
	}

	return d, nil
}

// peerReachable reports the prober's last result. Until something runs the
// prober (the daemon, or CheckPeer) the peer counts as unreachable and
// outbound messages are queued.
func (d *Device) peerReachable() bool {
	return d.Prober != nil && d.Prober.Reachable()
}

// CheckPeer probes the peer once. It returns false when no peer is configured.
func (d *Device) CheckPeer(ctx context.Context) bool {
	if d.Prober == nil {
		return false
	}
	return d.Prober.Check(ctx)
}

// NewDrainer returns a drainer for this device's queue, or nil without a peer.
func (d *Device) NewDrainer() *transport.Drainer {
	if d.Link == nil {
		return nil
	}
	return transport.NewDrainer(d.Queue, d.Link, d.peerReachable,
		d.Config.Sync.DrainInterval, d.Config.Sync.DrainBatch, d.logs.Logger("drain"))
}

// Logger returns a component logger from the device's log factory.
func (d *Device) Logger(component string) *log.Logger {
	return d.logs.Logger(component)
}

// Close waits for in-flight sync sends, then releases the link and database.
func (d *Device) Close() error {
	if d.Coordinator != nil {
		d.Coordinator.Wait()
	}
	var errs []error
	if d.Link != nil {
		if err := d.Link.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	d.Bus.Close()
	if err := d.DB.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
