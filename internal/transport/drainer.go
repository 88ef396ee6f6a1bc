package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"
)

// Sender delivers an encoded sync message and waits for the ack.
// *Link implements it.
type Sender interface {
	SendEncoded(ctx context.Context, body []byte) error
}

// Reachability reports whether the peer is up. (*Prober).Reachable fits.
type Reachability func() bool

// Drainer delivers queued messages to the peer in order while it is reachable.
type Drainer struct {
	queue     *Queue
	sender    Sender
	reachable Reachability
	interval  time.Duration
	batchSize int
	logger    *log.Logger
}

// NewDrainer creates a drainer polling every interval and delivering at most
// batchSize messages per pass.
func NewDrainer(queue *Queue, sender Sender, reachable Reachability, interval time.Duration, batchSize int, logger *log.Logger) *Drainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[drain] ", log.LstdFlags)
	}
	return &Drainer{
		queue:     queue,
		sender:    sender,
		reachable: reachable,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run drains on every tick until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if d.reachable == nil || d.reachable() {
			if _, err := d.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Printf("Drain stopped: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// DrainOnce delivers one batch, oldest first, removing each message after it
// is acknowledged. It stops at the first failure so later messages do not
// overtake earlier ones. Returns the number delivered.
func (d *Drainer) DrainOnce(ctx context.Context) (int, error) {
	msgs, err := d.queue.Peek(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue: %w", err)
	}

	delivered := 0
	for _, m := range msgs {
		if err := d.sender.SendEncoded(ctx, m.Body); err != nil {
			return delivered, fmt.Errorf("failed to deliver %s %s %s: %w", m.Action, m.EntityKind, m.EntityID, err)
		}
		if err := d.queue.Ack(ctx, m.Seq); err != nil {
			return delivered, fmt.Errorf("failed to remove delivered message %d: %w", m.Seq, err)
		}
		delivered++
		drainedCounter.Inc()
	}

	if delivered > 0 {
		d.logger.Printf("Delivered %d queued message(s)", delivered)
	}
	return delivered, nil
}

// DrainAll repeats DrainOnce until the queue is empty or a pass fails.
func (d *Drainer) DrainAll(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := d.DrainOnce(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}
