package peersync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/ledger"
	"github.com/davidchanminpark/time-my-life/internal/notify"
	"github.com/davidchanminpark/time-my-life/internal/replica"
	"github.com/davidchanminpark/time-my-life/internal/schema"
)

// Transport delivers messages to the peer.
type Transport interface {
	// IsPeerReachable reports whether the immediate channel may be tried.
	IsPeerReachable() bool

	// SendImmediate delivers m over the live channel and waits for the
	// peer's acknowledgement. Best effort; may time out.
	SendImmediate(ctx context.Context, m *Message) error

	// Enqueue stores m for later delivery. It succeeds regardless of
	// reachability.
	Enqueue(ctx context.Context, m *Message) error

	// RequestFullResync asks the peer to re-send all of its activities.
	RequestFullResync(ctx context.Context) error
}

// Config configures a Coordinator. Replica, Ledger and Transport are required.
type Config struct {
	Replica   *replica.Store
	Ledger    *ledger.Ledger
	Transport Transport
	Publisher notify.Publisher

	// SendTimeout bounds an immediate send attempt (default: 5s)
	SendTimeout time.Duration

	// Logger for sync activity (default: stderr logger)
	Logger *log.Logger

	// Now stamps outbound messages (default: time.Now)
	Now func() time.Time
}

// Coordinator turns local changes into outbound messages and applies
// inbound ones.
type Coordinator struct {
	replica     *replica.Store
	ledger      *ledger.Ledger
	transport   Transport
	publisher   notify.Publisher
	sendTimeout time.Duration
	logger      *log.Logger
	now         func() time.Time

	// pending holds observed messages in commit order. One dispatch
	// goroutine at a time drains it.
	mu          sync.Mutex
	pending     []*Message
	dispatching bool
	wg          sync.WaitGroup
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	c := &Coordinator{
		replica:     cfg.Replica,
		ledger:      cfg.Ledger,
		transport:   cfg.Transport,
		publisher:   cfg.Publisher,
		sendTimeout: cfg.SendTimeout,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if c.publisher == nil {
		c.publisher = notify.Nop{}
	}
	if c.sendTimeout <= 0 {
		c.sendTimeout = 5 * time.Second
	}
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Observe implements schema.ChangeObserver. Observe returns immediately;
// messages are sent in the background in the order they were observed.
func (c *Coordinator) Observe(change schema.Change) {
	if change.Kind == schema.KindActiveTimer {
		return
	}
	m, err := NewMessage(change, c.now())
	if err != nil {
		c.logger.Printf("Error building message for %s %s %s: %v", change.Action, change.Kind, change.ID, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.wg.Add(1)
	c.pending = append(c.pending, m)
	if !c.dispatching {
		c.dispatching = true
		go c.dispatch()
	}
}

// dispatch sends pending messages one at a time until none are left.
func (c *Coordinator) dispatch() {
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.dispatching = false
			c.mu.Unlock()
			return
		}
		m := c.pending[0]
		c.pending[0] = nil
		c.pending = c.pending[1:]
		c.mu.Unlock()

		c.Send(context.Background(), m)
		c.wg.Done()
	}
}

// Wait blocks until every dispatched message has been handed to a transport.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Send delivers m synchronously: immediately when the peer is reachable,
// otherwise (or on failure) through the durable queue. Failures are logged.
// It returns the path taken ("immediate", "queued" or "" when both failed).
func (c *Coordinator) Send(ctx context.Context, m *Message) string {
	if c.transport.IsPeerReachable() {
		sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
		err := c.transport.SendImmediate(sendCtx, m)
		cancel()
		if err == nil {
			recordSent("immediate")
			return "immediate"
		}
		c.logger.Printf("Immediate send of %s failed, queueing: %v", m, err)
	}

	if err := c.transport.Enqueue(ctx, m); err != nil {
		c.logger.Printf("Error queueing %s: %v", m, err)
		recordDropped("enqueue_failed")
		return ""
	}
	recordSent("queued")
	return "queued"
}

// Receive decodes and applies a wire message. Malformed messages are logged
// and dropped with a nil return, so the sender does not retry them. Local
// persistence failures are returned.
func (c *Coordinator) Receive(ctx context.Context, data []byte) error {
	m, err := DecodeMessage(data)
	if err == nil {
		err = c.Apply(ctx, m)
	}
	if errors.Is(err, ErrMalformedMessage) {
		c.logger.Printf("Dropping inbound message: %v", err)
		recordDropped("malformed")
		return nil
	}
	return err
}

// Apply folds an inbound message into the local replica.
func (c *Coordinator) Apply(ctx context.Context, m *Message) error {
	if err := m.Validate(); err != nil {
		return err
	}

	var err error
	switch m.EntityKind {
	case schema.KindActivity:
		err = c.applyActivity(ctx, m)
	case schema.KindLedgerEntry:
		err = c.applyLedgerEntry(ctx, m)
	case schema.KindGoal:
		err = c.applyGoal(ctx, m)
	case schema.KindActiveTimer:
		// Timers are per device; the peer's timer state is not mirrored.
		return nil
	}
	if err != nil {
		return err
	}

	recordApplied(m)
	return nil
}

func (c *Coordinator) applyActivity(ctx context.Context, m *Message) error {
	if m.Action == schema.ActionDelete {
		deleted, err := c.replica.ApplyActivityDelete(ctx, m.EntityID)
		if err != nil {
			return err
		}
		if deleted {
			c.logger.Printf("Applied activity delete: %s", m.EntityID)
		}
		c.publish(notify.ActivitySynced, m, "")
		return nil
	}

	var a schema.Activity
	if err := m.decodePayload(&a); err != nil {
		return err
	}
	if err := matchID(m, a.ID, &a.ID); err != nil {
		return err
	}
	created, err := c.replica.ApplyActivity(ctx, &a)
	if errors.Is(err, schema.ErrValidation) {
		return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if err != nil {
		return err
	}

	c.logger.Printf("Applied activity %s: %s (%s, created=%t)", m.Action, a.ID, a.Name, created)
	c.publish(notify.ActivitySynced, m, a.ID)
	return nil
}

func (c *Coordinator) applyLedgerEntry(ctx context.Context, m *Message) error {
	if m.Action == schema.ActionDelete {
		_, err := c.ledger.DeleteByID(ctx, m.EntityID)
		if errors.Is(err, schema.ErrValidation) {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		if err != nil {
			return err
		}
		activityID, day, _ := schema.ParseLedgerID(m.EntityID)
		c.publisher.Publish(notify.Event{
			Type:       notify.LedgerEntrySynced,
			ActivityID: activityID,
			Day:        day,
			EntityID:   m.EntityID,
			Action:     string(m.Action),
		})
		return nil
	}

	var e schema.LedgerEntry
	if err := m.decodePayload(&e); err != nil {
		return err
	}
	if e.ID() != m.EntityID {
		return fmt.Errorf("%w: payload id %s does not match entity_id %s", ErrMalformedMessage, e.ID(), m.EntityID)
	}
	if _, err := c.ledger.Overwrite(ctx, &e); err != nil {
		if errors.Is(err, schema.ErrValidation) {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		return err
	}

	c.publisher.Publish(notify.Event{
		Type:       notify.LedgerEntrySynced,
		ActivityID: e.ActivityID,
		Day:        e.Day,
		Elapsed:    e.Duration,
		EntityID:   m.EntityID,
		Action:     string(m.Action),
	})
	return nil
}

func (c *Coordinator) applyGoal(ctx context.Context, m *Message) error {
	if m.Action == schema.ActionDelete {
		if _, err := c.replica.ApplyGoalDelete(ctx, m.EntityID); err != nil {
			return err
		}
		c.publish(notify.GoalSynced, m, "")
		return nil
	}

	var g schema.Goal
	if err := m.decodePayload(&g); err != nil {
		return err
	}
	if err := matchID(m, g.ID, &g.ID); err != nil {
		return err
	}
	if _, err := c.replica.ApplyGoal(ctx, &g); err != nil {
		if errors.Is(err, schema.ErrValidation) {
			return fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		return err
	}
	c.publish(notify.GoalSynced, m, g.ActivityID)
	return nil
}

func (c *Coordinator) publish(typ notify.EventType, m *Message, activityID string) {
	c.publisher.Publish(notify.Event{
		Type:       typ,
		ActivityID: activityID,
		EntityID:   m.EntityID,
		Action:     string(m.Action),
	})
}

// matchID fills an empty payload id from the envelope and rejects a mismatch.
func matchID(m *Message, payloadID string, dst *string) error {
	if payloadID == "" {
		*dst = m.EntityID
		return nil
	}
	if payloadID != m.EntityID {
		return fmt.Errorf("%w: payload id %s does not match entity_id %s", ErrMalformedMessage, payloadID, m.EntityID)
	}
	return nil
}

// HandleResyncRequest re-sends a create message for every local activity.
// Ledger entries and goals are not included. Returns the number of
// activities sent.
func (c *Coordinator) HandleResyncRequest(ctx context.Context) (int, error) {
	activities, err := c.replica.ListActivities(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list activities for resync: %w", err)
	}

	c.logger.Printf("Resync requested, re-sending %d activities", len(activities))
	sent := 0
	for _, a := range activities {
		m, err := NewMessage(schema.Change{
			Action: schema.ActionCreate,
			Kind:   schema.KindActivity,
			ID:     a.ID,
			Entity: a,
		}, c.now())
		if err != nil {
			c.logger.Printf("Error building resync message for %s: %v", a.ID, err)
			continue
		}
		if c.Send(ctx, m) != "" {
			sent++
		}
	}
	return sent, nil
}

// RequestFullResync asks the peer to re-send its activities.
func (c *Coordinator) RequestFullResync(ctx context.Context) error {
	if err := c.transport.RequestFullResync(ctx); err != nil {
		return fmt.Errorf("failed to request full resync: %w", err)
	}
	c.logger.Println("Requested full resync from peer")
	return nil
}
