package transport

import (
	"context"

	"github.com/davidchanminpark/time-my-life/internal/peersync"
)

// Dual is the peersync.Transport used by a device: the Link for immediate
// sends and the Queue for everything else. Reachability picks between them.
type Dual struct {
	link      *Link
	queue     *Queue
	reachable Reachability
}

// NewDual composes the two paths. link may be nil when no peer is configured,
// in which case every message is queued.
func NewDual(link *Link, queue *Queue, reachable Reachability) *Dual {
	return &Dual{link: link, queue: queue, reachable: reachable}
}

// IsPeerReachable implements peersync.Transport.
func (d *Dual) IsPeerReachable() bool {
	return d.link != nil && d.reachable != nil && d.reachable()
}

// SendImmediate implements peersync.Transport.
func (d *Dual) SendImmediate(ctx context.Context, m *peersync.Message) error {
	if d.link == nil {
		return ErrPeerUnreachable
	}
	return d.link.SendMessage(ctx, m)
}

// Enqueue implements peersync.Transport.
func (d *Dual) Enqueue(ctx context.Context, m *peersync.Message) error {
	return d.queue.Enqueue(ctx, m)
}

// RequestFullResync implements peersync.Transport. A resync request is a
// control frame and is never queued.
func (d *Dual) RequestFullResync(ctx context.Context) error {
	if d.link == nil {
		return ErrPeerUnreachable
	}
	if d.reachable != nil && !d.reachable() {
		return ErrPeerUnreachable
	}
	return d.link.RequestResync(ctx)
}

var _ peersync.Transport = (*Dual)(nil)
