// Package transport carries sync messages between the two devices.
//
// There are two delivery paths behind one peersync.Transport:
//
//   - the immediate channel: a websocket Link to the peer's /sync endpoint,
//     used only while the Prober reports the peer reachable; every frame
//     is acknowledged before the send counts as delivered
//   - the durable queue: a bounded FIFO in the local database that the
//     Drainer empties over the same Link whenever the peer is reachable
//
// The two paths share no ordering. A message queued earlier can reach the
// peer after a newer one sent immediately.
//
// The queue is lossy by construction: when it holds Capacity messages the
// oldest are evicted to admit new ones. Evictions are logged and counted in
// tml_sync_queue_evicted_total so a long-offline peer is visible.
package transport

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies a frame on the /sync websocket.
type FrameType string

const (
	FrameMessage       FrameType = "message"
	FrameResyncRequest FrameType = "resync_request"
	FrameAck           FrameType = "ack"
	FrameNack          FrameType = "nack"
)

// Frame is the unit exchanged on the /sync websocket.
type Frame struct {
	Type    FrameType       `json:"type"`
	Message json.RawMessage `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func decodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	return &f, nil
}
