package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/davidchanminpark/time-my-life/internal/notify"
)

// StatusData is the timer snapshot a client gets on connect.
type StatusData struct {
	Running    bool          `json:"running"`
	ActivityID string        `json:"activity_id,omitempty"`
	Day        string        `json:"day,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Synced     int           `json:"synced"`
}

// Handler turns notify events into dashboard messages and tracks the
// status snapshot.
type Handler struct {
	server *Server
	logger *log.Logger

	mu     sync.Mutex
	status StatusData
}

// NewHandler creates a handler broadcasting on server and installs its
// status snapshot as the server's welcome message.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	h := &Handler{server: server, logger: logger}
	server.SetWelcome(h.statusMessage)
	return h
}

// Run forwards events until ctx is cancelled or the channel closes.
func (h *Handler) Run(ctx context.Context, events <-chan notify.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-events:
			if !ok {
				return nil
			}
			h.OnEvent(e)
		}
	}
}

// OnEvent updates the snapshot and broadcasts e.
func (h *Handler) OnEvent(e notify.Event) {
	var typ MessageType
	switch {
	case strings.HasPrefix(string(e.Type), "timer."):
		typ = MessageTypeTimer
	case strings.HasSuffix(string(e.Type), ".synced"):
		typ = MessageTypeSync
	default:
		h.logger.Printf("Ignoring unknown event type %q", e.Type)
		return
	}

	h.apply(e)

	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Printf("Failed to marshal event: %v", err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: e.Time, Data: data})
}

func (h *Handler) apply(e notify.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch e.Type {
	case notify.TimerStarted, notify.TimerTick:
		h.status.Running = e.ActivityID != ""
		h.status.ActivityID = e.ActivityID
		h.status.Day = e.Day
		h.status.Elapsed = e.Elapsed
	case notify.TimerStopped, notify.TimerReset:
		h.status.Running = false
		h.status.ActivityID = ""
		h.status.Day = ""
		h.status.Elapsed = 0
	case notify.ActivitySynced, notify.LedgerEntrySynced, notify.GoalSynced:
		h.status.Synced++
	}
}

// Status returns the current snapshot.
func (h *Handler) Status() StatusData {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *Handler) statusMessage() (Message, bool) {
	data, err := json.Marshal(h.Status())
	if err != nil {
		return Message{}, false
	}
	return Message{Type: MessageTypeStatus, Timestamp: time.Now(), Data: data}, true
}
