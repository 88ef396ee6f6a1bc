package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/davidchanminpark/time-my-life/internal/peersync"
)

// ErrPeerUnreachable is returned when the peer is known to be down.
var ErrPeerUnreachable = errors.New("peer unreachable")

// ErrNotAcknowledged is returned when the peer answered a frame with a nack.
var ErrNotAcknowledged = errors.New("peer rejected frame")

// Link is a websocket client to the peer's /sync endpoint. Frames are sent
// one at a time; each waits for the peer's ack. The connection is dialed on
// first use and dropped after any error.
type Link struct {
	url     string
	timeout time.Duration
	logger  *log.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewLink creates a link to the peer at peerURL (http(s) or ws(s) base URL).
func NewLink(peerURL string, timeout time.Duration, logger *log.Logger) (*Link, error) {
	wsURL, err := endpointURL(peerURL, "/sync", true)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[link] ", log.LstdFlags)
	}
	return &Link{url: wsURL, timeout: timeout, logger: logger}, nil
}

// URL returns the websocket endpoint.
func (l *Link) URL() string {
	return l.url
}

// SendMessage delivers one sync message and waits for the ack.
func (l *Link) SendMessage(ctx context.Context, m *peersync.Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return l.send(ctx, &Frame{Type: FrameMessage, Message: data})
}

// SendEncoded delivers an already-encoded sync message.
func (l *Link) SendEncoded(ctx context.Context, body []byte) error {
	return l.send(ctx, &Frame{Type: FrameMessage, Message: body})
}

// RequestResync asks the peer to re-send its activities.
func (l *Link) RequestResync(ctx context.Context) error {
	return l.send(ctx, &Frame{Type: FrameResyncRequest})
}

func (l *Link) send(ctx context.Context, f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	conn, err := l.connLocked(ctx)
	if err != nil {
		return err
	}

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		l.dropLocked()
		return fmt.Errorf("failed to write frame: %w", err)
	}

	_, reply, err := conn.Read(ctx)
	if err != nil {
		l.dropLocked()
		return fmt.Errorf("failed to read acknowledgement: %w", err)
	}
	ack, err := decodeFrame(reply)
	if err != nil {
		l.dropLocked()
		return err
	}

	switch ack.Type {
	case FrameAck:
		return nil
	case FrameNack:
		return fmt.Errorf("%w: %s", ErrNotAcknowledged, ack.Error)
	default:
		l.dropLocked()
		return fmt.Errorf("unexpected reply frame %q", ack.Type)
	}
}

func (l *Link) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if l.conn != nil {
		return l.conn, nil
	}
	conn, _, err := websocket.Dial(ctx, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", l.url, err)
	}
	l.logger.Printf("Connected to peer at %s", l.url)
	l.conn = conn
	return conn, nil
}

func (l *Link) dropLocked() {
	if l.conn == nil {
		return
	}
	_ = l.conn.Close(websocket.StatusGoingAway, "")
	l.conn = nil
}

// Close closes the connection if one is open.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close(websocket.StatusNormalClosure, "")
	l.conn = nil
	return err
}

// endpointURL joins path onto base. With ws set the scheme is mapped to
// ws/wss, otherwise to http/https.
func endpointURL(base, path string, ws bool) (string, error) {
	if base == "" {
		return "", errors.New("peer url is not configured")
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid peer url %q: %w", base, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "http"
		if ws {
			u.Scheme = "ws"
		}
	case "https", "wss":
		u.Scheme = "https"
		if ws {
			u.Scheme = "wss"
		}
	default:
		return "", fmt.Errorf("unsupported peer url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}
