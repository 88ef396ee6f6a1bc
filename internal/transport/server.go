package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Receiver applies frames arriving from the peer. *peersync.Coordinator
// implements it.
type Receiver interface {
	Receive(ctx context.Context, data []byte) error
	HandleResyncRequest(ctx context.Context) (int, error)
}

// ServerConfig holds peer server configuration.
type ServerConfig struct {
	// Addr to listen on (default: ":7420")
	Addr string

	// Receiver handles inbound sync messages (required)
	Receiver Receiver

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// PeerServer accepts the peer's websocket connection on /sync and serves
// /health and /metrics.
type PeerServer struct {
	addr     string
	receiver Receiver
	listener net.Listener
	server   *http.Server

	connsMu sync.Mutex
	conns   map[*websocket.Conn]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// resyncs tracks background resync runs. Once stopping is set no new
	// run is added, so Stop can wait on it.
	resyncMu sync.Mutex
	stopping bool
	resyncs  sync.WaitGroup

	logger *log.Logger
}

// NewPeerServer creates a server. Call Start to begin listening.
func NewPeerServer(cfg ServerConfig) *PeerServer {
	if cfg.Addr == "" {
		cfg.Addr = ":7420"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[peer] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &PeerServer{
		addr:     cfg.Addr,
		receiver: cfg.Receiver,
		conns:    make(map[*websocket.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   cfg.Logger,
	}
}

// Handler returns the server's routes.
func (s *PeerServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start begins listening in the background.
func (s *PeerServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Peer server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop closes peer connections and shuts the server down.
func (s *PeerServer) Stop() error {
	s.resyncMu.Lock()
	s.stopping = true
	s.resyncMu.Unlock()
	s.cancel()

	s.connsMu.Lock()
	for conn := range s.conns {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.conns, conn)
	}
	s.connsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.resyncs.Wait()
	s.logger.Println("Peer server stopped")
	return nil
}

// Addr returns the listening address, or the configured one before Start.
func (s *PeerServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *PeerServer) handleSync(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
	s.logger.Printf("Peer connected from %s", r.RemoteAddr)

	defer func() {
		s.connsMu.Lock()
		_, tracked := s.conns[conn]
		delete(s.conns, conn)
		s.connsMu.Unlock()
		if tracked {
			_ = conn.Close(websocket.StatusNormalClosure, "")
		}
		s.logger.Printf("Peer disconnected from %s", r.RemoteAddr)
	}()

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		reply := s.handleFrame(data)
		out, err := json.Marshal(reply)
		if err != nil {
			s.logger.Printf("Failed to encode reply: %v", err)
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err = conn.Write(ctx, websocket.MessageText, out)
		cancel()
		if err != nil {
			return
		}
	}
}

func (s *PeerServer) handleFrame(data []byte) *Frame {
	f, err := decodeFrame(data)
	if err != nil {
		recordFrame("invalid", "nack")
		return &Frame{Type: FrameNack, Error: err.Error()}
	}

	switch f.Type {
	case FrameMessage:
		if s.receiver == nil {
			recordFrame(f.Type, "nack")
			return &Frame{Type: FrameNack, Error: "no receiver"}
		}
		if err := s.receiver.Receive(s.ctx, f.Message); err != nil {
			s.logger.Printf("Failed to apply inbound message: %v", err)
			recordFrame(f.Type, "nack")
			return &Frame{Type: FrameNack, Error: err.Error()}
		}
		recordFrame(f.Type, "ack")
		return &Frame{Type: FrameAck}

	case FrameResyncRequest:
		if s.receiver == nil {
			recordFrame(f.Type, "nack")
			return &Frame{Type: FrameNack, Error: "no receiver"}
		}
		s.resyncMu.Lock()
		if s.stopping {
			s.resyncMu.Unlock()
			recordFrame(f.Type, "nack")
			return &Frame{Type: FrameNack, Error: "server shutting down"}
		}
		s.resyncs.Add(1)
		s.resyncMu.Unlock()

		// Answered before the resync runs: the resync sends on our own link
		// to the peer, which may be waiting on this ack.
		go func() {
			defer s.resyncs.Done()
			n, err := s.receiver.HandleResyncRequest(s.ctx)
			if err != nil {
				s.logger.Printf("Resync failed after %d activities: %v", n, err)
				return
			}
			s.logger.Printf("Resync sent %d activities", n)
		}()
		recordFrame(f.Type, "ack")
		return &Frame{Type: FrameAck}

	default:
		recordFrame(f.Type, "nack")
		return &Frame{Type: FrameNack, Error: fmt.Sprintf("unknown frame type %q", f.Type)}
	}
}

func (s *PeerServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
	})
}
