package transport

import (
	"context"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"
)

// Prober tracks whether the peer answers its /health endpoint.
type Prober struct {
	healthURL string
	client    *http.Client
	interval  time.Duration
	logger    *log.Logger

	reachable atomic.Bool
}

// NewProber creates a prober for the peer at peerURL. It starts out
// reporting the peer unreachable.
func NewProber(peerURL string, interval time.Duration, logger *log.Logger) (*Prober, error) {
	healthURL, err := endpointURL(peerURL, "/health", false)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[probe] ", log.LstdFlags)
	}
	return &Prober{
		healthURL: healthURL,
		client:    &http.Client{Timeout: 3 * time.Second},
		interval:  interval,
		logger:    logger,
	}, nil
}

// Reachable reports the result of the last probe.
func (p *Prober) Reachable() bool {
	return p.reachable.Load()
}

// Check probes the peer once and records the result.
func (p *Prober) Check(ctx context.Context) bool {
	ok := p.probe(ctx)
	if prev := p.reachable.Swap(ok); prev != ok {
		if ok {
			p.logger.Printf("Peer reachable at %s", p.healthURL)
		} else {
			p.logger.Printf("Peer unreachable at %s", p.healthURL)
		}
	}
	setPeerReachable(ok)
	return ok
}

func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Run probes every interval until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
