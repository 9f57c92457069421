// Created by WINK Streaming (https://www.wink.co)

// Package camerapool supervises several session.Sessions concurrently,
// pacing connection attempts and aggregating their RTP statistics into one
// place. It is the only package in this module where more than one camera's
// worth of work runs at a time.
package camerapool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/winkstreaming/rtsp-h264-client/decoder"
	"github.com/winkstreaming/rtsp-h264-client/rtp"
	"github.com/winkstreaming/rtsp-h264-client/session"
)

// Config controls how a Pool paces and bounds connection attempts across
// its cameras.
type Config struct {
	ConnectRate   float64 // connection attempts per second; 0 means unlimited
	MaxConcurrent int     // 0 means unlimited
	BaseRTPPort   uint16  // first client RTP port handed out; default 15000
}

// camera tracks one supervised session's lifecycle.
type camera struct {
	id      string
	sess    *session.Session
	cancel  context.CancelFunc
	started time.Time
}

// Pool supervises N session.Sessions, one goroutine each.
type Pool struct {
	cfg Config
	agg *rtp.Aggregator

	limiter   *rate.Limiter
	semaphore chan struct{}

	mu       sync.Mutex
	cameras  map[string]*camera
	failures int64
	nextPort uint32

	wg sync.WaitGroup
}

// New creates an empty Pool sharing one Aggregator across every camera it
// supervises.
func New(cfg Config) *Pool {
	limit := rate.Inf
	burst := 1
	if cfg.ConnectRate > 0 {
		limit = rate.Limit(cfg.ConnectRate)
		burst = 10
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1 << 16
	}

	if cfg.BaseRTPPort == 0 {
		cfg.BaseRTPPort = 15000
	}

	return &Pool{
		cfg:       cfg,
		agg:       rtp.NewAggregator(),
		limiter:   rate.NewLimiter(limit, burst),
		semaphore: make(chan struct{}, maxConcurrent),
		cameras:   make(map[string]*camera),
		nextPort:  uint32(cfg.BaseRTPPort),
	}
}

// allocPort hands out a fresh, never-reused client RTP port so concurrently
// supervised cameras don't collide binding the same UDP port. Ports are
// handed out in pairs (RTP, RTCP) to match the client_port=P-P+1 convention
// even though this module only ever binds the first of the pair.
func (p *Pool) allocPort() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	port := p.nextPort
	p.nextPort += 2
	return uint16(port)
}

// Aggregator returns the Aggregator shared by every camera this Pool
// supervises, for cross-camera loss/byte reporting.
func (p *Pool) Aggregator() *rtp.Aggregator { return p.agg }

// Add paces a connection attempt through the rate limiter and semaphore,
// starts a session.Session for serverURL, and runs it in the background
// until ctx is cancelled, the session's Run returns an error, or
// Stop/Remove is called. id must be unique among currently-tracked cameras.
func (p *Pool) Add(ctx context.Context, id, serverURL string, onFrame func(decoder.Frame)) error {
	p.mu.Lock()
	if _, exists := p.cameras[id]; exists {
		p.mu.Unlock()
		return fmt.Errorf("camerapool: camera %q already added", id)
	}
	p.mu.Unlock()

	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("camerapool: rate limit wait: %w", err)
	}

	select {
	case p.semaphore <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	sess := session.New(session.Config{ServerURL: serverURL, ClientRTPPort: p.allocPort()})
	if err := sess.Start(p.agg); err != nil {
		<-p.semaphore
		p.mu.Lock()
		p.failures++
		p.mu.Unlock()
		return fmt.Errorf("camerapool: start %q: %w", id, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cam := &camera{id: id, sess: sess, cancel: cancel, started: time.Now()}

	p.mu.Lock()
	p.cameras[id] = cam
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.semaphore }()
		defer sess.Close()

		if err := sess.Run(runCtx, onFrame); err != nil && runCtx.Err() == nil {
			p.mu.Lock()
			p.failures++
			p.mu.Unlock()
		}

		p.mu.Lock()
		delete(p.cameras, id)
		p.mu.Unlock()
	}()

	return nil
}

// Remove cancels the named camera, if present. It does not block for the
// camera's goroutine to finish; the camera stays tracked (and counted by
// Len) until that goroutine returns. Stop waits for every goroutine.
func (p *Pool) Remove(id string) {
	p.mu.Lock()
	cam, ok := p.cameras[id]
	p.mu.Unlock()
	if ok {
		cam.cancel()
	}
}

// Len reports how many cameras are currently tracked.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cameras)
}

// Failures reports the cumulative count of Add/Run failures observed so
// far.
func (p *Pool) Failures() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// Stats is a point-in-time summary across every camera this Pool
// supervises.
type Stats struct {
	Active   int
	Failures int64
	RTP      rtp.Snapshot
}

// Stats returns a Stats snapshot.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	active := len(p.cameras)
	failures := p.failures
	p.mu.Unlock()

	return Stats{
		Active:   active,
		Failures: failures,
		RTP:      p.agg.Snapshot(),
	}
}

// Stop cancels every supervised camera and waits for their goroutines to
// return.
func (p *Pool) Stop() {
	p.mu.Lock()
	for _, cam := range p.cameras {
		cam.cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}
