// Created by WINK Streaming (https://www.wink.co)

// Package session wires an rtsp.Client, an rtp.Depacketizer, and a decoder
// together for one camera, owning the single-goroutine receive loop the
// two core packages otherwise leave to the caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/winkstreaming/rtsp-h264-client/decoder"
	"github.com/winkstreaming/rtsp-h264-client/rtp"
	"github.com/winkstreaming/rtsp-h264-client/rtsp"
	"github.com/winkstreaming/rtsp-h264-client/sdpcheck"
)

// pollInterval bounds how long Run's UDP read can block before it rechecks
// ctx, so cancellation doesn't wait on a camera that has gone silent.
const pollInterval = 200 * time.Millisecond

// Config holds everything a Session needs to start one camera.
type Config struct {
	ServerURL     string
	ClientRTPPort uint16       // default 4588
	ClientBindIP  string       // default "0.0.0.0"
	DecoderKind   decoder.Kind // default OpenH264Compatible
}

// Session drives one camera end to end: OPTIONS/DESCRIBE/SETUP/PLAY, then
// an RTP receive loop that hands decoded frames to a caller-supplied sink.
type Session struct {
	cfg Config
	log *slog.Logger

	client *rtsp.Client
	depkt  *rtp.Depacketizer

	sdpWarnings []sdpcheck.Warning
}

// New validates cfg's defaults but does not yet open any connection; call
// Start for that.
func New(cfg Config) *Session {
	if cfg.ClientRTPPort == 0 {
		cfg.ClientRTPPort = rtsp.DefaultClientRTPPort
	}
	if cfg.ClientBindIP == "" {
		cfg.ClientBindIP = "0.0.0.0"
	}
	// decoder.OpenH264Compatible is the zero value of decoder.Kind, so an
	// unset cfg.DecoderKind already resolves correctly when Start passes it
	// to Depacketizer.Connect.
	return &Session{cfg: cfg, log: discardLogger()}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetLogger attaches a structured logger for handshake and classification
// diagnostics, forwarded to the underlying Depacketizer.
func (s *Session) SetLogger(l *slog.Logger) {
	if l == nil {
		l = discardLogger()
	}
	s.log = l
	if s.depkt != nil {
		s.depkt.SetLogger(l)
	}
}

// SDPWarnings returns whatever sdpcheck found after the most recent Start,
// or nil before Start has run.
func (s *Session) SDPWarnings() []sdpcheck.Warning { return s.sdpWarnings }

// Start runs the RTSP handshake (OPTIONS, DESCRIBE, SETUP, PLAY) and binds
// the RTP receiver. It does not start receiving packets; call Recv in a
// loop for that.
func (s *Session) Start(agg *rtp.Aggregator) error {
	client, err := rtsp.New(s.cfg.ServerURL, s.cfg.ClientRTPPort)
	if err != nil {
		return err
	}
	s.client = client

	if _, err := client.Options(); err != nil {
		return err
	}

	if _, err := client.Describe(); err != nil {
		return err
	}
	s.sdpWarnings = sdpcheck.Check(client.SDP())
	for _, w := range s.sdpWarnings {
		s.log.Warn("sdpcheck", "field", w.Field, "detail", w.Detail)
	}

	if _, err := client.Setup(); err != nil {
		return err
	}

	if _, err := client.Play(); err != nil {
		return err
	}

	depkt, err := rtp.New(s.cfg.ClientBindIP, s.cfg.ClientRTPPort)
	if err != nil {
		return err
	}
	depkt.SetLogger(s.log)
	if agg != nil {
		depkt.SetAggregator(agg)
	}
	if err := depkt.Connect(client.PeerRTP(), s.cfg.DecoderKind); err != nil {
		return err
	}
	s.depkt = depkt

	return nil
}

// Recv blocks for one RTP datagram, reassembles it, and returns a decoded
// frame when one is ready. It returns (nil, nil) when the datagram didn't
// complete a frame, matching Depacketizer.TryDecode's contract.
func (s *Session) Recv() (decoder.Frame, error) {
	if s.depkt == nil {
		return nil, fmt.Errorf("session: Recv called before Start")
	}
	if err := s.depkt.RecvOne(); err != nil {
		return nil, err
	}
	return s.depkt.TryDecode()
}

// Run repeatedly calls Recv and passes completed frames to onFrame until
// ctx is cancelled or Recv returns a non-timeout error.
func (s *Session) Run(ctx context.Context, onFrame func(decoder.Frame)) error {
	if s.depkt == nil {
		return fmt.Errorf("session: Run called before Start")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_ = s.depkt.SetReadDeadline(time.Now().Add(pollInterval))
		frame, err := s.Recv()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}

		if frame != nil && onFrame != nil {
			onFrame(frame)
		}
	}
}

// Stats returns the Depacketizer's sequence-tracking snapshot, or a zero
// Stats before Start has run.
func (s *Session) Stats() rtp.Stats {
	if s.depkt == nil {
		return rtp.Stats{}
	}
	return s.depkt.Stats()
}

// Close tears down the RTSP session and releases the RTP socket. It
// attempts Teardown best-effort; a failure there does not prevent the
// sockets from closing.
func (s *Session) Close() error {
	var firstErr error
	if s.client != nil {
		if _, err := s.client.Teardown(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := s.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.depkt != nil {
		if err := s.depkt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
