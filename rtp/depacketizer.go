// Created by WINK Streaming (https://www.wink.co)

// Package rtp binds a UDP socket to a negotiated RTP endpoint, receives
// H.264-over-RTP (RFC 6184) datagrams, reassembles them into an Annex-B
// byte stream, and feeds that stream to a pluggable decoder.
//
// The depacketizer deliberately does not reorder packets or buffer across
// loss: it assumes in-order, non-lossy UDP delivery within a frame, exactly
// as the camera-facing protocol in scope guarantees in the common case. See
// SeqTracker for an optional, non-gating view into how often that
// assumption is violated.
package rtp

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	pionrtp "github.com/pion/rtp"

	"github.com/winkstreaming/rtsp-h264-client/decoder"
)

// discardLogger is the Depacketizer's default logger: diagnostics are
// opt-in via SetLogger; no logging library is ever invoked unless a caller
// asks for it.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	naluTypeSlice = 1
	naluTypeIDR   = 5
	naluTypeSEI   = 6
	naluTypeSPS   = 7
	naluTypePPS   = 8
	naluTypeFUA   = 28

	// rtpHeaderLen is the fixed 12-byte RTP header this depacketizer
	// assumes: version 2, no CSRC list, no extension header.
	rtpHeaderLen = 12

	fuHeaderLen = 1 // FU header byte, immediately after the NAL header

	startCode4 = "\x00\x00\x00\x01"
	startCode3 = "\x00\x00\x01"
)

// Depacketizer receives RTP/H.264 datagrams on a UDP socket and reassembles
// them into an Annex-B NAL stream.
type Depacketizer struct {
	conn   net.PacketConn
	remote *net.UDPAddr
	dec    decoder.Decoder
	log    *slog.Logger

	scratch [2048]byte

	nalCurrent    []byte
	spsPending    []byte
	fragmentAccum []byte
	allBytes      []byte

	spsSeen            bool
	decodingArmed      bool
	fragmentInProgress bool
	fragmentCompleted  bool

	seq *SeqTracker
	agg *Aggregator
}

// New binds a UDP socket to (clientIP, clientPort) and returns a
// Depacketizer ready to receive once Connect has been called. clientIP
// defaults to "0.0.0.0" when empty.
func New(clientIP string, clientPort uint16) (*Depacketizer, error) {
	if clientIP == "" {
		clientIP = "0.0.0.0"
	}

	local := &net.UDPAddr{IP: net.ParseIP(clientIP), Port: int(clientPort)}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("rtp: bind %s: %w", local, err)
	}

	return &Depacketizer{
		conn: conn,
		log:  discardLogger(),
		seq:  &SeqTracker{},
	}, nil
}

// SetLogger attaches a structured logger used for malformed-packet
// diagnostics and classification tracing. Passing nil restores the
// discarding default.
func (d *Depacketizer) SetLogger(l *slog.Logger) {
	if l == nil {
		l = discardLogger()
	}
	d.log = l
}

// SetAggregator attaches an Aggregator (typically shared across several
// Depacketizers supervised by camerapool.Pool) that receives packet/byte/
// loss counts as they are observed.
func (d *Depacketizer) SetAggregator(a *Aggregator) {
	d.agg = a
}

// Connect attaches a decoder and connects the UDP socket to the peer RTP
// endpoint negotiated by SETUP, so that datagrams from anyone else are
// rejected by the kernel.
func (d *Depacketizer) Connect(peer *net.UDPAddr, kind decoder.Kind) error {
	udpConn, ok := d.conn.(*net.UDPConn)
	if !ok {
		return fmt.Errorf("rtp: socket is not a UDP connection")
	}
	// A bound *net.UDPConn cannot be connected in place, so the socket is
	// closed and re-dialed from the same local address to the peer.
	local, _ := udpConn.LocalAddr().(*net.UDPAddr)
	if err := udpConn.Close(); err != nil {
		return fmt.Errorf("rtp: release %s: %w", local, err)
	}
	conn, err := net.DialUDP("udp", local, peer)
	if err != nil {
		return fmt.Errorf("rtp: connect to %s: %w", peer, err)
	}
	d.conn = conn
	d.remote = peer
	d.dec = decoder.New(kind)
	return nil
}

// Close releases the underlying UDP socket.
func (d *Depacketizer) Close() error {
	return d.conn.Close()
}

// SetReadDeadline sets the UDP socket's read deadline. It lets a caller's
// receive loop stay responsive to context cancellation despite RecvOne's
// otherwise-indefinitely-blocking read.
func (d *Depacketizer) SetReadDeadline(t time.Time) error {
	return d.conn.SetDeadline(t)
}

// Stats returns the current sequence-tracking snapshot. It is diagnostic
// only; TryDecode's gating never consults it.
func (d *Depacketizer) Stats() Stats {
	return d.seq.Stats()
}

// Dump flushes the cumulative Annex-B byte stream fed to the decoder so far
// to path, as a debugging aid.
func (d *Depacketizer) Dump(path string) error {
	return os.WriteFile(path, d.allBytes, 0o644)
}

// RecvOne receives one UDP datagram, classifies it, and updates the
// reassembly buffers. It never blocks beyond a single read and never
// returns an error for a malformed packet — those are logged and
// discarded so the receive loop stays alive.
func (d *Depacketizer) RecvOne() error {
	n, _, err := d.conn.ReadFrom(d.scratch[:])
	if err != nil {
		return fmt.Errorf("rtp: udp read: %w", err)
	}
	d.observe(d.scratch[:n])

	if n <= rtpHeaderLen {
		d.log.Warn("rtp: datagram has no NAL header after the RTP header", "len", n)
		return nil
	}

	pkt := d.scratch[:n]
	nalType := pkt[rtpHeaderLen] & 0x1f

	switch nalType {
	case naluTypeSPS:
		d.onSPS(pkt, n)
	case naluTypePPS:
		d.onPPS(pkt, n)
	case naluTypeSEI:
		d.onSEI(pkt, n)
	case naluTypeFUA:
		d.onFUA(pkt, n)
	default:
		d.onVCLOrOther(pkt, n)
	}

	return nil
}

// observe feeds the packet to the diagnostic sequence tracker and
// aggregator. It never affects classification or gating.
func (d *Depacketizer) observe(pkt []byte) {
	var hdr pionrtp.Header
	if _, err := hdr.Unmarshal(pkt); err != nil {
		return
	}
	lost := d.seq.Push(hdr.SequenceNumber)
	if d.agg != nil {
		d.agg.AddPackets(1)
		d.agg.AddBytes(uint64(len(pkt)))
		d.agg.AddLoss(lost)
	}
}

// abandonFragment drops any in-progress FU-A fragment. Any non-FU-A NAL
// ends a fragment run: the fragment bytes accumulated so far are discarded
// (they never reach the decoder) and the fragment flags are reset, so
// gating does not block forever on a fragment whose end never arrived.
func (d *Depacketizer) abandonFragment() {
	d.fragmentInProgress = false
	d.fragmentCompleted = false
	d.fragmentAccum = d.fragmentAccum[:0]
}

func (d *Depacketizer) onSPS(pkt []byte, n int) {
	d.abandonFragment()
	d.spsPending = append(d.spsPending[:0], startCode4...)
	d.spsPending = append(d.spsPending, pkt[rtpHeaderLen:n]...)
	d.spsSeen = true
}

func (d *Depacketizer) onPPS(pkt []byte, n int) {
	d.abandonFragment()
	if !d.spsSeen {
		d.log.Debug("rtp: PPS without preceding SPS, dropping")
		return
	}
	d.nalCurrent = append(d.nalCurrent, d.spsPending...)
	d.nalCurrent = append(d.nalCurrent, startCode4...)
	d.nalCurrent = append(d.nalCurrent, pkt[rtpHeaderLen:n]...)
	d.decodingArmed = true
	d.spsPending = d.spsPending[:0]
}

func (d *Depacketizer) onSEI(pkt []byte, n int) {
	d.abandonFragment()
	d.nalCurrent = append(d.nalCurrent, startCode3...)
	d.nalCurrent = append(d.nalCurrent, pkt[rtpHeaderLen:n]...)
}

func (d *Depacketizer) onVCLOrOther(pkt []byte, n int) {
	d.abandonFragment()
	d.spsSeen = false
	d.nalCurrent = append(d.nalCurrent, startCode3...)
	d.nalCurrent = append(d.nalCurrent, pkt[rtpHeaderLen:n]...)
}

func (d *Depacketizer) onFUA(pkt []byte, n int) {
	if n < rtpHeaderLen+fuHeaderLen+1 {
		d.log.Warn("rtp: FU-A datagram too short, discarding", "len", n)
		d.abandonFragment()
		return
	}

	fuHeader := pkt[rtpHeaderLen+1]
	end := fuHeader&0x40 != 0

	d.fragmentInProgress = true

	if end {
		reconstructed := (fuHeader & 0x1f) | 0x60
		d.nalCurrent = append(d.nalCurrent, startCode3...)
		d.nalCurrent = append(d.nalCurrent, reconstructed)
		d.nalCurrent = append(d.nalCurrent, d.fragmentAccum...)
		d.nalCurrent = append(d.nalCurrent, pkt[rtpHeaderLen+2:n]...)
		d.fragmentAccum = d.fragmentAccum[:0]
		d.fragmentCompleted = true
		return
	}

	d.fragmentAccum = append(d.fragmentAccum, pkt[rtpHeaderLen+2:n]...)
}

// TryDecode feeds the currently accumulated NAL bytes to the decoder if a
// complete unit is ready. It returns (nil, nil) when nothing is ready yet
// (decoding not armed, or a fragment is still open), (frame, nil) or
// (nil, nil) depending on what the decoder reports, and (nil, err) on a
// decoder failure.
func (d *Depacketizer) TryDecode() (decoder.Frame, error) {
	if len(d.nalCurrent) == 0 {
		return nil, nil
	}
	if !d.decodingArmed {
		return nil, nil
	}
	if d.fragmentInProgress && !d.fragmentCompleted {
		return nil, nil
	}

	d.allBytes = append(d.allBytes, d.nalCurrent...)

	frame, err := d.dec.Decode(d.nalCurrent)

	d.nalCurrent = d.nalCurrent[:0]
	if d.fragmentCompleted {
		d.fragmentInProgress = false
		d.fragmentCompleted = false
	}

	return frame, err
}
