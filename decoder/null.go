// Created by WINK Streaming (https://www.wink.co)
package decoder

import "sync/atomic"

// Null is a Decoder that never produces a frame. It exists so the rest of
// this module (and its tests) can exercise the full RTSP/RTP pipeline
// without linking a real H.264 decoding library. It counts bytes and calls
// so tests can assert the depacketizer fed it exactly the bytes expected.
type Null struct {
	calls atomic.Int64
	bytes atomic.Int64
}

// NewNull returns a Decoder that accepts any Annex-B input and always
// reports "need more data".
func NewNull() *Null {
	return &Null{}
}

// Decode implements Decoder.
func (n *Null) Decode(annexB []byte) (Frame, error) {
	n.calls.Add(1)
	n.bytes.Add(int64(len(annexB)))
	return nil, nil
}

// Calls returns how many times Decode has been invoked.
func (n *Null) Calls() int64 { return n.calls.Load() }

// Bytes returns the cumulative size of every Annex-B buffer passed to Decode.
func (n *Null) Bytes() int64 { return n.bytes.Load() }
