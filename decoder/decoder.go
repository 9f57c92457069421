// Created by WINK Streaming (https://www.wink.co)

// Package decoder defines the pluggable collaborator that turns an Annex-B
// H.264 byte stream into decoded video frames. The RTP depacketizer only
// ever talks to this interface; it never knows which codec library, if any,
// sits behind it.
package decoder

import "fmt"

// Kind names a decoder backend. OpenH264Compatible is the only variant the
// core ships a name for; New resolves a Kind to a Decoder, and currently
// every Kind resolves to Null.
type Kind int

const (
	// OpenH264Compatible selects a decoder exposing OpenH264's Annex-B,
	// one-NAL-at-a-time decoding contract.
	OpenH264Compatible Kind = iota
)

func (k Kind) String() string {
	switch k {
	case OpenH264Compatible:
		return "openh264-compatible"
	default:
		return fmt.Sprintf("decoder.Kind(%d)", int(k))
	}
}

// Frame is a decoded picture in planar YUV, with a helper to render it into
// a caller-owned RGBA buffer.
type Frame interface {
	// Strides returns the row stride, in bytes, of each plane.
	Strides() (y, u, v int)
	YPlane() []byte
	UPlane() []byte
	VPlane() []byte
	// FillRGBA converts the frame into interleaved RGBA and writes it into
	// dst, which must be at least stride*height bytes.
	FillRGBA(dst []byte, stride int) error
}

// Decoder turns one complete Annex-B NAL unit (or SPS/PPS pair) into zero or
// one decoded frame.
//
// Decode returns (nil, nil) when the decoder consumed the bytes but has no
// picture ready yet (e.g. it just absorbed parameter sets), (frame, nil)
// when a picture completed, and (nil, err) on a decode failure. The
// returned Frame, if any, must not be retained past the next Decode call.
type Decoder interface {
	Decode(annexB []byte) (Frame, error)
}

// New resolves a Kind to a concrete Decoder. The core module does not embed
// any real H.264 decoding library (none is part of the retrieved example
// corpus), so OpenH264Compatible and unknown kinds alike resolve to Null,
// which never produces a frame. New accepts no caller-supplied Decoder.
func New(kind Kind) Decoder {
	switch kind {
	case OpenH264Compatible:
		return NewNull()
	default:
		return NewNull()
	}
}
