// Created by WINK Streaming (https://www.wink.co)

// Package sdpcheck parses a DESCRIBE response body with pion/sdp and flags
// the ways it can disagree with what package rtsp and package rtp assume:
// a video media section using RTP/AVP and an rtpmap naming H264. Nothing
// here blocks a session from starting — the depacketizer classifies NAL
// units on the wire regardless of what SDP advertised — these are warnings
// a caller can log or surface, not errors that abort SETUP.
package sdpcheck

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// Warning describes one way the parsed SDP disagreed with expectations.
type Warning struct {
	Field  string
	Detail string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Field, w.Detail)
}

// Check parses body (the text following DESCRIBE's blank line, as returned
// by rtsp.Client.SDP) and returns any Warnings found. A parse failure is
// itself returned as the sole Warning rather than an error, since a client
// that can't make sense of the SDP can still attempt SETUP using whatever
// track path the caller already knows.
func Check(body string) []Warning {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(body)); err != nil {
		return []Warning{{Field: "body", Detail: fmt.Sprintf("unparseable SDP: %v", err)}}
	}

	var warnings []Warning

	video := findVideoMedia(&sd)
	if video == nil {
		return append(warnings, Warning{Field: "m=", Detail: "no video media section"})
	}

	if !hasProto(video, "RTP", "AVP") {
		warnings = append(warnings, Warning{
			Field:  "m=video",
			Detail: fmt.Sprintf("proto %v is not RTP/AVP", video.MediaName.Protos),
		})
	}

	rtpmap := findAttribute(video.Attributes, "rtpmap")
	if rtpmap == "" {
		warnings = append(warnings, Warning{Field: "a=rtpmap", Detail: "missing"})
	} else if !strings.Contains(strings.ToUpper(rtpmap), "H264") {
		warnings = append(warnings, Warning{
			Field:  "a=rtpmap",
			Detail: fmt.Sprintf("codec %q is not H264", rtpmap),
		})
	}

	return warnings
}

func findVideoMedia(sd *sdp.SessionDescription) *sdp.MediaDescription {
	for _, m := range sd.MediaDescriptions {
		if m.MediaName.Media == "video" {
			return m
		}
	}
	return nil
}

func hasProto(m *sdp.MediaDescription, want ...string) bool {
	if len(m.MediaName.Protos) != len(want) {
		return false
	}
	for i, p := range want {
		if !strings.EqualFold(m.MediaName.Protos[i], p) {
			return false
		}
	}
	return true
}

func findAttribute(attrs []sdp.Attribute, key string) string {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}
