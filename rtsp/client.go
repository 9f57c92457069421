// Created by WINK Streaming (https://www.wink.co)

// Package rtsp drives a network camera through the RTSP 1.0 (RFC 2326)
// handshake — OPTIONS, DESCRIBE, SETUP, PLAY, TEARDOWN — far enough to bind
// an RTP receiver: it parses the SDP body from DESCRIBE (retained, not
// interpreted) and the Transport/Session headers from SETUP, enough to
// learn the server's RTP peer address and the session id PLAY/TEARDOWN
// need.
//
// Authentication, RTSP KEEPALIVE, and interleaved RTSP-over-TCP transport
// are out of scope.
package rtsp

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultRTSPPort is used when the server URL omits one.
	DefaultRTSPPort = 554

	// DefaultClientRTPPort is the client-chosen RTP receive port used when
	// the caller doesn't pick one.
	DefaultClientRTPPort = 4588

	dialTimeout = 5 * time.Second
)

// Client drives one RTSP session against a single camera. It owns the TCP
// control connection exclusively; RTP reception is a separate, later
// concern (see package rtp).
type Client struct {
	rawURL string
	url    *url.URL
	addr   *net.TCPAddr // resolved RTSP server address

	clientRTPPort uint16

	conn net.Conn

	cseq int

	session         string // Session: value, once SETUP succeeds
	transportHeader string // scratch Transport: header, SETUP-only

	lastResponse string
	ok           bool

	peerRTP *net.UDPAddr // RTP peer endpoint derived from SETUP's Transport header
}

// New resolves rtspURL, opens a TCP connection to it, and returns a Client
// with CSeq seeded at 1. clientRTPPort defaults to DefaultClientRTPPort
// when 0.
func New(rtspURL string, clientRTPPort uint16) (*Client, error) {
	u, err := url.Parse(rtspURL)
	if err != nil {
		return nil, &ProtocolError{Method: "CONNECT", Reason: fmt.Sprintf("invalid URL %q: %v", rtspURL, err)}
	}
	if u.Scheme != "rtsp" {
		return nil, &ProtocolError{Method: "CONNECT", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}

	host := u.Host
	if !strings.Contains(host, ":") {
		host = fmt.Sprintf("%s:%d", host, DefaultRTSPPort)
	}

	// Resolve to a single address: the first resolver result.
	addrs, err := net.LookupHost(hostOnly(host))
	if err != nil || len(addrs) == 0 {
		return nil, &ProtocolError{Method: "CONNECT", Reason: fmt.Sprintf("resolve %q: %v", host, err)}
	}
	port := portOf(host)
	addr := &net.TCPAddr{IP: net.ParseIP(addrs[0]), Port: port}

	conn, err := net.DialTimeout("tcp", addr.String(), dialTimeout)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}

	if clientRTPPort == 0 {
		clientRTPPort = DefaultClientRTPPort
	}

	return &Client{
		rawURL:        rtspURL,
		url:           u,
		addr:          addr,
		clientRTPPort: clientRTPPort,
		conn:          conn,
		cseq:          1,
	}, nil
}

func hostOnly(hostport string) string {
	h, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return h
}

func portOf(hostport string) int {
	_, p, err := net.SplitHostPort(hostport)
	if err != nil {
		return DefaultRTSPPort
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return DefaultRTSPPort
	}
	return n
}

// OK reports whether the most recent send's response contained "200 OK".
func (c *Client) OK() bool { return c.ok }

// LastResponse returns the raw text of the most recent response, for
// diagnostics.
func (c *Client) LastResponse() string { return c.lastResponse }

// Session returns the active Session id, or "" if SETUP has not yet
// succeeded or a TEARDOWN has since been answered with 200 OK.
func (c *Client) Session() string { return c.session }

// SessionHeader returns the full "Session: <id>" header text, or "" when
// Session returns "".
func (c *Client) SessionHeader() string {
	if c.session == "" {
		return ""
	}
	return "Session: " + c.session
}

// PeerRTP returns the RTP endpoint derived from SETUP's Transport header,
// or nil if SETUP has not yet succeeded.
func (c *Client) PeerRTP() *net.UDPAddr { return c.peerRTP }

// ClientRTPPort returns the client-side RTP port advertised to the server.
func (c *Client) ClientRTPPort() uint16 { return c.clientRTPPort }

// Options sends OPTIONS.
func (c *Client) Options() (string, error) {
	return c.roundTrip("OPTIONS", "", nil)
}

// Describe sends DESCRIBE. The SDP body is retained verbatim in the
// returned response; this module does not interpret it beyond the optional
// sdpcheck validation layer.
func (c *Client) Describe() (string, error) {
	return c.roundTrip("DESCRIBE", "", map[string]string{"Accept": "application/sdp"})
}

// SDP returns the body of the most recently received response, split on
// the first blank line. Directly after Describe that is the DESCRIBE SDP;
// the body is not kept separately, so any later request replaces it.
func (c *Client) SDP() string {
	_, sdp, ok := strings.Cut(c.lastResponse, "\r\n\r\n")
	if !ok {
		return ""
	}
	return sdp
}

// Setup sends SETUP for trackID=0, requesting
// RTP/AVP/UDP;unicast;client_port=<P>-<P+1>. On a 200 OK it parses Session
// and Transport (server_port) from the response and populates Session()
// and PeerRTP(). A second Setup call reuses the existing session id if one
// is already active.
func (c *Client) Setup() (string, error) {
	c.transportHeader = fmt.Sprintf(
		"RTP/AVP/UDP;unicast;client_port=%d-%d",
		c.clientRTPPort, c.clientRTPPort+1,
	)
	headers := map[string]string{"Transport": c.transportHeader}
	if c.session != "" {
		headers["Session"] = c.session
	}

	resp, err := c.roundTrip("SETUP", "/trackID=0", headers)
	if err != nil {
		return resp, err
	}
	if !c.ok {
		return resp, &ProtocolError{Method: "SETUP", Reason: "response is not 200 OK"}
	}

	session, err := extractHeader(resp, "Session")
	if err != nil {
		return resp, &ProtocolError{Method: "SETUP", Reason: "missing Session header"}
	}
	// Discard a trailing ";timeout=..." — only the id is retained.
	session, _, _ = strings.Cut(session, ";")

	transport, err := extractHeader(resp, "Transport")
	if err != nil {
		return resp, &ProtocolError{Method: "SETUP", Reason: "missing Transport header"}
	}
	peer, err := parsePeerFromTransport(transport, c.addr.IP)
	if err != nil {
		return resp, &ProtocolError{Method: "SETUP", Reason: err.Error()}
	}
	c.session = strings.TrimSpace(session)
	c.peerRTP = peer

	return resp, nil
}

// Play clears the SETUP-only scratch headers and sends PLAY with the
// stored Session.
func (c *Client) Play() (string, error) {
	c.transportHeader = ""
	headers := map[string]string{}
	if c.session != "" {
		headers["Session"] = c.session
	}
	return c.roundTrip("PLAY", "", headers)
}

// Teardown sends TEARDOWN with the stored Session and, on a 200 OK, marks
// the session closed by clearing the stored Session id. It is safe to call
// more than once: a second call still attempts the request (and typically
// fails, leaving OK() false) rather than panicking.
func (c *Client) Teardown() (string, error) {
	headers := map[string]string{}
	if c.session != "" {
		headers["Session"] = c.session
	}
	resp, err := c.roundTrip("TEARDOWN", "", headers)
	if err == nil && c.ok {
		c.session = ""
	}
	return resp, err
}

// Close closes the underlying TCP connection without sending TEARDOWN.
// Callers that want a clean shutdown should call Teardown first.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// roundTrip builds and sends a request, reads the response, and updates
// ok/lastResponse/cseq.
func (c *Client) roundTrip(method, trackSuffix string, headers map[string]string) (string, error) {
	req := c.buildRequest(method, trackSuffix, headers)

	if _, err := c.conn.Write([]byte(req)); err != nil {
		c.ok = false
		return "", &TransportError{Op: method, Err: err}
	}
	c.cseq++

	resp, err := c.readResponse()
	if err != nil {
		c.ok = false
		return "", &TransportError{Op: method, Err: err}
	}

	c.lastResponse = resp
	c.ok = strings.Contains(resp, "200 OK")

	return resp, nil
}

// buildRequest renders the literal RTSP 1.0 wire format:
//
//	<METHOD> <server_addr><track> RTSP/1.0\r\n
//	CSeq: <n>\r\n
//	<transport_header_if_any>
//	<session_header_if_any>
//	<accept_header_if_any>
//	\r\n
func (c *Client) buildRequest(method, trackSuffix string, headers map[string]string) string {
	var b strings.Builder

	uri := fmt.Sprintf("rtsp://%s%s%s", c.url.Host, c.url.Path, trackSuffix)
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", method, uri)
	fmt.Fprintf(&b, "CSeq: %d\r\n", c.cseq)

	for _, k := range []string{"Transport", "Session", "Accept"} {
		if v, ok := headers[k]; ok && v != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}

	b.WriteString("\r\n")
	return b.String()
}

// readResponse reads into a 4096-byte buffer, retrying empty reads, and
// returns the bytes of the first non-empty read. A single read is
// sufficient for the small responses produced by typical cameras; bytes
// that arrive in a later read are not part of the returned response.
func (c *Client) readResponse() (string, error) {
	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			return string(buf[:n]), nil
		}
		if err != nil {
			return "", err
		}
		// n == 0, err == nil: keep retrying the read.
	}
}

// extractHeader finds header's value in an RTSP response, splitting the
// response into lines on "\r\n" and the first line whose name matches
// (case-insensitively) on the first ": ", or the first ":" if there is none.
func extractHeader(response, header string) (string, error) {
	lower := strings.ToLower(header) + ":"
	for _, line := range strings.Split(response, "\r\n") {
		if strings.HasPrefix(strings.ToLower(line), lower) {
			_, v, ok := strings.Cut(line, ": ")
			if !ok {
				_, v, ok = strings.Cut(line, ":")
				if !ok {
					continue
				}
			}
			return strings.TrimSpace(v), nil
		}
	}
	return "", fmt.Errorf("header %q not found", header)
}

// parsePeerFromTransport extracts server_port=Lo-Hi from a Transport
// header value and derives the RTP peer endpoint as (serverHost, Lo).
func parsePeerFromTransport(transport string, serverHost net.IP) (*net.UDPAddr, error) {
	fields := map[string]string{}
	for _, part := range strings.Split(transport, ";") {
		k, v, ok := strings.Cut(part, "=")
		if ok {
			fields[k] = v
		}
	}

	portsField, ok := fields["server_port"]
	if !ok {
		return nil, fmt.Errorf("missing server_port in Transport header")
	}
	lo, _, _ := strings.Cut(portsField, "-")
	port, err := strconv.ParseUint(lo, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid server_port %q: %w", portsField, err)
	}

	return &net.UDPAddr{IP: serverHost, Port: int(port)}, nil
}
