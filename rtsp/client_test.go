// Created by WINK Streaming (https://www.wink.co)
package rtsp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialFaultServer(t *testing.T) (*FaultServer, *Client) {
	t.Helper()
	fs, err := NewFaultServer()
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	c, err := New(fs.Addr(), 4588)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return fs, c
}

func TestClient_CSeqMonotonicity(t *testing.T) {
	_, c := dialFaultServer(t)

	_, err := c.Options()
	require.NoError(t, err)
	assert.Equal(t, 2, c.cseq)

	_, err = c.Options()
	require.NoError(t, err)
	assert.Equal(t, 3, c.cseq)

	_, err = c.Options()
	require.NoError(t, err)
	assert.Equal(t, 4, c.cseq)
}

func TestClient_SetupParseRoundTrip(t *testing.T) {
	fs, c := dialFaultServer(t)
	fs.SetResponse("SETUP",
		"RTSP/1.0 200 OK\r\n"+
			"CSeq: 1\r\n"+
			"Session: 12345678;timeout=60\r\n"+
			"Transport: RTP/AVP;unicast;client_port=4588-4589;server_port=6600-6601;ssrc=DEADBEEF;source=10.0.0.1\r\n"+
			"\r\n")

	_, err := c.Setup()
	require.NoError(t, err)

	require.NotNil(t, c.PeerRTP())
	assert.Equal(t, 6600, c.PeerRTP().Port)
	assert.Equal(t, "Session: 12345678", c.SessionHeader())
	assert.Equal(t, "12345678", c.Session())
}

func TestClient_SDPSplitsOnFirstDoubleCRLF(t *testing.T) {
	fs, c := dialFaultServer(t)
	sdp := "v=0\r\no=- 0 0 IN IP4 10.0.0.1\r\ns=stream\r\nm=video 0 RTP/AVP 96\r\na=rtpmap:96 H264/90000\r\n"
	fs.SetResponse("DESCRIBE",
		"RTSP/1.0 200 OK\r\nCSeq: 1\r\nContent-Type: application/sdp\r\n\r\n"+sdp)

	_, err := c.Describe()
	require.NoError(t, err)
	assert.Equal(t, sdp, c.SDP())
	assert.True(t, strings.HasPrefix(c.SDP(), "v=0"))
}

func TestClient_MalformedSetupIsProtocolError(t *testing.T) {
	fs, c := dialFaultServer(t)
	fs.SetResponse("SETUP",
		"RTSP/1.0 200 OK\r\nCSeq: 1\r\nSession: 99\r\nTransport: RTP/AVP;unicast;client_port=4588-4589\r\n\r\n")

	_, err := c.Setup()
	require.Error(t, err)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "SETUP", protoErr.Method)
	assert.Nil(t, c.PeerRTP())
}

func TestClient_NonOKPlayThenTeardownStillSucceeds(t *testing.T) {
	fs, c := dialFaultServer(t)
	fs.SetResponse("SETUP",
		"RTSP/1.0 200 OK\r\nCSeq: 1\r\nSession: 42\r\nTransport: RTP/AVP;unicast;client_port=4588-4589;server_port=6600-6601\r\n\r\n")
	fs.SetResponse("PLAY", "RTSP/1.0 455 Method Not Valid In This State\r\nCSeq: 1\r\n\r\n")
	fs.SetResponse("TEARDOWN", "RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n")

	_, err := c.Setup()
	require.NoError(t, err)

	_, err = c.Play()
	require.NoError(t, err)
	assert.False(t, c.OK())

	resp, err := c.Teardown()
	require.NoError(t, err)
	assert.Contains(t, resp, "200 OK")
	assert.True(t, c.OK())
}

func TestClient_TeardownIsIdempotent(t *testing.T) {
	fs, c := dialFaultServer(t)
	fs.SetResponse("TEARDOWN", "RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\n")

	_, err := c.Teardown()
	require.NoError(t, err)
	assert.True(t, c.OK())

	require.NoError(t, c.Close())

	_, err = c.Teardown()
	require.Error(t, err)
	assert.False(t, c.OK())
}

func TestExtractHeader(t *testing.T) {
	resp := "RTSP/1.0 200 OK\r\nCSeq: 3\r\nSession: abc123\r\n\r\n"
	v, err := extractHeader(resp, "Session")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)

	_, err = extractHeader(resp, "Transport")
	assert.Error(t, err)
}

func TestParsePeerFromTransport(t *testing.T) {
	addr, err := parsePeerFromTransport(
		"RTP/AVP;unicast;client_port=4588-4589;server_port=6600-6601;ssrc=DEADBEEF",
		[]byte{10, 0, 0, 1},
	)
	require.NoError(t, err)
	assert.Equal(t, 6600, addr.Port)

	_, err = parsePeerFromTransport("RTP/AVP;unicast", []byte{10, 0, 0, 1})
	assert.Error(t, err)
}
