// Created by WINK Streaming (https://www.wink.co)
package camerapool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/winkstreaming/rtsp-h264-client/rtsp"
)

const testSDP = "v=0\r\no=- 0 0 IN IP4 10.0.0.1\r\ns=stream\r\nt=0 0\r\n" +
	"m=video 0 RTP/AVP 96\r\na=rtpmap:96 H264/90000\r\n"

func newReadyFaultServer(t *testing.T) *rtsp.FaultServer {
	t.Helper()
	fs, err := rtsp.NewFaultServer()
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	fs.SetResponse("DESCRIBE",
		"RTSP/1.0 200 OK\r\nCSeq: 1\r\nContent-Type: application/sdp\r\n\r\n"+testSDP)
	fs.SetResponse("SETUP",
		"RTSP/1.0 200 OK\r\nCSeq: 1\r\nSession: 1\r\n"+
			"Transport: RTP/AVP;unicast;client_port=4588-4589;server_port=6600-6601\r\n\r\n")
	return fs
}

func TestPool_AddAndRemove(t *testing.T) {
	p := New(Config{MaxConcurrent: 4})
	t.Cleanup(p.Stop)

	fs1 := newReadyFaultServer(t)
	fs2 := newReadyFaultServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, p.Add(ctx, "cam-1", fs1.Addr(), nil))
	require.NoError(t, p.Add(ctx, "cam-2", fs2.Addr(), nil))

	assert.Equal(t, 2, p.Len())

	err := p.Add(ctx, "cam-1", fs1.Addr(), nil)
	assert.Error(t, err, "re-adding an already-tracked id must fail")

	p.Remove("cam-1")
	assert.Eventually(t, func() bool { return p.Len() == 1 }, time.Second, 10*time.Millisecond)

	stats := p.Stats()
	assert.Equal(t, 1, stats.Active)
}

func TestPool_StopCancelsEveryCamera(t *testing.T) {
	p := New(Config{})
	fs := newReadyFaultServer(t)

	require.NoError(t, p.Add(context.Background(), "cam-1", fs.Addr(), nil))
	assert.Equal(t, 1, p.Len())

	p.Stop()
	assert.Equal(t, 0, p.Len())
}

func TestPool_AddFailureIncrementsFailures(t *testing.T) {
	p := New(Config{})
	t.Cleanup(p.Stop)

	err := p.Add(context.Background(), "cam-bad", "rtsp://127.0.0.1:1/nope", nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), p.Failures())
}
