// Created by WINK Streaming (https://www.wink.co)
package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeqTracker_FirstPushIsFree(t *testing.T) {
	var s SeqTracker
	lost := s.Push(100)
	assert.Equal(t, uint64(0), lost)
	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.Packets)
	assert.Equal(t, uint64(0), stats.Lost)
}

func TestSeqTracker_InOrderNoLoss(t *testing.T) {
	var s SeqTracker
	for i := uint16(0); i < 10; i++ {
		lost := s.Push(i)
		assert.Equal(t, uint64(0), lost)
	}
	assert.Equal(t, uint64(0), s.Stats().Lost)
}

func TestSeqTracker_GapCountsLoss(t *testing.T) {
	var s SeqTracker
	s.Push(10)
	lost := s.Push(15)
	assert.Equal(t, uint64(4), lost)
	assert.Equal(t, uint64(4), s.Stats().Lost)
}

func TestSeqTracker_WrapAround(t *testing.T) {
	var s SeqTracker
	s.Push(0xfffe)
	lost := s.Push(0x0000)
	assert.Equal(t, uint64(1), lost)
}

func TestAggregator_Snapshot(t *testing.T) {
	a := NewAggregator()
	a.AddPackets(100)
	a.AddLoss(5)
	a.AddBytes(4096)

	snap := a.Snapshot()
	assert.Equal(t, uint64(100), snap.Packets)
	assert.Equal(t, uint64(5), snap.Lost)
	assert.Equal(t, uint64(4096), snap.Bytes)
	assert.InDelta(t, 4.76, snap.LossRate(), 0.1)
}

func TestSnapshot_LossRateNoTraffic(t *testing.T) {
	var snap Snapshot
	assert.Equal(t, float64(0), snap.LossRate())
}
