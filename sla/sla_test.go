package sla_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-labs/libresa/domain"
	"github.com/lattice-labs/libresa/sla"
)

func TestLatencyStreamPercentiles(t *testing.T) {
	s := sla.NewLatencyStream(1024)
	for i := 1; i <= 100; i++ {
		s.Record(domain.LatencySample{Duration: time.Duration(i) * time.Millisecond})
	}

	assert.Equal(t, 100, s.Count())
	assert.True(t, s.P95() >= 90*time.Millisecond)
	assert.True(t, s.P99() >= 95*time.Millisecond)
}

func TestLatencyStreamEmpty(t *testing.T) {
	s := sla.NewLatencyStream(1024)
	assert.Equal(t, time.Duration(0), s.P95())
	assert.Equal(t, time.Duration(0), s.Mean())
	assert.Equal(t, 0, s.Count())
}

func TestLatencyStreamWrapsAtCapacity(t *testing.T) {
	s := sla.NewLatencyStream(1024) // minimum enforced capacity
	for i := 0; i < 1024+10; i++ {
		s.Record(domain.LatencySample{Duration: time.Millisecond})
	}
	assert.Equal(t, 1024, s.Count())
}

func TestUptimeRatioStartsAtOne(t *testing.T) {
	u := sla.NewUptimeStream(100 * time.Millisecond)
	assert.InDelta(t, 1.0, u.UptimeRatio(), 0.01)
}

func TestUptimeRatioDropsAfterMissedHeartbeat(t *testing.T) {
	u := sla.NewUptimeStream(20 * time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	ratio := u.UptimeRatio()
	assert.Less(t, ratio, 1.0)
}

func TestUptimeHeartbeatClosesDowntimeWindow(t *testing.T) {
	u := sla.NewUptimeStream(20 * time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	u.Heartbeat()
	ratioAfter := u.UptimeRatio()
	assert.GreaterOrEqual(t, ratioAfter, 0.0)
	assert.Less(t, ratioAfter, 1.0, "the gap before the heartbeat counts as downtime")

	// With the window closed, elapsed time without a new miss is uptime, so
	// the ratio recovers instead of falling further.
	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, u.UptimeRatio(), ratioAfter)
}

func TestQueueDepthStreamTracksMaxAndCurrent(t *testing.T) {
	q := sla.NewQueueDepthStream()
	q.Sample(5)
	q.Sample(12)
	q.Sample(3)

	assert.Equal(t, 3, q.Current())
	assert.Equal(t, 12, q.Max())
}

func TestMonitorSnapshotTargets(t *testing.T) {
	dir := t.TempDir()
	m := sla.NewMonitor(sla.Config{
		LatencyWindow:     1024,
		HeartbeatInterval: time.Second,
		ReportInterval:    time.Minute,
		ReportPath:        dir + "/sla_report.txt",
	})

	m.RecordLatency(domain.LatencySample{Duration: 500 * time.Millisecond})
	m.SampleQueueDepth(3)

	r := m.Snapshot()
	assert.True(t, r.TargetsMet.P95Latency)
	assert.True(t, r.TargetsMet.QueueDepth)
	assert.Equal(t, 1, r.Count)
}

func TestMonitorStartStopWritesReport(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sla_report.txt"
	m := sla.NewMonitor(sla.Config{
		LatencyWindow:     1024,
		HeartbeatInterval: time.Second,
		ReportInterval:    30 * time.Millisecond,
		ReportPath:        path,
	})

	m.Start()
	time.Sleep(80 * time.Millisecond)
	m.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "SLA Met:")
}
