package metrics

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snel-bot/resilience/pkg/serialization"
)

func TestDashboardRecordAndSnapshot(t *testing.T) {
	d := NewDashboard()

	start := time.Now().Add(-100 * time.Millisecond)
	d.RecordAPICall("binance", "price", start, true, 200, false)
	d.RecordAPICall("binance", "price", start, true, 200, true)
	d.RecordAPICall("binance", "klines", start, false, 500, false)

	snap := d.Snapshot()
	svc, ok := snap.Services["binance"]
	require.True(t, ok)

	assert.Equal(t, uint64(3), svc.TotalCalls)
	assert.Equal(t, uint64(2), svc.SuccessCalls)
	assert.Equal(t, uint64(1), svc.ErrorCalls)
	assert.Equal(t, uint64(1), svc.CacheHits)
	assert.InDelta(t, 2.0/3.0, svc.SuccessRate, 0.001)
	assert.InDelta(t, 1.0/3.0, svc.CacheHitRate, 0.001)

	require.Len(t, svc.Methods, 2)
	assert.Equal(t, uint64(2), svc.Methods["price"].TotalCalls)
	assert.Equal(t, uint64(1), svc.Methods["klines"].TotalCalls)

	assert.Equal(t, uint64(2), svc.StatusCodes["200"])
	assert.Equal(t, uint64(1), svc.StatusCodes["500"])
}

func TestDashboardCacheHitsExcludedFromLatency(t *testing.T) {
	d := NewDashboard()

	start := time.Now().Add(-200 * time.Millisecond)
	d.RecordAPICall("svc", "get", start, true, 200, false)
	d.RecordAPICall("svc", "get", time.Now(), true, 200, true)

	svc := d.Snapshot().Services["svc"]
	// Average over outbound calls only: one 200ms call, not halved by the hit.
	assert.GreaterOrEqual(t, svc.AvgTime, 150*time.Millisecond)
}

func TestDashboardEnableDisable(t *testing.T) {
	d := NewDashboard()

	d.Disable()
	d.RecordAPICall("svc", "get", time.Now(), true, 200, false)
	assert.Empty(t, d.Snapshot().Services)

	d.Enable()
	d.RecordAPICall("svc", "get", time.Now(), true, 200, false)
	assert.Len(t, d.Snapshot().Services, 1)
}

func TestDashboardReset(t *testing.T) {
	d := NewDashboard()

	d.RecordAPICall("a", "get", time.Now(), true, 200, false)
	d.RecordAPICall("b", "get", time.Now(), true, 200, false)

	d.Reset("a")
	snap := d.Snapshot()
	assert.NotContains(t, snap.Services, "a")
	assert.Contains(t, snap.Services, "b")

	d.Reset("")
	assert.Empty(t, d.Snapshot().Services)
}

func TestDashboardRateLimitWaits(t *testing.T) {
	d := NewDashboard()

	d.RecordRateLimitWait("svc", 100*time.Millisecond)
	d.RecordRateLimitWait("svc", 200*time.Millisecond)

	svc := d.Snapshot().Services["svc"]
	assert.Equal(t, uint64(2), svc.RateLimitWaits)
	assert.Equal(t, 300*time.Millisecond, svc.TotalRateLimitWait)
}

func TestDashboardGenerateReport(t *testing.T) {
	d := NewDashboard()

	d.RecordAPICall("binance", "price", time.Now().Add(-50*time.Millisecond), true, 200, false)
	d.RecordRateLimitWait("binance", time.Second)
	d.RegisterStatusSection("circuit breakers", func() map[string]string {
		return map[string]string{"binance": "closed"}
	})

	report := d.GenerateReport()

	assert.Contains(t, report, "API METRICS REPORT")
	assert.Contains(t, report, "Uptime:")
	assert.Contains(t, report, "binance:")
	assert.Contains(t, report, "Total calls: 1")
	assert.Contains(t, report, "Success rate: 100.0%")
	assert.Contains(t, report, "Rate limit waits: 1")
	assert.Contains(t, report, "=== CIRCUIT BREAKERS ===")
	assert.Contains(t, report, "binance: closed")
}

func TestDashboardSaveSnapshot(t *testing.T) {
	dir := t.TempDir()
	d := NewDashboard(WithSnapshotDir(dir))

	d.RecordAPICall("svc", "get", time.Now(), true, 200, false)

	path, err := d.SaveSnapshot()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, dir))
	assert.Contains(t, path, "metrics_")
	assert.True(t, strings.HasSuffix(path, ".json"))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var snap Snapshot
	require.NoError(t, serialization.JSONDecoder(f).Decode(&snap))
	assert.Equal(t, uint64(1), snap.Services["svc"].TotalCalls)
}

func TestDashboardSaveSnapshotBadDir(t *testing.T) {
	// A file where the directory should be makes MkdirAll fail.
	dir := t.TempDir() + "/occupied"
	require.NoError(t, os.WriteFile(dir, []byte("x"), 0o644))

	d := NewDashboard(WithSnapshotDir(dir))
	_, err := d.SaveSnapshot()
	assert.Error(t, err)
}

func TestDashboardRecordingNeverPanics(t *testing.T) {
	d := NewDashboard(WithCollector(panickyCollector{}))

	assert.NotPanics(t, func() {
		d.RecordAPICall("svc", "get", time.Now(), true, 200, false)
	})
	assert.NotPanics(t, func() {
		d.RecordRateLimitWait("svc", time.Second)
	})
}

type panickyCollector struct{}

func (panickyCollector) RecordRequest(string, string, bool, time.Duration) { panic("collector") }
func (panickyCollector) RecordCacheHit(string, string)                     { panic("collector") }
func (panickyCollector) RecordRateLimitWait(string, time.Duration)        { panic("collector") }
func (panickyCollector) RecordError(string, string)                       { panic("collector") }
