package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierOfClassesByDPIDRange(t *testing.T) {
	cfg := Default()
	assert.Equal(t, TierCore, cfg.TierOf(1001))
	assert.Equal(t, TierAggregate, cfg.TierOf(2001))
	assert.Equal(t, TierEdge, cfg.TierOf(3008))
	assert.Equal(t, TierUnknown, cfg.TierOf(9999))
}

func TestPortCapacityKbpsFallsBackToDefault(t *testing.T) {
	cfg := Default()

	cap, ok := cfg.PortCapacityKbps(TierEdge, 3)
	require.True(t, ok)
	assert.Equal(t, 10000, cap)

	cap, ok = cfg.PortCapacityKbps(TierCore, 1)
	require.True(t, ok)
	assert.Equal(t, 40000, cap)

	_, ok = cfg.PortCapacityKbps(TierUnknown, 1)
	assert.False(t, ok)
}

func TestIsEdgeUplinkRequiresEdgeTierAndUplinkPort(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.IsEdgeUplink(3001, 1))
	assert.False(t, cfg.IsEdgeUplink(3001, 3))
	assert.False(t, cfg.IsEdgeUplink(2001, 1))
}

func TestIsReservedPriority(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.IsReservedPriority(0))
	assert.True(t, cfg.IsReservedPriority(65535))
	assert.False(t, cfg.IsReservedPriority(30))
}

func TestLoadFileOverlaysOnlyPresentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overlay.toml")
	content := "congestion_threshold_kbps = 20000\nreroute_gate_load = 0.5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 20000, cfg.CongestionThresholdKbps)
	assert.Equal(t, 0.5, cfg.RerouteGateLoad)
	// Fields absent from the overlay keep their compiled-in defaults.
	assert.Equal(t, 2*time.Second, cfg.MonitorPeriodDefault)
	assert.Equal(t, 500, cfg.RerouteMarginKbps)
}

func TestLoadFileMissingPathReturnsError(t *testing.T) {
	_, err := LoadFile("/nonexistent/overlay.toml")
	assert.Error(t, err)
}
