package rescan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mat-1/matscan/internal/config"
	"github.com/mat-1/matscan/internal/targets"
)

func testConfig() config.RescanConfig {
	return config.RescanConfig{
		Enabled:             true,
		RescanEvery:         config.Duration{Duration: 6 * time.Hour},
		PlayersOnlineEvery:  config.Duration{Duration: 30 * time.Minute},
		PlayersOnlineWindow: config.Duration{Duration: 24 * time.Hour},
		LargeServerPlayers:  1000,
		DeadAfterFailures:   3,
	}
}

func TestActiveServersRescanSooner(t *testing.T) {
	c := New(testConfig(), 25565, []uint16{25565})
	now := time.Now()

	active := targets.Target{IP: 1, Port: 25565}
	idle := targets.Target{IP: 2, Port: 25565}
	c.RecordResponse(active, true, 20, now)
	c.RecordResponse(idle, false, 20, now)

	due := c.Due(now.Add(time.Hour))
	require.Len(t, due, 1)
	assert.Equal(t, active, due[0])

	// after the baseline interval the idle one comes up too
	due = c.Due(now.Add(7 * time.Hour))
	assert.Contains(t, due, idle)
}

func TestLargeServersAreHot(t *testing.T) {
	c := New(testConfig(), 25565, []uint16{25565})
	now := time.Now()

	big := targets.Target{IP: 1, Port: 25565}
	c.RecordResponse(big, false, 5000, now)

	due := c.Due(now.Add(time.Hour))
	assert.Equal(t, []targets.Target{big}, due)
}

func TestDeadServersAreDropped(t *testing.T) {
	c := New(testConfig(), 25565, []uint16{25565})
	now := time.Now()

	dead := targets.Target{IP: 1, Port: 25565}
	c.RecordResponse(dead, false, 20, now)
	require.Equal(t, 1, c.Tracked())

	// each silent cycle stretches the interval; step far enough each time
	when := now
	for i := 0; i < 5 && c.Tracked() > 0; i++ {
		when = when.Add(200 * time.Hour)
		c.Due(when)
	}
	assert.Equal(t, 0, c.Tracked())
}

func TestResponseClearsFailures(t *testing.T) {
	c := New(testConfig(), 25565, []uint16{25565})
	now := time.Now()

	srv := targets.Target{IP: 1, Port: 25565}
	c.RecordResponse(srv, false, 20, now)

	now = now.Add(7 * time.Hour)
	require.Len(t, c.Due(now), 1)
	c.RecordResponse(srv, false, 20, now)

	// still tracked and back on the baseline interval
	now = now.Add(7 * time.Hour)
	assert.Len(t, c.Due(now), 1)
	assert.Equal(t, 1, c.Tracked())
}

func TestPortBias(t *testing.T) {
	c := New(testConfig(), 25565, []uint16{25565, 25566, 25567})
	now := time.Now()

	// a server on a non-default port queues the default port
	c.RecordResponse(targets.Target{IP: 1, Port: 25567}, false, 20, now)
	due := c.Due(now)
	assert.Equal(t, []targets.Target{{IP: 1, Port: 25565}}, due)

	// a server on the default port queues the other configured ports
	c.RecordResponse(targets.Target{IP: 2, Port: 25565}, false, 20, now)
	due = c.Due(now)
	assert.Equal(t, []targets.Target{
		{IP: 2, Port: 25566},
		{IP: 2, Port: 25567},
	}, due)

	// bias probes are one-shot
	assert.Empty(t, c.Due(now))
}

func TestLimitCapsKnownServersNotBiasProbes(t *testing.T) {
	cfg := testConfig()
	cfg.Limit = 2
	c := New(cfg, 25565, []uint16{25565})
	now := time.Now()

	for ip := uint32(1); ip <= 10; ip++ {
		c.RecordResponse(targets.Target{IP: ip, Port: 25565}, false, 20, now)
	}
	due := c.Due(now.Add(7 * time.Hour))
	assert.Len(t, due, 2)
}

func TestOldestPingedFirst(t *testing.T) {
	c := New(testConfig(), 25565, []uint16{25565})
	now := time.Now()

	older := targets.Target{IP: 9, Port: 25565}
	newer := targets.Target{IP: 1, Port: 25565}
	c.RecordResponse(older, false, 20, now.Add(-time.Hour))
	c.RecordResponse(newer, false, 20, now)

	due := c.Due(now.Add(7 * time.Hour))
	require.Len(t, due, 2)
	assert.Equal(t, older, due[0])
	assert.Equal(t, newer, due[1])
}
