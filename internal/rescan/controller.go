// Package rescan decides which previously seen servers get probed again and
// how soon. It only orders targets; correctness never depends on a rescan
// happening at any particular time.
package rescan

import (
	"sort"
	"sync"
	"time"

	"github.com/mat-1/matscan/internal/config"
	"github.com/mat-1/matscan/internal/targets"
)

// Controller tracks per-server history and derives a priority target list
// that scan cycles merge ahead of cold targets.
type Controller struct {
	mu  sync.Mutex
	cfg config.RescanConfig

	defaultPort uint16
	ports       []uint16

	servers map[targets.Target]*history
	// one-shot probes from the port bias: a server answering on a
	// non-default port gets its default port queued, and the other way
	// around
	extras map[targets.Target]struct{}
}

type history struct {
	lastPinged       time.Time
	lastPlayerOnline time.Time
	maxPlayers       int
	// consecutive rescans queued without a response
	failures int
}

// New creates a controller. ports is the configured port list, used to
// expand the bias probes for servers found on the default port.
func New(cfg config.RescanConfig, defaultPort uint16, ports []uint16) *Controller {
	return &Controller{
		cfg:         cfg,
		defaultPort: defaultPort,
		ports:       ports,
		servers:     make(map[targets.Target]*history),
		extras:      make(map[targets.Target]struct{}),
	}
}

// RecordResponse feeds a successful ping back into the history.
func (c *Controller) RecordResponse(target targets.Target, playersOnline bool, maxPlayers int, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.servers[target]
	if !ok {
		h = &history{}
		c.servers[target] = h
		c.queueBiasLocked(target)
	}
	h.lastPinged = now
	h.maxPlayers = maxPlayers
	h.failures = 0
	if playersOnline {
		h.lastPlayerOnline = now
	}
}

// queueBiasLocked schedules the complementary ports for a newly discovered
// server.
func (c *Controller) queueBiasLocked(target targets.Target) {
	if target.Port != c.defaultPort {
		t := targets.Target{IP: target.IP, Port: c.defaultPort}
		if _, known := c.servers[t]; !known {
			c.extras[t] = struct{}{}
		}
		return
	}
	for _, p := range c.ports {
		if p == c.defaultPort {
			continue
		}
		t := targets.Target{IP: target.IP, Port: p}
		if _, known := c.servers[t]; !known {
			c.extras[t] = struct{}{}
		}
	}
}

// Due returns the rescan targets for a new cycle, highest priority first:
// bias probes, then known servers whose interval elapsed, oldest ping
// first. Queued servers accrue a failure until a response clears it;
// servers failing too many consecutive cycles are dropped.
func (c *Controller) Due(now time.Time) []targets.Target {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]targets.Target, 0, len(c.extras))
	for t := range c.extras {
		out = append(out, t)
	}
	// map order is random; keep the output stable
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	c.extras = make(map[targets.Target]struct{})

	type due struct {
		t targets.Target
		h *history
	}
	var dues []due
	for t, h := range c.servers {
		if h.failures > c.cfg.DeadAfterFailures {
			delete(c.servers, t)
			continue
		}
		if now.Sub(h.lastPinged) >= c.intervalFor(h, now) {
			dues = append(dues, due{t, h})
		}
	}
	sort.Slice(dues, func(i, j int) bool {
		if !dues[i].h.lastPinged.Equal(dues[j].h.lastPinged) {
			return dues[i].h.lastPinged.Before(dues[j].h.lastPinged)
		}
		return less(dues[i].t, dues[j].t)
	})

	for _, d := range dues {
		if c.cfg.Limit > 0 && len(out) >= c.cfg.Limit {
			break
		}
		d.h.failures++
		d.h.lastPinged = now
		out = append(out, d.t)
	}
	return out
}

// intervalFor picks the base rescan interval for a server and stretches it
// exponentially while the server keeps failing.
func (c *Controller) intervalFor(h *history, now time.Time) time.Duration {
	interval := c.cfg.RescanEvery.Duration
	hot := !h.lastPlayerOnline.IsZero() &&
		now.Sub(h.lastPlayerOnline) < c.cfg.PlayersOnlineWindow.Duration
	if c.cfg.LargeServerPlayers > 0 && h.maxPlayers >= c.cfg.LargeServerPlayers {
		hot = true
	}
	if hot {
		interval = c.cfg.PlayersOnlineEvery.Duration
	}
	return interval << uint(h.failures)
}

// Tracked reports how many servers currently have history.
func (c *Controller) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.servers)
}

func less(a, b targets.Target) bool {
	if a.IP != b.IP {
		return a.IP < b.IP
	}
	return a.Port < b.Port
}
