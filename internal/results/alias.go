package results

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/mat-1/matscan/internal/targets"
)

// AliasTracker detects IPs that answer with the same server on every port.
// Hosting providers route whole port ranges to one instance; recording each
// port as a separate server would flood the sinks with duplicates.
type AliasTracker struct {
	mu        sync.Mutex
	threshold int
	maxStates int
	ips       map[uint32]*ipHashState
	aliased   map[uint32]*AliasedIPRecord
}

// Every responding IP gets a counting state, so on internet-wide scans the
// map must be bounded. Dead states (diverged responses) are shed first.
const defaultMaxStates = 1 << 20

type ipHashState struct {
	// hash of the first response seen for this IP; nil count means the IP
	// was cleared after responses diverged
	hash  uint64
	count int
	dead  bool
	ports map[uint16]struct{}
}

// NewAliasTracker creates a tracker that promotes an IP to aliased after
// threshold distinct ports return identity-equal responses.
func NewAliasTracker(threshold int) *AliasTracker {
	if threshold < 2 {
		threshold = 2
	}
	return &AliasTracker{
		threshold: threshold,
		maxStates: defaultMaxStates,
		ips:       make(map[uint32]*ipHashState),
		aliased:   make(map[uint32]*AliasedIPRecord),
	}
}

// Observe records a response identity hash for a target. It returns a
// promotion record the first time the IP crosses the threshold, and
// aliased=true whenever the target should be suppressed from results.
func (a *AliasTracker) Observe(target targets.Target, identityHash uint64, now time.Time) (promoted *AliasedIPRecord, aliased bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rec, ok := a.aliased[target.IP]; ok {
		rec.LastChecked = now
		return nil, target.Port != rec.AllowedPort
	}

	st, ok := a.ips[target.IP]
	if !ok {
		if len(a.ips) >= a.maxStates {
			a.evictStateLocked()
		}
		a.ips[target.IP] = &ipHashState{
			hash:  identityHash,
			count: 1,
			ports: map[uint16]struct{}{target.Port: {}},
		}
		return nil, false
	}
	if st.dead {
		return nil, false
	}
	if _, seen := st.ports[target.Port]; seen {
		return nil, false
	}
	if identityHash != st.hash {
		// different servers behind the same IP, stop counting
		st.dead = true
		return nil, false
	}

	st.count++
	st.ports[target.Port] = struct{}{}
	if st.count < a.threshold {
		return nil, false
	}

	rec := &AliasedIPRecord{
		IP:          targets.Uint32ToIP(target.IP).String(),
		AllowedPort: lowestPort(st.ports),
		FirstSeen:   now,
		LastChecked: now,
	}
	a.aliased[target.IP] = rec
	delete(a.ips, target.IP)
	out := *rec
	return &out, target.Port != rec.AllowedPort
}

// evictStateLocked frees one counting slot, preferring a dead state. Map
// iteration order gives a cheap random victim; losing a live count only
// delays a promotion until the IP responds again.
func (a *AliasTracker) evictStateLocked() {
	const scanBound = 128
	var fallback uint32
	haveFallback := false
	n := 0
	for ip, st := range a.ips {
		if st.dead {
			delete(a.ips, ip)
			return
		}
		if !haveFallback {
			fallback = ip
			haveFallback = true
		}
		n++
		if n >= scanBound {
			break
		}
	}
	if haveFallback {
		delete(a.ips, fallback)
	}
}

// AllowedPort reports the single port still worth probing for an aliased IP.
func (a *AliasTracker) AllowedPort(ip uint32) (uint16, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.aliased[ip]
	if !ok {
		return 0, false
	}
	return rec.AllowedPort, true
}

// Load seeds the tracker with previously persisted alias records.
func (a *AliasTracker) Load(records []AliasedIPRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range records {
		rec := records[i]
		ip := net.ParseIP(rec.IP)
		if ip == nil {
			continue
		}
		a.aliased[targets.IPToUint32(ip)] = &rec
	}
}

func lowestPort(ports map[uint16]struct{}) uint16 {
	keys := make([]int, 0, len(ports))
	for p := range ports {
		keys = append(keys, int(p))
	}
	sort.Ints(keys)
	return uint16(keys[0])
}
