// Package tracker holds the per-responding-target handshake state. Entries
// exist only for targets that answered a probe, so memory is bounded by
// network responsiveness, never by the size of the scanned space.
package tracker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mat-1/matscan/internal/targets"
)

// State is the position of a pending handshake in its lifecycle.
type State int

const (
	// StateHelloSent: SYN-ACK validated, ACK + application hello sent.
	StateHelloSent State = iota
	// StateCollecting: at least one response segment buffered.
	StateCollecting
)

// Pending is the transient record for one responding target.
type Pending struct {
	Target      targets.Target
	CookieEpoch uint64
	State       State

	// Buf accumulates response bytes until a complete length-prefixed
	// message decodes.
	Buf []byte

	// RemoteSeq is the next expected sequence number from the peer,
	// which is also the ack number we send.
	RemoteSeq uint32
	// LocalSeq is the sequence number we send.
	LocalSeq uint32

	FinSent bool

	FirstSeen    int64 // UnixNano
	LastActivity int64 // UnixNano
}

var pendingPool = sync.Pool{
	New: func() any { return &Pending{} },
}

// sharedNow is a coarse timestamp updated by a background goroutine so the
// hot path never calls time.Now per packet.
var sharedNow int64

func init() {
	atomic.StoreInt64(&sharedNow, time.Now().UnixNano())
	go func() {
		for {
			time.Sleep(1 * time.Millisecond)
			atomic.StoreInt64(&sharedNow, time.Now().UnixNano())
		}
	}()
}

// NowNano returns a coarse nanosecond timestamp (1ms resolution).
func NowNano() int64 {
	return atomic.LoadInt64(&sharedNow)
}

const shardCount = 256

// Table is a sharded, bounded map of pending handshakes keyed by target.
type Table struct {
	shards   [shardCount]*shard
	maxTotal int
	count    int64
}

type shard struct {
	sync.RWMutex
	items map[targets.Target]*Pending
}

// NewTable creates a table capped at maxPending concurrent entries.
func NewTable(maxPending int) *Table {
	t := &Table{maxTotal: maxPending}
	for i := 0; i < shardCount; i++ {
		t.shards[i] = &shard{items: make(map[targets.Target]*Pending)}
	}
	return t
}

func (t *Table) shardIndex(key targets.Target) uint64 {
	h := mix(uint64(key.IP)<<16 | uint64(key.Port))
	return h % shardCount
}

func (t *Table) shardFor(key targets.Target) *shard {
	return t.shards[t.shardIndex(key)]
}

func mix(v uint64) uint64 {
	v ^= v >> 33
	v *= 0xff51afd7ed558ccd
	v ^= v >> 33
	return v
}

// Len reports the current number of pending entries.
func (t *Table) Len() int {
	return int(atomic.LoadInt64(&t.count))
}

// Insert registers a pending handshake for a target that just passed cookie
// validation. At capacity the oldest-activity entry in the target's shard
// is evicted and returned so the caller can count it; when that shard has
// nothing to give up, the eviction falls over to the next non-empty shard
// so the table never grows past the cap. p is owned by the table after
// this call.
func (t *Table) Insert(p *Pending) (evicted *Pending) {
	idx := t.shardIndex(p.Target)
	sh := t.shards[idx]

	sh.Lock()
	if _, ok := sh.items[p.Target]; ok {
		// duplicate SYN-ACK (retransmission); keep the existing entry
		sh.Unlock()
		Release(p)
		return nil
	}
	if int(atomic.LoadInt64(&t.count)) >= t.maxTotal {
		evicted = evictOldestLocked(sh)
		if evicted != nil {
			atomic.AddInt64(&t.count, -1)
		}
	}
	sh.items[p.Target] = p
	atomic.AddInt64(&t.count, 1)
	sh.Unlock()

	if evicted != nil {
		return evicted
	}
	// the target's shard was empty; shed the overflow from another shard.
	// Never holds two shard locks at once.
	if atomic.LoadInt64(&t.count) > int64(t.maxTotal) {
		evicted = t.evictAny(idx)
	}
	return evicted
}

// evictAny drops the oldest entry of the first non-empty shard after
// start, wrapping around the whole table.
func (t *Table) evictAny(start uint64) *Pending {
	for i := uint64(1); i <= shardCount; i++ {
		sh := t.shards[(start+i)%shardCount]
		sh.Lock()
		p := evictOldestLocked(sh)
		if p != nil {
			atomic.AddInt64(&t.count, -1)
			sh.Unlock()
			return p
		}
		sh.Unlock()
	}
	return nil
}

func evictOldestLocked(sh *shard) *Pending {
	var oldest *Pending
	for _, v := range sh.items {
		if oldest == nil || v.LastActivity < oldest.LastActivity {
			oldest = v
		}
	}
	if oldest != nil {
		delete(sh.items, oldest.Target)
	}
	return oldest
}

// Update runs fn on the entry for target under the shard lock. Returns
// false if no entry exists. fn must be short; it runs in the receive path.
func (t *Table) Update(target targets.Target, fn func(*Pending)) bool {
	sh := t.shardFor(target)
	sh.Lock()
	p, ok := sh.items[target]
	if ok {
		fn(p)
	}
	sh.Unlock()
	return ok
}

// Remove deletes and returns the entry for target, if present.
func (t *Table) Remove(target targets.Target) (*Pending, bool) {
	sh := t.shardFor(target)
	sh.Lock()
	p, ok := sh.items[target]
	if ok {
		delete(sh.items, target)
		atomic.AddInt64(&t.count, -1)
	}
	sh.Unlock()
	return p, ok
}

// Sweep removes entries idle longer than timeout. It uses a two-pass
// read-then-write locking scheme per shard and caps the number of
// evictions per call so a sweep can never starve the receive flow.
func (t *Table) Sweep(timeout time.Duration, maxBatch int) []*Pending {
	var expired []*Pending
	threshold := NowNano() - timeout.Nanoseconds()

	for i := 0; i < shardCount; i++ {
		if maxBatch > 0 && len(expired) >= maxBatch {
			break
		}
		sh := t.shards[i]

		var toDelete []targets.Target
		sh.RLock()
		for k, v := range sh.items {
			if v.LastActivity < threshold {
				toDelete = append(toDelete, k)
			}
		}
		sh.RUnlock()

		if len(toDelete) == 0 {
			continue
		}

		sh.Lock()
		for _, k := range toDelete {
			if v, ok := sh.items[k]; ok && v.LastActivity < threshold {
				expired = append(expired, v)
				delete(sh.items, k)
				atomic.AddInt64(&t.count, -1)
			}
		}
		sh.Unlock()
	}
	return expired
}

// NewPending allocates a pooled entry.
func NewPending(target targets.Target, epoch uint64, remoteSeq, localSeq uint32) *Pending {
	p := pendingPool.Get().(*Pending)
	now := NowNano()
	*p = Pending{
		Target:       target,
		CookieEpoch:  epoch,
		State:        StateHelloSent,
		RemoteSeq:    remoteSeq,
		LocalSeq:     localSeq,
		FirstSeen:    now,
		LastActivity: now,
	}
	return p
}

// Release returns entries to the pool once the caller is done with them.
func Release(ps ...*Pending) {
	for _, p := range ps {
		p.Buf = nil
		pendingPool.Put(p)
	}
}
