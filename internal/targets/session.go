package targets

// ScanSession iterates a randomized permutation over a frozen target space.
// Each session covers every (ip, port) pair exactly once.
type ScanSession struct {
	ranges *StaticScanRanges
	perm   *FeistelPermutation

	current uint64
	end     uint64 // exclusive
}

// NewScanSession creates a session over the given ranges, shuffled by seed.
func NewScanSession(ranges *StaticScanRanges, seed uint64) *ScanSession {
	return &ScanSession{
		ranges: ranges,
		perm:   NewFeistelPermutation(ranges.Count, seed),
		end:    ranges.Count,
	}
}

// Next returns the next target, or ok=false when the cycle is complete.
func (s *ScanSession) Next() (Target, bool) {
	if s.current >= s.end {
		return Target{}, false
	}
	idx := s.perm.Permute(s.current)
	s.current++
	return s.ranges.Index(idx), true
}

// Remaining reports how many targets are left in this shard.
func (s *ScanSession) Remaining() uint64 {
	return s.end - s.current
}

// Split divides the remaining index space into n roughly equal sessions so
// multiple sender threads can share one permutation without overlap.
func (s *ScanSession) Split(n int) []*ScanSession {
	if n < 1 {
		n = 1
	}
	total := s.end - s.current
	chunk := total / uint64(n)
	if chunk == 0 {
		chunk = 1
	}

	var shards []*ScanSession
	start := s.current
	for i := 0; i < n && start < s.end; i++ {
		end := start + chunk
		if i == n-1 || end > s.end {
			end = s.end
		}
		shard := *s
		shard.current = start
		shard.end = end
		shards = append(shards, &shard)
		start = end
	}
	return shards
}
