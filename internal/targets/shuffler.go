package targets

const feistelRounds = 4

// FeistelPermutation is a bijective pseudo-random mapping on [0, size).
// It gives full coverage with no repeats per cycle and an order that is
// unpredictable without the seed, via cycle-walking format-preserving
// encryption on the smallest even-bit-width domain covering size.
type FeistelPermutation struct {
	keys      [feistelRounds]uint64
	size      uint64
	halfWidth uint
	lowerMask uint64
}

// NewFeistelPermutation builds a permutation for a domain of the given size,
// keyed by seed. The same (size, seed) always yields the same permutation,
// which lets shards and resumed scans agree on the ordering.
func NewFeistelPermutation(size, seed uint64) *FeistelPermutation {
	bits := uint(2)
	for (uint64(1) << bits) < size {
		bits++
	}
	if bits%2 != 0 {
		bits++
	}

	halfWidth := bits / 2

	var keys [feistelRounds]uint64
	k := seed
	for i := 0; i < feistelRounds; i++ {
		k = mix64(k + 0x9e3779b97f4a7c15)
		keys[i] = k
	}

	return &FeistelPermutation{
		keys:      keys,
		size:      size,
		halfWidth: halfWidth,
		lowerMask: uint64(1)<<halfWidth - 1,
	}
}

// Permute maps an input index to a unique output in [0, size).
func (f *FeistelPermutation) Permute(index uint64) uint64 {
	x := index
	for {
		x = f.encrypt(x)
		if x < f.size {
			return x
		}
	}
}

func (f *FeistelPermutation) encrypt(block uint64) uint64 {
	left := (block >> f.halfWidth) & f.lowerMask
	right := block & f.lowerMask

	for i := 0; i < feistelRounds; i++ {
		roundVal := mix64(right^f.keys[i]) & f.lowerMask
		left, right = right, left^roundVal
	}

	return (left << f.halfWidth) | right
}

// mix64 is the murmur3 64-bit finalizer, used as the round PRF.
func mix64(v uint64) uint64 {
	v ^= v >> 33
	v *= 0xff51afd7ed558ccd
	v ^= v >> 33
	v *= 0xc4ceb9fe1a85ec53
	v ^= v >> 33
	return v
}
