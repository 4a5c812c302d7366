package sim

import (
	"encoding/binary"
	"hash/fnv"
)

const golden = 0x9e3779b97f4a7c15

// RNG is a counter-based splitmix64 stream. The n-th output depends only on
// the seed and n, so two streams with the same seed and call sequence agree
// bit for bit on every platform. The zero value is a valid stream with seed 0.
type RNG struct {
	seed    uint64
	counter uint64
}

func NewRNG(seed uint64) RNG {
	return RNG{seed: seed}
}

// Derive returns an independent stream labelled by name. Derived streams
// start at counter zero and do not advance the parent.
func (r RNG) Derive(label string) RNG {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], r.seed)
	h := fnv.New64a()
	h.Write(buf[:])
	h.Write([]byte{0})
	h.Write([]byte(label))
	sum := h.Sum64()
	if sum == 0 {
		sum = 1
	}
	return RNG{seed: sum}
}

func (r *RNG) Uint64() uint64 {
	r.counter++
	z := r.seed + r.counter*golden
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Float64 returns a value in [0,1) built from the top 53 bits.
func (r *RNG) Float64() float64 {
	return float64(r.Uint64()>>11) / (1 << 53)
}

// Intn returns a value in [0,bound). Non-positive bounds return 0 without
// consuming a draw.
func (r *RNG) Intn(bound int) int {
	if bound <= 0 {
		return 0
	}
	n := uint64(bound)
	limit := ^uint64(0) - (^uint64(0) % n)
	for {
		v := r.Uint64()
		if v < limit {
			return int(v % n)
		}
	}
}

// Between returns a value in [lo,hi], inclusive on both ends.
func (r *RNG) Between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.Intn(hi-lo+1)
}

func (r RNG) Seed() uint64 {
	return r.seed
}

func (r RNG) Counter() uint64 {
	return r.counter
}
