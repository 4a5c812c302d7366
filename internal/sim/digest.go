package sim

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"math"
	"sort"
)

// Digest folds day results into a fingerprint. Two runs of the same scenario
// and seed produce the same digest on every platform.
type Digest struct {
	h hash.Hash
}

func NewDigest() *Digest {
	return &Digest{h: sha256.New()}
}

func (d *Digest) Add(r DayResult) {
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		d.h.Write(buf[:])
	}
	str := func(s string) {
		put(uint64(len(s)))
		d.h.Write([]byte(s))
	}

	put(uint64(r.Day))
	symbols := make([]string, 0, len(r.Prices))
	for s := range r.Prices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		str(s)
		put(math.Float64bits(r.Prices[s]))
	}
	put(uint64(len(r.News)))
	for _, n := range r.News {
		str(n.EventID)
		str(n.Text)
		put(math.Float64bits(n.Magnitude))
	}
	if r.Terminal {
		put(1)
	} else {
		put(0)
	}
}

func (d *Digest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}

// DigestOf fingerprints a complete list of results.
func DigestOf(results []DayResult) string {
	d := NewDigest()
	for _, r := range results {
		d.Add(r)
	}
	return d.Sum()
}
