// Package distinct estimates how many distinct kmers a stream holds with a
// HyperLogLog sketch, so a counting table can be sized before it is filled.
//
// The Sketch
// ==========
//
// A key's 64-bit hash is split in two. The low p bits pick one of m = 2^p
// registers; the position of the lowest set bit among the remaining q bits,
// plus one, is the key's rank. Each register keeps the highest rank seen:
//
//	hash:  [ q = 50 bits: rank source ][ p = 14 bits: register ]
//
// Registers are one byte each, 16KB per sketch, and the standard error is
// about 0.81%. Count uses Ertl's estimator over the register histogram,
// which needs no separate small- or large-range corrections.
//
// Keys are hashed with kmer.Key.Hash, so a key and its reverse complement
// are only counted once when callers add the canonical orientation.
package distinct

import (
	"math"
	"math/bits"

	"kmer.lopezb.com/internal/kmer"
)

const (
	p     = 14
	q     = 64 - p
	m     = 1 << p
	pMask = m - 1

	// alpha is 0.5 / ln 2, the estimator constant for 64-bit hashes.
	alpha = 0.721347520444481703680
)

// Sketch is a dense HyperLogLog sketch. It is not safe for concurrent use.
type Sketch struct {
	registers []byte
	added     uint64
}

func New() *Sketch {
	return &Sketch{registers: make([]byte, m)}
}

// Add records the canonical key.
func (s *Sketch) Add(key *kmer.Key) bool {
	return s.AddHash(key.Hash())
}

// AddHash records an already hashed item and reports whether a register
// changed.
func (s *Sketch) AddHash(h uint64) bool {
	s.added++
	idx := h & pMask
	// The guard bit caps the rank at q+1 and keeps TrailingZeros defined.
	rank := uint8(bits.TrailingZeros64(h>>p|1<<q)) + 1
	if rank > s.registers[idx] {
		s.registers[idx] = rank
		return true
	}
	return false
}

// Added returns the number of items recorded, duplicates included.
func (s *Sketch) Added() uint64 { return s.added }

// Merge folds o into s, making s the sketch of both streams.
func (s *Sketch) Merge(o *Sketch) {
	for i, r := range o.registers {
		if r > s.registers[i] {
			s.registers[i] = r
		}
	}
	s.added += o.added
}

// Count returns the estimated number of distinct items.
func (s *Sketch) Count() uint64 {
	var histo [q + 2]int
	for _, r := range s.registers {
		histo[r]++
	}

	z := m * tau(float64(m-histo[q+1])/m)
	for j := q; j >= 1; j-- {
		z += float64(histo[j])
		z *= 0.5
	}
	z += m * sigma(float64(histo[0])/m)
	return uint64(math.Round(alpha * m * m / z))
}

// sigma adds the contribution of zero registers.
func sigma(x float64) float64 {
	if x == 1 {
		return math.Inf(1)
	}
	y := 1.0
	z := x
	for {
		x *= x
		prev := z
		z += x * y
		y += y
		if prev == z {
			return z
		}
	}
}

// tau corrects for registers at the maximum rank.
func tau(x float64) float64 {
	if x == 0 || x == 1 {
		return 0
	}
	y := 1.0
	z := 1 - x
	for {
		x = math.Sqrt(x)
		prev := z
		y *= 0.5
		z -= (1 - x) * (1 - x) * y
		if prev == z {
			return z / 3
		}
	}
}
