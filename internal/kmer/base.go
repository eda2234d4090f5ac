// Package kmer implements the two building blocks every table in this module
// is made of: a bit-packed, append-only DNA sequence and a fixed-width kmer
// key that can be loaded from it.
//
// Encoding
// ========
//
// Each base is stored in two bits:
//
//	A = 00   C = 01   G = 10   T = 11
//
// With this choice the complement of a base is its bitwise negation inside
// the two bits (3 - b), so the reverse complement of a key never needs a
// lookup table.
//
// Bases are packed big-end-first: the first base of a word lives in its two
// highest bits. A bit offset is therefore twice the base index, and the
// lexicographic order of packed keys (compared word by word, high word first)
// is the lexicographic order of their ACGT strings.
package kmer

import "errors"

// Base codes.
const (
	A uint8 = 0
	C uint8 = 1
	G uint8 = 2
	T uint8 = 3
)

// WordBits is the number of bits per storage word.
const WordBits = 64

// ErrInvalidBase is returned when a character outside ACGT (either case)
// reaches code that requires pre-segmented input.
var ErrInvalidBase = errors.New("kmer: invalid base")

const noBase = 0xFF

// codes maps an ASCII character to its 2-bit code, or noBase.
var codes = func() [256]uint8 {
	var t [256]uint8
	for i := range t {
		t[i] = noBase
	}
	t['A'], t['a'] = A, A
	t['C'], t['c'] = C, C
	t['G'], t['g'] = G, G
	t['T'], t['t'] = T, T
	return t
}()

const letters = "ACGT"

// Encode returns the 2-bit code for c.
func Encode(c byte) (uint8, bool) {
	b := codes[c]
	return b, b != noBase
}

// IsBase reports whether c is one of ACGT in either case.
func IsBase(c byte) bool {
	return codes[c] != noBase
}

// Letter returns the upper-case character for a 2-bit code.
func Letter(b uint8) byte {
	return letters[b&3]
}

// Complement returns the code of the complementary base.
func Complement(b uint8) uint8 {
	return 3 - (b & 3)
}

// mask returns a mask with the low n bits set, for 0 <= n <= 64.
func mask(n uint) uint64 {
	if n >= WordBits {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

// wordsFor returns the number of words needed to hold bits bits.
func wordsFor(bits uint64) int {
	return int((bits + WordBits - 1) / WordBits)
}
