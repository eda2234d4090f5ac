package kmer

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key is a kmer of fixed width k packed into ceil(2k/64) words. Word 0 is
// the high word and is left-padded with zeros; the last base sits in the two
// lowest bits of the last word.
//
//	k = 35, 70 bits, 2 words
//	word 0: [ 58 zero bits | b0..b2  ]   highBits = 6
//	word 1: [ b3 ............... b34 ]
//
// Keys are values in spirit but own a slice, so use CopyFrom rather than
// assignment when a snapshot is needed.
type Key struct {
	words    []uint64
	k        int
	highBits uint   // bits used in word 0, 1..64
	highMask uint64 // mask for word 0
	scratch  []byte // little-endian image of words, for hashing
}

// NewKey returns an all-A key of k bases.
func NewKey(k int) *Key {
	if k < 1 {
		panic("kmer: key width must be positive")
	}
	bits := 2 * uint64(k)
	n := wordsFor(bits)
	high := uint(bits % WordBits)
	if high == 0 {
		high = WordBits
	}
	return &Key{
		words:    make([]uint64, n),
		k:        k,
		highBits: high,
		highMask: mask(high),
		scratch:  make([]byte, 8*n),
	}
}

// ParseKey returns the key for an ACGT string; its width is len(s).
func ParseKey(s string) (*Key, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("kmer: empty key")
	}
	key := NewKey(len(s))
	for i := 0; i < len(s); i++ {
		b, ok := Encode(s[i])
		if !ok {
			return nil, fmt.Errorf("kmer: %q: %w", s, ErrInvalidBase)
		}
		key.PushBack(b)
	}
	return key, nil
}

// K returns the width in bases.
func (key *Key) K() int { return key.k }

// Words returns the packed words, high word first.
func (key *Key) Words() []uint64 { return key.words }

// SetWords overwrites the key with packed words of the same width.
func (key *Key) SetWords(words []uint64) {
	copy(key.words, words)
	key.words[0] &= key.highMask
}

// Uint64 returns the key as a single integer. Only meaningful for k <= 32.
func (key *Key) Uint64() uint64 {
	return key.words[len(key.words)-1]
}

// Reset sets every base to A.
func (key *Key) Reset() {
	clear(key.words)
}

// CopyFrom makes key equal to o. Both must have the same width.
func (key *Key) CopyFrom(o *Key) {
	copy(key.words, o.words)
}

// Clone returns an independent copy.
func (key *Key) Clone() *Key {
	c := NewKey(key.k)
	c.CopyFrom(key)
	return c
}

// PushBack slides base b in at the low end and drops the first base.
func (key *Key) PushBack(b uint8) {
	w := key.words
	last := len(w) - 1
	for i := 0; i < last; i++ {
		w[i] = w[i]<<2 | w[i+1]>>(WordBits-2)
	}
	w[last] = w[last]<<2 | uint64(b&3)
	w[0] &= key.highMask
}

// PushFront slides base b in at the high end and drops the last base.
func (key *Key) PushFront(b uint8) {
	w := key.words
	for i := len(w) - 1; i > 0; i-- {
		w[i] = w[i]>>2 | w[i-1]<<(WordBits-2)
	}
	w[0] = w[0]>>2 | uint64(b&3)<<(key.highBits-2)
}

// Base returns the i-th base, 0 being the first (leftmost).
func (key *Key) Base(i int) uint8 {
	pos := uint(2 * i)
	if pos < key.highBits {
		return uint8(key.words[0]>>(key.highBits-2-pos)) & 3
	}
	pos -= key.highBits
	return uint8(key.words[1+pos/WordBits]>>(WordBits-2-pos%WordBits)) & 3
}

// ReverseComplement writes the reverse complement of key into dst.
func (key *Key) ReverseComplement(dst *Key) {
	dst.Reset()
	for i := 0; i < key.k; i++ {
		dst.PushFront(Complement(key.Base(i)))
	}
}

// Compare orders keys lexicographically, which for this packing is the
// order of their ACGT strings.
func (key *Key) Compare(o *Key) int {
	for i, w := range key.words {
		switch {
		case w < o.words[i]:
			return -1
		case w > o.words[i]:
			return 1
		}
	}
	return 0
}

// Equal reports whether two keys hold the same bases.
func (key *Key) Equal(o *Key) bool {
	return key.Compare(o) == 0
}

// Hash returns a 64-bit hash of the packed words.
func (key *Key) Hash() uint64 {
	for i, w := range key.words {
		binary.LittleEndian.PutUint64(key.scratch[8*i:], w)
	}
	return xxhash.Sum64(key.scratch)
}

// String renders the key as ACGT.
func (key *Key) String() string {
	buf := make([]byte, key.k)
	for i := range buf {
		buf[i] = Letter(key.Base(i))
	}
	return string(buf)
}

// Canonical returns whichever of fwd and rc sorts first. fwd and rc are
// expected to be reverse complements of each other.
func Canonical(fwd, rc *Key) *Key {
	if rc.Compare(fwd) < 0 {
		return rc
	}
	return fwd
}

// Window slides a forward key and its reverse complement over a run of
// bases, the way every counting and lookup loop in this module walks reads.
//
//	w := NewWindow(k)
//	for _, b := range bases {
//		if w.Push(b) {
//			use(w.Canonical())
//		}
//	}
type Window struct {
	Fwd, RC *Key
	filled  int
}

// NewWindow returns an empty window of k bases.
func NewWindow(k int) *Window {
	return &Window{Fwd: NewKey(k), RC: NewKey(k)}
}

// Reset empties the window, for example at a read boundary.
func (w *Window) Reset() {
	w.filled = 0
}

// Push slides one base in and reports whether the window holds k bases.
func (w *Window) Push(b uint8) bool {
	w.Fwd.PushBack(b)
	w.RC.PushFront(Complement(b))
	if w.filled < w.Fwd.k {
		w.filled++
	}
	return w.filled == w.Fwd.k
}

// Canonical returns the canonical orientation of the current window.
func (w *Window) Canonical() *Key {
	return Canonical(w.Fwd, w.RC)
}
