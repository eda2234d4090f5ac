// Package indexhash maps short kmers (k <= 32) to the reads that contain
// them.
//
// Keys are the canonical 2-bit codes held inline as uint64, so unlike the
// counting hash no sequence is needed to compare them. Every slot owns a
// block of a single flat read list:
//
//	keys:   [ ACG ] [EMPTY] [ GTA ] ...
//	starts: [  0  ] [  2  ] [  2  ] [  3  ] ...
//	reads:  [ 0 4 | 4 ] ...
//	          ACG   GTA
//
// Block i is reads[starts[i]:starts[i+1]]; a read appears at most once per
// block, in the order the reads were walked.
//
// Building
// ========
//
// An index is built from a finished counting hash in two walks over the
// hash's sequence. The size walk inserts every kmer key and counts the
// distinct reads per slot, which fixes the exact length of the read list;
// the fill walk then writes the read ids into their blocks. The counting
// hash sizes the table and lets over-represented kmers be left out.
//
// An Index is read-only once built and safe for concurrent lookups.
package indexhash

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/bits"

	"github.com/dustin/go-humanize"

	"kmer.lopezb.com/internal/builder"
	"kmer.lopezb.com/internal/hashl"
	"kmer.lopezb.com/internal/kmer"
)

// MaxK is the longest kmer whose code fits a uint64.
const MaxK = 32

const empty = ^uint64(0)

var (
	// ErrKmerTooLong is returned when building an index with k > MaxK.
	ErrKmerTooLong = errors.New("indexhash: kmer longer than 32 bases")

	// ErrInvalidMagic is returned when a file does not start with the
	// index class tag.
	ErrInvalidMagic = errors.New("indexhash: not a saved index")

	// ErrHeaderMismatch is returned for a file written with another word
	// size or byte order.
	ErrHeaderMismatch = errors.New("indexhash: header mismatch")

	// ErrCorrupt is returned for a truncated or inconsistent file.
	ErrCorrupt = errors.New("indexhash: corrupt file")

	// ErrChecksum is returned when the CRC64 trailer does not match.
	ErrChecksum = errors.New("indexhash: checksum mismatch")
)

// Options configures Build.
type Options struct {
	// MaxCount leaves out kmers counted more than MaxCount times in the
	// counting hash. Zero keeps everything except INVALID entries.
	MaxCount uint64

	Logger *slog.Logger
}

// Index is the kmer → reads table.
type Index struct {
	k     int
	mask  uint64 // slots - 1
	used  uint64
	keys  []uint64
	start []uint64 // len = slots + 1
	reads []uint32

	// Per read: name, and index into files.
	names    []byte
	nameEnds []uint64
	fileOf   []uint32
	files    []string
}

// Build indexes every kmer of h's sequence by the reads that contain it.
func Build(h *hashl.Hash, opt Options) (*Index, error) {
	k := h.K()
	if k > MaxK {
		return nil, fmt.Errorf("%w: k=%d", ErrKmerTooLong, k)
	}
	if h.Spilled() {
		return nil, hashl.ErrSpilled
	}
	logger := opt.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	idx := newIndex(k, h.Used())
	meta, seq := h.Metadata(), h.Sequence()

	skip := func(w *kmer.Window) bool {
		v := h.Value(w.Canonical())
		return v == hashl.Invalid || (opt.MaxCount > 0 && v > opt.MaxCount)
	}

	// last[slot] is 1 + the last read recorded in the slot, 0 for none.
	last := make([]uint32, len(idx.keys))
	counts := make([]uint64, len(idx.keys))

	err := builder.Walk(meta, seq, k, func(w *kmer.Window, _ uint64, read int) error {
		if skip(w) {
			return nil
		}
		slot := idx.insert(w.Canonical().Uint64())
		if last[slot] != uint32(read)+1 {
			last[slot] = uint32(read) + 1
			counts[slot]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var total uint64
	for i, c := range counts {
		idx.start[i] = total
		total += c
	}
	idx.start[len(counts)] = total
	idx.reads = make([]uint32, total)

	clear(last)
	next := counts // reuse as write cursors
	copy(next, idx.start[:len(counts)])

	err = builder.Walk(meta, seq, k, func(w *kmer.Window, _ uint64, read int) error {
		if skip(w) {
			return nil
		}
		slot, ok := idx.find(w.Canonical().Uint64())
		if !ok {
			return fmt.Errorf("indexhash: kmer %s vanished between walks", w.Canonical())
		}
		if last[slot] != uint32(read)+1 {
			last[slot] = uint32(read) + 1
			idx.reads[next[slot]] = uint32(read)
			next[slot]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for fi, f := range meta.Files {
		if meta.IsPadding(fi) {
			continue
		}
		idx.files = append(idx.files, f.Name)
		for _, r := range f.Reads {
			idx.addRead(r.Name, uint32(len(idx.files)-1))
		}
	}

	logger.Info("built index",
		"k", k,
		"kmers", humanize.Comma(int64(idx.used)),
		"pairs", humanize.Comma(int64(total)),
		"reads", humanize.Comma(int64(idx.Reads())))
	return idx, nil
}

func newIndex(k int, n uint64) *Index {
	slots := uint64(8)
	for slots < 2*n {
		slots <<= 1
	}
	idx := &Index{
		k:     k,
		mask:  slots - 1,
		keys:  make([]uint64, slots),
		start: make([]uint64, slots+1),
	}
	for i := range idx.keys {
		idx.keys[i] = empty
	}
	return idx
}

func (idx *Index) addRead(name string, file uint32) {
	idx.names = append(idx.names, name...)
	idx.nameEnds = append(idx.nameEnds, uint64(len(idx.names)))
	idx.fileOf = append(idx.fileOf, file)
}

// mix is the SplitMix64 finalizer; packed kmer codes are far from uniform
// in their low bits.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// insert returns the slot of key, claiming one if needed. The table is
// sized for twice the distinct kmers of the source hash, so it never fills.
func (idx *Index) insert(key uint64) uint64 {
	i := mix(key) & idx.mask
	for {
		switch idx.keys[i] {
		case key:
			return i
		case empty:
			idx.keys[i] = key
			idx.used++
			return i
		}
		i = (i + 1) & idx.mask
	}
}

func (idx *Index) find(key uint64) (uint64, bool) {
	i := mix(key) & idx.mask
	for n := uint64(0); n <= idx.mask; n++ {
		switch idx.keys[i] {
		case key:
			return i, true
		case empty:
			return 0, false
		}
		i = (i + 1) & idx.mask
	}
	return 0, false
}

// ReverseComplement returns the reverse complement of a k-base code.
func ReverseComplement(code uint64, k int) uint64 {
	x := ^code
	x = (x>>2)&0x3333333333333333 | (x&0x3333333333333333)<<2
	x = (x>>4)&0x0F0F0F0F0F0F0F0F | (x&0x0F0F0F0F0F0F0F0F)<<4
	x = bits.ReverseBytes64(x)
	return x >> (64 - 2*uint(k))
}

// Canonical returns the smaller of a code and its reverse complement.
func Canonical(code uint64, k int) uint64 {
	if rc := ReverseComplement(code, k); rc < code {
		return rc
	}
	return code
}

// Lookup returns the reads containing the kmer with the given code, in
// either orientation. The slice is shared with the index.
func (idx *Index) Lookup(code uint64) []uint32 {
	return idx.LookupCanonical(Canonical(code, idx.k))
}

// LookupCanonical is Lookup for a code already in canonical form.
func (idx *Index) LookupCanonical(code uint64) []uint32 {
	slot, ok := idx.find(code)
	if !ok {
		return nil
	}
	return idx.reads[idx.start[slot]:idx.start[slot+1]]
}

// K returns the kmer length.
func (idx *Index) K() int { return idx.k }

// Kmers returns the number of distinct kmers indexed.
func (idx *Index) Kmers() uint64 { return idx.used }

// Pairs returns the number of (kmer, read) pairs stored.
func (idx *Index) Pairs() uint64 { return uint64(len(idx.reads)) }

// Reads returns the number of reads the ids refer to.
func (idx *Index) Reads() int { return len(idx.nameEnds) }

// ReadName returns the name of read id.
func (idx *Index) ReadName(id uint32) string {
	from := uint64(0)
	if id > 0 {
		from = idx.nameEnds[id-1]
	}
	return string(idx.names[from:idx.nameEnds[id]])
}

// ReadFile returns the file read id was taken from.
func (idx *Index) ReadFile(id uint32) string {
	return idx.files[idx.fileOf[id]]
}

// Files returns the indexed file names.
func (idx *Index) Files() []string { return idx.files }
