// Package hashl implements the counting kmer hash: an open-addressed,
// double-hashed table from canonical kmers of arbitrary length to small
// counters.
//
// Keys are never stored inline. Each slot holds the bit offset of one
// occurrence of its kmer inside a packed sequence owned by the hash, so the
// table costs nine bytes per distinct kmer regardless of k:
//
//	slot:      0        1        2        3      ...   modulus-1
//	offsets: [ 1042 ] [ EMPTY] [   0  ] [ 88  ]  ...  [ EMPTY ]
//	counts:  [   3  ] [   0  ] [ 255  ] [  1  ]  ...  [   0   ]
//	                               |
//	overflow: { 2: 1290 }  <-------+   value = 255 + 1290
//
//	sequence: ACGTTGCA...  (2 bits per base, see package kmer)
//
// Both orientations of a kmer resolve to the same slot: lookups canonicalize
// first, and a slot matches when the bases at its offset equal either the
// canonical key or its reverse complement.
//
// Probing
// =======
//
// The table size (modulus) and the step modulus are both prime with
// step modulus < modulus, so the probe sequence
//
//	i0     = h mod modulus
//	step   = stepMod - (h mod stepMod)
//	i(j+1) = (i(j) + step) mod modulus
//
// visits every slot exactly once. At least one slot is always EMPTY, which
// bounds every probe at modulus steps.
//
// Running Out of Space
// ====================
//
// When an insertion finds the table full, the configured NoSpace strategy
// runs before the insertion is retried:
//
//   - CleanHash drops every kmer seen exactly once and re-seats the survivors
//     in place.
//   - TmpFile sorts the table by canonical key, writes it to a compressed
//     spill file and empties the table. Iteration then merges all spill files
//     with the in-memory remainder.
//
// With neither, or when neither frees a slot, the insertion fails with
// ErrFull and the table is left as it was.
//
// A Hash is not safe for concurrent use.
package hashl

import (
	"errors"
	"io"
	"log/slog"

	"kmer.lopezb.com/internal/kmer"
	"kmer.lopezb.com/internal/metadata"
)

const (
	// Empty is the offset stored in an unused slot.
	Empty = ^uint64(0)

	// Invalid is the value reported for an invalidated entry. Arithmetic
	// on an invalid entry leaves it invalid.
	Invalid = ^uint64(0)

	// MaxInline is the largest count held in the one-byte counter. A
	// counter at MaxInline is saturated and may carry an overflow entry.
	MaxInline = 255
)

var (
	// ErrFull is returned when an insertion finds no room and the
	// configured strategy could not free any.
	ErrFull = errors.New("hashl: table full")

	// ErrTooSmall is returned by Resize when the requested size cannot hold
	// the current entries.
	ErrTooSmall = errors.New("hashl: size too small for current entries")

	// ErrKmerLength is returned when two hashes or a hash and a key
	// disagree on k.
	ErrKmerLength = errors.New("hashl: kmer length mismatch")

	// ErrSpilled is returned by operations that need the whole table in
	// memory while spill files are outstanding. Consolidate first.
	ErrSpilled = errors.New("hashl: hash has outstanding spill files")

	// ErrAltSpill is returned by New when alt counters are combined with
	// the TmpFile strategy; spill files do not carry alt counters.
	ErrAltSpill = errors.New("hashl: alt counters cannot be used with TmpFile")

	// ErrOffset is returned when an offset does not address k bases of the
	// hash's sequence.
	ErrOffset = errors.New("hashl: offset outside sequence")

	// ErrInvalidMagic is returned when a file does not start with the hashl
	// class tag.
	ErrInvalidMagic = errors.New("hashl: not a saved hash")

	// ErrHeaderMismatch is returned for a file written with another word
	// size or byte order.
	ErrHeaderMismatch = errors.New("hashl: header mismatch")

	// ErrCorrupt is returned for a truncated or inconsistent file.
	ErrCorrupt = errors.New("hashl: corrupt file")

	// ErrChecksum is returned when the CRC64 trailer does not match.
	ErrChecksum = errors.New("hashl: checksum mismatch")
)

// NoSpace selects what happens when an insertion finds the table full.
type NoSpace uint8

const (
	// CleanHash removes singleton kmers and rehashes in place.
	CleanHash NoSpace = 1 << iota
	// TmpFile spills the sorted table to disk and empties it.
	TmpFile
)

// Config holds the construction parameters of a Hash.
type Config struct {
	// K is the kmer length in bases.
	K int

	// SizeHint is the number of distinct kmers the table should hold
	// before any NoSpace strategy or growth kicks in.
	SizeHint uint64

	NoSpace NoSpace

	// TmpPrefix is a directory, or a directory plus file name prefix, for
	// spill files. Empty means the system temporary directory.
	TmpPrefix string

	// AllowOverflow lets counts exceed MaxInline through the overflow map.
	// When false counters saturate at MaxInline.
	AllowOverflow bool

	// MinLoad and MaxLoad bound the fill ratio used/modulus. A positive
	// MaxLoad grows the table before an insertion would exceed it, and
	// replaces NoSpace: the table never fills, so no strategy runs. A
	// positive MinLoad shrinks it after Clean leaves it emptier than that.
	MinLoad float64
	MaxLoad float64

	// AltSize is the number of alt counters kept per slot.
	AltSize int

	Logger *slog.Logger
}

// DefaultConfig returns a configuration for k-mers with overflow enabled and
// no NoSpace strategy.
func DefaultConfig(k int) Config {
	return Config{
		K:             k,
		SizeHint:      1024,
		AllowOverflow: true,
	}
}

// table is the slot storage, kept separate from Hash so Resize and
// Consolidate can build a replacement before swapping it in.
type table struct {
	modulus uint64
	stepMod uint64
	used    uint64

	offsets  []uint64
	counts   []uint8
	overflow map[uint64]uint64

	alt         [][]uint8
	altOverflow []map[uint64]uint64
}

func newTable(hint uint64, altSize int) *table {
	modulus, stepMod := sizes(hint)
	return allocTable(modulus, stepMod, altSize)
}

func allocTable(modulus, stepMod uint64, altSize int) *table {
	t := &table{
		modulus:  modulus,
		stepMod:  stepMod,
		offsets:  make([]uint64, modulus),
		counts:   make([]uint8, modulus),
		overflow: make(map[uint64]uint64),
	}
	for i := range t.offsets {
		t.offsets[i] = Empty
	}
	if altSize > 0 {
		t.alt = make([][]uint8, altSize)
		t.altOverflow = make([]map[uint64]uint64, altSize)
		for i := range t.alt {
			t.alt[i] = make([]uint8, modulus)
			t.altOverflow[i] = make(map[uint64]uint64)
		}
	}
	return t
}

// Hash is the counting kmer table together with the packed sequence its
// slots point into and the metadata describing that sequence.
type Hash struct {
	table

	k    int
	cfg  Config
	seq  *kmer.Sequence
	meta *metadata.Metadata

	spills []string

	logger *slog.Logger

	// Scratch keys. key/comp serve table maintenance (rehash, resize,
	// spill), which can run in the middle of an insertion; ins/insComp hold
	// the kmer being inserted; lookup holds the reverse complement of a
	// caller's key.
	key, comp    *kmer.Key
	ins, insComp *kmer.Key
	lookup       *kmer.Key
}

// New returns an empty hash with an empty sequence and metadata.
func New(cfg Config) (*Hash, error) {
	return NewWithSequence(cfg, kmer.NewSequence(0), metadata.New())
}

// NewWithSequence returns an empty hash over an existing sequence and its
// metadata. The hash takes ownership of both.
func NewWithSequence(cfg Config, seq *kmer.Sequence, meta *metadata.Metadata) (*Hash, error) {
	if cfg.K < 1 {
		return nil, ErrKmerLength
	}
	if cfg.AltSize > 0 && cfg.NoSpace&TmpFile != 0 {
		return nil, ErrAltSpill
	}
	if cfg.AltSize > 64 {
		cfg.AltSize = 64
	}
	if cfg.MaxLoad >= 1 {
		cfg.MaxLoad = 0
	}
	if cfg.MinLoad < 0 || cfg.MinLoad >= cfg.MaxLoad {
		cfg.MinLoad = 0
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Hash{
		table:   *newTable(cfg.SizeHint, cfg.AltSize),
		k:       cfg.K,
		cfg:     cfg,
		seq:     seq,
		meta:    meta,
		logger:  logger,
		key:     kmer.NewKey(cfg.K),
		comp:    kmer.NewKey(cfg.K),
		ins:     kmer.NewKey(cfg.K),
		insComp: kmer.NewKey(cfg.K),
		lookup:  kmer.NewKey(cfg.K),
	}, nil
}

// K returns the kmer length.
func (h *Hash) K() int { return h.k }

// Used returns the number of occupied slots in memory.
func (h *Hash) Used() uint64 { return h.used }

// Modulus returns the number of slots.
func (h *Hash) Modulus() uint64 { return h.modulus }

// AltSize returns the number of alt counters per slot.
func (h *Hash) AltSize() int { return len(h.alt) }

// Sequence returns the packed sequence the slots point into.
func (h *Hash) Sequence() *kmer.Sequence { return h.seq }

// Metadata returns the description of the packed sequence.
func (h *Hash) Metadata() *metadata.Metadata { return h.meta }

// Spilled reports whether spill files are outstanding.
func (h *Hash) Spilled() bool { return len(h.spills) > 0 }

// Close removes any spill files and releases the table.
func (h *Hash) Close() error {
	err := h.removeSpills()
	h.table = table{}
	return err
}
