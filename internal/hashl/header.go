package hashl

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Saved File Format
// =================
//
// A saved hash is a text preamble followed by little-endian binary sections
// and a checksum:
//
//	+-------------+--------+----------+----------+--------+---------+----------+-----+-------+
//	| Boilerplate | Header | Metadata | Sequence | Counts | Offsets | Overflow | Alt | CRC64 |
//	+-------------+--------+----------+----------+--------+---------+----------+-----+-------+
//	    15 bytes   48 bytes  8 + len   8 + 8*w    modulus  8 * n     8 + 16*m
//
// Boilerplate: "hashl\n", the word size in bytes ("8\n") and the byte order
// ("little\n"). A reader refuses any other value.
//
// Header: see Header below.
//
// Metadata: byte length, then the packed metadata.
//
// Sequence: word count, then the words. The base length is the metadata's
// SequenceLength.
//
// Counts: one byte per slot, in slot order.
//
// Offsets: one bit offset for every slot whose count byte is nonzero, in slot
// order. A zero count byte means EMPTY on load.
//
// Overflow: entry count, then (slot, value) pairs sorted by slot.
//
// Alt: for each alt counter, modulus count bytes followed by an overflow
// section in the same shape as above.
//
// CRC64: ISO polynomial over every preceding byte, boilerplate included.

// Boilerplate opens every saved hash.
const Boilerplate = "hashl\n8\nlittle\n"

const (
	// HeaderSize is the size in bytes of the fixed header.
	HeaderSize = 48

	flagAllowOverflow = 1 << 0

	// maxModulus bounds the slot count a reader will allocate.
	maxModulus = 1 << 40
)

// Header is a flyweight view over the 48-byte fixed header:
//
//	modulus | step modulus | used | bit width (2k) | alt size | flags
type Header []byte

func (h Header) Modulus() uint64     { return binary.LittleEndian.Uint64(h[0:8]) }
func (h Header) SetModulus(v uint64) { binary.LittleEndian.PutUint64(h[0:8], v) }

func (h Header) StepModulus() uint64     { return binary.LittleEndian.Uint64(h[8:16]) }
func (h Header) SetStepModulus(v uint64) { binary.LittleEndian.PutUint64(h[8:16], v) }

func (h Header) Used() uint64     { return binary.LittleEndian.Uint64(h[16:24]) }
func (h Header) SetUsed(v uint64) { binary.LittleEndian.PutUint64(h[16:24], v) }

// BitWidth is the key width in bits, twice the kmer length.
func (h Header) BitWidth() uint64     { return binary.LittleEndian.Uint64(h[24:32]) }
func (h Header) SetBitWidth(v uint64) { binary.LittleEndian.PutUint64(h[24:32], v) }

func (h Header) AltSize() uint64     { return binary.LittleEndian.Uint64(h[32:40]) }
func (h Header) SetAltSize(v uint64) { binary.LittleEndian.PutUint64(h[32:40], v) }

func (h Header) Flags() uint64     { return binary.LittleEndian.Uint64(h[40:48]) }
func (h Header) SetFlags(v uint64) { binary.LittleEndian.PutUint64(h[40:48], v) }

// AllowOverflow reports the overflow setting the hash was saved with.
func (h Header) AllowOverflow() bool { return h.Flags()&flagAllowOverflow != 0 }

// K returns the kmer length.
func (h Header) K() int { return int(h.BitWidth() / 2) }

// CheckBoilerplate verifies the preamble of a saved hash.
func CheckBoilerplate(b []byte) error {
	if len(b) < len(Boilerplate) || !bytes.HasPrefix(b, []byte("hashl\n")) {
		return ErrInvalidMagic
	}
	if !bytes.Equal(b[:len(Boilerplate)], []byte(Boilerplate)) {
		return fmt.Errorf("%w: file written as %q", ErrHeaderMismatch, b[len("hashl\n"):len(Boilerplate)])
	}
	return nil
}

// Validate checks the header fields for consistency.
func (h Header) Validate() error {
	switch {
	case len(h) < HeaderSize:
		return fmt.Errorf("%w: short header", ErrCorrupt)
	case h.Modulus() < 3 || h.Modulus() > maxModulus:
		return fmt.Errorf("%w: modulus %d", ErrCorrupt, h.Modulus())
	case h.StepModulus() < 2 || h.StepModulus() >= h.Modulus():
		return fmt.Errorf("%w: step modulus %d, modulus %d", ErrCorrupt, h.StepModulus(), h.Modulus())
	case h.Used() >= h.Modulus():
		return fmt.Errorf("%w: %d used of %d slots", ErrCorrupt, h.Used(), h.Modulus())
	case h.BitWidth() == 0 || h.BitWidth()%2 != 0:
		return fmt.Errorf("%w: bit width %d", ErrCorrupt, h.BitWidth())
	case h.AltSize() > 64:
		return fmt.Errorf("%w: %d alt counters", ErrCorrupt, h.AltSize())
	}
	return nil
}
