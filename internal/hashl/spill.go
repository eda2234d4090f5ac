package hashl

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Spill File Format
// =================
//
// A spill file is a gzip stream of little-endian uint64 fields:
//
//	magic ("HSPL0001")  k  count
//	repeat count, sorted by canonical key:
//	    key words (ceil(2k/64), high word first)  offset  value
//
// The offset is the bit offset of the kmer in the hash's sequence at the time
// of the spill. The sequence is append-only, so it stays valid and lets
// Consolidate rebuild slots from spilled entries.

const spillMagic = 0x3130303050535348 // "HSPL0001"

var errSpillFormat = errors.New("hashl: malformed spill file")

// entries is the flat, sortable image of a table's occupied slots.
type entries struct {
	n       int      // words per key
	keys    []uint64 // len = n * count
	offsets []uint64
	values  []uint64
	order   []uint32 // sorted permutation
}

// collect copies every occupied slot into an entries set sorted by
// canonical key.
func (h *Hash) collect() *entries {
	n := len(h.key.Words())
	e := &entries{
		n:       n,
		keys:    make([]uint64, 0, int(h.used)*n),
		offsets: make([]uint64, 0, h.used),
		values:  make([]uint64, 0, h.used),
	}
	for i, off := range h.offsets {
		if off == Empty {
			continue
		}
		canon, _ := h.canonicalAt(off)
		e.keys = append(e.keys, canon.Words()...)
		e.offsets = append(e.offsets, off)
		e.values = append(e.values, h.value(uint64(i)))
	}
	e.order = make([]uint32, len(e.offsets))
	for i := range e.order {
		e.order[i] = uint32(i)
	}
	tmp := make([]uint32, len(e.order))
	e.radixSort(e.order, tmp, 0)
	return e
}

func (e *entries) len() int { return len(e.offsets) }

func (e *entries) key(i uint32) []uint64 {
	return e.keys[int(i)*e.n : int(i+1)*e.n]
}

// digit returns byte d of entry i's key, counting from the most significant
// byte of the high word.
func (e *entries) digit(i uint32, d int) int {
	w := e.keys[int(i)*e.n+d/8]
	return int(w>>(8*(7-uint(d%8)))) & 0xFF
}

const shellCutoff = 32

// radixSort is an MSB radix sort on key bytes, falling back to a shell sort
// for small buckets.
func (e *entries) radixSort(idx, tmp []uint32, d int) {
	if len(idx) < shellCutoff {
		e.shellSort(idx)
		return
	}
	if d >= 8*e.n {
		return
	}

	var counts [256]int
	for _, i := range idx {
		counts[e.digit(i, d)]++
	}
	var starts [257]int
	for b := 0; b < 256; b++ {
		starts[b+1] = starts[b] + counts[b]
	}
	pos := starts
	for _, i := range idx {
		b := e.digit(i, d)
		tmp[pos[b]] = i
		pos[b]++
	}
	copy(idx, tmp[:len(idx)])

	for b := 0; b < 256; b++ {
		lo, hi := starts[b], starts[b+1]
		if hi-lo > 1 {
			e.radixSort(idx[lo:hi], tmp[lo:hi], d+1)
		}
	}
}

// shellGaps is Ciura's sequence.
var shellGaps = [...]int{701, 301, 132, 57, 23, 10, 4, 1}

func (e *entries) shellSort(idx []uint32) {
	for _, gap := range shellGaps {
		for i := gap; i < len(idx); i++ {
			v := idx[i]
			j := i
			for ; j >= gap && compareWords(e.key(idx[j-gap]), e.key(v)) > 0; j -= gap {
				idx[j] = idx[j-gap]
			}
			idx[j] = v
		}
	}
}

func compareWords(a, b []uint64) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// spillFile creates a new spill file under the configured prefix.
func (h *Hash) spillFile() (*os.File, error) {
	dir, pattern := "", "hashl-*.spill.gz"
	if p := h.cfg.TmpPrefix; p != "" {
		if st, err := os.Stat(p); (err == nil && st.IsDir()) || strings.HasSuffix(p, string(os.PathSeparator)) {
			dir = p
		} else {
			dir, pattern = filepath.Dir(p), filepath.Base(p)+"*.spill.gz"
		}
	}
	return os.CreateTemp(dir, pattern)
}

// spill writes the sorted table to a new spill file and empties the table.
func (h *Hash) spill() error {
	e := h.collect()

	f, err := h.spillFile()
	if err != nil {
		return fmt.Errorf("hashl: creating spill file: %w", err)
	}
	path := f.Name()

	if err := e.write(f, h.k); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("hashl: writing spill file %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("hashl: closing spill file %s: %w", path, err)
	}

	h.spills = append(h.spills, path)
	h.logger.Info("spilled hash", "file", path, "entries", e.len(), "spills", len(h.spills))

	for i := range h.offsets {
		if h.offsets[i] != Empty {
			h.clearSlot(uint64(i))
		}
	}
	h.used = 0
	return nil
}

func (e *entries) write(w io.Writer, k int) error {
	gz := gzip.NewWriter(w)
	bw := bufio.NewWriter(gz)

	var buf [8]byte
	put := func(v uint64) error {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, err := bw.Write(buf[:])
		return err
	}

	if err := put(spillMagic); err != nil {
		return err
	}
	if err := put(uint64(k)); err != nil {
		return err
	}
	if err := put(uint64(e.len())); err != nil {
		return err
	}
	for _, i := range e.order {
		for _, w := range e.key(i) {
			if err := put(w); err != nil {
				return err
			}
		}
		if err := put(e.offsets[i]); err != nil {
			return err
		}
		if err := put(e.values[i]); err != nil {
			return err
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	return gz.Close()
}

func (h *Hash) removeSpills() error {
	var first error
	for _, path := range h.spills {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) && first == nil {
			first = err
		}
	}
	h.spills = nil
	return first
}

// cursor is one sorted input of the merge: a spill file or the sorted
// in-memory remainder.
type cursor interface {
	// advance moves to the next entry and reports whether there is one.
	advance() (bool, error)
	key() []uint64
	offset() uint64
	value() uint64
	close() error
}

type spillCursor struct {
	f         *os.File
	gz        *gzip.Reader
	r         *bufio.Reader
	remaining uint64
	k         []uint64
	off, val  uint64
	buf       [8]byte
}

func openSpill(path string, k int) (*spillCursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("hashl: %s: %w", path, err)
	}
	c := &spillCursor{
		f:  f,
		gz: gz,
		r:  bufio.NewReader(gz),
		k:  make([]uint64, (2*k+63)/64),
	}

	magic, err := c.word()
	if err == nil && magic != spillMagic {
		err = errSpillFormat
	}
	var fileK uint64
	if err == nil {
		fileK, err = c.word()
	}
	if err == nil && fileK != uint64(k) {
		err = fmt.Errorf("%w: spill k=%d, hash k=%d", ErrKmerLength, fileK, k)
	}
	if err == nil {
		c.remaining, err = c.word()
	}
	if err != nil {
		_ = c.close()
		return nil, fmt.Errorf("hashl: %s: %w", path, err)
	}
	return c, nil
}

func (c *spillCursor) word() (uint64, error) {
	if _, err := io.ReadFull(c.r, c.buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return binary.LittleEndian.Uint64(c.buf[:]), nil
}

func (c *spillCursor) advance() (bool, error) {
	if c.remaining == 0 {
		return false, nil
	}
	c.remaining--
	var err error
	for i := range c.k {
		if c.k[i], err = c.word(); err != nil {
			return false, err
		}
	}
	if c.off, err = c.word(); err != nil {
		return false, err
	}
	if c.val, err = c.word(); err != nil {
		return false, err
	}
	return true, nil
}

func (c *spillCursor) key() []uint64  { return c.k }
func (c *spillCursor) offset() uint64 { return c.off }
func (c *spillCursor) value() uint64  { return c.val }

func (c *spillCursor) close() error {
	_ = c.gz.Close()
	return c.f.Close()
}

type memCursor struct {
	e   *entries
	pos int
}

func (c *memCursor) advance() (bool, error) {
	c.pos++
	return c.pos < c.e.len(), nil
}

func (c *memCursor) key() []uint64  { return c.e.key(c.e.order[c.pos]) }
func (c *memCursor) offset() uint64 { return c.e.offsets[c.e.order[c.pos]] }
func (c *memCursor) value() uint64  { return c.e.values[c.e.order[c.pos]] }
func (c *memCursor) close() error   { return nil }
