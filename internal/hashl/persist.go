package hashl

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"io"
	"os"

	"github.com/twotwotwo/sorts/sortutil"

	"kmer.lopezb.com/internal/kmer"
	"kmer.lopezb.com/internal/metadata"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// Write saves the hash in the format described in header.go. A hash with
// outstanding spill files must be consolidated first.
func (h *Hash) Write(w io.Writer) error {
	if h.Spilled() {
		return ErrSpilled
	}
	if n := h.meta.SequenceLength(); n != h.seq.Len() {
		return fmt.Errorf("hashl: metadata describes %d bases, sequence holds %d: %w", n, h.seq.Len(), metadata.ErrSizeMismatch)
	}

	crc := crc64.New(crcTable)
	bw := bufio.NewWriter(io.MultiWriter(w, crc))
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = bw.Write(buf[:])
	}

	_, _ = bw.WriteString(Boilerplate)

	hdr := make(Header, HeaderSize)
	hdr.SetModulus(h.modulus)
	hdr.SetStepModulus(h.stepMod)
	hdr.SetUsed(h.used)
	hdr.SetBitWidth(uint64(2 * h.k))
	hdr.SetAltSize(uint64(len(h.alt)))
	if h.cfg.AllowOverflow {
		hdr.SetFlags(flagAllowOverflow)
	}
	_, _ = bw.Write(hdr)

	meta := h.meta.Pack()
	put(uint64(len(meta)))
	_, _ = bw.Write(meta)

	words := h.seq.Words()[:(h.seq.BitLen()+63)/64]
	put(uint64(len(words)))
	for _, v := range words {
		put(v)
	}

	_, _ = bw.Write(h.counts)
	for i, c := range h.counts {
		if c != 0 {
			put(h.offsets[i])
		}
	}
	writeOverflow(h.overflow, h.counts, put)

	for i := range h.alt {
		_, _ = bw.Write(h.alt[i])
		writeOverflow(h.altOverflow[i], h.alt[i], put)
	}

	// bufio keeps the first write error and reports it here.
	if err := bw.Flush(); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, crc.Sum64())
}

// writeOverflow emits the overflow entries of saturated counters, sorted by
// slot so equal hashes produce equal files.
func writeOverflow(m map[uint64]uint64, counts []uint8, put func(uint64)) {
	slots := make([]uint64, 0, len(m))
	for slot := range m {
		if counts[slot] == MaxInline {
			slots = append(slots, slot)
		}
	}
	sortutil.Uint64s(slots)
	put(uint64(len(slots)))
	for _, slot := range slots {
		put(slot)
		put(m[slot])
	}
}

// section reads fixed-size fields and keeps the first error, so a parse can
// run straight through and check once.
type section struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (s *section) full(p []byte) {
	if s.err != nil {
		return
	}
	if _, err := io.ReadFull(s.r, p); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		s.err = fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
}

func (s *section) word() uint64 {
	s.full(s.buf[:])
	if s.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(s.buf[:])
}

// blob reads n bytes without trusting n for the allocation.
func (s *section) blob(n uint64) []byte {
	if s.err != nil {
		return nil
	}
	var b bytes.Buffer
	if _, err := io.CopyN(&b, s.r, int64(n)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		s.err = fmt.Errorf("%w: %w", ErrCorrupt, err)
		return nil
	}
	return b.Bytes()
}

func (s *section) fail(format string, args ...any) {
	if s.err == nil {
		s.err = fmt.Errorf("%w: "+format, append([]any{ErrCorrupt}, args...)...)
	}
}

// Read restores a hash written by Write. The kmer length, alt counters and
// overflow setting come from the file; cfg supplies the rest (strategy,
// load bounds, logger). A nonzero cfg.K must match the file.
//
// Nothing is returned unless the whole file parses and its checksum matches.
func Read(r io.Reader, cfg Config) (*Hash, error) {
	//
	// DESIGN
	// ------
	//
	// Every byte up to the trailer passes through a TeeReader into the CRC,
	// so the checksum is computed in the same pass that parses the sections.
	// The trailer itself is read from the underlying reader.
	//
	// Slots whose count byte is zero carry no offset and load as EMPTY. When
	// such slots were occupied at save time the number of loaded entries is
	// lower than the saved used count and probe chains may have gaps, so
	// the in-place rehash runs before the hash is handed out.
	//
	br := bufio.NewReader(r)
	crc := crc64.New(crcTable)
	s := &section{r: io.TeeReader(br, crc)}

	pre := make([]byte, len(Boilerplate))
	s.full(pre)
	if s.err != nil {
		return nil, ErrInvalidMagic
	}
	if err := CheckBoilerplate(pre); err != nil {
		return nil, err
	}

	hdr := make(Header, HeaderSize)
	s.full(hdr)
	if s.err != nil {
		return nil, s.err
	}
	if err := hdr.Validate(); err != nil {
		return nil, err
	}
	if cfg.K != 0 && cfg.K != hdr.K() {
		return nil, fmt.Errorf("%w: file k=%d, requested k=%d", ErrKmerLength, hdr.K(), cfg.K)
	}

	meta, err := metadata.Unpack(s.blob(s.word()))
	if s.err != nil {
		return nil, s.err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	bases := meta.SequenceLength()
	nwords := s.word()
	if want := (2*bases + 63) / 64; s.err == nil && nwords != want {
		s.fail("sequence has %d words, metadata needs %d", nwords, want)
	}
	var words []uint64
	for i := uint64(0); i < nwords && s.err == nil; i++ {
		words = append(words, s.word())
	}
	if s.err != nil {
		return nil, s.err
	}
	seq := kmer.SequenceFromWords(words, bases)

	k := hdr.K()
	t := allocTable(hdr.Modulus(), hdr.StepModulus(), int(hdr.AltSize()))

	s.full(t.counts)
	for i, c := range t.counts {
		if s.err != nil {
			break
		}
		if c == 0 {
			continue
		}
		off := s.word()
		if s.err == nil && !seq.Contains(off, k) {
			s.fail("slot %d offset %d outside %d-base sequence", i, off, bases)
		}
		t.offsets[i] = off
		t.used++
	}
	s.readOverflow(t.overflow, t.counts)
	for i := range t.alt {
		s.full(t.alt[i])
		s.readOverflow(t.altOverflow[i], t.alt[i])
	}
	if s.err != nil {
		return nil, s.err
	}

	var trailer [8]byte
	if _, err := io.ReadFull(br, trailer[:]); err != nil {
		return nil, fmt.Errorf("%w: missing checksum: %w", ErrCorrupt, err)
	}
	if binary.LittleEndian.Uint64(trailer[:]) != crc.Sum64() {
		return nil, ErrChecksum
	}

	cfg.K = k
	cfg.AltSize = int(hdr.AltSize())
	cfg.AllowOverflow = hdr.AllowOverflow()
	cfg.SizeHint = 1
	h, err := NewWithSequence(cfg, seq, meta)
	if err != nil {
		return nil, err
	}
	h.table = *t
	if h.used != hdr.Used() {
		h.logger.Debug("rehashing restored hash", "saved", hdr.Used(), "loaded", h.used)
		h.rehash()
	}
	return h, nil
}

func (s *section) readOverflow(m map[uint64]uint64, counts []uint8) {
	n := s.word()
	if s.err == nil && n > uint64(len(counts)) {
		s.fail("%d overflow entries for %d slots", n, len(counts))
	}
	for i := uint64(0); i < n && s.err == nil; i++ {
		slot, v := s.word(), s.word()
		if s.err != nil {
			return
		}
		if slot >= uint64(len(counts)) || counts[slot] != MaxInline {
			s.fail("overflow entry for slot %d", slot)
			return
		}
		m[slot] = v
	}
}

// Save writes the hash to path through a temporary file and a rename, so an
// interrupted save never leaves a truncated file under path.
func (h *Hash) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := h.Write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads a hash saved with Save.
func Load(path string, cfg Config) (*Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := Read(f, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}
