package indexhash

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"io"
	"os"
)

// File layout
// ===========
//
//	+------------------+
//	| "hashp\n8\nlittle\n" |  class tag, word size, byte order
//	+------------------+
//	| header, 32 bytes |  k, slots, used, reads
//	+------------------+
//	| keys             |  slots words, EMPTY for free slots
//	| block starts     |  slots+1 words
//	| read list        |  count word, then uint32 ids
//	| read names       |  blob length, blob, then one end word per read
//	| read files       |  one uint32 file index per read
//	| file names       |  count word, then length-prefixed names
//	+------------------+
//	| CRC64-ISO        |  of everything above
//	+------------------+
//
// All words are little-endian.

// Boilerplate opens every index file.
const Boilerplate = "hashp\n8\nlittle\n"

const headerSize = 32

var crcTable = crc64.MakeTable(crc64.ISO)

// Write saves the index to w.
func (idx *Index) Write(w io.Writer) error {
	crc := crc64.New(crcTable)
	bw := bufio.NewWriter(io.MultiWriter(w, crc))
	var buf [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		_, _ = bw.Write(buf[:])
	}
	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[:4], v)
		_, _ = bw.Write(buf[:4])
	}

	_, _ = bw.WriteString(Boilerplate)
	put(uint64(idx.k))
	put(uint64(len(idx.keys)))
	put(idx.used)
	put(uint64(len(idx.nameEnds)))

	for _, v := range idx.keys {
		put(v)
	}
	for _, v := range idx.start {
		put(v)
	}
	put(uint64(len(idx.reads)))
	for _, v := range idx.reads {
		put32(v)
	}
	put(uint64(len(idx.names)))
	_, _ = bw.Write(idx.names)
	for _, v := range idx.nameEnds {
		put(v)
	}
	for _, v := range idx.fileOf {
		put32(v)
	}
	put(uint64(len(idx.files)))
	for _, f := range idx.files {
		put(uint64(len(f)))
		_, _ = bw.WriteString(f)
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf[:], crc.Sum64())
	_, err := w.Write(buf[:])
	return err
}

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

func (s *section) word32() uint32 {
	s.full(s.buf[:4])
	if s.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(s.buf[:4])
}

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

// maxSlots bounds the slot count read from a header before anything is
// allocated.
const maxSlots = 1 << 36

// Read restores an index written by Write.
func Read(r io.Reader) (*Index, error) {
	crc := crc64.New(crcTable)
	s := &section{r: io.TeeReader(r, crc)}

	tag := make([]byte, len(Boilerplate))
	s.full(tag)
	if s.err != nil {
		return nil, s.err
	}
	if !bytes.HasPrefix(tag, []byte("hashp\n")) {
		return nil, ErrInvalidMagic
	}
	if string(tag) != Boilerplate {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrHeaderMismatch, tag, Boilerplate)
	}

	k := s.word()
	slots := s.word()
	used := s.word()
	nreads := s.word()
	if s.err != nil {
		return nil, s.err
	}
	switch {
	case k < 1 || k > MaxK:
		return nil, fmt.Errorf("%w: k=%d", ErrCorrupt, k)
	case slots < 8 || slots > maxSlots || slots&(slots-1) != 0:
		return nil, fmt.Errorf("%w: %d slots", ErrCorrupt, slots)
	case used > slots:
		return nil, fmt.Errorf("%w: %d kmers in %d slots", ErrCorrupt, used, slots)
	case nreads >= 1<<32:
		return nil, fmt.Errorf("%w: %d reads", ErrCorrupt, nreads)
	}

	idx := newIndex(int(k), 0)
	idx.mask = slots - 1
	idx.keys = make([]uint64, slots)
	idx.start = make([]uint64, slots+1)
	idx.used = used

	var occupied uint64
	for i := range idx.keys {
		idx.keys[i] = s.word()
		if idx.keys[i] != empty {
			occupied++
		}
	}
	for i := range idx.start {
		idx.start[i] = s.word()
	}
	npairs := s.word()
	if s.err != nil {
		return nil, s.err
	}
	if occupied != used {
		s.fail("header says %d kmers, table holds %d", used, occupied)
	}
	if idx.start[0] != 0 || idx.start[slots] != npairs {
		s.fail("read list bounds")
	}
	for i := uint64(0); i < slots && s.err == nil; i++ {
		if idx.start[i+1] < idx.start[i] {
			s.fail("block %d ends before it starts", i)
		} else if idx.keys[i] == empty && idx.start[i+1] != idx.start[i] {
			s.fail("empty slot %d has reads", i)
		}
	}

	// The pair count is checked against the remaining input as it is read.
	for i := uint64(0); i < npairs && s.err == nil; i++ {
		id := s.word32()
		if uint64(id) >= nreads {
			s.fail("read id %d of %d", id, nreads)
		}
		idx.reads = append(idx.reads, id)
	}

	idx.names = s.blob(s.word())
	for i := uint64(0); i < nreads && s.err == nil; i++ {
		end := s.word()
		if end > uint64(len(idx.names)) || (i > 0 && end < idx.nameEnds[i-1]) {
			s.fail("read name %d out of range", i)
		}
		idx.nameEnds = append(idx.nameEnds, end)
	}
	for i := uint64(0); i < nreads && s.err == nil; i++ {
		idx.fileOf = append(idx.fileOf, s.word32())
	}
	nfiles := s.word()
	for i := uint64(0); i < nfiles && s.err == nil; i++ {
		idx.files = append(idx.files, string(s.blob(s.word())))
	}
	for _, f := range idx.fileOf {
		if uint64(f) >= nfiles {
			s.fail("file index %d of %d", f, nfiles)
			break
		}
	}
	if s.err != nil {
		return nil, s.err
	}

	sum := crc.Sum64()
	var trailer [8]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return nil, fmt.Errorf("%w: missing checksum", ErrCorrupt)
	}
	if binary.LittleEndian.Uint64(trailer[:]) != sum {
		return nil, ErrChecksum
	}
	return idx, nil
}

// Save writes the index to path, and its description to InfoPath(path),
// each through a temporary file and a rename.
func (idx *Index) Save(path string) error {
	if err := writeFile(path, idx.Write); err != nil {
		return err
	}
	return WriteInfo(InfoPath(path), idx.Info())
}

func writeFile(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
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

// Load reads an index saved with Save. The info sidecar is not needed.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	idx, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}
