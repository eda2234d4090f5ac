// hashl-check inspects and validates saved hash files. It streams the file
// once, section by section, checking the structure and the CRC64 trailer
// without building the table in memory.
//
// Usage
// =====
//
// Validate a file:
//
//	hashl-check -file reads.hashl
//
// Also list the files and reads recorded in the metadata:
//
//	hashl-check -file reads.hashl -v
//
// Every report line starts with the byte offset of the section it
// describes, so a damaged file can be located with a hex editor.
//
// Exit Codes
// ==========
//
// 0: The file is valid.
// 1: The file is damaged or unreadable.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"hash"
	"hash/crc64"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"kmer.lopezb.com/internal/hashl"
	"kmer.lopezb.com/internal/metadata"
)

// CountReader counts the bytes read through it, giving the offset of the
// next unread byte.
type CountReader struct {
	r     io.Reader
	count int64
}

func (cr *CountReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.count += int64(n)
	return n, err
}

// report is what inspect found.
type report struct {
	K         int
	Modulus   uint64
	Used      uint64 // as recorded in the header
	Occupied  uint64 // slots with a nonzero count byte
	Saturated uint64 // slots whose count lives in the overflow map
	Overflow  uint64
	AltSize   int
	Files     int
	Reads     int
	Bases     uint64
	Checksum  uint64
	Tail      bool // bytes follow the checksum
}

// checker reads the file through the CRC, failing with the offset of the
// field that could not be read.
type checker struct {
	counter *CountReader
	hasher  hash.Hash64
	r       io.Reader
	out     io.Writer
}

func (c *checker) offset() int64 { return c.counter.count }

func (c *checker) printf(format string, args ...any) {
	fmt.Fprintf(c.out, "[offset %d] ", c.offset())
	fmt.Fprintf(c.out, format, args...)
	fmt.Fprintln(c.out)
}

func (c *checker) full(p []byte, what string) error {
	at := c.offset()
	if _, err := io.ReadFull(c.r, p); err != nil {
		return errors.Wrapf(err, "offset %d: reading %s", at, what)
	}
	return nil
}

func (c *checker) word(what string) (uint64, error) {
	var b [8]byte
	if err := c.full(b[:], what); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// overflow checks one overflow section against its count bytes.
func (c *checker) overflow(counts []byte, what string) (uint64, error) {
	n, err := c.word(what + " size")
	if err != nil {
		return 0, err
	}
	if n > uint64(len(counts)) {
		return 0, errors.Wrapf(hashl.ErrCorrupt, "offset %d: %d %s entries for %d slots", c.offset(), n, what, len(counts))
	}
	prev := int64(-1)
	for i := uint64(0); i < n; i++ {
		slot, err := c.word(what + " slot")
		if err != nil {
			return 0, err
		}
		if _, err := c.word(what + " value"); err != nil {
			return 0, err
		}
		if slot >= uint64(len(counts)) || counts[slot] != hashl.MaxInline || int64(slot) <= prev {
			return 0, errors.Wrapf(hashl.ErrCorrupt, "offset %d: %s entry for slot %d", c.offset(), what, slot)
		}
		prev = int64(slot)
	}
	return n, nil
}

// inspect validates the saved hash read from r, describing each section on
// out. With verbose, the metadata files and reads are listed too.
func inspect(r io.Reader, out io.Writer, verbose bool) (*report, error) {
	br := bufio.NewReader(r)
	counter := &CountReader{r: br}
	c := &checker{counter: counter, hasher: crc64.New(crc64.MakeTable(crc64.ISO)), out: out}
	c.r = io.TeeReader(counter, c.hasher)
	rep := &report{}

	pre := make([]byte, len(hashl.Boilerplate))
	if err := c.full(pre, "boilerplate"); err != nil {
		return nil, hashl.ErrInvalidMagic
	}
	if err := hashl.CheckBoilerplate(pre); err != nil {
		return nil, err
	}

	c.printf("header")
	hdr := make(hashl.Header, hashl.HeaderSize)
	if err := c.full(hdr, "header"); err != nil {
		return nil, err
	}
	if err := hdr.Validate(); err != nil {
		return nil, err
	}
	rep.K, rep.Modulus, rep.Used, rep.AltSize = hdr.K(), hdr.Modulus(), hdr.Used(), int(hdr.AltSize())
	fmt.Fprintf(out, "    k=%d slots=%s step=%d used=%s alt=%d overflow=%t\n",
		rep.K, humanize.Comma(int64(rep.Modulus)), hdr.StepModulus(),
		humanize.Comma(int64(rep.Used)), rep.AltSize, hdr.AllowOverflow())

	c.printf("metadata")
	n, err := c.word("metadata length")
	if err != nil {
		return nil, err
	}
	if n > 1<<40 {
		return nil, errors.Wrapf(hashl.ErrCorrupt, "metadata length %d", n)
	}
	packed := make([]byte, n)
	if err := c.full(packed, "metadata"); err != nil {
		return nil, err
	}
	meta, err := metadata.Unpack(packed)
	if err != nil {
		return nil, err
	}
	rep.Files = len(meta.Files)
	reads, ranges := meta.TotalReads()
	rep.Reads = int(reads)
	rep.Bases = meta.SequenceLength()
	fmt.Fprintf(out, "    %d files, %s reads, %s ranges, %s bases\n", rep.Files,
		humanize.Comma(int64(reads)), humanize.Comma(int64(ranges)), humanize.Comma(int64(rep.Bases)))
	if verbose {
		for i, f := range meta.Files {
			if meta.IsPadding(i) {
				fmt.Fprintf(out, "    file %d: padding, %d bases\n", i, readBases(f))
				continue
			}
			fmt.Fprintf(out, "    file %d: %s, %d reads\n", i, f.Name, len(f.Reads))
			for _, rd := range f.Reads {
				fmt.Fprintf(out, "      %s %v\n", rd.Name, rd.Ranges)
			}
		}
	}

	c.printf("sequence")
	nwords, err := c.word("sequence length")
	if err != nil {
		return nil, err
	}
	if want := (2*rep.Bases + 63) / 64; nwords != want {
		return nil, errors.Wrapf(hashl.ErrCorrupt, "sequence has %d words, metadata needs %d", nwords, want)
	}
	for i := uint64(0); i < nwords; i++ {
		if _, err := c.word("sequence"); err != nil {
			return nil, err
		}
	}

	c.printf("counts")
	counts := make([]byte, rep.Modulus)
	if err := c.full(counts, "counts"); err != nil {
		return nil, err
	}
	for _, v := range counts {
		if v != 0 {
			rep.Occupied++
		}
		if v == hashl.MaxInline {
			rep.Saturated++
		}
	}
	fmt.Fprintf(out, "    %s occupied, %s saturated\n", humanize.Comma(int64(rep.Occupied)), humanize.Comma(int64(rep.Saturated)))

	c.printf("offsets")
	bits := 2 * rep.Bases
	for slot, v := range counts {
		if v == 0 {
			continue
		}
		off, err := c.word("offset")
		if err != nil {
			return nil, err
		}
		if off%2 != 0 || off+uint64(2*rep.K) > bits {
			return nil, errors.Wrapf(hashl.ErrCorrupt, "offset %d: slot %d points at bit %d of %d", c.offset()-8, slot, off, bits)
		}
	}

	c.printf("overflow")
	if rep.Overflow, err = c.overflow(counts, "overflow"); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "    %d entries\n", rep.Overflow)

	for i := 0; i < rep.AltSize; i++ {
		c.printf("alt counter %d", i)
		alt := make([]byte, rep.Modulus)
		if err := c.full(alt, "alt counts"); err != nil {
			return nil, err
		}
		if _, err := c.overflow(alt, "alt overflow"); err != nil {
			return nil, err
		}
	}

	sum := c.hasher.Sum64()
	var trailer [8]byte
	at := c.offset()
	if _, err := io.ReadFull(counter, trailer[:]); err != nil {
		return nil, errors.Wrapf(hashl.ErrCorrupt, "offset %d: missing checksum: %v", at, err)
	}
	rep.Checksum = binary.LittleEndian.Uint64(trailer[:])
	if rep.Checksum != sum {
		fmt.Fprintf(out, "[offset %d] checksum MISMATCH\n    file:       %016x\n    calculated: %016x\n", at, rep.Checksum, sum)
		return rep, hashl.ErrChecksum
	}
	fmt.Fprintf(out, "[offset %d] checksum OK (%016x)\n", at, rep.Checksum)

	if _, err := br.Peek(1); err == nil {
		rep.Tail = true
		fmt.Fprintf(out, "[offset %d] unexpected data after the checksum\n", c.offset())
	}
	return rep, nil
}

func readBases(f metadata.File) uint64 {
	var n uint64
	for _, r := range f.Reads {
		for _, rg := range r.Ranges {
			n += rg.Len()
		}
	}
	return n
}

func main() {
	filePath := flag.String("file", "", "Path to the saved hash")
	verbose := flag.Bool("v", false, "List metadata files and reads")
	flag.Parse()

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "[err] missing -file")
		os.Exit(1)
	}
	f, err := os.Open(*filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] cannot open file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = f.Close() }()

	fmt.Printf("checking hash file %s\n", *filePath)
	start := time.Now()
	rep, err := inspect(f, os.Stdout, *verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[err] %v\n", err)
		_ = f.Close()
		os.Exit(1)
	}

	fmt.Println("\nSummary:")
	fmt.Printf("  Process Time: %v\n", time.Since(start))
	fmt.Printf("  Kmers:        %s (k=%d)\n", humanize.Comma(int64(rep.Occupied)), rep.K)
	fmt.Printf("  Load:         %.3f\n", float64(rep.Occupied)/float64(rep.Modulus))
	fmt.Printf("  Reads:        %s in %d files\n", humanize.Comma(int64(rep.Reads)), rep.Files)
	if rep.Tail {
		_ = f.Close()
		os.Exit(1)
	}
}
