// Package metadata records where every base of a packed sequence came from.
//
// The tree is files → reads → ranges. A range is a half-open [Start, End)
// interval of a read's own coordinates holding only ACGT; concatenating all
// ranges in tree order gives exactly the packed sequence the tree describes.
// That agreement is what lets a bit offset found in a hash be turned back
// into "file, read, position" for reporting.
//
// Packed Format
// =============
//
// All integers are little-endian uint64. Strings are NUL-terminated.
//
//	file_count
//	repeat file_count:
//	    file_name \0
//	    read_count
//	    repeat read_count:
//	        read_name \0
//	        range_count
//	        repeat range_count: start end
//
// The blob is stored length-prefixed inside hash files, so a reader knows its
// exact size before decoding it.
package metadata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// PaddingName names the synthetic file and read that stand in for the
// padding run inserted between two merged datasets.
const PaddingName = "<padding>"

var (
	// ErrInvalidData is returned when a packed blob is truncated or malformed.
	ErrInvalidData = errors.New("metadata: invalid packed data")

	// ErrSizeMismatch is returned when the tree and a sequence disagree on
	// the number of bases.
	ErrSizeMismatch = errors.New("metadata: sequence length mismatch")

	// ErrInvalidBase is returned by ReadData when a recorded range holds a
	// character outside ACGT.
	ErrInvalidBase = errors.New("metadata: non-ACGT character in recorded range")

	// ErrMissingRead is returned by ReadData when a recorded read cannot be
	// found in its file.
	ErrMissingRead = errors.New("metadata: recorded read not found in file")
)

// Range is a half-open interval in read coordinates.
type Range struct {
	Start, End uint64
}

// Len returns the number of bases in the range.
func (r Range) Len() uint64 { return r.End - r.Start }

// Read is one sequence record and its usable ranges.
//
// Record is the 1-based position of the record in its file. It lets
// ReadData find the record again when names repeat, and is not packed: a
// tree rebuilt by Unpack has Record 0 and falls back to matching names.
type Read struct {
	Name   string
	Ranges []Range
	Record int
}

// File is one input file and the reads taken from it.
type File struct {
	Name  string
	Reads []Read
}

// Location is the answer to "where did this bit offset come from".
type Location struct {
	File   int    // index into Files
	Read   int    // index into File.Reads
	Range  int    // index into Read.Ranges
	Offset uint64 // base position in the read's own coordinates
}

// Metadata is the files → reads → ranges tree.
type Metadata struct {
	Files []File

	// ends caches the cumulative ending bit offset of every range, in
	// sequence order, with a parallel slice of positions for Locate.
	ends []uint64
	locs []Location
}

// New returns an empty tree.
func New() *Metadata {
	return &Metadata{}
}

// AddFile appends a file and returns its index.
func (m *Metadata) AddFile(name string) int {
	m.Files = append(m.Files, File{Name: name})
	m.ends = nil
	return len(m.Files) - 1
}

// AddRead appends a read to file f and returns its index.
func (m *Metadata) AddRead(f int, name string, ranges []Range) int {
	return m.AddRecord(f, 0, name, ranges)
}

// AddRecord appends a read found at the given 1-based record position of
// file f and returns its index.
func (m *Metadata) AddRecord(f, record int, name string, ranges []Range) int {
	file := &m.Files[f]
	file.Reads = append(file.Reads, Read{Name: name, Ranges: ranges, Record: record})
	m.ends = nil
	return len(file.Reads) - 1
}

// AddPadding records a synthetic read of n bases.
func (m *Metadata) AddPadding(n uint64) {
	f := m.AddFile(PaddingName)
	m.AddRead(f, PaddingName, []Range{{Start: 0, End: n}})
}

// IsPadding reports whether a file index refers to a padding entry.
func (m *Metadata) IsPadding(f int) bool {
	return m.Files[f].Name == PaddingName
}

// Append absorbs every file of o after the current ones.
func (m *Metadata) Append(o *Metadata) {
	for _, f := range o.Files {
		reads := make([]Read, len(f.Reads))
		for i, r := range f.Reads {
			reads[i] = Read{Name: r.Name, Ranges: append([]Range(nil), r.Ranges...), Record: r.Record}
		}
		m.Files = append(m.Files, File{Name: f.Name, Reads: reads})
	}
	m.ends = nil
}

// TotalReads returns the number of reads and the number of ranges, padding
// entries excluded.
func (m *Metadata) TotalReads() (reads, ranges uint64) {
	for i, f := range m.Files {
		if m.IsPadding(i) {
			continue
		}
		reads += uint64(len(f.Reads))
		for _, r := range f.Reads {
			ranges += uint64(len(r.Ranges))
		}
	}
	return reads, ranges
}

// MaxKmers returns an upper bound on the number of kmers (unique plus
// duplicate) the recorded ranges can produce. Padding contributes nothing
// since no kmer window is counted inside it.
func (m *Metadata) MaxKmers(k int) uint64 {
	var n uint64
	for i, f := range m.Files {
		if m.IsPadding(i) {
			continue
		}
		for _, r := range f.Reads {
			for _, rg := range r.Ranges {
				if rg.Len() >= uint64(k) {
					n += rg.Len() - uint64(k) + 1
				}
			}
		}
	}
	return n
}

// SequenceLength returns the sum of all range lengths, padding included.
// This equals the length of the packed sequence the tree describes.
func (m *Metadata) SequenceLength() uint64 {
	var n uint64
	for _, f := range m.Files {
		for _, r := range f.Reads {
			for _, rg := range r.Ranges {
				n += rg.Len()
			}
		}
	}
	return n
}

// ReadEnds returns the cumulative ending bit offset of every range, in
// sequence order. The result is cached until the tree changes.
func (m *Metadata) ReadEnds() []uint64 {
	if m.ends != nil {
		return m.ends
	}
	var ends []uint64
	var locs []Location
	var bit uint64
	for fi, f := range m.Files {
		for ri, r := range f.Reads {
			for gi, rg := range r.Ranges {
				locs = append(locs, Location{File: fi, Read: ri, Range: gi, Offset: rg.Start})
				bit += 2 * rg.Len()
				ends = append(ends, bit)
			}
		}
	}
	if ends == nil {
		ends = []uint64{}
	}
	m.ends, m.locs = ends, locs
	return ends
}

// Locate maps a bit offset in the described sequence back to the range that
// holds it.
func (m *Metadata) Locate(bit uint64) (Location, bool) {
	ends := m.ReadEnds()
	i := sort.Search(len(ends), func(i int) bool { return ends[i] > bit })
	if i == len(ends) {
		return Location{}, false
	}
	start := uint64(0)
	if i > 0 {
		start = ends[i-1]
	}
	loc := m.locs[i]
	loc.Offset += (bit - start) / 2
	return loc, true
}

// ReadName returns the name of the read holding a location.
func (m *Metadata) ReadName(loc Location) string {
	f := m.Files[loc.File]
	return f.Reads[loc.Read].Name
}

// Validate checks that every range is non-empty and that the described
// length matches a sequence of n bases.
func (m *Metadata) Validate(n uint64) error {
	for _, f := range m.Files {
		for _, r := range f.Reads {
			for _, rg := range r.Ranges {
				if rg.Start >= rg.End {
					return fmt.Errorf("metadata: read %q: empty range [%d, %d): %w", r.Name, rg.Start, rg.End, ErrInvalidData)
				}
			}
		}
	}
	if got := m.SequenceLength(); got != n {
		return fmt.Errorf("metadata: describes %d bases, sequence holds %d: %w", got, n, ErrSizeMismatch)
	}
	return nil
}

// Pack serializes the tree.
func (m *Metadata) Pack() []byte {
	size := 8
	for _, f := range m.Files {
		size += len(f.Name) + 1 + 8
		for _, r := range f.Reads {
			size += len(r.Name) + 1 + 8 + 16*len(r.Ranges)
		}
	}

	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(m.Files)))
	for _, f := range m.Files {
		buf = append(buf, f.Name...)
		buf = append(buf, 0)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(f.Reads)))
		for _, r := range f.Reads {
			buf = append(buf, r.Name...)
			buf = append(buf, 0)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(len(r.Ranges)))
			for _, rg := range r.Ranges {
				buf = binary.LittleEndian.AppendUint64(buf, rg.Start)
				buf = binary.LittleEndian.AppendUint64(buf, rg.End)
			}
		}
	}
	return buf
}

// Unpack rebuilds a tree from Pack's output.
func Unpack(data []byte) (*Metadata, error) {
	d := decoder{data: data}
	m := New()

	nfiles := d.uint64()
	if d.err == nil && nfiles > uint64(len(data)) {
		d.fail()
	}
	for i := uint64(0); i < nfiles && d.err == nil; i++ {
		f := File{Name: d.cstring()}
		nreads := d.uint64()
		if nreads > d.remaining() {
			d.fail()
			break
		}
		f.Reads = make([]Read, 0, nreads)
		for j := uint64(0); j < nreads && d.err == nil; j++ {
			r := Read{Name: d.cstring()}
			nranges := d.uint64()
			if nranges > d.remaining()/16 {
				d.fail()
				break
			}
			r.Ranges = make([]Range, nranges)
			for g := range r.Ranges {
				r.Ranges[g] = Range{Start: d.uint64(), End: d.uint64()}
				if d.err == nil && r.Ranges[g].Start >= r.Ranges[g].End {
					d.fail()
				}
			}
			f.Reads = append(f.Reads, r)
		}
		m.Files = append(m.Files, f)
	}

	if d.err != nil {
		return nil, d.err
	}
	if d.pos != len(data) {
		return nil, fmt.Errorf("metadata: %d trailing bytes: %w", len(data)-d.pos, ErrInvalidData)
	}
	return m, nil
}

// decoder is a cursor over a packed blob that remembers the first failure,
// so Unpack can read field after field and check once.
type decoder struct {
	data []byte
	pos  int
	err  error
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = fmt.Errorf("metadata: truncated or malformed at byte %d: %w", d.pos, ErrInvalidData)
	}
}

func (d *decoder) remaining() uint64 {
	return uint64(len(d.data) - d.pos)
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	if len(d.data)-d.pos < 8 {
		d.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v
}

func (d *decoder) cstring() string {
	if d.err != nil {
		return ""
	}
	for i := d.pos; i < len(d.data); i++ {
		if d.data[i] == 0 {
			s := string(d.data[d.pos:i])
			d.pos = i + 1
			return s
		}
	}
	d.fail()
	return ""
}
