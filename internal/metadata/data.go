package metadata

import (
	"errors"
	"fmt"
	"io"

	"kmer.lopezb.com/internal/kmer"
)

// Source yields the records of one sequence file in file order. Next
// returns io.EOF after the last record.
type Source interface {
	Next() (name string, seq []byte, err error)
	Close() error
}

// Opener opens a recorded file by name.
type Opener func(name string) (Source, error)

// ReadData appends the bases of every recorded range to out, in tree order,
// opening each file once. Padding entries are appended as runs of A.
//
// Files are matched read by read. A read with a record position is taken
// from exactly that record, whose name must still match; a read without one
// is the next record carrying its name. Records that were skipped when the
// tree was built are skipped again here.
func (m *Metadata) ReadData(out *kmer.Sequence, open Opener) error {
	start := out.Len()
	out.Grow(m.SequenceLength())

	for fi, f := range m.Files {
		if m.IsPadding(fi) {
			for _, r := range f.Reads {
				for _, rg := range r.Ranges {
					out.AppendZeros(rg.Len())
				}
			}
			continue
		}
		if err := readFile(out, f, open); err != nil {
			return err
		}
	}

	if got, want := out.Len()-start, m.SequenceLength(); got != want {
		return fmt.Errorf("metadata: read %d bases, expected %d: %w", got, want, ErrSizeMismatch)
	}
	return nil
}

func readFile(out *kmer.Sequence, f File, open Opener) error {
	if len(f.Reads) == 0 {
		return nil
	}
	src, err := open(f.Name)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	var pos int // records consumed so far
	for _, r := range f.Reads {
		var seq []byte
		if r.Record > 0 {
			seq, err = skipTo(src, &pos, r.Record, r.Name)
		} else {
			seq, err = seek(src, &pos, r.Name)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("metadata: %s: read %q: %w", f.Name, r.Name, ErrMissingRead)
			}
			return err
		}
		for _, rg := range r.Ranges {
			if rg.End > uint64(len(seq)) {
				return fmt.Errorf("metadata: %s: read %q: range [%d, %d) past length %d: %w",
					f.Name, r.Name, rg.Start, rg.End, len(seq), ErrSizeMismatch)
			}
			if _, err := out.AppendString(seq[rg.Start:rg.End]); err != nil {
				return fmt.Errorf("metadata: %s: read %q: %w", f.Name, r.Name, ErrInvalidBase)
			}
		}
	}
	return nil
}

func seek(src Source, pos *int, name string) ([]byte, error) {
	for {
		got, seq, err := src.Next()
		if err != nil {
			return nil, err
		}
		*pos++
		if got == name {
			return seq, nil
		}
	}
}

// skipTo advances src to its record-th record.
func skipTo(src Source, pos *int, record int, name string) ([]byte, error) {
	if record <= *pos {
		return nil, fmt.Errorf("metadata: read %q: record %d out of order: %w", name, record, ErrMissingRead)
	}
	for {
		got, seq, err := src.Next()
		if err != nil {
			return nil, err
		}
		*pos++
		if *pos < record {
			continue
		}
		if got != name {
			return nil, fmt.Errorf("metadata: record %d is %q, expected %q: %w", record, got, name, ErrMissingRead)
		}
		return seq, nil
	}
}
