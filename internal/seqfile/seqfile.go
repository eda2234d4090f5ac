// Package seqfile reads FASTA and FASTQ files, plain or compressed, and cuts
// their sequences into the ACGT-only ranges the kmer tables are built from.
//
// Parsing and decompression are delegated to shenwei356/bio's fastx reader,
// which recognises gzip, bzip2, xz and zstd input by content and decodes it
// in-process. This package adds what the tables need on top: record names
// trimmed to the ID, validation warnings, segmentation and quality clipping.
package seqfile

import (
	"io"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/shenwei356/bio/seq"
	"github.com/shenwei356/bio/seqio/fastx"

	"kmer.lopezb.com/internal/metadata"
)

func init() {
	// Non-ACGT characters are handled by Segments, not rejected on read.
	seq.ValidateSeq = false
}

// Record is one sequence record. The slices are owned by the record and stay
// valid after the next call to Read.
type Record struct {
	Name string
	Seq  []byte
	Qual []byte
}

// Reader streams the records of one file.
type Reader struct {
	path   string
	r      *fastx.Reader
	logger *slog.Logger

	seen   map[string]struct{}
	record int
}

// Open opens path for reading. "-" reads standard input.
func Open(path string, logger *slog.Logger) (*Reader, error) {
	r, err := fastx.NewReader(nil, path, "")
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reader{
		path:   path,
		r:      r,
		logger: logger,
		seen:   make(map[string]struct{}),
	}, nil
}

// Read returns the next record, or io.EOF after the last one.
//
// A quality line of a different length than its sequence and a read name
// seen earlier in the same file are logged as warnings; the record is still
// returned.
func (r *Reader) Read() (*Record, error) {
	rec, err := r.r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrapf(err, "%s: record %d", r.path, r.record+1)
	}
	r.record++

	out := &Record{
		Name: string(rec.ID),
		Seq:  append([]byte(nil), rec.Seq.Seq...),
	}
	// The fastx reader keeps its quality buffer between files, so a FASTA
	// record can still carry the last FASTQ qualities.
	if r.r.IsFastq && len(rec.Seq.Qual) > 0 {
		out.Qual = append([]byte(nil), rec.Seq.Qual...)
		if len(out.Qual) != len(out.Seq) {
			r.logger.Warn("quality length differs from sequence length",
				"file", r.path, "read", out.Name, "seq", len(out.Seq), "qual", len(out.Qual))
		}
	}
	if _, dup := r.seen[out.Name]; dup {
		r.logger.Warn("duplicate read name", "file", r.path, "read", out.Name)
	} else {
		r.seen[out.Name] = struct{}{}
	}
	return out, nil
}

// Next implements metadata.Source.
func (r *Reader) Next() (string, []byte, error) {
	rec, err := r.Read()
	if err != nil {
		return "", nil, err
	}
	return rec.Name, rec.Seq, nil
}

// Records returns the number of records read so far.
func (r *Reader) Records() int { return r.record }

// Close releases the file.
func (r *Reader) Close() error {
	r.r.Close()
	return nil
}

// Opener returns a metadata.Opener reading files with this package.
func Opener(logger *slog.Logger) metadata.Opener {
	return func(name string) (metadata.Source, error) {
		return Open(name, logger)
	}
}
