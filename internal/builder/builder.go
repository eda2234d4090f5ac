// Package builder turns sequence files into a counting hash.
//
// A build makes two passes over the input:
//
//  1. Scan every file once and record, per read, the ACGT-only ranges that
//     survive the read policy (name filters, quality clipping, length floor).
//     This yields the metadata tree and the exact sequence length.
//  2. Allocate the packed sequence, fill it with metadata.ReadData, and walk
//     every range with a sliding window, counting each kmer in its
//     canonical orientation. Windows never cross a range boundary.
package builder

import (
	"io"
	"log/slog"
	"regexp"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"kmer.lopezb.com/internal/distinct"
	"kmer.lopezb.com/internal/hashl"
	"kmer.lopezb.com/internal/kmer"
	"kmer.lopezb.com/internal/metadata"
	"kmer.lopezb.com/internal/seqfile"
)

// ErrStdin is returned by Build for "-": a build reads every file twice.
var ErrStdin = errors.New("builder: cannot build from standard input")

// Options configures a build.
type Options struct {
	// K is the kmer length.
	K int

	// MinReadLength skips reads shorter than this after quality clipping.
	MinReadLength int

	// MinQuality trims bases below this Phred score from both read ends.
	// Zero disables clipping.
	MinQuality int

	// Include keeps only reads whose name matches; Exclude drops reads whose
	// name matches. Either may be nil.
	Include *regexp.Regexp
	Exclude *regexp.Regexp

	// MinFreq and MaxFreq normalize the finished hash when MaxFreq > 0.
	MinFreq uint64
	MaxFreq uint64

	// Hash configures the counting hash. K is taken from Options.K, and a
	// zero SizeHint is derived from the number of kmer windows.
	Hash hashl.Config

	// EstimateSize derives a zero SizeHint from a distinct kmer estimate
	// instead, at the cost of one more walk over the sequence.
	EstimateSize bool

	Logger *slog.Logger

	// OnFile, when set, is called after each file of the scan pass.
	OnFile func(path string, reads int)
}

func (o *Options) logger() *slog.Logger {
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o.Logger
}

// Scan runs the first pass: it records the usable ranges of every read that
// passes the read policy.
func Scan(paths []string, opt Options) (*metadata.Metadata, error) {
	logger := opt.logger()
	meta := metadata.New()

	for _, path := range paths {
		r, err := seqfile.Open(path, logger)
		if err != nil {
			return nil, err
		}
		f := meta.AddFile(path)
		var kept, skipped int

		for {
			rec, err := r.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = r.Close()
				return nil, err
			}

			if !opt.keepName(rec.Name) {
				skipped++
				continue
			}
			from, to := seqfile.QualityClip(rec.Qual, len(rec.Seq), opt.MinQuality)
			if to-from < opt.MinReadLength || to-from < opt.K {
				skipped++
				continue
			}
			ranges := seqfile.Segments(rec.Seq, from, to, opt.K)
			if len(ranges) == 0 {
				skipped++
				continue
			}
			meta.AddRecord(f, r.Records(), rec.Name, ranges)
			kept++
		}
		_ = r.Close()

		logger.Debug("scanned file", "file", path, "reads", kept, "skipped", skipped)
		if opt.OnFile != nil {
			opt.OnFile(path, kept)
		}
	}
	return meta, nil
}

func (o *Options) keepName(name string) bool {
	if o.Include != nil && !o.Include.MatchString(name) {
		return false
	}
	if o.Exclude != nil && o.Exclude.MatchString(name) {
		return false
	}
	return true
}

// Build reads paths and returns the counting hash of their kmers.
func Build(paths []string, opt Options) (*hashl.Hash, error) {
	logger := opt.logger()
	if opt.K < 1 {
		return nil, errors.Wrapf(hashl.ErrKmerLength, "k=%d", opt.K)
	}
	for _, path := range paths {
		if path == "-" {
			return nil, ErrStdin
		}
	}

	meta, err := Scan(paths, opt)
	if err != nil {
		return nil, err
	}

	seq := kmer.NewSequence(meta.SequenceLength())
	if err := meta.ReadData(seq, seqfile.Opener(logger)); err != nil {
		return nil, errors.Wrap(err, "reading sequence data")
	}
	reads, ranges := meta.TotalReads()
	logger.Info("loaded sequence",
		"reads", humanize.Comma(int64(reads)),
		"ranges", humanize.Comma(int64(ranges)),
		"bases", humanize.Comma(int64(seq.Len())))

	cfg := opt.Hash
	cfg.K = opt.K
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if cfg.SizeHint == 0 {
		cfg.SizeHint = meta.MaxKmers(opt.K) + 1
		if opt.EstimateSize {
			sk, err := Estimate(meta, seq, opt.K)
			if err != nil {
				return nil, err
			}
			// A quarter of headroom keeps the load near 80% and far above
			// the sketch's error. Never above the window count.
			est := sk.Count()
			if hint := est + est/4 + 1; hint < cfg.SizeHint {
				cfg.SizeHint = hint
			}
			logger.Info("estimated distinct kmers",
				"estimate", humanize.Comma(int64(est)),
				"windows", humanize.Comma(int64(sk.Added())),
				"size_hint", humanize.Comma(int64(cfg.SizeHint)))
		}
	}
	h, err := hashl.NewWithSequence(cfg, seq, meta)
	if err != nil {
		return nil, err
	}

	if err := Count(h); err != nil {
		_ = h.Close()
		return nil, err
	}
	if h.Spilled() {
		if err := h.Consolidate(); err != nil {
			_ = h.Close()
			return nil, errors.Wrap(err, "consolidating spill files")
		}
	}
	if opt.MaxFreq > 0 {
		if err := h.Normalize(opt.MinFreq, opt.MaxFreq); err != nil {
			_ = h.Close()
			return nil, err
		}
	}

	logger.Info("built hash",
		"k", opt.K,
		"kmers", humanize.Comma(int64(h.Used())),
		"slots", humanize.Comma(int64(h.Modulus())))
	return h, nil
}

// Estimate sketches the canonical kmers of every range described by meta.
func Estimate(meta *metadata.Metadata, seq *kmer.Sequence, k int) (*distinct.Sketch, error) {
	sk := distinct.New()
	err := Walk(meta, seq, k, func(w *kmer.Window, _ uint64, _ int) error {
		sk.Add(w.Canonical())
		return nil
	})
	return sk, err
}

// Count increments h once for every kmer window of its own sequence.
//
// With alt counters, alt counter i also counts the windows of the i-th input
// file, so it tells which read sets hold a kmer. Files past the last alt
// counter only reach the primary count.
func Count(h *hashl.Hash) error {
	if h.AltSize() == 0 {
		return Walk(h.Metadata(), h.Sequence(), h.K(), func(w *kmer.Window, offset uint64, _ int) error {
			return h.IncrementKmer(w.Fwd, w.RC, offset)
		})
	}
	files := readFiles(h.Metadata())
	return Walk(h.Metadata(), h.Sequence(), h.K(), func(w *kmer.Window, offset uint64, read int) error {
		return h.IncrementAlt(w.Fwd, w.RC, offset, uint64(1)<<uint(files[read]))
	})
}

// readFiles maps every read ordinal, as Walk numbers them, to the ordinal
// of its input file. Padding entries are neither reads nor files.
func readFiles(meta *metadata.Metadata) []int {
	var out []int
	file := 0
	for fi, f := range meta.Files {
		if meta.IsPadding(fi) {
			continue
		}
		for range f.Reads {
			out = append(out, file)
		}
		file++
	}
	return out
}

// Walk calls fn for every complete kmer window of every range described by
// meta, with the bit offset of the window's first base and the ordinal of
// the read holding it. Padding entries are skipped and do not take a read
// ordinal.
func Walk(meta *metadata.Metadata, seq *kmer.Sequence, k int, fn func(w *kmer.Window, offset uint64, read int) error) error {
	w := kmer.NewWindow(k)
	var pos uint64 // base index into seq
	read := 0
	for fi, f := range meta.Files {
		padding := meta.IsPadding(fi)
		for _, r := range f.Reads {
			for _, rg := range r.Ranges {
				n := rg.Len()
				if padding {
					pos += n
					continue
				}
				w.Reset()
				for i := uint64(0); i < n; i++ {
					if !w.Push(seq.Base(pos + i)) {
						continue
					}
					start := pos + i + 1 - uint64(k)
					if err := fn(w, 2*start, read); err != nil {
						return err
					}
				}
				pos += n
			}
			if !padding {
				read++
			}
		}
	}
	return nil
}
