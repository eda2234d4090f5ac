package hits

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"strconv"

	"kmer.lopezb.com/internal/indexhash"
)

// Result is the outcome of one query.
type Result struct {
	Query string
	Hits  []Hit
}

// Aggregator is an interactive query session over an index. It owns no
// index state; several aggregators may share one index.
//
// An Aggregator is not safe for concurrent use.
type Aggregator struct {
	idx     *indexhash.Index
	th      Thresholds
	tally   *tally
	results []Result
	logger  *slog.Logger
}

// NewAggregator starts a session with the default thresholds.
func NewAggregator(idx *indexhash.Index, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Aggregator{
		idx:    idx,
		th:     DefaultThresholds(),
		tally:  newTally(idx.K()),
		logger: logger,
	}
}

// Index returns the index queries run against.
func (a *Aggregator) Index() *indexhash.Index { return a.idx }

// SetThresholds replaces the thresholds used by later queries.
func (a *Aggregator) SetThresholds(lower, upper uint64) error {
	th := Thresholds{Lower: lower, Upper: upper}
	if err := th.Validate(); err != nil {
		return err
	}
	a.th = th
	return nil
}

// Thresholds returns the current thresholds.
func (a *Aggregator) Thresholds() Thresholds { return a.th }

// Query matches seq against the index and records the result under name.
func (a *Aggregator) Query(name string, seq []byte) Result {
	a.tally.reset()
	a.tally.scan(a.idx, seq, a.th.Upper)
	r := Result{Query: name, Hits: a.tally.hits(a.th.Lower)}
	a.results = append(a.results, r)
	a.logger.Debug("query", "name", name, "length", len(seq), "reads", len(r.Hits))
	return r
}

// Results returns every result recorded since the last Reset.
func (a *Aggregator) Results() []Result { return a.results }

// Reset drops the recorded results. Thresholds are kept.
func (a *Aggregator) Reset() {
	a.results = nil
}

// WriteTable writes the recorded results as tab-separated query, read and
// hit count lines, best hits first within a query. top limits the lines per
// query; top <= 0 writes every hit.
func (a *Aggregator) WriteTable(w io.Writer, top int) error {
	return WriteTable(w, a.idx, a.results, top)
}

// Save writes the full hit table to path through a temporary file.
func (a *Aggregator) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := a.WriteTable(f, 0); err != nil {
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
	a.logger.Info("saved hits", "file", path, "queries", len(a.results))
	return os.Rename(tmp, path)
}

// TableHeader starts every hit table.
const TableHeader = "#query\tread\thits\n"

// WriteTable writes results in the Aggregator.WriteTable format.
func WriteTable(w io.Writer, idx *indexhash.Index, results []Result, top int) error {
	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString(TableHeader)
	var line []byte
	for _, r := range results {
		line = AppendResult(line[:0], idx, r, top)
		_, _ = bw.Write(line)
	}
	return bw.Flush()
}

// AppendResult appends the table lines of r to dst, best hits first, at most
// top of them when top > 0.
func AppendResult(dst []byte, idx *indexhash.Index, r Result, top int) []byte {
	for _, h := range Top(r.Hits, top) {
		dst = append(dst, r.Query...)
		dst = append(dst, '\t')
		dst = append(dst, idx.ReadName(h.Read)...)
		dst = append(dst, '\t')
		dst = strconv.AppendUint(dst, h.Count, 10)
		dst = append(dst, '\n')
	}
	return dst
}
