// Package hits matches query sequences against a kmer index and tallies,
// per reference read, how many query windows it shares.
//
// Counting rule
// =============
//
// A query is walked with a k-base window, reset at every non-ACGT byte. Each
// window is looked up in canonical form, which covers both strands of the
// query at once. Every reference read listed for the window gains one hit:
//
//	query    ACGT        windows ACG, CGT  (both canonical ACG)
//	index    ACG -> [0]
//	hits     read 0: 2
//
// Kmers listed for more than the upper threshold of reads are skipped, and
// reads with fewer hits than the lower threshold are not reported. Hits of a
// query keep the order in which their reads were first matched.
package hits

import (
	"errors"
	"fmt"

	"kmer.lopezb.com/internal/indexhash"
	"kmer.lopezb.com/internal/kmer"
)

// ErrThreshold is returned for a lower threshold of zero or an upper
// threshold below it.
var ErrThreshold = errors.New("hits: invalid thresholds")

// Thresholds filter a query's hits.
type Thresholds struct {
	// Lower is the fewest hits a read needs to be reported.
	Lower uint64

	// Upper skips kmers listed for more than Upper reads. Zero keeps every
	// kmer.
	Upper uint64
}

// DefaultThresholds reports every read matched at least once.
func DefaultThresholds() Thresholds {
	return Thresholds{Lower: 1}
}

// Validate checks the threshold pair.
func (t Thresholds) Validate() error {
	if t.Lower == 0 {
		return fmt.Errorf("%w: lower must be at least 1", ErrThreshold)
	}
	if t.Upper > 0 && t.Upper < t.Lower {
		return fmt.Errorf("%w: upper %d below lower %d", ErrThreshold, t.Upper, t.Lower)
	}
	return nil
}

// tally accumulates hits for one query. It is reused across queries by a
// single goroutine.
type tally struct {
	counts map[uint32]uint64
	order  []uint32
	window *kmer.Window
}

func newTally(k int) *tally {
	return &tally{counts: make(map[uint32]uint64), window: kmer.NewWindow(k)}
}

func (t *tally) reset() {
	clear(t.counts)
	t.order = t.order[:0]
}

// scan adds the hits of seq against idx.
func (t *tally) scan(idx *indexhash.Index, seq []byte, upper uint64) {
	w := t.window
	w.Reset()
	for _, c := range seq {
		b, ok := kmer.Encode(c)
		if !ok {
			w.Reset()
			continue
		}
		if !w.Push(b) {
			continue
		}
		reads := idx.LookupCanonical(w.Canonical().Uint64())
		if len(reads) == 0 || (upper > 0 && uint64(len(reads)) > upper) {
			continue
		}
		for _, id := range reads {
			n, seen := t.counts[id]
			if !seen {
				t.order = append(t.order, id)
			}
			t.counts[id] = n + 1
		}
	}
}

// hits returns the reads with at least lower hits, in first-match order.
func (t *tally) hits(lower uint64) []Hit {
	var out []Hit
	for _, id := range t.order {
		if n := t.counts[id]; n >= lower {
			out = append(out, Hit{Read: id, Count: n})
		}
	}
	return out
}

// Match returns the hits of one query sequence against idx.
func Match(idx *indexhash.Index, seq []byte, th Thresholds) []Hit {
	t := newTally(idx.K())
	t.scan(idx, seq, th.Upper)
	return t.hits(th.Lower)
}
