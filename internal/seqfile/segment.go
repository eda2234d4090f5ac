package seqfile

import (
	"kmer.lopezb.com/internal/kmer"
	"kmer.lopezb.com/internal/metadata"
)

// Segments returns the maximal ACGT-only runs of s, within [from, to), that
// are at least minLen bases long. Any other character (N, IUPAC codes, gaps)
// ends a run.
func Segments(s []byte, from, to, minLen int) []metadata.Range {
	if minLen < 1 {
		minLen = 1
	}
	if to > len(s) {
		to = len(s)
	}
	var out []metadata.Range
	start := -1
	for i := from; i < to; i++ {
		if kmer.IsBase(s[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minLen {
			out = append(out, metadata.Range{Start: uint64(start), End: uint64(i)})
		}
		start = -1
	}
	if start >= 0 && to-start >= minLen {
		out = append(out, metadata.Range{Start: uint64(start), End: uint64(to)})
	}
	return out
}

const (
	// PhredOffset is the quality character offset of Sanger-style FASTQ.
	PhredOffset = 33

	// MaxPhred is the highest score a printable quality character holds.
	MaxPhred = '~' - PhredOffset
)

// QualityClip returns the bounds left after trimming bases whose quality is
// below minQual from both ends of qual. A record without qualities, or a
// minQual of zero, keeps its full length n. A minQual above MaxPhred acts as
// MaxPhred.
func QualityClip(qual []byte, n, minQual int) (from, to int) {
	if minQual <= 0 || len(qual) == 0 {
		return 0, n
	}
	minQual = min(minQual, MaxPhred)
	if len(qual) < n {
		n = len(qual)
	}
	threshold := byte(minQual + PhredOffset)
	from, to = 0, n
	for from < to && qual[from] < threshold {
		from++
	}
	for to > from && qual[to-1] < threshold {
		to--
	}
	return from, to
}
