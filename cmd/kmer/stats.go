package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/twotwotwo/sorts/sortutil"

	"kmer.lopezb.com/internal/hashl"
)

// summary is what stats reports about a hash.
type summary struct {
	K        int
	Slots    uint64
	Distinct uint64
	Total    uint64
	Invalid  uint64
	Median   uint64
	Max      uint64

	counts []uint64 // distinct count values, ascending
	hist   map[uint64]uint64
}

func summarize(h *hashl.Hash) (*summary, error) {
	hist, invalid, err := h.Histogram()
	if err != nil {
		return nil, err
	}
	s := &summary{K: h.K(), Slots: h.Modulus(), Invalid: invalid, hist: hist}
	for v, n := range hist {
		s.counts = append(s.counts, v)
		s.Distinct += n
		s.Total += v * n
	}
	sortutil.Uint64s(s.counts)
	if len(s.counts) > 0 {
		s.Max = s.counts[len(s.counts)-1]
	}
	s.Median = s.percentile(0.5)
	return s, nil
}

// percentile returns the count at or below which a fraction p of the
// distinct valid kmers fall.
func (s *summary) percentile(p float64) uint64 {
	target := uint64(p * float64(s.Distinct))
	if target == 0 {
		target = 1
	}
	var seen uint64
	for _, v := range s.counts {
		seen += s.hist[v]
		if seen >= target {
			return v
		}
	}
	return 0
}

func statsCommand(g *globals) *cobra.Command {
	var histogram bool
	cmd := &cobra.Command{
		Use:   "stats [flags] hashes...",
		Short: "Summarize saved hashes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.load(cmd, nil)
			if err != nil {
				return err
			}
			cfg := c.HashConfig(g.logger())
			cfg.K = 0
			for _, path := range args {
				h, err := hashl.Load(path, cfg)
				if err != nil {
					return err
				}
				s, err := summarize(h)
				h.Close()
				if err != nil {
					return err
				}

				out := g.stdout
				fmt.Fprintf(out, "file\t%s\n", path)
				fmt.Fprintf(out, "k\t%d\n", s.K)
				fmt.Fprintf(out, "slots\t%s\n", humanize.Comma(int64(s.Slots)))
				fmt.Fprintf(out, "distinct\t%s\n", humanize.Comma(int64(s.Distinct)))
				fmt.Fprintf(out, "total\t%s\n", humanize.Comma(int64(s.Total)))
				fmt.Fprintf(out, "invalid\t%s\n", humanize.Comma(int64(s.Invalid)))
				fmt.Fprintf(out, "median\t%d\n", s.Median)
				fmt.Fprintf(out, "p90\t%d\n", s.percentile(0.9))
				fmt.Fprintf(out, "max\t%d\n", s.Max)
				if histogram {
					for _, v := range s.counts {
						fmt.Fprintf(out, "count\t%d\t%d\n", v, s.hist[v])
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&histogram, "histogram", false, "Also print kmers per count")
	return cmd
}
