package main

import (
	"bufio"
	"context"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"kmer.lopezb.com/internal/config"
	"kmer.lopezb.com/internal/hits"
	"kmer.lopezb.com/internal/indexhash"
	"kmer.lopezb.com/internal/seqfile"
)

func findCommand(g *globals) *cobra.Command {
	var (
		indexPath string
		output    string
		workers   int
		lower     uint64
		upper     uint64
		top       int
	)
	cmd := &cobra.Command{
		Use:   "find [flags] queries...",
		Short: "Find the reference reads sharing kmers with each query",
		Long: `Match every read of the query files against an index built by "kmer index".

Each query window is looked up in both orientations; a reference read gains
one hit per window it contains. Kmers listed for more than --upper reads are
skipped, and reads with fewer than --lower hits are not reported. Output is
tab-separated query, reference read and hit count, best hits first.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.load(cmd, func(c *config.Config, changed func(string) bool) {
				if changed("workers") {
					c.Find.Workers = workers
				}
				if changed("lower") {
					c.Find.Lower = lower
				}
				if changed("upper") {
					c.Find.Upper = upper
				}
			})
			if err != nil {
				return err
			}
			logger := g.logger()
			idx, err := indexhash.Load(indexPath)
			if err != nil {
				return err
			}

			out := g.stdout
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			w := bufio.NewWriter(out)
			_, _ = w.WriteString(hits.TableHeader)

			var line []byte
			emit := func(r hits.Result) error {
				line = hits.AppendResult(line[:0], idx, r, top)
				_, err := w.Write(line)
				return err
			}

			opt := c.PipelineOptions(logger)
			bar := g.startProgress("queries:", 0)
			opt.OnBlock = bar.add
			var total hits.Summary
			for _, path := range args {
				r, err := seqfile.Open(path, logger)
				if err != nil {
					bar.done()
					return err
				}
				sum, err := hits.Find(context.Background(), idx, r, opt, emit)
				r.Close()
				if err != nil {
					bar.done()
					return errors.Wrap(err, path)
				}
				total.Queries += sum.Queries
				total.Matched += sum.Matched
			}
			bar.done()
			if err := w.Flush(); err != nil {
				return err
			}
			logger.Info("find finished",
				"queries", humanize.Comma(int64(total.Queries)),
				"matched", humanize.Comma(int64(total.Matched)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&indexPath, "index", "i", "", "Index built by kmer index")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "Matching goroutines (default: all CPUs)")
	cmd.Flags().Uint64Var(&lower, "lower", 1, "Fewest hits a read needs to be reported")
	cmd.Flags().Uint64Var(&upper, "upper", 0, "Skip kmers listed for more reads, zero keeps all")
	cmd.Flags().IntVar(&top, "top", 0, "Report at most this many reads per query, zero for all")
	_ = cmd.MarkFlagRequired("index")
	return cmd
}
