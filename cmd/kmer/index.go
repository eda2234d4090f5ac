package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"kmer.lopezb.com/internal/config"
	"kmer.lopezb.com/internal/hashl"
	"kmer.lopezb.com/internal/indexhash"
)

func indexCommand(g *globals) *cobra.Command {
	var (
		output       string
		maxKmerCount uint64
	)
	cmd := &cobra.Command{
		Use:   "index [flags] hash",
		Short: "Index the reads of a saved hash by kmer",
		Long: `Build a kmer to read index from a hash saved by "kmer count".

The hash supplies the reference sequence and the kmer counts; k must be at
most 32. Kmers counted more than --max-kmer-count times are left out of the
index. Next to the index an .info.toml file describes it.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.load(cmd, func(c *config.Config, changed func(string) bool) {
				if changed("max-kmer-count") {
					c.Find.MaxKmerCount = maxKmerCount
				}
			})
			if err != nil {
				return err
			}
			logger := g.logger()
			cfg := c.HashConfig(logger)
			cfg.K = 0
			h, err := hashl.Load(args[0], cfg)
			if err != nil {
				return err
			}
			defer h.Close()
			if h.K() > indexhash.MaxK {
				return errors.Wrapf(indexhash.ErrKmerTooLong, "%s: k=%d", args[0], h.K())
			}

			idx, err := indexhash.Build(h, c.IndexOptions(logger))
			if err != nil {
				return err
			}
			if err := idx.Save(output); err != nil {
				return errors.Wrap(err, "saving index")
			}
			fmt.Fprintf(g.stdout, "%s: %s kmers, %s read entries, %d reads\n",
				output, humanize.Comma(int64(idx.Kmers())), humanize.Comma(int64(idx.Pairs())), idx.Reads())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output index file")
	cmd.Flags().Uint64Var(&maxKmerCount, "max-kmer-count", 0, "Leave out kmers counted more often, zero keeps all")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
