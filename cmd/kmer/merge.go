package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"kmer.lopezb.com/internal/config"
	"kmer.lopezb.com/internal/hashl"
)

func mergeCommand(g *globals) *cobra.Command {
	var (
		output  string
		minFreq uint64
		maxFreq uint64
	)
	cmd := &cobra.Command{
		Use:   "merge [flags] hashes...",
		Short: "Merge saved hashes into a presence table",
		Long: `Merge saved hashes into one table of per-kmer presence counts.

The first hash is normalized to the [min-freq, max-freq] window, then every
other hash is added through the same window: a kmer inside the window adds
one, a kmer above it becomes invalid. The result counts, for each kmer, the
number of inputs holding it. Without --max-freq every count of at least
min-freq (default 1) is inside the window.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.load(cmd, func(c *config.Config, changed func(string) bool) {
				if changed("min-freq") {
					c.Hash.MinFrequency = minFreq
				}
				if changed("max-freq") {
					c.Hash.MaxFrequency = maxFreq
				}
			})
			if err != nil {
				return err
			}
			lo, hi := mergeWindow(c)
			logger := g.logger()
			cfg := c.HashConfig(logger)
			cfg.K = 0

			h, err := hashl.Load(args[0], cfg)
			if err != nil {
				return err
			}
			defer h.Close()
			if err := h.Normalize(lo, hi); err != nil {
				return err
			}

			bar := g.startProgress("hashes:", int64(len(args)))
			bar.add(1)
			for _, path := range args[1:] {
				o, err := hashl.Load(path, cfg)
				if err != nil {
					return err
				}
				if err := addInto(h, o, lo, hi); err != nil {
					o.Close()
					return errors.Wrap(err, path)
				}
				o.Close()
				bar.add(1)
				logger.Debug("merged hash", "file", path, "kmers", h.Used())
			}
			bar.done()

			if err := h.Save(output); err != nil {
				return errors.Wrap(err, "saving hash")
			}
			fmt.Fprintf(g.stdout, "%s: %s distinct kmers from %d hashes\n",
				output, humanize.Comma(int64(h.Used())), len(args))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file")
	cmd.Flags().Uint64Var(&minFreq, "min-freq", 0, "Lowest count inside the window")
	cmd.Flags().Uint64Var(&maxFreq, "max-freq", 0, "Highest count inside the window, zero for no limit")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

// mergeWindow returns the normalize and add window for c.
func mergeWindow(c *config.Config) (lo, hi uint64) {
	lo, hi = c.Hash.MinFrequency, c.Hash.MaxFrequency
	if lo == 0 {
		lo = 1
	}
	if hi == 0 {
		hi = hashl.Invalid - 1
	}
	return lo, hi
}

// addInto adds o to h, first growing h so that every kmer of o would fit.
func addInto(h, o *hashl.Hash, lo, hi uint64) error {
	if need := h.Used() + o.Used(); need >= h.Modulus() {
		if err := h.Resize(need + need/4); err != nil {
			return err
		}
	}
	return h.Add(o, lo, hi)
}
