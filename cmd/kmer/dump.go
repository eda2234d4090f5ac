package main

import (
	"bufio"
	"strconv"

	"github.com/spf13/cobra"

	"kmer.lopezb.com/internal/hashl"
)

func dumpCommand(g *globals) *cobra.Command {
	var (
		minCount uint64
		invalid  bool
	)
	cmd := &cobra.Command{
		Use:   "dump [flags] hash",
		Short: "Print every kmer of a saved hash with its count",
		Long: `Print every kmer of a saved hash with its count, one tab-separated line
per kmer, in table order. Invalid kmers print "invalid" as their count and are
skipped unless --invalid is given.
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.load(cmd, nil)
			if err != nil {
				return err
			}
			cfg := c.HashConfig(g.logger())
			cfg.K = 0
			h, err := hashl.Load(args[0], cfg)
			if err != nil {
				return err
			}
			defer h.Close()

			w := bufio.NewWriter(g.stdout)
			it := h.Iterator()
			defer it.Close()
			var line []byte
			for it.Next() {
				v := it.Value()
				if v == hashl.Invalid && !invalid {
					continue
				}
				if v != hashl.Invalid && v < minCount {
					continue
				}
				line = append(line[:0], it.Key().String()...)
				line = append(line, '\t')
				if v == hashl.Invalid {
					line = append(line, "invalid"...)
				} else {
					line = strconv.AppendUint(line, v, 10)
				}
				line = append(line, '\n')
				if _, err := w.Write(line); err != nil {
					return err
				}
			}
			if err := it.Err(); err != nil {
				return err
			}
			return w.Flush()
		},
	}
	cmd.Flags().Uint64Var(&minCount, "min-count", 0, "Skip kmers counted fewer times")
	cmd.Flags().BoolVar(&invalid, "invalid", false, "Print invalid kmers too")
	return cmd
}
