package main

import (
	"bufio"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"kmer.lopezb.com/internal/config"
	"kmer.lopezb.com/internal/hashl"
	"kmer.lopezb.com/internal/kmer"
)

func xrefCommand(g *globals) *cobra.Command {
	var (
		sharing  int
		refCount int
	)
	cmd := &cobra.Command{
		Use:   "xref [flags] target reference",
		Short: "Report target kmers shared by few references",
		Long: `Cross-reference a target hash against a reference hash built by "kmer merge".

A kmer of the target is reported when at most --sharing references hold it;
kmers absent from the reference count as held by none. A negative --sharing
means "all but N" of the --ref-count merged references. Output is
tab-separated kmer, target count and reference count.
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.load(cmd, func(c *config.Config, changed func(string) bool) {
				if changed("sharing") {
					c.Hash.MaxKmerSharing = sharing
				}
			})
			if err != nil {
				return err
			}
			if c.Hash.MaxKmerSharing < 0 && refCount <= 0 {
				return errors.New("a negative --sharing needs --ref-count")
			}
			cfg := c.HashConfig(g.logger())
			cfg.K = 0
			target, err := hashl.Load(args[0], cfg)
			if err != nil {
				return err
			}
			defer target.Close()
			ref, err := hashl.Load(args[1], cfg)
			if err != nil {
				return err
			}
			defer ref.Close()

			w := bufio.NewWriter(g.stdout)
			var line []byte
			err = hashl.CrossReference(target, ref, c.Hash.MaxKmerSharing, refCount, func(key *kmer.Key, count, refs uint64) error {
				line = append(line[:0], key.String()...)
				line = append(line, '\t')
				if count == hashl.Invalid {
					line = append(line, "invalid"...)
				} else {
					line = strconv.AppendUint(line, count, 10)
				}
				line = append(line, '\t')
				line = strconv.AppendUint(line, refs, 10)
				line = append(line, '\n')
				_, err := w.Write(line)
				return err
			})
			if err != nil {
				return err
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&sharing, "sharing", 0, "Most references a reported kmer may be in, negative for all but N")
	cmd.Flags().IntVar(&refCount, "ref-count", 0, "Number of hashes merged into the reference")
	return cmd
}
