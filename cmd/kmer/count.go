package main

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"kmer.lopezb.com/internal/builder"
	"kmer.lopezb.com/internal/config"
)

// hashFlags are the table options count and merge share.
type hashFlags struct {
	k           int
	memory      string
	noSpace     string
	tmpPrefix   string
	minFreq     uint64
	maxFreq     uint64
	minLoad     float64
	maxLoad     float64
	altCounters int
	noOverflow  bool
	estimate    bool
	minLength   int
	minQuality  int
	include     string
	exclude     string
	outputPath  string
}

func (f *hashFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.IntVarP(&f.k, "mer-length", "k", 25, "Bases per kmer")
	fs.StringVar(&f.memory, "memory", "", "Table budget, e.g. 2GB (default: sized from the input)")
	fs.StringVar(&f.noSpace, "no-space", "none", "When the table is full: clean, tmp, clean,tmp or none")
	fs.StringVar(&f.tmpPrefix, "tmp-prefix", "", "Directory or prefix for spill files")
	fs.Uint64Var(&f.minFreq, "min-freq", 0, "Lowest count kept by normalization")
	fs.Uint64Var(&f.maxFreq, "max-freq", 0, "Highest count kept by normalization, zero disables")
	fs.Float64Var(&f.minLoad, "min-load", 0, "Shrink below this load factor after cleaning")
	fs.Float64Var(&f.maxLoad, "max-load", 0, "Grow above this load factor, instead of --no-space and --memory")
	fs.IntVar(&f.altCounters, "alt-counters", 0, "Alt counters per kmer, counter i tallies the i-th input file")
	fs.BoolVar(&f.noOverflow, "no-overflow", false, "Saturate counts at 255")
	fs.BoolVar(&f.estimate, "estimate-size", false, "Size the table from a distinct kmer estimate")
	fs.IntVar(&f.minLength, "min-length", 0, "Skip reads shorter than this")
	fs.IntVar(&f.minQuality, "min-quality", 0, "Clip read ends below this Phred score")
	fs.StringVar(&f.include, "include", "", "Only reads whose name matches")
	fs.StringVar(&f.exclude, "exclude", "", "Skip reads whose name matches")
	fs.StringVarP(&f.outputPath, "output", "o", "", "Output file")
	_ = cmd.MarkFlagRequired("output")
}

func (f *hashFlags) apply(c *config.Config, changed func(string) bool) error {
	if changed("mer-length") {
		c.Hash.K = f.k
	}
	if changed("memory") {
		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(f.memory)); err != nil {
			return errors.Wrapf(err, "--memory %q", f.memory)
		}
		c.Hash.Memory = size
	}
	if changed("no-space") {
		c.Hash.NoSpaceResponse = f.noSpace
	}
	if changed("tmp-prefix") {
		c.Hash.TmpFilePrefix = f.tmpPrefix
	}
	if changed("min-freq") {
		c.Hash.MinFrequency = f.minFreq
	}
	if changed("max-freq") {
		c.Hash.MaxFrequency = f.maxFreq
	}
	if changed("min-load") {
		c.Hash.MinLoad = f.minLoad
	}
	if changed("max-load") {
		c.Hash.MaxLoad = f.maxLoad
	}
	if changed("alt-counters") {
		c.Hash.AltCounters = f.altCounters
	}
	if changed("no-overflow") {
		c.Hash.AllowOverflow = !f.noOverflow
	}
	if changed("estimate-size") {
		c.Hash.EstimateSize = f.estimate
	}
	if changed("min-length") {
		c.Reads.MinLength = f.minLength
	}
	if changed("min-quality") {
		c.Reads.MinQuality = f.minQuality
	}
	if changed("include") {
		c.Reads.Include = f.include
	}
	if changed("exclude") {
		c.Reads.Exclude = f.exclude
	}
	return nil
}

// loadHashConfig loads the configuration with the hash flags applied.
func (g *globals) loadHashConfig(cmd *cobra.Command, f *hashFlags) (*config.Config, error) {
	var applyErr error
	c, err := g.load(cmd, func(c *config.Config, changed func(string) bool) {
		applyErr = f.apply(c, changed)
	})
	if applyErr != nil {
		return nil, applyErr
	}
	return c, err
}

func countCommand(g *globals) *cobra.Command {
	f := &hashFlags{}
	cmd := &cobra.Command{
		Use:   "count [flags] files...",
		Short: "Count the kmers of FASTA/FASTQ files",
		Long: `Count the canonical kmers of FASTA/FASTQ files, plain or compressed.

Reads are cut at every non-ACGT base; no kmer spans a cut or two reads.
With --max-freq the finished table is normalized: kmers counted fewer than
--min-freq times are dropped, more than --max-freq times are marked invalid,
and the rest count one.

With --alt-counters N, alt counter i also counts the kmers of the i-th input
file. Every file is read twice, so standard input cannot be counted.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.loadHashConfig(cmd, f)
			if err != nil {
				return err
			}
			logger := g.logger()
			opt := c.BuilderOptions(logger)

			bar := g.startProgress("files:", int64(len(args)))
			opt.OnFile = func(string, int) { bar.add(1) }
			h, err := builder.Build(args, opt)
			bar.done()
			if err != nil {
				return err
			}
			defer h.Close()

			if err := h.Save(f.outputPath); err != nil {
				return errors.Wrap(err, "saving hash")
			}
			fmt.Fprintf(g.stdout, "%s: %s distinct kmers, %s total\n",
				f.outputPath, humanize.Comma(int64(h.Used())), humanize.Comma(int64(h.Total())))
			return nil
		},
	}
	f.register(cmd)
	return cmd
}
