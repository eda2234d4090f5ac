// kmer builds, merges and queries kmer tables.
//
// Commands
// ========
//
//	kmer count -k 25 -o reads.hashl reads_1.fq.gz reads_2.fq.gz
//	kmer merge --min-freq 2 --max-freq 100 -o refs.hashl a.hashl b.hashl c.hashl
//	kmer xref --sharing 1 --ref-count 3 target.hashl refs.hashl
//	kmer stats reads.hashl
//	kmer dump reads.hashl
//	kmer index -o ref.idx ref.hashl
//	kmer find --index ref.idx queries.fa
//
// Every command reads its defaults from the TOML file named by --config, if
// any, and flags given on the command line override the file.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"kmer.lopezb.com/internal/config"
)

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	verbose    bool
	progress   bool

	stdout io.Writer
	stderr io.Writer
}

func (g *globals) logger() *slog.Logger {
	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(g.stderr, &slog.HandlerOptions{Level: level}))
}

// load returns the configuration file (or the defaults) with the flags
// changed on cmd applied by override, validated.
func (g *globals) load(cmd *cobra.Command, override func(c *config.Config, changed func(string) bool)) (*config.Config, error) {
	c := config.Default()
	if g.configPath != "" {
		var err error
		if c, err = config.Load(g.configPath); err != nil {
			return nil, err
		}
	}
	if override != nil {
		override(c, cmd.Flags().Changed)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globals{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "kmer",
		Short:         "Count, merge and index kmers of sequence files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "TOML configuration file")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Debug logging")
	root.PersistentFlags().BoolVar(&g.progress, "progress", false, "Show progress bars on stderr")

	root.AddCommand(
		countCommand(g),
		mergeCommand(g),
		dumpCommand(g),
		statsCommand(g),
		indexCommand(g),
		findCommand(g),
		xrefCommand(g),
	)
	return root
}

func main() {
	root := newRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "kmer: %v\n", err)
		os.Exit(1)
	}
}
