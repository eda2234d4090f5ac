// Package config holds the options shared by the kmer tools, read from a TOML
// file over built-in defaults.
//
// Example
// =======
//
//	[hash]
//	mer-length = 25
//	memory = "2GB"
//	no-space-response = "clean,tmp"
//	tmp-file-prefix = "/scratch/kmer-"
//	min-frequency = 2
//	max-frequency = 200
//
//	[reads]
//	min-length = 50
//	exclude = "^chrUn"
//
//	[find]
//	workers = 8
//	block-size = "4MB"
//	lower = 3
//	upper = 1000
package config

import (
	"bytes"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"kmer.lopezb.com/internal/builder"
	"kmer.lopezb.com/internal/hashl"
	"kmer.lopezb.com/internal/hits"
	"kmer.lopezb.com/internal/indexhash"
	"kmer.lopezb.com/internal/seqfile"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid value")

// Hash configures counting hashes.
type Hash struct {
	K int `toml:"mer-length" comment:"Bases per kmer"`

	// Memory is the table budget; zero sizes the table from the input.
	Memory datasize.ByteSize `toml:"memory" comment:"Table budget, zero to size from the input"`

	NoSpaceResponse string  `toml:"no-space-response" comment:"clean, tmp, clean,tmp or none"`
	TmpFilePrefix   string  `toml:"tmp-file-prefix"`
	AllowOverflow   bool    `toml:"allow-overflow"`
	MinLoad         float64 `toml:"min-load" comment:"Load factor bounds, zero disables"`
	MaxLoad         float64 `toml:"max-load"`
	AltCounters     int     `toml:"alt-counters" comment:"Per-file counters, the i-th tallies the i-th input"`
	EstimateSize    bool    `toml:"estimate-size" comment:"Size a zero-memory table from a distinct kmer estimate"`

	MinFrequency   uint64 `toml:"min-frequency" comment:"Normalize and merge window, max zero disables"`
	MaxFrequency   uint64 `toml:"max-frequency"`
	MaxKmerSharing int    `toml:"max-kmer-sharing" comment:"Cross-reference limit, negative for all but N"`
}

// Reads is the read policy applied while building.
type Reads struct {
	MinLength  int    `toml:"min-length"`
	MinQuality int    `toml:"min-quality" comment:"Phred score for end clipping, zero disables"`
	Include    string `toml:"include" comment:"Read name regular expressions"`
	Exclude    string `toml:"exclude"`
}

// Find configures index building and the query pipeline.
type Find struct {
	MaxKmerCount uint64            `toml:"max-kmer-count" comment:"Leave kmers counted more often out of the index"`
	Workers      int               `toml:"workers"`
	Buffers      int               `toml:"buffers"`
	BlockSize    datasize.ByteSize `toml:"block-size"`
	Lower        uint64            `toml:"lower" comment:"Hit thresholds"`
	Upper        uint64            `toml:"upper"`
}

// Config is the whole file.
type Config struct {
	Hash  Hash  `toml:"hash"`
	Reads Reads `toml:"reads"`
	Find  Find  `toml:"find"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Hash: Hash{
			K:               25,
			NoSpaceResponse: "none",
			AllowOverflow:   true,
		},
		Find: Find{
			BlockSize: hits.DefaultBlockSize,
			Lower:     1,
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := Default()
	d := toml.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()
	if err := d.Decode(c); err != nil {
		return nil, errors.Wrap(err, path)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return c, nil
}

// Write saves c as TOML, comments included.
func (c *Config) Write(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks every field for a usable value.
func (c *Config) Validate() error {
	h := c.Hash
	switch {
	case h.K < 1:
		return errors.Wrapf(ErrInvalid, "mer-length %d", h.K)
	case h.MinLoad < 0 || h.MinLoad >= 1 || h.MaxLoad < 0 || h.MaxLoad >= 1:
		return errors.Wrapf(ErrInvalid, "load factors must lie in [0, 1)")
	case h.MinLoad > 0 && h.MaxLoad > 0 && h.MinLoad >= h.MaxLoad:
		return errors.Wrapf(ErrInvalid, "min-load %g not below max-load %g", h.MinLoad, h.MaxLoad)
	case h.AltCounters < 0:
		return errors.Wrapf(ErrInvalid, "alt-counters %d", h.AltCounters)
	case h.MaxFrequency > 0 && h.MaxFrequency < h.MinFrequency:
		return errors.Wrapf(ErrInvalid, "max-frequency %d below min-frequency %d", h.MaxFrequency, h.MinFrequency)
	}
	ns, err := ParseNoSpace(h.NoSpaceResponse)
	if err != nil {
		return err
	}
	// A load bound grows the table, so no-space responses never run and
	// the memory budget would not hold.
	if h.MaxLoad > 0 && (ns != 0 || h.Memory > 0) {
		return errors.Wrapf(ErrInvalid, "max-load excludes no-space-response and memory")
	}
	if ns&hashl.TmpFile != 0 && h.AltCounters > 0 {
		return errors.Wrap(hashl.ErrAltSpill, "config")
	}

	r := c.Reads
	if r.MinLength < 0 || r.MinQuality < 0 {
		return errors.Wrapf(ErrInvalid, "negative read policy")
	}
	if r.MinQuality > seqfile.MaxPhred {
		return errors.Wrapf(ErrInvalid, "min-quality %d above %d", r.MinQuality, seqfile.MaxPhred)
	}
	for _, expr := range []string{r.Include, r.Exclude} {
		if _, err := compile(expr); err != nil {
			return err
		}
	}

	f := c.Find
	if f.Workers < 0 || f.Buffers < 0 {
		return errors.Wrapf(ErrInvalid, "negative worker or buffer count")
	}
	if err := (hits.Thresholds{Lower: f.Lower, Upper: f.Upper}).Validate(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	return nil
}

// ValidateIndex additionally checks that the kmer length fits an index.
func (c *Config) ValidateIndex() error {
	if c.Hash.K > indexhash.MaxK {
		return errors.Wrapf(indexhash.ErrKmerTooLong, "mer-length %d", c.Hash.K)
	}
	return nil
}

// ParseNoSpace reads a no-space-response value: "clean", "tmp", "clean,tmp"
// or "none" (also empty).
func ParseNoSpace(s string) (hashl.NoSpace, error) {
	var ns hashl.NoSpace
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "clean":
			ns |= hashl.CleanHash
		case "tmp":
			ns |= hashl.TmpFile
		case "none", "":
		default:
			return 0, errors.Wrapf(ErrInvalid, "no-space-response %q", s)
		}
	}
	return ns, nil
}

func compile(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalid, "read name pattern: %v", err)
	}
	return re, nil
}

// bytesPerSlot is the in-memory cost of one table slot: an offset word and a
// counter byte, plus a byte per alt counter.
func (h Hash) bytesPerSlot() uint64 {
	return 9 + uint64(h.AltCounters)
}

// HashConfig returns the counting hash configuration. A memory budget turns
// into the size hint; without one the hint is zero and the builder derives
// it from the input.
func (c *Config) HashConfig(logger *slog.Logger) hashl.Config {
	ns, _ := ParseNoSpace(c.Hash.NoSpaceResponse)
	return hashl.Config{
		K:             c.Hash.K,
		SizeHint:      c.Hash.Memory.Bytes() / c.Hash.bytesPerSlot(),
		NoSpace:       ns,
		TmpPrefix:     c.Hash.TmpFilePrefix,
		AllowOverflow: c.Hash.AllowOverflow,
		MinLoad:       c.Hash.MinLoad,
		MaxLoad:       c.Hash.MaxLoad,
		AltSize:       c.Hash.AltCounters,
		Logger:        logger,
	}
}

// BuilderOptions returns the build options. Validate must have passed.
func (c *Config) BuilderOptions(logger *slog.Logger) builder.Options {
	include, _ := compile(c.Reads.Include)
	exclude, _ := compile(c.Reads.Exclude)
	return builder.Options{
		K:             c.Hash.K,
		MinReadLength: c.Reads.MinLength,
		MinQuality:    c.Reads.MinQuality,
		Include:       include,
		Exclude:       exclude,
		MinFreq:       c.Hash.MinFrequency,
		MaxFreq:       c.Hash.MaxFrequency,
		Hash:          c.HashConfig(logger),
		EstimateSize:  c.Hash.EstimateSize,
		Logger:        logger,
	}
}

// PipelineOptions returns the query pipeline options.
func (c *Config) PipelineOptions(logger *slog.Logger) hits.PipelineOptions {
	return hits.PipelineOptions{
		Thresholds: hits.Thresholds{Lower: c.Find.Lower, Upper: c.Find.Upper},
		Workers:    c.Find.Workers,
		Buffers:    c.Find.Buffers,
		BlockSize:  c.Find.BlockSize,
		Logger:     logger,
	}
}

// IndexOptions returns the index build options.
func (c *Config) IndexOptions(logger *slog.Logger) indexhash.Options {
	return indexhash.Options{MaxCount: c.Find.MaxKmerCount, Logger: logger}
}
