package indexhash

import (
	"bytes"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// FormatVersion is bumped whenever the binary layout changes.
const FormatVersion = 1

// Info is the human-readable summary saved next to an index.
type Info struct {
	Version int      `toml:"version" comment:"Index format"`
	K       int      `toml:"k" comment:"Kmers"`
	Kmers   uint64   `toml:"kmers"`
	Pairs   uint64   `toml:"kmer-read-pairs"`
	Reads   int      `toml:"reads" comment:"Reference reads"`
	Files   []string `toml:"files"`
}

// InfoPath returns the sidecar path for an index saved at path.
func InfoPath(path string) string { return path + ".info.toml" }

// Info describes the index.
func (idx *Index) Info() *Info {
	return &Info{
		Version: FormatVersion,
		K:       idx.k,
		Kmers:   idx.used,
		Pairs:   idx.Pairs(),
		Reads:   idx.Reads(),
		Files:   append([]string(nil), idx.files...),
	}
}

// WriteInfo saves info as TOML.
func WriteInfo(path string, info *Info) error {
	data, err := toml.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "encoding index info")
	}
	return writeFile(path, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(data))
		return err
	})
}

// ReadInfo loads a sidecar written by WriteInfo.
func ReadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info := &Info{}
	if err := toml.Unmarshal(data, info); err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if info.Version != FormatVersion {
		return nil, errors.Errorf("%s: index format %d, want %d", path, info.Version, FormatVersion)
	}
	return info, nil
}
