package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/c2h5oh/datasize"

	"kmer.lopezb.com/internal/hashl"
	"kmer.lopezb.com/internal/indexhash"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kmer.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[hash]
mer-length = 21
memory = "9KB"
no-space-response = "clean,tmp"
tmp-file-prefix = "/tmp/spill-"
min-frequency = 2
max-frequency = 50

[reads]
min-length = 40
exclude = "^chrUn"

[find]
block-size = "1MB"
lower = 3
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Hash.K != 21 {
		t.Errorf("K: got %d, want 21", c.Hash.K)
	}
	if c.Find.BlockSize != datasize.MB {
		t.Errorf("BlockSize: got %v, want 1MB", c.Find.BlockSize)
	}
	if !c.Hash.AllowOverflow {
		t.Errorf("AllowOverflow: default lost")
	}

	hc := c.HashConfig(nil)
	if hc.NoSpace != hashl.CleanHash|hashl.TmpFile {
		t.Errorf("NoSpace: got %v, want clean|tmp", hc.NoSpace)
	}
	if hc.SizeHint != 1024 {
		t.Errorf("SizeHint: got %d, want 1024 (9KB / 9 bytes)", hc.SizeHint)
	}

	opt := c.BuilderOptions(nil)
	if opt.Exclude == nil || !opt.Exclude.MatchString("chrUn_1") || opt.Include != nil {
		t.Errorf("read name patterns not compiled")
	}
	if opt.MinFreq != 2 || opt.MaxFreq != 50 || opt.MinReadLength != 40 {
		t.Errorf("builder options: got %+v", opt)
	}
	if p := c.PipelineOptions(nil); p.Thresholds.Lower != 3 || p.BlockSize != datasize.MB {
		t.Errorf("pipeline options: got %+v", p)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    error
	}{
		{"zero k", "[hash]\nmer-length = 0\n", ErrInvalid},
		{"load order", "[hash]\nmin-load = 0.8\nmax-load = 0.5\n", ErrInvalid},
		{"load range", "[hash]\nmax-load = 1.5\n", ErrInvalid},
		{"frequency window", "[hash]\nmin-frequency = 10\nmax-frequency = 5\n", ErrInvalid},
		{"no-space", "[hash]\nno-space-response = \"grow\"\n", ErrInvalid},
		{"alt with spill", "[hash]\nno-space-response = \"tmp\"\nalt-counters = 2\n", hashl.ErrAltSpill},
		{"load with no-space", "[hash]\nno-space-response = \"clean\"\nmax-load = 0.8\n", ErrInvalid},
		{"load with memory", "[hash]\nmemory = \"1MB\"\nmax-load = 0.8\n", ErrInvalid},
		{"quality", "[reads]\nmin-quality = 94\n", ErrInvalid},
		{"pattern", "[reads]\ninclude = \"(\"\n", ErrInvalid},
		{"thresholds", "[find]\nlower = 0\n", ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); !errors.Is(err, tt.want) {
				t.Errorf("Load: got %v, want %v", err, tt.want)
			}
		})
	}

	c, err := Load(writeConfig(t, "[hash]\nmax-load = 0.8\n[reads]\nmin-quality = 93\n"))
	if err != nil {
		t.Errorf("Load(max-load alone): %v", err)
	} else if hc := c.HashConfig(nil); hc.MaxLoad != 0.8 || hc.NoSpace != 0 {
		t.Errorf("HashConfig: got max-load %g, no-space %v", hc.MaxLoad, hc.NoSpace)
	}

	if _, err := Load(writeConfig(t, "[hash]\nmer-lenght = 3\n")); err == nil {
		t.Errorf("Load(unknown key): got nil error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Errorf("Load(missing): got nil error")
	}
}

func TestParseNoSpace(t *testing.T) {
	tests := []struct {
		in   string
		want hashl.NoSpace
		ok   bool
	}{
		{"none", 0, true},
		{"", 0, true},
		{"clean", hashl.CleanHash, true},
		{"tmp", hashl.TmpFile, true},
		{"clean,tmp", hashl.CleanHash | hashl.TmpFile, true},
		{"TMP, Clean", hashl.CleanHash | hashl.TmpFile, true},
		{"clean,grow", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseNoSpace(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseNoSpace(%q): got %v, %v", tt.in, got, err)
		}
	}
}

func TestValidateIndex(t *testing.T) {
	c := Default()
	c.Hash.K = 33
	if err := c.ValidateIndex(); !errors.Is(err, indexhash.ErrKmerTooLong) {
		t.Errorf("ValidateIndex(k=33): got %v", err)
	}
	c.Hash.K = 32
	if err := c.ValidateIndex(); err != nil {
		t.Errorf("ValidateIndex(k=32): %v", err)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	c := Default()
	c.Hash.Memory = 2 * datasize.GB
	c.Reads.Include = "^r"
	path := filepath.Join(t.TempDir(), "out.toml")
	if err := c.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *got != *c {
		t.Errorf("round trip: got %+v, want %+v", got, c)
	}
}
