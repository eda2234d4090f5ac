package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kmer.lopezb.com/internal/builder"
	"kmer.lopezb.com/internal/hashl"
)

// savedHash counts ACGTACGT and GGGCAT with k=3 and returns the file bytes.
func savedHash(t *testing.T) []byte {
	t.Helper()
	dir := t.TempDir()
	fa := filepath.Join(dir, "reads.fa")
	if err := os.WriteFile(fa, []byte(">r1\nACGTACGT\n>r2\nGGGCAT\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := hashl.DefaultConfig(3)
	cfg.SizeHint = 0
	h, err := builder.Build([]string{fa}, builder.Options{K: 3, Hash: cfg})
	if err != nil {
		t.Fatalf("builder.Build: %v", err)
	}
	path := filepath.Join(dir, "reads.hashl")
	if err := h.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestInspect(t *testing.T) {
	data := savedHash(t)
	var out bytes.Buffer
	rep, err := inspect(bytes.NewReader(data), &out, true)
	if err != nil {
		t.Fatalf("inspect: %v\n%s", err, out.String())
	}

	if rep.K != 3 {
		t.Errorf("k: got %d, want 3", rep.K)
	}
	if rep.Occupied != 6 {
		t.Errorf("occupied: got %d, want 6", rep.Occupied)
	}
	if rep.Reads != 2 || rep.Files != 1 {
		t.Errorf("reads/files: got %d/%d, want 2/1", rep.Reads, rep.Files)
	}
	if rep.Bases != 14 {
		t.Errorf("bases: got %d, want 14", rep.Bases)
	}
	if rep.Tail {
		t.Errorf("tail reported on a clean file")
	}
	want := binary.LittleEndian.Uint64(data[len(data)-8:])
	if rep.Checksum != want {
		t.Errorf("checksum: got %016x, want %016x", rep.Checksum, want)
	}

	text := out.String()
	for _, s := range []string{"] header\n", "] metadata\n", "] counts\n", "checksum OK", "r1 ", "r2 "} {
		if !strings.Contains(text, s) {
			t.Errorf("report lacks %q:\n%s", s, text)
		}
	}
	if !strings.HasPrefix(text, "[offset 15] header\n") {
		t.Errorf("header offset: got %q", strings.SplitN(text, "\n", 2)[0])
	}
}

func TestInspectDamaged(t *testing.T) {
	clean := savedHash(t)
	// The sequence words follow the boilerplate, the header, the metadata
	// length and blob, and the word count.
	metaLen := binary.LittleEndian.Uint64(clean[15+48:])
	seqAt := 15 + 48 + 8 + int(metaLen) + 8

	tests := []struct {
		name   string
		damage func(b []byte) []byte
		want   error
	}{
		{"not a hash", func(b []byte) []byte { copy(b, "hashp\n"); return b }, hashl.ErrInvalidMagic},
		{"byte order", func(b []byte) []byte { copy(b[8:], "bigend\n"); return b }, hashl.ErrHeaderMismatch},
		{"sequence bit", func(b []byte) []byte { b[seqAt] ^= 1; return b }, hashl.ErrChecksum},
		{"no trailer", func(b []byte) []byte { return b[:len(b)-8] }, hashl.ErrCorrupt},
		{"trailing data", func(b []byte) []byte { return append(b, '\n') }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.damage(append([]byte(nil), clean...))
			var out bytes.Buffer
			rep, err := inspect(bytes.NewReader(b), &out, false)
			if tt.want == nil {
				if err != nil || !rep.Tail {
					t.Errorf("got err=%v, want a tail report", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := inspect(bytes.NewReader(clean[:40]), &bytes.Buffer{}, false); err == nil {
		t.Errorf("truncated header: got nil error")
	}
}
