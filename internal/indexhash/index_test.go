package indexhash

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kmer.lopezb.com/internal/builder"
	"kmer.lopezb.com/internal/hashl"
	"kmer.lopezb.com/internal/kmer"
)

func buildIndex(t *testing.T, k int, opt Options, reads ...string) *Index {
	t.Helper()
	var sb strings.Builder
	for i, r := range reads {
		sb.WriteString(">r")
		sb.WriteByte(byte('a' + i))
		sb.WriteString("\n" + r + "\n")
	}
	path := filepath.Join(t.TempDir(), "ref.fa")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := builder.Build([]string{path}, builder.Options{K: k, Hash: hashl.DefaultConfig(k)})
	if err != nil {
		t.Fatalf("builder.Build: %v", err)
	}
	idx, err := Build(h, opt)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return idx
}

func code(t *testing.T, s string) uint64 {
	t.Helper()
	key, err := kmer.ParseKey(s)
	if err != nil {
		t.Fatal(err)
	}
	return key.Uint64()
}

func sameIDs(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLookup(t *testing.T) {
	idx := buildIndex(t, 3, Options{}, "ACGTACGT", "GGGG", "TTACG")

	tests := []struct {
		kmer string
		want []uint32
	}{
		{"ACG", []uint32{0, 2}},
		{"CGT", []uint32{0, 2}}, // reverse complement of ACG
		{"GTA", []uint32{0, 2}}, // TAC in read 2
		{"GGG", []uint32{1}},
		{"CCC", []uint32{1}},
		{"TTA", []uint32{2}},
		{"AAA", nil},
	}
	for _, tt := range tests {
		if got := idx.Lookup(code(t, tt.kmer)); !sameIDs(got, tt.want) {
			t.Errorf("Lookup(%s): got %v, want %v", tt.kmer, got, tt.want)
		}
	}
	if got := idx.Reads(); got != 3 {
		t.Errorf("Reads: got %d, want 3", got)
	}
	for i, want := range []string{"ra", "rb", "rc"} {
		if got := idx.ReadName(uint32(i)); got != want {
			t.Errorf("ReadName(%d): got %q, want %q", i, got, want)
		}
	}
}

func TestReadListedOncePerKmer(t *testing.T) {
	// ACG occurs twice in the read, CGT (same canonical kmer) twice more.
	idx := buildIndex(t, 3, Options{}, "ACGTACGT")
	if got := idx.Lookup(code(t, "ACG")); !sameIDs(got, []uint32{0}) {
		t.Errorf("Lookup(ACG): got %v, want [0]", got)
	}
	// ACG, CGT, GTA and TAC collapse to ACG and GTA.
	if got := idx.Kmers(); got != 2 {
		t.Errorf("Kmers: got %d, want 2", got)
	}
	if got := idx.Pairs(); got != 2 {
		t.Errorf("Pairs: got %d, want 2", got)
	}
}

func TestMaxCount(t *testing.T) {
	idx := buildIndex(t, 3, Options{MaxCount: 3}, "AAAAAA", "ACGT")
	if got := idx.Lookup(code(t, "AAA")); got != nil {
		t.Errorf("Lookup(AAA): got %v, want nil (counted 4 times)", got)
	}
	if got := idx.Lookup(code(t, "ACG")); !sameIDs(got, []uint32{1}) {
		t.Errorf("Lookup(ACG): got %v, want [1]", got)
	}
}

func TestBuildRejectsLongKmers(t *testing.T) {
	h, err := hashl.New(hashl.DefaultConfig(33))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Build(h, Options{}); !errors.Is(err, ErrKmerTooLong) {
		t.Errorf("Build(k=33): got %v, want ErrKmerTooLong", err)
	}
}

func TestReverseComplement(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, k := range []int{1, 2, 7, 16, 31, 32} {
		for n := 0; n < 20; n++ {
			key := kmer.NewKey(k)
			for i := 0; i < k; i++ {
				key.PushBack(uint8(rng.Intn(4)))
			}
			rc := kmer.NewKey(k)
			key.ReverseComplement(rc)
			if got, want := ReverseComplement(key.Uint64(), k), rc.Uint64(); got != want {
				t.Errorf("k=%d %s: got %x, want %x", k, key, got, want)
			}
		}
	}
}

func TestSaveLoad(t *testing.T) {
	idx := buildIndex(t, 4, Options{}, "ACGTTGCAAGGCTTAGCA", "GGATCCATTAGG", "CCCCAAAA")
	path := filepath.Join(t.TempDir(), "ref.idx")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.K() != idx.K() || got.Kmers() != idx.Kmers() || got.Pairs() != idx.Pairs() || got.Reads() != idx.Reads() {
		t.Errorf("restored: k=%d kmers=%d pairs=%d reads=%d, want k=%d kmers=%d pairs=%d reads=%d",
			got.K(), got.Kmers(), got.Pairs(), got.Reads(), idx.K(), idx.Kmers(), idx.Pairs(), idx.Reads())
	}
	for _, s := range []string{"ACGT", "GGAT", "CCCC", "TTTT", "AGCA"} {
		if a, b := got.Lookup(code(t, s)), idx.Lookup(code(t, s)); !sameIDs(a, b) {
			t.Errorf("Lookup(%s): restored %v, original %v", s, a, b)
		}
	}
	if got.ReadName(2) != "rc" || got.ReadFile(2) != idx.ReadFile(2) {
		t.Errorf("read 2: got %q from %q", got.ReadName(2), got.ReadFile(2))
	}

	info, err := ReadInfo(InfoPath(path))
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if info.K != 4 || info.Kmers != idx.Kmers() || info.Reads != 3 || len(info.Files) != 1 {
		t.Errorf("info: got %+v", info)
	}
}

func TestReadDamaged(t *testing.T) {
	idx := buildIndex(t, 3, Options{}, "ACGTACGT", "GGGG")
	var buf bytes.Buffer
	if err := idx.Write(&buf); err != nil {
		t.Fatal(err)
	}
	good := buf.Bytes()

	tests := []struct {
		name   string
		damage func([]byte) []byte
		want   error
	}{
		{"magic", func(b []byte) []byte { b[0] = 'x'; return b }, ErrInvalidMagic},
		{"byte order", func(b []byte) []byte { copy(b[8:], "bigend\n"); return b }, ErrHeaderMismatch},
		{"truncated", func(b []byte) []byte { return b[:len(b)/2] }, ErrCorrupt},
		{"file name", func(b []byte) []byte { b[len(b)-9] ^= 1; return b }, ErrChecksum},
		{"no trailer", func(b []byte) []byte { return b[:len(b)-8] }, ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.damage(append([]byte(nil), good...))
			if _, err := Read(bytes.NewReader(b)); !errors.Is(err, tt.want) {
				t.Errorf("Read: got %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := Read(bytes.NewReader(good)); err != nil {
		t.Errorf("Read(undamaged): %v", err)
	}
}
