package builder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"kmer.lopezb.com/internal/hashl"
	"kmer.lopezb.com/internal/kmer"
)

func writeFasta(t *testing.T, reads ...string) string {
	t.Helper()
	var sb strings.Builder
	for i, r := range reads {
		sb.WriteString(">r")
		sb.WriteByte(byte('a' + i))
		sb.WriteString("\n")
		sb.WriteString(r)
		sb.WriteString("\n")
	}
	path := filepath.Join(t.TempDir(), "reads.fa")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func value(t *testing.T, h *hashl.Hash, s string) uint64 {
	t.Helper()
	key, err := kmer.ParseKey(s)
	if err != nil {
		t.Fatal(err)
	}
	return h.Value(key)
}

func TestBuildScenarios(t *testing.T) {
	tests := []struct {
		name  string
		k     int
		reads []string
		used  uint64
		want  map[string]uint64
	}{
		{"palindrome", 4, []string{"AATT"}, 1, map[string]uint64{"AATT": 1}},
		{"both orientations", 3, []string{"ACG", "CGT"}, 1, map[string]uint64{"ACG": 2, "CGT": 2}},
		{"no window across reads", 3, []string{"AC", "GT"}, 0, map[string]uint64{"ACG": 0, "CGT": 0}},
		{"N splits a read", 3, []string{"ACGNACG"}, 1, map[string]uint64{"ACG": 2, "CGA": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Build([]string{writeFasta(t, tt.reads...)}, Options{K: tt.k, Hash: hashl.DefaultConfig(tt.k)})
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if got := h.Used(); got != tt.used {
				t.Errorf("Used: got %d, want %d", got, tt.used)
			}
			for s, want := range tt.want {
				if got := value(t, h, s); got != want {
					t.Errorf("Value(%s): got %d, want %d", s, got, want)
				}
			}
		})
	}
}

func TestBuildCleanHashScenario(t *testing.T) {
	cfg := hashl.DefaultConfig(2)
	cfg.SizeHint = 5
	cfg.NoSpace = hashl.CleanHash
	path := writeFasta(t, "AACC", "AACC", "GGTT", "GGTT", "TATA")

	h, err := Build([]string{path}, Options{K: 2, Hash: cfg})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h.Clean()
	want := map[string]uint64{"AA": 4, "AC": 4, "CC": 4, "TA": 2, "AT": 0}
	for s, v := range want {
		if got := value(t, h, s); got != v {
			t.Errorf("Value(%s): got %d, want %d", s, got, v)
		}
	}
}

func TestCountConservation(t *testing.T) {
	reads := []string{
		"ACGTTGCAAGGCTTAGCA",
		"GGGGGGGGGGGG",
		"ACNNNNNACGTACGTTT",
		"TTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTTAC",
	}
	for _, k := range []int{1, 3, 5, 33} {
		h, err := Build([]string{writeFasta(t, reads...)}, Options{K: k, Hash: hashl.DefaultConfig(k)})
		if err != nil {
			t.Fatalf("k=%d: Build: %v", k, err)
		}
		if got, want := h.Total(), h.Metadata().MaxKmers(k); got != want {
			t.Errorf("k=%d: Total: got %d, want %d", k, got, want)
		}
	}
}

func TestReadPolicy(t *testing.T) {
	path := writeFasta(t, "ACGTACGT", "ACG", "TTTTTTTT")

	tests := []struct {
		name  string
		opt   Options
		reads uint64
	}{
		{"all", Options{K: 3}, 3},
		{"length floor", Options{K: 3, MinReadLength: 4}, 2},
		{"include", Options{K: 3, Include: regexp.MustCompile(`^r[ab]$`)}, 2},
		{"exclude", Options{K: 3, Exclude: regexp.MustCompile(`c`)}, 2},
		{"k longer than reads", Options{K: 9}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, err := Scan([]string{path}, tt.opt)
			if err != nil {
				t.Fatalf("Scan: %v", err)
			}
			if reads, _ := meta.TotalReads(); reads != tt.reads {
				t.Errorf("reads: got %d, want %d", reads, tt.reads)
			}
		})
	}
}

func TestQualityClipping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reads.fq")
	fq := "@q1\nAAAACGTAAAA\n+\n####IIII###\n"
	if err := os.WriteFile(path, []byte(fq), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := Build([]string{path}, Options{K: 4, MinQuality: 20, Hash: hashl.DefaultConfig(4)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := h.Sequence().String(0, h.Sequence().Len()); got != "CGTA" {
		t.Errorf("clipped sequence: got %q, want CGTA", got)
	}
	if got := value(t, h, "CGTA"); got != 1 {
		t.Errorf("Value(CGTA): got %d, want 1", got)
	}
}

func TestNormalizeWindow(t *testing.T) {
	path := writeFasta(t, "AAAAA", "ACGT")
	h, err := Build([]string{path}, Options{K: 2, MinFreq: 2, MaxFreq: 3, Hash: hashl.DefaultConfig(2)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// AA:4 -> invalid, AC:2 -> 1, CG:1 -> removed
	if got := value(t, h, "AA"); got != hashl.Invalid {
		t.Errorf("AA: got %d, want Invalid", got)
	}
	if got := value(t, h, "AC"); got != 1 {
		t.Errorf("AC: got %d, want 1", got)
	}
	if got := value(t, h, "CG"); got != 0 {
		t.Errorf("CG: got %d, want 0", got)
	}
}

func TestFastaAfterFastqIsNotClipped(t *testing.T) {
	dir := t.TempDir()
	fq := filepath.Join(dir, "a.fq")
	fa := filepath.Join(dir, "b.fa")
	if err := os.WriteFile(fq, []byte("@q\nACGTACGTAC\n+\n##########\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fa, []byte(">f\nGGGGGGGGGG\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := Build([]string{fq, fa}, Options{K: 5, MinQuality: 20, Hash: hashl.DefaultConfig(5)})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	// The FASTQ read is clipped away entirely; the FASTA read has no
	// qualities and keeps all six windows.
	if got := value(t, h, "GGGGG"); got != 6 {
		t.Errorf("Value(GGGGG): got %d, want 6", got)
	}
	if got := h.Total(); got != 6 {
		t.Errorf("Total: got %d, want 6", got)
	}
}

func TestDuplicateNamesAreCounted(t *testing.T) {
	tests := []struct {
		name  string
		fasta string
		total uint64
		want  map[string]uint64
	}{
		{"both kept", ">x\nACGTA\n>x\nTTTTT\n", 2, map[string]uint64{"ACGTA": 1, "TTTTT": 1}},
		{"first too short", ">x\nAC\n>x\nTTTTT\n", 1, map[string]uint64{"TTTTT": 1}},
		{"between others", ">a\nCCCCC\n>x\nGGGGGG\n>x\nACGTA\n", 4, map[string]uint64{"CCCCC": 3, "ACGTA": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dup.fa")
			if err := os.WriteFile(path, []byte(tt.fasta), 0o644); err != nil {
				t.Fatal(err)
			}
			h, err := Build([]string{path}, Options{K: 5, Hash: hashl.DefaultConfig(5)})
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if got := h.Total(); got != tt.total {
				t.Errorf("Total: got %d, want %d", got, tt.total)
			}
			if got, want := h.Total(), h.Metadata().MaxKmers(5); got != want {
				t.Errorf("Total: got %d, want %d windows", got, want)
			}
			for s, want := range tt.want {
				if got := value(t, h, s); got != want {
					t.Errorf("Value(%s): got %d, want %d", s, got, want)
				}
			}
		})
	}
}

func TestAltCountersPerFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.fa")
	b := filepath.Join(dir, "b.fa")
	c := filepath.Join(dir, "c.fa")
	for path, content := range map[string]string{a: ">a\nACGT\n", b: ">b\nACG\n", c: ">c\nCGT\n"} {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := hashl.DefaultConfig(3)
	cfg.AltSize = 2
	h, err := Build([]string{a, b, c}, Options{K: 3, Hash: cfg})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	key, err := kmer.ParseKey("ACG")
	if err != nil {
		t.Fatal(err)
	}
	// ACGT holds ACG and CGT, both canonical ACG. The third file has no
	// alt counter of its own.
	if got := h.Value(key); got != 4 {
		t.Errorf("Value(ACG): got %d, want 4", got)
	}
	for i, want := range []uint64{2, 1} {
		got, err := h.AltValue(key, i)
		if err != nil {
			t.Fatalf("AltValue(%d): %v", i, err)
		}
		if got != want {
			t.Errorf("alt %d: got %d, want %d", i, got, want)
		}
	}
}

func TestBuildSpillsAndConsolidates(t *testing.T) {
	cfg := hashl.DefaultConfig(4)
	cfg.SizeHint = 8
	cfg.NoSpace = hashl.TmpFile
	cfg.TmpPrefix = t.TempDir()
	reads := []string{"ACGTTGCAAGGCTTAGCATTGACCA", "GGATCCATTAGGCTAACGT", "CCCCAAAAGGGGTTTT"}

	h, err := Build([]string{writeFasta(t, reads...)}, Options{K: 4, Hash: cfg})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if h.Spilled() {
		t.Errorf("hash still spilled after Build")
	}
	if got, want := h.Total(), h.Metadata().MaxKmers(4); got != want {
		t.Errorf("Total: got %d, want %d", got, want)
	}
}

func TestBuildErrors(t *testing.T) {
	if _, err := Build([]string{writeFasta(t, "ACGT")}, Options{K: 0}); !errors.Is(err, hashl.ErrKmerLength) {
		t.Errorf("k=0: got %v, want ErrKmerLength", err)
	}
	if _, err := Build([]string{"-"}, Options{K: 3}); !errors.Is(err, ErrStdin) {
		t.Errorf("stdin: got %v, want ErrStdin", err)
	}
	missing := filepath.Join(t.TempDir(), "missing.fa")
	if _, err := Build([]string{missing}, Options{K: 3}); err == nil {
		t.Errorf("missing file: got nil error")
	}
}

func TestWalkReadOrdinals(t *testing.T) {
	h, err := Build([]string{writeFasta(t, "ACGT", "NN", "GGGNTTT")}, Options{K: 3, Hash: hashl.DefaultConfig(3)})
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	var offsets []uint64
	err = Walk(h.Metadata(), h.Sequence(), 3, func(w *kmer.Window, offset uint64, read int) error {
		got = append(got, read)
		offsets = append(offsets, offset)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	// "NN" has no usable range and is not recorded, so GGGNTTT is read 1.
	wantReads := []int{0, 0, 1, 1}
	wantOffsets := []uint64{0, 2, 8, 14}
	if len(got) != len(wantReads) {
		t.Fatalf("windows: got %v, want %v", got, wantReads)
	}
	for i := range got {
		if got[i] != wantReads[i] || offsets[i] != wantOffsets[i] {
			t.Errorf("window %d: got read %d at %d, want read %d at %d", i, got[i], offsets[i], wantReads[i], wantOffsets[i])
		}
	}
}

func TestEstimateSize(t *testing.T) {
	// Every read repeats, so the window count is ten times the distinct
	// kmer count.
	var sb strings.Builder
	rng := uint64(7)
	for i := 0; i < 40; i++ {
		b := make([]byte, 120)
		for j := range b {
			rng = rng*6364136223846793005 + 1442695040888963407
			b[j] = "ACGT"[rng>>62]
		}
		for rep := 0; rep < 10; rep++ {
			fmt.Fprintf(&sb, ">r%d_%d\n%s\n", i, rep, b)
		}
	}
	path := filepath.Join(t.TempDir(), "repeats.fa")
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := hashl.DefaultConfig(15)
	cfg.SizeHint = 0

	plain, err := Build([]string{path}, Options{K: 15, Hash: cfg})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sized, err := Build([]string{path}, Options{K: 15, Hash: cfg, EstimateSize: true})
	if err != nil {
		t.Fatalf("Build with EstimateSize: %v", err)
	}

	if plain.Used() != sized.Used() || plain.Total() != sized.Total() {
		t.Errorf("used/total: got %d/%d, want %d/%d", sized.Used(), sized.Total(), plain.Used(), plain.Total())
	}
	if sized.Modulus() >= plain.Modulus()/4 {
		t.Errorf("modulus: got %d, want well below %d", sized.Modulus(), plain.Modulus())
	}

	sk, err := Estimate(sized.Metadata(), sized.Sequence(), 15)
	if err != nil {
		t.Fatal(err)
	}
	if est, used := float64(sk.Count()), float64(sized.Used()); est < 0.95*used || est > 1.05*used {
		t.Errorf("estimate %v for %v distinct kmers", est, used)
	}
}
