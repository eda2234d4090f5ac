package seqfile

import (
	"bytes"
	"compress/gzip"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kmer.lopezb.com/internal/kmer"
	"kmer.lopezb.com/internal/metadata"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if strings.HasSuffix(name, ".gz") {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
		if err := gz.Close(); err != nil {
			t.Fatal(err)
		}
		content = buf.String()
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readAll(t *testing.T, path string, logger *slog.Logger) []*Record {
	t.Helper()
	r, err := Open(path, logger)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer r.Close()
	var out []*Record
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		out = append(out, rec)
	}
	return out
}

func TestReadFormats(t *testing.T) {
	fasta := ">r1 first read\nACGT\nACGT\n>r2\nGGNNCC\n"
	fastq := "@r1 first\nACGTACGT\n+\nIIIIIIII\n@r2\nGGNNCC\n+\nIIIIII\n"

	tests := []struct {
		name    string
		file    string
		content string
		qual    bool
	}{
		{"fasta", "reads.fa", fasta, false},
		{"fastq", "reads.fq", fastq, true},
		{"gzip fasta", "reads.fa.gz", fasta, false},
		{"gzip fastq", "reads.fq.gz", fastq, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := readAll(t, writeFile(t, tt.file, tt.content), nil)
			if len(recs) != 2 {
				t.Fatalf("records: got %d, want 2", len(recs))
			}
			if recs[0].Name != "r1" || recs[1].Name != "r2" {
				t.Errorf("names: got %q, %q", recs[0].Name, recs[1].Name)
			}
			if got := string(recs[0].Seq); got != "ACGTACGT" {
				t.Errorf("seq: got %q, want ACGTACGT", got)
			}
			if got := string(recs[1].Seq); got != "GGNNCC" {
				t.Errorf("seq: got %q, want GGNNCC", got)
			}
			if hasQual := len(recs[0].Qual) > 0; hasQual != tt.qual {
				t.Errorf("quality present: got %v, want %v", hasQual, tt.qual)
			}
		})
	}
}

func TestFastaAfterFastqHasNoQuality(t *testing.T) {
	readAll(t, writeFile(t, "a.fq", "@q\nACGTACGTAC\n+\n##########\n"), nil)
	for _, rec := range readAll(t, writeFile(t, "b.fa", ">f1\nGGGGGGGGGG\n>f2\nCCCC\n"), nil) {
		if rec.Qual != nil {
			t.Errorf("%s: got quality %q, want none", rec.Name, rec.Qual)
		}
	}
}

func TestDuplicateNameWarns(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	recs := readAll(t, writeFile(t, "dup.fa", ">a\nAC\n>a\nGT\n"), logger)
	if len(recs) != 2 {
		t.Fatalf("records: got %d, want 2", len(recs))
	}
	if !strings.Contains(logs.String(), "duplicate read name") {
		t.Errorf("expected a duplicate warning, got %q", logs.String())
	}
}

func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.fa")
	if _, err := Open(path, nil); err == nil {
		t.Errorf("Open(%s): got nil error", path)
	} else if !strings.Contains(err.Error(), path) {
		t.Errorf("error %q does not name the file", err)
	}
}

func TestSegments(t *testing.T) {
	tests := []struct {
		seq    string
		from   int
		to     int
		minLen int
		want   []metadata.Range
	}{
		{"ACGT", 0, 4, 1, []metadata.Range{{Start: 0, End: 4}}},
		{"ACNNGTT", 0, 7, 1, []metadata.Range{{Start: 0, End: 2}, {Start: 4, End: 7}}},
		{"ACNNGTT", 0, 7, 3, []metadata.Range{{Start: 4, End: 7}}},
		{"NNNN", 0, 4, 1, nil},
		{"acgtNa", 0, 6, 1, []metadata.Range{{Start: 0, End: 4}, {Start: 5, End: 6}}},
		{"ACGTACGT", 2, 6, 1, []metadata.Range{{Start: 2, End: 6}}},
		{"ACGT", 0, 100, 0, []metadata.Range{{Start: 0, End: 4}}},
	}
	for _, tt := range tests {
		got := Segments([]byte(tt.seq), tt.from, tt.to, tt.minLen)
		if len(got) != len(tt.want) {
			t.Errorf("Segments(%q, %d, %d, %d): got %v, want %v", tt.seq, tt.from, tt.to, tt.minLen, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Segments(%q): range %d: got %v, want %v", tt.seq, i, got[i], tt.want[i])
			}
		}
	}
}

func TestQualityClip(t *testing.T) {
	tests := []struct {
		qual     string
		n        int
		minQual  int
		from, to int
	}{
		{"IIIII", 5, 20, 0, 5},
		{"##III#", 6, 20, 2, 5},
		{"#####", 5, 20, 5, 5},
		{"##III#", 6, 0, 0, 6},
		{"", 6, 20, 0, 6},
		{"III", 6, 20, 0, 3},
		{"II~~", 4, 223, 2, 4},
		{"~~~", 3, 1000, 0, 3},
	}
	for _, tt := range tests {
		from, to := QualityClip([]byte(tt.qual), tt.n, tt.minQual)
		if from != tt.from || to != tt.to {
			t.Errorf("QualityClip(%q, %d, %d): got [%d, %d), want [%d, %d)", tt.qual, tt.n, tt.minQual, from, to, tt.from, tt.to)
		}
	}
}

func TestOpenerFeedsReadData(t *testing.T) {
	path := writeFile(t, "data.fa", ">r1\nACGTNNAC\n>skipped\nTTTT\n>r2\nGGGG\n")

	meta := metadata.New()
	f := meta.AddFile(path)
	meta.AddRead(f, "r1", []metadata.Range{{Start: 0, End: 4}, {Start: 6, End: 8}})
	meta.AddRead(f, "r2", []metadata.Range{{Start: 0, End: 4}})

	seq := kmer.NewSequence(meta.SequenceLength())
	if err := meta.ReadData(seq, Opener(nil)); err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if got := seq.String(0, seq.Len()); got != "ACGTACGGGG" {
		t.Errorf("sequence: got %q, want ACGTACGGGG", got)
	}
}
