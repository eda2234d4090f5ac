package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand(&stdout, &stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("kmer %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func expectLines(t *testing.T, out string, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if !strings.Contains(out, l+"\n") {
			t.Errorf("output lacks %q:\n%s", l, out)
		}
	}
}

func TestCountIndexFind(t *testing.T) {
	dir := t.TempDir()
	ref := writeFile(t, dir, "ref.fa", ">r1\nACGTACGT\n")
	query := writeFile(t, dir, "query.fa", ">q\nACGT\n")
	hash := filepath.Join(dir, "ref.hashl")
	idx := filepath.Join(dir, "ref.idx")

	out := mustRun(t, "count", "-k", "3", "-o", hash, ref)
	if !strings.Contains(out, "2 distinct kmers, 6 total") {
		t.Errorf("count: got %q", out)
	}

	out = mustRun(t, "stats", "--histogram", hash)
	expectLines(t, out, "k\t3", "distinct\t2", "total\t6", "median\t2", "max\t4", "count\t2\t1", "count\t4\t1")

	out = mustRun(t, "dump", hash)
	expectLines(t, out, "ACG\t4", "GTA\t2")
	if n := strings.Count(out, "\n"); n != 2 {
		t.Errorf("dump: got %d lines, want 2", n)
	}

	mustRun(t, "index", "-o", idx, hash)
	if _, err := os.Stat(idx + ".info.toml"); err != nil {
		t.Errorf("index info: %v", err)
	}

	out = mustRun(t, "find", "--index", idx, query)
	expectLines(t, out, "#query\tread\thits", "q\tr1\t2")

	outFile := filepath.Join(dir, "hits.tsv")
	mustRun(t, "find", "--index", idx, "--lower", "3", "-o", outFile, query)
	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "#query\tread\thits\n" {
		t.Errorf("find --lower 3: got %q", data)
	}
}

func TestMergeAndCrossReference(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.hashl")
	b := filepath.Join(dir, "b.hashl")
	merged := filepath.Join(dir, "m.hashl")
	mustRun(t, "count", "-k", "2", "-o", a, writeFile(t, dir, "a.fa", ">a\nAACC\n"))
	mustRun(t, "count", "-k", "2", "-o", b, writeFile(t, dir, "b.fa", ">b\nAAGG\n"))

	mustRun(t, "merge", "-o", merged, a, b)
	out := mustRun(t, "dump", merged)
	expectLines(t, out, "AA\t2", "AC\t1", "CC\t2", "AG\t1")

	for _, args := range [][]string{
		{"xref", "--sharing", "1", a, merged},
		{"xref", "--sharing", "-1", "--ref-count", "2", a, merged},
	} {
		out := mustRun(t, args...)
		if out != "AC\t1\t1\n" {
			t.Errorf("%v: got %q, want AC only", args, out)
		}
	}
	if _, err := run(t, "xref", "--sharing", "-1", a, merged); err == nil {
		t.Errorf("xref with negative sharing and no ref count: got nil error")
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "kmer.toml", "[hash]\nmer-length = 4\n\n[reads]\nexclude = \"^skip\"\n")
	reads := writeFile(t, dir, "reads.fa", ">keep\nACGTT\n>skip\nGGGGGGGG\n")
	hash := filepath.Join(dir, "r.hashl")

	out := mustRun(t, "--config", cfg, "count", "-o", hash, reads)
	if !strings.Contains(out, "2 distinct kmers") {
		t.Errorf("count with config: got %q", out)
	}
	// The flag wins over the file.
	out = mustRun(t, "--config", cfg, "count", "-k", "5", "-o", hash, reads)
	if !strings.Contains(out, "1 distinct kmers") {
		t.Errorf("count with -k override: got %q", out)
	}

	bad := writeFile(t, dir, "bad.toml", "[hash]\nmer-length = 0\n")
	if _, err := run(t, "--config", bad, "count", "-o", hash, reads); err == nil {
		t.Errorf("invalid config: got nil error")
	}
}

func TestIndexRejectsLongKmers(t *testing.T) {
	dir := t.TempDir()
	hash := filepath.Join(dir, "long.hashl")
	mustRun(t, "count", "-k", "33", "-o", hash, writeFile(t, dir, "r.fa", ">r\n"+strings.Repeat("ACGT", 10)+"\n"))
	if _, err := run(t, "index", "-o", filepath.Join(dir, "x.idx"), hash); err == nil {
		t.Errorf("index k=33: got nil error")
	}
}
