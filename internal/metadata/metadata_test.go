package metadata

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"kmer.lopezb.com/internal/kmer"
)

func sample() *Metadata {
	m := New()
	f := m.AddFile("reads.fa")
	m.AddRead(f, "r1", []Range{{0, 4}, {5, 9}})
	m.AddRead(f, "r2", []Range{{2, 7}})
	g := m.AddFile("more.fq")
	m.AddRead(g, "q1", []Range{{0, 3}})
	return m
}

func TestTotals(t *testing.T) {
	m := sample()

	reads, ranges := m.TotalReads()
	if reads != 3 || ranges != 4 {
		t.Errorf("TotalReads: got (%d, %d), want (3, 4)", reads, ranges)
	}
	if got := m.SequenceLength(); got != 16 {
		t.Errorf("SequenceLength: got %d, want 16", got)
	}
	// k=3: (4-2)+(4-2)+(5-2)+(3-2) = 8
	if got := m.MaxKmers(3); got != 8 {
		t.Errorf("MaxKmers(3): got %d, want 8", got)
	}
	// A range shorter than k contributes nothing.
	if got := m.MaxKmers(5); got != 1 {
		t.Errorf("MaxKmers(5): got %d, want 1", got)
	}

	m.AddPadding(3)
	reads, _ = m.TotalReads()
	if reads != 3 {
		t.Errorf("TotalReads after padding: got %d, want 3", reads)
	}
	if got := m.SequenceLength(); got != 19 {
		t.Errorf("SequenceLength after padding: got %d, want 19", got)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	m := sample()
	m.AddPadding(4)

	packed := m.Pack()
	got, err := Unpack(packed)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if !bytes.Equal(got.Pack(), packed) {
		t.Error("repacked bytes differ from original")
	}
	if len(got.Files) != 3 || got.Files[1].Reads[0].Name != "q1" {
		t.Errorf("unexpected tree after unpack: %+v", got.Files)
	}
	if !got.IsPadding(2) {
		t.Error("padding entry lost in round trip")
	}
}

func TestUnpackRejectsDamage(t *testing.T) {
	packed := sample().Pack()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", packed[:len(packed)-3]},
		{"trailing", append(append([]byte{}, packed...), 1)},
		{"huge count", []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x7f}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unpack(tt.data); !errors.Is(err, ErrInvalidData) {
				t.Errorf("got %v, want ErrInvalidData", err)
			}
		})
	}
}

func TestLocate(t *testing.T) {
	m := sample()
	ends := m.ReadEnds()
	want := []uint64{8, 16, 26, 32}
	if len(ends) != len(want) {
		t.Fatalf("ReadEnds: got %v, want %v", ends, want)
	}
	for i := range want {
		if ends[i] != want[i] {
			t.Fatalf("ReadEnds: got %v, want %v", ends, want)
		}
	}

	tests := []struct {
		bit    uint64
		file   int
		read   int
		offset uint64
	}{
		{0, 0, 0, 0},
		{6, 0, 0, 3},
		{8, 0, 0, 5}, // second range of r1 starts at read offset 5
		{18, 0, 1, 3},
		{30, 1, 0, 2},
	}
	for _, tt := range tests {
		loc, ok := m.Locate(tt.bit)
		if !ok {
			t.Errorf("Locate(%d): not found", tt.bit)
			continue
		}
		if loc.File != tt.file || loc.Read != tt.read || loc.Offset != tt.offset {
			t.Errorf("Locate(%d): got (%d, %d, %d), want (%d, %d, %d)",
				tt.bit, loc.File, loc.Read, loc.Offset, tt.file, tt.read, tt.offset)
		}
	}
	if _, ok := m.Locate(32); ok {
		t.Error("Locate past the end should fail")
	}
}

type fakeSource struct {
	names []string
	seqs  []string
	i     int
}

func (s *fakeSource) Next() (string, []byte, error) {
	if s.i >= len(s.names) {
		return "", nil, io.EOF
	}
	s.i++
	return s.names[s.i-1], []byte(s.seqs[s.i-1]), nil
}

func (s *fakeSource) Close() error { return nil }

func TestReadData(t *testing.T) {
	files := map[string]*fakeSource{
		"reads.fa": {names: []string{"r1", "skipped", "r2"}, seqs: []string{"ACGTNACGTA", "NNNN", "TTGGCCAAT"}},
		"more.fq":  {names: []string{"q1"}, seqs: []string{"GGG"}},
	}
	open := func(name string) (Source, error) { return files[name], nil }

	m := sample()
	m.AddPadding(2)
	seq := kmer.NewSequence(0)
	if err := m.ReadData(seq, open); err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	want := "ACGT" + "ACGT" + "GGCCA" + "GGG" + "AA"
	if got := seq.String(0, seq.Len()); got != want {
		t.Errorf("sequence: got %s, want %s", got, want)
	}
	if err := m.Validate(seq.Len()); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestReadDataErrors(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		want error
	}{
		{"non ACGT in range", &fakeSource{names: []string{"r"}, seqs: []string{"ACNT"}}, ErrInvalidBase},
		{"missing read", &fakeSource{names: []string{"other"}, seqs: []string{"ACGT"}}, ErrMissingRead},
		{"short read", &fakeSource{names: []string{"r"}, seqs: []string{"AC"}}, ErrSizeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			f := m.AddFile("x")
			m.AddRead(f, "r", []Range{{0, 4}})
			err := m.ReadData(kmer.NewSequence(0), func(string) (Source, error) { return tt.src, nil })
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadDataByRecord(t *testing.T) {
	src := func() *fakeSource {
		return &fakeSource{names: []string{"x", "x", "y"}, seqs: []string{"AC", "TTTTT", "GGGG"}}
	}

	m := New()
	f := m.AddFile("dup.fa")
	m.AddRecord(f, 2, "x", []Range{{0, 2}})
	m.AddRecord(f, 3, "y", []Range{{1, 4}})
	seq := kmer.NewSequence(0)
	if err := m.ReadData(seq, func(string) (Source, error) { return src(), nil }); err != nil {
		t.Fatalf("ReadData: %v", err)
	}
	if got, want := seq.String(0, seq.Len()), "TT"+"GGG"; got != want {
		t.Errorf("sequence: got %s, want %s", got, want)
	}

	tests := []struct {
		name   string
		record int
		read   string
	}{
		{"renamed record", 1, "y"},
		{"past the end", 4, "z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New()
			f := m.AddFile("dup.fa")
			m.AddRecord(f, tt.record, tt.read, []Range{{0, 2}})
			err := m.ReadData(kmer.NewSequence(0), func(string) (Source, error) { return src(), nil })
			if !errors.Is(err, ErrMissingRead) {
				t.Errorf("got %v, want ErrMissingRead", err)
			}
		})
	}

	// Unpacked trees carry no record positions and take the first record
	// with each name.
	u, err := Unpack(m.Pack())
	if err != nil {
		t.Fatal(err)
	}
	seq = kmer.NewSequence(0)
	if err := u.ReadData(seq, func(string) (Source, error) { return src(), nil }); err != nil {
		t.Fatalf("ReadData after Unpack: %v", err)
	}
	if got, want := seq.String(0, seq.Len()), "AC"+"GGG"; got != want {
		t.Errorf("sequence after Unpack: got %s, want %s", got, want)
	}
}
