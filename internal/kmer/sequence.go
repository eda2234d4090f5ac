package kmer

// Sequence is an append-only array of 2-bit bases packed into 64-bit words.
//
// Memory Layout
// =============
//
//	word 0                              word 1
//	+----+----+----+-- ... --+----+    +----+----+-- ...
//	| b0 | b1 | b2 |         | b31|    | b32| b33|
//	+----+----+----+-- ... --+----+    +----+----+-- ...
//	 63                           0     63
//
// Base i lives at bit offset 2*i counted from the most significant bit of
// word 0. Bits past the logical length are always zero, and a base is never
// rewritten once appended, so a bit offset handed out by Append stays valid
// for the lifetime of the sequence.
type Sequence struct {
	words  []uint64
	length uint64 // in bases
}

// NewSequence returns an empty sequence with room for capacity bases.
func NewSequence(capacity uint64) *Sequence {
	return &Sequence{
		words: make([]uint64, 0, wordsFor(2*capacity)),
	}
}

// SequenceFromWords wraps words holding length bases. The slice is used
// directly; it must hold at least enough words for length bases.
func SequenceFromWords(words []uint64, length uint64) *Sequence {
	return &Sequence{words: words, length: length}
}

// Len returns the logical length in bases.
func (s *Sequence) Len() uint64 {
	return s.length
}

// BitLen returns the logical length in bits, which is also the bit offset
// the next appended base will receive.
func (s *Sequence) BitLen() uint64 {
	return 2 * s.length
}

// Words returns the backing words. Callers must not modify them.
func (s *Sequence) Words() []uint64 {
	return s.words
}

// Grow makes room for n more bases without reallocating during the appends.
func (s *Sequence) Grow(n uint64) {
	need := wordsFor(2 * (s.length + n))
	if need <= cap(s.words) {
		return
	}
	words := make([]uint64, len(s.words), need)
	copy(words, s.words)
	s.words = words
}

// AppendBase appends a single 2-bit code.
func (s *Sequence) AppendBase(b uint8) {
	bit := 2 * s.length
	w := int(bit / WordBits)
	if w == len(s.words) {
		s.words = append(s.words, 0)
	}
	s.words[w] |= uint64(b&3) << (WordBits - 2 - bit%WordBits)
	s.length++
}

// Append appends 2-bit codes and returns the bit offset of the first one.
func (s *Sequence) Append(codes []uint8) uint64 {
	start := s.BitLen()
	s.Grow(uint64(len(codes)))
	for _, b := range codes {
		s.AppendBase(b)
	}
	return start
}

// AppendString appends ASCII bases. Any character outside ACGT is rejected
// with ErrInvalidBase; bases before it have already been appended.
func (s *Sequence) AppendString(bases []byte) (uint64, error) {
	start := s.BitLen()
	s.Grow(uint64(len(bases)))
	for _, c := range bases {
		b, ok := Encode(c)
		if !ok {
			return start, ErrInvalidBase
		}
		s.AppendBase(b)
	}
	return start, nil
}

// AppendZeros appends n A bases. Used as padding between merged datasets so
// that no kmer window spans two of them with meaningful content.
func (s *Sequence) AppendZeros(n uint64) uint64 {
	start := s.BitLen()
	s.length += n
	need := wordsFor(2 * s.length)
	for len(s.words) < need {
		s.words = append(s.words, 0)
	}
	return start
}

// AppendSequence appends every base of o and returns the bit offset at which
// o's first base now lives. When the current length is word aligned the
// words are copied directly.
func (s *Sequence) AppendSequence(o *Sequence) uint64 {
	start := s.BitLen()
	if start%WordBits == 0 {
		s.words = append(s.words[:start/WordBits], o.words[:wordsFor(o.BitLen())]...)
		s.length += o.length
		return start
	}
	s.Grow(o.length)
	for i := uint64(0); i < o.length; i++ {
		s.AppendBase(o.Base(i))
	}
	return start
}

// Base returns the code of the base at base index i.
func (s *Sequence) Base(i uint64) uint8 {
	bit := 2 * i
	return uint8(s.words[bit/WordBits]>>(WordBits-2-bit%WordBits)) & 3
}

// bits returns n bits (1 <= n <= 64) starting at bit offset pos,
// right-aligned in the result.
//
// The three word alignments are handled by the same expression: a span that
// ends exactly at the word boundary or inside it is a right shift and mask of
// one word; a span that crosses into the next word ORs in the high bits of
// that word. Shifts of 64 or more yield zero in Go, which covers the edges.
func (s *Sequence) bits(pos uint64, n uint) uint64 {
	w := pos / WordBits
	sh := uint(pos % WordBits)
	if sh+n <= WordBits {
		return (s.words[w] >> (WordBits - sh - n)) & mask(n)
	}
	spill := sh + n - WordBits
	hi := (s.words[w] & mask(WordBits-sh)) << spill
	return hi | s.words[w+1]>>(WordBits-spill)
}

// Load reads key.K() bases starting at bit offset into key.
func (s *Sequence) Load(offset uint64, key *Key) {
	r := key.highBits
	key.words[0] = s.bits(offset, r)
	pos := offset + uint64(r)
	for i := 1; i < len(key.words); i++ {
		key.words[i] = s.bits(pos, WordBits)
		pos += WordBits
	}
}

// Equal reports whether the bases at bit offset match key, without
// materializing a second key.
func (s *Sequence) Equal(offset uint64, key *Key) bool {
	r := key.highBits
	if s.bits(offset, r) != key.words[0] {
		return false
	}
	pos := offset + uint64(r)
	for i := 1; i < len(key.words); i++ {
		if s.bits(pos, WordBits) != key.words[i] {
			return false
		}
		pos += WordBits
	}
	return true
}

// Contains reports whether a kmer of k bases starting at bit offset lies
// entirely within the sequence.
func (s *Sequence) Contains(offset uint64, k int) bool {
	return offset%2 == 0 && offset+2*uint64(k) <= s.BitLen()
}

// String renders bases [from, to) as ASCII.
func (s *Sequence) String(from, to uint64) string {
	if to > s.length {
		to = s.length
	}
	if from >= to {
		return ""
	}
	buf := make([]byte, 0, to-from)
	for i := from; i < to; i++ {
		buf = append(buf, Letter(s.Base(i)))
	}
	return string(buf)
}
