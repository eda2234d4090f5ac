package hashl

import "kmer.lopezb.com/internal/kmer"

// Iterator walks the entries of a hash.
//
// Without spill files it visits occupied slots in slot order. With spill
// files it performs a k-way merge of every spill file plus the sorted
// in-memory remainder, yielding entries in canonical key order and summing
// the counts of a kmer that appears in several inputs.
//
//	it := h.Iterator()
//	defer it.Close()
//	for it.Next() {
//		fmt.Println(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	h    *Hash
	key  *kmer.Key
	comp *kmer.Key

	// slot mode
	slot uint64

	// merge mode
	merging bool
	heap    mergeHeap
	value   uint64
	offset  uint64

	err error
}

// Iterator returns an iterator positioned before the first entry.
func (h *Hash) Iterator() *Iterator {
	it := &Iterator{
		h:    h,
		key:  kmer.NewKey(h.k),
		comp: kmer.NewKey(h.k),
		slot: Empty,
	}
	if len(h.spills) > 0 {
		it.merging = true
		it.err = it.openMerge()
	}
	return it
}

func (it *Iterator) openMerge() error {
	h := it.h
	var sources []cursor
	for _, path := range h.spills {
		c, err := openSpill(path, h.k)
		if err != nil {
			closeAll(sources)
			return err
		}
		sources = append(sources, c)
	}
	if h.used > 0 {
		sources = append(sources, &memCursor{e: h.collect(), pos: -1})
	}

	for i, c := range sources {
		ok, err := c.advance()
		if err != nil {
			closeAll(sources)
			it.heap = nil
			return err
		}
		if !ok {
			_ = c.close()
			continue
		}
		it.heap.Push(&frontier{cursor: c, source: i})
	}
	return nil
}

func closeAll(cs []cursor) {
	for _, c := range cs {
		_ = c.close()
	}
}

// Next advances to the next entry.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.merging {
		return it.nextMerged()
	}

	t := &it.h.table
	for it.slot++; it.slot < t.modulus; it.slot++ {
		if t.offsets[it.slot] != Empty {
			it.h.seq.Load(t.offsets[it.slot], it.key)
			it.key.ReverseComplement(it.comp)
			if it.comp.Compare(it.key) < 0 {
				it.key.CopyFrom(it.comp)
			}
			return true
		}
	}
	return false
}

func (it *Iterator) nextMerged() bool {
	if len(it.heap) == 0 {
		return false
	}

	top := it.heap[0]
	it.key.SetWords(top.key())
	it.offset = top.offset()
	it.value = 0
	first := true

	for len(it.heap) > 0 && compareWords(it.heap[0].key(), it.key.Words()) == 0 {
		f := it.heap[0]
		if first {
			it.value = f.value()
			first = false
		} else {
			it.value = addCounts(it.value, f.value())
		}

		ok, err := f.advance()
		if err != nil {
			it.err = err
			return false
		}
		if ok {
			it.heap.Fix(0)
		} else {
			_ = f.close()
			it.heap.Remove(0)
		}
	}
	return true
}

// addCounts sums two counts; INVALID absorbs, and the sum saturates just
// below INVALID.
func addCounts(a, b uint64) uint64 {
	if a == Invalid || b == Invalid {
		return Invalid
	}
	if s := a + b; s >= a && s != Invalid {
		return s
	}
	return Invalid - 1
}

// Key returns the canonical key of the current entry. The key is reused by
// the next call to Next.
func (it *Iterator) Key() *kmer.Key { return it.key }

// Value returns the count of the current entry.
func (it *Iterator) Value() uint64 {
	if it.merging {
		return it.value
	}
	return it.h.value(it.slot)
}

// Offset returns the bit offset of an occurrence of the current kmer in the
// hash's sequence.
func (it *Iterator) Offset() uint64 {
	if it.merging {
		return it.offset
	}
	return it.h.offsets[it.slot]
}

// Slot returns the slot of the current entry. It is only meaningful when
// the hash has no spill files.
func (it *Iterator) Slot() (uint64, bool) {
	return it.slot, !it.merging
}

// Alt returns alt counter i of the current entry.
func (it *Iterator) Alt(i int) uint64 {
	if it.merging || i < 0 || i >= len(it.h.alt) {
		return 0
	}
	return it.h.altValue(i, it.slot)
}

// Err returns the first error met while iterating.
func (it *Iterator) Err() error { return it.err }

// Close releases any open spill files.
func (it *Iterator) Close() error {
	var first error
	for _, f := range it.heap {
		if err := f.close(); err != nil && first == nil {
			first = err
		}
	}
	it.heap = nil
	return first
}

// frontier is a merge input positioned on its current entry.
type frontier struct {
	cursor
	source int
}

// mergeHeap is a min-heap of merge inputs ordered by current key, with the
// source index as tiebreaker. Operations are written out instead of going
// through container/heap so no interface boxing happens per step.
type mergeHeap []*frontier

func (m mergeHeap) Len() int      { return len(m) }
func (m mergeHeap) Swap(i, j int) { m[i], m[j] = m[j], m[i] }

func (m mergeHeap) Less(i, j int) bool {
	if c := compareWords(m[i].key(), m[j].key()); c != 0 {
		return c < 0
	}
	return m[i].source < m[j].source
}

// Push appends an input and bubbles it up.
func (m *mergeHeap) Push(f *frontier) {
	*m = append(*m, f)
	m.up(len(*m) - 1)
}

// Remove drops element i and restores the heap.
func (m *mergeHeap) Remove(i int) {
	old := *m
	n := len(old) - 1
	if i != n {
		old.Swap(i, n)
	}
	old[n] = nil
	*m = old[:n]
	if i < n {
		m.Fix(i)
	}
}

func (m mergeHeap) up(j int) {
	for {
		i := (j - 1) / 2 // parent
		if i == j || !m.Less(j, i) {
			break
		}
		m.Swap(i, j)
		j = i
	}
}

func (m mergeHeap) down(i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && m.Less(j2, j1) {
			j = j2
		}
		if !m.Less(j, i) {
			break
		}
		m.Swap(i, j)
		i = j
	}
	return i > i0
}

// Fix restores the heap after element i changed key.
func (m *mergeHeap) Fix(i int) {
	if !m.down(i, len(*m)) {
		m.up(i)
	}
}
