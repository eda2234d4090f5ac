package hashl

import (
	"fmt"

	"kmer.lopezb.com/internal/kmer"
)

// value resolves a slot's count from the inline byte and the overflow map.
func (t *table) value(slot uint64) uint64 {
	c := t.counts[slot]
	if c < MaxInline {
		return uint64(c)
	}
	ov, ok := t.overflow[slot]
	if !ok {
		return MaxInline
	}
	if ov == Invalid {
		return Invalid
	}
	return MaxInline + ov
}

func (t *table) invalid(slot uint64) bool {
	return t.counts[slot] == MaxInline && t.overflow[slot] == Invalid
}

// bump adds one to a slot, saturating at MaxInline unless overflow is on.
func (t *table) bump(slot uint64, allowOverflow bool) {
	c := t.counts[slot]
	if c < MaxInline {
		t.counts[slot] = c + 1
		return
	}
	if !allowOverflow {
		return
	}
	ov := t.overflow[slot]
	if ov >= Invalid-MaxInline-1 {
		return // invalid, or at the representable ceiling
	}
	t.overflow[slot] = ov + 1
}

// set stores v in a slot, keeping overflow entries only while saturated.
func (t *table) set(slot, v uint64, allowOverflow bool) {
	switch {
	case v == Invalid:
		t.counts[slot] = MaxInline
		t.overflow[slot] = Invalid
	case v <= MaxInline:
		t.counts[slot] = uint8(v)
		delete(t.overflow, slot)
	default:
		t.counts[slot] = MaxInline
		if allowOverflow {
			t.overflow[slot] = v - MaxInline
		} else {
			delete(t.overflow, slot)
		}
	}
}

func (t *table) altValue(i int, slot uint64) uint64 {
	c := t.alt[i][slot]
	if c < MaxInline {
		return uint64(c)
	}
	return MaxInline + t.altOverflow[i][slot]
}

func (t *table) altBump(i int, slot uint64, allowOverflow bool) {
	c := t.alt[i][slot]
	if c < MaxInline {
		t.alt[i][slot] = c + 1
		return
	}
	if allowOverflow {
		t.altOverflow[i][slot]++
	}
}

// clearSlot marks a slot EMPTY and drops every counter attached to it.
// It does not touch used.
func (t *table) clearSlot(slot uint64) {
	t.offsets[slot] = Empty
	t.counts[slot] = 0
	delete(t.overflow, slot)
	for i := range t.alt {
		t.alt[i][slot] = 0
		delete(t.altOverflow[i], slot)
	}
}

// moveSlot relocates the entry in slot from to the EMPTY slot to of dst,
// which may be t itself.
func (t *table) moveSlot(from uint64, dst *table, to uint64) {
	dst.offsets[to] = t.offsets[from]
	dst.counts[to] = t.counts[from]
	if ov, ok := t.overflow[from]; ok {
		dst.overflow[to] = ov
	}
	for i := range t.alt {
		dst.alt[i][to] = t.alt[i][from]
		if ov, ok := t.altOverflow[i][from]; ok {
			dst.altOverflow[i][to] = ov
		}
	}
	if dst == t {
		t.clearSlot(from)
	}
}

// swapSlots exchanges two occupied slots.
func (t *table) swapSlots(a, b uint64) {
	t.offsets[a], t.offsets[b] = t.offsets[b], t.offsets[a]
	t.counts[a], t.counts[b] = t.counts[b], t.counts[a]
	swapEntry(t.overflow, a, b)
	for i := range t.alt {
		t.alt[i][a], t.alt[i][b] = t.alt[i][b], t.alt[i][a]
		swapEntry(t.altOverflow[i], a, b)
	}
}

func swapEntry(m map[uint64]uint64, a, b uint64) {
	va, oka := m[a]
	vb, okb := m[b]
	delete(m, a)
	delete(m, b)
	if oka {
		m[b] = va
	}
	if okb {
		m[a] = vb
	}
}

// IncrementKmer counts one occurrence of the kmer whose forward and
// reverse-complement keys are fwd and rc, found at bit offset in the hash's
// sequence.
func (h *Hash) IncrementKmer(fwd, rc *kmer.Key, offset uint64) error {
	canon, comp := orient(fwd, rc)
	slot, err := h.insert(canon, comp, offset)
	if err != nil {
		return err
	}
	h.bump(slot, h.cfg.AllowOverflow)
	return nil
}

// Increment counts one occurrence of the kmer at bit offset in the hash's
// sequence.
func (h *Hash) Increment(offset uint64) error {
	slot, err := h.insertAt(offset)
	if err != nil {
		return err
	}
	h.bump(slot, h.cfg.AllowOverflow)
	return nil
}

// IncrementAlt counts one occurrence like IncrementKmer and also bumps every
// alt counter whose bit is set in mask.
func (h *Hash) IncrementAlt(fwd, rc *kmer.Key, offset uint64, mask uint64) error {
	canon, comp := orient(fwd, rc)
	slot, err := h.insert(canon, comp, offset)
	if err != nil {
		return err
	}
	h.bump(slot, h.cfg.AllowOverflow)
	for i := range h.alt {
		if mask&(1<<uint(i)) != 0 {
			h.altBump(i, slot, h.cfg.AllowOverflow)
		}
	}
	return nil
}

// Assign sets the count of the kmer at bit offset, inserting it if needed.
func (h *Hash) Assign(offset uint64, v uint64) error {
	slot, err := h.insertAt(offset)
	if err != nil {
		return err
	}
	h.set(slot, v, h.cfg.AllowOverflow)
	return nil
}

// Invalidate marks an existing kmer INVALID. It reports whether the kmer
// was present.
func (h *Hash) Invalidate(key *kmer.Key) bool {
	slot, ok := h.find(key)
	if !ok {
		return false
	}
	h.set(slot, Invalid, h.cfg.AllowOverflow)
	return true
}

// Value returns the count of key in either orientation, 0 when absent and
// Invalid for an invalidated entry.
func (h *Hash) Value(key *kmer.Key) uint64 {
	slot, ok := h.find(key)
	if !ok {
		return 0
	}
	return h.value(slot)
}

// AltValue returns alt counter i of key, 0 when absent.
func (h *Hash) AltValue(key *kmer.Key, i int) (uint64, error) {
	if i < 0 || i >= len(h.alt) {
		return 0, fmt.Errorf("hashl: alt counter %d of %d", i, len(h.alt))
	}
	slot, ok := h.find(key)
	if !ok {
		return 0, nil
	}
	return h.altValue(i, slot), nil
}

// SlotValue returns the count held in a slot.
func (h *Hash) SlotValue(slot uint64) uint64 {
	return h.value(slot)
}

// Total returns the sum of all valid counts held in memory.
func (h *Hash) Total() uint64 {
	var sum uint64
	for i, off := range h.offsets {
		if off == Empty {
			continue
		}
		if v := h.value(uint64(i)); v != Invalid {
			sum += v
		}
	}
	return sum
}
