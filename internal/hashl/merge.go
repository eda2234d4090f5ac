package hashl

import (
	"fmt"

	"kmer.lopezb.com/internal/kmer"
)

// Normalize turns counts into presence indicators: an entry below min is
// removed, one above max becomes INVALID, and every other entry becomes 1.
// INVALID entries stay INVALID.
func (h *Hash) Normalize(min, max uint64) error {
	if h.Spilled() {
		return ErrSpilled
	}
	var removed uint64
	for i, off := range h.offsets {
		if off == Empty {
			continue
		}
		slot := uint64(i)
		v := h.value(slot)
		switch {
		case v == Invalid:
		case v < min:
			h.clearSlot(slot)
			removed++
		case v > max:
			h.set(slot, Invalid, h.cfg.AllowOverflow)
		default:
			h.set(slot, 1, h.cfg.AllowOverflow)
		}
	}
	if removed > 0 {
		h.used -= removed
		h.rehash()
	}
	return nil
}

// Add merges o into h through the [min, max] window: entries of o below min
// are ignored, entries above max (or INVALID) make the kmer INVALID in h, and
// every other entry adds one to h's count.
//
// o's sequence is appended to h's after a run of k padding bases, and o's
// metadata is appended after a padding read, so every offset o holds stays
// valid in h after shifting. o is not modified and must not be h.
func (h *Hash) Add(o *Hash, min, max uint64) error {
	if o.k != h.k {
		return fmt.Errorf("%w: adding k=%d to k=%d", ErrKmerLength, o.k, h.k)
	}
	if h.Spilled() || o.Spilled() {
		return ErrSpilled
	}
	if o == h {
		return fmt.Errorf("hashl: cannot add a hash to itself")
	}

	if h.seq.Len() > 0 {
		h.seq.AppendZeros(uint64(h.k))
		h.meta.AddPadding(uint64(h.k))
	}
	shift := h.seq.AppendSequence(o.seq)
	h.meta.Append(o.meta)

	for i, off := range o.offsets {
		if off == Empty {
			continue
		}
		v := o.value(uint64(i))
		if v == 0 || (v < min && v != Invalid) {
			continue
		}
		slot, err := h.insertAt(off + shift)
		if err != nil {
			return err
		}
		if v == Invalid || v > max {
			h.set(slot, Invalid, h.cfg.AllowOverflow)
		} else {
			h.bump(slot, h.cfg.AllowOverflow)
		}
	}
	return nil
}

// CrossReference reports every kmer of target whose count in ref is at most
// the sharing limit. ref is expected to be the merge of refCount normalized
// hashes, so its counts say how many references hold each kmer. A negative
// sharing means "all but -sharing references". Kmers absent from ref have a
// reference count of 0; INVALID entries in ref are never reported.
//
// fn receives the canonical key, the target count and the reference count.
// The key is reused between calls.
func CrossReference(target, ref *Hash, sharing, refCount int, fn func(key *kmer.Key, count, refs uint64) error) error {
	if target.k != ref.k {
		return fmt.Errorf("%w: target k=%d, reference k=%d", ErrKmerLength, target.k, ref.k)
	}
	if ref.Spilled() {
		return ErrSpilled
	}

	limit := int64(sharing)
	if sharing < 0 {
		limit = int64(refCount) + int64(sharing)
	}
	if limit < 0 {
		return nil
	}

	it := target.Iterator()
	defer it.Close()
	for it.Next() {
		refs := ref.Value(it.Key())
		if refs == Invalid || refs > uint64(limit) {
			continue
		}
		if err := fn(it.Key(), it.Value(), refs); err != nil {
			return err
		}
	}
	return it.Err()
}

// Histogram returns the number of kmers per count and the number of INVALID
// entries. It works on spilled hashes too, merging as it goes.
func (h *Hash) Histogram() (map[uint64]uint64, uint64, error) {
	hist := make(map[uint64]uint64)
	var invalid uint64

	it := h.Iterator()
	defer it.Close()
	for it.Next() {
		if v := it.Value(); v == Invalid {
			invalid++
		} else {
			hist[v]++
		}
	}
	if err := it.Err(); err != nil {
		return nil, 0, err
	}
	return hist, invalid, nil
}
