package hashl

import "fmt"

// Resize rebuilds the table for a new size hint. Every entry is re-derived
// from the sequence and re-inserted into fresh arrays; the sequence and the
// metadata are untouched. The hint must leave room for the current entries
// plus one EMPTY slot.
func (h *Hash) Resize(hint uint64) error {
	if h.Spilled() {
		return ErrSpilled
	}
	nt := newTable(hint, len(h.alt))
	if nt.modulus-1 < h.used {
		return fmt.Errorf("%w: %d entries, modulus %d", ErrTooSmall, h.used, nt.modulus)
	}

	for i, off := range h.offsets {
		if off == Empty {
			continue
		}
		canon, comp := h.canonicalAt(off)
		slot, _ := h.probeIn(nt, canon, comp)
		h.moveSlot(uint64(i), nt, slot)
	}
	nt.used = h.used

	h.logger.Debug("resized hash", "used", h.used, "from", h.modulus, "to", nt.modulus)
	h.table = *nt
	return nil
}

// Consolidate folds every spill file and the in-memory remainder back into
// a single in-memory table and removes the spill files. Counts of a kmer
// present in several spills are summed.
//
// The rebuilt table is sized for the merged entry count, so it may be larger
// than the table that spilled.
func (h *Hash) Consolidate() error {
	if !h.Spilled() {
		return nil
	}

	// Pass 1: count distinct kmers.
	it := h.Iterator()
	var n uint64
	for it.Next() {
		n++
	}
	if err := it.Err(); err != nil {
		_ = it.Close()
		return err
	}
	if err := it.Close(); err != nil {
		return err
	}

	hint := n + n/8 + 1
	if h.cfg.MaxLoad > 0 {
		hint = uint64(float64(n)/h.targetLoad()) + 1
	}
	if hint < h.cfg.SizeHint {
		hint = h.cfg.SizeHint
	}
	nt := newTable(hint, 0)

	// Pass 2: seat every merged entry.
	it = h.Iterator()
	for it.Next() {
		canon := it.Key()
		canon.ReverseComplement(h.comp)
		slot, found := h.probeIn(nt, canon, h.comp)
		if found {
			_ = it.Close()
			return fmt.Errorf("hashl: kmer %s repeated in merge", canon)
		}
		nt.offsets[slot] = it.Offset()
		nt.set(slot, it.Value(), h.cfg.AllowOverflow)
		nt.used++
	}
	if err := it.Err(); err != nil {
		_ = it.Close()
		return err
	}
	if err := it.Close(); err != nil {
		return err
	}

	spills := len(h.spills)
	h.table = *nt
	if err := h.removeSpills(); err != nil {
		h.logger.Warn("removing spill files", "error", err)
	}
	h.logger.Info("consolidated hash", "spills", spills, "entries", n, "modulus", h.modulus)
	return nil
}
