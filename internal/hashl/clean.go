package hashl

// Clean removes every kmer whose count is exactly one and re-seats the
// survivors in place. It returns the number of slots freed. When a MinLoad
// is configured and the table ends up emptier than it, the table shrinks.
func (h *Hash) Clean() uint64 {
	freed := h.clean()
	if freed > 0 && h.cfg.MinLoad > 0 && float64(h.used) < h.cfg.MinLoad*float64(h.modulus) {
		hint := uint64(float64(h.used) / h.targetLoad())
		if err := h.Resize(hint); err != nil {
			h.logger.Warn("shrinking hash after clean", "error", err)
		}
	}
	return freed
}

func (h *Hash) clean() uint64 {
	var freed uint64
	for i, off := range h.offsets {
		if off != Empty && h.counts[i] == 1 {
			h.clearSlot(uint64(i))
			freed++
		}
	}
	if freed == 0 {
		return 0
	}
	h.used -= freed
	h.rehash()
	return freed
}

// rehash restores the probe invariant after slots were emptied without
// moving anything: every slot between an entry's home and its position on
// the probe chain must be occupied, or lookups stop early.
func (h *Hash) rehash() {
	//
	// DESIGN
	// ------
	//
	// A clear-and-reinsert would need a second table. Instead entries are
	// moved within the existing arrays, in two phases.
	//
	// 1. SEAT PRIMARIES
	//    One sweep over the slots. An entry not in its home slot moves there
	//    when home is EMPTY, or swaps with the occupant when that occupant is
	//    not at its own home either. Entries sitting at home never move, so
	//    this phase fixes most of the table in a single pass.
	//
	// 2. PULL FORWARD
	//    Repeated sweeps. For each entry, walk its probe chain from home; if
	//    an EMPTY slot comes before the entry's own slot, move it there.
	//    Every move shortens one entry's chain position and nothing lengthens
	//    one, so the sweeps stop once a full sweep moves nothing. At that
	//    point every chain is gap-free up to its entry.
	//
	// The double-hash chain of a prime modulus visits every slot, so the
	// walk in phase 2 always reaches the entry's current slot.
	//
	t := &h.table

	for i := uint64(0); i < t.modulus; i++ {
		if t.offsets[i] == Empty {
			continue
		}
		home := h.slotHash(t, i) % t.modulus
		if home == i {
			continue
		}
		if t.offsets[home] == Empty {
			t.moveSlot(i, t, home)
			continue
		}
		if h.slotHash(t, home)%t.modulus != home {
			t.swapSlots(i, home)
		}
	}

	for moved := true; moved; {
		moved = false
		for i := uint64(0); i < t.modulus; i++ {
			if t.offsets[i] == Empty {
				continue
			}
			p, step := t.chain(h.slotHash(t, i))
			for p != i {
				if t.offsets[p] == Empty {
					t.moveSlot(i, t, p)
					moved = true
					break
				}
				p = t.next(p, step)
			}
		}
	}
}
