package hashl

import (
	"fmt"

	"kmer.lopezb.com/internal/kmer"
)

// sizes returns the modulus and step modulus for a size hint.
func sizes(hint uint64) (modulus, stepMod uint64) {
	modulus = nextPrime(hint + 1)
	if modulus < 3 {
		modulus = 3
	}
	stepMod = nextPrime(hint / 2)
	if stepMod >= modulus {
		stepMod = 2
	}
	return modulus, stepMod
}

// nextPrime returns the smallest prime >= n, and 2 for n < 2.
func nextPrime(n uint64) uint64 {
	if n <= 2 {
		return 2
	}
	if n%2 == 0 {
		n++
	}
	for !isPrime(n) {
		n += 2
	}
	return n
}

// isPrime is trial division over 6k±1, plenty for table sizes.
func isPrime(n uint64) bool {
	switch {
	case n < 2:
		return false
	case n < 4:
		return true
	case n%2 == 0 || n%3 == 0:
		return false
	}
	for i := uint64(5); i*i <= n; i += 6 {
		if n%i == 0 || n%(i+2) == 0 {
			return false
		}
	}
	return true
}

// chain returns the first slot and the step of the probe sequence for hv.
func (t *table) chain(hv uint64) (start, step uint64) {
	return hv % t.modulus, t.stepMod - hv%t.stepMod
}

func (t *table) next(i, step uint64) uint64 {
	i += step
	if i >= t.modulus {
		i -= t.modulus
	}
	return i
}

// probeIn walks t's probe sequence for canon. It returns the slot holding
// the kmer, or the first EMPTY slot and false. comp is canon's reverse
// complement; the stored occurrence may be in either orientation.
func (h *Hash) probeIn(t *table, canon, comp *kmer.Key) (uint64, bool) {
	i, step := t.chain(canon.Hash())
	for n := uint64(0); n < t.modulus; n++ {
		off := t.offsets[i]
		if off == Empty {
			return i, false
		}
		if h.seq.Equal(off, canon) || h.seq.Equal(off, comp) {
			return i, true
		}
		i = t.next(i, step)
	}
	// Unreachable while at least one slot is EMPTY.
	return Empty, false
}

// canonicalAt loads the kmer at offset into the scratch keys and returns
// (canonical, other orientation).
func (h *Hash) canonicalAt(offset uint64) (canon, comp *kmer.Key) {
	h.seq.Load(offset, h.key)
	h.key.ReverseComplement(h.comp)
	return orient(h.key, h.comp)
}

// canonicalOf returns (canonical, other orientation) for a caller key.
func (h *Hash) canonicalOf(key *kmer.Key) (canon, comp *kmer.Key) {
	key.ReverseComplement(h.lookup)
	return orient(key, h.lookup)
}

// insertAt inserts the kmer found at offset in the hash's own sequence.
func (h *Hash) insertAt(offset uint64) (uint64, error) {
	if err := h.checkOffset(offset); err != nil {
		return Empty, err
	}
	h.seq.Load(offset, h.ins)
	h.ins.ReverseComplement(h.insComp)
	canon, comp := orient(h.ins, h.insComp)
	return h.insert(canon, comp, offset)
}

func orient(fwd, rc *kmer.Key) (canon, comp *kmer.Key) {
	if rc.Compare(fwd) < 0 {
		return rc, fwd
	}
	return fwd, rc
}

// slotHash re-derives the hash of the kmer stored in slot i of t.
func (h *Hash) slotHash(t *table, i uint64) uint64 {
	canon, _ := h.canonicalAt(t.offsets[i])
	return canon.Hash()
}

// insert returns the slot for canon, claiming an EMPTY one for offset if the
// kmer is new. A full table runs the NoSpace strategy and retries.
func (h *Hash) insert(canon, comp *kmer.Key, offset uint64) (uint64, error) {
	for {
		slot, found := h.probeIn(&h.table, canon, comp)
		if found {
			return slot, nil
		}
		if h.used+1 < h.modulus && !h.overLoaded() {
			h.offsets[slot] = offset
			h.counts[slot] = 0
			h.used++
			return slot, nil
		}
		if err := h.makeRoom(); err != nil {
			return Empty, err
		}
	}
}

func (h *Hash) overLoaded() bool {
	return h.cfg.MaxLoad > 0 && float64(h.used+1) > h.cfg.MaxLoad*float64(h.modulus)
}

// makeRoom frees at least one slot or reports ErrFull. Growth under a load
// bound takes precedence over the NoSpace strategies.
func (h *Hash) makeRoom() error {
	if h.cfg.MaxLoad > 0 {
		return h.grow()
	}
	if h.cfg.NoSpace&CleanHash != 0 {
		if freed := h.clean(); freed > 0 {
			h.logger.Debug("cleaned hash", "freed", freed, "used", h.used, "modulus", h.modulus)
			return nil
		}
	}
	if h.cfg.NoSpace&TmpFile != 0 && h.used > 0 {
		return h.spill()
	}
	return fmt.Errorf("%w: %d of %d slots used", ErrFull, h.used, h.modulus)
}

// targetLoad is the load a resize aims for.
func (h *Hash) targetLoad() float64 {
	if h.cfg.MinLoad > 0 {
		return (h.cfg.MinLoad + h.cfg.MaxLoad) / 2
	}
	return h.cfg.MaxLoad / 2
}

func (h *Hash) grow() error {
	hint := uint64(float64(h.used+1)/h.targetLoad()) + 1
	h.logger.Debug("growing hash", "used", h.used, "modulus", h.modulus, "hint", hint)
	return h.Resize(hint)
}

// find returns the slot holding key in either orientation.
func (h *Hash) find(key *kmer.Key) (uint64, bool) {
	if key.K() != h.k {
		return Empty, false
	}
	canon, comp := h.canonicalOf(key)
	return h.probeIn(&h.table, canon, comp)
}

// Find reports the slot holding key, in either orientation.
func (h *Hash) Find(key *kmer.Key) (uint64, bool) {
	slot, ok := h.find(key)
	if !ok {
		return Empty, false
	}
	return slot, true
}

// Contains reports whether key is present.
func (h *Hash) Contains(key *kmer.Key) bool {
	_, ok := h.find(key)
	return ok
}

func (h *Hash) checkOffset(offset uint64) error {
	if !h.seq.Contains(offset, h.k) {
		return fmt.Errorf("%w: bit %d, sequence has %d bits", ErrOffset, offset, h.seq.BitLen())
	}
	return nil
}
