package bpred

import "github.com/bits-and-blooms/bitset"

// GHR is the authoritative global history register: a fixed-capacity bit
// vector where bit 0 holds the most recent branch outcome and higher
// indices hold progressively older outcomes.
type GHR struct {
	bits   *bitset.BitSet
	length uint
}

// NewGHR creates a global history register of the given bit length.
func NewGHR(length uint) *GHR {
	return &GHR{bits: bitset.New(length), length: length}
}

// Len returns the configured history length in bits.
func (g *GHR) Len() uint {
	return g.length
}

// Test returns the bit at position i (0 = most recent).
func (g *GHR) Test(i uint) bool {
	if i >= g.length {
		return false
	}
	return g.bits.Test(i)
}

// Clone returns a deep, independent copy of the register.
func (g *GHR) Clone() *GHR {
	return &GHR{bits: g.bits.Clone(), length: g.length}
}

// Recover overwrites this register's contents from another snapshot of
// the same length.
func (g *GHR) Recover(other *GHR) {
	g.bits = other.bits.Clone()
}

// Shift pushes shamt new positions into the register, setting bit 0 to
// taken and zeroing the other newly-introduced low bits, discarding bits
// that fall off the top.
func (g *GHR) Shift(shamt int, taken bool) {
	if shamt <= 0 {
		if shamt == 0 {
			g.bits.SetTo(0, taken)
		}
		return
	}
	n := int(g.length)
	if shamt > n {
		shamt = n
	}
	for i := n - 1; i >= shamt; i-- {
		g.bits.SetTo(uint(i), g.bits.Test(uint(i-shamt)))
	}
	for i := 0; i < shamt; i++ {
		g.bits.SetTo(uint(i), false)
	}
	g.bits.SetTo(0, taken)
}

// FoldedHistory maintains a compressed, foldedLen-bit XOR-fold of the
// most recent histLen bits of an authoritative GHR.
//
// Invariant: folded always equals the XOR-fold of the most recent
// histLen bits of the GHR it was last updated or recovered from.
type FoldedHistory struct {
	histLen   int
	foldedLen int
	maxShamt  int
	folded    *bitset.BitSet

	// precomputed per update() per spec.md §4.1 / folded_hist.cc
	ghrBitPos  []uint // posHighestBitsInGhr
	foldBitPos []uint // posHighestBitsInOldFoldedHist
}

// NewFoldedHistory creates a folded history register that compresses a
// histLen-bit window of the GHR into foldedLen bits, supporting shift
// amounts up to maxShamt per update.
func NewFoldedHistory(histLen, foldedLen, maxShamt int) *FoldedHistory {
	fh := &FoldedHistory{
		histLen:   histLen,
		foldedLen: foldedLen,
		maxShamt:  maxShamt,
		folded:    bitset.New(uint(foldedLen)),
	}
	for i := 0; i < maxShamt; i++ {
		ghrPos := uint(histLen - 1 - i)
		fh.ghrBitPos = append(fh.ghrBitPos, ghrPos)
		fh.foldBitPos = append(fh.foldBitPos, ghrPos%uint(foldedLen))
	}
	return fh
}

// Get returns the current folded bits.
func (fh *FoldedHistory) Get() *bitset.BitSet {
	return fh.folded
}

// Uint64 returns the low 64 bits of the folded history as an unsigned
// integer, suitable for indexing and tagging.
func (fh *FoldedHistory) Uint64() uint64 {
	var v uint64
	limit := fh.foldedLen
	if limit > 64 {
		limit = 64
	}
	for i := 0; i < limit; i++ {
		if fh.folded.Test(uint(i)) {
			v |= 1 << uint(i)
		}
	}
	return v
}

// Update applies shamt new GHR shifts and a final taken outcome to the
// folded history, per spec.md §4.1.
func (fh *FoldedHistory) Update(ghr *GHR, shamt int, taken bool) {
	if shamt <= 0 {
		fh.folded.SetTo(0, fh.folded.Test(0) != taken)
		return
	}
	if shamt > fh.maxShamt {
		shamt = fh.maxShamt
	}

	if fh.foldedLen >= fh.histLen {
		// Simple shift: reintroduction is unnecessary, bits above
		// histLen stay zero.
		n := fh.foldedLen
		for i := n - 1; i >= shamt; i-- {
			fh.folded.SetTo(uint(i), fh.folded.Test(uint(i-shamt)))
		}
		for i := 0; i < shamt; i++ {
			fh.folded.SetTo(uint(i), false)
		}
		for i := fh.histLen; i < n; i++ {
			fh.folded.SetTo(uint(i), false)
		}
		fh.folded.SetTo(0, taken)
		return
	}

	// foldedLen < histLen: reintroduce the bits leaving the window,
	// then rotate-left by shamt with wraparound, then XOR in taken.
	work := bitset.New(uint(fh.foldedLen + shamt))
	for i := 0; i < fh.foldedLen; i++ {
		work.SetTo(uint(i), fh.folded.Test(uint(i)))
	}
	for i := 0; i < shamt; i++ {
		pos := fh.foldBitPos[i]
		ghrBit := ghr.Test(fh.ghrBitPos[i])
		work.SetTo(pos, work.Test(pos) != ghrBit)
	}
	shifted := bitset.New(uint(fh.foldedLen + shamt))
	n := fh.foldedLen + shamt
	for i := 0; i < n; i++ {
		if i+shamt < n && work.Test(uint(i)) {
			shifted.SetTo(uint(i+shamt), true)
		}
	}
	for i := 0; i < shamt; i++ {
		shifted.SetTo(uint(i), shifted.Test(uint(fh.foldedLen+i)))
	}
	shifted.SetTo(0, shifted.Test(0) != taken)

	fh.folded = bitset.New(uint(fh.foldedLen))
	for i := 0; i < fh.foldedLen; i++ {
		fh.folded.SetTo(uint(i), shifted.Test(uint(i)))
	}
}

// Recover assigns this folded history from another instance of the same
// configuration, used to restore a snapshot taken at prediction time.
func (fh *FoldedHistory) Recover(other *FoldedHistory) {
	fh.folded = other.folded.Clone()
}

// Snapshot returns an independent copy for later recovery.
func (fh *FoldedHistory) Snapshot() *FoldedHistory {
	return &FoldedHistory{
		histLen:    fh.histLen,
		foldedLen:  fh.foldedLen,
		maxShamt:   fh.maxShamt,
		folded:     fh.folded.Clone(),
		ghrBitPos:  fh.ghrBitPos,
		foldBitPos: fh.foldBitPos,
	}
}

// Check is a debug assertion verifying that the folded form equals the
// naive XOR-fold of ghr's most recent histLen bits.
func (fh *FoldedHistory) Check(ghr *GHR) bool {
	ideal := bitset.New(uint(fh.foldedLen))
	for i := 0; i < fh.histLen; i++ {
		if ghr.Test(uint(i)) {
			pos := uint(i % fh.foldedLen)
			ideal.SetTo(pos, !ideal.Test(pos))
		}
	}
	for i := 0; i < fh.foldedLen; i++ {
		if ideal.Test(uint(i)) != fh.folded.Test(uint(i)) {
			return false
		}
	}
	return true
}
