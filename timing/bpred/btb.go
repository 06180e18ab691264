package bpred

import (
	"container/heap"
	"math/bits"
)

// mruHeap is a small binary min-heap over way indices within one BTB
// set, ordered by each way's Tick. It replaces the original's raw
// pointers into a vector of iterators (spec.md §9) with indices into a
// fixed-size slice plus a position map so Fix can be applied in O(log
// numWays) after any tick update.
type mruHeap struct {
	order []int
	pos   []int
	ways  *[]TickedBTBEntry
}

func newMRUHeap(numWays int, ways *[]TickedBTBEntry) *mruHeap {
	h := &mruHeap{
		order: make([]int, numWays),
		pos:   make([]int, numWays),
		ways:  ways,
	}
	for i := 0; i < numWays; i++ {
		h.order[i] = i
		h.pos[i] = i
	}
	return h
}

func (h *mruHeap) Len() int { return len(h.order) }
func (h *mruHeap) Less(i, j int) bool {
	return (*h.ways)[h.order[i]].Tick < (*h.ways)[h.order[j]].Tick
}
func (h *mruHeap) Swap(i, j int) {
	h.order[i], h.order[j] = h.order[j], h.order[i]
	h.pos[h.order[i]] = i
	h.pos[h.order[j]] = j
}
func (h *mruHeap) Push(x any) {
	w := x.(int)
	h.pos[w] = len(h.order)
	h.order = append(h.order, w)
}
func (h *mruHeap) Pop() any {
	n := len(h.order)
	w := h.order[n-1]
	h.order = h.order[:n-1]
	return w
}

// touch records a fresh access to way w and restores heap order.
func (h *mruHeap) touch(w int, tick uint64) {
	(*h.ways)[w].Tick = tick
	heap.Fix(h, h.pos[w])
}

// oldest returns the way index with the smallest (least-recently-used) tick.
func (h *mruHeap) oldest() int {
	return h.order[0]
}

type btbSet struct {
	ways []TickedBTBEntry
	mru  *mruHeap
}

func newBTBSet(numWays int) *btbSet {
	s := &btbSet{ways: make([]TickedBTBEntry, numWays)}
	s.mru = newMRUHeap(numWays, &s.ways)
	return s
}

// BTBMeta is the per-prediction rollback snapshot produced by a BTB
// instance: the set of ways that hit, captured so update() can recompute
// exactly what was predicted without a second lookup.
type BTBMeta struct {
	Hits       []TickedBTBEntry
	AheadPCs   []uint64
	IsL1       bool
}

func (BTBMeta) isComponentMeta() {}

// btbAheadSnapshot is one entry in the ahead-pipeline's set-history FIFO:
// a value copy of a set's ways at the moment they were fetched.
type btbAheadSnapshot struct {
	ways []TickedBTBEntry
}

// BTB is a generic set-associative Branch Target Buffer used for both
// the L0/uBTB (zero-bubble, same-cycle) and L1 (optionally ahead
// pipelined, delayed) stages, per spec.md §4.2.
type BTB struct {
	cfg        BTBConfig
	numSets    uint32
	blockShift uint
	tagMask    uint64
	sets       []btbSet
	tick       uint64
	id         ComponentID

	aheadFIFO []btbAheadSnapshot
	lastHits  []TickedBTBEntry

	stats *Stats
}

// NewBTB constructs a BTB instance. It returns an error if the
// configuration violates the invariants of spec.md §7.
func NewBTB(cfg BTBConfig, id ComponentID, blockSize uint64, stats *Stats) (*BTB, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	numSets := cfg.NumEntries / cfg.NumWays
	b := &BTB{
		cfg:        cfg,
		numSets:    numSets,
		blockShift: uint(bits.Len64(blockSize - 1)),
		tagMask:    (uint64(1) << cfg.TagBits) - 1,
		sets:       make([]btbSet, numSets),
		id:         id,
		stats:      stats,
	}
	for i := range b.sets {
		b.sets[i] = *newBTBSet(int(cfg.NumWays))
	}
	return b, nil
}

func (b *BTB) setIndex(pc uint64) uint32 {
	return uint32((pc >> b.blockShift) % uint64(b.numSets))
}

func (b *BTB) tagOf(pc uint64) uint64 {
	return (pc >> b.blockShift) & b.tagMask
}

// isOddPC reports the odd-PC guard of spec.md §4.2: a block whose start
// PC has bit 0 set is always a miss.
func isOddPC(pc uint64) bool {
	return pc&1 != 0
}

// PutPCHistory implements the Component interface.
func (b *BTB) PutPCHistory(startPC uint64, ghr *GHR, stagePreds []*FullBTBPrediction) {
	b.tick++

	var hits []TickedBTBEntry
	if !isOddPC(startPC) {
		if b.cfg.HalfAligned {
			hits = b.lookupHalfAligned(startPC)
		} else if b.cfg.AheadPipelinedStages > 0 {
			hits = b.lookupAheadPipelined(startPC)
		} else {
			hits = b.lookupDirect(startPC)
		}
	}

	filtered := make([]TickedBTBEntry, 0, len(hits))
	for _, h := range hits {
		if h.PC >= startPC {
			filtered = append(filtered, h)
		}
	}
	sortTickedByPC(filtered)

	switch {
	case b.id == ComponentBTBL0 && len(filtered) > 0:
		b.stats.BTBL0Hits++
	case b.id == ComponentBTBL0:
		b.stats.BTBL0Misses++
	case len(filtered) > 0:
		b.stats.BTBL1Hits++
	default:
		b.stats.BTBL1Misses++
	}

	for s := b.cfg.NumDelayStages; s < len(stagePreds); s++ {
		pred := stagePreds[s]
		entries := make([]BTBEntry, len(filtered))
		for i, h := range filtered {
			entries[i] = h.BTBEntry
			if entries[i].IsCond {
				pred.CondTakens[entries[i].PC] = entries[i].TakenByCtr()
			}
			if entries[i].IsIndirect && !entries[i].IsReturn {
				pred.IndirectTargets[entries[i].PC] = entries[i].Target
			}
		}
		pred.BTBEntries = entries
	}

	b.lastHits = filtered
}

func (b *BTB) lookupDirect(startPC uint64) []TickedBTBEntry {
	idx := b.setIndex(startPC)
	tag := b.tagOf(startPC)
	set := &b.sets[idx]

	var hits []TickedBTBEntry
	for w := range set.ways {
		if set.ways[w].Valid && set.ways[w].Tag == tag {
			hits = append(hits, set.ways[w])
			set.mru.touch(w, b.tick)
		}
	}
	return hits
}

func (b *BTB) lookupHalfAligned(startPC uint64) []TickedBTBEntry {
	blockSize := uint64(1) << b.blockShift
	first := startPC &^ (blockSize - 1)
	second := first + blockSize
	hits := b.lookupDirect(first)
	hits = append(hits, b.lookupDirect(second)...)
	return hits
}

func (b *BTB) lookupAheadPipelined(startPC uint64) []TickedBTBEntry {
	k := b.cfg.AheadPipelinedStages
	idx := b.setIndex(startPC)
	tag := b.tagOf(startPC)

	// Enqueue a snapshot of the live set for this cycle.
	live := make([]TickedBTBEntry, len(b.sets[idx].ways))
	copy(live, b.sets[idx].ways)
	b.aheadFIFO = append(b.aheadFIFO, btbAheadSnapshot{ways: live})

	if len(b.aheadFIFO) < k+1 {
		// Not yet primed: report miss, per spec.md §4.2.
		return nil
	}

	delayed := b.aheadFIFO[0]
	b.aheadFIFO = b.aheadFIFO[1:]

	var hits []TickedBTBEntry
	for _, way := range delayed.ways {
		if way.Valid && way.Tag == tag {
			hits = append(hits, way)
		}
	}
	return hits
}

func sortTickedByPC(entries []TickedBTBEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].PC < entries[j-1].PC; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// GetPredictionMeta implements the Component interface.
func (b *BTB) GetPredictionMeta() ComponentMeta {
	return BTBMeta{Hits: b.lastHits, IsL1: b.cfg.NumDelayStages > 0 || b.cfg.AheadPipelinedStages > 0}
}

// SpecUpdateHist implements the Component interface; the BTB carries no
// speculative history of its own.
func (b *BTB) SpecUpdateHist(ghr *GHR, pred *FullBTBPrediction) {}

// RecoverHist implements the Component interface; the BTB carries no
// speculative history of its own.
func (b *BTB) RecoverHist(ghr *GHR, stream *FetchStream, shamt int, condTaken bool) {}

// GetAndSetNewBTBEntry implements the L1-only new-entry synthesis step
// of spec.md §4.2: it decides whether the executed branch already
// matches a predicted entry, or whether a new entry must be installed.
func (b *BTB) GetAndSetNewBTBEntry(stream *FetchStream) {
	if !stream.ExeTaken {
		stream.UpdateIsOldEntry = false
		return
	}
	for _, e := range stream.PredBTBEntries {
		if e.PC == stream.ExeBranchInfo.PC {
			stream.UpdateIsOldEntry = true
			stream.UpdateNewBTBEntry = e
			return
		}
	}

	entry := BTBEntry{
		BranchInfo: stream.ExeBranchInfo,
		Valid:      true,
		Tag:        b.tagOf(stream.StartPC),
	}
	if entry.IsCond {
		entry.AlwaysTaken = true
		entry.Ctr = 1
	}
	stream.UpdateIsOldEntry = false
	stream.UpdateNewBTBEntry = entry
}

// Update implements the Component interface, per spec.md §4.2.
func (b *BTB) Update(stream *FetchStream) {
	var toInstall []BTBEntry
	for _, e := range stream.PredBTBEntries {
		if e.PC <= stream.UpdateEndInstPC {
			toInstall = append(toInstall, e)
		}
	}

	isL1 := b.cfg.NumDelayStages > 0 || b.cfg.AheadPipelinedStages > 0
	addNew := !isL1 || !stream.UpdateIsOldEntry
	if addNew && stream.UpdateNewBTBEntry.Valid {
		toInstall = append(toInstall, stream.UpdateNewBTBEntry)
	}

	indexPC := stream.StartPC
	if b.cfg.AheadPipelinedStages > 0 {
		if p, ok := stream.previousPC(b.cfg.AheadPipelinedStages); ok {
			indexPC = p
		}
	}

	idx := b.setIndex(indexPC)
	tag := b.tagOf(indexPC)
	set := &b.sets[idx]

	for _, entry := range toInstall {
		b.installOrUpdate(set, tag, entry, stream)
	}
}

func (b *BTB) installOrUpdate(set *btbSet, tag uint64, entry BTBEntry, stream *FetchStream) {
	taken := stream.ExeTaken && stream.ExeBranchInfo.PC == entry.PC

	for w := range set.ways {
		if set.ways[w].Valid && set.ways[w].Tag == tag && set.ways[w].PC == entry.PC {
			if entry.IsCond {
				set.ways[w].UpdateCtr(taken)
			}
			if entry.IsIndirect && !entry.IsReturn && taken {
				set.ways[w].Target = stream.ExeBranchInfo.Target
			}
			b.tick++
			set.mru.touch(w, b.tick)
			return
		}
	}

	// Miss: evict the least-recently-used way and install.
	victim := set.mru.oldest()
	entry.Tag = tag
	entry.Valid = true
	set.ways[victim] = TickedBTBEntry{BTBEntry: entry}
	b.tick++
	set.mru.touch(victim, b.tick)
}
