package bpred

import "container/list"

// HistoryEntry records one speculative GHR shift: which stream
// produced it, how many bits it shifted in, and the resolved
// call/return metadata needed to drive RAS replay on squash.
type HistoryEntry struct {
	PC        uint64
	Shamt     int
	CondTaken bool
	IsCall    bool
	IsReturn  bool
	RetAddr   uint64
	StreamID  uint64
}

// HistoryManager tracks the in-flight log of speculative history
// shifts so that a squash can truncate exactly the entries that belong
// to streams newer than the squashed one, per spec.md §4.2.
type HistoryManager struct {
	speculative *list.List
	maxShamt    int
}

// NewHistoryManager creates a HistoryManager whose checkSanity reports
// any entry wider than maxShamt bits.
func NewHistoryManager(maxShamt int) *HistoryManager {
	return &HistoryManager{speculative: list.New(), maxShamt: maxShamt}
}

// AddSpeculativeHist appends a new speculative shift at the back of the
// log.
func (h *HistoryManager) AddSpeculativeHist(pc uint64, shamt int, condTaken bool, bi BranchInfo, streamID uint64) {
	h.speculative.PushBack(HistoryEntry{
		PC: pc, Shamt: shamt, CondTaken: condTaken,
		IsCall: bi.IsCall, IsReturn: bi.IsReturn, RetAddr: bi.End(),
		StreamID: streamID,
	})
}

// Commit removes every entry belonging to a stream ID at or below
// streamID.
func (h *HistoryManager) Commit(streamID uint64) {
	for e := h.speculative.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(HistoryEntry)
		if entry.StreamID <= streamID {
			h.speculative.Remove(e)
		}
		e = next
	}
}

// SpeculativeHist returns the current speculative log in order, oldest
// first.
func (h *HistoryManager) SpeculativeHist() []HistoryEntry {
	out := make([]HistoryEntry, 0, h.speculative.Len())
	for e := h.speculative.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(HistoryEntry))
	}
	return out
}

// Squash rewrites the entry for streamID with the squash-resolved
// outcome and discards every later entry.
func (h *HistoryManager) Squash(streamID uint64, shamt int, condTaken bool, bi BranchInfo) {
	for e := h.speculative.Front(); e != nil; {
		next := e.Next()
		entry := e.Value.(HistoryEntry)
		switch {
		case entry.StreamID == streamID:
			entry.CondTaken = condTaken
			entry.Shamt = shamt
			entry.IsCall = bi.IsCall
			entry.IsReturn = bi.IsReturn
			entry.RetAddr = bi.End()
			e.Value = entry
		case entry.StreamID > streamID:
			h.speculative.Remove(e)
		}
		e = next
	}
	h.checkSanity()
}

// checkSanity is a debug assertion: no speculative entry should ever
// shift more bits than the widest configured component allows.
func (h *HistoryManager) checkSanity() bool {
	for e := h.speculative.Front(); e != nil; e = e.Next() {
		if e.Value.(HistoryEntry).Shamt > h.maxShamt {
			return false
		}
	}
	return true
}
