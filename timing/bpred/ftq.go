package bpred

// FetchStream is one predicted contiguous fetch block: the unit of FSQ
// occupancy, per spec.md §3.
//
// Invariants: entries in PredBTBEntries are sorted by PC ascending; all
// PC values lie in [StartPC, PredEndPC); PredTaken implies
// PredBranchInfo.PC is present in PredBTBEntries.
type FetchStream struct {
	ID uint64

	StartPC        uint64
	PredEndPC      uint64
	PredTaken      bool
	PredBranchInfo BranchInfo
	PredBTBEntries []BTBEntry
	PredMetas      [NumComponents]ComponentMeta

	History *GHR

	// previousPCs holds the N most recent block start addresses, used
	// by ahead-pipelined BTB update to recompute the index a PC was
	// looked up under several cycles ago.
	previousPCs []uint64

	Resolved  bool
	ExeTaken  bool
	ExeBranchInfo BranchInfo
	SquashType SquashType
	SquashPC   uint64

	UpdateNewBTBEntry BTBEntry
	UpdateIsOldEntry  bool
	UpdateEndInstPC   uint64
	UpdateBTBEntries  []BTBEntry
}

// previousPC returns the block start address that was current k
// fetch-cycles before this stream's own StartPC was issued, for
// ahead-pipelined BTB indexing.
func (s *FetchStream) previousPC(k int) (uint64, bool) {
	n := len(s.previousPCs)
	if k <= 0 || k > n {
		return 0, false
	}
	return s.previousPCs[n-k], true
}

// pushPreviousPC records startPC into the rolling window, bounded to
// maxLen entries (the deepest ahead-pipeline depth configured).
func (s *FetchStream) pushPreviousPC(pc uint64, maxLen int) {
	s.previousPCs = append(s.previousPCs, pc)
	if len(s.previousPCs) > maxLen {
		s.previousPCs = s.previousPCs[len(s.previousPCs)-maxLen:]
	}
}

// FtqEntry is a fetch block handed to the fetch unit, derived from a
// FetchStream, per spec.md §3.
type FtqEntry struct {
	StartPC uint64
	EndPC   uint64
	TakenPC uint64
	Taken   bool
	Target  uint64
	FsqID   uint64
}

// FSQ is the Fetch Stream Queue: an ordered, bounded map from a
// monotonic fsqID to FetchStream.
type FSQ struct {
	capacity int
	nextID   uint64
	ids      []uint64
	streams  map[uint64]*FetchStream
}

// NewFSQ creates an FSQ with the given capacity.
func NewFSQ(capacity int) *FSQ {
	return &FSQ{capacity: capacity, streams: make(map[uint64]*FetchStream)}
}

// Full reports whether the FSQ has reached capacity.
func (q *FSQ) Full() bool {
	return len(q.ids) >= q.capacity
}

// Len returns the number of streams currently enqueued.
func (q *FSQ) Len() int {
	return len(q.ids)
}

// Enqueue appends a new stream and assigns it the next monotonic fsqID.
// Returns the assigned ID.
func (q *FSQ) Enqueue(stream *FetchStream) uint64 {
	id := q.nextID
	q.nextID++
	stream.ID = id
	q.ids = append(q.ids, id)
	q.streams[id] = stream
	return id
}

// Get returns the stream for the given ID, if present.
func (q *FSQ) Get(id uint64) (*FetchStream, bool) {
	s, ok := q.streams[id]
	return s, ok
}

// Latest returns the most recently enqueued stream, if any.
func (q *FSQ) Latest() (*FetchStream, bool) {
	if len(q.ids) == 0 {
		return nil, false
	}
	return q.streams[q.ids[len(q.ids)-1]], true
}

// Ordered returns streams in ascending fsqID order.
func (q *FSQ) Ordered() []*FetchStream {
	out := make([]*FetchStream, 0, len(q.ids))
	for _, id := range q.ids {
		out = append(out, q.streams[id])
	}
	return out
}

// EraseAfter removes every stream with ID strictly greater than keepID,
// used by the squash protocols.
func (q *FSQ) EraseAfter(keepID uint64) {
	kept := q.ids[:0:0]
	for _, id := range q.ids {
		if id <= keepID {
			kept = append(kept, id)
		} else {
			delete(q.streams, id)
		}
	}
	q.ids = kept
}

// Commit removes every stream with ID less than or equal to
// committedID, returning the removed streams in ascending order so the
// caller can train each component before discarding them.
func (q *FSQ) Commit(committedID uint64) []*FetchStream {
	var committed []*FetchStream
	remaining := q.ids[:0:0]
	for _, id := range q.ids {
		if id <= committedID {
			committed = append(committed, q.streams[id])
			delete(q.streams, id)
		} else {
			remaining = append(remaining, id)
		}
	}
	q.ids = remaining
	return committed
}

// FTQ is the Fetch Target Queue: a bounded ordered map from ftqID to
// FtqEntry, with enqueue/supply/squash state, per spec.md §4.7.
type FTQ struct {
	capacity int
	nextID   uint64
	ids      []uint64
	entries  map[uint64]FtqEntry

	enqPC           uint64
	enqStreamID     uint64
	nextEnqTargetID uint64
	demandTargetID  uint64
}

// NewFTQ creates an FTQ with the given capacity.
func NewFTQ(capacity int) *FTQ {
	return &FTQ{capacity: capacity, entries: make(map[uint64]FtqEntry)}
}

// Full reports whether the FTQ has reached capacity.
func (q *FTQ) Full() bool {
	return len(q.ids) >= q.capacity
}

// Enqueue builds an FtqEntry from the given stream's predicted portion
// and advances the internal enqueue PC to the next block.
func (q *FTQ) Enqueue(stream *FetchStream) FtqEntry {
	entry := FtqEntry{
		StartPC: q.enqPC,
		EndPC:   stream.PredEndPC,
		FsqID:   stream.ID,
		Taken:   stream.PredTaken,
	}
	if stream.PredTaken {
		entry.TakenPC = stream.PredBranchInfo.PC
		entry.Target = stream.PredBranchInfo.Target
		q.enqPC = entry.Target
	} else {
		q.enqPC = entry.EndPC
	}

	id := q.nextID
	q.nextID++
	q.ids = append(q.ids, id)
	q.entries[id] = entry
	q.nextEnqTargetID = id + 1
	q.enqStreamID = stream.ID
	return entry
}

// Supply returns the entry the fetch unit should consume for a fetch
// demand at pc, advancing past any entries fetch has already skipped.
func (q *FTQ) Supply(pc uint64) (FtqEntry, bool) {
	for len(q.ids) > 0 {
		id := q.ids[0]
		entry := q.entries[id]
		if pc >= entry.EndPC {
			delete(q.entries, id)
			q.ids = q.ids[1:]
			q.demandTargetID = id + 1
			continue
		}
		return entry, true
	}
	return FtqEntry{}, false
}

// Squash erases all entries and resets enqueue/demand state to the
// redirect values, per spec.md §4.7.
func (q *FTQ) Squash(redirectPC uint64, streamID uint64) {
	q.entries = make(map[uint64]FtqEntry)
	q.ids = nil
	q.enqPC = redirectPC
	q.enqStreamID = streamID
	q.nextEnqTargetID = q.nextID
	q.demandTargetID = q.nextID
}
