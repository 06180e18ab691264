package bpred

// rasSlot holds one return address plus a tail-compression counter: a
// repeated push of the same address increments ctr instead of
// allocating a fresh committed-stack slot, so a tight recursive call
// site doesn't churn the ring.
type rasSlot struct {
	retAddr uint64
	ctr     int
}

// RASMeta is RAS's per-prediction rollback snapshot, mirroring the
// committed-stack pointer/speculative-pointer/inflight-pointer triple
// the original stores per stream.
type RASMeta struct {
	SSP    int
	SCtr   int
	TOSR   int
	TOSW   int
	Target uint64
}

func (RASMeta) isComponentMeta() {}

// RAS implements the two-level return address stack of spec.md §4.6: a
// committed ring trained only at commit time, and a speculative
// inflight ring that every predicted call/return walks immediately,
// with a next-older-speculative (nos) link back through the inflight
// ring to the committed ring.
type RAS struct {
	cfg RASConfig

	stack []rasSlot
	nsp   int

	inflight []rasInflightSlot
	ssp      int
	sctr     int
	tosr     int
	tosw     int
	bos      int

	maxCtr int
	meta   RASMeta

	stats *Stats
}

type rasInflightSlot struct {
	retAddr uint64
	ctr     int
	nos     int
}

// NewRAS constructs a two-level RAS from cfg.
func NewRAS(cfg RASConfig, stats *Stats) (*RAS, error) {
	if cfg.NumEntries <= 0 || cfg.NumInflightEntries <= 0 {
		return nil, ErrBadRASGeometry
	}
	r := &RAS{
		cfg:      cfg,
		stack:    make([]rasSlot, cfg.NumEntries),
		inflight: make([]rasInflightSlot, cfg.NumInflightEntries),
		maxCtr:   (1 << uint(cfg.CtrWidth)) - 1,
		stats:    stats,
	}
	for i := range r.stack {
		r.stack[i].retAddr = resetRetAddr
	}
	for i := range r.inflight {
		r.inflight[i].retAddr = resetRetAddr
	}
	r.inflightPtrDec(&r.tosr)
	return r, nil
}

const resetRetAddr uint64 = 0x80000000

func (r *RAS) ptrInc(ptr *int)  { *ptr = (*ptr + 1) % len(r.stack) }
func (r *RAS) ptrDec(ptr *int) {
	if *ptr > 0 {
		*ptr--
	} else {
		*ptr = len(r.stack) - 1
	}
}

func (r *RAS) inflightPtrInc(ptr *int) { *ptr = (*ptr + 1) % len(r.inflight) }
func (r *RAS) inflightPtrDec(ptr *int) {
	if *ptr > 0 {
		*ptr--
	} else {
		*ptr = len(r.inflight) - 1
	}
}
func (r *RAS) inflightPtrPlus1(ptr int) int { return (ptr + 1) % len(r.inflight) }

// inflightInRange reports whether ptr lies within the live [bos, tosw)
// window of the inflight ring, accounting for wraparound.
func (r *RAS) inflightInRange(ptr int) bool {
	switch {
	case r.tosw > r.bos:
		return ptr >= r.bos && ptr < r.tosw
	case r.tosw < r.bos:
		return ptr < r.tosw || ptr >= r.bos
	default:
		return false
	}
}

func (r *RAS) top() (uint64, int) {
	if r.inflightInRange(r.tosr) {
		e := r.inflight[r.tosr]
		return e.retAddr, e.ctr
	}
	return r.stack[r.ssp].retAddr, r.stack[r.ssp].ctr
}

func (r *RAS) topMeta() uint64 {
	if r.inflightInRange(r.tosr) {
		r.meta = RASMeta{SSP: r.ssp, SCtr: r.sctr, TOSR: r.tosr, TOSW: r.tosw, Target: r.inflight[r.tosr].retAddr}
		return r.inflight[r.tosr].retAddr
	}
	r.meta = RASMeta{SSP: r.ssp, SCtr: r.sctr, TOSR: r.tosr, TOSW: r.tosw, Target: r.stack[r.ssp].retAddr}
	return r.stack[r.ssp].retAddr
}

// PutPCHistory implements the Component interface: every stage sees
// the current top-of-stack as its speculative return target.
func (r *RAS) PutPCHistory(startPC uint64, ghr *GHR, stagePreds []*FullBTBPrediction) {
	target := r.topMeta()
	for s := 0; s < len(stagePreds); s++ {
		stagePreds[s].ReturnTarget = target
	}
}

// GetPredictionMeta implements the Component interface.
func (r *RAS) GetPredictionMeta() ComponentMeta {
	return r.meta
}

// push advances the speculative pointer and always grows the inflight
// ring, linking back to the previous TOSR as its next-older-speculative
// entry.
func (r *RAS) push(retAddr uint64) {
	topAddr, _ := r.top()
	if retAddr == topAddr && r.sctr < r.maxCtr {
		r.sctr++
	} else {
		r.ptrInc(&r.ssp)
		r.sctr = 0
	}

	r.inflight[r.tosw] = rasInflightSlot{retAddr: retAddr, ctr: r.sctr, nos: r.tosr}
	r.tosr = r.tosw
	r.inflightPtrInc(&r.tosw)
}

// pop retires the current speculative top, falling back to the
// committed stack once the inflight window is exhausted.
func (r *RAS) pop() {
	if r.inflightInRange(r.tosr) {
		r.tosr = r.inflight[r.tosr].nos
		if r.sctr > 0 {
			r.sctr--
		} else {
			r.ptrDec(&r.ssp)
			_, ctr := r.top()
			r.sctr = ctr
		}
		return
	}
	if r.sctr > 0 {
		r.sctr--
	} else {
		r.ptrDec(&r.ssp)
		_, ctr := r.top()
		r.sctr = ctr
	}
}

// SpecUpdateHist implements the Component interface, per spec.md §4.6:
// a predicted call pushes the return address, a predicted return pops.
func (r *RAS) SpecUpdateHist(ghr *GHR, pred *FullBTBPrediction) {
	taken, ok := pred.GetTaken()
	if !ok {
		return
	}
	if taken.IsCall {
		r.push(taken.PC + uint64(taken.Size))
	}
	if taken.IsReturn {
		r.pop()
	}
}

// RecoverHist implements the Component interface: restores the pointer
// triple from the stream's snapshot, then replays the resolved outcome.
func (r *RAS) RecoverHist(ghr *GHR, stream *FetchStream, shamt int, condTaken bool) {
	meta, ok := stream.PredMetas[ComponentRAS].(RASMeta)
	if !ok {
		return
	}
	r.tosr = meta.TOSR
	r.tosw = meta.TOSW
	r.ssp = meta.SSP
	r.sctr = meta.SCtr

	if !stream.ExeTaken {
		return
	}
	retAddr := stream.ExeBranchInfo.PC + uint64(stream.ExeBranchInfo.Size)
	if stream.ExeBranchInfo.IsCall {
		r.push(retAddr)
	}
	if stream.ExeBranchInfo.IsReturn {
		r.pop()
	}
}

func (r *RAS) pushStack(retAddr uint64) {
	tos := r.stack[r.nsp]
	if tos.retAddr == retAddr && tos.ctr < r.maxCtr {
		r.stack[r.nsp].ctr++
	} else {
		r.ptrInc(&r.nsp)
		r.stack[r.nsp] = rasSlot{retAddr: retAddr, ctr: 0}
	}
}

func (r *RAS) popStack() {
	if r.stack[r.nsp].ctr > 0 {
		r.stack[r.nsp].ctr--
	} else {
		r.ptrDec(&r.nsp)
	}
}

// Update implements the Component interface, per spec.md §4.6: trains
// the committed ring only once a stream actually commits, resyncing the
// non-speculative pointer with the speculative one if they've drifted.
func (r *RAS) Update(stream *FetchStream) {
	meta, ok := stream.PredMetas[ComponentRAS].(RASMeta)
	if !ok || !stream.ExeTaken {
		return
	}

	if meta.SSP != r.nsp || meta.SCtr != r.stack[r.nsp].ctr {
		r.nsp = meta.SSP
	}

	if stream.ExeBranchInfo.IsCall {
		retAddr := stream.ExeBranchInfo.PC + uint64(stream.ExeBranchInfo.Size)
		r.pushStack(retAddr)
		r.bos = r.inflightPtrPlus1(meta.TOSW)
		r.stats.RASPushes++
	}
	if stream.ExeBranchInfo.IsReturn {
		r.popStack()
		r.stats.RASPops++
	}
}
