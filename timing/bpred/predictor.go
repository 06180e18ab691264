package bpred

// instSize is the fixed AArch64 instruction width, used to derive
// BranchInfo.Size on a resolved control squash.
const instSize = 4

// Predictor is the decoupled branch-prediction driver: it owns every
// table-based component plus the FSQ/FTQ pair and drives them through
// the staged predict/enqueue/squash/commit protocol of spec.md §4.8.
type Predictor struct {
	cfg Config

	components [NumComponents]Component
	btbL0      *BTB
	btbL1      *BTB
	tage       *TAGE
	ittage     *ITTAGE
	mgsc       *MGSC
	ras        *RAS

	fsq     *FSQ
	ftq     *FTQ
	history *HistoryManager

	s0PC      uint64
	s0History *GHR

	stagePreds   []*FullBTBPrediction
	sentPCHist   bool
	receivedPred bool
	bubbles      int
	finalPred    *FullBTBPrediction

	nextFTQStreamID uint64

	Stats *Stats
	Trace []TraceRecord
}

// NewPredictor constructs a Predictor from cfg, validating its
// sub-configurations and building every component.
func NewPredictor(cfg Config) (*Predictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	stats := &Stats{}
	p := &Predictor{cfg: cfg, history: NewHistoryManager(maxShamtOf(cfg)), Stats: stats}

	var err error
	p.btbL0, err = NewBTB(cfg.BTBL0, ComponentBTBL0, cfg.BlockSize, stats)
	if err != nil {
		return nil, err
	}
	p.btbL1, err = NewBTB(cfg.BTBL1, ComponentBTBL1, cfg.BlockSize, stats)
	if err != nil {
		return nil, err
	}
	p.tage, err = NewTAGE(cfg.Tage, stats)
	if err != nil {
		return nil, err
	}
	p.ittage, err = NewITTAGE(cfg.ITage, stats)
	if err != nil {
		return nil, err
	}
	p.mgsc, err = NewMGSC(cfg.MGSC, p.tage, stats)
	if err != nil {
		return nil, err
	}
	p.ras, err = NewRAS(cfg.RAS, stats)
	if err != nil {
		return nil, err
	}

	p.components = [NumComponents]Component{
		ComponentBTBL0:  p.btbL0,
		ComponentBTBL1:  p.btbL1,
		ComponentTAGE:   p.tage,
		ComponentITTAGE: p.ittage,
		ComponentMGSC:   p.mgsc,
		ComponentRAS:    p.ras,
	}

	p.fsq = NewFSQ(cfg.FSQ.Size)
	p.ftq = NewFTQ(cfg.FTQ.Size)
	p.s0History = NewGHR(uint(cfg.HistoryBits))

	return p, nil
}

func maxShamtOf(cfg Config) int {
	max := 0
	for _, h := range cfg.Tage.HistLengths {
		if h > max {
			max = h
		}
	}
	for _, h := range cfg.ITage.HistLengths {
		if h > max {
			max = h
		}
	}
	if max == 0 {
		max = 16
	}
	return max
}

func (p *Predictor) maxAheadDepth() int {
	d := p.btbL0.cfg.AheadPipelinedStages
	if p.btbL1.cfg.AheadPipelinedStages > d {
		d = p.btbL1.cfg.AheadPipelinedStages
	}
	return d + 1
}

// Tick advances the predictor by one cycle, implementing the five-step
// order of spec.md §4.8: finalize a pending prediction, drain
// FSQ→FTQ, drain FTQ→fetch (handled by the caller via
// TrySupplyFetchWithTarget), issue a new prediction, then consume one
// override bubble.
func (p *Predictor) Tick() {
	if p.sentPCHist && !p.receivedPred && p.bubbles == 0 {
		p.generateFinalPrediction()
	}

	p.tryEnqFetchTarget()
	p.tryEnqFetchStream()

	if p.bubbles > 0 {
		p.bubbles--
	}

	if !p.fsq.Full() && !p.sentPCHist {
		p.issuePrediction()
	}
}

func (p *Predictor) issuePrediction() {
	stagePreds := make([]*FullBTBPrediction, p.cfg.NumStages)
	for s := range stagePreds {
		stagePreds[s] = NewFullBTBPrediction(p.s0PC, s)
	}
	for _, c := range p.components {
		c.PutPCHistory(p.s0PC, p.s0History, stagePreds)
	}
	p.stagePreds = stagePreds
	p.sentPCHist = true
	p.receivedPred = false
}

// generateFinalPrediction implements spec.md §4.8 step 1: scanning
// stages from last to first, it adopts the last stage with any BTB
// hit as authoritative and counts how many earlier stages disagree
// with it as override bubbles.
func (p *Predictor) generateFinalPrediction() {
	finalIdx := len(p.stagePreds) - 1
	for s := len(p.stagePreds) - 1; s >= 0; s-- {
		if len(p.stagePreds[s].BTBEntries) > 0 {
			finalIdx = s
			break
		}
	}
	final := p.stagePreds[finalIdx]

	bubbles := 0
	reason := OverrideNone
	for s := 0; s < finalIdx; s++ {
		ok, r := match(p.stagePreds[s], final)
		if !ok {
			bubbles++
			reason = r
		}
	}

	p.bubbles = bubbles
	if bubbles > 0 {
		p.Stats.recordOverride(reason, bubbles)
	}
	p.finalPred = final
	p.receivedPred = true
}

func (p *Predictor) tryEnqFetchTarget() {
	if p.ftq.Full() {
		p.Stats.FTQStalls++
		return
	}
	stream, ok := p.fsq.Get(p.nextFTQStreamID)
	if !ok {
		return
	}
	p.ftq.Enqueue(stream)
	p.nextFTQStreamID++
}

func (p *Predictor) tryEnqFetchStream() {
	if !p.receivedPred || p.bubbles != 0 {
		return
	}
	if p.fsq.Full() {
		p.Stats.FSQStalls++
		return
	}

	final := p.finalPred
	taken, hasTaken := final.GetTaken()

	stream := &FetchStream{
		StartPC:        final.BBStart,
		PredTaken:      hasTaken,
		PredBTBEntries: final.BTBEntries,
		History:        p.s0History.Clone(),
	}
	if hasTaken {
		stream.PredBranchInfo = taken.BranchInfo
		stream.PredEndPC = taken.End()
	} else {
		stream.PredEndPC = final.BBStart + p.cfg.BlockSize
	}

	for i, c := range p.components {
		stream.PredMetas[i] = c.GetPredictionMeta()
	}

	shamt := condShamt(final.BTBEntries, taken, hasTaken)
	condTaken := hasTaken && taken.IsCond

	for _, c := range p.components {
		c.SpecUpdateHist(p.s0History, final)
	}
	p.s0History.Shift(shamt, condTaken)

	streamID := p.fsq.Enqueue(stream)

	var bi BranchInfo
	if hasTaken {
		bi = taken.BranchInfo
	}
	p.history.AddSpeculativeHist(stream.StartPC, shamt, condTaken, bi, streamID)
	stream.pushPreviousPC(stream.StartPC, p.maxAheadDepth())

	if hasTaken {
		p.s0PC = final.TargetOf(taken)
	} else {
		p.s0PC = stream.PredEndPC
	}

	p.sentPCHist = false
	p.receivedPred = false
	p.finalPred = nil
}

// condShamt counts the conditional entries in entries up to and
// including the taken one (or all of them, when nothing was taken),
// per the Shamt definition in the GLOSSARY.
func condShamt(entries []BTBEntry, taken BTBEntry, hasTaken bool) int {
	n := 0
	for _, e := range entries {
		if !e.IsCond {
			continue
		}
		if hasTaken && e.PC > taken.PC {
			continue
		}
		n++
	}
	return n
}

// ControlSquash implements the control-squash protocol of spec.md
// §4.8: a resolved branch (direction or target) disagreed with the
// stream's prediction.
func (p *Predictor) ControlSquash(ftqID, fsqID uint64, controlPC, targetPC uint64, taken, isCond, isIndirect bool) {
	stream, ok := p.fsq.Get(fsqID)
	if !ok {
		return
	}

	stream.ExeBranchInfo = BranchInfo{PC: controlPC, Target: targetPC, Size: instSize, IsCond: isCond, IsIndirect: isIndirect}
	stream.ExeTaken = taken
	stream.SquashType = SquashCtrl
	stream.SquashPC = controlPC
	stream.Resolved = true

	p.fsq.EraseAfter(fsqID)
	p.s0History.Recover(stream.History)

	shamt := condShamt(stream.PredBTBEntries, BTBEntry{BranchInfo: stream.ExeBranchInfo}, true)
	condTaken := taken && isCond

	for _, c := range p.components {
		c.RecoverHist(p.s0History, stream, shamt, condTaken)
	}
	p.s0History.Shift(shamt, condTaken)
	p.history.Squash(fsqID, shamt, condTaken, stream.ExeBranchInfo)

	p.s0PC = targetPC
	p.ftq.Squash(targetPC, fsqID)
	p.nextFTQStreamID = p.fsq.nextID
	p.sentPCHist = false
	p.receivedPred = false
	p.bubbles = 0
	p.Stats.ControlSquashes++
}

// NonControlSquash implements the non-control squash protocol: a
// squash unrelated to any branch resolution (e.g. a load-store
// ordering violation) that still must rewind speculative state back to
// the squash PC.
func (p *Predictor) NonControlSquash(ftqID, fsqID uint64, squashPC uint64, ftqIDForNewTarget uint64) {
	stream, ok := p.fsq.Get(fsqID)
	if !ok {
		return
	}

	stream.SquashType = SquashOther
	stream.SquashPC = squashPC
	stream.Resolved = true

	p.fsq.EraseAfter(fsqID)
	p.s0History.Recover(stream.History)

	shamt := 0
	condTaken := false
	for _, e := range stream.PredBTBEntries {
		if e.IsCond && e.PC < squashPC {
			shamt++
			if stream.PredTaken && stream.PredBranchInfo.PC == e.PC {
				condTaken = true
			}
		}
	}

	for _, c := range p.components {
		c.RecoverHist(p.s0History, stream, shamt, condTaken)
	}
	p.s0History.Shift(shamt, condTaken)
	p.history.Squash(fsqID, shamt, condTaken, BranchInfo{})

	p.s0PC = squashPC
	p.ftq.Squash(squashPC, fsqID)
	p.nextFTQStreamID = p.fsq.nextID
	p.sentPCHist = false
	p.receivedPred = false
	p.bubbles = 0
	p.Stats.NonControlSquashes++
}

// TrapSquash implements the trap-squash protocol: a trap fired before
// any branch in the stream resolved, so no history bit is consumed.
func (p *Predictor) TrapSquash(ftqID, fsqID uint64, trapPC uint64) {
	stream, ok := p.fsq.Get(fsqID)
	if !ok {
		return
	}

	stream.SquashType = SquashTrap
	stream.SquashPC = trapPC
	stream.Resolved = true

	p.fsq.EraseAfter(fsqID)
	p.s0History.Recover(stream.History)

	for _, c := range p.components {
		c.RecoverHist(p.s0History, stream, 0, false)
	}
	p.history.Squash(fsqID, 0, false, BranchInfo{})

	p.s0PC = trapPC
	p.ftq.Squash(trapPC, fsqID)
	p.nextFTQStreamID = p.fsq.nextID
	p.sentPCHist = false
	p.receivedPred = false
	p.bubbles = 0
	p.Stats.TrapSquashes++
}

// Update implements the commit-boundary protocol of spec.md §4.8: every
// stream up to and including committedStreamID is trained and
// discarded.
func (p *Predictor) Update(committedStreamID uint64, tid int) {
	committed := p.fsq.Commit(committedStreamID)
	for _, stream := range committed {
		p.btbL1.GetAndSetNewBTBEntry(stream)
		for _, c := range p.components {
			c.Update(stream)
		}
	}
	p.history.Commit(committedStreamID)
}

// ResetPC reinitializes the predictor to fetch from pc, discarding all
// in-flight prediction state, used after a pipeline flush.
func (p *Predictor) ResetPC(pc uint64) {
	p.s0PC = pc
	p.s0History = NewGHR(uint(p.cfg.HistoryBits))
	p.sentPCHist = false
	p.receivedPred = false
	p.bubbles = 0
	p.finalPred = nil
	p.fsq = NewFSQ(p.cfg.FSQ.Size)
	p.ftq = NewFTQ(p.cfg.FTQ.Size)
	p.nextFTQStreamID = 0
}

// TrySupplyFetchWithTarget implements the fetch-demand interface of
// spec.md §6. The loop-buffer interaction named in the Non-goals is not
// modeled, so inLoop is always false.
func (p *Predictor) TrySupplyFetchWithTarget(demandPC uint64) (entry FtqEntry, ok bool, inLoop bool) {
	entry, ok = p.ftq.Supply(demandPC)
	return entry, ok, false
}

