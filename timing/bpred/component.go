package bpred

// ComponentID indexes the fixed set of predictor components that each
// produce and consume per-stream metadata, replacing the original's
// shared_ptr<void> per-component snapshot with an array of interface
// values indexed by this enum (spec.md §9).
type ComponentID int

// Component indices, in the pipeline's dependency order.
const (
	ComponentBTBL0 ComponentID = iota
	ComponentBTBL1
	ComponentTAGE
	ComponentITTAGE
	ComponentMGSC
	ComponentRAS
	NumComponents
)

// ComponentMeta is the marker interface implemented by every
// component's per-prediction snapshot. Snapshots are value types; no
// cross-component aliasing is needed.
type ComponentMeta interface {
	isComponentMeta()
}

// Component is the common interface every predictor table-component
// implements, letting the driver iterate a fixed-size array instead of
// hand-wiring each component by name.
type Component interface {
	// PutPCHistory looks up a prediction for startPC using history, and
	// overwrites the applicable entries of stagePreds.
	PutPCHistory(startPC uint64, ghr *GHR, stagePreds []*FullBTBPrediction)
	// GetPredictionMeta returns this component's rollback snapshot for
	// the prediction just produced by PutPCHistory.
	GetPredictionMeta() ComponentMeta
	// SpecUpdateHist speculatively advances this component's history
	// state given the chosen final prediction.
	SpecUpdateHist(ghr *GHR, pred *FullBTBPrediction)
	// RecoverHist restores this component's history state from a
	// FetchStream's snapshot and replays the squash-resolved outcome.
	RecoverHist(ghr *GHR, stream *FetchStream, shamt int, condTaken bool)
	// Update trains the component on a committed stream's resolved
	// outcome.
	Update(stream *FetchStream)
}

// FullBTBPrediction is the per-stage aggregate prediction produced by
// PutPCHistory across all components.
//
// Invariant: BTBEntries is sorted by PC ascending; CondTakens is keyed
// only by PCs of conditional entries.
type FullBTBPrediction struct {
	BBStart         uint64
	BTBEntries      []BTBEntry
	CondTakens      map[uint64]bool
	IndirectTargets map[uint64]uint64
	ReturnTarget    uint64
	PredSource      int
}

// NewFullBTBPrediction returns a zeroed prediction ready to be filled in
// by each component's PutPCHistory.
func NewFullBTBPrediction(bbStart uint64, source int) *FullBTBPrediction {
	return &FullBTBPrediction{
		BBStart:         bbStart,
		CondTakens:      make(map[uint64]bool),
		IndirectTargets: make(map[uint64]uint64),
		PredSource:      source,
	}
}

// GetTaken returns the first BTB entry whose direction resolves to
// taken (or that is unconditional), in PC order.
func (p *FullBTBPrediction) GetTaken() (BTBEntry, bool) {
	for _, e := range p.BTBEntries {
		if !e.IsCond {
			return e, true
		}
		if taken, ok := p.CondTakens[e.PC]; ok && taken {
			return e, true
		}
	}
	return BTBEntry{}, false
}

// GetTakenEntry is a convenience wrapper returning just the BranchInfo of
// GetTaken's result (zero value when no entry is taken).
func (p *FullBTBPrediction) GetTakenEntry() BranchInfo {
	e, _ := p.GetTaken()
	return e.BranchInfo
}

// TargetOf resolves the predicted target address for a taken entry,
// consulting IndirectTargets/ReturnTarget as needed.
func (p *FullBTBPrediction) TargetOf(e BTBEntry) uint64 {
	switch {
	case e.IsReturn:
		return p.ReturnTarget
	case e.IsIndirect:
		if t, ok := p.IndirectTargets[e.PC]; ok {
			return t
		}
		return e.Target
	default:
		return e.Target
	}
}

// match reports whether two stage predictions agree on everything the
// driver's override logic cares about (spec.md §4.8): validity of a
// taken branch, its control address, its target, and the count and PCs
// of the BTB entries.
// It returns the OverrideReason for the first disagreement found.
func match(earlier, later *FullBTBPrediction) (bool, OverrideReason) {
	earlyTaken, earlyOK := earlier.GetTaken()
	laterTaken, laterOK := later.GetTaken()

	if earlyOK != laterOK {
		return false, OverrideFallThru
	}
	if !earlyOK {
		return true, OverrideNone
	}
	if earlyTaken.PC != laterTaken.PC {
		return false, OverrideControlAddr
	}
	if earlier.TargetOf(earlyTaken) != later.TargetOf(laterTaken) {
		return false, OverrideTarget
	}
	if len(earlier.BTBEntries) != len(later.BTBEntries) {
		return false, OverrideEnd
	}
	for i := range earlier.BTBEntries {
		if earlier.BTBEntries[i].PC != later.BTBEntries[i].PC {
			return false, OverrideHistInfo
		}
	}
	return true, OverrideNone
}
