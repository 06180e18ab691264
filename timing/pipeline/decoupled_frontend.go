package pipeline

import "github.com/sarchlab/m2sim/timing/bpred"

// branchOracle is the predict/train contract Pipeline drives its fetch
// stage through. BranchPredictor and the decoupled front end below both
// satisfy it, so Pipeline never has to know which one is active.
type branchOracle interface {
	Predict(pc uint64) Prediction
	Update(pc uint64, taken bool, target uint64, isCond, isIndirect bool)
}

// legacyOracle adapts the original single-cycle bimodal/BTB
// BranchPredictor to branchOracle; it has no use for the
// condition/indirect classification the decoupled front end needs, so it
// drops both.
type legacyOracle struct {
	bp *BranchPredictor
}

func (l legacyOracle) Predict(pc uint64) Prediction {
	return l.bp.Predict(pc)
}

func (l legacyOracle) Update(pc uint64, taken bool, target uint64, isCond, isIndirect bool) {
	l.bp.Update(pc, taken, target)
}

// WithBranchPredictor attaches the bimodal/BTB BranchPredictor as
// Pipeline's branch oracle.
func WithBranchPredictor(cfg BranchPredictorConfig) PipelineOption {
	return func(p *Pipeline) {
		p.oracle = legacyOracle{bp: NewBranchPredictor(cfg)}
	}
}

// decoupledOracle adapts the multi-table, FSQ/FTQ-staged decoupled
// predictor to branchOracle. The pipeline itself still resolves branches
// in-order at EX, so the decoupled predictor is driven as a shadow front
// end: Predict ticks its internal FSQ/FTQ pipeline until it can supply a
// fetch target for pc, and Update reports the resolved outcome back
// against the stream that produced it, committing on a match and
// squashing on a misprediction.
type decoupledOracle struct {
	pred *bpred.Predictor
	tid  int

	pending      bool
	pendingFsqID uint64
	pendingPC    uint64
	pendingTaken bool
}

// maxTicksPerFetch bounds how many internal Tick calls decoupledOracle
// will spend trying to drain a fetch target for a single fetch demand,
// so a misconfigured predictor that never fills its FTQ can't hang the
// pipeline.
const maxTicksPerFetch = 64

func newDecoupledOracle(cfg bpred.Config) (*decoupledOracle, error) {
	pred, err := bpred.NewPredictor(cfg)
	if err != nil {
		return nil, err
	}
	return &decoupledOracle{pred: pred}, nil
}

// WithDecoupledFrontend replaces Pipeline's branch oracle with the
// multi-table FSQ/FTQ decoupled front end. Construction errors (bad
// table geometry, etc.) are swallowed and leave Pipeline without an
// oracle, matching the zero-value default of falling back to
// always-fetch-sequentially.
func WithDecoupledFrontend(cfg bpred.Config) PipelineOption {
	return func(p *Pipeline) {
		oracle, err := newDecoupledOracle(cfg)
		if err != nil {
			return
		}
		p.oracle = oracle
	}
}

// Predictor returns the decoupled front end driving p's fetch stage, or
// nil if p was built with a different oracle (or none).
func (p *Pipeline) Predictor() *bpred.Predictor {
	d, ok := p.oracle.(*decoupledOracle)
	if !ok {
		return nil
	}
	return d.pred
}

func (d *decoupledOracle) Predict(pc uint64) Prediction {
	for i := 0; i < maxTicksPerFetch; i++ {
		entry, ok, _ := d.pred.TrySupplyFetchWithTarget(pc)
		if ok {
			d.pending = true
			d.pendingFsqID = entry.FsqID
			d.pendingPC = pc
			d.pendingTaken = entry.Taken && entry.TakenPC == pc
			return Prediction{
				Taken:       d.pendingTaken,
				Target:      entry.Target,
				TargetKnown: d.pendingTaken,
			}
		}
		d.pred.Tick()
	}
	d.pending = false
	return Prediction{}
}

func (d *decoupledOracle) Update(pc uint64, taken bool, target uint64, isCond, isIndirect bool) {
	if !d.pending || d.pendingPC != pc {
		return
	}
	d.pending = false

	if taken == d.pendingTaken {
		d.pred.Update(d.pendingFsqID, d.tid)
		return
	}

	d.pred.ControlSquash(d.pendingFsqID, d.pendingFsqID, pc, target, taken, isCond, isIndirect)
	d.pred.Update(d.pendingFsqID, d.tid)
}
