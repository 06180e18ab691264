package bpred

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// mgscCounter is a signed, saturating 6-bit counter: the shared shape
// of the per-bank history rows and the per-bank scalar weights in
// spec.md §4.5 (the thresholds use mgscThreshold below).
type mgscCounter struct {
	ctr int8
}

const (
	mgscCtrMin int8 = -32
	mgscCtrMax int8 = 31
)

func (c *mgscCounter) update(taken bool) {
	if taken {
		if c.ctr < mgscCtrMax {
			c.ctr++
		}
	} else if c.ctr > mgscCtrMin {
		c.ctr--
	}
}

// percsum is spec.md §4.5 step 1's per-row contribution, 2*ctr+1,
// which ranges over [-63, 63]; its sign is the row's vote.
func (c *mgscCounter) percsum() int {
	return 2*int(c.ctr) + 1
}

// mgscThreshold is an unsigned saturating counter backing both the
// global and per-PC threshold tables of spec.md §4.5 step 3.
type mgscThreshold struct {
	ctr int
}

const (
	mgscThreshMin       = 0
	mgscThreshMax       = 255
	mgscGlobalThreshInit = 35
)

func (t *mgscThreshold) raise() {
	if t.ctr < mgscThreshMax {
		t.ctr++
	}
}

func (t *mgscThreshold) lower() {
	if t.ctr > mgscThreshMin {
		t.ctr--
	}
}

// mgscBank is one history-class bank of the statistical corrector: a
// folded-history-indexed table of perceptron rows, LRU-tagged by the PC
// that last touched each row so that rows belonging to the wrong branch
// don't silently alias into the weighted sum, plus a per-PC scalar
// weight table, per spec.md §4.5.
type mgscBank struct {
	fold    *FoldedHistory
	rows    *lru.Cache[uint64, *mgscCounter]
	weights *lru.Cache[uint64, *mgscCounter]
	size    int
}

func newMGSCBank(histLen, size int) *mgscBank {
	rows, _ := lru.New[uint64, *mgscCounter](size)
	weights, _ := lru.New[uint64, *mgscCounter](size)
	return &mgscBank{
		fold:    NewFoldedHistory(histLen, log2Ceil(size), 16),
		rows:    rows,
		weights: weights,
		size:    size,
	}
}

// rowKey folds the bank's history register into the row index and tags
// it with the low 16 bits of pc, so two PCs hashing to the same folded
// index don't alias into the same row.
func (b *mgscBank) rowKey(pc uint64) uint64 {
	idx := (pc ^ b.fold.Uint64()) % uint64(b.size)
	return idx<<16 ^ (pc & 0xffff)
}

func (b *mgscBank) row(pc uint64) *mgscCounter {
	key := b.rowKey(pc)
	if c, ok := b.rows.Get(key); ok {
		return c
	}
	c := &mgscCounter{}
	b.rows.Add(key, c)
	return c
}

func (b *mgscBank) weight(pc uint64) *mgscCounter {
	key := pc & 0xffff
	if w, ok := b.weights.Get(key); ok {
		return w
	}
	w := &mgscCounter{}
	b.weights.Add(key, w)
	return w
}

// scaledPercsum is spec.md §4.5 step 2: scaled_b = (weight_b+32)/32 ·
// percsum_b, truncating the same way the original's float cast does
// (weight >= mgscCtrMin = -32, so the numerator is always >= 0).
func scaledPercsum(weight, percsum int) int {
	return (weight + 32) * percsum / 32
}

// pivotal reports whether bank b's contribution flips the sign of
// lsum: true iff removing it and iff doubling it disagree on the sign
// of the resulting sum (spec.md §4.5 step 4).
func pivotal(lsum, scaled, percsum int) bool {
	withoutBank := lsum - scaled
	return (withoutBank >= 0) != (withoutBank+2*percsum >= 0)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// mgscBankKind names the six bank classes spec.md §4.5 requires.
type mgscBankKind int

const (
	bankGlobal mgscBankKind = iota
	bankGlobalBackward
	bankLocal
	bankIMLI
	bankPath
	bankBias
	numMGSCBanks
)

// mgscHistOrder is the fixed order in which the five non-bias banks'
// folded histories advance on both a speculative update and a
// squash-triggered recovery, per DESIGN.md's Open Question resolution:
// global, path, backward, IMLI, local.
var mgscHistOrder = [5]mgscBankKind{bankGlobal, bankPath, bankGlobalBackward, bankIMLI, bankLocal}

// MGSCPrediction is MGSC's per-PC prediction record, stored in
// MGSCMeta for later update/rollback.
type MGSCPrediction struct {
	PC         uint64
	Rows       [numMGSCBanks]*mgscCounter
	Weights    [numMGSCBanks]*mgscCounter
	PercSums   [numMGSCBanks]int
	Scaled     [numMGSCBanks]int
	Pivotal    [numMGSCBanks]bool
	Lsum       int
	Threshold  int
	BaseTaken  bool
	FinalTaken bool
	UsedSC     bool
}

// MGSCMeta is MGSC's per-prediction rollback snapshot.
type MGSCMeta struct {
	Preds     map[uint64]MGSCPrediction
	BankFolds [5]*FoldedHistory
}

func (MGSCMeta) isComponentMeta() {}

// MGSC implements the multi-class global/local statistical corrector of
// spec.md §4.5: six perceptron-style weighted banks plus a pair of
// adaptive confidence thresholds, used to override TAGE/ITTAGE when
// their combined signal disagrees strongly with the base prediction.
// Its override aggressiveness is gated by TAGE's own confidence in the
// branch it is correcting.
type MGSC struct {
	cfg  MGSCConfig
	tage *TAGE

	banks [numMGSCBanks]*mgscBank

	globalThresh *mgscThreshold
	perPCThresh  *lru.Cache[uint64, *mgscThreshold]

	imliCtr int

	lastMeta map[uint64]MGSCPrediction
	stats    *Stats
}

// NewMGSC constructs an MGSC corrector from cfg, gating its overrides
// on the confidence tage reports for each branch it corrects.
func NewMGSC(cfg MGSCConfig, tage *TAGE, stats *Stats) (*MGSC, error) {
	if cfg.NumTables <= 0 || cfg.TableSize <= 0 {
		return nil, ErrBadTableGeometry
	}
	perPCThresh, _ := lru.New[uint64, *mgscThreshold](cfg.NumTables)
	m := &MGSC{
		cfg:          cfg,
		tage:         tage,
		globalThresh: &mgscThreshold{ctr: mgscGlobalThreshInit},
		perPCThresh:  perPCThresh,
		stats:        stats,
	}
	m.banks[bankGlobal] = newMGSCBank(cfg.GlobalHistLen, cfg.TableSize)
	m.banks[bankGlobalBackward] = newMGSCBank(cfg.BackwardHistLen, cfg.TableSize)
	m.banks[bankLocal] = newMGSCBank(cfg.LocalHistLen, cfg.TableSize)
	m.banks[bankIMLI] = newMGSCBank(cfg.IMLIHistLen, cfg.TableSize)
	m.banks[bankPath] = newMGSCBank(cfg.PathHistLen, cfg.TableSize)
	m.banks[bankBias] = newMGSCBank(1, cfg.TableSize)

	return m, nil
}

// perPCThreshold returns (allocating a fresh zero counter if absent)
// the threshold entry for pc's table slot.
func (m *MGSC) perPCThreshold(pc uint64) *mgscThreshold {
	key := pc % uint64(m.cfg.NumTables)
	if t, ok := m.perPCThresh.Get(key); ok {
		return t
	}
	t := &mgscThreshold{}
	m.perPCThresh.Add(key, t)
	return t
}

// PutPCHistory implements the Component interface: it computes the
// corrector's vote for every conditional BTB entry already present in
// the final stage's prediction, per spec.md §4.5 steps 1-4, and
// overrides the TAGE/ITTAGE choice when the weighted sum crosses the
// TAGE-confidence-gated threshold in the opposite direction.
func (m *MGSC) PutPCHistory(startPC uint64, ghr *GHR, stagePreds []*FullBTBPrediction) {
	records := make(map[uint64]MGSCPrediction)
	final := stagePreds[len(stagePreds)-1]

	for _, e := range final.BTBEntries {
		if !e.IsCond {
			continue
		}
		baseTaken, hasBase := final.CondTakens[e.PC]
		if !hasBase {
			continue
		}

		rec := MGSCPrediction{PC: e.PC, BaseTaken: baseTaken}
		for bi := range m.banks {
			row := m.banks[bi].row(e.PC)
			weight := m.banks[bi].weight(e.PC)
			rec.Rows[bi] = row
			rec.Weights[bi] = weight
			rec.PercSums[bi] = row.percsum()
			rec.Scaled[bi] = scaledPercsum(int(weight.ctr), rec.PercSums[bi])
			rec.Lsum += rec.Scaled[bi]
		}
		for bi := range rec.Scaled {
			rec.Pivotal[bi] = pivotal(rec.Lsum, rec.Scaled[bi], rec.PercSums[bi])
		}

		rec.Threshold = m.globalThresh.ctr + m.perPCThreshold(e.PC).ctr
		gated := rec.Threshold
		high, mid, low := m.tage.Confidence(e.PC)
		switch {
		case high:
			gated = rec.Threshold / 2
		case mid:
			gated = rec.Threshold / 4
		case low:
			gated = rec.Threshold / 8
		}

		rec.UsedSC = absInt(rec.Lsum) > gated
		rec.FinalTaken = baseTaken
		if rec.UsedSC {
			rec.FinalTaken = rec.Lsum >= 0
		}

		records[e.PC] = rec
		if rec.UsedSC && rec.FinalTaken != baseTaken {
			m.stats.MGSCOverrides++
		}
	}

	for s := 0; s < len(stagePreds); s++ {
		for pc, rec := range records {
			if rec.UsedSC {
				stagePreds[s].CondTakens[pc] = rec.FinalTaken
			}
		}
	}
	m.lastMeta = records
}

// GetPredictionMeta implements the Component interface. Bank fold
// snapshots are taken here, before SpecUpdateHist advances them, so
// RecoverHist has a pre-update state to restore from.
func (m *MGSC) GetPredictionMeta() ComponentMeta {
	var folds [5]*FoldedHistory
	for i, bk := range mgscHistOrder {
		folds[i] = m.banks[bk].fold.Snapshot()
	}
	return MGSCMeta{Preds: m.lastMeta, BankFolds: folds}
}

// SpecUpdateHist implements the Component interface. The five non-bias
// banks' folded histories advance in the fixed order global, path,
// backward, IMLI, local, per the resolved Open Question in DESIGN.md:
// squash recovery must replay history in this exact sequence for the
// folded registers to stay consistent with the authoritative GHR.
func (m *MGSC) SpecUpdateHist(ghr *GHR, pred *FullBTBPrediction) {
	taken, ok := pred.GetTaken()
	condTaken := ok && taken.IsCond && pred.CondTakens[taken.PC]
	shamt := 1

	for _, bk := range mgscHistOrder {
		m.banks[bk].fold.Update(ghr, shamt, condTaken)
	}
	m.updateIMLI(condTaken)
}

func (m *MGSC) updateIMLI(taken bool) {
	if taken {
		m.imliCtr++
	} else {
		m.imliCtr = 0
	}
}

// RecoverHist implements the Component interface, per spec.md §4.1's
// recover contract: every bank's folded history is restored from the
// snapshot GetPredictionMeta took at prediction time, then replayed
// forward by exactly the resolved (shamt, condTaken) the squash
// produced, in the same fixed order SpecUpdateHist uses.
func (m *MGSC) RecoverHist(ghr *GHR, stream *FetchStream, shamt int, condTaken bool) {
	meta, ok := stream.PredMetas[ComponentMGSC].(MGSCMeta)
	if !ok {
		return
	}
	for i, bk := range mgscHistOrder {
		fold := m.banks[bk].fold
		fold.Recover(meta.BankFolds[i])
		fold.Update(ghr, shamt, condTaken)
	}
	m.updateIMLI(condTaken)
}

// Update implements the Component interface, per spec.md §4.5's update
// rule: train every bank row toward the outcome (and retrain the
// weight of each bank whose contribution was pivotal) whenever the
// corrector's vote was wrong or the margin was thin; in that same case,
// also retrain both threshold tables if MGSC's raw sign disagreed with
// the base TAGE direction.
func (m *MGSC) Update(stream *FetchStream) {
	meta, ok := stream.PredMetas[ComponentMGSC].(MGSCMeta)
	if !ok {
		return
	}

	for pc, rec := range meta.Preds {
		if stream.ExeBranchInfo.PC != pc {
			continue
		}
		actualTaken := stream.ExeTaken
		scTaken := rec.Lsum >= 0

		if scTaken == actualTaken {
			m.stats.MGSCCorrect++
		} else {
			m.stats.MGSCIncorrect++
		}

		if scTaken != actualTaken || absInt(rec.Lsum) < rec.Threshold {
			for bi := range rec.Rows {
				if rec.Rows[bi] != nil {
					rec.Rows[bi].update(actualTaken)
				}
				if rec.Pivotal[bi] && rec.Weights[bi] != nil {
					rec.Weights[bi].update((rec.PercSums[bi] >= 0) == actualTaken)
				}
			}

			if rec.BaseTaken != scTaken {
				wrong := scTaken != actualTaken
				if wrong {
					m.globalThresh.raise()
					m.perPCThreshold(pc).raise()
				} else {
					m.globalThresh.lower()
					m.perPCThreshold(pc).lower()
				}
			}
		}
	}
}
