package bpred

// Stats aggregates predictor performance counters, following the same
// plain-counters-plus-derived-percentage shape as
// timing/pipeline.BranchPredictorStats.
type Stats struct {
	Predictions    uint64
	Correct        uint64
	Mispredictions uint64

	BTBL0Hits   uint64
	BTBL0Misses uint64
	BTBL1Hits   uint64
	BTBL1Misses uint64

	TageCorrect   uint64
	TageIncorrect uint64
	TageAllocated uint64

	ITTageCorrect   uint64
	ITTageIncorrect uint64

	MGSCCorrect     uint64
	MGSCIncorrect   uint64
	MGSCOverrides   uint64

	RASPushes    uint64
	RASPops      uint64
	RASMismatches uint64

	OverrideCount      uint64
	OverrideBubbleNum  uint64
	OverrideReasons    [6]uint64

	FSQStalls uint64
	FTQStalls uint64

	ControlSquashes    uint64
	NonControlSquashes uint64
	TrapSquashes       uint64
}

// Accuracy returns the overall prediction accuracy as a percentage.
func (s Stats) Accuracy() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Predictions) * 100
}

// MispredictionRate returns the overall misprediction rate as a percentage.
func (s Stats) MispredictionRate() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Mispredictions) / float64(s.Predictions) * 100
}

// BTBL1HitRate returns the L1 BTB hit rate as a percentage.
func (s Stats) BTBL1HitRate() float64 {
	total := s.BTBL1Hits + s.BTBL1Misses
	if total == 0 {
		return 0
	}
	return float64(s.BTBL1Hits) / float64(total) * 100
}

// AvgOverrideBubbles returns the average number of bubbles inserted per
// override event.
func (s Stats) AvgOverrideBubbles() float64 {
	if s.OverrideCount == 0 {
		return 0
	}
	return float64(s.OverrideBubbleNum) / float64(s.OverrideCount)
}

func (s *Stats) recordOverride(reason OverrideReason, bubbles int) {
	s.OverrideCount++
	s.OverrideBubbleNum += uint64(bubbles)
	if int(reason) >= 0 && int(reason) < len(s.OverrideReasons) {
		s.OverrideReasons[reason]++
	}
}

// TraceRecord is a single trace-database row, the in-memory stand-in for
// the "tracing/debug DB" external collaborator of spec.md §1.
type TraceRecord struct {
	Cycle     uint64
	PC        uint64
	Predicted bool
	Actual    bool
	Source    int
}
