package bpred_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m2sim/timing/bpred"
)

var _ = Describe("GHR", func() {
	It("shifts the most recent outcome into bit 0", func() {
		ghr := bpred.NewGHR(8)
		ghr.Shift(1, true)
		Expect(ghr.Test(0)).To(BeTrue())

		ghr.Shift(1, false)
		Expect(ghr.Test(0)).To(BeFalse())
		Expect(ghr.Test(1)).To(BeTrue())
	})

	It("restores an independent snapshot via Clone/Recover", func() {
		ghr := bpred.NewGHR(8)
		ghr.Shift(1, true)
		snap := ghr.Clone()

		ghr.Shift(1, false)
		Expect(ghr.Test(0)).To(BeFalse())

		ghr.Recover(snap)
		Expect(ghr.Test(0)).To(BeTrue())
	})

	It("discards bits that fall off the top of the window", func() {
		ghr := bpred.NewGHR(4)
		for i := 0; i < 4; i++ {
			ghr.Shift(1, true)
		}
		ghr.Shift(1, false)
		// The fifth shift pushes the oldest "taken" bit out of the
		// 4-bit register; the other three move up by one position.
		Expect(ghr.Test(0)).To(BeFalse())
		Expect(ghr.Test(1)).To(BeTrue())
		Expect(ghr.Test(2)).To(BeTrue())
		Expect(ghr.Test(3)).To(BeTrue())
	})
})

var _ = Describe("FoldedHistory", func() {
	// driveSequence replays a sequence of (shamt, taken) updates against
	// ghr and fh in the same order the predictor driver uses them
	// (component SpecUpdateHist before the authoritative GHR shift), and
	// asserts the folded invariant holds after every step.
	driveSequence := func(ghr *bpred.GHR, fh *bpred.FoldedHistory, steps [][2]int) {
		for _, step := range steps {
			shamt, takenInt := step[0], step[1]
			taken := takenInt != 0
			fh.Update(ghr, shamt, taken)
			ghr.Shift(shamt, taken)
			Expect(fh.Check(ghr)).To(BeTrue())
		}
	}

	It("stays consistent with the GHR when folding into a narrower register", func() {
		ghr := bpred.NewGHR(64)
		fh := bpred.NewFoldedHistory(8, 4, 2)
		driveSequence(ghr, fh, [][2]int{
			{1, 1}, {1, 0}, {2, 1}, {1, 1}, {2, 0}, {1, 1}, {1, 0}, {2, 1},
		})
	})

	It("stays consistent with the GHR when the fold is wider than the window", func() {
		ghr := bpred.NewGHR(64)
		fh := bpred.NewFoldedHistory(4, 8, 2)
		driveSequence(ghr, fh, [][2]int{
			{1, 1}, {1, 1}, {2, 0}, {1, 0}, {2, 1}, {1, 0},
		})
	})

	It("round-trips through Snapshot/Recover", func() {
		ghr := bpred.NewGHR(64)
		fh := bpred.NewFoldedHistory(8, 4, 2)
		driveSequence(ghr, fh, [][2]int{{1, 1}, {2, 0}, {1, 1}})

		snap := fh.Snapshot()
		before := fh.Uint64()

		fh.Update(ghr, 1, false)
		ghr.Shift(1, false)
		Expect(fh.Uint64()).NotTo(Equal(before))

		fh.Recover(snap)
		Expect(fh.Uint64()).To(Equal(before))
	})
})
