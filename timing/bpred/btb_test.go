package bpred_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m2sim/timing/bpred"
)

// install writes a single unconditional branch at branchPC (inside the
// block starting at startPC) into b, via the same GetAndSetNewBTBEntry +
// Update sequence the driver uses on commit.
func install(b *bpred.BTB, startPC, branchPC, target uint64) {
	stream := &bpred.FetchStream{
		StartPC:  startPC,
		ExeTaken: true,
		ExeBranchInfo: bpred.BranchInfo{
			PC:     branchPC,
			Target: target,
			Size:   4,
		},
		UpdateEndInstPC: branchPC,
	}
	b.GetAndSetNewBTBEntry(stream)
	b.Update(stream)
}

func lookup(b *bpred.BTB, startPC uint64) []bpred.BTBEntry {
	ghr := bpred.NewGHR(8)
	stagePreds := []*bpred.FullBTBPrediction{bpred.NewFullBTBPrediction(startPC, 0)}
	b.PutPCHistory(startPC, ghr, stagePreds)
	return stagePreds[0].BTBEntries
}

var _ = Describe("BTB", func() {
	var stats *bpred.Stats

	BeforeEach(func() {
		stats = &bpred.Stats{}
	})

	It("hits on a previously installed entry", func() {
		b, err := bpred.NewBTB(bpred.BTBConfig{NumEntries: 2, NumWays: 2, TagBits: 16}, bpred.ComponentBTBL0, 32, stats)
		Expect(err).NotTo(HaveOccurred())

		install(b, 0, 4, 100)

		entries := lookup(b, 0)
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].PC).To(Equal(uint64(4)))
		Expect(entries[0].Target).To(Equal(uint64(100)))
		Expect(stats.BTBL1Hits).To(Equal(uint64(1)))
	})

	It("always misses on an odd start PC regardless of table contents", func() {
		b, err := bpred.NewBTB(bpred.BTBConfig{NumEntries: 2, NumWays: 2, TagBits: 16}, bpred.ComponentBTBL0, 32, stats)
		Expect(err).NotTo(HaveOccurred())

		install(b, 0, 4, 100)

		entries := lookup(b, 1)
		Expect(entries).To(BeEmpty())
	})

	It("evicts the least-recently-used way within a set on conflict", func() {
		// A single set (1 set * 2 ways) shared by three distinct block tags.
		b, err := bpred.NewBTB(bpred.BTBConfig{NumEntries: 2, NumWays: 2, TagBits: 16}, bpred.ComponentBTBL0, 32, stats)
		Expect(err).NotTo(HaveOccurred())

		install(b, 0, 4, 100)  // tag 0, touched first
		install(b, 32, 36, 200) // tag 1, touched second: fills both ways

		// A third, distinct tag must evict the least-recently-touched way (tag 0).
		install(b, 64, 68, 300)

		Expect(lookup(b, 0)).To(BeEmpty(), "the tag-0 entry should have been evicted")
		Expect(lookup(b, 32)).To(HaveLen(1), "the tag-1 entry should have survived")
		Expect(lookup(b, 64)).To(HaveLen(1), "the newly installed tag-2 entry should hit")
	})

	It("looks up both halves of an unaligned fetch block when half-aligned", func() {
		cfg := bpred.BTBConfig{NumEntries: 4, NumWays: 2, TagBits: 16, HalfAligned: true}
		b, err := bpred.NewBTB(cfg, bpred.ComponentBTBL1, 32, stats)
		Expect(err).NotTo(HaveOccurred())

		install(b, 32, 36, 500)

		// startPC=4 straddles block 0 (first) and block 32 (second); the
		// entry lives in the second block only.
		entries := lookup(b, 4)
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].PC).To(Equal(uint64(36)))
	})

	It("delays a hit by exactly the configured number of ahead-pipelined stages", func() {
		cfg := bpred.BTBConfig{NumEntries: 2, NumWays: 2, TagBits: 16, AheadPipelinedStages: 2}
		b, err := bpred.NewBTB(cfg, bpred.ComponentBTBL1, 32, stats)
		Expect(err).NotTo(HaveOccurred())

		install(b, 0, 4, 100)

		Expect(lookup(b, 0)).To(BeEmpty(), "cycle 1: FIFO not yet primed")
		Expect(lookup(b, 0)).To(BeEmpty(), "cycle 2: FIFO not yet primed")
		Expect(lookup(b, 0)).To(HaveLen(1), "cycle 3: delayed snapshot surfaces the entry")
	})
})
