package bpred_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m2sim/timing/bpred"
)

var _ = Describe("FSQ", func() {
	It("assigns monotonically increasing IDs on enqueue", func() {
		q := bpred.NewFSQ(4)
		id0 := q.Enqueue(&bpred.FetchStream{StartPC: 0})
		id1 := q.Enqueue(&bpred.FetchStream{StartPC: 32})
		id2 := q.Enqueue(&bpred.FetchStream{StartPC: 64})

		Expect(id0).To(Equal(uint64(0)))
		Expect(id1).To(Equal(uint64(1)))
		Expect(id2).To(Equal(uint64(2)))
		Expect(q.Len()).To(Equal(3))
	})

	It("reports Full once capacity is reached", func() {
		q := bpred.NewFSQ(2)
		Expect(q.Full()).To(BeFalse())
		q.Enqueue(&bpred.FetchStream{})
		Expect(q.Full()).To(BeFalse())
		q.Enqueue(&bpred.FetchStream{})
		Expect(q.Full()).To(BeTrue())
	})

	It("erases every stream past a given ID on EraseAfter", func() {
		q := bpred.NewFSQ(8)
		q.Enqueue(&bpred.FetchStream{StartPC: 0})
		q.Enqueue(&bpred.FetchStream{StartPC: 32})
		q.Enqueue(&bpred.FetchStream{StartPC: 64})

		q.EraseAfter(0)

		Expect(q.Len()).To(Equal(1))
		_, ok := q.Get(1)
		Expect(ok).To(BeFalse())
		_, ok = q.Get(0)
		Expect(ok).To(BeTrue())
	})

	It("returns committed streams in ascending order and removes them", func() {
		q := bpred.NewFSQ(8)
		q.Enqueue(&bpred.FetchStream{StartPC: 0})
		q.Enqueue(&bpred.FetchStream{StartPC: 32})
		q.Enqueue(&bpred.FetchStream{StartPC: 64})

		committed := q.Commit(1)

		Expect(committed).To(HaveLen(2))
		Expect(committed[0].StartPC).To(Equal(uint64(0)))
		Expect(committed[1].StartPC).To(Equal(uint64(32)))
		Expect(q.Len()).To(Equal(1))
		_, ok := q.Get(2)
		Expect(ok).To(BeTrue())
	})
})

var _ = Describe("FTQ", func() {
	It("derives a not-taken entry spanning the predicted block", func() {
		q := bpred.NewFTQ(8)
		stream := &bpred.FetchStream{ID: 0, PredEndPC: 32, PredTaken: false}

		entry := q.Enqueue(stream)

		Expect(entry.StartPC).To(Equal(uint64(0)))
		Expect(entry.EndPC).To(Equal(uint64(32)))
		Expect(entry.Taken).To(BeFalse())
		Expect(entry.FsqID).To(Equal(uint64(0)))
	})

	It("derives a taken entry redirecting to the branch target", func() {
		q := bpred.NewFTQ(8)
		stream := &bpred.FetchStream{
			ID: 0, PredEndPC: 32, PredTaken: true,
			PredBranchInfo: bpred.BranchInfo{PC: 16, Target: 0x1000},
		}

		entry := q.Enqueue(stream)

		Expect(entry.TakenPC).To(Equal(uint64(16)))
		Expect(entry.Target).To(Equal(uint64(0x1000)))

		// The next enqueue starts from the redirected target, not PredEndPC.
		next := q.Enqueue(&bpred.FetchStream{ID: 1, PredEndPC: 0x1020, PredTaken: false})
		Expect(next.StartPC).To(Equal(uint64(0x1000)))
	})

	It("supplies entries in order and advances past ones fetch has skipped", func() {
		q := bpred.NewFTQ(8)
		q.Enqueue(&bpred.FetchStream{ID: 0, PredEndPC: 32, PredTaken: false})
		q.Enqueue(&bpred.FetchStream{ID: 1, PredEndPC: 64, PredTaken: false})

		entry, ok := q.Supply(0)
		Expect(ok).To(BeTrue())
		Expect(entry.EndPC).To(Equal(uint64(32)))

		// A demand PC past the first entry's end should skip straight to
		// the second.
		entry, ok = q.Supply(40)
		Expect(ok).To(BeTrue())
		Expect(entry.EndPC).To(Equal(uint64(64)))
	})

	It("clears all entries and resets enqueue/demand state on Squash", func() {
		q := bpred.NewFTQ(8)
		q.Enqueue(&bpred.FetchStream{ID: 0, PredEndPC: 32, PredTaken: false})
		q.Enqueue(&bpred.FetchStream{ID: 1, PredEndPC: 64, PredTaken: false})

		q.Squash(0x2000, 5)

		_, ok := q.Supply(0)
		Expect(ok).To(BeFalse())

		next := q.Enqueue(&bpred.FetchStream{ID: 2, PredEndPC: 0x2020, PredTaken: false})
		Expect(next.StartPC).To(Equal(uint64(0x2000)))
	})
})
