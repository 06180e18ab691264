package bpred_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/m2sim/timing/bpred"
)

var _ = Describe("Predictor", func() {
	var cfg bpred.Config
	var p *bpred.Predictor

	BeforeEach(func() {
		cfg = bpred.DefaultConfig()
		var err error
		p, err = bpred.NewPredictor(cfg)
		Expect(err).NotTo(HaveOccurred())
	})

	It("eventually supplies a not-taken fetch block for an empty BTB", func() {
		for i := 0; i < 6; i++ {
			p.Tick()
		}

		entry, ok, inLoop := p.TrySupplyFetchWithTarget(0)
		Expect(ok).To(BeTrue())
		Expect(inLoop).To(BeFalse())
		Expect(entry.StartPC).To(Equal(uint64(0)))
		Expect(entry.EndPC).To(Equal(cfg.BlockSize))
		Expect(entry.Taken).To(BeFalse())
	})

	It("redirects the fetch stream to the resolved target on a control squash", func() {
		for i := 0; i < 6; i++ {
			p.Tick()
		}
		// Drain the first block so the FSQ/FTQ are in steady state.
		_, ok, _ := p.TrySupplyFetchWithTarget(0)
		Expect(ok).To(BeTrue())

		p.ControlSquash(0, 0, 0x10, 0x2000, true, true, false)
		Expect(p.Stats.ControlSquashes).To(Equal(uint64(1)))

		// Immediately after a squash the FTQ has been wiped.
		_, ok, _ = p.TrySupplyFetchWithTarget(0)
		Expect(ok).To(BeFalse())

		for i := 0; i < 6; i++ {
			p.Tick()
		}

		entry, ok, _ := p.TrySupplyFetchWithTarget(0x2000)
		Expect(ok).To(BeTrue())
		Expect(entry.StartPC).To(Equal(uint64(0x2000)))
	})

	It("keeps supplying the following fetch block after Update commits a stream", func() {
		for i := 0; i < 6; i++ {
			p.Tick()
		}

		p.Update(0, 0)

		// Committing the first stream leaves the block that follows it
		// available to fetch.
		_, ok, _ := p.TrySupplyFetchWithTarget(cfg.BlockSize)
		Expect(ok).To(BeTrue())
	})

	It("resets speculative state and the fetch PC via ResetPC", func() {
		for i := 0; i < 6; i++ {
			p.Tick()
		}

		p.ResetPC(0x4000)

		_, ok, _ := p.TrySupplyFetchWithTarget(0)
		Expect(ok).To(BeFalse())

		for i := 0; i < 6; i++ {
			p.Tick()
		}

		entry, ok, _ := p.TrySupplyFetchWithTarget(0x4000)
		Expect(ok).To(BeTrue())
		Expect(entry.StartPC).To(Equal(uint64(0x4000)))
	})
})
