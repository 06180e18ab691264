// Package core provides the cycle-accurate CPU core model.
// It wraps the pipeline implementation to provide a high-level interface.
package core

import (
	"github.com/sarchlab/m2sim/emu"
	"github.com/sarchlab/m2sim/timing/bpred"
	"github.com/sarchlab/m2sim/timing/pipeline"
)

// Stats holds performance statistics for the core.
type Stats struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Instructions is the number of instructions retired.
	Instructions uint64
	// Stalls is the number of stall cycles.
	Stalls uint64
	// Flushes is the number of pipeline flushes.
	Flushes uint64
	// ExecStalls is the number of cycles EX held on multi-cycle latency.
	ExecStalls uint64
	// MemStalls is the number of cycles MEM held on multi-cycle latency.
	MemStalls uint64
}

// Core represents a cycle-accurate CPU core model.
// It wraps a 5-stage pipeline, fronted by the decoupled branch predictor
// by default, and provides a simple interface for simulation.
type Core struct {
	// Pipeline is the underlying 5-stage pipeline.
	Pipeline *pipeline.Pipeline

	// Predictor is the decoupled front end driving the pipeline's fetch
	// stage. Nil when built with WithoutPredictor, or when the predictor
	// configuration fails validation (WithDecoupledFrontend drops the
	// error and leaves the pipeline without an oracle).
	Predictor *bpred.Predictor

	// Shared resources
	regFile *emu.RegFile
	memory  *emu.Memory
}

// CoreOption configures Core construction, mirroring
// timing/pipeline.PipelineOption.
type CoreOption func(*coreConfig)

type coreConfig struct {
	predictorConfig bpred.Config
	noPredictor     bool
	pipelineOpts    []pipeline.PipelineOption
}

// WithPredictorConfig overrides the decoupled predictor's configuration.
func WithPredictorConfig(cfg bpred.Config) CoreOption {
	return func(c *coreConfig) {
		c.predictorConfig = cfg
	}
}

// WithoutPredictor disables the decoupled front end, leaving the
// pipeline to fetch sequentially the way it does with no oracle at all.
func WithoutPredictor() CoreOption {
	return func(c *coreConfig) {
		c.noPredictor = true
	}
}

// WithPipelineOptions passes additional options through to the
// underlying pipeline.NewPipeline call (e.g. WithLatencyTable).
func WithPipelineOptions(opts ...pipeline.PipelineOption) CoreOption {
	return func(c *coreConfig) {
		c.pipelineOpts = append(c.pipelineOpts, opts...)
	}
}

// NewCore creates a new Core with the given register file and memory. By
// default it fronts the pipeline with the decoupled FSQ/FTQ branch
// predictor (bpred.DefaultConfig); pass WithoutPredictor to fall back to
// the pipeline's own sequential fetch.
func NewCore(regFile *emu.RegFile, memory *emu.Memory, opts ...CoreOption) *Core {
	cfg := coreConfig{predictorConfig: bpred.DefaultConfig()}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Core{regFile: regFile, memory: memory}

	pipelineOpts := cfg.pipelineOpts
	if !cfg.noPredictor {
		pipelineOpts = append(pipelineOpts, pipeline.WithDecoupledFrontend(cfg.predictorConfig))
	}

	c.Pipeline = pipeline.NewPipeline(regFile, memory, pipelineOpts...)
	c.Predictor = c.Pipeline.Predictor()
	return c
}

// SetPC sets the program counter.
func (c *Core) SetPC(pc uint64) {
	c.Pipeline.SetPC(pc)
}

// Tick executes one pipeline cycle.
func (c *Core) Tick() {
	c.Pipeline.Tick()
}

// Halted returns true if the core has halted (e.g., due to exit syscall).
func (c *Core) Halted() bool {
	return c.Pipeline.Halted()
}

// ExitCode returns the exit code if the core has halted.
func (c *Core) ExitCode() int64 {
	return c.Pipeline.ExitCode()
}

// Stats returns performance statistics for the core.
func (c *Core) Stats() Stats {
	pipeStats := c.Pipeline.Stats()
	return Stats{
		Cycles:       pipeStats.Cycles,
		Instructions: pipeStats.Instructions,
		Stalls:       pipeStats.Stalls,
		Flushes:      pipeStats.Flushes,
		ExecStalls:   pipeStats.ExecStalls,
		MemStalls:    pipeStats.MemStalls,
	}
}

// PredictorStats returns the decoupled predictor's performance counters,
// the zero value if Core was built with WithoutPredictor.
func (c *Core) PredictorStats() bpred.Stats {
	if c.Predictor == nil {
		return bpred.Stats{}
	}
	return *c.Predictor.Stats
}

// Run executes the core until it halts.
// Returns the exit code.
func (c *Core) Run() int64 {
	return c.Pipeline.Run()
}

// RunCycles executes the core for the specified number of cycles.
// Returns true if still running, false if halted.
func (c *Core) RunCycles(cycles uint64) bool {
	return c.Pipeline.RunCycles(cycles)
}

// Reset clears all core state.
func (c *Core) Reset() {
	c.Pipeline.Reset()
}
