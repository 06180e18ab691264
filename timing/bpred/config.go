package bpred

import (
	"encoding/json"
	"fmt"
	"os"
)

// BTBConfig configures one set-associative BTB instance (L0/uBTB or L1).
type BTBConfig struct {
	NumEntries           uint32 `json:"num_entries"`
	NumWays              uint32 `json:"num_ways"`
	TagBits              uint32 `json:"tag_bits"`
	NumDelayStages        int    `json:"num_delay_stages"`
	AheadPipelinedStages int    `json:"ahead_pipelined_stages"`
	AlignToBlockSize      bool   `json:"align_to_block_size"`
	HalfAligned           bool   `json:"half_aligned"`
}

// TageConfig configures the TAGE conditional direction predictor.
type TageConfig struct {
	NumPredictors  int   `json:"num_predictors"`
	TableSizes     []int `json:"table_sizes"`
	TagBits        []int `json:"tag_bits"`
	HistLengths    []int `json:"hist_lengths"`
	UsefulResetMax int   `json:"useful_reset_max"`
	DelayStages    int   `json:"delay_stages"`
}

// ITTageConfig configures the ITTAGE indirect target predictor.
type ITTageConfig struct {
	NumPredictors  int   `json:"num_predictors"`
	TableSizes     []int `json:"table_sizes"`
	TagBits        []int `json:"tag_bits"`
	HistLengths    []int `json:"hist_lengths"`
	UsefulResetMax int   `json:"useful_reset_max"`
	DelayStages    int   `json:"delay_stages"`
	ConfidenceMin  int   `json:"confidence_min"`
}

// MGSCConfig configures the multi-class statistical corrector.
type MGSCConfig struct {
	TableSize    int `json:"table_size"`
	NumTables    int `json:"num_tables"`
	GlobalHistLen int `json:"global_hist_len"`
	BackwardHistLen int `json:"backward_hist_len"`
	LocalHistLen int `json:"local_hist_len"`
	PathHistLen  int `json:"path_hist_len"`
	IMLIHistLen  int `json:"imli_hist_len"`
}

// RASConfig configures the two-level return address stack.
type RASConfig struct {
	NumEntries         int `json:"num_entries"`
	NumInflightEntries int `json:"num_inflight_entries"`
	CtrWidth           int `json:"ctr_width"`
}

// FSQConfig configures the Fetch Stream Queue.
type FSQConfig struct {
	Size int `json:"size"`
}

// FTQConfig configures the Fetch Target Queue.
type FTQConfig struct {
	Size int `json:"size"`
}

// Config aggregates every predictor sub-component's configuration, the
// way timing/latency.TimingConfig aggregates per-instruction latencies.
type Config struct {
	NumStages         int    `json:"num_stages"`
	PredictWidth      int    `json:"predict_width"`
	BlockSize         uint64 `json:"block_size"`
	AlignToBlockSize  bool   `json:"align_to_block_size"`
	HistoryBits       int    `json:"history_bits"`

	BTBL0 BTBConfig    `json:"btb_l0"`
	BTBL1 BTBConfig    `json:"btb_l1"`
	Tage  TageConfig   `json:"tage"`
	ITage ITTageConfig `json:"ittage"`
	MGSC  MGSCConfig   `json:"mgsc"`
	RAS   RASConfig    `json:"ras"`
	FSQ   FSQConfig    `json:"fsq"`
	FTQ   FTQConfig    `json:"ftq"`

	Debug        bool `json:"debug"`
	TraceEnabled bool `json:"trace_enabled"`
}

// DefaultConfig returns a Config with the parameter values spec.md §6
// and §8 use for the default test scenarios (3 stages, 488-bit global
// history, 4-table TAGE, 16/32-entry RAS).
func DefaultConfig() Config {
	return Config{
		NumStages:        3,
		PredictWidth:      4,
		BlockSize:        32,
		AlignToBlockSize: true,
		HistoryBits:      488,

		BTBL0: BTBConfig{
			NumEntries: 32, NumWays: 4, TagBits: 16,
			NumDelayStages: 0, AheadPipelinedStages: 0,
		},
		BTBL1: BTBConfig{
			NumEntries: 4096, NumWays: 8, TagBits: 20,
			NumDelayStages: 1, AheadPipelinedStages: 0,
		},
		Tage: TageConfig{
			NumPredictors:  4,
			TableSizes:     []int{1024, 1024, 2048, 2048},
			TagBits:        []int{8, 8, 9, 9},
			HistLengths:    []int{8, 16, 32, 64},
			UsefulResetMax: 128,
			DelayStages:    1,
		},
		ITage: ITTageConfig{
			NumPredictors:  4,
			TableSizes:     []int{512, 512, 1024, 1024},
			TagBits:        []int{8, 8, 9, 9},
			HistLengths:    []int{8, 16, 32, 64},
			UsefulResetMax: 128,
			DelayStages:    1,
			ConfidenceMin:  2,
		},
		MGSC: MGSCConfig{
			TableSize: 1024, NumTables: 4,
			GlobalHistLen: 32, BackwardHistLen: 32,
			LocalHistLen: 16, PathHistLen: 16, IMLIHistLen: 8,
		},
		RAS: RASConfig{NumEntries: 16, NumInflightEntries: 32, CtrWidth: 4},
		FSQ: FSQConfig{Size: 48},
		FTQ: FTQConfig{Size: 20},
	}
}

// LoadConfig loads a Config from a JSON file, starting from
// DefaultConfig so unspecified fields keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bpred config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse bpred config: %w", err)
	}

	return &config, nil
}

// SaveConfig writes the Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize bpred config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write bpred config file: %w", err)
	}
	return nil
}

// Validate checks the structural invariants spec.md §7 requires to hold
// at construction time.
func (c *Config) Validate() error {
	if c.HistoryBits <= 0 {
		return ErrBadHistoryBits
	}
	for _, btb := range []BTBConfig{c.BTBL0, c.BTBL1} {
		if err := btb.validate(); err != nil {
			return err
		}
	}
	if len(c.Tage.TableSizes) != c.Tage.NumPredictors ||
		len(c.Tage.TagBits) != c.Tage.NumPredictors ||
		len(c.Tage.HistLengths) != c.Tage.NumPredictors {
		return ErrBadTableGeometry
	}
	if len(c.ITage.TableSizes) != c.ITage.NumPredictors ||
		len(c.ITage.TagBits) != c.ITage.NumPredictors ||
		len(c.ITage.HistLengths) != c.ITage.NumPredictors {
		return ErrBadTableGeometry
	}
	if c.RAS.NumEntries <= 0 || c.RAS.NumInflightEntries <= 0 {
		return ErrBadRASGeometry
	}
	if c.FSQ.Size <= 0 || c.FTQ.Size <= 0 {
		return ErrBadQueueCapacity
	}
	return nil
}

func (b BTBConfig) validate() error {
	if b.NumWays == 0 || b.NumEntries == 0 || b.NumEntries%b.NumWays != 0 {
		return ErrBadAssociativity
	}
	if b.HalfAligned && b.AheadPipelinedStages > 0 {
		return ErrHalfAlignedAhead
	}
	return nil
}
