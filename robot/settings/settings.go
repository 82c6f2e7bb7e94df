// Package settings holds the tunable vision thresholds. The control loop
// reads a snapshot every iteration; the monitoring API mutates and persists
// them rarely.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// CvSettings are the row detector tunables. Percentile bounds are in [0,100]
// and are applied per channel over the region of interest, so the effective
// thresholds adapt to ambient lighting.
type CvSettings struct {
	HLowerPercentile int `json:"h_lower_percentile"`
	HUpperPercentile int `json:"h_upper_percentile"`
	SLowerPercentile int `json:"s_lower_percentile"`
	SUpperPercentile int `json:"s_upper_percentile"`
	VLowerPercentile int `json:"v_lower_percentile"`
	VUpperPercentile int `json:"v_upper_percentile"`

	CloseKernel                int `json:"close_kernel"`
	OpenKernel                 int `json:"open_kernel"`
	VerticalDilationIterations int `json:"vertical_dilation_iterations"`

	// DistThreshold is the island merge distance in pixels. R2Threshold is
	// the fit acceptance bound times 100 (95 means R^2 >= 0.95).
	DistThreshold int `json:"dist_threshold"`
	R2Threshold   int `json:"r2_threshold"`

	SwapCameras bool `json:"swap_cameras"`
}

// Validate rejects values the pipeline cannot run with.
func (s CvSettings) Validate() error {
	type bound struct {
		name     string
		lo, hi   int
		loLimit  int
		hiLimit  int
		isPctile bool
	}
	pairs := []bound{
		{"hue", s.HLowerPercentile, s.HUpperPercentile, 0, 100, true},
		{"saturation", s.SLowerPercentile, s.SUpperPercentile, 0, 100, true},
		{"value", s.VLowerPercentile, s.VUpperPercentile, 0, 100, true},
	}
	for _, p := range pairs {
		if p.lo < p.loLimit || p.hi > p.hiLimit || p.lo > p.hi {
			return fmt.Errorf("invalid %s percentile bounds [%d, %d]", p.name, p.lo, p.hi)
		}
	}
	if s.CloseKernel < 1 || s.OpenKernel < 1 {
		return fmt.Errorf("morphology kernels must be >= 1 (open=%d close=%d)", s.OpenKernel, s.CloseKernel)
	}
	if s.VerticalDilationIterations < 0 {
		return fmt.Errorf("vertical dilation iterations must be >= 0, got %d", s.VerticalDilationIterations)
	}
	if s.DistThreshold < 0 {
		return fmt.Errorf("dist threshold must be >= 0, got %d", s.DistThreshold)
	}
	if s.R2Threshold < 0 || s.R2Threshold > 100 {
		return fmt.Errorf("r2 threshold must be in [0, 100], got %d", s.R2Threshold)
	}
	return nil
}

// Store guards the current settings and round-trips them to disk.
type Store struct {
	mu       sync.RWMutex
	settings CvSettings
	path     string
	logger   *zap.Logger
}

// Load reads settings from path. There is no safe default for vision
// thresholds, so a missing or malformed file is a hard error and the caller
// is expected to treat it as fatal.
func Load(path string, logger *zap.Logger) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	var s CvSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings file %s: %w", path, err)
	}
	return &Store{settings: s, path: path, logger: logger}, nil
}

// Snapshot returns a copy of the current settings.
func (st *Store) Snapshot() CvSettings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.settings
}

// Update replaces the settings and persists them. The in-memory value is
// updated even if the write fails, so the running pipeline and the UI stay
// consistent; the failure is surfaced to the caller.
func (st *Store) Update(s CvSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st.mu.Lock()
	st.settings = s
	st.mu.Unlock()

	if err := st.save(s); err != nil {
		st.logger.Error("failed to persist settings", zap.Error(err))
		return err
	}
	st.logger.Info("settings updated", zap.String("path", st.path))
	return nil
}

func (st *Store) save(s CvSettings) error {
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return err
	}
	tmp := st.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, st.path)
}
