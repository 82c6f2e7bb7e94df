package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validSettings() CvSettings {
	return CvSettings{
		HLowerPercentile:           5,
		HUpperPercentile:           60,
		SLowerPercentile:           10,
		SUpperPercentile:           90,
		VLowerPercentile:           20,
		VUpperPercentile:           95,
		CloseKernel:                3,
		OpenKernel:                 3,
		VerticalDilationIterations: 3,
		DistThreshold:              15,
		R2Threshold:                95,
		SwapCameras:                false,
	}
}

func writeSettingsFile(t *testing.T, s CvSettings) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadRoundTrip(t *testing.T) {
	want := validSettings()
	path := writeSettingsFile(t, want)

	store, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, want, store.Snapshot())
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"), zap.NewNop())
	assert.Error(t, err)
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path, zap.NewNop())
	assert.Error(t, err)
}

func TestUpdatePersists(t *testing.T) {
	path := writeSettingsFile(t, validSettings())
	store, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	next := validSettings()
	next.DistThreshold = 25
	next.SwapCameras = true
	require.NoError(t, store.Update(next))
	assert.Equal(t, next, store.Snapshot())

	// Reload from disk and confirm the write is lossless.
	reloaded, err := Load(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, next, reloaded.Snapshot())
}

func TestUpdateRejectsInvalid(t *testing.T) {
	path := writeSettingsFile(t, validSettings())
	store, err := Load(path, zap.NewNop())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*CvSettings)
	}{
		{"inverted percentiles", func(s *CvSettings) { s.HLowerPercentile = 80; s.HUpperPercentile = 20 }},
		{"percentile out of range", func(s *CvSettings) { s.VUpperPercentile = 150 }},
		{"zero kernel", func(s *CvSettings) { s.OpenKernel = 0 }},
		{"negative dist threshold", func(s *CvSettings) { s.DistThreshold = -1 }},
		{"r2 threshold out of range", func(s *CvSettings) { s.R2Threshold = 101 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := validSettings()
			tt.mutate(&bad)
			assert.Error(t, store.Update(bad))
		})
	}
}
