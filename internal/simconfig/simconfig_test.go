package simconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/supraxlabs/ghbprefetch/ghb"
)

func TestLoadFileParsesYAMLIntoConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sim.yaml")
	content := "history_size: 2048\npattern_length: 6\ndegree: 8\nuse_pc: false\npage_bytes: 8192\nconfidence_threshold: 40\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, SimConfig{
		HistorySize:         2048,
		PatternLength:       6,
		Degree:              8,
		UsePC:               false,
		PageBytes:           8192,
		ConfidenceThreshold: 40,
	}, cfg)
}

func TestLoadFileMissingPathReturnsWrappedError(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
}

func TestLoadFilePartialYAMLKeepsDefaultsForOmittedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("degree: 2\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	def := Default()
	require.Equal(t, 2, cfg.Degree)
	require.Equal(t, def.HistorySize, cfg.HistorySize)
	require.Equal(t, def.PageBytes, cfg.PageBytes)
}

func TestToGHBConfigMapsEveryField(t *testing.T) {
	cfg := SimConfig{
		HistorySize:         512,
		PatternLength:       5,
		Degree:              3,
		UsePC:               true,
		PageBytes:           4096,
		ConfidenceThreshold: 60,
	}
	require.Equal(t, ghb.Config{
		HistorySize:         512,
		PatternLength:       5,
		Degree:              3,
		UsePC:               true,
		PageBytes:           4096,
		ConfidenceThreshold: 60,
	}, cfg.ToGHBConfig())
}

func TestApplyOverridesOnlyReplacesNonZeroFields(t *testing.T) {
	base := Default()
	overrides := SimConfig{Degree: 16}
	merged := base.ApplyOverrides(overrides)

	require.Equal(t, 16, merged.Degree)
	require.Equal(t, base.HistorySize, merged.HistorySize)
	require.Equal(t, base.PatternLength, merged.PatternLength)
	require.Equal(t, base.PageBytes, merged.PageBytes)
	require.Equal(t, base.ConfidenceThreshold, merged.ConfidenceThreshold)
}
