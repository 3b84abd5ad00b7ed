// Package simconfig loads the dispatcher's tunables from a YAML file, the
// way prysm's node layer resolves its BeaconConfig from a flag-supplied
// config path before the rest of the stack ever touches it.
package simconfig

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/supraxlabs/ghbprefetch/ghb"
)

// SimConfig mirrors ghb.Config field-for-field with yaml tags; it is the
// on-disk representation, kept separate from ghb.Config itself so the core
// package never has to know about serialization.
type SimConfig struct {
	HistorySize         int    `yaml:"history_size"`
	PatternLength       int    `yaml:"pattern_length"`
	Degree              int    `yaml:"degree"`
	UsePC               bool   `yaml:"use_pc"`
	PageBytes           uint64 `yaml:"page_bytes"`
	ConfidenceThreshold int    `yaml:"confidence_threshold"`
}

// Default returns the baseline tunables used when no config file is given.
func Default() SimConfig {
	return SimConfig{
		HistorySize:         1024,
		PatternLength:       4,
		Degree:              4,
		UsePC:               true,
		PageBytes:           4096,
		ConfidenceThreshold: 50,
	}
}

// LoadFile reads and parses a YAML config file. A missing or malformed file
// is an error here; clamping to safe minimums happens once downstream, at
// ghb.Config.Clamp (via Dispatcher construction), not in this loader.
func LoadFile(path string) (SimConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SimConfig{}, errors.Wrapf(err, "reading config file %q", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return SimConfig{}, errors.Wrapf(err, "parsing config file %q", path)
	}
	return cfg, nil
}

// ToGHBConfig converts the on-disk representation to the core's own
// configuration type.
func (c SimConfig) ToGHBConfig() ghb.Config {
	return ghb.Config{
		HistorySize:         c.HistorySize,
		PatternLength:       c.PatternLength,
		Degree:              c.Degree,
		UsePC:               c.UsePC,
		PageBytes:           c.PageBytes,
		ConfidenceThreshold: c.ConfidenceThreshold,
	}
}

// ApplyOverrides replaces any numeric field set to a non-zero override
// value, letting CLI flags take precedence over the file without needing a
// pointer-based "was this flag set" dance for every field. UsePC is never
// overridden; it always keeps c's value.
func (c SimConfig) ApplyOverrides(overrides SimConfig) SimConfig {
	out := c
	if overrides.HistorySize != 0 {
		out.HistorySize = overrides.HistorySize
	}
	if overrides.PatternLength != 0 {
		out.PatternLength = overrides.PatternLength
	}
	if overrides.Degree != 0 {
		out.Degree = overrides.Degree
	}
	if overrides.PageBytes != 0 {
		out.PageBytes = overrides.PageBytes
	}
	if overrides.ConfidenceThreshold != 0 {
		out.ConfidenceThreshold = overrides.ConfidenceThreshold
	}
	return out
}
