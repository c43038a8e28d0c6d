package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ModeSettings is the default roster and parameters for one mode.
type ModeSettings struct {
	Roles                []RoleBinding      `json:"roles" yaml:"roles"`
	IterationCap         int                `json:"iteration_cap,omitempty" yaml:"iteration_cap,omitempty"`
	ConvergenceThreshold *float64           `json:"convergence_threshold,omitempty" yaml:"convergence_threshold,omitempty"`
	Weights              map[string]float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// Settings is the persisted, user-editable configuration layer: per-mode
// default rosters plus the default mode. Missing pieces fall back to the
// built-in (or modes.yaml) defaults.
type Settings struct {
	Modes       map[string]ModeSettings `json:"modes"`
	DefaultMode string                  `json:"default_mode"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// DefaultSettings returns the built-in defaults for all modes.
func DefaultSettings() Settings {
	modes := make(map[string]ModeSettings, len(builtinModeDefaults))
	for mode, ms := range builtinModeDefaults {
		modes[mode] = ms
	}
	return Settings{
		Modes:       modes,
		DefaultMode: builtinDefaultMode,
	}
}

// LoadSettings loads persisted settings, falling back to defaults if the
// file is missing or unreadable. Defaults are not written back to disk.
func LoadSettings() Settings {
	data, err := os.ReadFile(SettingsPath)
	if err != nil {
		return DefaultSettings()
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings()
	}
	if s.Modes == nil {
		s.Modes = map[string]ModeSettings{}
	}
	return s
}

// SaveSettings validates and atomically persists settings.
func SaveSettings(s Settings) error {
	for mode, ms := range s.Modes {
		topo, err := TopologyFor(mode)
		if err != nil {
			return err
		}
		params := TurnParams{
			IterationCap:         ms.IterationCap,
			ConvergenceThreshold: ms.ConvergenceThreshold,
			Weights:              ms.Weights,
		}
		if err := topo.Validate(ms.Roles, params); err != nil {
			return fmt.Errorf("settings for mode %s: %w", mode, err)
		}
	}
	if s.DefaultMode != "" {
		if _, err := TopologyFor(s.DefaultMode); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(SettingsPath), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	s.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	return atomicWriteFile(SettingsPath, data)
}

// EffectiveSettings returns the persisted settings merged over defaults:
// every mode is present, and the default mode is always a known mode.
func EffectiveSettings() Settings {
	defaults := DefaultSettings()
	current := LoadSettings()

	effective := Settings{
		Modes:       make(map[string]ModeSettings, len(defaults.Modes)),
		DefaultMode: defaults.DefaultMode,
		UpdatedAt:   current.UpdatedAt,
	}
	for mode, ms := range defaults.Modes {
		if override, ok := current.Modes[mode]; ok && len(override.Roles) > 0 {
			effective.Modes[mode] = override
			continue
		}
		effective.Modes[mode] = ms
	}
	if current.DefaultMode != "" {
		if _, ok := effective.Modes[current.DefaultMode]; ok {
			effective.DefaultMode = current.DefaultMode
		}
	}
	return effective
}

// EffectiveModeSettings resolves one mode's settings, falling back to the
// default mode when the requested one is unknown. Returns the settings
// and the mode actually resolved.
func EffectiveModeSettings(mode string) (ModeSettings, string) {
	all := EffectiveSettings()
	if ms, ok := all.Modes[mode]; ok {
		return ms, mode
	}
	return all.Modes[all.DefaultMode], all.DefaultMode
}
