package buildtrack

import (
	"errors"
	"fmt"
)

var ErrUnknownPreset = errors.New("unknown preset mode")

const (
	PresetVeryLow  = "Very Low"
	PresetLow      = "Low"
	PresetMedium   = "Medium"
	PresetHigh     = "High"
	PresetVeryHigh = "Very High"
)

var presetModes = []string{PresetVeryLow, PresetLow, PresetMedium, PresetHigh, PresetVeryHigh}

// speed written for each preset slot, indexed like presetModes
var presetSpeeds = []int{8, 20, 50, 80, 95}

// PresetModes returns the preset labels in slot order.
func PresetModes() []string {
	modes := make([]string, len(presetModes))
	copy(modes, presetModes)
	return modes
}

// PresetPercentage returns the speed written when the named preset is selected.
func PresetPercentage(name string) (int, error) {
	for i, mode := range presetModes {
		if mode == name {
			return presetSpeeds[i], nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
}

// PresetForPercentage maps a reported speed back onto a preset label.
//
// The bands are open at the lower edge, so 0, 11, 31 and 71 belong to no
// preset and report false.
func PresetForPercentage(pct int) (string, bool) {
	switch {
	case pct > 0 && pct <= 10:
		return PresetVeryLow, true
	case pct > 11 && pct <= 30:
		return PresetLow, true
	case pct > 31 && pct <= 70:
		return PresetMedium, true
	case pct > 71 && pct <= 90:
		return PresetHigh, true
	case pct > 90:
		return PresetVeryHigh, true
	default:
		return "", false
	}
}
