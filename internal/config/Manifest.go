package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	sdkmath "cosmossdk.io/math"
	"gopkg.in/yaml.v3"

	"github.com/basin-labs/vase/internal/types"
)

// ManifestSlot is one strategy roster entry as written by the operator.
type ManifestSlot struct {
	StrategyID      string `yaml:"id"`
	AdapterKind     string `yaml:"adapter_kind"`
	Denom           string `yaml:"denom"`
	TargetWeightBps int64  `yaml:"target_weight_bps"`
	MaxCapBps       int64  `yaml:"max_cap_bps"`
}

// Manifest is the operator-authored strategy roster. It seeds the slot set on
// first boot; afterwards the persisted slot state is authoritative and
// changes go through governance proposals.
type Manifest struct {
	Slots []ManifestSlot `yaml:"slots"`
}

// LoadManifest reads and validates the strategy roster at the given path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy manifest %s: %w", path, err)
	}

	var manifest Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to parse strategy manifest %s: %w", path, err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy manifest %s: %w", path, err)
	}
	return &manifest, nil
}

// Validate rejects rosters the engine could not activate.
func (m *Manifest) Validate() error {
	if len(m.Slots) == 0 {
		return errors.New("manifest defines no strategy slots")
	}

	var errs []error
	seen := make(map[string]bool, len(m.Slots))
	var totalWeight int64

	for i, slot := range m.Slots {
		if slot.StrategyID == "" {
			errs = append(errs, fmt.Errorf("slot %d: id is required", i))
			continue
		}
		if seen[slot.StrategyID] {
			errs = append(errs, fmt.Errorf("slot %s: duplicate id", slot.StrategyID))
		}
		seen[slot.StrategyID] = true

		if slot.AdapterKind == "" {
			errs = append(errs, fmt.Errorf("slot %s: adapter_kind is required", slot.StrategyID))
		}
		if slot.TargetWeightBps < 0 || slot.TargetWeightBps > 10000 {
			errs = append(errs, fmt.Errorf("slot %s: target_weight_bps out of range [0,10000]: %d", slot.StrategyID, slot.TargetWeightBps))
		}
		if slot.MaxCapBps <= 0 || slot.MaxCapBps > 10000 {
			errs = append(errs, fmt.Errorf("slot %s: max_cap_bps out of range (0,10000]: %d", slot.StrategyID, slot.MaxCapBps))
		}
		totalWeight += slot.TargetWeightBps
	}

	if totalWeight > 10000 {
		errs = append(errs, fmt.Errorf("target weights sum to %d bps, exceeding 10000", totalWeight))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ToStrategySlot converts a roster entry into a fresh inactive slot ready for
// registration with the strategy manager.
func (s *ManifestSlot) ToStrategySlot(baseDenom string) types.StrategySlot {
	denom := s.Denom
	if denom == "" {
		denom = baseDenom
	}
	return types.StrategySlot{
		StrategyID:            types.StrategyID(s.StrategyID),
		AdapterKind:           s.AdapterKind,
		Denom:                 denom,
		TargetWeightBps:       s.TargetWeightBps,
		MaxCapBps:             s.MaxCapBps,
		CurrentAllocatedValue: sdkmath.ZeroInt(),
		State:                 types.SlotInactive,
	}
}
