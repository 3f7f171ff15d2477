package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Paths helper for rarity/catalog/override files.
type Paths struct {
	BaseDir string // content directory, e.g. /opt/app/content
}

func (p Paths) RaritiesPath() string {
	return filepath.Join(p.BaseDir, "rarities.yaml")
}
func (p Paths) CatalogPath() string {
	return filepath.Join(p.BaseDir, "catalog.yaml")
}
func (p Paths) OverridePath() string {
	return filepath.Join(p.BaseDir, "overrides.yaml")
}

// LoadDir reads rarities.yaml and catalog.yaml from baseDir, applies
// overrides.yaml when present, and validates the result.
func LoadDir(baseDir string) (*Catalog, error) {
	paths := Paths{BaseDir: baseDir}

	var rr rawRarities
	if err := readYAML(paths.RaritiesPath(), &rr, true); err != nil {
		return nil, fmt.Errorf("read rarities: %w", err)
	}
	var rc rawCatalog
	if err := readYAML(paths.CatalogPath(), &rc, true); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var ro rawOverride
	if err := readYAML(paths.OverridePath(), &ro, false); err != nil { // override file optional
		return nil, fmt.Errorf("read overrides: %w", err)
	}

	tiers, err := mergeOverride(rr.Rarities, ro)
	if err != nil {
		return nil, err
	}
	table, err := NewTable(tiers)
	if err != nil {
		return nil, err
	}
	return New(rc.Entries, table)
}

// Parse builds a Catalog from in-memory YAML documents.
func Parse(raritiesYAML, catalogYAML []byte) (*Catalog, error) {
	var rr rawRarities
	if err := yaml.Unmarshal(raritiesYAML, &rr); err != nil {
		return nil, fmt.Errorf("%w: rarities: %v", ErrInvalidConfig, err)
	}
	var rc rawCatalog
	if err := yaml.Unmarshal(catalogYAML, &rc); err != nil {
		return nil, fmt.Errorf("%w: catalog: %v", ErrInvalidConfig, err)
	}
	table, err := NewTable(rr.Rarities)
	if err != nil {
		return nil, err
	}
	return New(rc.Entries, table)
}

// readYAML loads a YAML file into out. Missing optional files leave out untouched.
func readYAML(path string, out any, required bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, filepath.Base(path), err)
	}
	return nil
}

// mergeOverride applies per-tier weight/dust overrides on top of the base table.
// Declaration order of the base table is kept.
func mergeOverride(base []RarityMeta, o rawOverride) ([]RarityMeta, error) {
	out := append([]RarityMeta(nil), base...)
	seen := make(map[Rarity]bool, len(o.Rarities))
	for i := range out {
		ov, ok := o.Rarities[out[i].Rarity]
		if !ok {
			continue
		}
		seen[out[i].Rarity] = true
		if ov.Weight != nil {
			out[i].Weight = *ov.Weight
		}
		if ov.DustValue != nil {
			out[i].DustValue = *ov.DustValue
		}
	}
	for r := range o.Rarities {
		if !seen[r] {
			return nil, fmt.Errorf("%w: override references unknown rarity %q", ErrInvalidConfig, r)
		}
	}
	return out, nil
}
