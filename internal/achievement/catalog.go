// Package achievement evaluates ranking achievements and flavor coins.
package achievement

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/PrateekKrishna/rank-sync/internal/models"
	"github.com/PrateekKrishna/rank-sync/internal/store"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Metrics an achievement can track.
const (
	MetricRankedProducts = "ranked_products"
	MetricRankedFlavor   = "ranked_flavor"
	MetricRankedAnimal   = "ranked_animal"
)

type Tier struct {
	Name      string `yaml:"name" json:"name"`
	Threshold int    `yaml:"threshold" json:"threshold"`
}

// Definition is one catalog entry. Tiers are ordered lowest first.
type Definition struct {
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Icon   string `yaml:"icon"`
	Metric string `yaml:"metric"`
	Filter string `yaml:"filter"`
	Tiers  []Tier `yaml:"tiers"`
}

// ParseCatalog reads and validates a YAML catalog.
func ParseCatalog(raw []byte) ([]Definition, error) {
	var doc struct {
		Achievements []Definition `yaml:"achievements"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse achievement catalog: %w", err)
	}
	seen := map[string]bool{}
	for _, d := range doc.Achievements {
		if d.Code == "" || seen[d.Code] {
			return nil, fmt.Errorf("achievement code %q missing or duplicated", d.Code)
		}
		seen[d.Code] = true
		switch d.Metric {
		case MetricRankedProducts:
		case MetricRankedFlavor, MetricRankedAnimal:
			if d.Filter == "" {
				return nil, fmt.Errorf("achievement %s: metric %s needs a filter", d.Code, d.Metric)
			}
		default:
			return nil, fmt.Errorf("achievement %s: unknown metric %q", d.Code, d.Metric)
		}
		if len(d.Tiers) == 0 {
			return nil, fmt.Errorf("achievement %s has no tiers", d.Code)
		}
		for i := 1; i < len(d.Tiers); i++ {
			if d.Tiers[i].Threshold <= d.Tiers[i-1].Threshold {
				return nil, fmt.Errorf("achievement %s: tier thresholds must increase", d.Code)
			}
		}
	}
	return doc.Achievements, nil
}

// DefaultCatalog is the built-in catalog.
func DefaultCatalog() []Definition {
	defs, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return defs
}

// value picks the metric out of a user's ranked counts.
func (d Definition) value(c store.RankedCounts) int {
	switch d.Metric {
	case MetricRankedFlavor:
		return c.ByFlavor[d.Filter]
	case MetricRankedAnimal:
		return c.ByAnimal[d.Filter]
	}
	return c.Total
}

// tierFor returns the index of the highest tier reached, or -1.
func (d Definition) tierFor(v int) int {
	idx := -1
	for i, t := range d.Tiers {
		if v >= t.Threshold {
			idx = i
		}
	}
	return idx
}

func (d Definition) tierIndex(name string) int {
	for i, t := range d.Tiers {
		if t.Name == name {
			return i
		}
	}
	return -1
}

func (d Definition) model() (models.Achievement, error) {
	tiers, err := json.Marshal(d.Tiers)
	if err != nil {
		return models.Achievement{}, err
	}
	return models.Achievement{
		Code:   d.Code,
		Name:   d.Name,
		Icon:   d.Icon,
		Metric: d.Metric,
		Filter: d.Filter,
		Tiers:  tiers,
	}, nil
}
