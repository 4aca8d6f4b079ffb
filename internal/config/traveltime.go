package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TravelTimeMatrix maps (camera_from, camera_to) -> minimum plausible
// travel time in seconds. Derived from the floor plan and static for a
// service lifetime. A safety factor is applied by the caller (the
// spatiotemporal gate), not stored here.
type TravelTimeMatrix struct {
	minSeconds map[string]map[string]float64
}

type travelTimeFile struct {
	Edges []struct {
		From       string  `yaml:"from"`
		To         string  `yaml:"to"`
		MinSeconds float64 `yaml:"min_seconds"`
	} `yaml:"edges"`
}

// LoadTravelTimeMatrix parses TRAVEL_TIME_CONFIG. Missing pairs resolve to
// 0 (no gating) via Lookup's second return value being false.
func LoadTravelTimeMatrix(path string) (*TravelTimeMatrix, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read travel time config: %w", err)
	}

	var f travelTimeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse travel time config: %w", err)
	}

	m := &TravelTimeMatrix{minSeconds: make(map[string]map[string]float64)}
	for _, e := range f.Edges {
		if m.minSeconds[e.From] == nil {
			m.minSeconds[e.From] = make(map[string]float64)
		}
		m.minSeconds[e.From][e.To] = e.MinSeconds
	}
	return m, nil
}

// NewTravelTimeMatrixForTest builds a TravelTimeMatrix directly from a
// from->to->seconds map, skipping the YAML file round trip in tests.
func NewTravelTimeMatrixForTest(edges map[string]map[string]float64) *TravelTimeMatrix {
	m := &TravelTimeMatrix{minSeconds: make(map[string]map[string]float64, len(edges))}
	for from, row := range edges {
		r := make(map[string]float64, len(row))
		for to, v := range row {
			r[to] = v
		}
		m.minSeconds[from] = r
	}
	return m
}

// Lookup returns the minimum travel time between two cameras and whether
// an explicit entry exists. Same-camera lookups are not special-cased
// here; the gate itself always allows same-camera transitions.
func (t *TravelTimeMatrix) Lookup(from, to string) (float64, bool) {
	if t == nil {
		return 0, false
	}
	row, ok := t.minSeconds[from]
	if !ok {
		return 0, false
	}
	v, ok := row[to]
	return v, ok
}
