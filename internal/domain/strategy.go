package domain

import (
	"fmt"
	"strings"
)

// StrategyKind names a selection algorithm.
type StrategyKind string

const (
	StrategyBest         StrategyKind = "best"
	StrategyRoundRobin   StrategyKind = "round_robin"
	StrategyRandom       StrategyKind = "random"
	StrategyWeighted     StrategyKind = "weighted"
	StrategyGeoPreferred StrategyKind = "geo_preferred"
)

func ParseStrategyKind(raw string) (StrategyKind, error) {
	switch StrategyKind(strings.ToLower(strings.TrimSpace(raw))) {
	case StrategyBest, "":
		return StrategyBest, nil
	case StrategyRoundRobin:
		return StrategyRoundRobin, nil
	case StrategyRandom:
		return StrategyRandom, nil
	case StrategyWeighted:
		return StrategyWeighted, nil
	case StrategyGeoPreferred:
		return StrategyGeoPreferred, nil
	}
	return "", fmt.Errorf("unknown selection strategy %q", raw)
}

// SelectionStrategy describes how one proxy is picked out of a candidate set.
type SelectionStrategy struct {
	Kind StrategyKind `json:"kind"`

	// PreferredCountry narrows geo_preferred picks; ignored by other kinds.
	PreferredCountry string `json:"preferred_country,omitempty"`

	// MinScore drops candidates below this availability score before the
	// strategy runs. Zero means no floor.
	MinScore float64 `json:"min_score,omitempty"`
}

func DefaultStrategy() SelectionStrategy {
	return SelectionStrategy{Kind: StrategyBest}
}
