package selection

import (
	"errors"
	"math/rand"
	"sort"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"proxypool/internal/domain"
)

// ErrNoAvailableProxy signals an empty candidate set after filtering. Callers
// are expected to back off and retry or relax their filters; it is never a
// fatal condition.
var ErrNoAvailableProxy = errors.New("no available proxy matches the requested filters")

// cursorTableSize bounds how many distinct filter signatures keep a live
// round-robin cursor. Old signatures fall out via LRU and simply restart
// their cycle.
const cursorTableSize = 4096

// Candidate is the selection engine's view of a proxy: a snapshot taken at
// filter time. Status transitions after the snapshot do not affect an
// in-flight selection.
type Candidate struct {
	ID            string
	Country       string
	Score         float64
	TotalRequests uint64
}

// Engine picks one proxy out of a pre-filtered candidate set. It is safe for
// concurrent use; the only state it keeps is the round-robin cursor table.
type Engine struct {
	cursors *lru.Cache[string, *atomic.Uint64]
}

func NewEngine() *Engine {
	cursors, _ := lru.New[string, *atomic.Uint64](cursorTableSize)
	return &Engine{cursors: cursors}
}

// Select applies the strategy to the candidates. The signature identifies the
// caller's filter combination and keys the round-robin cursor, so distinct
// filters cycle independently.
func (e *Engine) Select(candidates []Candidate, strategy domain.SelectionStrategy, signature string) (Candidate, error) {
	if strategy.MinScore > 0 {
		filtered := candidates[:0:0]
		for _, candidate := range candidates {
			if candidate.Score >= strategy.MinScore {
				filtered = append(filtered, candidate)
			}
		}
		candidates = filtered
	}

	if len(candidates) == 0 {
		return Candidate{}, ErrNoAvailableProxy
	}

	switch strategy.Kind {
	case domain.StrategyRoundRobin:
		return e.pickRoundRobin(candidates, signature), nil
	case domain.StrategyRandom:
		return candidates[rand.Intn(len(candidates))], nil
	case domain.StrategyWeighted:
		return pickWeighted(candidates), nil
	case domain.StrategyGeoPreferred:
		return pickGeoPreferred(candidates, strategy.PreferredCountry), nil
	default:
		return pickBest(candidates), nil
	}
}

// pickBest returns the highest availability score, breaking ties toward the
// less-used proxy so equally good proxies share load.
func pickBest(candidates []Candidate) Candidate {
	best := candidates[0]
	for _, candidate := range candidates[1:] {
		if candidate.Score > best.Score ||
			(candidate.Score == best.Score && candidate.TotalRequests < best.TotalRequests) {
			best = candidate
		}
	}
	return best
}

// pickRoundRobin cycles through the candidates in stable id order. For a
// fixed candidate set of size K, every proxy is returned exactly once per K
// consecutive calls.
func (e *Engine) pickRoundRobin(candidates []Candidate, signature string) Candidate {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	counter, ok := e.cursors.Get(signature)
	if !ok {
		counter = &atomic.Uint64{}
		if existing, found, _ := e.cursors.PeekOrAdd(signature, counter); found {
			counter = existing
		}
	}

	position := counter.Add(1) - 1
	return ordered[position%uint64(len(ordered))]
}

// pickWeighted draws proportionally to availability score. When every score
// is zero there is nothing to weight by, so it degrades to uniform random.
func pickWeighted(candidates []Candidate) Candidate {
	total := 0.0
	for _, candidate := range candidates {
		if candidate.Score > 0 {
			total += candidate.Score
		}
	}
	if total == 0 {
		return candidates[rand.Intn(len(candidates))]
	}

	target := rand.Float64() * total
	last := -1
	for i, candidate := range candidates {
		if candidate.Score <= 0 {
			continue
		}
		target -= candidate.Score
		if target < 0 {
			return candidate
		}
		last = i
	}
	// Float residue can leave target at ~0 after the loop; settle on the
	// last weighted candidate rather than an arbitrary zero-score one.
	return candidates[last]
}

// pickGeoPreferred narrows to the preferred country when possible and
// otherwise falls back to the best proxy anywhere, so a geo mismatch alone
// never empties the pool.
func pickGeoPreferred(candidates []Candidate, country string) Candidate {
	if country != "" {
		local := make([]Candidate, 0, len(candidates))
		for _, candidate := range candidates {
			if strings.EqualFold(candidate.Country, country) {
				local = append(local, candidate)
			}
		}
		if len(local) > 0 {
			return pickBest(local)
		}
	}
	return pickBest(candidates)
}
