package selection

import (
	"errors"
	"math"
	"testing"

	"proxypool/internal/domain"
)

func TestSelectEmptyCandidates(t *testing.T) {
	engine := NewEngine()

	_, err := engine.Select(nil, domain.DefaultStrategy(), "sig")
	if !errors.Is(err, ErrNoAvailableProxy) {
		t.Fatalf("err = %v, want ErrNoAvailableProxy", err)
	}
}

func TestBestPrefersScoreThenSpread(t *testing.T) {
	engine := NewEngine()
	candidates := []Candidate{
		{ID: "a", Score: 0.9, TotalRequests: 100},
		{ID: "b", Score: 0.5},
		{ID: "c", Score: 0.2},
	}

	picked, err := engine.Select(candidates, domain.SelectionStrategy{Kind: domain.StrategyBest}, "sig")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if picked.ID != "a" {
		t.Fatalf("picked %q, want a", picked.ID)
	}

	// Equal scores tie-break toward the less exercised proxy.
	tied := []Candidate{
		{ID: "x", Score: 0.8, TotalRequests: 500},
		{ID: "y", Score: 0.8, TotalRequests: 3},
	}
	picked, err = engine.Select(tied, domain.SelectionStrategy{Kind: domain.StrategyBest}, "sig")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if picked.ID != "y" {
		t.Fatalf("picked %q, want y", picked.ID)
	}
}

func TestRoundRobinExactCycle(t *testing.T) {
	engine := NewEngine()
	candidates := []Candidate{
		{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"},
	}
	strategy := domain.SelectionStrategy{Kind: domain.StrategyRoundRobin}

	for cycle := 0; cycle < 3; cycle++ {
		seen := make(map[string]int)
		for i := 0; i < len(candidates); i++ {
			picked, err := engine.Select(candidates, strategy, "rr-sig")
			if err != nil {
				t.Fatalf("select: %v", err)
			}
			seen[picked.ID]++
		}
		for _, candidate := range candidates {
			if seen[candidate.ID] != 1 {
				t.Fatalf("cycle %d: candidate %q picked %d times, want exactly once",
					cycle, candidate.ID, seen[candidate.ID])
			}
		}
	}
}

func TestRoundRobinCursorsAreIndependentPerSignature(t *testing.T) {
	engine := NewEngine()
	candidates := []Candidate{{ID: "a"}, {ID: "b"}}
	strategy := domain.SelectionStrategy{Kind: domain.StrategyRoundRobin}

	first, _ := engine.Select(candidates, strategy, "sig-1")
	second, _ := engine.Select(candidates, strategy, "sig-2")

	if first.ID != second.ID {
		t.Fatalf("fresh cursors diverged: %q vs %q", first.ID, second.ID)
	}
}

func TestWeightedApproximatesScoreDistribution(t *testing.T) {
	engine := NewEngine()
	candidates := []Candidate{
		{ID: "a", Score: 0.6},
		{ID: "b", Score: 0.3},
		{ID: "c", Score: 0.1},
		{ID: "dead", Score: 0},
	}
	strategy := domain.SelectionStrategy{Kind: domain.StrategyWeighted}

	const rounds = 20000
	counts := make(map[string]int)
	for i := 0; i < rounds; i++ {
		picked, err := engine.Select(candidates, strategy, "sig")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[picked.ID]++
	}

	if counts["dead"] != 0 {
		t.Fatalf("zero-score candidate picked %d times", counts["dead"])
	}

	for _, candidate := range candidates[:3] {
		want := candidate.Score / 1.0
		got := float64(counts[candidate.ID]) / rounds
		if math.Abs(got-want) > 0.03 {
			t.Fatalf("candidate %q frequency = %.3f, want %.3f ± 0.03", candidate.ID, got, want)
		}
	}
}

func TestWeightedAllZeroScoresFallsBackToUniform(t *testing.T) {
	engine := NewEngine()
	candidates := []Candidate{
		{ID: "a"}, {ID: "b"},
	}
	strategy := domain.SelectionStrategy{Kind: domain.StrategyWeighted}

	counts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		picked, err := engine.Select(candidates, strategy, "sig")
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		counts[picked.ID]++
	}

	if counts["a"] == 0 || counts["b"] == 0 {
		t.Fatalf("uniform fallback starved a candidate: %v", counts)
	}
}

func TestGeoPreferredNarrowsAndFallsBack(t *testing.T) {
	engine := NewEngine()
	candidates := []Candidate{
		{ID: "us-1", Country: "US", Score: 0.9},
		{ID: "jp-1", Country: "JP", Score: 0.4},
		{ID: "jp-2", Country: "JP", Score: 0.7},
	}

	picked, err := engine.Select(candidates, domain.SelectionStrategy{
		Kind:             domain.StrategyGeoPreferred,
		PreferredCountry: "jp",
	}, "sig")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if picked.ID != "jp-2" {
		t.Fatalf("picked %q, want best JP proxy jp-2", picked.ID)
	}

	// No candidate in the requested country: fall back to best overall
	// instead of failing.
	picked, err = engine.Select(candidates, domain.SelectionStrategy{
		Kind:             domain.StrategyGeoPreferred,
		PreferredCountry: "BR",
	}, "sig")
	if err != nil {
		t.Fatalf("select with fallback: %v", err)
	}
	if picked.ID != "us-1" {
		t.Fatalf("picked %q, want us-1", picked.ID)
	}
}

func TestMinScoreFiltersCandidates(t *testing.T) {
	engine := NewEngine()
	candidates := []Candidate{
		{ID: "weak", Score: 0.1},
		{ID: "strong", Score: 0.8},
	}

	picked, err := engine.Select(candidates, domain.SelectionStrategy{
		Kind:     domain.StrategyRandom,
		MinScore: 0.5,
	}, "sig")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if picked.ID != "strong" {
		t.Fatalf("picked %q, want strong", picked.ID)
	}

	_, err = engine.Select(candidates, domain.SelectionStrategy{
		Kind:     domain.StrategyBest,
		MinScore: 0.95,
	}, "sig")
	if !errors.Is(err, ErrNoAvailableProxy) {
		t.Fatalf("err = %v, want ErrNoAvailableProxy", err)
	}
}
