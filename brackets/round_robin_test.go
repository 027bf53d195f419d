package brackets

import (
	"testing"

	"github.com/Dosada05/format-engine/models"
)

func pairKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

func TestRoundRobinEvenField(t *testing.T) {
	const n = 6
	matches, err := Generate(models.FormatRoundRobin, GenerateParams{Participants: testField(n)})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(matches) != n*(n-1)/2 {
		t.Fatalf("expected %d matches, got %d", n*(n-1)/2, len(matches))
	}

	perRound := map[int]map[int]bool{}
	seen := map[[2]int]bool{}
	maxRound := 0
	for _, m := range matches {
		if m.IsBye {
			t.Fatalf("round robin emitted a bye match %s", m.UID)
		}
		p1, p2 := *m.Participant1ID, *m.Participant2ID
		key := pairKey(p1, p2)
		if seen[key] {
			t.Errorf("pair %v scheduled twice", key)
		}
		seen[key] = true

		if perRound[m.Round] == nil {
			perRound[m.Round] = map[int]bool{}
		}
		for _, p := range []int{p1, p2} {
			if perRound[m.Round][p] {
				t.Errorf("participant %d plays twice in round %d", p, m.Round)
			}
			perRound[m.Round][p] = true
		}
		if m.Round > maxRound {
			maxRound = m.Round
		}
	}
	if maxRound != n-1 {
		t.Errorf("expected %d rounds for an even field, got %d", n-1, maxRound)
	}
	if len(seen) != n*(n-1)/2 {
		t.Errorf("expected every pair to meet exactly once, got %d distinct pairs", len(seen))
	}
}

func TestRoundRobinOddFieldRests(t *testing.T) {
	const n = 5
	matches, err := Generate(models.FormatRoundRobin, GenerateParams{Participants: testField(n)})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(matches) != n*(n-1)/2 {
		t.Fatalf("expected %d matches, got %d", n*(n-1)/2, len(matches))
	}

	// A rest round is a missing appearance, not a bye match.
	rests := map[int]int{}
	maxRound := 0
	for _, m := range matches {
		if m.IsBye {
			t.Fatalf("odd round robin emitted a bye match %s", m.UID)
		}
		if m.Round > maxRound {
			maxRound = m.Round
		}
	}
	if maxRound != n {
		t.Fatalf("expected %d rounds for an odd field, got %d", n, maxRound)
	}
	for r := 1; r <= maxRound; r++ {
		present := map[int]bool{}
		for _, m := range matches {
			if m.Round == r {
				present[*m.Participant1ID] = true
				present[*m.Participant2ID] = true
			}
		}
		for p := 1; p <= n; p++ {
			if !present[p] {
				rests[p]++
			}
		}
	}
	for p := 1; p <= n; p++ {
		if rests[p] != 1 {
			t.Errorf("participant %d rests %d times, expected exactly once", p, rests[p])
		}
	}
}
