package brackets

import (
	"fmt"
	"math/bits"

	"github.com/Dosada05/format-engine/models"
)

type SingleEliminationGenerator struct{}

func NewSingleEliminationGenerator() Generator {
	return &SingleEliminationGenerator{}
}

func (g *SingleEliminationGenerator) Name() string {
	return "SingleElimination"
}

// seedPositions returns the seed occupying each first-round slot of a full
// bracket of the given size (a power of two). Seed 1 sits at the top, seed 2
// at the bottom, and complementary seeds meet in round one (1 vs size,
// 2 vs size-1, ...), so the top seeds can only meet in the final.
//
// For size 8 the layout is 1v8, 4v5, 3v6, 2v7.
func seedPositions(size int) []int {
	order := []int{1}
	for len(order) < size {
		n := len(order) * 2
		prev := make([]int, len(order))
		copy(prev, order)
		// Mirror the bottom half so seed 2's path runs along the bottom
		// edge of the bracket.
		if len(prev) > 2 {
			for i, j := len(prev)/2, len(prev)-1; i < j; i, j = i+1, j-1 {
				prev[i], prev[j] = prev[j], prev[i]
			}
		}
		next := make([]int, 0, n)
		for _, s := range prev {
			next = append(next, s, n+1-s)
		}
		order = next
	}
	return order
}

func bracketRounds(n int) int {
	return bits.Len(uint(n - 1))
}

// buildEliminationRounds constructs a seeded knockout tree. Byes fall to the
// highest seeds (their round-one opponents are the slots left empty by a
// non-power-of-two field) and auto-advance. The winner feed of the final
// round is returned alongside the per-round matches.
func buildEliminationRounds(participants []*models.Participant, uid func(round, order int) string, side models.BracketSide) ([][]*BracketMatch, feed, error) {
	n := len(participants)
	numRounds := bracketRounds(n)
	size := 1 << numRounds

	cur := make([]feed, size)
	for i, seed := range seedPositions(size) {
		if seed <= n {
			id := participants[seed-1].ID
			cur[i] = feed{pid: &id}
		} else {
			cur[i] = feed{closed: true}
		}
	}

	rounds := make([][]*BracketMatch, 0, numRounds)
	for r := 1; r <= numRounds; r++ {
		roundMatches := make([]*BracketMatch, 0, len(cur)/2)
		next := make([]feed, 0, len(cur)/2)
		for i := 0; i+1 < len(cur); i += 2 {
			a, b := cur[i], cur[i+1]
			order := i/2 + 1
			bm := &BracketMatch{
				UID:          uid(r, order),
				Round:        r,
				OrderInRound: order,
				Side:         side,
			}
			switch {
			case a.open() && b.open():
				a.attach(bm, 1)
				b.attach(bm, 2)
				next = append(next, feed{src: bm})
			case a.open():
				if a.pid == nil {
					return nil, feed{}, fmt.Errorf("bye met an undecided slot at %s", bm.UID)
				}
				bm.IsBye = true
				bm.ByeParticipantID = a.pid
				bm.Participant1ID = a.pid
				next = append(next, feed{pid: a.pid, src: bm})
			case b.open():
				if b.pid == nil {
					return nil, feed{}, fmt.Errorf("bye met an undecided slot at %s", bm.UID)
				}
				bm.IsBye = true
				bm.ByeParticipantID = b.pid
				bm.Participant1ID = b.pid
				next = append(next, feed{pid: b.pid, src: bm})
			default:
				return nil, feed{}, fmt.Errorf("two empty slots met at %s", bm.UID)
			}
			roundMatches = append(roundMatches, bm)
		}
		rounds = append(rounds, roundMatches)
		cur = next
	}

	return rounds, cur[0], nil
}

func (g *SingleEliminationGenerator) Generate(params GenerateParams) ([]*BracketMatch, error) {
	if len(params.Participants) < 2 {
		return nil, fmt.Errorf("%w: single elimination needs at least 2 participants", ErrTooFewParticipants)
	}

	rounds, _, err := buildEliminationRounds(params.Participants, func(r, o int) string {
		return fmt.Sprintf("R%dM%d", r, o)
	}, "")
	if err != nil {
		return nil, err
	}

	var all []*BracketMatch
	for _, round := range rounds {
		all = append(all, round...)
	}
	return all, nil
}
