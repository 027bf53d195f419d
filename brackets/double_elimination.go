package brackets

import (
	"fmt"

	"github.com/Dosada05/format-engine/models"
)

type DoubleEliminationGenerator struct{}

func NewDoubleEliminationGenerator() Generator {
	return &DoubleEliminationGenerator{}
}

func (g *DoubleEliminationGenerator) Name() string {
	return "DoubleElimination"
}

// Generate builds a true double elimination bracket: a seeded winners
// bracket, a losers bracket derived from it algorithmically, a grand final,
// and a conditional reset match played only if the losers-bracket finalist
// takes the first grand final.
//
// Losers of winners round r drop into losers round 2(r-1) (round 1 losers
// into losers round 1). The drop order is reversed on even winners rounds so
// first-round opponents cannot immediately rematch.
func (g *DoubleEliminationGenerator) Generate(params GenerateParams) ([]*BracketMatch, error) {
	n := len(params.Participants)
	if n < 3 {
		return nil, fmt.Errorf("%w: double elimination needs at least 3 participants", ErrTooFewParticipants)
	}

	wbRounds, wbChampion, err := buildEliminationRounds(params.Participants, func(r, o int) string {
		return fmt.Sprintf("W%dM%d", r, o)
	}, models.SideWinners)
	if err != nil {
		return nil, err
	}

	var all []*BracketMatch
	for _, round := range wbRounds {
		all = append(all, round...)
	}

	// Losers bracket. Feeds that come from bye matches are closed: a bye has
	// no loser, so the slot it would have filled never receives anyone and
	// the pairing passes the live feed straight through.
	lbRound := 0
	cur := loserFeeds(wbRounds[0], false)
	for r := 2; r <= len(wbRounds); r++ {
		if len(cur) > 1 {
			lbRound++
			cur, all = pairLosersRound(cur, lbRound, all)
		}
		drops := loserFeeds(wbRounds[r-1], r%2 == 0)
		lbRound++
		cur, all = dropInRound(cur, drops, lbRound, all)
	}
	if len(cur) != 1 {
		return nil, fmt.Errorf("losers bracket collapsed to %d feeds", len(cur))
	}
	lbChampion := cur[0]
	if !lbChampion.open() {
		return nil, fmt.Errorf("losers bracket produced no finalist")
	}

	grandFinal := &BracketMatch{
		UID:          "GF",
		Round:        len(wbRounds) + 1,
		OrderInRound: 1,
		Side:         models.SideGrandFinal,
	}
	wbChampion.attach(grandFinal, 1)
	lbChampion.attach(grandFinal, 2)
	all = append(all, grandFinal)

	// The reset only runs when the losers-bracket finalist wins the first
	// grand final; the progression controller voids it otherwise.
	reset := &BracketMatch{
		UID:          "GFR",
		Round:        grandFinal.Round + 1,
		OrderInRound: 1,
		Side:         models.SideGrandFinalReset,
	}
	feed{src: grandFinal}.attach(reset, 1)
	feed{src: grandFinal, takesLoser: true}.attach(reset, 2)
	all = append(all, reset)

	return all, nil
}

func loserFeeds(round []*BracketMatch, reversed bool) []feed {
	feeds := make([]feed, 0, len(round))
	for _, m := range round {
		if m.IsBye {
			feeds = append(feeds, feed{closed: true})
			continue
		}
		feeds = append(feeds, feed{src: m, takesLoser: true})
	}
	if reversed {
		for i, j := 0, len(feeds)-1; i < j; i, j = i+1, j-1 {
			feeds[i], feeds[j] = feeds[j], feeds[i]
		}
	}
	return feeds
}

// pairLosersRound pairs adjacent survivor feeds. A pair with a closed side
// creates no match; the live feed carries through to the next round.
func pairLosersRound(cur []feed, round int, all []*BracketMatch) ([]feed, []*BracketMatch) {
	next := make([]feed, 0, len(cur)/2)
	order := 0
	for i := 0; i+1 < len(cur); i += 2 {
		a, b := cur[i], cur[i+1]
		switch {
		case a.open() && b.open():
			order++
			bm := &BracketMatch{
				UID:          fmt.Sprintf("L%dM%d", round, order),
				Round:        round,
				OrderInRound: order,
				Side:         models.SideLosers,
			}
			a.attach(bm, 1)
			b.attach(bm, 2)
			all = append(all, bm)
			next = append(next, feed{src: bm})
		case a.open():
			next = append(next, a)
		case b.open():
			next = append(next, b)
		default:
			next = append(next, feed{closed: true})
		}
	}
	return next, all
}

// dropInRound merges losers-bracket survivors with the losers dropping out
// of the corresponding winners round.
func dropInRound(cur, drops []feed, round int, all []*BracketMatch) ([]feed, []*BracketMatch) {
	next := make([]feed, 0, len(cur))
	order := 0
	for i := range cur {
		a, b := cur[i], drops[i]
		switch {
		case a.open() && b.open():
			order++
			bm := &BracketMatch{
				UID:          fmt.Sprintf("L%dM%d", round, order),
				Round:        round,
				OrderInRound: order,
				Side:         models.SideLosers,
			}
			a.attach(bm, 1)
			b.attach(bm, 2)
			all = append(all, bm)
			next = append(next, feed{src: bm})
		case a.open():
			next = append(next, a)
		case b.open():
			next = append(next, b)
		default:
			next = append(next, feed{closed: true})
		}
	}
	return next, all
}
