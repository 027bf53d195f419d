package brackets

import (
	"fmt"
	"sort"
)

type SwissGenerator struct{}

func NewSwissGenerator() Generator {
	return &SwissGenerator{}
}

func (g *SwissGenerator) Name() string {
	return "Swiss"
}

// SuggestedSwissRounds is the usual round count for a field of n: enough
// rounds to separate a unique leader, ceil(log2 n).
func SuggestedSwissRounds(n int) int {
	return bracketRounds(n)
}

// Generate produces only the first Swiss round; later rounds depend on
// results and are paired one at a time via PairSwissRound as the stage
// progresses.
func (g *SwissGenerator) Generate(params GenerateParams) ([]*BracketMatch, error) {
	if len(params.Participants) < 2 {
		return nil, fmt.Errorf("%w: swiss needs at least 2 participants", ErrTooFewParticipants)
	}
	entries := make([]SwissEntry, len(params.Participants))
	for i, p := range params.Participants {
		entries[i] = SwissEntry{ParticipantID: p.ID, Score: len(params.Participants) - i}
	}
	return PairSwissRound(SwissRoundParams{Round: 1, Entries: entries, Played: nil})
}

// SwissEntry is one participant's running record going into a round.
// Score is the configured tie-break value used to order participants within
// an identical record group (typically points or seed-derived rating).
type SwissEntry struct {
	ParticipantID int
	Wins          int
	Losses        int
	Draws         int
	Score         int
	HadBye        bool
}

type SwissRoundParams struct {
	Round   int
	Entries []SwissEntry
	// Played holds pairing history: Played[a][b] is true if a and b met.
	Played map[int]map[int]bool
}

func swissPlayed(history map[int]map[int]bool, a, b int) bool {
	return history[a][b] || history[b][a]
}

// PairSwissRound pairs one Swiss round. Participants are grouped by
// identical win-loss record, each group is ordered by Score, and the top
// half plays the bottom half. An odd leftover in a group floats down into
// the next one. Two participants are never paired twice: when the natural
// pairing would rematch, the nearest eligible opponent in an adjacent slot
// is swapped in. With an odd field, exactly one bye goes to the
// lowest-ranked participant who has not had one yet.
func PairSwissRound(params SwissRoundParams) ([]*BracketMatch, error) {
	if len(params.Entries) < 2 {
		return nil, fmt.Errorf("%w: cannot pair a swiss round with %d participants", ErrTooFewParticipants, len(params.Entries))
	}

	entries := make([]SwissEntry, len(params.Entries))
	copy(entries, params.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.Losses != b.Losses {
			return a.Losses < b.Losses
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.ParticipantID < b.ParticipantID
	})

	var all []*BracketMatch
	order := 0

	if len(entries)%2 == 1 {
		byeIdx := len(entries) - 1
		for i := len(entries) - 1; i >= 0; i-- {
			if !entries[i].HadBye {
				byeIdx = i
				break
			}
		}
		byeID := entries[byeIdx].ParticipantID
		entries = append(entries[:byeIdx], entries[byeIdx+1:]...)

		order++
		all = append(all, &BracketMatch{
			UID:              fmt.Sprintf("S%dBYE", params.Round),
			Round:            params.Round,
			OrderInRound:     order,
			Participant1ID:   &byeID,
			IsBye:            true,
			ByeParticipantID: &byeID,
		})
	}

	// Split into identical-record groups, keeping the sorted order.
	var groups [][]SwissEntry
	for i := 0; i < len(entries); {
		j := i
		for j < len(entries) && entries[j].Wins == entries[i].Wins && entries[j].Losses == entries[i].Losses {
			j++
		}
		groups = append(groups, entries[i:j])
		i = j
	}

	var carry []SwissEntry
	for _, group := range groups {
		pool := append(carry, group...)
		carry = nil
		if len(pool)%2 == 1 {
			carry = []SwissEntry{pool[len(pool)-1]}
			pool = pool[:len(pool)-1]
		}
		matches, err := pairPool(pool, params.Played, params.Round, &order)
		if err != nil {
			return nil, err
		}
		all = append(all, matches...)
	}
	if len(carry) != 0 {
		return nil, fmt.Errorf("swiss round %d left %d participants unpaired", params.Round, len(carry))
	}

	return all, nil
}

// pairPool pairs an even pool top-half against bottom-half with rematch
// avoidance. If every remaining bottom-half opponent has already been
// played, the natural opponent is accepted as a forced rematch.
func pairPool(pool []SwissEntry, history map[int]map[int]bool, round int, order *int) ([]*BracketMatch, error) {
	half := len(pool) / 2
	top, bottom := pool[:half], pool[half:]
	used := make([]bool, len(bottom))

	var matches []*BracketMatch
	for i, t := range top {
		pick := -1
		// Natural opponent first, then the nearest eligible neighbours.
		for offset := 0; offset < len(bottom); offset++ {
			for _, j := range []int{i + offset, i - offset} {
				if j < 0 || j >= len(bottom) || used[j] {
					continue
				}
				if !swissPlayed(history, t.ParticipantID, bottom[j].ParticipantID) {
					pick = j
					break
				}
				if offset == 0 {
					break
				}
			}
			if pick >= 0 {
				break
			}
		}
		if pick < 0 {
			for j := range bottom {
				if !used[j] {
					pick = j
					break
				}
			}
		}
		if pick < 0 {
			return nil, fmt.Errorf("swiss round %d: no opponent left for participant %d", round, t.ParticipantID)
		}
		used[pick] = true

		p1, p2 := t.ParticipantID, bottom[pick].ParticipantID
		*order++
		matches = append(matches, &BracketMatch{
			UID:            fmt.Sprintf("S%dM%d", round, *order),
			Round:          round,
			OrderInRound:   *order,
			Participant1ID: &p1,
			Participant2ID: &p2,
		})
	}
	return matches, nil
}
