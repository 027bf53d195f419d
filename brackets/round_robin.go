package brackets

import "fmt"

type RoundRobinGenerator struct{}

func NewRoundRobinGenerator() Generator {
	return &RoundRobinGenerator{}
}

func (g *RoundRobinGenerator) Name() string {
	return "RoundRobin"
}

// circleRounds schedules every-vs-every pairings with the circle method:
// one participant stays fixed while the rest rotate around it. Odd fields
// get a phantom opponent, which shows up as a rest round, not a match.
// Produces len-1 rounds for even fields and len rounds for odd ones.
func circleRounds(ids []int) [][][2]int {
	arr := make([]int, len(ids))
	copy(arr, ids)
	if len(arr)%2 == 1 {
		arr = append(arr, -1)
	}
	n := len(arr)

	rounds := make([][][2]int, 0, n-1)
	for r := 0; r < n-1; r++ {
		pairs := make([][2]int, 0, n/2)
		for i := 0; i < n/2; i++ {
			a, b := arr[i], arr[n-1-i]
			if a == -1 || b == -1 {
				continue
			}
			// Alternate the pivot's side so home/away balances out.
			if i == 0 && r%2 == 1 {
				a, b = b, a
			}
			pairs = append(pairs, [2]int{a, b})
		}
		rounds = append(rounds, pairs)

		rotated := make([]int, 0, n)
		rotated = append(rotated, arr[0], arr[n-1])
		rotated = append(rotated, arr[1:n-1]...)
		arr = rotated
	}
	return rounds
}

// roundRobinMatches emits the scheduled rounds as bracket matches. The uid
// prefix and group label let the group generator reuse the scheduler per
// group.
func roundRobinMatches(participantIDs []int, uidPrefix, group string) []*BracketMatch {
	var all []*BracketMatch
	for r, pairs := range circleRounds(participantIDs) {
		for i, pair := range pairs {
			p1, p2 := pair[0], pair[1]
			all = append(all, &BracketMatch{
				UID:            fmt.Sprintf("%sR%dM%d", uidPrefix, r+1, i+1),
				Round:          r + 1,
				OrderInRound:   i + 1,
				Group:          group,
				Participant1ID: &p1,
				Participant2ID: &p2,
			})
		}
	}
	return all
}

func (g *RoundRobinGenerator) Generate(params GenerateParams) ([]*BracketMatch, error) {
	if len(params.Participants) < 2 {
		return nil, fmt.Errorf("%w: round robin needs at least 2 participants", ErrTooFewParticipants)
	}
	ids := make([]int, len(params.Participants))
	for i, p := range params.Participants {
		ids[i] = p.ID
	}
	return roundRobinMatches(ids, "", ""), nil
}
