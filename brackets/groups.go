package brackets

import (
	"fmt"
	"math/rand"

	"github.com/Dosada05/format-engine/models"
)

type GroupGenerator struct{}

func NewGroupGenerator() Generator {
	return &GroupGenerator{}
}

func (g *GroupGenerator) Name() string {
	return "Groups"
}

// GroupName labels groups A, B, C, ... past Z it falls back to a number.
func GroupName(idx int) string {
	if idx < 26 {
		return fmt.Sprintf("Group %c", 'A'+idx)
	}
	return fmt.Sprintf("Group %d", idx+1)
}

// DistributeGroups partitions participants (in seed order) into count
// groups. Snake distribution walks the groups forward then backward so the
// seeds spread evenly; random shuffles with the configured seed, which keeps
// generation deterministic for identical input.
func DistributeGroups(participantIDs []int, count int, policy models.GroupDistribution, shuffleSeed int64) ([][]int, error) {
	if count < 1 {
		return nil, fmt.Errorf("group count must be positive, got %d", count)
	}
	if len(participantIDs) < count*2 {
		return nil, fmt.Errorf("%w: %d groups need at least %d participants, got %d",
			ErrTooFewParticipants, count, count*2, len(participantIDs))
	}

	ids := make([]int, len(participantIDs))
	copy(ids, participantIDs)
	if policy == models.DistributionRandom {
		rng := rand.New(rand.NewSource(shuffleSeed))
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}

	groups := make([][]int, count)
	idx, dir := 0, 1
	for _, id := range ids {
		groups[idx] = append(groups[idx], id)
		next := idx + dir
		if next == count || next < 0 {
			dir = -dir
		} else {
			idx = next
		}
	}
	return groups, nil
}

func (g *GroupGenerator) Generate(params GenerateParams) ([]*BracketMatch, error) {
	count := params.Settings.GroupCount
	if count == 0 {
		count = 2
	}
	policy := params.Settings.GroupDistribution
	if policy == "" {
		policy = models.DistributionSnake
	}

	ids := make([]int, len(params.Participants))
	for i, p := range params.Participants {
		ids[i] = p.ID
	}

	groups, err := DistributeGroups(ids, count, policy, params.Settings.ShuffleSeed)
	if err != nil {
		return nil, err
	}

	var all []*BracketMatch
	for gi, members := range groups {
		name := GroupName(gi)
		prefix := fmt.Sprintf("G%d", gi+1)
		all = append(all, roundRobinMatches(members, prefix, name)...)
	}
	return all, nil
}
