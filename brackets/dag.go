package brackets

import "fmt"

// ValidateBracket checks the generated link structure: every referenced UID
// exists, no target slot is fed twice, and the winner/loser links form a
// DAG. A failure here is a generator bug, never user input, so it is
// checked once at construction time.
func ValidateBracket(matches []*BracketMatch) error {
	byUID := make(map[string]*BracketMatch, len(matches))
	for _, m := range matches {
		if _, dup := byUID[m.UID]; dup {
			return fmt.Errorf("%w: duplicate match uid %s", ErrBracketLink, m.UID)
		}
		byUID[m.UID] = m
	}

	type slotRef struct {
		uid  string
		slot int
	}
	fedBy := make(map[slotRef]string)
	edges := make(map[string][]string, len(matches))
	indegree := make(map[string]int, len(matches))

	addEdge := func(from string, to *string, slot *int) error {
		if to == nil {
			return nil
		}
		if _, ok := byUID[*to]; !ok {
			return fmt.Errorf("%w: %s links to unknown match %s", ErrBracketLink, from, *to)
		}
		if slot == nil || (*slot != 1 && *slot != 2) {
			return fmt.Errorf("%w: %s links to %s without a valid slot", ErrBracketLink, from, *to)
		}
		ref := slotRef{uid: *to, slot: *slot}
		if prev, taken := fedBy[ref]; taken {
			return fmt.Errorf("%w: slot %d of %s fed by both %s and %s", ErrBracketLink, *slot, *to, prev, from)
		}
		fedBy[ref] = from
		edges[from] = append(edges[from], *to)
		indegree[*to]++
		return nil
	}

	for _, m := range matches {
		if err := addEdge(m.UID, m.NextMatchUID, m.NextMatchSlot); err != nil {
			return err
		}
		if err := addEdge(m.UID, m.LoserNextMatchUID, m.LoserNextMatchSlot); err != nil {
			return err
		}
	}

	// Kahn's algorithm; anything left over sits on a cycle.
	queue := make([]string, 0, len(matches))
	for _, m := range matches {
		if indegree[m.UID] == 0 {
			queue = append(queue, m.UID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		uid := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range edges[uid] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(matches) {
		return fmt.Errorf("%w: %d of %d matches unreachable by topological sort",
			ErrBracketCycle, len(matches)-visited, len(matches))
	}
	return nil
}
