package brackets

import (
	"fmt"

	"github.com/Dosada05/format-engine/models"
)

// BracketMatch is the pure, storage-free description of one generated match.
// Matches reference each other by UID; the stage service resolves UIDs to
// database ids when it persists a stage.
//
// Slot semantics match models.Match: a participant id means the slot is
// filled, a source UID means it is pending, neither means it is closed and
// the match resolves as a walkover.
type BracketMatch struct {
	UID          string
	Round        int
	OrderInRound int
	Side         models.BracketSide
	Group        string

	Participant1ID *int
	Participant2ID *int

	SourceMatch1UID   *string
	SourceMatch2UID   *string
	Source1TakesLoser bool
	Source2TakesLoser bool

	NextMatchUID  *string
	NextMatchSlot *int

	LoserNextMatchUID  *string
	LoserNextMatchSlot *int

	IsBye            bool
	ByeParticipantID *int
}

type GenerateParams struct {
	// Participants in seed order: index 0 is seed 1.
	Participants []*models.Participant
	Settings     models.StageSettings
}

type Generator interface {
	Generate(params GenerateParams) ([]*BracketMatch, error)
	Name() string
}

// ForFormat resolves a generator for the closed set of supported formats.
func ForFormat(format models.StageFormat) (Generator, error) {
	switch format {
	case models.FormatSingleElimination:
		return NewSingleEliminationGenerator(), nil
	case models.FormatDoubleElimination:
		return NewDoubleEliminationGenerator(), nil
	case models.FormatRoundRobin:
		return NewRoundRobinGenerator(), nil
	case models.FormatSwiss:
		return NewSwissGenerator(), nil
	case models.FormatGroup:
		return NewGroupGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported stage format %q", format)
	}
}

// Generate dispatches to the format's generator and validates the resulting
// link structure before handing it to the caller.
func Generate(format models.StageFormat, params GenerateParams) ([]*BracketMatch, error) {
	if min := format.MinParticipants(); len(params.Participants) < min {
		return nil, fmt.Errorf("%w: format %s requires at least %d participants, got %d",
			ErrTooFewParticipants, format, min, len(params.Participants))
	}
	gen, err := ForFormat(format)
	if err != nil {
		return nil, err
	}
	matches, err := gen.Generate(params)
	if err != nil {
		return nil, err
	}
	if err := ValidateBracket(matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// feed is one input into a future match while a bracket is under
// construction: a known participant, the outcome of an earlier match, or
// closed (a bye hole nobody will ever fill).
type feed struct {
	pid        *int
	src        *BracketMatch
	takesLoser bool
	closed     bool
}

func (f feed) open() bool { return !f.closed && (f.pid != nil || f.src != nil) }

// attach wires a feed into slot 1 or 2 of a match, including the back-link
// on the source match.
func (f feed) attach(bm *BracketMatch, slot int) {
	if f.pid != nil {
		if slot == 1 {
			bm.Participant1ID = f.pid
		} else {
			bm.Participant2ID = f.pid
		}
	}
	if f.src == nil {
		return
	}
	if f.pid == nil {
		uid := f.src.UID
		if slot == 1 {
			bm.SourceMatch1UID = &uid
			bm.Source1TakesLoser = f.takesLoser
		} else {
			bm.SourceMatch2UID = &uid
			bm.Source2TakesLoser = f.takesLoser
		}
	}
	// The forward link is set even when the participant is already known
	// (bye auto-advance), so the bracket renders as a connected tree.
	uid := bm.UID
	s := slot
	if f.takesLoser {
		f.src.LoserNextMatchUID = &uid
		f.src.LoserNextMatchSlot = &s
	} else {
		f.src.NextMatchUID = &uid
		f.src.NextMatchSlot = &s
	}
}
