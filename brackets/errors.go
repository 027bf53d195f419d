package brackets

import "errors"

var (
	ErrTooFewParticipants = errors.New("not enough participants for format")
	ErrBracketCycle       = errors.New("bracket links contain a cycle")
	ErrBracketLink        = errors.New("invalid bracket link")
)
