package models

// Participant is a denormalized reference to a roster entry. The roster
// collaborator owns the canonical record; the engine only keeps what it
// needs for seeding and display.
type Participant struct {
	ID          int    `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Seed        *int   `json:"seed,omitempty"`
	Rank        *int   `json:"rank,omitempty"`
}
