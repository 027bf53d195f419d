// Package storage persists result evidence (screenshots, replay files)
// attached to submissions and disputes.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
)

type StoredProof struct {
	Key      string
	Location string
	ETag     string
}

// ProofStore keeps evidence blobs outside the database. Keys carry a random
// suffix, so a resubmission never overwrites earlier evidence.
type ProofStore interface {
	StoreProof(ctx context.Context, key string, contentType string, reader io.Reader) (*StoredProof, error)

	DeleteProof(ctx context.Context, key string) error

	ProofURL(key string) string
}

// ProofKey builds the object key for one piece of evidence. Evidence is
// uploaded before the submission that references it exists, so the key is
// scoped to the match.
func ProofKey(matchID int, ext string) string {
	return fmt.Sprintf("proofs/match_%d/%s%s", matchID, uuid.NewString(), ext)
}
