// Package ports defines the external collaborators of the constellation core.
// Adapters live in internal/constellation/adapters.
package ports

import (
	"context"
	"io"

	"icstore/internal/constellation/models"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// Term is a controlled-vocabulary entry.
type Term struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	URI   string `json:"uri,omitempty"`
}

// VocabularyLookup resolves term ids referenced by sub-entities.
// Unknown ids are reported as sentinel.ErrNotFound.
type VocabularyLookup interface {
	ResolveTerm(ctx context.Context, id string) (*Term, error)
}

// Indexer is notified after every committed version. Implementations must
// not block on delivery; the core ignores their outcome beyond logging.
type Indexer interface {
	Notify(ctx context.Context, icID, version int64) error
}

// Codec converts between an external document form and edit-sets/snapshots.
type Codec interface {
	Parse(ctx context.Context, r io.Reader) (*Document, error)
	Serialize(ctx context.Context, w io.Writer, c *models.Constellation) error
}

// Document is a parsed external record: constellation attributes plus the
// edit-set describing its sub-entities.
type Document struct {
	EntityType models.EntityType
	ArkID      string
	Edits      models.EditSet
}
