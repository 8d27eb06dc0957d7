// Package mirror provides the durable answer mirror: a keyed store of
// in-progress answer snapshots that survives a client reload, so an
// interrupted session resumes with no answer loss.
package mirror

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/proktor/internal/model"
)

// Mirror stores answers keyed by session identity. Writes happen on every
// answer mutation; Clear runs once the session reaches a terminal state.
type Mirror interface {
	// Save writes a single answer under the session's key.
	Save(ctx context.Context, ref model.SessionRef, questionID uuid.UUID, val model.AnswerValue) error
	// Load returns the full mirrored snapshot for the session. A missing
	// session yields an empty snapshot, not an error.
	Load(ctx context.Context, ref model.SessionRef) (model.AnswerSnapshot, error)
	// Clear removes the session's mirrored answers.
	Clear(ctx context.Context, ref model.SessionRef) error
}
