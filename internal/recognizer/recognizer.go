// Package recognizer defines the entity-detection collaborator interface
// consumed by the engine, plus the bundled detector implementations.
package recognizer

import (
	"context"

	"github.com/scrubly-ai/scrubly/internal/pii"
)

// DetectParams carries per-call detection settings. EntityTypes restricts
// the detector output when non-empty; ordering of returned spans is not
// required, the resolver re-sorts.
type DetectParams struct {
	Language       string
	EntityTypes    []string
	ScoreThreshold float64
}

// Detector is the upstream entity-recognition collaborator. Detect is
// synchronous and possibly blocking; a caller imposing a deadline does so
// through ctx.
type Detector interface {
	Detect(ctx context.Context, text string, params DetectParams) ([]pii.Span, error)
	SupportedEntities(language string) []string
}
