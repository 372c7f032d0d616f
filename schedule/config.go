package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/schedkit/schedkit/recurrence"
	"github.com/schedkit/schedkit/storage"
)

// OccurrenceSource is an optional host-provided bulk occurrence generator,
// typically backed by the database (see storage/postgres). It must return
// the same descriptors in-process expansion would produce. The second return
// value reports whether the source could serve the entity at all; on false
// the service falls back to expanding in process. The engine's contract is
// fully satisfiable without any source configured.
type OccurrenceSource interface {
	Occurrences(ctx context.Context, kind storage.EntityKind, entityID string, from, to time.Time, max int) ([]storage.Occurrence, bool, error)
}

// Config holds configuration options for the schedule service.
type Config struct {
	// MaxOccurrences bounds every expansion and aggregation.
	MaxOccurrences int

	// Source optionally accelerates occurrence generation.
	Source OccurrenceSource

	// Logger receives debug-level operation logs. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultConfig provides sensible defaults for production use.
var DefaultConfig = Config{
	MaxOccurrences: recurrence.DefaultMaxOccurrences,
}
