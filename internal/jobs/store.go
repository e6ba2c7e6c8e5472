// Package jobs keeps the queryable record of every pipeline run.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"scenecast/internal/domain"
)

// Store persists GenerationJob snapshots keyed by run id. Save must refuse to
// overwrite a job that already reached a terminal stage.
type Store interface {
	Save(ctx context.Context, job domain.GenerationJob) error
	Get(ctx context.Context, id string) (domain.GenerationJob, error)
}

// NewID returns a run identifier: creation time in milliseconds plus a
// random suffix.
func NewID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}
