// Package engine wraps the external acquisition engine behind a
// single-goroutine bridge. The engine object must only ever be touched from
// the goroutine that constructed it; Handle marshals every call across that
// boundary while presenting a synchronous, concurrency-safe API.
package engine

import (
	"context"
	"errors"

	"github.com/Forest904/beathub/internal/domain"
)

var (
	// ErrNoResults means the search resolved nothing for the given input.
	// Retrying cannot help.
	ErrNoResults = errors.New("no search results")

	// ErrNothingToDownload means every track in the job failed to download.
	// Retrying cannot help.
	ErrNothingToDownload = errors.New("nothing to download")

	// ErrNotReady means the engine did not become ready within the
	// construction timeout.
	ErrNotReady = errors.New("engine failed to become ready")

	// ErrClosed means the handle has been shut down.
	ErrClosed = errors.New("engine handle closed")
)

// ProgressFunc receives one event per engine progress tick. Returning false
// short-circuits the engine's internal loop; the engine must stop before
// starting the next track.
type ProgressFunc func(domain.ProgressEvent) bool

// Engine is the external acquisition engine. Implementations are not safe for
// concurrent use and must only be called from the goroutine that created
// them; Handle enforces this.
type Engine interface {
	// ConfigureOutputTemplate sets the destination naming pattern for the
	// next run and returns the effective template.
	ConfigureOutputTemplate(tpl string) (string, error)

	// SetProgressFunc installs the callback invoked on every progress tick.
	SetProgressFunc(fn ProgressFunc)

	// Search resolves input locators (links or free-text queries) to
	// concrete track descriptors.
	Search(ctx context.Context, queries []string) ([]domain.Track, error)

	// DownloadMany acquires the given tracks. Each outcome carries either a
	// destination path (success) or an empty path with a reason (failure);
	// an error return means total, systemic failure only.
	DownloadMany(ctx context.Context, tracks []domain.Track) ([]domain.TrackOutcome, error)
}
