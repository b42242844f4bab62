package domain

import (
	"sync/atomic"
	"time"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Active reports whether the job still occupies its owner's single active slot.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusInProgress
}

// Job represents one acquisition request: resolve a catalog link, download
// its tracks, report progress. Body fields are written only by the worker
// goroutine that owns the job; the cancellation flag may be set from any
// goroutine.
type Job struct {
	ID        string          `json:"id"`
	Link      string          `json:"link"`
	OwnerID   int64           `json:"owner_id"`
	Attempts  int             `json:"attempts"`
	Status    JobStatus       `json:"status"`
	Result    *DownloadResult `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	cancelled atomic.Bool
	done      chan struct{}
}

// NewJob creates a pending job for the given link and owner.
func NewJob(id, link string, ownerID int64) *Job {
	now := time.Now()
	return &Job{
		ID:        id,
		Link:      link,
		OwnerID:   ownerID,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		done:      make(chan struct{}),
	}
}

// CancelFlag exposes the job's cancellation flag so it can be wired into the
// engine's progress callback.
func (j *Job) CancelFlag() *atomic.Bool {
	return &j.cancelled
}

// Cancelled reports whether cancellation has been requested.
func (j *Job) Cancelled() bool {
	return j.cancelled.Load()
}

// Done is closed exactly once, when the job reaches a terminal status. Any
// number of goroutines may wait on it.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Finish closes the completion signal. Callers must hold the queue mutex and
// must only call this once, on the transition into a terminal status.
func (j *Job) Finish() {
	close(j.done)
}

// Snapshot returns a detached copy safe to read and serialize while the
// owning worker keeps mutating the original. The caller must hold the lock
// guarding the job's fields.
func (j *Job) Snapshot() *Job {
	return &Job{
		ID:        j.ID,
		Link:      j.Link,
		OwnerID:   j.OwnerID,
		Attempts:  j.Attempts,
		Status:    j.Status,
		Result:    j.Result,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// Track is a concrete track descriptor returned by the engine's search.
type Track struct {
	ID          string   `json:"id"`
	URL         string   `json:"url,omitempty"`
	Title       string   `json:"title"`
	Artist      string   `json:"artist"`
	Artists     []string `json:"artists,omitempty"`
	Album       string   `json:"album"`
	AlbumArtist string   `json:"album_artist,omitempty"`
	TrackNumber int      `json:"track_number"`
	DiscNumber  int      `json:"disc_number"`
	TotalTracks int      `json:"total_tracks,omitempty"`
	Year        int      `json:"year,omitempty"`
	Duration    int      `json:"duration,omitempty"`
	AlbumArtURL string   `json:"album_art_url,omitempty"`
}

// TrackOutcome is the per-track result of a download batch: Path is empty
// when the track failed. A batch never fails as a whole because of one track.
type TrackOutcome struct {
	Track Track  `json:"track"`
	Path  string `json:"path,omitempty"`
	Error string `json:"error,omitempty"`
}

// Succeeded reports whether the track produced a file on disk.
func (o TrackOutcome) Succeeded() bool {
	return o.Path != ""
}

// TrackFailure describes one track that could not be downloaded.
type TrackFailure struct {
	TrackID string `json:"track_id"`
	Title   string `json:"title"`
	Reason  string `json:"reason"`
}

// DownloadResult is the terminal payload of a job.
type DownloadResult struct {
	Status          JobStatus      `json:"status"`
	Link            string         `json:"link"`
	PartialSuccess  bool           `json:"partial_success,omitempty"`
	Downloaded      []TrackOutcome `json:"downloaded,omitempty"`
	Failures        []TrackFailure `json:"failures,omitempty"`
	CompletedTracks int            `json:"completed_tracks"`
	TotalTracks     int            `json:"total_tracks"`
	FinishedAt      time.Time      `json:"finished_at"`
}

// DownloadRecord is a persisted row for one completed track download.
type DownloadRecord struct {
	ID          int64       `json:"id" db:"id"`
	JobID       string      `json:"job_id" db:"job_id"`
	OwnerID     int64       `json:"owner_id" db:"owner_id"`
	Link        string      `json:"link" db:"link"`
	TrackID     string      `json:"track_id" db:"track_id"`
	Title       string      `json:"title" db:"title"`
	Artist      string      `json:"artist" db:"artist"`
	Artists     StringSlice `json:"artists,omitempty" db:"artists"`
	Album       string      `json:"album" db:"album"`
	TrackNumber int         `json:"track_number" db:"track_number"`
	DiscNumber  int         `json:"disc_number" db:"disc_number"`
	FilePath    string      `json:"file_path" db:"file_path"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}
