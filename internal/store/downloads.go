package store

import (
	"fmt"
	"time"

	"github.com/Forest904/beathub/internal/domain"
)

// SaveResult records every successfully downloaded track of a finished job.
// Re-downloads of a track the owner already has are upserted in place.
func (db *DB) SaveResult(jobID string, ownerID int64, result *domain.DownloadResult) error {
	if result == nil {
		return nil
	}

	query := `INSERT INTO downloads (
		job_id, owner_id, link, track_id, title, artist, artists, album,
		track_number, disc_number, file_path, created_at
	) VALUES (
		:job_id, :owner_id, :link, :track_id, :title, :artist, :artists, :album,
		:track_number, :disc_number, :file_path, :created_at
	)
	ON CONFLICT(owner_id, track_id) DO UPDATE SET
		job_id = excluded.job_id,
		file_path = excluded.file_path,
		created_at = excluded.created_at`

	for _, outcome := range result.Downloaded {
		artists := domain.StringSlice(outcome.Track.Artists)
		if len(artists) == 0 && outcome.Track.Artist != "" {
			artists = domain.StringSlice{outcome.Track.Artist}
		}
		record := &domain.DownloadRecord{
			JobID:       jobID,
			OwnerID:     ownerID,
			Link:        result.Link,
			TrackID:     outcome.Track.ID,
			Title:       outcome.Track.Title,
			Artist:      outcome.Track.Artist,
			Artists:     artists,
			Album:       outcome.Track.Album,
			TrackNumber: outcome.Track.TrackNumber,
			DiscNumber:  outcome.Track.DiscNumber,
			FilePath:    outcome.Path,
			CreatedAt:   time.Now(),
		}
		if _, err := db.NamedExec(query, record); err != nil {
			return fmt.Errorf("failed to save download record for track %s: %w", outcome.Track.ID, err)
		}
	}

	return nil
}

// ListDownloadsByOwner returns the owner's download history, newest first.
func (db *DB) ListDownloadsByOwner(ownerID int64, limit int) ([]*domain.DownloadRecord, error) {
	query := `SELECT id, job_id, owner_id, link, track_id, title, artist, artists, album,
		track_number, disc_number, file_path, created_at
	FROM downloads WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`

	var records []*domain.DownloadRecord
	err := db.Select(&records, query, ownerID, limit)
	return records, err
}

// CountDownloads returns the total number of persisted download records.
func (db *DB) CountDownloads() (int, error) {
	var count int
	err := db.Get(&count, `SELECT COUNT(*) FROM downloads`)
	return count, err
}
