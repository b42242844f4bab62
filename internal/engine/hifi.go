package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"

	"github.com/Forest904/beathub/internal/constants"
	"github.com/Forest904/beathub/internal/domain"
	"github.com/Forest904/beathub/internal/httpclient"
	"github.com/Forest904/beathub/internal/logger"
	"github.com/Forest904/beathub/internal/storage"
	"github.com/Forest904/beathub/internal/tagging"
)

var linkPattern = regexp.MustCompile(`(?:^|/)(track|album|playlist)/(\w+)`)

// HifiEngine is the real acquisition engine: an HTTP client against a
// hifi-style provider API. It holds per-run state (output template, progress
// callback) and is therefore not safe for concurrent use; it is always
// driven through a Handle.
type HifiEngine struct {
	baseURL      string
	client       *httpclient.Client
	imageClient  *httpclient.Client
	quality      string
	downloadsDir string
	template     string
	progress     ProgressFunc
	log          *logger.Logger
}

// NewHifiEngine negotiates a session with the provider and returns the
// engine. Intended to run as a Handle factory, on the engine goroutine.
func NewHifiEngine(baseURL, quality, downloadsDir string, log *logger.Logger) (*HifiEngine, error) {
	e := &HifiEngine{
		baseURL:      baseURL,
		client:       httpclient.NewClient(&http.Client{Timeout: constants.DefaultHTTPTimeout}, constants.MinRequestInterval),
		imageClient:  httpclient.NewClient(&http.Client{Timeout: constants.ImageHTTPTimeout}, 0),
		quality:      quality,
		downloadsDir: downloadsDir,
		template:     constants.DefaultSubdirTemplate,
		log:          log.WithComponent("hifi"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), constants.ImageHTTPTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/", nil)
	if err != nil {
		return nil, fmt.Errorf("invalid provider url: %w", err)
	}
	resp, err := e.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("provider unreachable: %w", err)
	}
	_ = resp.Body.Close()

	return e, nil
}

// ConfigureOutputTemplate validates and installs the destination naming
// pattern for the next run.
func (e *HifiEngine) ConfigureOutputTemplate(tpl string) (string, error) {
	if tpl == "" {
		tpl = constants.DefaultSubdirTemplate
	}
	if err := storage.ValidateTemplate(tpl); err != nil {
		return "", fmt.Errorf("invalid output template: %w", err)
	}
	e.template = tpl
	return tpl, nil
}

// SetProgressFunc installs the per-run progress callback.
func (e *HifiEngine) SetProgressFunc(fn ProgressFunc) {
	e.progress = fn
}

// Search resolves each locator: provider links are fetched by type and id,
// anything else goes through free-text track search.
func (e *HifiEngine) Search(ctx context.Context, queries []string) ([]domain.Track, error) {
	var tracks []domain.Track

	for _, q := range queries {
		if m := linkPattern.FindStringSubmatch(q); m != nil {
			resolved, err := e.resolveLink(ctx, m[1], m[2])
			if err != nil {
				return nil, err
			}
			tracks = append(tracks, resolved...)
			continue
		}

		found, err := e.searchTracks(ctx, q)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, found...)
	}

	if len(tracks) == 0 {
		return nil, ErrNoResults
	}
	return tracks, nil
}

func (e *HifiEngine) resolveLink(ctx context.Context, kind, id string) ([]domain.Track, error) {
	switch kind {
	case "track":
		var resp struct {
			Track trackDTO `json:"track"`
		}
		u := fmt.Sprintf("%s/track/?id=%s", e.baseURL, id)
		if err := e.get(ctx, u, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch track %s: %w", id, err)
		}
		return []domain.Track{resp.Track.toDomain()}, nil

	case "album":
		var resp struct {
			Album struct {
				Title  string     `json:"title"`
				Artist string     `json:"artist"`
				Tracks []trackDTO `json:"tracks"`
			} `json:"album"`
		}
		u := fmt.Sprintf("%s/album/?id=%s", e.baseURL, id)
		if err := e.get(ctx, u, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch album %s: %w", id, err)
		}
		tracks := make([]domain.Track, 0, len(resp.Album.Tracks))
		for _, t := range resp.Album.Tracks {
			dt := t.toDomain()
			if dt.AlbumArtist == "" {
				dt.AlbumArtist = resp.Album.Artist
			}
			if dt.Album == "" {
				dt.Album = resp.Album.Title
			}
			tracks = append(tracks, dt)
		}
		return tracks, nil

	case "playlist":
		var resp struct {
			Playlist struct {
				Title  string     `json:"title"`
				Tracks []trackDTO `json:"tracks"`
			} `json:"playlist"`
		}
		u := fmt.Sprintf("%s/playlist/?id=%s", e.baseURL, id)
		if err := e.get(ctx, u, &resp); err != nil {
			return nil, fmt.Errorf("failed to fetch playlist %s: %w", id, err)
		}
		tracks := make([]domain.Track, 0, len(resp.Playlist.Tracks))
		for _, t := range resp.Playlist.Tracks {
			tracks = append(tracks, t.toDomain())
		}
		return tracks, nil
	}

	return nil, fmt.Errorf("unknown link type %q", kind)
}

func (e *HifiEngine) searchTracks(ctx context.Context, query string) ([]domain.Track, error) {
	var resp struct {
		Tracks []trackDTO `json:"tracks"`
	}
	u := fmt.Sprintf("%s/search/?s=%s", e.baseURL, url.QueryEscape(query))
	if err := e.get(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	tracks := make([]domain.Track, 0, len(resp.Tracks))
	for _, t := range resp.Tracks {
		tracks = append(tracks, t.toDomain())
	}
	return tracks, nil
}

// DownloadMany acquires the given tracks one at a time. Per-track failures
// are recorded in the outcome, never returned as an error; only systemic
// failures (expired auth, provider outage) abort the whole call. The local
// completed counter resets with every call, callers that split work into
// batches must rebase it themselves.
func (e *HifiEngine) DownloadMany(ctx context.Context, tracks []domain.Track) ([]domain.TrackOutcome, error) {
	outcomes := make([]domain.TrackOutcome, 0, len(tracks))
	completed := 0

	for _, track := range tracks {
		if !e.emit(track, domain.EventStatusDownloading, 0, completed, len(tracks), "") {
			e.log.Info("Download loop short-circuited by cancellation", "track_id", track.ID)
			break
		}

		path, err := e.downloadTrack(ctx, track)
		if err != nil {
			if isSystemic(err) {
				return outcomes, err
			}
			e.log.Warn("Track download failed", "track_id", track.ID, "error", err)
			outcomes = append(outcomes, domain.TrackOutcome{Track: track, Error: err.Error()})
			e.emit(track, domain.EventStatusFailed, 100, completed, len(tracks), err.Error())
			continue
		}

		completed++
		outcomes = append(outcomes, domain.TrackOutcome{Track: track, Path: path})
		if !e.emit(track, domain.EventStatusDone, 100, completed, len(tracks), "") {
			break
		}
	}

	return outcomes, nil
}

// emit fires the progress callback and returns whether the loop may continue.
func (e *HifiEngine) emit(track domain.Track, status string, percent, completed, total int, errMsg string) bool {
	if e.progress == nil {
		return true
	}
	ev := domain.ProgressEvent{
		domain.EventKeySong:      track.Title,
		domain.EventKeyStatus:    status,
		domain.EventKeyPercent:   percent,
		domain.EventKeyCompleted: completed,
		domain.EventKeyTotal:     total,
	}
	if errMsg != "" {
		ev[domain.EventKeyError] = errMsg
	}
	return e.progress(ev)
}

func (e *HifiEngine) downloadTrack(ctx context.Context, track domain.Track) (string, error) {
	artist := track.AlbumArtist
	if artist == "" {
		artist = track.Artist
	}
	data := storage.BuildPathTemplateData(artist, track.Year, track.Album, track.DiscNumber, track.TrackNumber, track.Title)

	relPath, err := storage.BuildPath(e.template, data)
	if err != nil {
		return "", fmt.Errorf("failed to build path: %w", err)
	}
	pathNoExt := filepath.Join(e.downloadsDir, relPath)

	if err := storage.EnsureDir(filepath.Dir(pathNoExt)); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	u := fmt.Sprintf("%s/stream/?id=%s&quality=%s", e.baseURL, track.ID, e.quality)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := e.client.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", &authError{status: resp.StatusCode}
	default:
		return "", fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	finalPath := pathNoExt + extForMime(resp.Header.Get("Content-Type"))

	f, err := storage.CreateFile(finalPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	_, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = storage.RemoveFile(finalPath)
		if copyErr != nil {
			return "", fmt.Errorf("failed to write stream: %w", copyErr)
		}
		return "", closeErr
	}

	e.finishTrack(ctx, track, finalPath)
	return finalPath, nil
}

// finishTrack fetches artwork and lyrics and tags the downloaded file.
// Failures here are logged and never fail the track; the audio is on disk.
func (e *HifiEngine) finishTrack(ctx context.Context, track domain.Track, path string) {
	var art []byte
	if track.AlbumArtURL != "" {
		var err error
		art, err = e.fetchArtwork(ctx, track.AlbumArtURL)
		if err != nil {
			e.log.Warn("Failed to fetch artwork", "track_id", track.ID, "error", err)
		}
	}

	lyrics, err := e.fetchLyrics(ctx, track.ID)
	if err != nil {
		e.log.Debug("Failed to fetch lyrics", "track_id", track.ID, "error", err)
	}

	if err := tagging.TagFile(path, track, art, lyrics); err != nil {
		e.log.Warn("Failed to tag file", "file_path", path, "error", err)
	}

	if len(art) > 0 {
		artPath := filepath.Join(filepath.Dir(path), "cover"+constants.ExtJPG)
		if err := storage.WriteFile(artPath, art); err != nil {
			e.log.Warn("Failed to save album art", "path", artPath, "error", err)
		}
	}
}

func (e *HifiEngine) fetchArtwork(ctx context.Context, artURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.imageClient.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artwork returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (e *HifiEngine) fetchLyrics(ctx context.Context, trackID string) (string, error) {
	var resp struct {
		Lyrics string `json:"lyrics"`
	}
	u := fmt.Sprintf("%s/lyrics/?id=%s", e.baseURL, trackID)
	if err := e.get(ctx, u, &resp); err != nil {
		return "", err
	}
	return resp.Lyrics, nil
}

func (e *HifiEngine) get(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return &authError{status: resp.StatusCode}
	default:
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

type authError struct {
	status int
}

func (e *authError) Error() string {
	return fmt.Sprintf("provider auth rejected (status %d)", e.status)
}

// isSystemic reports whether an error should abort the whole batch instead
// of failing a single track.
func isSystemic(err error) bool {
	var ae *authError
	return errors.As(err, &ae)
}

func extForMime(mime string) string {
	switch mime {
	case constants.MimeTypeMP3:
		return constants.ExtMP3
	case constants.MimeTypeMP4:
		return constants.ExtM4A
	case constants.MimeTypeFLAC:
		return constants.ExtFLAC
	default:
		// Providers commonly serve FLAC with a generic content type.
		return constants.ExtFLAC
	}
}

type trackDTO struct {
	ID          json.Number `json:"id"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Artist      string      `json:"artist"`
	Artists     []string    `json:"artists"`
	Album       string      `json:"album"`
	AlbumArtist string      `json:"album_artist"`
	TrackNumber int         `json:"track_number"`
	DiscNumber  int         `json:"disc_number"`
	TotalTracks int         `json:"total_tracks"`
	Year        int         `json:"year"`
	Duration    int         `json:"duration"`
	Cover       string      `json:"cover"`
}

func (t trackDTO) toDomain() domain.Track {
	disc := t.DiscNumber
	if disc == 0 {
		disc = 1
	}
	return domain.Track{
		ID:          t.ID.String(),
		URL:         t.URL,
		Title:       t.Title,
		Artist:      t.Artist,
		Artists:     t.Artists,
		Album:       t.Album,
		AlbumArtist: t.AlbumArtist,
		TrackNumber: t.TrackNumber,
		DiscNumber:  disc,
		TotalTracks: t.TotalTracks,
		Year:        t.Year,
		Duration:    t.Duration,
		AlbumArtURL: t.Cover,
	}
}
