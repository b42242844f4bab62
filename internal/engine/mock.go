package engine

import (
	"context"

	"github.com/Forest904/beathub/internal/domain"
)

// MockEngine is a scriptable in-memory engine for tests and for running the
// server without a provider. Unset hooks fall back to canned data.
type MockEngine struct {
	SearchFunc   func(ctx context.Context, queries []string) ([]domain.Track, error)
	DownloadFunc func(ctx context.Context, tracks []domain.Track) ([]domain.TrackOutcome, error)
	Template     string

	progress ProgressFunc
}

func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (m *MockEngine) ConfigureOutputTemplate(tpl string) (string, error) {
	m.Template = tpl
	return tpl, nil
}

func (m *MockEngine) SetProgressFunc(fn ProgressFunc) {
	m.progress = fn
}

// Emit drives the installed progress callback the way the real engine would,
// returning whether the loop may continue.
func (m *MockEngine) Emit(ev domain.ProgressEvent) bool {
	if m.progress == nil {
		return true
	}
	return m.progress(ev)
}

func (m *MockEngine) Search(ctx context.Context, queries []string) ([]domain.Track, error) {
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, queries)
	}
	return []domain.Track{
		{ID: "1", Title: "Mock Track", Artist: "Mock Artist", Album: "Mock Album", TrackNumber: 1, DiscNumber: 1, Duration: 180},
	}, nil
}

func (m *MockEngine) DownloadMany(ctx context.Context, tracks []domain.Track) ([]domain.TrackOutcome, error) {
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, tracks)
	}

	outcomes := make([]domain.TrackOutcome, 0, len(tracks))
	completed := 0
	for _, t := range tracks {
		if !m.Emit(domain.ProgressEvent{
			domain.EventKeySong:      t.Title,
			domain.EventKeyStatus:    domain.EventStatusDownloading,
			domain.EventKeyPercent:   0,
			domain.EventKeyCompleted: completed,
			domain.EventKeyTotal:     len(tracks),
		}) {
			break
		}
		completed++
		outcomes = append(outcomes, domain.TrackOutcome{Track: t, Path: "/tmp/" + t.ID + ".flac"})
		m.Emit(domain.ProgressEvent{
			domain.EventKeySong:      t.Title,
			domain.EventKeyStatus:    domain.EventStatusDone,
			domain.EventKeyPercent:   100,
			domain.EventKeyCompleted: completed,
			domain.EventKeyTotal:     len(tracks),
		})
	}
	return outcomes, nil
}
