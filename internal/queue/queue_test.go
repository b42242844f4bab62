package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Forest904/beathub/internal/domain"
	"github.com/Forest904/beathub/internal/engine"
	"github.com/Forest904/beathub/internal/logger"
)

// captureBroker records every published event for assertions.
type captureBroker struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (b *captureBroker) Publish(ev domain.ProgressEvent) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

func (b *captureBroker) Events() []domain.ProgressEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.ProgressEvent, len(b.events))
	copy(out, b.events)
	return out
}

func newTestQueue(t *testing.T, mock *engine.MockEngine, opts Options) (*Queue, *captureBroker) {
	t.Helper()
	h, err := engine.NewHandle(func() (engine.Engine, error) { return mock, nil }, logger.Default())
	if err != nil {
		t.Fatalf("NewHandle() error = %v", err)
	}
	t.Cleanup(h.Close)

	bk := &captureBroker{}
	q := New(h, bk, logger.Default(), opts)
	return q, bk
}

func manyTracks(n int) []domain.Track {
	tracks := make([]domain.Track, 0, n)
	for i := 1; i <= n; i++ {
		tracks = append(tracks, domain.Track{ID: fmt.Sprintf("%d", i), Title: fmt.Sprintf("Track %d", i)})
	}
	return tracks
}

func TestSubmitValidation(t *testing.T) {
	q, _ := newTestQueue(t, engine.NewMockEngine(), Options{})

	if _, err := q.Submit("", 1); !errors.Is(err, ErrEmptyLink) {
		t.Errorf("Submit(empty) error = %v, want ErrEmptyLink", err)
	}
}

func TestSubmitDeduplicates(t *testing.T) {
	// Workers not started: jobs stay pending so dedup is observable.
	q, _ := newTestQueue(t, engine.NewMockEngine(), Options{})

	first, err := q.Submit("link-a", 1)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	again, err := q.Submit("link-a", 1)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("resubmit returned job %v, want existing %v", again.ID, first.ID)
	}

	// Same owner, different link: the single active slot still wins.
	other, err := q.Submit("link-b", 1)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if other.ID != first.ID {
		t.Errorf("different link returned job %v, want active %v", other.ID, first.ID)
	}

	// A different owner gets its own job.
	theirs, err := q.Submit("link-a", 2)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if theirs.ID == first.ID {
		t.Error("different owners must not share a job")
	}
}

func TestSubmitAfterCompletionCreatesNewJob(t *testing.T) {
	q, _ := newTestQueue(t, engine.NewMockEngine(), Options{Workers: 1})
	q.Start()
	defer q.Stop()

	first, err := q.Submit("link-a", 1)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, ok := q.Wait(first.ID, 5*time.Second); !ok {
		t.Fatal("Wait() timed out")
	}

	second, err := q.Submit("link-a", 1)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if second.ID == first.ID {
		t.Error("finished job should not block a new submission")
	}
}

func TestJobCompletes(t *testing.T) {
	q, bk := newTestQueue(t, engine.NewMockEngine(), Options{Workers: 1})
	q.Start()
	defer q.Stop()

	job, err := q.Submit("link-a", 1)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	result, ok := q.Wait(job.ID, 5*time.Second)
	if !ok {
		t.Fatal("Wait() timed out")
	}
	if result.Status != domain.JobStatusCompleted {
		t.Errorf("result status = %v, want completed", result.Status)
	}
	if result.CompletedTracks != 1 || result.TotalTracks != 1 {
		t.Errorf("completed/total = %d/%d, want 1/1", result.CompletedTracks, result.TotalTracks)
	}
	if result.PartialSuccess {
		t.Error("full success should not be partial")
	}

	got := q.Get(job.ID)
	if got.Status != domain.JobStatusCompleted {
		t.Errorf("job status = %v, want completed", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if q.ActiveForOwner(1) != nil {
		t.Error("owner slot should be free after completion")
	}

	sawTerminal := false
	for _, ev := range bk.Events() {
		if ev[domain.EventKeyJobID] == job.ID && ev[domain.EventKeyStatus] == string(domain.JobStatusCompleted) {
			sawTerminal = true
		}
	}
	if !sawTerminal {
		t.Error("terminal event was not published")
	}
}

func TestNoResultsFailsWithoutRetry(t *testing.T) {
	mock := engine.NewMockEngine()
	mock.SearchFunc = func(ctx context.Context, queries []string) ([]domain.Track, error) {
		return nil, engine.ErrNoResults
	}

	q, _ := newTestQueue(t, mock, Options{Workers: 1, MaxAttempts: 3})
	q.Start()
	defer q.Stop()

	job, _ := q.Submit("link-a", 1)
	if _, ok := q.Wait(job.ID, 5*time.Second); !ok {
		t.Fatal("Wait() timed out")
	}

	got := q.Get(job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Errorf("status = %v, want failed", got.Status)
	}
	if got.Error != ErrCodeNoResults {
		t.Errorf("error = %v, want %v", got.Error, ErrCodeNoResults)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on no_results)", got.Attempts)
	}
}

func TestNothingToDownloadFailsWithoutRetry(t *testing.T) {
	mock := engine.NewMockEngine()
	mock.DownloadFunc = func(ctx context.Context, tracks []domain.Track) ([]domain.TrackOutcome, error) {
		outcomes := make([]domain.TrackOutcome, 0, len(tracks))
		for _, tr := range tracks {
			outcomes = append(outcomes, domain.TrackOutcome{Track: tr, Error: "stream returned status 404"})
		}
		return outcomes, nil
	}

	q, _ := newTestQueue(t, mock, Options{Workers: 1, MaxAttempts: 3})
	q.Start()
	defer q.Stop()

	job, _ := q.Submit("link-a", 1)
	if _, ok := q.Wait(job.ID, 5*time.Second); !ok {
		t.Fatal("Wait() timed out")
	}

	got := q.Get(job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Errorf("status = %v, want failed", got.Status)
	}
	if got.Error != ErrCodeNothingToDownload {
		t.Errorf("error = %v, want %v", got.Error, ErrCodeNothingToDownload)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
}

func TestRetriableErrorRetriesUntilSuccess(t *testing.T) {
	var calls int
	var mu sync.Mutex
	mock := engine.NewMockEngine()
	mock.SearchFunc = func(ctx context.Context, queries []string) ([]domain.Track, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			return nil, errors.New("provider hiccup")
		}
		return manyTracks(1), nil
	}

	q, _ := newTestQueue(t, mock, Options{Workers: 1, MaxAttempts: 3})
	q.Start()
	defer q.Stop()

	job, _ := q.Submit("link-a", 1)
	result, ok := q.Wait(job.ID, 5*time.Second)
	if !ok {
		t.Fatal("Wait() timed out")
	}
	if result.Status != domain.JobStatusCompleted {
		t.Errorf("status = %v, want completed after retries", result.Status)
	}
	if got := q.Get(job.ID).Attempts; got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestRetriesExhausted(t *testing.T) {
	mock := engine.NewMockEngine()
	mock.SearchFunc = func(ctx context.Context, queries []string) ([]domain.Track, error) {
		return nil, errors.New("provider down")
	}

	q, _ := newTestQueue(t, mock, Options{Workers: 1, MaxAttempts: 2})
	q.Start()
	defer q.Stop()

	job, _ := q.Submit("link-a", 1)
	if _, ok := q.Wait(job.ID, 5*time.Second); !ok {
		t.Fatal("Wait() timed out")
	}

	got := q.Get(job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Errorf("status = %v, want failed", got.Status)
	}
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got.Attempts)
	}
	if got.Error != "provider down" {
		t.Errorf("error = %v, want provider down", got.Error)
	}
}

func TestCredentialsGate(t *testing.T) {
	q, _ := newTestQueue(t, engine.NewMockEngine(), Options{
		Workers:     1,
		Credentials: func(ownerID int64) bool { return false },
	})
	q.Start()
	defer q.Stop()

	job, _ := q.Submit("link-a", 1)
	if _, ok := q.Wait(job.ID, 5*time.Second); !ok {
		t.Fatal("Wait() timed out")
	}

	got := q.Get(job.ID)
	if got.Status != domain.JobStatusFailed {
		t.Errorf("status = %v, want failed", got.Status)
	}
	if got.Error != ErrCodeCredentialsMissing {
		t.Errorf("error = %v, want %v", got.Error, ErrCodeCredentialsMissing)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0 (gate consumes no attempt)", got.Attempts)
	}
}

func TestPartialSuccess(t *testing.T) {
	mock := engine.NewMockEngine()
	mock.SearchFunc = func(ctx context.Context, queries []string) ([]domain.Track, error) {
		return manyTracks(10), nil
	}
	mock.DownloadFunc = func(ctx context.Context, tracks []domain.Track) ([]domain.TrackOutcome, error) {
		outcomes := make([]domain.TrackOutcome, 0, len(tracks))
		for i, tr := range tracks {
			if i < 3 {
				outcomes = append(outcomes, domain.TrackOutcome{Track: tr, Error: "stream returned status 404"})
				continue
			}
			outcomes = append(outcomes, domain.TrackOutcome{Track: tr, Path: "/tmp/" + tr.ID + ".flac"})
		}
		return outcomes, nil
	}

	q, _ := newTestQueue(t, mock, Options{Workers: 1})
	q.Start()
	defer q.Stop()

	job, _ := q.Submit("link-a", 1)
	result, ok := q.Wait(job.ID, 5*time.Second)
	if !ok {
		t.Fatal("Wait() timed out")
	}

	if result.Status != domain.JobStatusCompleted {
		t.Errorf("status = %v, want completed", result.Status)
	}
	if !result.PartialSuccess {
		t.Error("result should be flagged partial")
	}
	if result.CompletedTracks != 7 {
		t.Errorf("completed = %d, want 7", result.CompletedTracks)
	}
	if len(result.Failures) != 3 {
		t.Errorf("failures = %d, want 3", len(result.Failures))
	}
	if result.TotalTracks != 10 {
		t.Errorf("total = %d, want 10", result.TotalTracks)
	}
	for _, f := range result.Failures {
		if f.Reason == "" || f.TrackID == "" {
			t.Errorf("failure detail incomplete: %+v", f)
		}
	}
}

func TestCancelPendingJob(t *testing.T) {
	q, _ := newTestQueue(t, engine.NewMockEngine(), Options{Workers: 1})

	job, _ := q.Submit("link-a", 1)
	if !q.RequestCancel(job.ID) {
		t.Fatal("RequestCancel() = false for known job")
	}

	// Workers start after the cancel; the job must be skipped, not run.
	q.Start()
	defer q.Stop()
	time.Sleep(100 * time.Millisecond)

	got := q.Get(job.ID)
	if got.Status != domain.JobStatusCancelled {
		t.Errorf("status = %v, want cancelled", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}
	if q.ActiveForOwner(1) != nil {
		t.Error("owner slot should be free after cancellation")
	}
}

func TestCancelUnknownJob(t *testing.T) {
	q, _ := newTestQueue(t, engine.NewMockEngine(), Options{})
	if q.RequestCancel("no-such-job") {
		t.Error("RequestCancel() = true for unknown job")
	}
}

func TestCancelDuringRunDiscardsLateResult(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	mock := engine.NewMockEngine()
	mock.DownloadFunc = func(ctx context.Context, tracks []domain.Track) ([]domain.TrackOutcome, error) {
		close(started)
		<-unblock
		outcomes := make([]domain.TrackOutcome, 0, len(tracks))
		for _, tr := range tracks {
			outcomes = append(outcomes, domain.TrackOutcome{Track: tr, Path: "/tmp/" + tr.ID + ".flac"})
		}
		return outcomes, nil
	}

	q, _ := newTestQueue(t, mock, Options{Workers: 1})
	q.Start()
	defer q.Stop()

	job, _ := q.Submit("link-a", 1)
	<-started

	if !q.RequestCancel(job.ID) {
		t.Fatal("RequestCancel() = false")
	}

	// The cancel is observable immediately, before the engine returns.
	got := q.Get(job.ID)
	if got.Status != domain.JobStatusCancelled {
		t.Fatalf("status right after cancel = %v, want cancelled", got.Status)
	}

	close(unblock)
	time.Sleep(100 * time.Millisecond)

	// The late engine result must not overwrite the terminal status.
	got = q.Get(job.ID)
	if got.Status != domain.JobStatusCancelled {
		t.Errorf("status after late result = %v, want cancelled", got.Status)
	}
	if got.Result != nil && len(got.Result.Downloaded) != 0 {
		t.Errorf("cancelled job carries downloads: %+v", got.Result.Downloaded)
	}
}

func TestGetReturnsDetachedSnapshot(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	mock := engine.NewMockEngine()
	mock.DownloadFunc = func(ctx context.Context, tracks []domain.Track) ([]domain.TrackOutcome, error) {
		close(started)
		<-unblock
		outcomes := make([]domain.TrackOutcome, 0, len(tracks))
		for _, tr := range tracks {
			outcomes = append(outcomes, domain.TrackOutcome{Track: tr, Path: "/tmp/" + tr.ID + ".flac"})
		}
		return outcomes, nil
	}

	q, _ := newTestQueue(t, mock, Options{Workers: 1})
	q.Start()
	defer q.Stop()

	job, _ := q.Submit("link-a", 1)
	<-started

	snap := q.Get(job.ID)
	if snap.Status != domain.JobStatusInProgress {
		t.Fatalf("status mid-run = %v, want in_progress", snap.Status)
	}

	// Serializing snapshots while the worker keeps writing must be safe.
	marshalDone := make(chan struct{})
	go func() {
		defer close(marshalDone)
		for i := 0; i < 100; i++ {
			if _, err := json.Marshal(q.Get(job.ID)); err != nil {
				t.Errorf("Marshal() error = %v", err)
				return
			}
		}
	}()

	close(unblock)
	<-marshalDone
	if _, ok := q.Wait(job.ID, 5*time.Second); !ok {
		t.Fatal("Wait() timed out")
	}

	// The earlier snapshot is detached from the live job.
	if snap.Status != domain.JobStatusInProgress {
		t.Errorf("snapshot status changed to %v after finalize", snap.Status)
	}
	if got := q.Get(job.ID).Status; got != domain.JobStatusCompleted {
		t.Errorf("fresh snapshot status = %v, want completed", got)
	}
}

func TestWait(t *testing.T) {
	q, _ := newTestQueue(t, engine.NewMockEngine(), Options{})

	if _, ok := q.Wait("no-such-job", 10*time.Millisecond); ok {
		t.Error("Wait() on unknown job should return false")
	}

	job, _ := q.Submit("link-a", 1)
	if _, ok := q.Wait(job.ID, 50*time.Millisecond); ok {
		t.Error("Wait() should time out while workers are stopped")
	}
}

func TestPersistHookCalledOnSuccess(t *testing.T) {
	var mu sync.Mutex
	var persisted []string
	persist := func(jobID string, ownerID int64, result *domain.DownloadResult) error {
		mu.Lock()
		persisted = append(persisted, jobID)
		mu.Unlock()
		return nil
	}

	q, _ := newTestQueue(t, engine.NewMockEngine(), Options{Workers: 1, Persist: persist})
	q.Start()
	defer q.Stop()

	job, _ := q.Submit("link-a", 1)
	if _, ok := q.Wait(job.ID, 5*time.Second); !ok {
		t.Fatal("Wait() timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(persisted) != 1 || persisted[0] != job.ID {
		t.Errorf("persisted = %v, want [%v]", persisted, job.ID)
	}
}

func TestPersistFailureDoesNotFailJob(t *testing.T) {
	persist := func(jobID string, ownerID int64, result *domain.DownloadResult) error {
		return errors.New("disk full")
	}

	q, _ := newTestQueue(t, engine.NewMockEngine(), Options{Workers: 1, Persist: persist})
	q.Start()
	defer q.Stop()

	job, _ := q.Submit("link-a", 1)
	result, ok := q.Wait(job.ID, 5*time.Second)
	if !ok {
		t.Fatal("Wait() timed out")
	}
	if result.Status != domain.JobStatusCompleted {
		t.Errorf("status = %v, want completed despite persist failure", result.Status)
	}
}
