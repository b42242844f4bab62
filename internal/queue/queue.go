// Package queue accepts acquisition requests, deduplicates them, and executes
// them on a fixed worker pool with bounded retries and cooperative
// cancellation. Each job's engine calls are relayed to the progress broker so
// watchers see live, monotonic progress.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Forest904/beathub/internal/constants"
	"github.com/Forest904/beathub/internal/domain"
	"github.com/Forest904/beathub/internal/engine"
	"github.com/Forest904/beathub/internal/logger"
)

var (
	ErrEmptyLink = errors.New("link cannot be empty")
	ErrQueueFull = errors.New("pending queue is full")
)

// Error codes carried on failed jobs. Non-retriable classifications.
const (
	ErrCodeCredentialsMissing = "credentials_missing"
	ErrCodeNoResults          = "no_results"
	ErrCodeNothingToDownload  = "nothing_to_download"
)

// CredentialsFunc is the injected upstream prerequisite check. A job whose
// owner fails it is failed immediately without consuming a retry attempt.
type CredentialsFunc func(ownerID int64) bool

// PersistFunc is the injected persistence hook called on terminal success.
// Failures are logged and swallowed; they never flip a successful job.
type PersistFunc func(jobID string, ownerID int64, result *domain.DownloadResult) error

// Broker is the narrow publish capability the queue needs; jobs never hold
// references to subscribers.
type Broker interface {
	Publish(ev domain.ProgressEvent)
}

// Options configures a Queue. Zero values fall back to constants defaults.
type Options struct {
	Workers        int
	MaxAttempts    int
	BatchSize      int
	OutputTemplate string
	Credentials    CredentialsFunc
	Persist        PersistFunc
}

// Queue is the deduplicating job queue. The lookup maps are guarded by one
// mutex; job bodies are written only by the owning worker, except the
// cancellation flag.
type Queue struct {
	mu            sync.Mutex
	jobs          map[string]*domain.Job
	activeByOwner map[int64]string
	activeByLink  map[string]string

	pending chan string
	engine  *engine.Handle
	broker  Broker
	log     *logger.Logger

	workers        int
	maxAttempts    int
	batchSize      int
	outputTemplate string
	hasCredentials CredentialsFunc
	persist        PersistFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(eng *engine.Handle, broker Broker, log *logger.Logger, opts Options) *Queue {
	if log == nil {
		log = logger.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = constants.DefaultWorkerCount
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = constants.DefaultMaxAttempts
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = constants.DownloadBatchSize
	}
	if opts.OutputTemplate == "" {
		opts.OutputTemplate = constants.DefaultSubdirTemplate
	}
	if opts.Credentials == nil {
		opts.Credentials = func(int64) bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		jobs:           make(map[string]*domain.Job),
		activeByOwner:  make(map[int64]string),
		activeByLink:   make(map[string]string),
		pending:        make(chan string, constants.PendingQueueCapacity),
		engine:         eng,
		broker:         broker,
		log:            log.WithComponent("queue"),
		workers:        opts.Workers,
		maxAttempts:    opts.MaxAttempts,
		batchSize:      opts.BatchSize,
		outputTemplate: opts.OutputTemplate,
		hasCredentials: opts.Credentials,
		persist:        opts.Persist,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start launches the worker pool.
func (q *Queue) Start() {
	q.log.Info("Starting workers", "count", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop signals shutdown and waits for all workers to drain.
func (q *Queue) Stop() {
	q.log.Info("Stopping workers")
	q.cancel()
	q.wg.Wait()
}

// Submit registers an acquisition request and returns immediately. An owner
/// gets at most one active job: if one exists it is returned, whatever its
// link; resubmitting the same (owner, link) is idempotent.
func (q *Queue) Submit(link string, ownerID int64) (*domain.Job, error) {
	if link == "" {
		return nil, ErrEmptyLink
	}

	q.mu.Lock()
	if id, ok := q.activeByOwner[ownerID]; ok {
		snap := q.jobs[id].Snapshot()
		q.mu.Unlock()
		q.log.Info("Owner already has an active job", "job_id", id, "owner_id", ownerID)
		return snap, nil
	}
	key := ownerLinkKey(ownerID, link)
	if id, ok := q.activeByLink[key]; ok {
		snap := q.jobs[id].Snapshot()
		q.mu.Unlock()
		return snap, nil
	}

	job := domain.NewJob(uuid.New().String(), link, ownerID)
	q.jobs[job.ID] = job
	q.activeByOwner[ownerID] = job.ID
	q.activeByLink[key] = job.ID
	snap := job.Snapshot()
	q.mu.Unlock()

	select {
	case q.pending <- job.ID:
	default:
		q.mu.Lock()
		delete(q.jobs, job.ID)
		delete(q.activeByOwner, ownerID)
		delete(q.activeByLink, key)
		q.mu.Unlock()
		return nil, ErrQueueFull
	}

	q.log.Info("Job enqueued", "job_id", job.ID, "owner_id", ownerID, "link", link)
	return snap, nil
}

// Get returns a snapshot of the job with the given id, or nil. Snapshots are
/// detached copies: callers may read and serialize them without racing the
// worker that keeps mutating the live job.
func (q *Queue) Get(jobID string) *domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[jobID]; ok {
		return job.Snapshot()
	}
	return nil
}

// ActiveForOwner returns a snapshot of the owner's single active job, or nil.
func (q *Queue) ActiveForOwner(ownerID int64) *domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if id, ok := q.activeByOwner[ownerID]; ok {
		return q.jobs[id].Snapshot()
	}
	return nil
}

// Wait blocks until the job reaches a terminal status or the timeout
// elapses. On timeout the job keeps running and (nil, false) is returned.
func (q *Queue) Wait(jobID string, timeout time.Duration) (*domain.DownloadResult, bool) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	q.mu.Unlock()
	if !ok {
		return nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-job.Done():
		q.mu.Lock()
		defer q.mu.Unlock()
		return job.Result, true
	case <-timer.C:
		return nil, false
	}
}

// RequestCancel sets the job's cancellation flag and optimistically finalizes
// the job as cancelled right away, so observers see the terminal status even
// though the engine may still be finishing an in-flight call. A late engine
// result for a cancelled job is discarded. Returns false only if the job is
// unknown.
func (q *Queue) RequestCancel(jobID string) bool {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return false
	}
	job.CancelFlag().Store(true)
	q.mu.Unlock()

	q.finalize(job, domain.JobStatusCancelled, &domain.DownloadResult{
		Status:     domain.JobStatusCancelled,
		Link:       job.Link,
		FinishedAt: time.Now(),
	}, "")

	q.log.Info("Cancellation requested", "job_id", jobID)
	return true
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case id := <-q.pending:
			q.mu.Lock()
			job := q.jobs[id]
			q.mu.Unlock()
			if job != nil {
				q.runJob(job)
			}
		}
	}
}

// runJob drives one job to a terminal status. A panic in one job must not
// stop the worker from processing the next.
func (q *Queue) runJob(job *domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Panic in job", "job_id", job.ID, "panic", r)
			q.finalize(job, domain.JobStatusFailed, nil, fmt.Sprintf("panic: %v", r))
		}
	}()

	log := q.log.WithJob(job.ID, job.OwnerID)

	q.mu.Lock()
	if job.Status.Terminal() {
		q.mu.Unlock()
		log.Info("Skipping job already finalized", "status", job.Status)
		return
	}
	job.Status = domain.JobStatusInProgress
	job.UpdatedAt = time.Now()
	q.mu.Unlock()

	log.Info("Running job", "link", job.Link)

	if !q.hasCredentials(job.OwnerID) {
		log.Warn("Owner is missing required credentials")
		q.finalize(job, domain.JobStatusFailed, nil, ErrCodeCredentialsMissing)
		return
	}

	if _, err := q.engine.ConfigureOutputTemplate(q.outputTemplate); err != nil {
		log.Error("Failed to configure output template", "error", err)
		q.finalize(job, domain.JobStatusFailed, nil, err.Error())
		return
	}

	var lastErr error
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		if job.Cancelled() {
			q.finalize(job, domain.JobStatusCancelled, cancelledResult(job), "")
			return
		}

		q.mu.Lock()
		job.Attempts++
		q.mu.Unlock()

		result, err := q.executeAttempt(job)

		if job.Cancelled() {
			q.finalize(job, domain.JobStatusCancelled, cancelledResult(job), "")
			return
		}

		if err == nil {
			q.persistResult(job, result, log)
			q.finalize(job, domain.JobStatusCompleted, result, "")
			return
		}

		lastErr = err
		if code, ok := nonRetriableCode(err); ok {
			log.Warn("Job failed with non-retriable error", "error", err)
			q.finalize(job, domain.JobStatusFailed, nil, code)
			return
		}

		log.Warn("Attempt failed", "attempt", attempt, "max", q.maxAttempts, "error", err)
	}

	q.finalize(job, domain.JobStatusFailed, nil, lastErr.Error())
}

// executeAttempt performs one search + download cycle through the engine.
func (q *Queue) executeAttempt(job *domain.Job) (*domain.DownloadResult, error) {
	tracks, err := q.engine.Search(q.ctx, []string{job.Link})
	if err != nil {
		return nil, err
	}
	if len(tracks) == 0 {
		return nil, engine.ErrNoResults
	}

	total := len(tracks)
	relay := q.progressRelay(job, total)

	var outcomes []domain.TrackOutcome
	for start := 0; start < total; start += q.batchSize {
		if job.Cancelled() {
			break
		}
		end := start + q.batchSize
		if end > total {
			end = total
		}

		// The relay and cancel flag ride along with each batch, so batches
		// of different jobs can interleave on the engine without
		// cross-wiring their progress streams.
		batch, err := q.engine.DownloadMany(q.ctx, tracks[start:end], relay, job.CancelFlag())
		outcomes = append(outcomes, batch...)
		if err != nil {
			return nil, err
		}
	}

	result := buildResult(job, total, outcomes)
	if result.CompletedTracks == 0 {
		return nil, engine.ErrNothingToDownload
	}
	return result, nil
}

func (q *Queue) persistResult(job *domain.Job, result *domain.DownloadResult, log *logger.Logger) {
	if q.persist == nil {
		return
	}
	if err := q.persist(job.ID, job.OwnerID, result); err != nil {
		log.Error("Persistence hook failed", "error", err)
	}
}

// finalize moves the job into a terminal status exactly once. If the job is
// already terminal the new outcome is discarded; cancellation always wins
// over a late success or failure.
func (q *Queue) finalize(job *domain.Job, status domain.JobStatus, result *domain.DownloadResult, errMsg string) {
	q.mu.Lock()
	if job.Status.Terminal() {
		q.mu.Unlock()
		q.log.Info("Discarding outcome for finalized job", "job_id", job.ID, "status", job.Status, "discarded", status)
		return
	}

	job.Status = status
	job.Result = result
	job.Error = errMsg
	job.UpdatedAt = time.Now()
	delete(q.activeByOwner, job.OwnerID)
	delete(q.activeByLink, ownerLinkKey(job.OwnerID, job.Link))
	job.Finish()
	q.mu.Unlock()

	ev := domain.ProgressEvent{
		domain.EventKeyJobID:  job.ID,
		domain.EventKeyStatus: string(status),
	}
	if errMsg != "" {
		ev[domain.EventKeyError] = errMsg
	}
	q.broker.Publish(ev)

	q.log.Info("Job finalized", "job_id", job.ID, "status", status, "attempts", job.Attempts)
}

func buildResult(job *domain.Job, total int, outcomes []domain.TrackOutcome) *domain.DownloadResult {
	result := &domain.DownloadResult{
		Status:      domain.JobStatusCompleted,
		Link:        job.Link,
		TotalTracks: total,
		FinishedAt:  time.Now(),
	}

	for _, o := range outcomes {
		if o.Succeeded() {
			result.Downloaded = append(result.Downloaded, o)
			continue
		}
		result.Failures = append(result.Failures, domain.TrackFailure{
			TrackID: o.Track.ID,
			Title:   o.Track.Title,
			Reason:  o.Error,
		})
	}

	result.CompletedTracks = len(result.Downloaded)
	result.PartialSuccess = result.CompletedTracks > 0 && len(result.Failures) > 0
	return result
}

func cancelledResult(job *domain.Job) *domain.DownloadResult {
	return &domain.DownloadResult{
		Status:     domain.JobStatusCancelled,
		Link:       job.Link,
		FinishedAt: time.Now(),
	}
}

// nonRetriableCode classifies errors for which retrying cannot help.
func nonRetriableCode(err error) (string, bool) {
	switch {
	case errors.Is(err, engine.ErrNoResults):
		return ErrCodeNoResults, true
	case errors.Is(err, engine.ErrNothingToDownload):
		return ErrCodeNothingToDownload, true
	}
	return "", false
}

func ownerLinkKey(ownerID int64, link string) string {
	return fmt.Sprintf("%d|%s", ownerID, link)
}
