package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Forest904/beathub/internal/constants"
	"github.com/Forest904/beathub/internal/domain"
	"github.com/Forest904/beathub/internal/logger"
)

// task is one unit of work marshaled onto the engine goroutine: a callable,
// a result slot, and a completion signal. It is shared only between the
// calling goroutine and the engine goroutine.
type task struct {
	fn   func(Engine) (any, error)
	res  any
	err  error
	done chan struct{}
}

// Handle owns exactly one Engine instance and the dedicated goroutine that
// drives it. Any number of goroutines may call Handle methods concurrently;
// calls are serialized in FIFO order by the internal task queue and each
// caller blocks until its own task completes.
type Handle struct {
	tasks     chan *task
	closed    chan struct{}
	closeOnce sync.Once
	log       *logger.Logger
}

// NewHandle spawns the engine goroutine, runs factory on it, and blocks until
// the engine signals readiness. Failure to become ready within the bounded
// wait is a construction error; the subsystem is unavailable until rebuilt.
func NewHandle(factory func() (Engine, error), log *logger.Logger) (*Handle, error) {
	if log == nil {
		log = logger.Default()
	}

	h := &Handle{
		tasks:  make(chan *task),
		closed: make(chan struct{}),
		log:    log.WithComponent("engine"),
	}

	ready := make(chan error, 1)
	go h.run(factory, ready)

	select {
	case err := <-ready:
		if err != nil {
			return nil, fmt.Errorf("engine construction failed: %w", err)
		}
	case <-time.After(constants.EngineReadyTimeout):
		h.Close()
		return nil, ErrNotReady
	}

	return h, nil
}

// run is the engine goroutine: it constructs the engine and then loops
// forever pulling tasks. The engine object never leaves this goroutine. The
// OS thread is pinned for the engine's whole lifetime because the external
// engine is thread-affine.
func (h *Handle) run(factory func() (Engine, error), ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	eng, err := factory()
	ready <- err
	if err != nil {
		return
	}

	h.log.Info("Engine ready")

	for {
		select {
		case <-h.closed:
			h.log.Info("Engine loop stopped")
			return
		case t := <-h.tasks:
			h.execute(eng, t)
		}
	}
}

// execute runs one task in-place. A failing or panicking task must not
// poison the engine loop: the error goes to the blocked caller and the loop
// keeps pulling.
func (h *Handle) execute(eng Engine, t *task) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("engine task panic: %v", r)
			h.log.Error("Engine task panicked", "panic", r)
		}
	}()

	t.res, t.err = t.fn(eng)
	if t.err != nil {
		h.log.Error("Engine task failed", "error", t.err)
	}
}

// do submits fn to the engine goroutine and blocks until it completes. Once a
// task is accepted the engine goroutine always finishes it, so the wait after
// acceptance is unconditional.
func (h *Handle) do(ctx context.Context, fn func(Engine) (any, error)) (any, error) {
	t := &task{fn: fn, done: make(chan struct{})}

	select {
	case h.tasks <- t:
	case <-h.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	<-t.done
	return t.res, t.err
}

// ConfigureOutputTemplate sets the destination naming pattern for the next
// run and returns the effective template.
func (h *Handle) ConfigureOutputTemplate(tpl string) (string, error) {
	res, err := h.do(context.Background(), func(e Engine) (any, error) {
		return e.ConfigureOutputTemplate(tpl)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// Search resolves input locators to concrete track descriptors.
func (h *Handle) Search(ctx context.Context, queries []string) ([]domain.Track, error) {
	res, err := h.do(ctx, func(e Engine) (any, error) {
		return e.Search(ctx, queries)
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.Track), nil
}

// DownloadMany performs the acquisition for the given tracks. The progress
// callback and cancellation flag travel with the call: they are installed on
// the engine inside this call's own task and detached before it completes, so
// interleaved calls from concurrent jobs can never observe each other's
// events or cancellation. The wrapper checks the flag on every tick and
// short-circuits the engine's internal loop when set; this is best-effort
// cooperative cancellation, the in-flight track may still run to completion.
func (h *Handle) DownloadMany(ctx context.Context, tracks []domain.Track, cb func(domain.ProgressEvent), cancelled *atomic.Bool) ([]domain.TrackOutcome, error) {
	res, err := h.do(ctx, func(e Engine) (any, error) {
		e.SetProgressFunc(func(ev domain.ProgressEvent) bool {
			if cb != nil {
				cb(ev)
			}
			return cancelled == nil || !cancelled.Load()
		})
		defer e.SetProgressFunc(nil)
		return e.DownloadMany(ctx, tracks)
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.TrackOutcome), nil
}

// Close stops the engine loop. In-flight tasks finish; queued tasks that were
// not yet accepted fail with ErrClosed.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.closed)
	})
}
