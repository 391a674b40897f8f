// Package scheduler owns the per-session concurrency model described in
// spec.md §4.5: a session streams at most one chapter at a time, and no
// deferred background work may start or progress while that stream is
// active. The property is enforced the way the teacher's worker package
// enforces its own serialized access — a single mutex held for the
// duration of the privileged operation — rather than with a more elaborate
// scheduler abstraction.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Kind tags a deferred or concurrent task for its per-type timeout.
type Kind string

const (
	KindStreaming     Kind = "streaming"
	KindSummarization Kind = "summarization"
	KindVisualUpdate  Kind = "visual_update"
	KindImagePipeline Kind = "image_pipeline"
)

var timeouts = map[Kind]time.Duration{
	KindStreaming:     120 * time.Second,
	KindSummarization: 30 * time.Second,
	KindVisualUpdate:  30 * time.Second,
	KindImagePipeline: 60 * time.Second,
}

// Task is a unit of scheduled work.
type Task func(ctx context.Context) error

// Scheduler is the spec's TaskScheduler adapter, scoped to one session.
type Scheduler interface {
	// RunStreaming runs task exclusively: no Deferred task may start or
	// progress until it returns. Blocks the caller for the task's duration.
	RunStreaming(ctx context.Context, task Task) error

	// EnqueueDeferred schedules task to run once Streaming next goes idle,
	// FIFO with respect to other enqueued Deferred tasks. It blocks only
	// while the 64-slot queue is full.
	EnqueueDeferred(kind Kind, task Task)

	// RunConcurrent runs task without acquiring the streaming-exclusive
	// gate — for image-pipeline steps that do not themselves call
	// TextGenerator (those steps must go through EnqueueDeferred instead).
	RunConcurrent(ctx context.Context, kind Kind, task Task) error

	// Wait blocks until every Deferred task enqueued before this call has
	// completed. Used before emitting summary_ready.
	Wait()

	// Cancel stops accepting new Deferred work and cancels tasks currently
	// in flight at their next cooperative checkpoint.
	Cancel()
}

type deferredItem struct {
	kind Kind
	task Task
}

type scheduler struct {
	streamMu sync.Mutex

	queue  chan deferredItem
	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context

	stoppedCh chan struct{}
	stopOnce  sync.Once
}

// New starts a scheduler bound to parentCtx; cancelling parentCtx or calling
// Cancel stops the deferred worker.
func New(parentCtx context.Context) Scheduler {
	ctx, cancel := context.WithCancel(parentCtx)
	s := &scheduler{
		queue:     make(chan deferredItem, 64),
		cancel:    cancel,
		ctx:       ctx,
		stoppedCh: make(chan struct{}),
	}
	go s.runDeferredLoop()
	return s
}

func (s *scheduler) RunStreaming(ctx context.Context, task Task) error {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	taskCtx, cancel := context.WithTimeout(ctx, timeouts[KindStreaming])
	defer cancel()
	return task(taskCtx)
}

func (s *scheduler) EnqueueDeferred(kind Kind, task Task) {
	s.wg.Add(1)
	select {
	case s.queue <- deferredItem{kind: kind, task: task}:
	case <-s.ctx.Done():
		s.wg.Done()
	}
}

func (s *scheduler) RunConcurrent(ctx context.Context, kind Kind, task Task) error {
	timeout, ok := timeouts[kind]
	if !ok {
		timeout = timeouts[KindImagePipeline]
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return task(taskCtx)
}

func (s *scheduler) Wait() {
	s.wg.Wait()
}

func (s *scheduler) Cancel() {
	s.cancel()
	s.stopOnce.Do(func() { <-s.stoppedCh })
}

// runDeferredLoop is the FIFO worker: it acquires streamMu for each task,
// so a Deferred task can never overlap a RunStreaming call.
func (s *scheduler) runDeferredLoop() {
	defer close(s.stoppedCh)

	for {
		select {
		case <-s.ctx.Done():
			s.drain()
			return
		case item := <-s.queue:
			s.runDeferredItem(item)
		}
	}
}

func (s *scheduler) drain() {
	for {
		select {
		case item := <-s.queue:
			s.wg.Done()
			_ = item
		default:
			return
		}
	}
}

func (s *scheduler) runDeferredItem(item deferredItem) {
	defer s.wg.Done()

	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	timeout, ok := timeouts[item.kind]
	if !ok {
		timeout = 30 * time.Second
	}
	taskCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	if err := item.task(taskCtx); err != nil {
		slog.ErrorContext(taskCtx, "deferred task failed", "kind", item.kind, "error", fmt.Errorf("%w", err))
	}
}
