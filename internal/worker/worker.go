// Package worker detaches usage recording from the request path. The
// ingestion handler enqueues and returns; a background goroutine performs
// the store writes. Recording is best-effort, so a full queue drops the
// job with a warning instead of blocking the caller.
package worker

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/staslianx/balli-sub011/internal/tracking"
)

const defaultQueueSize = 1024

type job struct {
	tokens *tracking.TokenUsage
	images *tracking.ImageUsage
}

// Queue is a bounded asynchronous front for a tracking.Recorder.
type Queue struct {
	recorder *tracking.Recorder
	jobs     chan job
	logger   zerolog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewQueue(recorder *tracking.Recorder, size int, logger zerolog.Logger) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{
		recorder: recorder,
		jobs:     make(chan job, size),
		logger:   logger.With().Str("component", "usage_queue").Logger(),
	}
}

// Start launches the background recording loop.
func (q *Queue) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for j := range q.jobs {
			// The originating request context is long gone; the write
			// runs under its own background context.
			switch {
			case j.tokens != nil:
				q.recorder.LogTokenUsage(context.Background(), *j.tokens)
			case j.images != nil:
				q.recorder.LogImageUsage(context.Background(), *j.images)
			}
		}
	}()
}

// Stop closes the queue and waits for queued jobs to drain.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.jobs)
	})
	q.wg.Wait()
}

// EnqueueTokenUsage queues one token usage record. Never blocks.
func (q *Queue) EnqueueTokenUsage(usage tracking.TokenUsage) {
	q.enqueue(job{tokens: &usage})
}

// EnqueueImageUsage queues one image usage record. Never blocks.
func (q *Queue) EnqueueImageUsage(usage tracking.ImageUsage) {
	q.enqueue(job{images: &usage})
}

func (q *Queue) enqueue(j job) {
	select {
	case q.jobs <- j:
	default:
		q.logger.Warn().Msg("usage queue full, dropping record")
	}
}
