package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"fitclip/internal/logger"
	"fitclip/internal/planner"
	"fitclip/internal/probe"
)

// Store defines the persistence interface for job data.
// This interface is implemented by internal/store.SQLiteStore.
type Store interface {
	SaveJob(job *Job) error
	GetJob(id string) (*Job, error)
	DeleteJob(id string) error
	GetAllJobs() ([]*Job, []string, error)
	AppendToOrder(id string) error
	RemoveFromOrder(id string) error
	SetOrder(order []string) error
	ResetActiveJobs() (int, error)
	Close() error
}

// Queue manages the job queue with persistence.
// All mutations go through its lock; the sequencer and the API surface
// never touch job state directly.
type Queue struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string // Job IDs in order of creation
	store Store    // Persistence store (nil = in-memory only)

	// bytesSaved accumulates source-minus-output across succeeded jobs.
	// Session-wide: clearing finished jobs doesn't reduce it.
	bytesSaved int64

	// Subscribers for job events
	subsMu      sync.RWMutex
	subscribers map[chan Event]struct{}

	// wake signals the sequencer that a job may be ready
	wake chan struct{}
}

// New creates a new in-memory job queue (for testing).
// Use NewWithStore for production use with persistence.
func New() *Queue {
	return &Queue{
		jobs:        make(map[string]*Job),
		order:       make([]string, 0),
		subscribers: make(map[chan Event]struct{}),
		wake:        make(chan struct{}, 1),
	}
}

// NewWithStore creates a job queue backed by a persistent store.
// The store should already be initialized and have interrupted jobs reset.
func NewWithStore(store Store) (*Queue, error) {
	q := New()
	q.store = store

	if store != nil {
		jobs, order, err := store.GetAllJobs()
		if err != nil {
			return nil, fmt.Errorf("load jobs from store: %w", err)
		}

		for _, job := range jobs {
			q.jobs[job.ID] = job
		}
		q.order = order
	}

	return q, nil
}

// persist saves a job to the store (if configured).
// Called with lock held.
func (q *Queue) persist(job *Job) {
	if q.store == nil {
		return
	}
	if err := q.store.SaveJob(job); err != nil {
		logger.Warn("Failed to persist job", "job_id", job.ID, "error", err)
	}
}

// persistOrder adds a job ID to the store's order (if configured).
// Called with lock held.
func (q *Queue) persistOrder(id string) {
	if q.store == nil {
		return
	}
	if err := q.store.AppendToOrder(id); err != nil {
		logger.Warn("Failed to persist job order", "job_id", id, "error", err)
	}
}

// persistSetOrder rewrites the store's full order (if configured).
// Called with lock held.
func (q *Queue) persistSetOrder() {
	if q.store == nil {
		return
	}
	if err := q.store.SetOrder(q.order); err != nil {
		logger.Warn("Failed to persist job order", "error", err)
	}
}

// persistDelete removes a job from the store (if configured).
// Called with lock held.
func (q *Queue) persistDelete(id string) {
	if q.store == nil {
		return
	}
	if err := q.store.DeleteJob(id); err != nil {
		logger.Warn("Failed to delete job from store", "job_id", id, "error", err)
	}
}

// Add appends a new job in the queued state
func (q *Queue) Add(sourcePath, outputPath string, sourceSize int64, settings Settings) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job := &Job{
		ID:         uuid.NewString(),
		SourcePath: sourcePath,
		OutputPath: outputPath,
		Settings:   settings,
		Status:     StatusQueued,
		SourceSize: sourceSize,
		CreatedAt:  time.Now(),
	}

	q.jobs[job.ID] = job
	q.order = append(q.order, job.ID)

	q.persist(job)
	q.persistOrder(job.ID)

	// Copy to avoid races with subscribers
	q.broadcast(Event{Type: EventAdded, Job: job.Copy()})
	q.wakeUp()

	return job.Copy(), nil
}

// Get returns a copy of the job with the given ID, or nil
func (q *Queue) Get(id string) *Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, ok := q.jobs[id]
	if !ok {
		return nil
	}
	return job.Copy()
}

// List returns copies of all jobs in queue order
func (q *Queue) List() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	jobs := make([]*Job, 0, len(q.order))
	for _, id := range q.order {
		if job, ok := q.jobs[id]; ok {
			jobs = append(jobs, job.Copy())
		}
	}
	return jobs
}

// NextQueued returns a copy of the first queued job, or nil
func (q *Queue) NextQueued() *Job {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, id := range q.order {
		if job, ok := q.jobs[id]; ok && job.Status == StatusQueued {
			return job.Copy()
		}
	}
	return nil
}

// HasQueued reports whether any job is waiting to be processed
func (q *Queue) HasQueued() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, id := range q.order {
		if job, ok := q.jobs[id]; ok && job.Status == StatusQueued {
			return true
		}
	}
	return false
}

// setStatus validates and applies a transition.
// Called with lock held. The caller broadcasts.
func (q *Queue) setStatus(job *Job, to Status) error {
	if !validTransition(job.Status, to) {
		return transitionError(job.ID, job.Status, to)
	}
	job.Status = to
	return nil
}

// MarkProbing moves a queued job into the probing stage
func (q *Queue) MarkProbing(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if err := q.setStatus(job, StatusProbing); err != nil {
		return err
	}
	job.StartedAt = time.Now()

	q.persist(job)
	q.broadcast(Event{Type: EventStatus, Job: job.Copy()})

	return nil
}

// MarkPlanning records the probe result and advances the job to planning
func (q *Queue) MarkPlanning(id string, pr *probe.Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if err := q.setStatus(job, StatusPlanning); err != nil {
		return err
	}

	job.DurationMs = pr.Duration.Milliseconds()
	job.Width = pr.Width
	job.Height = pr.Height
	job.FrameRate = pr.FrameRate
	job.AudioKbps = pr.AudioKbps
	if pr.Size > 0 {
		job.SourceSize = pr.Size
	}

	q.persist(job)
	q.broadcast(Event{Type: EventStatus, Job: job.Copy()})

	return nil
}

// MarkEncoding records the computed plan and advances the job to encoding
func (q *Queue) MarkEncoding(id string, plan *planner.Plan, tempPath string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if err := q.setStatus(job, StatusEncoding); err != nil {
		return err
	}

	job.TempPath = tempPath
	job.PlanVideoKbps = plan.VideoKbps
	job.PlanAudioKbps = plan.AudioKbps
	job.PlanWidth = plan.Width
	job.PlanHeight = plan.Height
	job.PlanFrameRate = plan.FrameRate

	q.persist(job)
	q.broadcast(Event{Type: EventStatus, Job: job.Copy()})

	return nil
}

// UpdateProgress updates an encoding job's progress
func (q *Queue) UpdateProgress(id string, percent, speed float64, eta time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok || job.Status != StatusEncoding {
		return
	}

	job.Progress = percent
	job.Speed = speed
	job.ETASeconds = int64(eta.Seconds())

	// Don't persist on every progress update (too expensive)
	// Just broadcast to subscribers

	q.broadcast(Event{Type: EventProgress, Job: job.Copy()})
}

// Complete marks an encoding job as succeeded
func (q *Queue) Complete(id string, outputSize int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if err := q.setStatus(job, StatusSucceeded); err != nil {
		return err
	}

	job.Progress = 100
	job.Speed = 0
	job.ETASeconds = 0
	job.OutputSize = outputSize
	job.CompletedAt = time.Now()
	job.TempPath = ""

	if job.SourceSize > outputSize {
		q.bytesSaved += job.SourceSize - outputSize
	}

	q.persist(job)
	q.broadcast(Event{Type: EventComplete, Job: job.Copy()})

	return nil
}

// Fail marks an active job as failed with the originating error
func (q *Queue) Fail(id string, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if err := q.setStatus(job, StatusFailed); err != nil {
		return err
	}

	job.Error = errMsg
	job.Speed = 0
	job.ETASeconds = 0
	job.CompletedAt = time.Now()
	job.TempPath = ""

	q.persist(job)
	q.broadcast(Event{Type: EventFailed, Job: job.Copy()})

	return nil
}

// Cancel moves a non-terminal job to cancelled. The sequencer is
// responsible for stopping any in-flight process before calling this.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if err := q.setStatus(job, StatusCancelled); err != nil {
		return err
	}

	job.Speed = 0
	job.ETASeconds = 0
	job.CompletedAt = time.Now()
	job.TempPath = ""

	q.persist(job)
	q.broadcast(Event{Type: EventCancelled, Job: job.Copy()})

	return nil
}

// Reorder moves a queued job to the given position among queued jobs.
// Positions are clamped; jobs already processing or finished keep their
// place in the list.
func (q *Queue) Reorder(id string, position int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if job.Status != StatusQueued {
		return notQueuedError(id, job.Status)
	}

	// Strip the job, then insert it before the position-th queued job
	rest := make([]string, 0, len(q.order))
	for _, oid := range q.order {
		if oid != id {
			rest = append(rest, oid)
		}
	}

	if position < 0 {
		position = 0
	}
	insertAt := len(rest)
	seen := 0
	for i, oid := range rest {
		other, ok := q.jobs[oid]
		if !ok || other.Status != StatusQueued {
			continue
		}
		if seen == position {
			insertAt = i
			break
		}
		seen++
	}

	newOrder := make([]string, 0, len(q.order))
	newOrder = append(newOrder, rest[:insertAt]...)
	newOrder = append(newOrder, id)
	newOrder = append(newOrder, rest[insertAt:]...)
	q.order = newOrder

	q.persistSetOrder()
	q.broadcast(Event{Type: EventMoved, Job: job.Copy()})

	return nil
}

// Remove deletes a job that is not currently being processed
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return jobNotFoundError(id)
	}
	if job.IsActive() {
		return activeJobError(id, job.Status)
	}

	q.persistDelete(id)
	delete(q.jobs, id)

	newOrder := make([]string, 0, len(q.order))
	for _, oid := range q.order {
		if oid != id {
			newOrder = append(newOrder, oid)
		}
	}
	q.order = newOrder

	q.broadcast(Event{Type: EventRemoved, Job: job.Copy()})

	return nil
}

// ClearFinished removes all jobs in a terminal state and returns how
// many were cleared. Queued and processing jobs are untouched.
func (q *Queue) ClearFinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	newOrder := make([]string, 0, len(q.order))
	for _, id := range q.order {
		job, ok := q.jobs[id]
		if !ok {
			continue
		}
		if !job.IsTerminal() {
			newOrder = append(newOrder, id)
			continue
		}
		q.persistDelete(id)
		delete(q.jobs, id)
		count++
	}
	q.order = newOrder

	return count
}

// Stats returns queue statistics
type Stats struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`

	// BytesSaved is the session total of bytes shaved off succeeded jobs
	BytesSaved int64 `json:"bytes_saved"`
}

func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := Stats{BytesSaved: q.bytesSaved}
	for _, job := range q.jobs {
		stats.Total++
		switch {
		case job.Status == StatusQueued:
			stats.Queued++
		case job.Status.IsActive():
			stats.Active++
		case job.Status == StatusSucceeded:
			stats.Succeeded++
		case job.Status == StatusFailed:
			stats.Failed++
		case job.Status == StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// Subscribe returns a channel that receives job events
func (q *Queue) Subscribe() chan Event {
	ch := make(chan Event, 100)

	q.subsMu.Lock()
	q.subscribers[ch] = struct{}{}
	q.subsMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription
func (q *Queue) Unsubscribe(ch chan Event) {
	q.subsMu.Lock()
	delete(q.subscribers, ch)
	q.subsMu.Unlock()

	close(ch)
}

// broadcast sends an event to all subscribers
func (q *Queue) broadcast(event Event) {
	q.subsMu.RLock()
	defer q.subsMu.RUnlock()

	for ch := range q.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip this subscriber
		}
	}
}

// NotifyIdle broadcasts that the queue has drained
func (q *Queue) NotifyIdle() {
	q.broadcast(Event{Type: EventQueueIdle})
}

// Wake returns the channel the sequencer blocks on while idle
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// wakeUp nudges the sequencer without blocking
func (q *Queue) wakeUp() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
