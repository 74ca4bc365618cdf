package store

import (
	"fitclip/internal/jobs"
)

// Store defines the persistence interface for job data.
// Implementations must be safe for concurrent use.
type Store interface {
	// SaveJob persists a job. If the job already exists (by ID), it is updated.
	SaveJob(job *jobs.Job) error

	// GetJob retrieves a job by ID. Returns nil if not found.
	GetJob(id string) (*jobs.Job, error)

	// DeleteJob removes a job by ID. Also removes it from the order.
	// Returns nil if the job doesn't exist.
	DeleteJob(id string) error

	// GetAllJobs returns all jobs and their order.
	// Jobs are returned in queue order (first = next to process).
	GetAllJobs() ([]*jobs.Job, []string, error)

	// AppendToOrder adds a job ID to the end of the queue order.
	AppendToOrder(id string) error

	// RemoveFromOrder removes a job ID from the queue order.
	// NOTE: This method is primarily used for testing; production code
	// uses DeleteJob which handles order removal automatically.
	RemoveFromOrder(id string) error

	// SetOrder persists the full job order, replacing any existing order.
	SetOrder(order []string) error

	// ResetActiveJobs requeues all jobs caught mid-pipeline (probing,
	// planning, or encoding) and clears their transient state. Used on
	// startup to recover from crashes and unclean shutdowns.
	// Returns the number of jobs reset.
	ResetActiveJobs() (int, error)

	// Close closes the store and releases resources.
	Close() error
}
