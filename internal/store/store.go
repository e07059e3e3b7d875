// Package store keeps the analyses started through the HTTP API.
//
// Records live in memory only; they are lost on restart and terminal records
// are pruned after a retention period. Every change to a record is fanned out
// to its subscribers so progress can be streamed to clients.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kavehfayyazi/tremolo/pkg/types"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("store: analysis not found")

// Record is the server-side view of one analysis.
type Record struct {
	ID    string         `json:"id"`
	State types.JobState `json:"state"`

	// JobID is the backend job, known once the upload succeeded.
	JobID string `json:"jobId,omitempty"`

	// Stage is the last engine stage reported for this analysis.
	Stage string `json:"stage,omitempty"`

	// Attempts counts job-status polls so far.
	Attempts int `json:"attempts"`

	// Analysis is set once State is complete. Treat it as read-only.
	Analysis *types.Analysis `json:"analysis,omitempty"`

	// Error is set once State is error.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store is the persistence contract used by the HTTP API.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Create registers a new queued record with a fresh id.
	Create(ctx context.Context, filename string) (Record, error)

	// Get returns the record for id or [ErrNotFound].
	Get(ctx context.Context, id string) (Record, error)

	// List returns all records, oldest first.
	List(ctx context.Context) ([]Record, error)

	// Update applies fn to the record for id and notifies subscribers. Updates
	// to a terminal record are rejected with [ErrTerminal].
	Update(ctx context.Context, id string, fn func(*Record)) (Record, error)

	// Subscribe returns a channel that receives the current record followed
	// by every later change. The channel is closed after the terminal record
	// has been delivered or when cancel is called.
	Subscribe(ctx context.Context, id string) (updates <-chan Record, cancel func(), err error)
}

// ErrTerminal is returned by Update once a record is complete or failed.
var ErrTerminal = errors.New("store: analysis already finished")
