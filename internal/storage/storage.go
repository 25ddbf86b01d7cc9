package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound - no record matches the given ID or prefix.
var ErrNotFound = errors.New("record not found")

// RecordStatus is how a chat completion request ended.
type RecordStatus string

const (
	StatusOK              RecordStatus = "ok"
	StatusValidationError RecordStatus = "validation_error"
	StatusDecodeError     RecordStatus = "decode_error"
	StatusEngineError     RecordStatus = "engine_error"
	StatusCanceled        RecordStatus = "canceled"
)

// Record captures one chat completion: the prompt sent to the engine, the
// raw text it produced and the outcome. It exists to diagnose generations
// that break the tag convention.
type Record struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	Stream       bool            `json:"stream"`
	Status       RecordStatus    `json:"status"`
	Prompt       string          `json:"prompt"`
	RawText      string          `json:"raw_text"`
	FinishReason string          `json:"finish_reason"`
	Error        string          `json:"error,omitempty"`
	Request      json.RawMessage `json:"request,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Duration     time.Duration   `json:"duration_ns"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RecordListOptions controls filtering and pagination for ListRecords.
type RecordListOptions struct {
	Status RecordStatus
	Limit  int
	Offset int
}

// Store is the persistence interface for completion records.
type Store interface {
	// SaveRecord inserts a record. The ID field must be set by the caller.
	SaveRecord(ctx context.Context, r *Record) error

	// GetRecord returns a record by ID or ID prefix.
	GetRecord(ctx context.Context, id string) (*Record, error)

	// ListRecords returns records ordered by created_at descending.
	ListRecords(ctx context.Context, opts RecordListOptions) ([]Record, error)

	// DeleteRecord removes a record by ID or ID prefix.
	DeleteRecord(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
