// Package data implements Postgres persistence for transcription tasks and API keys.
package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrTaskNotFound is returned when a task does not exist, is soft-deleted, or belongs to another key.
	ErrTaskNotFound = errors.New("transcription task not found")
	// ErrTaskFinalized is returned when a transition is attempted on a task that is already terminal.
	ErrTaskFinalized = errors.New("transcription task already finalized")
	// ErrAPIKeyNotFound is returned when no active key matches.
	ErrAPIKeyNotFound = errors.New("api key not found")
)
