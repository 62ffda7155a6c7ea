package model

import "time"

// APIKey is a credential that owns transcription tasks. The raw key is only
// shown once at creation; storage keeps its SHA-256 hash.
type APIKey struct {
	ID         string     `json:"id"                     db:"id"`
	Name       string     `json:"name"                   db:"name"`
	KeyPrefix  string     `json:"key_prefix"             db:"key_prefix"`
	KeyHash    string     `json:"-"                      db:"key_hash"`
	IsActive   bool       `json:"is_active"              db:"is_active"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"             db:"created_at"`
}

// CreateAPIKeyRequest is the input for storing a newly minted key.
type CreateAPIKeyRequest struct {
	Name      string `validate:"required,max=255"`
	KeyPrefix string `validate:"required,max=16"`
	KeyHash   string `validate:"required,len=64,hexadecimal"`
}

// Validate checks the request against its struct tags.
func (r *CreateAPIKeyRequest) Validate() error {
	return validate.Struct(r)
}
