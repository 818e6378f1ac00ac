// Package backend is the terminal's view of the remote backend. The core
// treats it as an opaque relational service: it never assumes the remote
// schema, only the structured errors it reports.
package backend

import (
	"context"
	"encoding/json"
	"strings"
)

// ErrorKind classifies a remote failure. Transient kinds are retried by the
// queue processor; constraint kinds are routed to the conflict resolver.
type ErrorKind string

const (
	KindTimeout      ErrorKind = "timeout"
	KindUnavailable  ErrorKind = "unavailable"
	KindDuplicate    ErrorKind = "duplicate"
	KindFKMissing    ErrorKind = "fk_missing"
	KindStaleVersion ErrorKind = "stale_version"
	KindDeleted      ErrorKind = "deleted"
	KindRejected     ErrorKind = "rejected"
)

// RemoteError is a structured failure reported by (or on behalf of) the
// remote backend.
type RemoteError struct {
	Kind    ErrorKind
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Transient reports whether the failure should be retried rather than
// treated as a conflict.
func (e *RemoteError) Transient() bool {
	return e.Kind == KindTimeout || e.Kind == KindUnavailable
}

// ChangedRecord is one record returned by an incremental pull.
type ChangedRecord struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Active    bool            `json:"active"`
	UpdatedAt string          `json:"updated_at"`
}

// Client is the remote backend contract used by the sync engine. All calls
// carry a bounded timeout via ctx; implementations return *RemoteError for
// failures they can classify.
type Client interface {
	// Ping probes reachability. Used by the connectivity monitor.
	Ping(ctx context.Context) error

	// FetchChangedSince pulls records of a reference-data domain modified
	// after cursor (RFC3339). An empty cursor means a full pull.
	FetchChangedSince(ctx context.Context, domain, cursor string) ([]ChangedRecord, error)

	// Insert creates an entity and returns the server's copy.
	Insert(ctx context.Context, entityType string, payload []byte) (json.RawMessage, error)

	// Update overwrites an entity with the given payload and returns the
	// server's copy. Used by keep_local resolutions.
	Update(ctx context.Context, entityType, id string, payload []byte) (json.RawMessage, error)

	// Fetch returns the server's current copy of an entity, or a
	// RemoteError of kind deleted when it no longer exists.
	Fetch(ctx context.Context, entityType, id string) (json.RawMessage, error)

	// FetchReport pulls one date bucket of an aggregate report.
	FetchReport(ctx context.Context, reportType, date string) (json.RawMessage, error)
}

// Classify maps a backend error code (and, as a fallback, its message text)
// to an ErrorKind. Unrecognized constraint-style rejections become
// KindRejected so they are never blind-retried.
func Classify(code, message string) ErrorKind {
	switch code {
	case "duplicate_key", "unique_violation":
		return KindDuplicate
	case "fk_missing", "foreign_key_violation":
		return KindFKMissing
	case "stale_version", "version_conflict":
		return KindStaleVersion
	case "not_found", "deleted":
		return KindDeleted
	case "timeout":
		return KindTimeout
	case "unavailable":
		return KindUnavailable
	}

	msg := strings.ToLower(message)
	switch {
	case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "unique constraint"):
		return KindDuplicate
	case strings.Contains(msg, "foreign key"):
		return KindFKMissing
	case strings.Contains(msg, "version"):
		return KindStaleVersion
	case strings.Contains(msg, "not found"), strings.Contains(msg, "deleted"):
		return KindDeleted
	}
	return KindRejected
}

// AsRemoteError unwraps err to a *RemoteError if it is one.
func AsRemoteError(err error) (*RemoteError, bool) {
	re, ok := err.(*RemoteError)
	return re, ok
}
