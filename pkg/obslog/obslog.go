// Package obslog wraps structured logging with a contract that cannot leak
// secret material: §9's design note forbids cross-cutting logging of nonce
// values, public keys, or HMAC signatures. Field setters on Record refuse
// those keys outright rather than trusting every call site to remember.
package obslog

import (
	"context"
	"log/slog"
)

// forbiddenKeys are the field names §9 names explicitly: secrets are
// referenced by version only, never by value.
var forbiddenKeys = map[string]bool{
	"nonce":     true,
	"publicKey": true,
	"signature": true,
}

// Record accumulates structured fields for one log line, rejecting any
// field whose key is in forbiddenKeys.
type Record struct {
	attrs   []any
	blocked []string
}

// NewRecord starts an empty Record.
func NewRecord() *Record {
	return &Record{}
}

// Field adds key/value to the record unless key is forbidden, in which
// case the key is recorded in Blocked() for the caller to notice in tests
// rather than failing silently.
func (r *Record) Field(key string, value any) *Record {
	if forbiddenKeys[key] {
		r.blocked = append(r.blocked, key)
		return r
	}
	r.attrs = append(r.attrs, slog.Any(key, value))
	return r
}

// Blocked returns the keys this record refused to log, if any.
func (r *Record) Blocked() []string {
	return r.blocked
}

// Log emits the record at level through logger.
func (r *Record) Log(logger *slog.Logger, level slog.Level, msg string) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(context.Background(), level, msg, r.attrs...)
}
