package server

import (
	"github.com/sanonone/txcache/pkg/cache"
)

// SessionResponse describes a session after a lifecycle call.
type SessionResponse struct {
	ID      string            `json:"id"`
	Active  bool              `json:"active"`
	Aborted bool              `json:"aborted,omitempty"`
	Writes  map[string]string `json:"writes,omitempty"`
	Deletes []string          `json:"deletes,omitempty"`
}

// KVSetRequest is the body of PUT /sessions/{id}/kv/{key}.
type KVSetRequest struct {
	Value *string `json:"value"`
}

// KVResponse is returned by the key endpoints. For PUT and DELETE, Value and
// Found describe the key before the call.
type KVResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// CacheResponse is the body of GET /cache. Entries are ordered from most to
// least recently used.
type CacheResponse struct {
	Enabled bool          `json:"enabled"`
	Entries []cache.Entry `json:"entries"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string          `json:"error"`
	Partial *PartialPayload `json:"partial,omitempty"`
}

// PartialPayload reports a partially applied commit.
type PartialPayload struct {
	Applied   []string `json:"applied"`
	Failed    string   `json:"failed"`
	Unapplied []string `json:"unapplied"`
}
