package mcp

import "github.com/sanonone/txcache/pkg/cache"

// --- Tool Arguments ---

type GetArgs struct {
	Key string `json:"key" jsonschema:"The key to read"`
}

type SetArgs struct {
	Key   string `json:"key" jsonschema:"The key to write"`
	Value string `json:"value" jsonschema:"The value to store. May be empty"`
}

type DeleteArgs struct {
	Key string `json:"key" jsonschema:"The key to delete"`
}

// Op is one step of a kv_transaction call.
type Op struct {
	Op    string `json:"op" jsonschema:"The operation: get or set or delete"`
	Key   string `json:"key"`
	Value string `json:"value,omitempty" jsonschema:"Value for set operations"`
}

type TransactionArgs struct {
	Ops []Op `json:"ops" jsonschema:"Operations applied in order inside a single transaction"`
}

type CacheSnapshotArgs struct{}

// --- Tool Results ---

type GetResult struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

// MutationResult reports the value a key had before a set or delete.
type MutationResult struct {
	Key      string `json:"key"`
	Previous string `json:"previous"`
	Existed  bool   `json:"existed"`
}

type OpResult struct {
	Op    string `json:"op"`
	Key   string `json:"key"`
	Value string `json:"value"` // read value for get, previous value otherwise
	Found bool   `json:"found"`
}

type TransactionResult struct {
	Committed bool       `json:"committed"`
	Results   []OpResult `json:"results"`
}

type CacheSnapshotResult struct {
	Enabled bool          `json:"enabled"`
	Entries []cache.Entry `json:"entries"`
}
