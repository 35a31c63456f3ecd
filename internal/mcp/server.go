package mcp

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/txcache/pkg/engine"
)

// NewMCPServer exposes the engine as MCP tools.
func NewMCPServer(eng *engine.Engine, version string) *mcp.Server {
	service := NewService(eng)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "txcache",
		Version: version,
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "kv_get",
		Description: "Read a key. Returns found=false when the key does not exist.",
	}, service.Get)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "kv_set",
		Description: "Write a key and commit immediately. Returns the previous value.",
	}, service.Set)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "kv_delete",
		Description: "Delete a key and commit immediately. Returns the previous value.",
	}, service.Delete)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "kv_transaction",
		Description: "Run a list of get/set/delete operations in one transaction. Either all writes are committed or none.",
	}, service.Transaction)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "cache_snapshot",
		Description: "List the cache content from most to least recently used. Entries with present=false are known-absent keys.",
	}, service.CacheSnapshot)

	return s
}
