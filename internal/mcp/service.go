package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sanonone/txcache/pkg/cache"
	"github.com/sanonone/txcache/pkg/engine"
)

// Service implements the MCP tools. Every call runs in its own transaction on
// a fresh session, so tool calls never see each other's uncommitted state.
type Service struct {
	engine *engine.Engine
}

func NewService(eng *engine.Engine) *Service {
	return &Service{engine: eng}
}

// --- Tool Handlers ---

func (s *Service) Get(ctx context.Context, req *mcp.CallToolRequest, args GetArgs) (*mcp.CallToolResult, GetResult, error) {
	res := GetResult{Key: args.Key}
	err := s.engine.Update(ctx, func(sess *engine.Session) error {
		var err error
		res.Value, res.Found, err = sess.Get(ctx, args.Key)
		return err
	})
	if err != nil {
		return nil, GetResult{}, err
	}
	return nil, res, nil
}

func (s *Service) Set(ctx context.Context, req *mcp.CallToolRequest, args SetArgs) (*mcp.CallToolResult, MutationResult, error) {
	res := MutationResult{Key: args.Key}
	err := s.engine.Update(ctx, func(sess *engine.Session) error {
		var err error
		res.Previous, res.Existed, err = sess.Set(ctx, args.Key, args.Value)
		return err
	})
	if err != nil {
		return nil, MutationResult{}, err
	}
	return nil, res, nil
}

func (s *Service) Delete(ctx context.Context, req *mcp.CallToolRequest, args DeleteArgs) (*mcp.CallToolResult, MutationResult, error) {
	res := MutationResult{Key: args.Key}
	err := s.engine.Update(ctx, func(sess *engine.Session) error {
		var err error
		res.Previous, res.Existed, err = sess.Delete(ctx, args.Key)
		return err
	})
	if err != nil {
		return nil, MutationResult{}, err
	}
	return nil, res, nil
}

// Transaction applies a list of operations atomically from the caller's
// point of view: if any step fails, nothing is committed.
func (s *Service) Transaction(ctx context.Context, req *mcp.CallToolRequest, args TransactionArgs) (*mcp.CallToolResult, TransactionResult, error) {
	if len(args.Ops) == 0 {
		return nil, TransactionResult{}, fmt.Errorf("ops must not be empty")
	}

	results := make([]OpResult, 0, len(args.Ops))
	err := s.engine.Update(ctx, func(sess *engine.Session) error {
		for i, op := range args.Ops {
			r := OpResult{Op: op.Op, Key: op.Key}
			var err error
			switch op.Op {
			case "get":
				r.Value, r.Found, err = sess.Get(ctx, op.Key)
			case "set":
				r.Value, r.Found, err = sess.Set(ctx, op.Key, op.Value)
			case "delete":
				r.Value, r.Found, err = sess.Delete(ctx, op.Key)
			default:
				err = fmt.Errorf("unknown op %q (want get, set or delete)", op.Op)
			}
			if err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			results = append(results, r)
		}
		return nil
	})
	if err != nil {
		return nil, TransactionResult{}, err
	}
	return nil, TransactionResult{Committed: true, Results: results}, nil
}

func (s *Service) CacheSnapshot(ctx context.Context, req *mcp.CallToolRequest, args CacheSnapshotArgs) (*mcp.CallToolResult, CacheSnapshotResult, error) {
	entries, enabled := s.engine.CacheSnapshot()
	if entries == nil {
		entries = []cache.Entry{}
	}
	return nil, CacheSnapshotResult{Enabled: enabled, Entries: entries}, nil
}
