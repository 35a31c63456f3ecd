package engine

import "context"

// Update runs fn inside a transaction on a fresh session. The transaction is
// committed if fn returns nil and aborted otherwise. A commit that fails and
// leaves the transaction open is aborted before Update returns.
func (e *Engine) Update(ctx context.Context, fn func(s *Session) error) error {
	s := e.NewSession()
	if err := s.Begin(); err != nil {
		return err
	}

	if err := fn(s); err != nil {
		_ = s.Abort()
		return err
	}

	if err := s.Commit(ctx); err != nil {
		if s.Active() {
			_ = s.Abort()
		}
		return err
	}
	return nil
}
