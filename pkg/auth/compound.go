package auth

import (
	"context"
	"net/http"
)

type CompoundAuthEngine struct {
	engines []AuthEngine
}

// NewCompoundAuthEngine creates a new CompoundAuthEngine with the given AuthEngines.
func NewCompoundAuthEngine(engines ...AuthEngine) *CompoundAuthEngine {
	return &CompoundAuthEngine{
		engines: engines,
	}
}

// AuthenticateRequest returns the user from the first engine that accepts
// the request. If none does, the first rejection error is returned.
func (e *CompoundAuthEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	var firstErr error
	for _, engine := range e.engines {
		user, err := engine.AuthenticateRequest(ctx, r)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if user != nil {
			return user, nil
		}
	}

	return nil, firstErr
}
