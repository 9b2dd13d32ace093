package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no state exists for the id.
var ErrNotFound = errors.New("session not found")

// Store is the durability contract for session state. Save must be atomic
// from the caller's perspective: a subsequent Load never observes a partial
// write.
type Store interface {
	Load(ctx context.Context, id string) (*State, error)
	Save(ctx context.Context, state *State) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
