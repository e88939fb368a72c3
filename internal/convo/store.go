package convo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Load when no context exists for the
// (user, project) pair.
var ErrNotFound = errors.New("conversation context not found")

// Store persists conversation contexts keyed by (user, project). The
// core treats this as a simple keyed store, agnostic of the engine.
type Store interface {
	Load(ctx context.Context, user, project string) (*ConversationContext, error)
	Save(ctx context.Context, cc *ConversationContext) error
	Delete(ctx context.Context, user, project string) error
	List(ctx context.Context) ([]*ConversationContext, error)
}
