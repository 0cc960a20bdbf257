package functions

import (
	"context"

	"todos/storage"
)

// CollectionProvider hands out the todo collection handle.
type CollectionProvider interface {
	GetCollection(ctx context.Context) (storage.Collection, error)
}

// ProviderFunc adapts a function to CollectionProvider.
type ProviderFunc func(ctx context.Context) (storage.Collection, error)

func (f ProviderFunc) GetCollection(ctx context.Context) (storage.Collection, error) {
	return f(ctx)
}
