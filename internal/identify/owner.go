package identify

import (
	"context"
	"sync"
)

// ResolveFunc performs the actual identity lookup against the backend.
type ResolveFunc func(ctx context.Context) (string, error)

// CachingResolver resolves the owner id once and caches it for the life of
// the session. onResolve, when set, lets the result be persisted alongside
// the session state.
type CachingResolver struct {
	mu        sync.Mutex
	ownerID   string
	resolve   ResolveFunc
	onResolve func(ownerID string)
}

func NewCachingResolver(cached string, resolve ResolveFunc, onResolve func(string)) *CachingResolver {
	return &CachingResolver{
		ownerID:   cached,
		resolve:   resolve,
		onResolve: onResolve,
	}
}

func (r *CachingResolver) Resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ownerID != "" {
		return r.ownerID, nil
	}

	id, err := r.resolve(ctx)
	if err != nil {
		return "", err
	}

	r.ownerID = id
	if r.onResolve != nil {
		r.onResolve(id)
	}
	return id, nil
}

// StaticResolver is for deployments where the auth identity and the owner
// id are the same namespace.
type StaticResolver string

func (r StaticResolver) Resolve(context.Context) (string, error) {
	return string(r), nil
}
