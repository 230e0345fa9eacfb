package server

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

type session interface {
	comparable
	Done() <-chan struct{}
	Close()
}

// Registry keeps one live session per key. A session missing from memory,
// e.g. after a restart, is resumed from the store on first use. Sessions
// run on the registry's context, not on the request that created them, and
// drop out of the registry once they stop.
type Registry[S session] struct {
	ctx    context.Context
	resume func(ctx context.Context, key string) (S, error)
	key    func(S) string

	mu       sync.RWMutex
	sessions map[string]S

	// resuming runs at most one resume per key, outside mu.
	resuming singleflight.Group
}

func NewRegistry[S session](ctx context.Context, key func(S) string, resume func(ctx context.Context, key string) (S, error)) *Registry[S] {
	return &Registry[S]{
		ctx:      ctx,
		resume:   resume,
		key:      key,
		sessions: make(map[string]S),
	}
}

func (r *Registry[S]) Get(ctx context.Context, key string) (S, error) {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := r.resuming.Do(key, func() (any, error) {
		// A flight that finished just before this one may have added it.
		r.mu.RLock()
		s, ok := r.sessions[key]
		r.mu.RUnlock()
		if ok {
			return s, nil
		}

		s, err := r.resume(r.ctx, key)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.sessions[key]; ok {
			s.Close()
			return existing, nil
		}
		r.add(key, s)
		return s, nil
	})
	if err != nil {
		var zero S
		return zero, err
	}
	return v.(S), nil
}

// Start runs fn on the registry's context and registers the session it
// returns.
func (r *Registry[S]) Start(fn func(ctx context.Context) (S, error)) (S, error) {
	s, err := fn(r.ctx)
	if err != nil {
		return s, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(r.key(s), s)
	return s, nil
}

func (r *Registry[S]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// add must be called with mu held.
func (r *Registry[S]) add(key string, s S) {
	r.sessions[key] = s
	go func() {
		<-s.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.sessions[key] == s {
			delete(r.sessions, key)
		}
	}()
}

func (r *Registry[S]) Close() error {
	r.mu.Lock()
	all := make([]S, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
	return nil
}
