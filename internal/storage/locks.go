package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/memohai/mediastore/internal/identity"
)

// keyedLocks is a set of per-key mutexes that can be abandoned on context cancellation.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*keyedLock)}
}

func (k *keyedLocks) lock(ctx context.Context, key string) error {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		k.mu.Lock()
		k.drop(key, l)
		k.mu.Unlock()
		return ctx.Err()
	}
}

func (k *keyedLocks) unlock(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		return
	}
	<-l.ch
	k.drop(key, l)
}

// drop must be called with k.mu held.
func (k *keyedLocks) drop(key string, l *keyedLock) {
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Lock serializes naming and placement for the given identities' directories.
// Keys are acquired in sorted order so concurrent multi-identity callers
// cannot deadlock. The returned release func is safe to call more than once.
func (m *Manager) Lock(ctx context.Context, ids ...identity.Identity) (func(), error) {
	keys := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, err := m.IdentityPath(id); err != nil {
			return nil, err
		}
		if _, ok := seen[string(id)]; ok {
			continue
		}
		seen[string(id)] = struct{}{}
		keys = append(keys, string(id))
	}
	sort.Strings(keys)

	acquired := make([]string, 0, len(keys))
	releaseAll := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			m.locks.unlock(acquired[i])
		}
	}
	for _, key := range keys {
		if err := m.locks.lock(ctx, key); err != nil {
			releaseAll()
			return nil, err
		}
		acquired = append(acquired, key)
	}
	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

// Acquire locks id and resolves its directory, creating it if needed. When id
// is redirected the lock moves to the redirect target before returning.
func (m *Manager) Acquire(ctx context.Context, id identity.Identity) (Dir, func(), error) {
	release, err := m.Lock(ctx, id)
	if err != nil {
		return Dir{}, nil, err
	}
	dir, err := m.Resolve(ctx, id)
	if err != nil {
		release()
		return Dir{}, nil, err
	}
	if dir.Owner == id {
		return dir, release, nil
	}
	// Redirects are terminal, so dropping id's lock cannot race a migration of id.
	release()
	release, err = m.Lock(ctx, dir.Owner)
	if err != nil {
		return Dir{}, nil, err
	}
	target, err := m.Resolve(ctx, dir.Owner)
	if err != nil {
		release()
		return Dir{}, nil, err
	}
	if target.Owner != dir.Owner {
		release()
		return Dir{}, nil, ErrStorageUnavailable
	}
	return target, release, nil
}
