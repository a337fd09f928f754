package zarr

import (
	"context"
	"sync"
)

// pathLocks serializes writers per store path within the process.
type pathLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var locks = &pathLocks{slots: make(map[string]chan struct{})}

func (l *pathLocks) slot(path string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[path]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[path] = ch
	}
	return ch
}

// acquire blocks until path is free or ctx is done. The returned func
// releases the lock.
func (l *pathLocks) acquire(ctx context.Context, path string) (func(), error) {
	ch := l.slot(path)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
