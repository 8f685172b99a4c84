package command

import (
	"context"
	"sync"

	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
)

// LocalLocker serializes recalculations within one process.
// Lock does not wait: a held discipline returns shared.ErrRecalculationLocked.
type LocalLocker struct {
	mu   sync.Mutex
	held map[ranking.Discipline]bool
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[ranking.Discipline]bool)}
}

// Lock acquires the discipline lock.
func (l *LocalLocker) Lock(ctx context.Context, d ranking.Discipline) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[d] {
		return nil, shared.ErrRecalculationLocked
	}
	l.held[d] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, d)
			l.mu.Unlock()
		})
	}, nil
}
