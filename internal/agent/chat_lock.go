package agent

import (
	"context"
	"sync"
)

// chatLocks serializes turns per chat. Entries are dropped when no goroutine
// holds or waits for them.
type chatLocks struct {
	mu    sync.Mutex
	locks map[string]*chatLock
}

type chatLock struct {
	sem  chan struct{}
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{locks: make(map[string]*chatLock)}
}

// lock blocks until key is free or ctx is done. The returned func releases it.
func (c *chatLocks) lock(ctx context.Context, key string) (func(), error) {
	c.mu.Lock()
	l, ok := c.locks[key]
	if !ok {
		l = &chatLock{sem: make(chan struct{}, 1)}
		c.locks[key] = l
	}
	l.refs++
	c.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			c.release(key, l)
		}, nil
	case <-ctx.Done():
		c.release(key, l)
		return nil, ctx.Err()
	}
}

func (c *chatLocks) release(key string, l *chatLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, key)
	}
}

func (c *chatLocks) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

func chatKey(integration, chatID string) string {
	return integration + ":" + chatID
}
