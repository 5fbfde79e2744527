package leave

import (
	"context"
	"fmt"
	"sync"
)

// =============================================================================
// LOCKER - Per-key mutual exclusion
// =============================================================================

// Locker serializes work on a key. Unlock must be called exactly once; calling
// it again is a no-op.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Lock keys. Workflow operations hold the employee key, ledger mutations the
// balance key, always acquired in that order.
func employeeLockKey(id EmployeeID) string { return "employee:" + string(id) }
func balanceLockKey(k BalanceKey) string  { return fmt.Sprintf("balance:%s:%d", k.EmployeeID, k.Year) }

// KeyedMutex is the in-process Locker. Waiters honor context cancellation and
// idle keys are removed so the map does not grow with the employee count.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			k.release(key, l)
		})
	}, nil
}

func (k *KeyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}
