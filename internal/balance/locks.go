package balance

import "sync"

// AccountLocks hands out one mutex per account id. Entries are dropped once
// no caller holds or waits on them.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

// NewAccountLocks creates an empty lock set.
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*accountLock)}
}

// Lock blocks until the account's lock is held and returns its release func.
func (l *AccountLocks) Lock(accountID string) (unlock func()) {
	l.mu.Lock()
	al, ok := l.locks[accountID]
	if !ok {
		al = &accountLock{}
		l.locks[accountID] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			al.mu.Unlock()
			l.mu.Lock()
			al.refs--
			if al.refs == 0 {
				delete(l.locks, accountID)
			}
			l.mu.Unlock()
		})
	}
}

// Len reports how many accounts currently have a lock entry.
func (l *AccountLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
