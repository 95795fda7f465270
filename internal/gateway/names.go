package gateway

import "sync"

// nameBook remembers the last display name each channel reported for a
// user id. Leaderboards fall back to the raw id for users never seen.
type nameBook struct {
	mu    sync.RWMutex
	names map[string]string
}

func newNameBook() *nameBook {
	return &nameBook{names: make(map[string]string)}
}

func (b *nameBook) Observe(userID, name string) {
	if userID == "" || name == "" {
		return
	}
	b.mu.Lock()
	b.names[userID] = name
	b.mu.Unlock()
}

func (b *nameBook) Name(userID string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.names[userID]
}
