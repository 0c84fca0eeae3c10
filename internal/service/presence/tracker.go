package presence

import (
	"sort"
	"sync"
)

// Tracker holds the set of users currently marked as typing.
type Tracker struct {
	mu     sync.RWMutex
	typing map[string]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{typing: make(map[string]struct{})}
}

// MarkTyping adds user to the set. Repeated calls have no further effect.
func (t *Tracker) MarkTyping(user string) {
	t.mu.Lock()
	t.typing[user] = struct{}{}
	t.mu.Unlock()
}

// ClearTyping removes user from the set if present.
func (t *Tracker) ClearTyping(user string) {
	t.mu.Lock()
	delete(t.typing, user)
	t.mu.Unlock()
}

func (t *Tracker) IsTyping(user string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.typing[user]
	return ok
}

// Users returns the typing users in lexical order.
func (t *Tracker) Users() []string {
	t.mu.RLock()
	users := make([]string, 0, len(t.typing))
	for user := range t.typing {
		users = append(users, user)
	}
	t.mu.RUnlock()

	sort.Strings(users)
	return users
}
