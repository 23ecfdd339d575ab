package httpapi

import (
	"context"
	"sync"
)

// Inbox queues owner notifications until the player's client polls for them,
// the REST equivalent of messaging a player next time they are online. It
// satisfies the workflow's Notifier interface.
type Inbox struct {
	mu       sync.Mutex
	messages map[string][]string
	max      int
}

// NewInbox builds an inbox keeping at most max messages per user.
func NewInbox(max int) *Inbox {
	if max <= 0 {
		max = 50
	}
	return &Inbox{messages: make(map[string][]string), max: max}
}

// Notify queues a message for a user. Oldest messages drop when full.
func (i *Inbox) Notify(ctx context.Context, userID, message string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	queue := append(i.messages[userID], message)
	if len(queue) > i.max {
		queue = queue[len(queue)-i.max:]
	}
	i.messages[userID] = queue
	return nil
}

// drain returns and clears a user's queued messages.
func (i *Inbox) drain(userID string) []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	queue := i.messages[userID]
	delete(i.messages, userID)
	if queue == nil {
		queue = []string{}
	}
	return queue
}
