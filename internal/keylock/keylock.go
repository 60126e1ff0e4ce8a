// Package keylock provides a table of per-key mutual-exclusion latches whose
// acquisition honours context cancellation.
package keylock

import (
	"context"

	"github.com/sasha-s/go-deadlock"
)

// Table maps keys to latches. Entries are created on first use and kept for
// the life of the table, so memory grows with the number of distinct keys.
type Table struct {
	mu      deadlock.Mutex
	latches map[string]chan struct{}
}

// New returns an empty table
func New() *Table {
	return &Table{latches: make(map[string]chan struct{})}
}

func (t *Table) latch(key string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.latches[key]
	if !ok {
		l = make(chan struct{}, 1)
		t.latches[key] = l
	}
	return l
}

// Lock blocks until the latch for key is held or ctx is done. The returned
// func releases the latch and must be called exactly once.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	l := t.latch(key)
	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock takes the latch only if it is free
func (t *Table) TryLock(key string) (func(), bool) {
	l := t.latch(key)
	select {
	case l <- struct{}{}:
		return func() { <-l }, true
	default:
		return nil, false
	}
}

// Len reports how many keys have been seen
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.latches)
}

// MapKey is the latch key for a (guild, map) pair
func MapKey(guildID, mapKey string) string {
	return "map:" + guildID + ":" + mapKey
}

// GuildKey is the latch key for guild-wide faction create/delete
func GuildKey(guildID string) string {
	return "guild:" + guildID
}
