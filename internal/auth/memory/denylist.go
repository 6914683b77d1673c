// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/holomush/authd/internal/auth"
)

// sweepInterval is the minimum gap between full scans for expired entries.
const sweepInterval = time.Minute

// Denylist is an in-process auth.Denylist. Expired entries are dropped on
// lookup and by a periodic sweep run from Revoke.
type Denylist struct {
	mu        sync.RWMutex
	entries   map[string]time.Time
	now       func() time.Time
	nextSweep time.Time
}

var _ auth.Denylist = (*Denylist)(nil)

// DenylistOption configures a Denylist.
type DenylistOption func(*Denylist)

// WithDenylistClock overrides the time source.
func WithDenylistClock(now func() time.Time) DenylistOption {
	return func(d *Denylist) { d.now = now }
}

// NewDenylist creates an empty Denylist.
func NewDenylist(opts ...DenylistOption) *Denylist {
	d := &Denylist{entries: make(map[string]time.Time), now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Revoke marks tokenID revoked until the given time.
func (d *Denylist) Revoke(_ context.Context, tokenID string, until time.Time) error {
	now := d.now()
	if !until.After(now) {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[tokenID] = until
	if !now.Before(d.nextSweep) {
		d.sweepLocked(now)
	}
	return nil
}

// Sweep drops every expired entry and returns how many were removed.
func (d *Denylist) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sweepLocked(d.now())
}

func (d *Denylist) sweepLocked(now time.Time) int {
	removed := 0
	for id, until := range d.entries {
		if !now.Before(until) {
			delete(d.entries, id)
			removed++
		}
	}
	d.nextSweep = now.Add(sweepInterval)
	return removed
}

// IsRevoked reports whether tokenID is revoked.
func (d *Denylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	d.mu.RLock()
	until, ok := d.entries[tokenID]
	d.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if d.now().Before(until) {
		return true, nil
	}

	d.mu.Lock()
	delete(d.entries, tokenID)
	d.mu.Unlock()
	return false, nil
}

// Len returns the number of tracked entries, expired or not.
func (d *Denylist) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}
