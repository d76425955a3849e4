// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"
)

// =============================================================================
// CANCEL FUNCTION MANAGEMENT (THREAD-SAFE)
// =============================================================================

// cancelManager guards the in-flight stream's cancel function, which is
// written by Send and invoked from Cancel, SwitchSession, and Close —
// potentially from different goroutines.
type cancelManager struct {
	mu     sync.Mutex
	cancel context.CancelFunc
}

// set stores the cancel function for a newly-opened stream. Any previous
// function is invoked first so an orphaned context cannot leak.
func (cm *cancelManager) set(fn context.CancelFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.cancel != nil {
		cm.cancel()
	}
	cm.cancel = fn
}

// fire invokes and clears the stored cancel function. Safe to call
// multiple times or when nothing is in flight.
func (cm *cancelManager) fire() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.cancel != nil {
		cm.cancel()
		cm.cancel = nil
	}
}
