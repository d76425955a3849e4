// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/chatwire/backend"
	"github.com/jeranaias/chatwire/stream"
)

// =============================================================================
// VIEW STATE ACCESSORS
// =============================================================================
//
// Everything a renderer needs, as cheap snapshot reads. Slices and maps
// are copied so the caller can hold them across frames.

// History returns a snapshot of the committed transcript. The
// in-progress assistant reply is not part of it; read StreamingText for
// that.
func (o *Orchestrator) History() []backend.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]backend.Message(nil), o.history...)
}

// Sessions returns a snapshot of the known session list, most recent
// first.
func (o *Orchestrator) Sessions() []backend.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]backend.Session(nil), o.sessions...)
}

// SessionID returns the active session id, or "" in the
// deferred-creation state.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// UserID returns the identity requests are issued under.
func (o *Orchestrator) UserID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userID
}

// IsLoading reports whether a send is in flight.
func (o *Orchestrator) IsLoading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading
}

// StreamingText returns the revealed portion of the in-progress reply.
// After the terminal event the reply is already committed to History
// while the reveal drains; renderers show StreamingText in place of the
// final assistant message until IsTyping turns false.
func (o *Orchestrator) StreamingText() string {
	return o.typer.Displayed()
}

// IsTyping reports whether the reveal animation is still running.
func (o *Orchestrator) IsTyping() bool {
	return o.typer.IsTyping()
}

// OnUpdate registers a callback invoked whenever the revealed text
// changes. Invocation frequency is bounded by the typewriter's FPS cap.
func (o *Orchestrator) OnUpdate(fn func(displayed string)) {
	o.typer.OnUpdate(fn)
}

// SkipToEnd reveals the whole in-progress reply immediately.
func (o *Orchestrator) SkipToEnd() {
	o.typer.SkipToEnd()
}

// Thinking returns the current pre-content status, or nil once content
// has started (or nothing is in flight).
func (o *Orchestrator) Thinking() *stream.StatusUpdate {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.thinking == nil {
		return nil
	}
	st := *o.thinking
	return &st
}

// Citations returns the citations attached to the history entry at
// index, or nil when it has none.
func (o *Orchestrator) Citations(index int) []backend.Citation {
	o.mu.Lock()
	defer o.mu.Unlock()
	cits := o.citations[index]
	if cits == nil {
		return nil
	}
	return append([]backend.Citation(nil), cits...)
}

// ErrorMessage returns the transient error banner text, or "".
func (o *Orchestrator) ErrorMessage() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.errMsg
}

// Warning returns the latest stream advisory, or "".
func (o *Orchestrator) Warning() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.warning
}

// TotalTokens returns the context size reported by the latest stream.
func (o *Orchestrator) TotalTokens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.totalTokens
}

// CompressionNeeded reports whether the compression advisory is active.
func (o *Orchestrator) CompressionNeeded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.compression
}

// IsRestricted reports whether sends are currently restricted.
func (o *Orchestrator) IsRestricted() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.banned
}
