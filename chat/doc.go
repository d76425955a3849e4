// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the stateful coordinator for one active conversation.
//
// The Orchestrator owns the transcript, the current session identity, the
// in-flight request lifecycle, and the derived view state a UI renders:
// loading flag, thinking status, the incrementally-revealed reply text,
// per-message citations, and transient errors.
//
// Lifecycle for a send: ensure a session exists (created lazily on the
// first message), append the user message optimistically, open the
// stream, route decoder events into view state while the typewriter
// scheduler paces the reveal, then commit the accumulated reply into the
// transcript on the terminal event.
//
// Concurrency: public methods are safe for concurrent use. The stream is
// consumed on a background goroutine; every event handler re-checks a
// generation counter under the lock, so anything arriving after a
// cancel, switch, or newer send is dropped instead of applied to the
// wrong conversation.
package chat
