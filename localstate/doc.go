// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package localstate persists the small amount of client-local state the
// chat UI needs across restarts: the last-active session id (to resume
// the most recent conversation), the anonymous identity used before a
// real user id arrives, and a cached copy of the session list so the
// sidebar can paint before the first network round-trip.
//
// The transcript itself is never stored here; it lives on the remote
// service.
package localstate
