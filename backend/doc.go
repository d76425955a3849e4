// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend provides the HTTP client for the remote chat service.
//
// It covers two surfaces of the service:
//
//   - Session bookkeeping: create, fetch, list, delete, and title
//     generation. Every call carries a bounded timeout (10s default) and
//     never panics past the package boundary; failures come back as typed
//     errors the orchestrator can classify.
//
//   - The chat stream endpoint: OpenStream posts a message and hands the
//     raw chunked response body to the caller. The body has no overall
//     timeout; its lifetime is bound to the request context.
//
// The Client is safe for concurrent use.
package backend
