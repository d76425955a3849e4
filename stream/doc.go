// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the chat service's chunked streaming responses.
//
// The wire format is newline-delimited "data: <json>" lines terminated by
// "data: [DONE]" or end of body. A chunk may split a line anywhere,
// including inside a multi-byte character; the decoder buffers bytes (not
// strings) across reads, so decoding is independent of how the transport
// chunked the payload.
//
// The protocol is best-effort: a malformed line is skipped, never fatal.
package stream
