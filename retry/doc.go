// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry provides a generic exponential-backoff wrapper for
// asynchronous operations, with an abortable whole-second countdown and
// classification of retryable vs. fatal errors.
package retry
