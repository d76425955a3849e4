// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "github.com/jeranaias/chatwire/backend"

// =============================================================================
// EVENT TYPES
// =============================================================================

// Kind discriminates decoded stream events.
type Kind int

const (
	// KindStatus is a backend phase update (thinking status).
	KindStatus Kind = iota + 1

	// KindContent is a content delta to append to the reply buffer.
	KindContent

	// KindCitations carries source references for the upcoming message.
	KindCitations

	// KindTokens is a running token-count update.
	KindTokens

	// KindCompression advises that the conversation context is being
	// compressed server-side. Advisory only.
	KindCompression

	// KindWarning is a non-blocking advisory (e.g. content warning or
	// restriction notice). It never stops the stream.
	KindWarning

	// KindDone signals end of stream, explicit or implied by exhaustion.
	KindDone

	// KindError is only delivered on the channel form of the decoder,
	// carrying a read failure.
	KindError
)

// Phase tags the backend's current processing phase.
type Phase string

const (
	PhaseRetrievingContext Phase = "retrieving-context"
	PhaseGenerating        Phase = "generating"
	PhaseCitingSources     Phase = "citing-sources"
	PhaseError             Phase = "error"
	PhaseComplete          Phase = "complete"
)

// StatusUpdate is a transient, human-readable description of what the
// backend is doing, plus optional structured details (phase counters,
// tool names, security scores).
type StatusUpdate struct {
	Phase   Phase          `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Event is a single decoded protocol event.
type Event struct {
	Kind Kind

	// Populated per Kind; unused fields are zero.
	Status      StatusUpdate
	Content     string
	Citations   []backend.Citation
	TotalTokens int
	Warning     string
	Err         error
}

// envelope is the superset of every JSON payload shape the service emits.
// The set is non-exhaustive on the wire; unknown fields are ignored.
type envelope struct {
	Type              string             `json:"type"`
	Status            Phase              `json:"status"`
	Message           string             `json:"message"`
	Details           map[string]any     `json:"details"`
	Content           string             `json:"content"`
	Chunk             string             `json:"chunk"`
	Citations         []backend.Citation `json:"citations"`
	CompressionNeeded bool               `json:"compression_needed"`
	TotalTokens       *int               `json:"total_tokens"`
	Done              bool               `json:"done"`
}
