// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"
)

// =============================================================================
// DECODER
// =============================================================================

// dataPrefix is the SSE field prefix carrying event payloads.
var dataPrefix = []byte("data:")

// doneSentinel is the explicit end-of-stream token.
var doneSentinel = []byte("[DONE]")

// Callback is called for each decoded event, in arrival order.
type Callback func(Event)

// Decoder turns a chunked response body into typed events.
type Decoder struct {
	reader *bufio.Reader

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	accumulator strings.Builder
	totalTokens int
	terminated  bool

	stats Stats
}

// NewDecoder creates a decoder over a response body.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		reader: bufio.NewReader(r),
		stats:  Stats{StartTime: time.Now()},
	}
}

// Process reads the stream and calls the callback for each event. It
// blocks until the stream terminates or the context is cancelled.
//
// Termination rules:
//   - an explicit terminator ("data: [DONE]" or {"done": true}) ends the
//     stream with a KindDone event;
//   - reader exhaustion without a terminator still emits KindDone when
//     any content was accumulated — a missing [DONE] is not an error;
//   - reader exhaustion with nothing accumulated ends quietly.
func (d *Decoder) Process(ctx context.Context, callback Callback) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := d.reader.ReadBytes('\n')

		// A final unterminated line is still a line.
		if len(line) > 0 {
			for _, ev := range d.decodeLine(line) {
				callback(ev)
				if ev.Kind == KindDone {
					return nil
				}
			}
		}

		if err != nil {
			if err == io.EOF {
				// Implicit completion: content arrived but the
				// terminator never did.
				if !d.terminated && d.accumulator.Len() > 0 {
					d.terminated = true
					d.stats.EndTime = time.Now()
					callback(Event{Kind: KindDone})
				}
				return nil
			}
			return err
		}
	}
}

// Events returns a channel form of Process. The channel is closed when
// the stream ends; read failures are delivered as a KindError event.
func (d *Decoder) Events(ctx context.Context) <-chan Event {
	ch := make(chan Event)

	go func() {
		defer close(ch)

		err := d.Process(ctx, func(ev Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case ch <- Event{Kind: KindError, Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return ch
}

// decodeLine parses one protocol line into zero or more events. Lines
// without the data prefix, and lines whose payload is not valid JSON, are
// skipped: one bad line must not abort the stream.
func (d *Decoder) decodeLine(line []byte) []Event {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 || !bytes.HasPrefix(line, dataPrefix) {
		return nil
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return nil
	}

	if bytes.Equal(payload, doneSentinel) {
		return []Event{d.doneEvent()}
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		// Skip malformed lines
		return nil
	}

	// One envelope may carry several concerns; emit in a fixed order with
	// the terminator last.
	var events []Event

	if env.Type == "status" && env.Status != "" {
		events = append(events, Event{Kind: KindStatus, Status: StatusUpdate{
			Phase:   env.Status,
			Message: env.Message,
			Details: env.Details,
		}})
	}

	if env.Type == "warning" && env.Message != "" {
		events = append(events, Event{Kind: KindWarning, Warning: env.Message})
	}

	content := env.Content
	if content == "" {
		content = env.Chunk
	}
	if content != "" {
		if d.accumulator.Len() == 0 {
			d.stats.recordFirstToken()
		}
		d.accumulator.WriteString(content)
		events = append(events, Event{Kind: KindContent, Content: content})
	}

	if len(env.Citations) > 0 {
		events = append(events, Event{Kind: KindCitations, Citations: env.Citations})
	}

	if env.CompressionNeeded {
		events = append(events, Event{Kind: KindCompression})
	}

	if env.TotalTokens != nil {
		d.totalTokens = *env.TotalTokens
		events = append(events, Event{Kind: KindTokens, TotalTokens: *env.TotalTokens})
	}

	if env.Done {
		events = append(events, d.doneEvent())
	}

	return events
}

func (d *Decoder) doneEvent() Event {
	d.terminated = true
	d.stats.EndTime = time.Now()
	return Event{Kind: KindDone}
}

// Accumulated returns all content received so far.
func (d *Decoder) Accumulated() string {
	return d.accumulator.String()
}

// TotalTokens returns the last token-count report, zero if none arrived.
func (d *Decoder) TotalTokens() int {
	return d.totalTokens
}

// Stats returns timing statistics collected during decoding.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// =============================================================================
// STREAM STATISTICS
// =============================================================================

// Stats holds timing collected while decoding a stream.
type Stats struct {
	StartTime    time.Time
	FirstTokenAt time.Time
	EndTime      time.Time
}

func (s *Stats) recordFirstToken() {
	if s.FirstTokenAt.IsZero() {
		s.FirstTokenAt = time.Now()
	}
}

// TTFT returns the time to first token, zero if no content arrived.
func (s Stats) TTFT() time.Duration {
	if s.FirstTokenAt.IsZero() {
		return 0
	}
	return s.FirstTokenAt.Sub(s.StartTime)
}

// Elapsed returns total stream duration, zero if the stream never ended.
func (s Stats) Elapsed() time.Duration {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}
