// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/jeranaias/chatwire/backend"
	"github.com/jeranaias/chatwire/retry"
	"github.com/jeranaias/chatwire/util"
)

// =============================================================================
// SESSION TITLE GENERATION
// =============================================================================

// errTitlePending signals that the service accepted the request but the
// title isn't ready yet. Retryable by definition.
var errTitlePending = errors.New("title not ready")

// titlePreviewRunes bounds the local fallback title.
const titlePreviewRunes = 40

// generateTitle polls the service for a generated title after the first
// exchange in a fresh session. The service computes titles
// asynchronously, so a fixed-interval poll with a bounded attempt count
// stands in for a push channel. On exhaustion a local preview of the
// user's message is used so the sidebar never shows the placeholder
// forever.
func (o *Orchestrator) generateTitle(sessionID, userMessage, assistantMessage string) {
	defer o.wg.Done()

	exec := retry.NewExecutor(retry.Options{
		MaxAttempts:  o.opts.TitleAttempts,
		InitialDelay: o.opts.TitleInterval,
		MaxDelay:     o.opts.TitleInterval,
		Multiplier:   1,
		RetryIf: func(err error) bool {
			return errors.Is(err, errTitlePending) || retry.Retryable(err)
		},
	})

	title, err := retry.Do(o.bgCtx, exec, func(ctx context.Context) (string, error) {
		t, err := o.backend.GenerateTitle(ctx, sessionID, userMessage, assistantMessage)
		if err != nil {
			return "", err
		}
		if t == "" || t == backend.PlaceholderTitle {
			return "", errTitlePending
		}
		return t, nil
	})
	if err != nil {
		o.logger.Debug("title generation exhausted, using local preview",
			zap.String("session", sessionID), zap.Error(err))
		title = localTitle(userMessage)
	}

	o.applyTitle(sessionID, title)
	o.refreshSessionsAsync()
}

// applyTitle updates the cached session list in place so the sidebar
// reflects the title without waiting for the next refresh.
func (o *Orchestrator) applyTitle(sessionID, title string) {
	if title == "" {
		return
	}
	o.mu.Lock()
	for i := range o.sessions {
		if o.sessions[i].ID == sessionID {
			o.sessions[i].Title = title
			break
		}
	}
	o.mu.Unlock()
}

// localTitle derives a fallback title from the first user message.
func localTitle(userMessage string) string {
	t := strings.TrimSpace(userMessage)
	if t == "" {
		return backend.PlaceholderTitle
	}
	return util.TruncateRunes(t, titlePreviewRunes)
}
