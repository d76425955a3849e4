// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/chatwire/backend"
	"github.com/jeranaias/chatwire/localstate"
	"github.com/jeranaias/chatwire/stream"
	"github.com/jeranaias/chatwire/typewriter"
)

// =============================================================================
// BACKEND CONTRACT
// =============================================================================

// Backend is the slice of the chat service the orchestrator consumes.
// *backend.Client satisfies it; tests substitute fakes.
type Backend interface {
	CreateSession(ctx context.Context, userID string) (*backend.Session, error)
	GetSession(ctx context.Context, id string) (*backend.SessionDetail, error)
	ListSessions(ctx context.Context, userID string) []backend.Session
	DeleteSession(ctx context.Context, id string) error
	GenerateTitle(ctx context.Context, id, userMessage, assistantMessage string) (string, error)
	OpenStream(ctx context.Context, req backend.StreamRequest) (io.ReadCloser, error)
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrRestricted is returned when sending is restricted for this
	// user. Rejected locally, without a network call.
	ErrRestricted = errors.New("sending is restricted")

	// ErrBusy is returned when a send is already in flight.
	ErrBusy = errors.New("a message is already in flight")
)

// fallbackReply keeps the transcript coherent when a stream fails: the
// user's message stays, and the conversation shows an answer.
const fallbackReply = "I'm sorry — I ran into a problem while answering. Please try again."

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures an Orchestrator.
type Options struct {
	// Backend is the chat service client. Required.
	Backend Backend

	// State persists client-local state across restarts. Optional; when
	// nil, nothing is persisted and the anonymous id is per-process.
	State *localstate.Store

	// Logger receives diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Typewriter tunes the reveal animation.
	Typewriter typewriter.Config

	// UserID is the externally-supplied identity. When empty an
	// anonymous id is generated (and persisted via State, if set).
	UserID string

	// UserName travels with stream requests when set.
	UserName string

	// SelveScores travels with stream requests when set.
	SelveScores map[string]float64

	// TitleAttempts bounds title-generation polling (default: 5).
	TitleAttempts int

	// TitleInterval is the fixed polling interval (default: 2s).
	TitleInterval time.Duration

	// ErrorClearAfter auto-expires transient errors (default: 5s).
	ErrorClearAfter time.Duration

	// CompressionClearAfter auto-expires the compression advisory
	// (default: 8s).
	CompressionClearAfter time.Duration

	// BookkeepingTimeout bounds background list refreshes (default: 10s).
	BookkeepingTimeout time.Duration
}

func (o *Options) fillDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.TitleAttempts <= 0 {
		o.TitleAttempts = 5
	}
	if o.TitleInterval <= 0 {
		o.TitleInterval = 2 * time.Second
	}
	if o.ErrorClearAfter <= 0 {
		o.ErrorClearAfter = 5 * time.Second
	}
	if o.CompressionClearAfter <= 0 {
		o.CompressionClearAfter = 8 * time.Second
	}
	if o.BookkeepingTimeout <= 0 {
		o.BookkeepingTimeout = 10 * time.Second
	}
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator coordinates one active conversation against the chat
// service. Create with New, release with Close.
type Orchestrator struct {
	backend   Backend
	state     *localstate.Store
	logger    *zap.Logger
	typer     *typewriter.Scheduler
	cancelMgr *cancelManager
	opts      Options

	// bgCtx bounds background bookkeeping (title polling, list
	// refreshes); Close cancels it and waits for wg.
	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup

	mu sync.Mutex

	// gen is bumped on every send, switch, and clear. Stream events
	// carry the generation they belong to and are dropped on mismatch,
	// which is what keeps a late-arriving chunk from a stale request
	// out of the current conversation.
	gen int

	userID   string
	userName string
	banned   bool

	sessionID    string
	freshSession bool // created this run, title generation still owed
	history      []backend.Message
	sessions     []backend.Session

	// buffer is the accumulating, not-yet-committed assistant reply.
	// Owned exclusively by the event handlers; the typewriter scheduler
	// only ever reads (a copy of) it.
	buffer      strings.Builder
	thinking    *stream.StatusUpdate
	citations   map[int][]backend.Citation
	totalTokens int
	compression bool
	warning     string
	loading     bool
	errMsg      string

	errTimer         *time.Timer
	compressionTimer *time.Timer
}

// New creates an orchestrator. The typewriter loop starts immediately
// (idle); no network traffic happens until Init or Send.
func New(opts Options) (*Orchestrator, error) {
	if opts.Backend == nil {
		return nil, errors.New("chat: Options.Backend is required")
	}
	opts.fillDefaults()

	userID := opts.UserID
	if userID == "" && opts.State != nil {
		if id, err := opts.State.AnonymousID(); err == nil {
			userID = id
		} else {
			opts.Logger.Warn("anonymous id not persisted", zap.Error(err))
		}
	}
	if userID == "" {
		userID = "anon_" + uuid.NewString()
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())

	return &Orchestrator{
		backend:   opts.Backend,
		state:     opts.State,
		logger:    opts.Logger,
		typer:     typewriter.New(opts.Typewriter),
		cancelMgr: &cancelManager{},
		opts:      opts,
		bgCtx:     bgCtx,
		bgCancel:  bgCancel,
		userID:    userID,
		userName:  opts.UserName,
		citations: make(map[int][]backend.Citation),
	}, nil
}

// Close aborts any in-flight stream, stops background bookkeeping, and
// shuts down the typewriter loop.
func (o *Orchestrator) Close() {
	o.cancelMgr.fire()
	o.bgCancel()
	o.wg.Wait()

	o.mu.Lock()
	if o.errTimer != nil {
		o.errTimer.Stop()
	}
	if o.compressionTimer != nil {
		o.compressionTimer.Stop()
	}
	o.mu.Unlock()

	o.typer.Close()
}

// =============================================================================
// INITIALIZATION
// =============================================================================

// Init attempts to resume the previously-used session. When nothing can
// be resumed the orchestrator stays in the deferred-creation state: no
// session is created until the first message is sent, so opening the app
// and leaving never strands an empty orphan session.
func (o *Orchestrator) Init(ctx context.Context) {
	// Paint from the local cache first, then refresh from the service.
	if o.state != nil {
		cached := o.state.CachedSessions()
		o.mu.Lock()
		o.sessions = cached
		o.mu.Unlock()
	}

	if o.state != nil {
		if id := o.state.LastSessionID(); id != "" {
			detail, err := o.backend.GetSession(ctx, id)
			switch {
			case err == nil:
				o.adoptSession(detail)
			case backend.IsNotFound(err):
				o.logger.Info("persisted session gone, starting fresh", zap.String("session", id))
				o.persistLastSession("")
			default:
				o.logger.Warn("session resume failed", zap.String("session", id), zap.Error(err))
			}
		}
	}

	o.refreshSessions(ctx)
}

func (o *Orchestrator) adoptSession(detail *backend.SessionDetail) {
	o.mu.Lock()
	o.sessionID = detail.ID
	o.freshSession = false
	o.history = append([]backend.Message(nil), detail.Messages...)
	o.citations = make(map[int][]backend.Citation)
	o.mu.Unlock()
}

// SetIdentity swaps the anonymous id for a real one once the external
// auth collaborator delivers it. In-progress state is untouched; an
// in-flight stream keeps the identity it was opened with.
func (o *Orchestrator) SetIdentity(userID, userName string) {
	if userID == "" {
		return
	}
	o.mu.Lock()
	changed := o.userID != userID
	o.userID = userID
	o.userName = userName
	o.mu.Unlock()

	if changed {
		o.refreshSessionsAsync()
	}
}

// SetRestricted toggles the externally-signaled send restriction.
func (o *Orchestrator) SetRestricted(restricted bool) {
	o.mu.Lock()
	o.banned = restricted
	o.mu.Unlock()
}

// =============================================================================
// SEND
// =============================================================================

// Send validates and dispatches a user message. It returns quickly; the
// stream is consumed on a background goroutine and surfaces through the
// view-state accessors.
func (o *Orchestrator) Send(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	o.mu.Lock()
	if o.banned {
		o.mu.Unlock()
		return ErrRestricted
	}
	if o.loading {
		o.mu.Unlock()
		return ErrBusy
	}

	o.gen++
	gen := o.gen
	o.loading = true
	o.errMsg = ""
	o.warning = ""
	o.totalTokens = 0
	o.buffer.Reset()

	// Optimistic append: the user must never see their input vanish
	// while the network catches up.
	o.history = append(o.history, backend.Message{
		ID:      uuid.NewString(),
		Role:    backend.RoleUser,
		Content: trimmed,
	})

	// Prospective index of the assistant reply. Captured here, before
	// any suspension point, so citations from this stream can never be
	// attributed to a message from a later send or switch.
	citIdx := len(o.history)

	o.thinking = &stream.StatusUpdate{
		Phase:   stream.PhaseRetrievingContext,
		Message: "Thinking...",
	}

	sessID := o.sessionID
	userID := o.userID
	userName := o.userName
	scores := o.opts.SelveScores
	o.mu.Unlock()

	o.typer.Reset()

	streamCtx, cancel := context.WithCancel(ctx)
	o.cancelMgr.set(cancel)

	o.wg.Add(1)
	go o.run(streamCtx, gen, citIdx, sessID, trimmed, userID, userName, scores)
	return nil
}

// run drives one send end to end: lazy session creation, stream open,
// event dispatch, finalization.
func (o *Orchestrator) run(ctx context.Context, gen, citIdx int, sessID, text, userID, userName string, scores map[string]float64) {
	defer o.wg.Done()

	// Deferred session creation: the session comes into existence with
	// the first message, not on app open.
	if sessID == "" {
		sess, err := o.backend.CreateSession(ctx, userID)
		if err != nil {
			o.failStream(gen, citIdx, err)
			return
		}

		o.mu.Lock()
		if gen != o.gen {
			o.mu.Unlock()
			return // superseded while creating
		}
		o.sessionID = sess.ID
		o.freshSession = true
		o.mu.Unlock()

		sessID = sess.ID
		o.persistLastSession(sessID)
	}

	body, err := o.backend.OpenStream(ctx, backend.StreamRequest{
		Message:     text,
		SessionID:   sessID,
		UserID:      userID,
		UserName:    userName,
		SelveScores: scores,
		Stream:      true,
	})
	if err != nil {
		o.failStream(gen, citIdx, err)
		return
	}
	defer body.Close()

	dec := stream.NewDecoder(body)
	err = dec.Process(ctx, func(ev stream.Event) {
		o.handleEvent(gen, citIdx, ev)
	})
	if err != nil {
		o.failStream(gen, citIdx, err)
		return
	}

	// Process returned cleanly. An explicit or implicit terminator has
	// already finalized via handleEvent; this covers an empty stream
	// that simply ran out of bytes.
	o.finalize(gen, citIdx)
}

// handleEvent applies one decoded event to the view state. Events from a
// superseded generation are dropped.
func (o *Orchestrator) handleEvent(gen, citIdx int, ev stream.Event) {
	o.mu.Lock()

	if gen != o.gen {
		o.mu.Unlock()
		return // late event from a stale stream
	}

	switch ev.Kind {
	case stream.KindStatus:
		st := ev.Status
		o.thinking = &st

	case stream.KindContent:
		// Real content supersedes the thinking indicator immediately.
		o.thinking = nil
		o.buffer.WriteString(ev.Content)
		o.typer.Append(ev.Content)

	case stream.KindCitations:
		o.citations[citIdx] = append(o.citations[citIdx], ev.Citations...)

	case stream.KindTokens:
		o.totalTokens = ev.TotalTokens

	case stream.KindCompression:
		o.compression = true
		o.armCompressionClearLocked()

	case stream.KindWarning:
		// Advisory only; the stream keeps going.
		o.warning = ev.Warning

	case stream.KindDone:
		o.mu.Unlock()
		o.finalize(gen, citIdx)
		return
	}

	o.mu.Unlock()
}

// finalize commits the accumulated reply into the transcript and clears
// the in-flight state. Idempotent per generation.
func (o *Orchestrator) finalize(gen, citIdx int) {
	o.mu.Lock()
	if gen != o.gen || !o.loading {
		o.mu.Unlock()
		return
	}

	content := o.buffer.String()
	committed := content != ""
	if committed {
		o.history = append(o.history, backend.Message{
			ID:      uuid.NewString(),
			Role:    backend.RoleAssistant,
			Content: content,
		})
	} else {
		// Nothing arrived: don't append a hollow message, and drop any
		// citations that were staged for it.
		delete(o.citations, citIdx)
	}

	o.buffer.Reset()
	o.thinking = nil
	o.loading = false

	wasFresh := o.freshSession
	if committed {
		o.freshSession = false
	}
	sessID := o.sessionID

	var userContent string
	if committed && len(o.history) >= 2 {
		userContent = o.history[len(o.history)-2].Content
	}
	o.mu.Unlock()

	o.typer.MarkComplete()

	if sessID == "" {
		return
	}
	if wasFresh && committed {
		// First exchange in a fresh session: the service owes us a
		// title, which it generates asynchronously.
		o.wg.Add(1)
		go o.generateTitle(sessID, userContent, content)
	} else {
		// Reorder the sidebar by recency.
		o.refreshSessionsAsync()
	}
}

// failStream handles a terminal stream failure. Cancellation is not an
// error: it cleans up quietly. Anything else surfaces a transient error
// and appends a fallback reply so the transcript stays coherent.
func (o *Orchestrator) failStream(gen, citIdx int, err error) {
	if errors.Is(err, context.Canceled) {
		o.clearCanceled(gen)
		return
	}

	o.mu.Lock()
	if gen != o.gen || !o.loading {
		o.mu.Unlock()
		return
	}

	o.logger.Warn("chat stream failed", zap.Error(err))

	// Discard the partial reply; never leave a half-applied message.
	o.buffer.Reset()
	delete(o.citations, citIdx)
	o.thinking = nil
	o.loading = false
	o.history = append(o.history, backend.Message{
		ID:      uuid.NewString(),
		Role:    backend.RoleAssistant,
		Content: fallbackReply,
	})
	o.setErrorLocked(userFacingError(err))
	sessID := o.sessionID
	o.mu.Unlock()

	o.typer.Reset()

	// Best-effort bookkeeping so local state doesn't silently desync
	// from the service.
	if sessID != "" {
		o.refreshSessionsAsync()
	}
}

// clearCanceled resets in-flight state after a user-initiated abort.
func (o *Orchestrator) clearCanceled(gen int) {
	o.mu.Lock()
	if gen != o.gen || !o.loading {
		// A switch or newer send already took over and cleaned up.
		o.mu.Unlock()
		return
	}
	o.buffer.Reset()
	o.thinking = nil
	o.loading = false
	o.mu.Unlock()

	o.typer.Reset()
}

// Cancel aborts the in-flight stream, if any. A cancellation is not an
// error and never surfaces one. Idempotent.
func (o *Orchestrator) Cancel() {
	o.cancelMgr.fire()
}

// =============================================================================
// SESSION LIFECYCLE
// =============================================================================

// SwitchSession loads another session's transcript. The in-flight stream
// (if any) is cancelled *before* the load, so a late chunk from the old
// conversation can never flash into the new one.
func (o *Orchestrator) SwitchSession(ctx context.Context, id string) error {
	o.cancelMgr.fire()

	o.mu.Lock()
	o.gen++
	myGen := o.gen
	o.buffer.Reset()
	o.thinking = nil
	o.warning = ""
	o.loading = false
	o.totalTokens = 0
	o.compression = false
	o.clearErrorLocked()
	o.mu.Unlock()

	o.typer.Reset()

	detail, err := o.backend.GetSession(ctx, id)
	if err != nil {
		o.mu.Lock()
		if myGen == o.gen {
			o.setErrorLocked("Couldn't load that conversation.")
		}
		o.mu.Unlock()
		return err
	}

	o.mu.Lock()
	if myGen != o.gen {
		o.mu.Unlock()
		return nil // superseded by a newer switch or send
	}
	o.sessionID = detail.ID
	o.freshSession = false
	o.history = append([]backend.Message(nil), detail.Messages...)
	o.citations = make(map[int][]backend.Citation)
	o.mu.Unlock()

	o.persistLastSession(detail.ID)
	return nil
}

// NewConversation drops into the deferred-creation state: no active
// session, empty transcript, session created on the next send.
func (o *Orchestrator) NewConversation() {
	o.cancelMgr.fire()

	o.mu.Lock()
	o.gen++
	o.sessionID = ""
	o.freshSession = false
	o.history = nil
	o.citations = make(map[int][]backend.Citation)
	o.buffer.Reset()
	o.thinking = nil
	o.warning = ""
	o.loading = false
	o.totalTokens = 0
	o.compression = false
	o.clearErrorLocked()
	o.mu.Unlock()

	o.typer.Reset()
	o.persistLastSession("")
}

// DeleteSession removes a session. Deleting the active one transitions
// to the deferred-creation state rather than eagerly creating a
// replacement.
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	if err := o.backend.DeleteSession(ctx, id); err != nil {
		return err
	}

	o.mu.Lock()
	kept := o.sessions[:0]
	for _, s := range o.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	o.sessions = kept
	active := o.sessionID == id
	o.mu.Unlock()

	if active {
		o.NewConversation()
	}
	o.refreshSessionsAsync()
	return nil
}

// =============================================================================
// BOOKKEEPING
// =============================================================================

// refreshSessions reloads the session list and refreshes the local
// cache. Failures degrade to the previous list.
func (o *Orchestrator) refreshSessions(ctx context.Context) {
	o.mu.Lock()
	userID := o.userID
	o.mu.Unlock()

	list := o.backend.ListSessions(ctx, userID)
	if len(list) == 0 {
		o.mu.Lock()
		empty := len(o.sessions) == 0
		o.mu.Unlock()
		if !empty {
			// Could be a transient failure; keep what we have.
			return
		}
	}

	o.mu.Lock()
	o.sessions = list
	o.mu.Unlock()

	if o.state != nil {
		if err := o.state.CacheSessions(list); err != nil {
			o.logger.Warn("session cache write failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) refreshSessionsAsync() {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(o.bgCtx, o.opts.BookkeepingTimeout)
		defer cancel()
		o.refreshSessions(ctx)
	}()
}

func (o *Orchestrator) persistLastSession(id string) {
	if o.state == nil {
		return
	}
	if err := o.state.SetLastSessionID(id); err != nil {
		o.logger.Warn("session id not persisted", zap.Error(err))
	}
}

// =============================================================================
// TRANSIENT UI STATE
// =============================================================================

// setErrorLocked surfaces a transient error and arms its auto-clear.
// Caller holds o.mu.
func (o *Orchestrator) setErrorLocked(msg string) {
	o.errMsg = msg
	if o.errTimer != nil {
		o.errTimer.Stop()
	}
	o.errTimer = time.AfterFunc(o.opts.ErrorClearAfter, func() {
		o.mu.Lock()
		o.errMsg = ""
		o.mu.Unlock()
	})
}

func (o *Orchestrator) clearErrorLocked() {
	o.errMsg = ""
	if o.errTimer != nil {
		o.errTimer.Stop()
		o.errTimer = nil
	}
}

// armCompressionClearLocked schedules the compression advisory to clear
// itself. Caller holds o.mu.
func (o *Orchestrator) armCompressionClearLocked() {
	if o.compressionTimer != nil {
		o.compressionTimer.Stop()
	}
	o.compressionTimer = time.AfterFunc(o.opts.CompressionClearAfter, func() {
		o.mu.Lock()
		o.compression = false
		o.mu.Unlock()
	})
}

// userFacingError maps a stream failure to a message fit for the UI.
func userFacingError(err error) string {
	switch {
	case backend.IsTimeout(err):
		return "The request timed out. Please try again."
	case backend.IsRateLimited(err):
		return "Too many requests — please wait a moment and try again."
	case backend.IsServer(err) || backend.IsConnection(err):
		return "Connection problem. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
