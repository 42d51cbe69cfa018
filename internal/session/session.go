// Package session keeps the state of one chat page: its transcript, the cancellation of the reply in
// flight, the selected model and the lifecycle of the current turn.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/llama-chat/internal/models"
)

// Streamer sends the conversation to a model and streams the reply back. It calls onFragment with each
// incremental piece of text, in arrival order, then onComplete once with the full text. It returns
// models.ErrCancelled when ctx is cancelled and *models.TransportError when the endpoint fails.
type Streamer interface {
	Send(
		ctx context.Context,
		model string,
		history []models.OutgoingMessage,
		onFragment func(string),
		onComplete func(string),
	) error
}

// Listener receives the events of a session in the order they happen. It is called with the session
// locked, so it must not call back into the Session.
type Listener func(Event)

// Event reports a change of the trailing assistant turn or the end of a reply.
type Event struct {
	Kind EventKind
	// Turn is the trailing assistant turn. It is the zero Turn when a reply ended before any assistant
	// turn existed, for example when it was cancelled before the first fragment.
	Turn models.Turn
	// Err is set for EventFailed.
	Err error
}

// EventKind identifies what an Event reports.
type EventKind string

// State is the lifecycle state of the current turn.
type State int

// Options configures a Session.
type Options struct {
	// Models lists the models the user may pick from. It must not be empty.
	Models []string
	// DefaultModel is selected initially. It defaults to the first of Models.
	DefaultModel string
}

// Session is the state of one chat page. The zero value is not usable, create one with New.
type Session struct {
	id string

	streamer Streamer
	listener Listener
	logger   *slog.Logger

	models []string

	mu         sync.Mutex
	transcript *Transcript
	ctrl       Controller
	model      string
	state      State
	cumulative strings.Builder
	lastActive time.Time

	wg sync.WaitGroup
}

const (
	// EventAssistant reports new text in the trailing assistant turn.
	EventAssistant EventKind = "assistant"
	// EventCompleted reports that the reply finished and its turn is final.
	EventCompleted EventKind = "completed"
	// EventCancelled reports that the user stopped the reply.
	EventCancelled EventKind = "cancelled"
	// EventFailed reports that the reply could not be streamed.
	EventFailed EventKind = "failed"
)

const (
	// StateIdle means no turn was submitted yet.
	StateIdle State = iota
	// StateSending means a turn was submitted and no fragment has arrived.
	StateSending
	// StateStreaming means at least one fragment has arrived.
	StateStreaming
	// StateCompleted means the last reply ended normally.
	StateCompleted
	// StateCancelled means the last reply was stopped by the user.
	StateCancelled
	// StateFailed means the last reply failed.
	StateFailed
)

var (
	// ErrEmptyInput is returned when a submission has neither text nor an image.
	ErrEmptyInput = errors.New("message or image is required")
	// ErrBusy is returned when a reply is still in flight.
	ErrBusy = errors.New("a reply is still in progress")
	// ErrUnknownModel is returned when selecting a model that is not offered.
	ErrUnknownModel = errors.New("unknown model")
)

const errLoggerKey = "err"

// New creates a session identified by id. Events are delivered to listener, which may be nil.
func New(id string, streamer Streamer, opts Options, listener Listener, logger *slog.Logger) (*Session, error) {
	if len(opts.Models) == 0 {
		return nil, fmt.Errorf("at least one model is required")
	}
	model := opts.DefaultModel
	if model == "" {
		model = opts.Models[0]
	}
	if !slices.Contains(opts.Models, model) {
		return nil, fmt.Errorf("%w: default model %q", ErrUnknownModel, model)
	}
	if listener == nil {
		listener = func(Event) {}
	}

	return &Session{
		id:         id,
		streamer:   streamer,
		listener:   listener,
		logger:     logger.With(slog.String("module", "session"), slog.String("sessionID", id)),
		models:     slices.Clone(opts.Models),
		transcript: NewTranscript(),
		model:      model,
		lastActive: time.Now(),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Submit appends a user turn made of text and an optional image data URI, then streams the model's reply
// in the background. The whole transcript, including the new turn, is sent with the request.
func (s *Session) Submit(text, image string) (models.Turn, error) {
	var images []string
	if image != "" {
		images = []string{image}
	}
	if strings.TrimSpace(text) == "" && len(images) == 0 {
		return models.Turn{}, ErrEmptyInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading() {
		return models.Turn{}, ErrBusy
	}

	turn := s.transcript.AppendUser(text, images)
	history := s.transcript.History()
	tok := s.ctrl.Start()

	s.state = StateSending
	s.cumulative.Reset()
	s.lastActive = time.Now()

	s.logger.Debug("Submitting turn",
		slog.String("model", s.model),
		slog.Int("historyLen", len(history)),
		slog.String("token", tok.ID))

	s.wg.Add(1)
	go s.run(tok, s.model, history)

	return turn, nil
}

// Stop cancels the reply in flight. Its partial text, if any, stays in the transcript. Stop reports
// whether there was anything to cancel.
func (s *Session) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.ctrl.Live()
	if !ok {
		return false
	}
	s.ctrl.Cancel(tok)
	s.finish(StateCancelled, nil)
	return true
}

// SetModel selects the model used by the next submission.
func (s *Session) SetModel(model string) error {
	if !slices.Contains(s.models, model) {
		return fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loading() {
		return ErrBusy
	}
	s.model = model
	return nil
}

// Model returns the selected model.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Models returns the models offered to the user.
func (s *Session) Models() []string {
	return slices.Clone(s.models)
}

// State returns the lifecycle state of the current turn.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Loading reports whether a reply is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading()
}

// Turns returns a snapshot of the transcript.
func (s *Session) Turns() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Turns()
}

// LastActive returns the time of the last submission or received fragment.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Wait blocks until every reply goroutine started by this session has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) loading() bool {
	return s.state == StateSending || s.state == StateStreaming
}

func (s *Session) run(tok Token, model string, history []models.OutgoingMessage) {
	defer s.wg.Done()

	err := s.streamer.Send(tok.Context(), model, history,
		func(text string) { s.applyFragment(tok, text) },
		func(full string) { s.complete(tok, full) },
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replies that were stopped, or that already completed, are no longer live.
	if !s.ctrl.IsLive(tok) {
		return
	}
	s.ctrl.Done(tok)

	if err == nil {
		s.logger.Warn("Stream ended without completion, finalizing with received text")
		s.finalize(s.cumulative.String())
		return
	}

	switch {
	case models.IsCancelled(err):
		s.logger.Info("Reply cancelled", slog.String("token", tok.ID))
		s.finish(StateCancelled, nil)
	default:
		s.logger.Error("Reply failed",
			slog.String("model", model),
			slog.String(errLoggerKey, err.Error()))
		s.finish(StateFailed, err)
	}
}

func (s *Session) applyFragment(tok Token, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ctrl.IsLive(tok) {
		return
	}

	s.cumulative.WriteString(text)
	turn, err := s.transcript.BeginOrExtendAssistant(s.cumulative.String())
	if err != nil {
		s.logger.Error("Failed to apply fragment", slog.String(errLoggerKey, err.Error()))
		return
	}

	s.state = StateStreaming
	s.lastActive = time.Now()
	s.listener(Event{Kind: EventAssistant, Turn: turn})
}

func (s *Session) complete(tok Token, full string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ctrl.Done(tok) {
		return
	}
	s.finalize(full)
}

// finalize must be called with the lock held and the token already retired.
func (s *Session) finalize(full string) {
	turn, err := s.transcript.FinalizeAssistant(full)
	if err != nil {
		s.logger.Error("Failed to finalize reply", slog.String(errLoggerKey, err.Error()))
		s.finish(StateFailed, err)
		return
	}

	s.state = StateCompleted
	s.lastActive = time.Now()
	s.listener(Event{Kind: EventCompleted, Turn: turn})
}

// finish ends the current reply in a cancelled or failed state. It must be called with the lock held.
func (s *Session) finish(state State, err error) {
	turn, _ := s.transcript.Interrupt()
	s.state = state

	kind := EventCancelled
	if state == StateFailed {
		kind = EventFailed
	}
	s.listener(Event{Kind: kind, Turn: turn, Err: err})
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
