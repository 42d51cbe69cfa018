package handlers

import (
	"encoding/base64"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/llama-chat/internal/models"
	"github.com/MegaGrindStone/llama-chat/internal/session"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

type turn struct {
	ID        string
	Role      string
	Text      string
	Content   template.HTML
	Images    []template.URL
	Timestamp time.Time

	StreamingState string
}

type homePageData struct {
	SessionID     string
	Models        []string
	SelectedModel string
	Turns         []turn
}

// SSE event types for real-time updates.
var (
	assistantSSEType = sse.Type("assistant")
	doneSSEType      = sse.Type("done")
	cancelledSSEType = sse.Type("cancelled")
	failedSSEType    = sse.Type("failed")
)

const (
	streamingStateStreaming   = "streaming"
	streamingStateEnded       = "ended"
	streamingStateInterrupted = "interrupted"
)

const maxChatBody = 20 << 20

// HandleHome starts a new chat session and renders the chat page for it. Reloading the page starts over
// with an empty transcript.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := uuid.New().String()
	s, err := session.New(sessionID, m.llm, m.opts, m.publisher(sessionID), m.logger)
	if err != nil {
		m.logger.Error("Failed to create session", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m.sessions.Add(s)

	turns := s.Turns()
	views := make([]turn, len(turns))
	for i, t := range turns {
		views[i], err = m.turnView(t)
		if err != nil {
			m.logger.Error("Failed to render turn", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	data := homePageData{
		SessionID:     sessionID,
		Models:        s.Models(),
		SelectedModel: s.Model(),
		Turns:         views,
	}
	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleChats accepts a user submission through HTTP POST form data and starts streaming the model's
// reply. The handler expects a "session_id" field, a "message" field, an optional "model" field to
// switch models, and an optional "image" field holding a data URI of an image.
//
// It responds with the rendered user turn. The assistant turn is pushed through SSE as it streams in.
// Empty submissions, unknown sessions or models and malformed images are rejected with 400, and a
// submission made while a reply is still streaming is rejected with 409.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)

	s, ok := m.session(r)
	if !ok {
		m.logger.Error("Unknown session", slog.String("sessionID", r.FormValue("session_id")))
		http.Error(w, "Unknown session", http.StatusBadRequest)
		return
	}

	msg := r.FormValue("message")
	image := r.FormValue("image")
	if image != "" {
		if err := validateImage(image); err != nil {
			m.logger.Error("Invalid image", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if model := r.FormValue("model"); model != "" && model != s.Model() {
		if err := s.SetModel(model); err != nil {
			m.logger.Error("Failed to select model",
				slog.String("model", model),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), statusFor(err))
			return
		}
	}

	ut, err := s.Submit(msg, image)
	if err != nil {
		m.logger.Error("Failed to submit message",
			slog.String("sessionID", s.ID()),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	view, err := m.turnView(ut)
	if err != nil {
		m.logger.Error("Failed to render turn", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "user_message", view); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleStop cancels the reply streaming in the session named by the "session_id" form field. Stopping a
// session with nothing in flight is not an error.
func (m Main) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s, ok := m.session(r)
	if !ok {
		http.Error(w, "Unknown session", http.StatusBadRequest)
		return
	}

	if s.Stop() {
		m.logger.Info("Reply stopped by user", slog.String("sessionID", s.ID()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSSE streams the events of the session named by the "session_id" query parameter.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func (m Main) session(r *http.Request) (*session.Session, bool) {
	return m.sessions.Get(r.FormValue("session_id"))
}

// publisher forwards the events of a session to its SSE topic. It runs with the session locked, so it
// only renders and publishes.
func (m Main) publisher(sessionID string) session.Listener {
	topic := sessionTopic(sessionID)

	return func(e session.Event) {
		msg := sse.Message{}

		switch e.Kind {
		case session.EventAssistant:
			msg.Type = assistantSSEType
		case session.EventCompleted:
			msg.Type = doneSSEType
		case session.EventCancelled:
			msg.Type = cancelledSSEType
		case session.EventFailed:
			msg.Type = failedSSEType
		default:
			return
		}

		switch {
		case e.Kind == session.EventFailed:
			msg.AppendData(failureMessage(e.Err))
		case e.Turn.ID == "":
			// We still need data here, as the SSE spec drops events without any
			msg.AppendData("bye")
		default:
			html, err := m.renderTurn(e.Turn)
			if err != nil {
				m.logger.Error("Failed to render turn",
					slog.String("sessionID", sessionID),
					slog.String(errLoggerKey, err.Error()))
				return
			}
			msg.AppendData(html)
		}

		if err := m.sseSrv.Publish(&msg, topic); err != nil {
			m.logger.Error("Failed to publish event",
				slog.String("sessionID", sessionID),
				slog.String("event", string(e.Kind)),
				slog.String(errLoggerKey, err.Error()))
		}
	}
}

func (m Main) renderTurn(t models.Turn) (string, error) {
	view, err := m.turnView(t)
	if err != nil {
		return "", err
	}

	name := "ai_message"
	if t.IsUser() {
		name = "user_message"
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, name, view); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (m Main) turnView(t models.Turn) (turn, error) {
	view := turn{
		ID:             t.ID,
		Role:           string(t.Role),
		Text:           t.Text,
		Timestamp:      t.Timestamp,
		StreamingState: streamingStateEnded,
	}
	switch {
	case !t.Closed:
		view.StreamingState = streamingStateStreaming
	case t.Interrupted:
		view.StreamingState = streamingStateInterrupted
	}

	for _, img := range t.Images {
		// Images are validated as base64 image data URIs before they enter a session.
		view.Images = append(view.Images, template.URL(img))
	}

	if t.IsUser() {
		return view, nil
	}

	content, err := m.renderer.Render(t.Text)
	if err != nil {
		return turn{}, err
	}
	view.Content = template.HTML(content)
	return view, nil
}

func validateImage(uri string) error {
	header, payload, found := strings.Cut(uri, ",")
	if !found || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return errors.New("image must be a base64 image data URI")
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return errors.New("image data is not valid base64")
	}
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrEmptyInput), errors.Is(err, session.ErrUnknownModel):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func failureMessage(err error) string {
	var te *models.TransportError
	if errors.As(err, &te) {
		return "The model could not answer: " + te.Message
	}
	return "Something went wrong while sending your message. Please try again."
}
