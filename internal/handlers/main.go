package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	llamachat "github.com/MegaGrindStone/llama-chat"
	"github.com/MegaGrindStone/llama-chat/internal/models"
	"github.com/MegaGrindStone/llama-chat/internal/session"
	"github.com/tmaxmax/go-sse"
)

// LLM represents a large language model that streams chat replies. Each call carries the whole
// conversation and reports incremental text through the callbacks until the reply ends or the context is
// cancelled.
type LLM interface {
	session.Streamer
}

// Main serves the chat page, accepts submissions and pushes the streamed replies to the browser through
// server-sent events. Each page load gets its own session, which lives in memory only.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	renderer  models.Renderer

	llm      LLM
	sessions *session.Registry
	opts     session.Options

	logger *slog.Logger
}

const errLoggerKey = "err"

// NewMain creates a new Main instance serving the models listed in opts through llm. It parses the HTML
// templates from the embedded filesystem and sets up an SSE server where each client subscribes to the
// topic of its own session.
func NewMain(llm LLM, opts session.Options, renderer models.Renderer, logger *slog.Logger) (Main, error) {
	if len(opts.Models) == 0 {
		return Main{}, fmt.Errorf("at least one model is required")
	}

	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		llamachat.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	sessions := session.NewRegistry()

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				sessionID := s.Req.URL.Query().Get("session_id")
				if _, ok := sessions.Get(sessionID); !ok {
					return sse.Subscription{}, false
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      []string{sse.DefaultTopic, sessionTopic(sessionID)},
				}, true
			},
		},
		templates: tmpl,
		renderer:  renderer,
		llm:       llm,
		sessions:  sessions,
		opts:      opts,
		logger:    logger.With(slog.String("module", "main")),
	}, nil
}

func sessionTopic(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

// SweepSessions drops the sessions that have been idle for longer than maxIdle.
func (m Main) SweepSessions(maxIdle time.Duration) int {
	n := m.sessions.Sweep(maxIdle)
	if n > 0 {
		m.logger.Debug("Swept idle sessions", slog.Int("count", n), slog.Int("remaining", m.sessions.Len()))
	}
	return n
}

// Shutdown stops every reply in flight, then gracefully terminates the SSE server. It broadcasts a close
// message to all connected clients and waits up to 5 seconds for connections to terminate. After the
// timeout, any remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	m.sessions.Close()

	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
