package session

import (
	"errors"
	"slices"
	"time"

	"github.com/MegaGrindStone/llama-chat/internal/models"
	"github.com/google/uuid"
)

// ErrNoOpenTurn is returned when a fragment arrives and there is neither a user turn to answer nor an
// open assistant turn to extend.
var ErrNoOpenTurn = errors.New("no open assistant turn")

// Transcript is the ordered list of turns of one chat. Insertion order is the only ordering it guarantees.
// At most one assistant turn is open at a time, and while open it is always the last element.
//
// Transcript is not safe for concurrent use, Session serializes access to it.
type Transcript struct {
	turns []models.Turn
	now   func() time.Time
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

// AppendUser appends a new, closed user turn and returns it. Existing turns are never touched.
func (t *Transcript) AppendUser(text string, images []string) models.Turn {
	turn := models.Turn{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Text:      text,
		Images:    slices.Clone(images),
		Timestamp: t.now(),
		Closed:    true,
	}
	t.turns = append(t.turns, turn)
	return turn
}

// BeginOrExtendAssistant applies the cumulative text of the reply streaming in. If the last turn is a user
// turn, a new open assistant turn seeded with cumulative is appended. If the last turn is an open
// assistant turn, its text is replaced by cumulative, so applying the same value twice changes nothing.
func (t *Transcript) BeginOrExtendAssistant(cumulative string) (models.Turn, error) {
	last, ok := t.last()
	switch {
	case !ok:
		return models.Turn{}, ErrNoOpenTurn
	case last.IsUser():
		return t.appendAssistant(cumulative, false), nil
	case last.Closed:
		return models.Turn{}, ErrNoOpenTurn
	}

	last.Text = cumulative
	return *last, nil
}

// FinalizeAssistant sets the open assistant turn's text to exactly full and closes it. When the reply
// produced no fragment at all, the last turn is still the user's, and a closed assistant turn holding
// full is appended instead.
func (t *Transcript) FinalizeAssistant(full string) (models.Turn, error) {
	last, ok := t.last()
	switch {
	case !ok:
		return models.Turn{}, ErrNoOpenTurn
	case last.IsUser():
		return t.appendAssistant(full, true), nil
	case last.Closed:
		return models.Turn{}, ErrNoOpenTurn
	}

	last.Text = full
	last.Closed = true
	return *last, nil
}

// Interrupt closes the open assistant turn, if any, leaving its partial text as is.
func (t *Transcript) Interrupt() (models.Turn, bool) {
	last, ok := t.last()
	if !ok || last.IsUser() || last.Closed {
		return models.Turn{}, false
	}
	last.Closed = true
	last.Interrupted = true
	return *last, true
}

// Turns returns a copy of the turns in insertion order.
func (t *Transcript) Turns() []models.Turn {
	turns := make([]models.Turn, len(t.turns))
	for i, turn := range t.turns {
		turn.Images = slices.Clone(turn.Images)
		turns[i] = turn
	}
	return turns
}

// Len returns the number of turns.
func (t *Transcript) Len() int {
	return len(t.turns)
}

// History projects the transcript into the messages sent to the model.
func (t *Transcript) History() []models.OutgoingMessage {
	return models.Outgoing(t.turns)
}

func (t *Transcript) last() (*models.Turn, bool) {
	if len(t.turns) == 0 {
		return nil, false
	}
	return &t.turns[len(t.turns)-1], true
}

func (t *Transcript) appendAssistant(text string, closed bool) models.Turn {
	turn := models.Turn{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Text:      text,
		Timestamp: t.now(),
		Closed:    closed,
	}
	t.turns = append(t.turns, turn)
	return turn
}
