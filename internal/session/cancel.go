package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Token ties one in-flight request to the Controller that issued it. The request reads with Context, and
// cancelling the token cancels that context.
type Token struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the context the request bound to this token must use.
func (t Token) Context() context.Context {
	return t.ctx
}

// Controller hands out cancellation tokens, keeping exactly one of them live at a time.
type Controller struct {
	mu   sync.Mutex
	live *Token
}

// Start issues a new live token. A token that is still live is cancelled first.
func (c *Controller) Start() Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live != nil {
		c.live.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	tok := Token{
		ID:     uuid.New().String(),
		ctx:    ctx,
		cancel: cancel,
	}
	c.live = &tok
	return tok
}

// Cancel cancels tok if it is the live token, and reports whether it did. Cancelling a completed, already
// cancelled or superseded token is a no-op.
func (c *Controller) Cancel(tok Token) bool {
	return c.release(tok)
}

// Done retires tok after its request completed, releasing its context. It is a no-op for a token that is
// no longer live.
func (c *Controller) Done(tok Token) bool {
	return c.release(tok)
}

// Live returns the live token, if any.
func (c *Controller) Live() (Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live == nil {
		return Token{}, false
	}
	return *c.live, true
}

// IsLive reports whether tok is the live token.
func (c *Controller) IsLive(tok Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.live != nil && c.live.ID == tok.ID
}

func (c *Controller) release(tok Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.live == nil || c.live.ID != tok.ID {
		return false
	}
	c.live.cancel()
	c.live = nil
	return true
}
