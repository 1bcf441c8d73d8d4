package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sglre6355/gatebot/internal/definition"
	"github.com/sglre6355/gatebot/internal/interaction"
)

// PromptComponent is the identifier of the button definition that delivers
// prompt replies.
const PromptComponent = "prompt"

// DefaultPromptTimeout bounds how long a prompt waits for a reply.
const DefaultPromptTimeout = time.Minute

// ErrPromptTimeout is returned when nobody answers a prompt in time.
var ErrPromptTimeout = errors.New("prompt timed out")

// Reply is an answer to a prompt.
type Reply struct {
	Action    string
	UserID    string
	Responder interaction.Responder
}

// Prompt is a pending question with buttons routed back to the Collector.
type Prompt struct {
	ID      string
	OwnerID string
	replies chan Reply

	mu       sync.Mutex
	answered bool
	closed   bool
}

// CustomID returns the custom ID of a button answering the prompt with action.
func (p *Prompt) CustomID(action string) string {
	return definition.CustomID(PromptComponent, p.ID, action)
}

// Collector correlates component replies with the prompts waiting for them.
// It is safe for concurrent use.
type Collector struct {
	pending *gocache.Cache
}

// NewCollector creates a Collector. Prompts that are never awaited are
// reclaimed after maxAge.
func NewCollector(maxAge time.Duration) *Collector {
	if maxAge <= 0 {
		maxAge = 2 * DefaultPromptTimeout
	}
	return &Collector{pending: gocache.New(maxAge, maxAge)}
}

// Open creates a prompt answerable by ownerID.
func (c *Collector) Open(ownerID string) *Prompt {
	p := &Prompt{
		ID:      uuid.NewString(),
		OwnerID: ownerID,
		replies: make(chan Reply, 1),
	}
	c.pending.SetDefault(p.ID, p)
	return p
}

// Await blocks until p is answered, timeout elapses or ctx is done. The
// prompt is closed on return; the caller should disable its buttons on
// ErrPromptTimeout. A reply accepted before the prompt closes is always
// returned, even if it races with the timeout.
func (c *Collector) Await(ctx context.Context, p *Prompt, timeout time.Duration) (Reply, error) {
	defer c.pending.Delete(p.ID)

	if timeout <= 0 {
		timeout = DefaultPromptTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case reply := <-p.replies:
		return reply, nil
	case <-timer.C:
		err = ErrPromptTimeout
	case <-ctx.Done():
		err = ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answered {
		return <-p.replies, nil
	}
	p.closed = true
	return Reply{}, err
}

// Pending returns the number of open prompts.
func (c *Collector) Pending() int {
	return c.pending.ItemCount()
}

type delivery int

const (
	delivered delivery = iota
	deliveryExpired
	deliveryNotOwner
	deliveryAnswered
)

// deliver hands a reply to the prompt with id. Only the first reply from the
// owner is accepted, and only while the prompt is open.
func (c *Collector) deliver(id string, reply Reply) delivery {
	v, ok := c.pending.Get(id)
	if !ok {
		return deliveryExpired
	}
	p := v.(*Prompt)
	if p.OwnerID != "" && p.OwnerID != reply.UserID {
		return deliveryNotOwner
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.closed:
		return deliveryExpired
	case p.answered:
		return deliveryAnswered
	}
	p.answered = true
	p.replies <- reply
	return delivered
}

// Definition returns the button definition that routes replies to prompts.
func (c *Collector) Definition() *definition.Definition {
	return &definition.Definition{
		Name:     PromptComponent,
		Kind:     definition.KindButton,
		Cooldown: -1,
		Handler:  c.handle,
	}
}

func (c *Collector) handle(
	_ context.Context,
	_ *discordgo.Session,
	i *discordgo.InteractionCreate,
	r interaction.Responder,
) error {
	_, args := definition.SplitCustomID(i.MessageComponentData().CustomID)
	id, action, _ := strings.Cut(args, definition.CustomIDSeparator)

	userID := ""
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
	case i.User != nil:
		userID = i.User.ID
	}

	switch c.deliver(id, Reply{Action: action, UserID: userID, Responder: r}) {
	case delivered:
		return nil
	case deliveryExpired:
		slog.Debug("received reply to closed prompt", "prompt_id", id)
		return r.Respond(interaction.Notice("Expired", "This prompt has expired."))
	case deliveryNotOwner:
		return r.Respond(interaction.Notice("Not yours", "Only the user who started this can answer."))
	default:
		return r.Respond(interaction.Notice("Already answered", "This prompt has already been answered."))
	}
}
