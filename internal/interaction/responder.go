// Package interaction provides the reply side of Discord interactions.
package interaction

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Responder provides an abstraction for responding to Discord interactions.
// This interface enables testing handlers without a live Discord connection.
type Responder interface {
	// Respond sends the initial response to an interaction.
	Respond(response *discordgo.InteractionResponse) error

	// Edit modifies the initial response after it has been sent.
	Edit(edit *discordgo.WebhookEdit) error
}

// DiscordResponder implements Responder using a live Discord session.
type DiscordResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
}

// NewDiscordResponder creates a new DiscordResponder.
func NewDiscordResponder(s *discordgo.Session, i *discordgo.Interaction) *DiscordResponder {
	return &DiscordResponder{
		session:     s,
		interaction: i,
	}
}

// Respond sends a response to the interaction via Discord API.
func (r *DiscordResponder) Respond(response *discordgo.InteractionResponse) error {
	return r.session.InteractionRespond(r.interaction, response)
}

// Edit edits the original interaction response via Discord API.
func (r *DiscordResponder) Edit(edit *discordgo.WebhookEdit) error {
	_, err := r.session.InteractionResponseEdit(r.interaction, edit)
	return err
}

// MockResponder is a test double for Responder.
type MockResponder struct {
	mu sync.Mutex

	LastResponse *discordgo.InteractionResponse
	Responses    []*discordgo.InteractionResponse
	LastEdit     *discordgo.WebhookEdit
	Edits        []*discordgo.WebhookEdit
	Err          error
}

// Respond records the response for testing.
func (m *MockResponder) Respond(response *discordgo.InteractionResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastResponse = response
	m.Responses = append(m.Responses, response)
	return m.Err
}

// Edit records the edit for testing.
func (m *MockResponder) Edit(edit *discordgo.WebhookEdit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastEdit = edit
	m.Edits = append(m.Edits, edit)
	return m.Err
}

// Last returns the most recent response.
func (m *MockResponder) Last() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastResponse
}

// LastEdited returns the most recent edit.
func (m *MockResponder) LastEdited() *discordgo.WebhookEdit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastEdit
}

// EditCount returns the number of edits sent.
func (m *MockResponder) EditCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Edits)
}

// Count returns the number of responses sent.
func (m *MockResponder) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Responses)
}
