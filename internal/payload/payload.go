// Package payload builds chat-platform message activities for the target
// bot endpoint.
package payload

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Account identifies a conversation participant.
type Account struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Conversation identifies the conversation an activity belongs to.
type Conversation struct {
	ID string `json:"id"`
}

// Activity is one inbound message in the chat-platform schema the bot
// endpoint consumes. Only the fields the endpoint reads are modeled.
type Activity struct {
	Type         string       `json:"type"`
	ID           string       `json:"id"`
	Timestamp    string       `json:"timestamp"`
	ChannelID    string       `json:"channelId"`
	ServiceURL   string       `json:"serviceUrl,omitempty"`
	From         Account      `json:"from"`
	Recipient    Account      `json:"recipient"`
	Conversation Conversation `json:"conversation"`
	Text         string       `json:"text"`
	Locale       string       `json:"locale,omitempty"`
}

// Template holds the fixed, validated fields a run stamps onto every
// activity. VU and iteration ordinals are mixed into the from/conversation
// IDs so the endpoint sees distinct simulated users.
type Template struct {
	ChannelID   string
	ServiceURL  string
	FromID      string
	FromName    string
	RecipientID string
	Text        string
	Locale      string
}

// Validate checks the required template fields, naming the first missing one.
func (t Template) Validate() error {
	if t.ChannelID == "" {
		return fmt.Errorf("message.channel_id is required")
	}
	if t.FromID == "" {
		return fmt.Errorf("message.from_id is required")
	}
	if t.RecipientID == "" {
		return fmt.Errorf("message.recipient_id is required")
	}
	if t.Text == "" {
		return fmt.Errorf("message.text is required")
	}
	return nil
}

// Build produces the JSON body for one iteration. Each call gets a fresh
// activity ID and timestamp; the conversation is stable per VU so the
// endpoint can correlate a VU's messages.
func (t Template) Build(vuID int, iteration int64) ([]byte, error) {
	a := Activity{
		Type:       "message",
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		ChannelID:  t.ChannelID,
		ServiceURL: t.ServiceURL,
		From: Account{
			ID:   fmt.Sprintf("%s-vu%d", t.FromID, vuID),
			Name: t.FromName,
		},
		Recipient:    Account{ID: t.RecipientID},
		Conversation: Conversation{ID: fmt.Sprintf("conv-%s-vu%d", t.ChannelID, vuID)},
		Text:         fmt.Sprintf("%s [i=%d]", t.Text, iteration),
		Locale:       t.Locale,
	}
	return json.Marshal(a)
}
