package waha

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"groupbot/internal/identity"
)

type TextMessage struct {
	ChatID   string
	Text     string
	ReplyTo  string
	Mentions []identity.ID
}

type sendTextRequest struct {
	Session  string   `json:"session"`
	ChatID   string   `json:"chatId"`
	Text     string   `json:"text"`
	ReplyTo  string   `json:"reply_to,omitempty"`
	Mentions []string `json:"mentions,omitempty"`
}

// SendText posts a text message to a chat. Mentions are sent as contact JIDs.
func (c *Client) SendText(ctx context.Context, msg TextMessage) error {
	if strings.TrimSpace(msg.ChatID) == "" {
		return errors.New("send text: chat id required")
	}
	req := sendTextRequest{
		Session: c.session,
		ChatID:  msg.ChatID,
		Text:    msg.Text,
		ReplyTo: msg.ReplyTo,
	}
	for _, id := range msg.Mentions {
		if !id.IsZero() {
			req.Mentions = append(req.Mentions, id.ChatID())
		}
	}
	return c.Do(ctx, http.MethodPost, "/api/sendText", req, nil)
}
