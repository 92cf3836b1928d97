package waha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"groupbot/internal/identity"
	"groupbot/internal/roster"
)

// GroupInfo is the subset of group metadata the bot consumes.
type GroupInfo struct {
	ID           string
	Subject      string
	Owner        identity.ID
	Participants []roster.Participant
}

// Participants returns the live participant list of a group. An empty list is a
// valid answer, not an error.
func (c *Client) Participants(ctx context.Context, groupID string) ([]roster.Participant, error) {
	var raw json.RawMessage
	path := c.groupPath(groupID, "/participants")
	if err := c.Do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	participants, err := decodeParticipants(raw)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Method: http.MethodGet, Path: path, Status: http.StatusOK, Attempts: 1, Err: err}
	}
	return participants, nil
}

// Group fetches group metadata including the participant list when the engine
// embeds it.
func (c *Client) Group(ctx context.Context, groupID string) (GroupInfo, error) {
	var doc map[string]any
	path := c.groupPath(groupID, "")
	if err := c.Do(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return GroupInfo{}, err
	}
	if doc == nil {
		return GroupInfo{}, &Error{Kind: KindDecode, Method: http.MethodGet, Path: path, Status: http.StatusOK, Attempts: 1, Err: errors.New("empty group document")}
	}

	info := GroupInfo{ID: groupID}
	if id := jidString(doc["id"]); id != "" {
		info.ID = id
	}
	info.Subject = firstString(doc, "subject", "name")
	if owner := jidString(doc["owner"]); owner != "" {
		info.Owner = identity.Normalize(owner)
	} else if owner := jidString(doc["ownerPn"]); owner != "" {
		info.Owner = identity.Normalize(owner)
	}
	if list, ok := doc["participants"].([]any); ok {
		info.Participants = participantsFromAny(list)
	} else if meta, ok := doc["groupMetadata"].(map[string]any); ok {
		if list, ok := meta["participants"].([]any); ok {
			info.Participants = participantsFromAny(list)
		}
	}
	return info, nil
}

// SetMessagesAdminOnly toggles whether only admins may post in the group.
func (c *Client) SetMessagesAdminOnly(ctx context.Context, groupID string, adminsOnly bool) error {
	path := c.groupPath(groupID, "/settings/security/messages-admin-only")
	return c.Do(ctx, http.MethodPut, path, map[string]bool{"adminsOnly": adminsOnly}, nil)
}

func (c *Client) AddParticipants(ctx context.Context, groupID string, ids []identity.ID) error {
	return c.changeParticipants(ctx, groupID, "add", ids)
}

func (c *Client) RemoveParticipants(ctx context.Context, groupID string, ids []identity.ID) error {
	return c.changeParticipants(ctx, groupID, "remove", ids)
}

type participantRef struct {
	ID string `json:"id"`
}

func (c *Client) changeParticipants(ctx context.Context, groupID, action string, ids []identity.ID) error {
	if len(ids) == 0 {
		return fmt.Errorf("%s participants: no ids", action)
	}
	refs := make([]participantRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, participantRef{ID: id.ChatID()})
	}
	path := c.groupPath(groupID, "/participants/"+action)
	return c.Do(ctx, http.MethodPost, path, map[string]any{"participants": refs}, nil)
}

func decodeParticipants(raw json.RawMessage) ([]roster.Participant, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return []roster.Participant{}, nil
	}
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err != nil {
		// Some engines wrap the list: {"participants": [...]}.
		var wrapped struct {
			Participants []map[string]any `json:"participants"`
		}
		if werr := json.Unmarshal(raw, &wrapped); werr != nil || wrapped.Participants == nil {
			return nil, fmt.Errorf("participants: %w", err)
		}
		list = wrapped.Participants
	}
	out := make([]roster.Participant, 0, len(list))
	for _, item := range list {
		if item != nil {
			out = append(out, roster.Participant(item))
		}
	}
	return out, nil
}

func participantsFromAny(list []any) []roster.Participant {
	out := make([]roster.Participant, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, roster.Participant(m))
		}
	}
	return out
}

// jidString accepts either a plain JID string or the {"_serialized": ...}
// object some engines send.
func jidString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		if s, ok := val["_serialized"].(string); ok {
			return strings.TrimSpace(s)
		}
		if user, ok := val["user"].(string); ok {
			if server, ok := val["server"].(string); ok && server != "" {
				return user + "@" + server
			}
			return user
		}
	}
	return ""
}

func firstString(doc map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := doc[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
