// Package events decodes platform webhook envelopes into typed events.
//
// Business logic never sees raw payloads: Decode either returns one of the
// variants below or an error.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"groupbot/internal/identity"
	"groupbot/internal/roster"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed event")
)

// Platform event names.
const (
	NameGroupJoin         = "group.v2.join"
	NameGroupParticipants = "group.v2.participants"
	NameGroupLeave        = "group.v2.leave"
	NameMessage           = "message"
	NameMessageAny        = "message.any"
)

type Kind string

const (
	KindBotJoined           Kind = "bot_joined"
	KindParticipantsChanged Kind = "participants_changed"
	KindBotRemoved          Kind = "bot_removed"
	KindMessage             Kind = "message"
)

type Event interface {
	Kind() Kind
	// Chat is the group or direct chat the event belongs to.
	Chat() string
}

type Action string

const (
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionPromote Action = "promote"
	ActionDemote  Action = "demote"
)

// BotJoinedGroup carries the full roster snapshot the platform sends when the
// bot is added to a group.
type BotJoinedGroup struct {
	GroupID      string
	Name         string
	Owner        identity.ID
	Participants []roster.Participant
}

type ParticipantsChanged struct {
	GroupID      string
	GroupName    string
	Action       Action
	Participants []roster.Participant
	Author       identity.ID
}

type BotRemovedFromGroup struct {
	GroupID string
}

type MessageReceived struct {
	ID          string
	ChatID      string
	From        string
	Participant string
	Body        string
	FromMe      bool
}

func (BotJoinedGroup) Kind() Kind      { return KindBotJoined }
func (ParticipantsChanged) Kind() Kind { return KindParticipantsChanged }
func (BotRemovedFromGroup) Kind() Kind { return KindBotRemoved }
func (MessageReceived) Kind() Kind     { return KindMessage }

func (e BotJoinedGroup) Chat() string      { return e.GroupID }
func (e ParticipantsChanged) Chat() string { return e.GroupID }
func (e BotRemovedFromGroup) Chat() string { return e.GroupID }
func (e MessageReceived) Chat() string     { return e.ChatID }

// IDs returns the primary identity of every affected participant.
func (e ParticipantsChanged) IDs() []identity.ID {
	out := make([]identity.ID, 0, len(e.Participants))
	for _, p := range e.Participants {
		if id := roster.Primary(p); !id.IsZero() {
			out = append(out, id)
		}
	}
	return out
}

// IsGroup reports whether the message was posted in a group chat.
func (m MessageReceived) IsGroup() bool { return identity.IsGroupChat(m.ChatID) }

// Sender is the author: the participant field in groups, the chat otherwise.
func (m MessageReceived) Sender() identity.ID {
	if m.Participant != "" {
		return identity.Normalize(m.Participant)
	}
	return identity.Normalize(m.From)
}

// Envelope is the outer webhook document.
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Event   string          `json:"event"`
	Session string          `json:"session"`
	Payload json.RawMessage `json:"payload"`
	Me      *Me             `json:"me,omitempty"`
}

type Me struct {
	ID       string `json:"id"`
	PushName string `json:"pushName,omitempty"`
}

// Decoder turns envelopes into events. BotID identifies the bot when the
// envelope carries no "me" block.
type Decoder struct {
	BotID identity.ID
}

func (d Decoder) Decode(data []byte) (Envelope, Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	ev, err := d.DecodeEnvelope(env)
	return env, ev, err
}

func (d Decoder) DecodeEnvelope(env Envelope) (Event, error) {
	var payload map[string]any
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Event, err)
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	switch env.Event {
	case NameGroupJoin:
		return decodeJoin(payload)
	case NameGroupParticipants:
		return d.decodeParticipants(env, payload)
	case NameGroupLeave:
		groupID := groupIDOf(payload)
		if groupID == "" {
			return nil, fmt.Errorf("%w: %s without group id", ErrMalformed, env.Event)
		}
		return BotRemovedFromGroup{GroupID: groupID}, nil
	case NameMessage, NameMessageAny:
		return decodeMessage(payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// decodeJoin accepts both the flat form {id, name, owner, participants} and the
// nested form {group: {id, subject, participants}}.
func decodeJoin(payload map[string]any) (Event, error) {
	src := payload
	if group, ok := payload["group"].(map[string]any); ok {
		src = group
	}
	ev := BotJoinedGroup{
		GroupID:      jid(src["id"]),
		Name:         firstString(src, "subject", "name"),
		Owner:        identity.Normalize(jid(src["owner"])),
		Participants: participantList(src["participants"]),
	}
	if len(ev.Participants) == 0 {
		ev.Participants = participantList(payload["participants"])
	}
	if ev.GroupID == "" {
		return nil, fmt.Errorf("%w: %s without group id", ErrMalformed, NameGroupJoin)
	}
	return ev, nil
}

func (d Decoder) decodeParticipants(env Envelope, payload map[string]any) (Event, error) {
	groupID := groupIDOf(payload)
	if groupID == "" {
		return nil, fmt.Errorf("%w: %s without group id", ErrMalformed, NameGroupParticipants)
	}

	var action Action
	switch strings.ToLower(stringOf(payload["type"])) {
	case "join", "add":
		action = ActionAdd
	case "leave", "remove":
		action = ActionRemove
	case "promote":
		action = ActionPromote
	case "demote":
		action = ActionDemote
	default:
		return nil, fmt.Errorf("%w: participants type %q", ErrUnknownEvent, stringOf(payload["type"]))
	}

	participants := participantList(payload["participants"])
	if action == ActionRemove && d.containsBot(env, participants) {
		return BotRemovedFromGroup{GroupID: groupID}, nil
	}

	name := ""
	if group, ok := payload["group"].(map[string]any); ok {
		name = firstString(group, "subject", "name")
	}
	return ParticipantsChanged{
		GroupID:      groupID,
		GroupName:    name,
		Action:       action,
		Participants: participants,
		Author:       identity.Normalize(jid(payload["author"])),
	}, nil
}

func (d Decoder) containsBot(env Envelope, participants []roster.Participant) bool {
	bots := identity.NewSet()
	bots.Add(d.BotID)
	if env.Me != nil {
		bots.Add(identity.Normalize(env.Me.ID))
	}
	if bots.Len() == 0 {
		return false
	}
	for _, p := range participants {
		for _, id := range roster.Identities(p) {
			if bots.Has(id) {
				return true
			}
		}
	}
	return false
}

func decodeMessage(payload map[string]any) (Event, error) {
	msg := MessageReceived{
		ID:          jid(payload["id"]),
		From:        jid(payload["from"]),
		Participant: jid(payload["participant"]),
		Body:        stringOf(payload["body"]),
	}
	if fromMe, ok := payload["fromMe"].(bool); ok {
		msg.FromMe = fromMe
	}
	msg.ChatID = msg.From
	if msg.FromMe {
		// Own messages report the recipient chat in "to".
		if to := jid(payload["to"]); to != "" {
			msg.ChatID = to
		}
	}
	if msg.ChatID == "" {
		return nil, fmt.Errorf("%w: message without chat id", ErrMalformed)
	}
	return msg, nil
}

func groupIDOf(payload map[string]any) string {
	if group, ok := payload["group"].(map[string]any); ok {
		if id := jid(group["id"]); id != "" {
			return id
		}
	}
	if id := jid(payload["groupId"]); id != "" {
		return id
	}
	if id := jid(payload["chatId"]); id != "" {
		return id
	}
	if id := jid(payload["id"]); identity.IsGroupChat(id) {
		return id
	}
	return ""
}

func participantList(v any) []roster.Participant {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]roster.Participant, 0, len(list))
	for _, item := range list {
		switch p := item.(type) {
		case map[string]any:
			out = append(out, roster.Participant(p))
		case string:
			// Some engines send bare JIDs.
			out = append(out, roster.Participant{"id": p})
		}
	}
	return out
}

func jid(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case map[string]any:
		if s, ok := val["_serialized"].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func stringOf(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringOf(m[key]); s != "" {
			return s
		}
	}
	return ""
}
