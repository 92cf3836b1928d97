// Package command routes slash-commands from chat messages to handlers.
//
// A message flows through Dispatcher: parse, lookup, Gate (group-only, admin,
// per-command authorization), rate limit, handler, reply. Denials always use
// the same fixed texts so users cannot tell "not admin" from "could not check".
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"groupbot/internal/identity"
)

// Invocation is one parsed command message.
type Invocation struct {
	Name      string
	Args      string
	ChatID    string
	Sender    identity.ID
	MessageID string
}

func (inv Invocation) IsGroup() bool { return identity.IsGroupChat(inv.ChatID) }

// Fields splits Args on whitespace.
func (inv Invocation) Fields() []string { return strings.Fields(inv.Args) }

// Reply is what a handler wants sent back to the chat. An empty Text sends
// nothing.
type Reply struct {
	Text     string
	Mentions []identity.ID
}

type Handler func(ctx context.Context, inv Invocation) (Reply, error)

// Authorizer is an extra per-command check run by the gate after the standard
// ones.
type Authorizer func(ctx context.Context, inv Invocation) Verdict

type Command struct {
	Name        string
	Description string
	Usage       string
	AdminOnly   bool
	GroupOnly   bool
	RateLimited bool
	Authorize   Authorizer
	Handler     Handler
}

type Registry struct {
	commands map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{commands: map[string]Command{}}
}

func (r *Registry) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if !strings.HasPrefix(name, "/") || len(name) < 2 || strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("invalid command name %q", cmd.Name)
	}
	if cmd.Handler == nil {
		return fmt.Errorf("command %s has no handler", name)
	}
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("command %s already registered", name)
	}
	cmd.Name = name
	r.commands[name] = cmd
	return nil
}

func (r *Registry) Lookup(name string) (Command, bool) {
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// List returns every command sorted by name.
func (r *Registry) List() []Command {
	out := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Parse splits "/name args" into its parts. ok is false for non-commands.
func Parse(body string) (name, args string, ok bool) {
	text := strings.TrimSpace(body)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return "", "", false
	}
	name, args, _ = strings.Cut(text, " ")
	if nl := strings.IndexAny(name, "\r\n"); nl >= 0 {
		args = strings.TrimSpace(name[nl:] + " " + args)
		name = name[:nl]
	}
	return strings.ToLower(name), strings.TrimSpace(args), true
}
