package command

import (
	"context"
)

const (
	MsgGroupOnly    = "❌ Maaf, perintah ini hanya bisa digunakan di grup."
	MsgAccessDenied = "❌ Maaf, hanya admin yang bisa menggunakan perintah ini."
	MsgRateLimited  = "⏳ Perintah ini sudah terlalu sering dipakai. Coba lagi dalam %d menit."
	MsgFailed       = "❌ Terjadi kesalahan. Coba lagi nanti."
)

type Verdict struct {
	Allowed bool
	// Message is the text sent to the user on denial.
	Message string
	// Reason is for logs and metrics only.
	Reason string
}

func allow() Verdict { return Verdict{Allowed: true} }

func deny(message, reason string) Verdict {
	return Verdict{Message: message, Reason: reason}
}

// AdminChecker answers the admin question; it never fails, it denies.
type AdminChecker interface {
	IsAdmin(ctx context.Context, groupID, user string) bool
}

type Gate struct {
	admins AdminChecker
}

func NewGate(admins AdminChecker) *Gate {
	return &Gate{admins: admins}
}

// Check applies the group-only rule, then the admin rule, then the command's
// own authorizer. Admin-only commands are implicitly group-only.
func (g *Gate) Check(ctx context.Context, cmd Command, inv Invocation) Verdict {
	if (cmd.GroupOnly || cmd.AdminOnly) && !inv.IsGroup() {
		return deny(MsgGroupOnly, "group_only")
	}
	if cmd.AdminOnly && !g.admins.IsAdmin(ctx, inv.ChatID, string(inv.Sender)) {
		return deny(MsgAccessDenied, "not_admin")
	}
	if cmd.Authorize != nil {
		if v := cmd.Authorize(ctx, inv); !v.Allowed {
			if v.Message == "" {
				v.Message = MsgAccessDenied
			}
			return v
		}
	}
	return allow()
}
