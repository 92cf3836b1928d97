package command

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"groupbot/internal/authority"
	"groupbot/internal/identity"
	"groupbot/internal/rbac"
	"groupbot/internal/roster"
	"groupbot/internal/store"
)

// Groups loads a group record, creating it from the platform if needed.
type Groups interface {
	Bootstrap(ctx context.Context, groupID string) (store.Group, error)
}

type SettingsUpdater interface {
	UpdateSettings(ctx context.Context, groupID string, patch store.SettingsPatch) (store.Group, error)
}

type Authority interface {
	AdminChecker
	Resolve(ctx context.Context, groupID, user string) authority.Decision
}

// Platform is the set of group actions commands perform on WhatsApp.
type Platform interface {
	Participants(ctx context.Context, groupID string) ([]roster.Participant, error)
	AddParticipants(ctx context.Context, groupID string, ids []identity.ID) error
	RemoveParticipants(ctx context.Context, groupID string, ids []identity.ID) error
	SetMessagesAdminOnly(ctx context.Context, groupID string, adminsOnly bool) error
}

type Deps struct {
	Groups    Groups
	Settings  SettingsUpdater
	Authority Authority
	Platform  Platform
	// NoMention lists identities /tagall never mentions. The bot is always
	// excluded.
	NoMention identity.Set
	BotID     identity.ID
	Logger    *slog.Logger
}

type handlers struct {
	Deps
	registry *Registry
}

// RegisterBuiltins adds the group-management commands to r.
func RegisterBuiltins(r *Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.NoMention == nil {
		deps.NoMention = identity.Set{}
	}
	h := &handlers{Deps: deps, registry: r}

	builtins := []Command{
		{Name: "/help", Description: "Tampilkan bantuan ini", Handler: h.help},
		{Name: "/settings", Description: "Lihat pengaturan grup", GroupOnly: true, Handler: h.settings},
		{Name: "/set", Description: "Ubah pengaturan grup", Usage: "/set <welcome|welcomemsg|tagall|sholat> <nilai>", AdminOnly: true, Handler: h.set},
		{Name: "/tagall", Description: "Mention semua anggota grup", GroupOnly: true, RateLimited: true, Authorize: h.authorizeTagAll, Handler: h.tagAll},
		{Name: "/kick", Description: "Kick member dari grup", Usage: "/kick <nomor>", AdminOnly: true, Handler: h.kick},
		{Name: "/add", Description: "Tambahkan member ke grup", Usage: "/add <nomor1,nomor2>", AdminOnly: true, Handler: h.add},
		{Name: "/closegroup", Description: "Tutup grup (hanya admin yang bisa chat)", AdminOnly: true, Handler: h.closeGroup},
		{Name: "/opengroup", Description: "Buka grup (semua bisa chat)", AdminOnly: true, Handler: h.openGroup},
		{Name: "/debugadmin", Description: "Cek status admin (debug)", GroupOnly: true, Handler: h.debugAdmin},
	}
	for _, cmd := range builtins {
		if err := r.Register(cmd); err != nil {
			return err
		}
	}
	return nil
}

func (h *handlers) help(ctx context.Context, inv Invocation) (Reply, error) {
	var general, admin []string
	for _, cmd := range h.registry.List() {
		line := cmd.Name + " - " + cmd.Description
		if cmd.Usage != "" {
			line = cmd.Usage + " - " + cmd.Description
		}
		if cmd.AdminOnly {
			admin = append(admin, line)
		} else {
			general = append(general, line)
		}
	}

	var b strings.Builder
	b.WriteString("🤖 *Daftar Perintah Bot*\n\n📋 *Umum*\n")
	b.WriteString(strings.Join(general, "\n"))
	if len(admin) > 0 {
		b.WriteString("\n\n👑 *Admin Only*\n")
		b.WriteString(strings.Join(admin, "\n"))
	}
	return Reply{Text: b.String()}, nil
}

func (h *handlers) settings(ctx context.Context, inv Invocation) (Reply, error) {
	g, err := h.Groups.Bootstrap(ctx, inv.ChatID)
	if err != nil {
		h.Logger.Warn("settings unavailable", "group", inv.ChatID, "error", err)
		return Reply{Text: "❌ Gagal mengambil pengaturan grup. Coba lagi nanti."}, nil
	}
	return Reply{Text: formatSettings(g)}, nil
}

func formatSettings(g store.Group) string {
	s := g.Settings
	mark := func(on bool) string {
		if on {
			return "✅ Status: *Aktif*"
		}
		return "❌ Status: *Nonaktif*"
	}
	name := g.Name
	if name == "" {
		name = g.ID
	}

	var b strings.Builder
	fmt.Fprintf(&b, "⚙️ *Pengaturan Grup: %s*\n\n", name)
	fmt.Fprintf(&b, "📢 *Welcome Message*\n%s\n", mark(s.WelcomeEnabled))
	if s.WelcomeEnabled {
		fmt.Fprintf(&b, "📝 Pesan: \"%s\"\n", s.WelcomeMessageTemplate)
	}
	fmt.Fprintf(&b, "\n🏷️ *Tagall Permission*\n👥 Siapa yang bisa tagall: *%s*\n", scopeLabel(s.TagAllScope))
	fmt.Fprintf(&b, "\n🕌 *Sholat Reminder*\n%s\n", mark(s.PrayerReminderEnabled))
	b.WriteString("\n━━━━━━━━━━━━━━━\n💡 Ketik /set untuk mengubah pengaturan")
	return b.String()
}

func scopeLabel(scope rbac.Scope) string {
	switch scope {
	case rbac.ScopeOwner:
		return "Owner Only"
	case rbac.ScopeMember:
		return "Semua Anggota"
	default:
		return "Admin Only"
	}
}

const setUsage = `⚙️ *Pengaturan Grup*

Usage:
• /set tagall admin - Hanya admin yang bisa pakai tagall
• /set tagall member - Semua orang bisa pakai tagall
• /set tagall owner - Hanya owner yang bisa pakai tagall
• /set welcome on - Aktifkan pesan welcome
• /set welcome off - Matikan pesan welcome
• /set welcomemsg <pesan> - Ubah pesan welcome ({group}, {name})
• /set sholat on - Aktifkan reminder sholat
• /set sholat off - Matikan reminder sholat`

func (h *handlers) set(ctx context.Context, inv Invocation) (Reply, error) {
	key, value, _ := strings.Cut(strings.TrimSpace(inv.Args), " ")
	key = strings.ToLower(key)
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return Reply{Text: setUsage}, nil
	}

	var (
		patch   store.SettingsPatch
		confirm string
	)
	switch key {
	case "welcome":
		on, ok := parseSwitch(value)
		if !ok {
			return Reply{Text: "❌ Nilai tidak valid. Gunakan: /set welcome on atau /set welcome off"}, nil
		}
		patch.WelcomeEnabled = &on
		confirm = "✅ Pesan *welcome dimatikan*."
		if on {
			confirm = "✅ Pesan *welcome diaktifkan*."
		}
	case "welcomemsg":
		patch.WelcomeMessageTemplate = &value
		confirm = "✅ Pesan welcome diubah menjadi:\n\"" + value + "\""
	case "tagall":
		if strings.EqualFold(value, "all") {
			value = string(rbac.ScopeMember)
		}
		scope, ok := rbac.ParseScope(value)
		if !ok {
			return Reply{Text: "❌ Nilai tidak valid. Gunakan: /set tagall admin, /set tagall member atau /set tagall owner"}, nil
		}
		patch.TagAllScope = &scope
		confirm = "✅ Pengaturan tagall diubah: *" + scopeLabel(scope) + "* yang bisa menggunakan tagall."
	case "sholat":
		on, ok := parseSwitch(value)
		if !ok {
			return Reply{Text: "❌ Nilai tidak valid. Gunakan: /set sholat on atau /set sholat off"}, nil
		}
		patch.PrayerReminderEnabled = &on
		confirm = "✅ Reminder *sholat dimatikan*."
		if on {
			confirm = "✅ Reminder *sholat diaktifkan*."
		}
	default:
		return Reply{Text: setUsage}, nil
	}

	// Make sure the record carries the real roster before settings create it.
	if _, err := h.Groups.Bootstrap(ctx, inv.ChatID); err != nil {
		h.Logger.Warn("bootstrap before settings update failed", "group", inv.ChatID, "error", err)
	}
	if _, err := h.Settings.UpdateSettings(ctx, inv.ChatID, patch); err != nil {
		h.Logger.Error("settings update failed", "group", inv.ChatID, "error", err)
		return Reply{Text: "❌ Gagal mengakses database grup. Silakan coba lagi."}, nil
	}
	return Reply{Text: confirm}, nil
}

func parseSwitch(value string) (bool, bool) {
	switch strings.ToLower(value) {
	case "on", "aktif", "true", "1":
		return true, true
	case "off", "nonaktif", "false", "0":
		return false, true
	default:
		return false, false
	}
}

// authorizeTagAll applies the group's tag-all scope. Without a readable record
// the default (admin) scope applies.
func (h *handlers) authorizeTagAll(ctx context.Context, inv Invocation) Verdict {
	scope := store.DefaultSettings().TagAllScope
	var owner identity.ID
	g, err := h.Groups.Bootstrap(ctx, inv.ChatID)
	if err != nil {
		h.Logger.Warn("tagall scope unavailable, using default", "group", inv.ChatID, "error", err)
	} else {
		scope = g.Settings.TagAllScope
		owner = g.Owner()
	}
	if scope == rbac.ScopeMember {
		return allow()
	}

	role := rbac.RoleMember
	switch {
	case !owner.IsZero() && owner == inv.Sender:
		role = rbac.RoleOwner
	case h.Authority.IsAdmin(ctx, inv.ChatID, string(inv.Sender)):
		role = rbac.RoleAdmin
	}
	if !rbac.Can(role, scope) {
		return deny(MsgAccessDenied, "tagall_scope_"+string(scope))
	}
	return allow()
}

func (h *handlers) tagAll(ctx context.Context, inv Invocation) (Reply, error) {
	var ids []identity.ID
	participants, err := h.Platform.Participants(ctx, inv.ChatID)
	if err == nil {
		for _, p := range participants {
			ids = append(ids, roster.Primary(p))
		}
	} else {
		g, gerr := h.Groups.Bootstrap(ctx, inv.ChatID)
		if gerr != nil {
			return Reply{}, fmt.Errorf("tagall members: %w", err)
		}
		h.Logger.Warn("tagall using cached members", "group", inv.ChatID, "error", err)
		ids = g.Members.Sorted()
	}

	mentions := h.mentionable(ids)
	if len(mentions) == 0 {
		return Reply{Text: "ℹ️ Tidak ada anggota yang bisa di-mention."}, nil
	}

	tags := make([]string, len(mentions))
	for i, id := range mentions {
		tags[i] = "@" + string(id)
	}
	text := strings.Join(tags, " ")
	if inv.Args != "" {
		text = inv.Args + "\n\n" + text
	}
	return Reply{Text: text, Mentions: mentions}, nil
}

func (h *handlers) mentionable(ids []identity.ID) []identity.ID {
	seen := identity.Set{}
	out := make([]identity.ID, 0, len(ids))
	for _, id := range ids {
		if id.IsZero() || id == h.BotID || h.NoMention.Has(id) || seen.Has(id) {
			continue
		}
		seen.Add(id)
		out = append(out, id)
	}
	return out
}

// targetID accepts a number as typed or as a mention ("@628123").
func targetID(raw string) identity.ID {
	return identity.Normalize(strings.TrimPrefix(strings.TrimSpace(raw), "@"))
}

func (h *handlers) kick(ctx context.Context, inv Invocation) (Reply, error) {
	target := targetID(inv.Args)
	if target.IsZero() {
		return Reply{Text: "⚠️ Format: /kick <nomor_telepon>\nContoh: /kick 628123456789"}, nil
	}
	if target == h.BotID {
		return Reply{Text: "❌ Bot tidak bisa mengeluarkan dirinya sendiri."}, nil
	}
	if err := h.Platform.RemoveParticipants(ctx, inv.ChatID, []identity.ID{target}); err != nil {
		h.Logger.Warn("kick failed", "group", inv.ChatID, "target", target, "error", err)
		return Reply{Text: "❌ Gagal mengeluarkan member " + string(target) + ". Pastikan bot adalah admin grup."}, nil
	}
	return Reply{Text: "✅ Berhasil mengeluarkan member " + string(target) + " dari grup."}, nil
}

func (h *handlers) add(ctx context.Context, inv Invocation) (Reply, error) {
	var targets []identity.ID
	seen := identity.Set{}
	for _, raw := range strings.FieldsFunc(inv.Args, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		if id := targetID(raw); !id.IsZero() && !seen.Has(id) {
			seen.Add(id)
			targets = append(targets, id)
		}
	}
	if len(targets) == 0 {
		return Reply{Text: "⚠️ Format: /add <nomor1,nomor2>\nContoh: /add 628123456789,628987654321"}, nil
	}
	if err := h.Platform.AddParticipants(ctx, inv.ChatID, targets); err != nil {
		h.Logger.Warn("add failed", "group", inv.ChatID, "targets", len(targets), "error", err)
		return Reply{Text: "❌ Gagal menambahkan member. Pastikan bot adalah admin grup."}, nil
	}
	return Reply{Text: fmt.Sprintf("✅ Berhasil menambahkan %d member ke grup.", len(targets))}, nil
}

func (h *handlers) closeGroup(ctx context.Context, inv Invocation) (Reply, error) {
	if err := h.Platform.SetMessagesAdminOnly(ctx, inv.ChatID, true); err != nil {
		h.Logger.Warn("close group failed", "group", inv.ChatID, "error", err)
		return Reply{Text: "❌ Gagal menutup grup. Pastikan bot adalah admin grup."}, nil
	}
	return Reply{Text: "🔒 Grup ditutup. Sekarang hanya admin yang bisa mengirim pesan."}, nil
}

func (h *handlers) openGroup(ctx context.Context, inv Invocation) (Reply, error) {
	if err := h.Platform.SetMessagesAdminOnly(ctx, inv.ChatID, false); err != nil {
		h.Logger.Warn("open group failed", "group", inv.ChatID, "error", err)
		return Reply{Text: "❌ Gagal membuka grup. Pastikan bot adalah admin grup."}, nil
	}
	return Reply{Text: "🔓 Grup dibuka. Semua anggota bisa mengirim pesan."}, nil
}

// debugAdmin reports the admin verdict. Every non-admin verdict renders the
// same text; source, reason and error are only logged.
func (h *handlers) debugAdmin(ctx context.Context, inv Invocation) (Reply, error) {
	d := h.Authority.Resolve(ctx, inv.ChatID, string(inv.Sender))
	attrs := []any{"group", inv.ChatID, "user", inv.Sender, "admin", d.Admin, "source", d.Source, "reason", d.Reason}
	if d.Err != nil {
		attrs = append(attrs, "error", d.Err)
	}
	h.Logger.Info("debug admin", attrs...)

	var b strings.Builder
	b.WriteString("🔍 *Debug Admin Status*\n\n")
	fmt.Fprintf(&b, "📱 *Your ID:* %s\n🏠 *Group ID:* %s\n\n", inv.Sender, inv.ChatID)
	fmt.Fprintf(&b, "👑 *Admin:* %v\n", d.Admin)

	p, ok := h.liveParticipant(ctx, inv, d)
	if !ok {
		b.WriteString("\nℹ️ Data peserta tidak tersedia.")
		return Reply{Text: b.String()}, nil
	}

	match := roster.Explain(p)
	fmt.Fprintf(&b, "📏 *Aturan:* %s\n", match.Rule)
	b.WriteString("\n📋 *Your User Data:*\n")
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		marker := "📝"
		if key == match.Field {
			marker = "👑"
		}
		value, _ := json.Marshal(p[key])
		fmt.Fprintf(&b, "%s %s: %s\n", marker, key, value)
	}
	return Reply{Text: strings.TrimRight(b.String(), "\n")}, nil
}

// liveParticipant returns the sender's roster entry when the verdict came from
// a live admin match.
func (h *handlers) liveParticipant(ctx context.Context, inv Invocation, d authority.Decision) (roster.Participant, bool) {
	if !d.Admin || d.Source != authority.SourceLive {
		return nil, false
	}
	participants, err := h.Platform.Participants(ctx, inv.ChatID)
	if err != nil {
		return nil, false
	}
	return roster.Find(participants, inv.Sender)
}
