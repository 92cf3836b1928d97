package store

import (
	"time"

	"groupbot/internal/identity"
	"groupbot/internal/rbac"
)

const DefaultWelcomeTemplate = "Selamat datang di {group}, {name}! Semoga betah 😊"

type Settings struct {
	WelcomeEnabled         bool
	WelcomeMessageTemplate string
	TagAllScope            rbac.Scope
	PrayerReminderEnabled  bool
}

func DefaultSettings() Settings {
	return Settings{
		WelcomeEnabled:         true,
		WelcomeMessageTemplate: DefaultWelcomeTemplate,
		TagAllScope:            rbac.ScopeAdmin,
		PrayerReminderEnabled:  false,
	}
}

// SettingsPatch carries the fields a settings command changes. Nil fields are
// left alone.
type SettingsPatch struct {
	WelcomeEnabled         *bool
	WelcomeMessageTemplate *string
	TagAllScope            *rbac.Scope
	PrayerReminderEnabled  *bool
}

func (p SettingsPatch) IsZero() bool {
	return p.WelcomeEnabled == nil && p.WelcomeMessageTemplate == nil &&
		p.TagAllScope == nil && p.PrayerReminderEnabled == nil
}

// Apply returns s with the patch's non-nil fields set.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.WelcomeEnabled != nil {
		s.WelcomeEnabled = *p.WelcomeEnabled
	}
	if p.WelcomeMessageTemplate != nil {
		s.WelcomeMessageTemplate = *p.WelcomeMessageTemplate
	}
	if p.TagAllScope != nil {
		s.TagAllScope = *p.TagAllScope
	}
	if p.PrayerReminderEnabled != nil {
		s.PrayerReminderEnabled = *p.PrayerReminderEnabled
	}
	return s
}

// settingsDoc is the stored form: only explicitly set fields are present, so a
// change to a default later reaches every group that never overrode it.
type settingsDoc struct {
	WelcomeEnabled         *bool       `json:"welcomeEnabled,omitempty"`
	WelcomeMessageTemplate *string     `json:"welcomeMessageTemplate,omitempty"`
	TagAllScope            *rbac.Scope `json:"tagAllScope,omitempty"`
	PrayerReminderEnabled  *bool       `json:"prayerReminderEnabled,omitempty"`
}

func (d settingsDoc) resolve() Settings {
	s := DefaultSettings()
	if d.WelcomeEnabled != nil {
		s.WelcomeEnabled = *d.WelcomeEnabled
	}
	if d.WelcomeMessageTemplate != nil {
		s.WelcomeMessageTemplate = *d.WelcomeMessageTemplate
	}
	if d.TagAllScope != nil {
		s.TagAllScope = *d.TagAllScope
	}
	if d.PrayerReminderEnabled != nil {
		s.PrayerReminderEnabled = *d.PrayerReminderEnabled
	}
	return s
}

func (d *settingsDoc) apply(p SettingsPatch) {
	if p.WelcomeEnabled != nil {
		v := *p.WelcomeEnabled
		d.WelcomeEnabled = &v
	}
	if p.WelcomeMessageTemplate != nil {
		v := *p.WelcomeMessageTemplate
		d.WelcomeMessageTemplate = &v
	}
	if p.TagAllScope != nil {
		v := *p.TagAllScope
		d.TagAllScope = &v
	}
	if p.PrayerReminderEnabled != nil {
		v := *p.PrayerReminderEnabled
		d.PrayerReminderEnabled = &v
	}
}

// Group is the bot's cached view of one WhatsApp group. Admins is always a
// subset of Members.
type Group struct {
	ID         string
	Name       string
	OwnerPhone identity.ID
	Admins     identity.Set
	Members    identity.Set
	Settings   Settings
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (g Group) IsAdmin(id identity.ID) bool  { return g.Admins.Has(id) }
func (g Group) IsMember(id identity.ID) bool { return g.Members.Has(id) }

// Owner returns the recorded owner, or the first admin in sorted order when the
// platform never reported one.
func (g Group) Owner() identity.ID {
	if !g.OwnerPhone.IsZero() {
		return g.OwnerPhone
	}
	if admins := g.Admins.Sorted(); len(admins) > 0 {
		return admins[0]
	}
	return ""
}

// Roster is the roster half of a group as seen on the platform.
type Roster struct {
	Name       string
	OwnerPhone identity.ID
	Admins     identity.Set
	Members    identity.Set
}

// record is the persisted form shared by every backend.
type record struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	OwnerPhone identity.ID  `json:"ownerPhone"`
	Admins     identity.Set `json:"admins"`
	Members    identity.Set `json:"members"`
	Settings   settingsDoc  `json:"settings"`
	CreatedAt  int64        `json:"createdAt"`
	UpdatedAt  int64        `json:"updatedAt"`
}

func newRecord(id string, now time.Time) record {
	return record{
		ID:        id,
		Admins:    identity.Set{},
		Members:   identity.Set{},
		CreatedAt: now.UnixMilli(),
		UpdatedAt: now.UnixMilli(),
	}
}

func (r record) group() Group {
	return Group{
		ID:         r.ID,
		Name:       r.Name,
		OwnerPhone: r.OwnerPhone,
		Admins:     r.Admins.Clone(),
		Members:    r.Members.Clone(),
		Settings:   r.Settings.resolve(),
		CreatedAt:  time.UnixMilli(r.CreatedAt).UTC(),
		UpdatedAt:  time.UnixMilli(r.UpdatedAt).UTC(),
	}
}

func (r *record) ensureSets() {
	if r.Admins == nil {
		r.Admins = identity.Set{}
	}
	if r.Members == nil {
		r.Members = identity.Set{}
	}
}

// change mutates a record in place and reports whether it must be written.
// exists is false when the record was created for this call.
type change func(r *record, exists bool) bool

func replaceRoster(roster Roster) change {
	return func(r *record, _ bool) bool {
		if roster.Name != "" {
			r.Name = roster.Name
		}
		if !roster.OwnerPhone.IsZero() {
			r.OwnerPhone = roster.OwnerPhone
		}
		r.Admins = roster.Admins.Clone()
		r.Members = roster.Members.Clone()
		r.ensureSets()
		for id := range r.Admins {
			r.Members.Add(id)
		}
		return true
	}
}

func seedRoster(roster Roster) change {
	replace := replaceRoster(roster)
	return func(r *record, exists bool) bool {
		if exists {
			return false
		}
		return replace(r, exists)
	}
}

func addMembers(ids []identity.ID) change {
	return func(r *record, _ bool) bool {
		r.ensureSets()
		r.Members.Add(ids...)
		return true
	}
}

func removeMembers(ids []identity.ID) change {
	return func(r *record, _ bool) bool {
		r.ensureSets()
		r.Members.Remove(ids...)
		r.Admins.Remove(ids...)
		return true
	}
}

func promoteAdmins(ids []identity.ID) change {
	return func(r *record, _ bool) bool {
		r.ensureSets()
		r.Admins.Add(ids...)
		r.Members.Add(ids...)
		return true
	}
}

func demoteAdmins(ids []identity.ID) change {
	return func(r *record, _ bool) bool {
		r.ensureSets()
		r.Admins.Remove(ids...)
		return true
	}
}

func updateSettings(patch SettingsPatch) change {
	return func(r *record, _ bool) bool {
		r.Settings.apply(patch)
		return true
	}
}
