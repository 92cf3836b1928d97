// Package reminder sends the daily prayer reminder to every group that turned
// it on with /set sholat on.
package reminder

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultSchedule is the WIB timetable used when PRAYER_TIMES is unset.
const DefaultSchedule = "Subuh=04:40,Dzuhur=11:55,Ashar=15:25,Maghrib=18:00,Isya=19:15"

// Prayer is one daily reminder slot in the scheduler's location.
type Prayer struct {
	Name   string
	Hour   int
	Minute int
}

func (p Prayer) Clock() string {
	return fmt.Sprintf("%02d:%02d", p.Hour, p.Minute)
}

// on returns the slot's instant on the calendar day of day.
func (p Prayer) on(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, p.Hour, p.Minute, 0, 0, day.Location())
}

var quotes = map[string]string{
	"subuh":   `"Dan dirikanlah shalat di dua ujung hari (pagi dan petang) dan pada bagian permulaan malam." (QS. Hud: 114)`,
	"dzuhur":  `"Sesungguhnya shalat itu adalah fardhu yang ditentukan waktunya atas orang-orang yang beriman." (QS. An-Nisa: 103)`,
	"ashar":   `"Peliharalah semua shalat (mu), terutama shalat wustha (ashar). Dan berdirilah untuk Allah dengan khusyuk." (QS. Al-Baqarah: 238)`,
	"maghrib": `"Maka sabarlah atas apa yang mereka katakan dan bertasbihlah dengan memuji Tuhanmu sebelum terbit matahari dan sebelum terbenamnya." (QS. Qaf: 39)`,
	"isya":    `"Dan pada sebagian malam, maka kerjakanlah shalat tahajud sebagai tambahan bagimu." (QS. Al-Isra: 79)`,
}

// ParseSchedule reads "Name=HH:MM" pairs separated by commas. The result is
// ordered by time of day.
func ParseSchedule(raw string) ([]Prayer, error) {
	var out []Prayer
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, clock, ok := strings.Cut(part, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("prayer slot %q: want Name=HH:MM", part)
		}
		hh, mm, ok := strings.Cut(strings.TrimSpace(clock), ":")
		hour, herr := strconv.Atoi(hh)
		minute, merr := strconv.Atoi(mm)
		if !ok || herr != nil || merr != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("prayer slot %q: invalid time %q", name, clock)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("prayer slot %q listed twice", name)
		}
		seen[key] = true
		out = append(out, Prayer{Name: name, Hour: hour, Minute: minute})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Hour*60+out[i].Minute < out[j].Hour*60+out[j].Minute
	})
	return out, nil
}

var (
	weekdays = [...]string{"Minggu", "Senin", "Selasa", "Rabu", "Kamis", "Jumat", "Sabtu"}
	months   = [...]string{"Januari", "Februari", "Maret", "April", "Mei", "Juni", "Juli", "Agustus", "September", "Oktober", "November", "Desember"}
)

// longDate renders t the way id-ID long dates read, e.g. "Sabtu, 17 Oktober 2026".
func longDate(t time.Time) string {
	return fmt.Sprintf("%s, %d %s %d", weekdays[t.Weekday()], t.Day(), months[t.Month()-1], t.Year())
}

// Message is the reminder text for slot p due at at.
func Message(p Prayer, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🕌 *Waktunya Sholat %s*\n\n", p.Name)
	fmt.Fprintf(&b, "📅 %s\n", longDate(at))
	fmt.Fprintf(&b, "⏰ Waktu: %s %s\n\n", p.Clock(), at.Format("MST"))
	if quote, ok := quotes[strings.ToLower(p.Name)]; ok {
		b.WriteString(quote + "\n\n")
	}
	b.WriteString("Semoga sholat kita diterima oleh Allah SWT. 🤲")
	return b.String()
}
