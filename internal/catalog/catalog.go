// Package catalog is the fixed slot catalog: which days, times and seat
// counts each program offers per age category. Pure lookup, no state.
package catalog

import "strings"

// DayAny marks a slot bookable on any weekday rather than a fixed one.
const DayAny = "any"

// Slot is one bookable (day-pattern, time) option with its seat ceiling.
type Slot struct {
	DayPattern string // lowercase day token, or DayAny
	Time       string
	Capacity   int
}

// Seat ceilings per program type.
const (
	GroupCapacity       = 6  // players per day
	PrivateCapacity     = 1  // one session owns the (day, time)
	SemiPrivatePlayers  = 2  // logical players per session
	SundayCapacityDflt  = 15 // default when no explicit row exists
)

var groupSlots = map[string][]Slot{
	"M9":  {{DayAny, "16:00-17:00", GroupCapacity}},
	"M11": {{DayAny, "16:00-17:00", GroupCapacity}},
	"M13": {{DayAny, "17:00-18:00", GroupCapacity}},
	"M15": {{DayAny, "18:00-19:00", GroupCapacity}},
	"M18": {{DayAny, "19:00-20:00", GroupCapacity}},
}

var privateSlots = map[string][]Slot{
	"M9":  {{DayAny, "07:00-08:00", PrivateCapacity}, {DayAny, "15:00-16:00", PrivateCapacity}},
	"M11": {{DayAny, "07:00-08:00", PrivateCapacity}, {DayAny, "15:00-16:00", PrivateCapacity}},
	"M13": {{DayAny, "07:00-08:00", PrivateCapacity}, {DayAny, "20:00-21:00", PrivateCapacity}},
	"M15": {{DayAny, "07:00-08:00", PrivateCapacity}, {DayAny, "20:00-21:00", PrivateCapacity}},
	"M18": {{DayAny, "07:00-08:00", PrivateCapacity}, {DayAny, "21:00-22:00", PrivateCapacity}},
}

// Sunday ice windows by age category. Older categories (M18, Junior) skate
// with the seniors and are not Sunday-eligible here.
var sundayWindows = map[string]string{
	"M9":  "09:00-10:00",
	"M11": "09:00-10:00",
	"M13": "10:30-11:30",
	"M15": "10:30-11:30",
}

// Capacity returns the seat ceiling for a program type. Semi-private
// reports 1 because the (day, time) is owned by a single two-player
// session; the player count lives in SemiPrivatePlayers.
func Capacity(programType string) int {
	switch programType {
	case "group":
		return GroupCapacity
	case "private", "semi_private":
		return PrivateCapacity
	case "sunday":
		return SundayCapacityDflt
	}
	return 0
}

// AssignedSlots returns the catalog slots for (programType, ageCategory),
// or nil when the category has no offering for that program.
func AssignedSlots(programType, ageCategory string) []Slot {
	cat := normCategory(ageCategory)
	switch programType {
	case "group":
		return groupSlots[cat]
	case "private", "semi_private":
		return privateSlots[cat]
	case "sunday":
		if w, ok := sundayWindows[cat]; ok {
			return []Slot{{"sunday", w, SundayCapacityDflt}}
		}
	}
	return nil
}

// SundayWindow returns the Sunday-eligible time window for a category, or
// ok=false for ineligible categories.
func SundayWindow(ageCategory string) (string, bool) {
	w, ok := sundayWindows[normCategory(ageCategory)]
	return w, ok
}

func normCategory(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
