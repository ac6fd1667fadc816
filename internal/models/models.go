package models

import "time"

type Parent struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	UID   string `gorm:"uniqueIndex;not null"` // stable external identity, also keys the credit ledger
	Name  string
	Phone string
	Email string

	Players []Player
}

type Player struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Name        string
	BirthDate   time.Time
	AgeCategory string // e.g. "M9", "M11", "M13", "M15", "M18"

	ParentID uint
	Parent   Parent
}

// Program types. Semi-private seats two players in one session slot.
const (
	ProgramGroup       = "group"
	ProgramPrivate     = "private"
	ProgramSemiPrivate = "semi_private"
	ProgramSunday      = "sunday"
)

// Registration statuses. Registrations are never hard-deleted.
const (
	RegistrationActive    = "active"
	RegistrationCancelled = "cancelled"
)

// Registration is one player's enrollment in a program.
// SelectedDays holds lowercase day tokens joined by commas ("monday,wednesday").
type Registration struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ParentID uint
	Parent   Parent
	PlayerID uint
	Player   Player

	ProgramType  string // group | private | semi_private | sunday
	AgeCategory  string
	Frequency    string // 1x | 2x
	SelectedDays string
	TimeSlot     string // e.g. "16:00-17:00"

	Status string // active | cancelled
}

// ScheduleException statuses.
const (
	ExceptionApplied   = "applied"
	ExceptionCancelled = "cancelled"
)

// ScheduleException is a one-time override of a registration's recurring
// schedule, scoped to a single calendar date. At most one applied row per
// (registration, date); the partial unique index in db.Open backs that up.
type ScheduleException struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	RegistrationID  uint   `gorm:"index"`
	ExceptionDate   string `gorm:"index"` // YYYY-MM-DD, venue-local
	ExceptionType   string // always "swap" today
	OriginalDay     string
	ReplacementDay  string
	ReplacementTime string

	Status string // applied | cancelled
}

// ScheduleChange is the append-only audit row for a reschedule action.
type ScheduleChange struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time

	RegistrationID uint   `gorm:"index"`
	ChangeType     string // one_time | permanent
	OriginalDays   string
	NewDays        string
	OriginalTime   string
	NewTime        string
	Status         string // approved
	Reason         string
}

// Pairing statuses.
const (
	PairingActive    = "active"
	PairingDissolved = "dissolved"
)

// SemiPrivatePairing joins two semi-private registrations into one session.
// A registration belongs to at most one active pairing at a time.
type SemiPrivatePairing struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	PairGroupID string `gorm:"index"` // uuid shared by the pairing and its notifications

	Player1RegistrationID uint `gorm:"index"`
	Player2RegistrationID uint `gorm:"index"`

	ScheduledDay  string
	ScheduledTime string

	Status          string // active | dissolved
	DissolvedReason string
	DissolvedAt     *time.Time
}

// Waitlist statuses.
const (
	WaitlistWaiting = "waiting"
	WaitlistPaired  = "paired"
)

// UnpairedSemiPrivate is the partner waitlist. One row per registration,
// upsert semantics. Preferred fields are comma-joined lists.
type UnpairedSemiPrivate struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	RegistrationID     uint `gorm:"uniqueIndex"`
	AgeCategory        string
	PreferredDays      string
	PreferredTimeSlots string

	Status            string // waiting | paired
	UnpairedSinceDate string // YYYY-MM-DD
}

// Pause reasons set by the recurring processor.
const (
	PausedInsufficientCredits = "insufficient_credits"
	PausedSlotUnavailable     = "slot_unavailable"
)

// RecurringSchedule is a parent opt-in to automatic weekly credit-funded
// booking. NextBookingDate only ever advances by 7 days per cycle;
// IsActive=false is terminal until Resume.
type RecurringSchedule struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ParentUID      string `gorm:"index"`
	RegistrationID uint   `gorm:"index"`

	SessionType     string // group for now
	TimeSlot        string
	NextBookingDate string // YYYY-MM-DD
	LastBookedDate  string // YYYY-MM-DD, empty until first booking

	IsActive     bool
	PausedReason string
}

// Booking statuses. Cancellation is a status flip, never a delete, so
// capacity counts reflect the freed seat immediately.
const (
	BookingBooked    = "booked"
	BookingCancelled = "cancelled"
)

// SessionBooking is a concrete dated occurrence of a session.
type SessionBooking struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	RegistrationID uint   `gorm:"index"`
	SessionType    string
	SessionDate    string `gorm:"index"` // YYYY-MM-DD
	TimeSlot       string

	Status      string // booked | cancelled
	CreditsUsed int
	PurchaseRef string // credit purchase the deduction drew from

	IsRecurring         bool
	RecurringScheduleID *uint

	Code string `gorm:"uniqueIndex"` // e.g. BK-123456, used by the QR endpoint
}

// SundaySlot is an explicit capacity row for Sunday ice. Unlike group and
// private slots (derived by scanning registrations), Sunday occupancy is a
// running counter updated by conditional writes.
type SundaySlot struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	SlotDate string `gorm:"index:idx_sunday_date_time,unique"` // YYYY-MM-DD
	TimeSlot string `gorm:"index:idx_sunday_date_time,unique"`

	Capacity int
	Booked   int
}

// CreditPurchase backs the reference credit ledger. Remaining is drawn
// down one session at a time, oldest purchase first.
type CreditPurchase struct {
	ID        uint `gorm:"primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time

	ParentUID string `gorm:"index"`
	Credits   int
	Remaining int
}
