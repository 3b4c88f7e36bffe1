package model

import "time"

// ScheduleRule is a declarative recurring extraction: a cron expression in a
// timezone, plus the scope it applies to. Rules are created by operators and
// only read by the engine; the scheduler turns due rules into PENDING
// searches.
type ScheduleRule struct {
	ID          uint64 `gorm:"primaryKey"`
	Name        string `gorm:"uniqueIndex;size:128;not null"`
	CronExpr    string `gorm:"size:128;not null"`
	Timezone    string `gorm:"size:64;not null;default:UTC"`
	Enabled     bool   `gorm:"index;not null;default:true"`
	Description string `gorm:"size:512"`
	// HotelID nil applies the rule to every hotel in the catalog; PropertyID
	// nil covers all active properties of each targeted hotel.
	HotelID    *uint64
	PropertyID *uint64
	// WindowDays is the number of check-in dates each fired search covers,
	// starting tomorrow.
	WindowDays int       `gorm:"not null;default:7"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}
