package model

import "time"

// LockStatus is the state of an extraction lease. RUNNING is the only live
// state; finished leases are deleted rather than kept around.
type LockStatus string

const LockRunning LockStatus = "RUNNING"

// ExtractionLock is a persisted per-hotel lease. At most one row exists per
// hotel (HotelID is the primary key), which is the invariant that keeps two
// workers from driving browser sessions against the same hotel's competitor
// set at the same time. The owning worker renews the lease while it works;
// leases whose RenewedAt falls behind the staleness window are reclaimed.
type ExtractionLock struct {
	HotelID uint64 `gorm:"primaryKey"`
	// Token identifies the worker that owns the lease. Release and renew are
	// fenced on it so a reclaimed-and-reacquired lease cannot be released by
	// the previous owner.
	Token     string     `gorm:"size:36;not null"`
	Status    LockStatus `gorm:"size:16;not null"`
	CreatedAt time.Time  `gorm:"not null"`
	RenewedAt time.Time  `gorm:"index;not null"`
}
