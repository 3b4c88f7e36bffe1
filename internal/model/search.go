package model

import "time"

// SearchStatus is the lifecycle state of a Search.
//
// Transitions are PENDING -> RUNNING -> {COMPLETED, CANCELLED, FAILED}, plus an
// explicit cancel while still PENDING. Terminal states are final.
type SearchStatus string

const (
	SearchPending   SearchStatus = "PENDING"
	SearchRunning   SearchStatus = "RUNNING"
	SearchCompleted SearchStatus = "COMPLETED"
	SearchCancelled SearchStatus = "CANCELLED"
	SearchFailed    SearchStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s SearchStatus) Terminal() bool {
	return s == SearchCompleted || s == SearchCancelled || s == SearchFailed
}

// Search is one extraction job: a date range scraped for one property of a
// hotel, or for all of the hotel's active properties when PropertyID is nil.
// Searches are never deleted, only superseded by newer ones.
type Search struct {
	ID      uint64 `gorm:"primaryKey"`
	HotelID uint64 `gorm:"index;not null"`
	// PropertyID narrows the search to a single property; nil targets every
	// active property of the hotel.
	PropertyID *uint64
	StartDate  time.Time `gorm:"not null"`
	EndDate    time.Time `gorm:"not null"`
	// TotalDates counts (property, check-in date) units requested;
	// ProcessedDates counts units scraped so far. processed <= total always.
	TotalDates       int          `gorm:"not null"`
	ProcessedDates   int          `gorm:"not null"`
	Status           SearchStatus `gorm:"size:16;index;not null"`
	TotalPricesFound int          `gorm:"not null"`
	DurationSeconds  int          `gorm:"not null"`
	// RetryCount tracks how many times a stale RUNNING search was put back to
	// PENDING by reconciliation.
	RetryCount  int    `gorm:"not null"`
	LastError   string `gorm:"size:1024"`
	CreatedAt   time.Time `gorm:"not null"`
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// CheckInDates enumerates the check-in dates covered by the search, inclusive
// of StartDate and exclusive of EndDate (the last night checks out on EndDate).
func (s *Search) CheckInDates() []time.Time {
	var dates []time.Time
	for d := s.StartDate; d.Before(s.EndDate); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}
