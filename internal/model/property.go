package model

import "time"

// Platform identifies the booking platform a property is listed on. It selects
// the scraper adapter used to extract prices for the property.
type Platform string

const (
	PlatformBookingCom   Platform = "BOOKING_COM"
	PlatformDirectEngine Platform = "DIRECT_ENGINE"
)

// Property is a priced listing on a booking platform: either the hotel's own
// listing (IsMainProperty) or a competitor tracked for that hotel. Properties
// are managed by the catalog; the engine only reads them, except for flagging
// a property inactive when its listing turns out to be gone.
type Property struct {
	ID             uint64   `gorm:"primaryKey"`
	HotelID        uint64   `gorm:"index;not null"`
	Name           string   `gorm:"size:256;not null"`
	URL            string   `gorm:"size:1024;not null"`
	Platform       Platform `gorm:"size:32;not null"`
	IsMainProperty bool     `gorm:"not null"`
	// MaxBundleSize is the longest contiguous stay, in nights, the platform
	// prices as a single unit. 1 means nightly quotes only.
	MaxBundleSize int  `gorm:"not null;default:1"`
	Active        bool `gorm:"index;not null;default:true"`
	// FlaggedAt is set when the engine deactivates the property after a
	// permanent scrape failure, so operators can review it.
	FlaggedAt *time.Time
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
