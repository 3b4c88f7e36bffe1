package model

import "time"

// Availability is the sale state of a quote at capture time.
type Availability string

const (
	Available Availability = "AVAILABLE"
	SoldOut   Availability = "SOLD_OUT"
)

// Price is one captured quote, owned by the Search that captured it. Rows are
// append-only; a newer capture for the same (property, check-in) supersedes an
// older one by CapturedAt, it never overwrites it.
type Price struct {
	ID         uint64    `gorm:"primaryKey"`
	SearchID   uint64    `gorm:"index;not null"`
	PropertyID uint64    `gorm:"index:idx_prices_prop_checkin;not null"`
	CheckIn    time.Time `gorm:"index:idx_prices_prop_checkin;not null"`
	CheckOut   time.Time `gorm:"not null"`
	// BundleSize is the number of nights the amount covers. A bundle quote
	// (IsBundle, BundleSize > 1) is one price for the whole stay and must not
	// be divided into per-night rows.
	BundleSize   int          `gorm:"not null;default:1"`
	IsBundle     bool         `gorm:"not null"`
	Amount       float64      `gorm:"not null"`
	Currency     string       `gorm:"size:3;not null"`
	Availability Availability `gorm:"size:16;not null"`
	CapturedAt   time.Time    `gorm:"index;not null"`
}

// ChangeType is the direction of a recorded price movement.
type ChangeType string

const (
	ChangeUp   ChangeType = "UP"
	ChangeDown ChangeType = "DOWN"
)

// PriceHistory records a material price movement for a (property, check-in)
// pair: current vs the immediately preceding capture. Rows are only written
// when the movement exceeds the materiality threshold, so rounding noise does
// not pollute the trend data. Derived and append-only.
type PriceHistory struct {
	ID               uint64    `gorm:"primaryKey"`
	PropertyID       uint64    `gorm:"index;not null"`
	CheckIn          time.Time `gorm:"not null"`
	CurrentPrice     float64   `gorm:"not null"`
	PreviousPrice    float64   `gorm:"not null"`
	PriceChange      float64   `gorm:"not null"`
	ChangePercentage float64   `gorm:"not null"`
	ChangeType       ChangeType `gorm:"size:8;not null"`
	CreatedAt        time.Time  `gorm:"not null"`
}
