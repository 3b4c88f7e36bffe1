package scraper

import "time"

// Stay is a contiguous run of check-in dates priced as one request: CheckIn
// plus Nights consecutive nights.
type Stay struct {
	CheckIn time.Time
	Nights  int
}

// GroupDates splits sorted check-in dates into stays of at most maxBundle
// contiguous nights. A gap in the dates always starts a new stay, so a bundle
// never spans dates that were not requested. maxBundle <= 1 yields one
// single-night stay per date.
func GroupDates(dates []time.Time, maxBundle int) []Stay {
	if len(dates) == 0 {
		return nil
	}
	if maxBundle < 1 {
		maxBundle = 1
	}

	var stays []Stay
	start := dates[0]
	nights := 1
	for i := 1; i < len(dates); i++ {
		contiguous := dates[i].Sub(dates[i-1]) == 24*time.Hour
		if contiguous && nights < maxBundle {
			nights++
			continue
		}
		stays = append(stays, Stay{CheckIn: start, Nights: nights})
		start = dates[i]
		nights = 1
	}
	stays = append(stays, Stay{CheckIn: start, Nights: nights})
	return stays
}
