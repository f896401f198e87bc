package models

import (
	"fmt"
	"time"
)

const DayLayout = "2006-01-02"

// Scope partitions independent queues. An empty ServiceID is the place-wide queue.
type Scope struct {
	PlaceID   string `json:"place_id"`
	ServiceID string `json:"service_id,omitempty"`
}

func (s Scope) HasService() bool {
	return s.ServiceID != ""
}

func (s Scope) String() string {
	if s.ServiceID == "" {
		return s.PlaceID
	}
	return s.PlaceID + "/" + s.ServiceID
}

// DayKey returns the calendar day of t in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

func ValidDay(day string) error {
	if _, err := time.Parse(DayLayout, day); err != nil {
		return fmt.Errorf("day must be formatted as %s", DayLayout)
	}
	return nil
}
