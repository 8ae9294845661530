package model

import (
	"fmt"
	"time"
)

// FacilityType is the category of a bookable facility.
type FacilityType string

const (
	FacilityClassroom  FacilityType = "CLASSROOM"
	FacilityLab        FacilityType = "LAB"
	FacilityAuditorium FacilityType = "AUDITORIUM"
	FacilityLibrary    FacilityType = "LIBRARY"
	FacilitySports     FacilityType = "SPORTS"
	FacilityOther      FacilityType = "OTHER"
)

// Valid reports whether t is a known facility type.
func (t FacilityType) Valid() bool {
	switch t {
	case FacilityClassroom, FacilityLab, FacilityAuditorium, FacilityLibrary, FacilitySports, FacilityOther:
		return true
	}
	return false
}

// FacilityStatus is the operational status of a facility.
type FacilityStatus string

const (
	FacilityAvailable   FacilityStatus = "AVAILABLE"
	FacilityMaintenance FacilityStatus = "MAINTENANCE"
	FacilityRetired     FacilityStatus = "RETIRED"
)

// Valid reports whether s is a known facility status.
func (s FacilityStatus) Valid() bool {
	switch s {
	case FacilityAvailable, FacilityMaintenance, FacilityRetired:
		return true
	}
	return false
}

// Facility is a bookable physical resource.
type Facility struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Location    string         `json:"location"`
	Type        FacilityType   `json:"type"`
	Capacity    int            `json:"capacity"`
	Amenities   string         `json:"amenities,omitempty"`
	OpeningTime string         `json:"opening_time,omitempty"` // "08:00"
	ClosingTime string         `json:"closing_time,omitempty"` // "20:00"
	Status      FacilityStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// IsRetired reports whether the facility reached its terminal status.
func (f *Facility) IsRetired() bool {
	return f.Status == FacilityRetired
}

// HasOpeningHours reports whether bookings are restricted to a daily window.
func (f *Facility) HasOpeningHours() bool {
	return f.OpeningTime != "" && f.ClosingTime != ""
}

// OpeningWindow returns the opening hours on the calendar day of date.
func (f *Facility) OpeningWindow(date time.Time) (open, closeAt time.Time, err error) {
	open, err = ClockOnDate(date, f.OpeningTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("opening time: %w", err)
	}
	closeAt, err = ClockOnDate(date, f.ClosingTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("closing time: %w", err)
	}
	return open, closeAt, nil
}

// ClockOnDate places an "HH:MM" clock value on the calendar day of date.
func ClockOnDate(date time.Time, clock string) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock %q, expected HH:MM", clock)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

// FacilitySpec carries the fields needed to register a facility.
type FacilitySpec struct {
	Name        string
	Description string
	Location    string
	Type        FacilityType
	Capacity    int
	Amenities   string
	OpeningTime string
	ClosingTime string
}

// FacilityPatch holds optional facility updates; nil fields are left unchanged.
type FacilityPatch struct {
	Name        *string
	Description *string
	Location    *string
	Type        *FacilityType
	Capacity    *int
	Amenities   *string
	OpeningTime *string
	ClosingTime *string
}

// Apply copies the set fields of p onto f.
func (p FacilityPatch) Apply(f *Facility) {
	if p.Name != nil {
		f.Name = *p.Name
	}
	if p.Description != nil {
		f.Description = *p.Description
	}
	if p.Location != nil {
		f.Location = *p.Location
	}
	if p.Type != nil {
		f.Type = *p.Type
	}
	if p.Capacity != nil {
		f.Capacity = *p.Capacity
	}
	if p.Amenities != nil {
		f.Amenities = *p.Amenities
	}
	if p.OpeningTime != nil {
		f.OpeningTime = *p.OpeningTime
	}
	if p.ClosingTime != nil {
		f.ClosingTime = *p.ClosingTime
	}
}
