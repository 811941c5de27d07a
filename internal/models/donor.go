// internal/models/donor.go
package models

import "time"

// Coord is a WGS84 point in decimal degrees.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a city with optional explicit coordinates.
type Location struct {
	City        string `json:"city"`
	Coordinates *Coord `json:"coordinates,omitempty"`
}

type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Donor is owned by the donor registry and read-only here. A nil or zero
// LastDonation means the donor has never donated.
type Donor struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	BloodType    BloodType  `json:"bloodType"`
	Available    bool       `json:"available"`
	Location     Location   `json:"location"`
	Contact      Contact    `json:"contact"`
	LastDonation *time.Time `json:"lastDonation,omitempty"`
}

// HasDonated reports whether a usable last-donation timestamp exists.
func (d Donor) HasDonated() bool {
	return d.LastDonation != nil && !d.LastDonation.IsZero()
}

type Hospital struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Location     Location `json:"location"`
	ContactEmail string   `json:"contactEmail,omitempty"`
	ContactPhone string   `json:"contactPhone,omitempty"`
}
