package models

import "time"

// Office is a directory entry resolved from the external office registry.
type Office struct {
	ID         string `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	ZoneID     string `db:"zone_id" json:"zoneId"`
	DistrictID string `db:"district_id" json:"districtId"`
}

// Employee is the projection of the staff record that transfers mutate.
type Employee struct {
	ID              string    `db:"id" json:"id"`
	CurrentOfficeID string    `db:"current_office_id" json:"currentOfficeId"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}
