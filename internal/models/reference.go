package models

import "time"

// ReferenceKind identifies a reference-data table.
type ReferenceKind string

const (
	ReferenceOffice          ReferenceKind = "office"
	ReferencePosition        ReferenceKind = "position"
	ReferenceMaintenanceType ReferenceKind = "maintenance_type"
	ReferenceStatus          ReferenceKind = "status"
)

// Office is a campus office that submits or reviews requests.
type Office struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Position is a staff position reference row.
type Position struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MaintenanceType categorises a request (electrical, plumbing, carpentry...).
// Code is the stable identifier matched against the escalation configuration.
type MaintenanceType struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
