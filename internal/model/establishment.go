package model

import "time"

// Establishment is a business location owned by a user.  It owns
// zero or more queues and zero or more employees.  This struct
// corresponds to a row in the `establishments` table.
//
// Fields:
//  ID        – primary key identifier.
//  OwnerID   – user ID of the owner.
//  Name      – display name.
//  Street    – street address line.
//  District  – district or neighbourhood.
//  City      – city.
//  State     – state or province code.
//  Phone     – contact phone number.
//  CreatedAt – timestamp when the establishment was created.
//  UpdatedAt – timestamp of last update.
type Establishment struct {
	ID        uint64    // establishments.id
	OwnerID   uint64    // establishments.owner_id
	Name      string    // establishments.name
	Street    string    // establishments.street
	District  string    // establishments.district
	City      string    // establishments.city
	State     string    // establishments.state
	Phone     string    // establishments.phone
	CreatedAt time.Time // establishments.created_at
	UpdatedAt time.Time // establishments.updated_at
}
