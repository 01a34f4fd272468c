package handler

import (
	"time"

	"github.com/iliyamo/virtual-queue/internal/model"
)

// ----- response bodies -----

type userPart struct {
	ID              uint64  `json:"id"`
	Name            string  `json:"name"`
	Email           string  `json:"email"`
	Role            string  `json:"role"`
	EstablishmentID *uint64 `json:"establishment_id,omitempty"`
}

func userJSON(u model.User) userPart {
	return userPart{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role.String(), EstablishmentID: u.EstablishmentID}
}

type establishmentResp struct {
	ID        uint64    `json:"id"`
	OwnerID   uint64    `json:"owner_id"`
	Name      string    `json:"name"`
	Street    string    `json:"street,omitempty"`
	District  string    `json:"district,omitempty"`
	City      string    `json:"city,omitempty"`
	State     string    `json:"state,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func establishmentJSON(e model.Establishment) establishmentResp {
	return establishmentResp{
		ID: e.ID, OwnerID: e.OwnerID, Name: e.Name, Street: e.Street, District: e.District,
		City: e.City, State: e.State, Phone: e.Phone, CreatedAt: e.CreatedAt,
	}
}

type countsResp struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Normal int `json:"normal"`
}

func countsJSON(c model.WaitingCounts) countsResp {
	return countsResp{Total: c.Total(), High: c.High, Normal: c.Normal}
}

type queueResp struct {
	ID                uint64      `json:"id"`
	EstablishmentID   uint64      `json:"establishment_id"`
	EstablishmentName string      `json:"establishment_name,omitempty"`
	Name              string      `json:"name"`
	Description       *string     `json:"description,omitempty"`
	Waiting           *countsResp `json:"waiting,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

func queueJSON(q model.Queue) queueResp {
	return queueResp{
		ID: q.ID, EstablishmentID: q.EstablishmentID, Name: q.Name, Description: q.Description,
		CreatedAt: q.CreatedAt, UpdatedAt: q.UpdatedAt,
	}
}

func queueInfoJSON(qs []model.QueueInfo) []queueResp {
	out := make([]queueResp, 0, len(qs))
	for _, q := range qs {
		r := queueJSON(q.Queue)
		r.EstablishmentName = q.EstablishmentName
		counts := countsJSON(q.Counts)
		r.Waiting = &counts
		out = append(out, r)
	}
	return out
}

type entryResp struct {
	ID         uint64     `json:"id"`
	QueueID    uint64     `json:"queue_id"`
	CustomerID uint64     `json:"customer_id"`
	Position   int        `json:"position"`
	Status     string     `json:"status"`
	Priority   string     `json:"priority"`
	EnteredAt  time.Time  `json:"entered_at"`
	ServedAt   *time.Time `json:"served_at,omitempty"`
}

func entryJSON(e model.Entry) entryResp {
	return entryResp{
		ID: e.ID, QueueID: e.QueueID, CustomerID: e.CustomerID, Position: e.Position,
		Status: e.Status.String(), Priority: e.Priority.String(), EnteredAt: e.EnteredAt, ServedAt: e.ServedAt,
	}
}
