package room

import "time"

// Room represents a physical space that devices belong to.
//
// Room identity is immutable; the name may be changed by admin action.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
