package model

// Role is the capability class of an actor.
type Role string

const (
	RoleRequester Role = "REQUESTER"
	RoleAdmin     Role = "ADMIN"
)

// Actor identifies who performs a booking operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the actor holds the administrator role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}
