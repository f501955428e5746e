package model

// Role ids with conversation oversight privileges.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
)

// Actor is the authenticated caller identity threaded through every service
// call. It replaces ad hoc role booleans: capability checks go through its
// methods.
type Actor struct {
	EmployeeID string `json:"employee_id"`
	RoleID     string `json:"role_id"`
}

// IsAdminOrManager reports whether the actor holds an oversight role that can
// see and join any task conversation.
func (a Actor) IsAdminOrManager() bool {
	return a.RoleID == RoleAdmin || a.RoleID == RoleManager
}
