package appointment

// Role identifies which side of an appointment an actor is acting as.
type Role string

const (
	RoleFarmer Role = "farmer"
	RoleExpert Role = "expert"
	RoleSystem Role = "system"
)

// Actor is the identity attempting a transition. System actors carry no ID.
type Actor struct {
	ID   string
	Role Role
}

// System is the actor used by the sweeper and other time-triggered paths.
var System = Actor{Role: RoleSystem}

// ParseRole validates a role string from the user directory token.
func ParseRole(raw string) (Role, bool) {
	switch r := Role(raw); r {
	case RoleFarmer, RoleExpert, RoleSystem:
		return r, true
	}
	return "", false
}
