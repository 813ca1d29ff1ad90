package auth

// Principal is the authenticated caller, resolved by the identity layer in
// front of this service. Every operation that cares about ownership or
// privileges takes one explicitly; nothing reads ambient session state.
type Principal struct {
	UserID int64
	Role   Role
}

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
