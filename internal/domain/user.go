package domain

type Role string

const (
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleLevels = map[Role]int{
	RoleOperator: 1,
	RoleAdmin:    2,
}

// HasPermission reports whether r grants at least the permissions of required.
func (r Role) HasPermission(required Role) bool {
	return roleLevels[r] >= roleLevels[required] && roleLevels[r] > 0
}
