package models

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleSuper Role = "super"
)

func (r Role) rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleAdmin:
		return 2
	case RoleSuper:
		return 3
	}
	return 0
}

func (r Role) Valid() bool { return r.rank() > 0 }

// AtLeast 按 user < admin < super 的顺序比较角色。未知角色永远不满足。
func (r Role) AtLeast(min Role) bool {
	return r.rank() > 0 && r.rank() >= min.rank()
}
