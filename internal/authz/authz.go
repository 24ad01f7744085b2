// Package authz maps roles to permission sets and answers "may this role
// perform X?". The table is immutable once built; the default is always deny.
package authz

// Wildcard grants every permission to a role that holds it
const Wildcard = "*"

// Role names for the administrative system
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleAccountant = "accountant"
	RoleRegistrar  = "registrar"
)

// Permission strings consumed by the page layer
const (
	PermStudentRead   = "student:read"
	PermStudentWrite  = "student:write"
	PermExpenseRead   = "expense:read"
	PermExpenseWrite  = "expense:write"
	PermFeeRead       = "fee:read"
	PermFeeWrite      = "fee:write"
	PermNoticeRead    = "notice:read"
	PermNoticeWrite   = "notice:write"
	PermReportView    = "report:view"
	PermAccountManage = "account:manage"
)

// DefaultTable is the built-in role/permission mapping. super_admin holds the
// wildcard; every other role gets an explicit finite set.
func DefaultTable() map[string][]string {
	return map[string][]string{
		RoleSuperAdmin: {Wildcard},
		RoleAdmin: {
			PermStudentRead, PermStudentWrite,
			PermExpenseRead, PermExpenseWrite,
			PermFeeRead, PermFeeWrite,
			PermNoticeRead, PermNoticeWrite,
			PermReportView,
		},
		RoleAccountant: {
			PermExpenseRead, PermExpenseWrite,
			PermFeeRead, PermFeeWrite,
			PermReportView,
		},
		RoleRegistrar: {
			PermStudentRead, PermStudentWrite,
			PermNoticeRead,
		},
	}
}

// Checker answers permission queries against a fixed table. It is built once
// at startup and passed to whoever needs it; nothing mutates it afterwards.
type Checker struct {
	grants   map[string]map[string]struct{}
	wildcard map[string]bool
}

// NewChecker builds a Checker from a role→permissions table. The input is
// copied; later mutation of the argument does not affect the Checker.
func NewChecker(table map[string][]string) *Checker {
	c := &Checker{
		grants:   make(map[string]map[string]struct{}, len(table)),
		wildcard: make(map[string]bool, len(table)),
	}
	for role, perms := range table {
		set := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			if p == Wildcard {
				c.wildcard[role] = true
				continue
			}
			set[p] = struct{}{}
		}
		c.grants[role] = set
	}
	return c
}

// HasPermission reports whether role may perform permission. Unknown roles
// and unknown permissions are denied.
func (c *Checker) HasPermission(role, permission string) bool {
	if permission == "" {
		return false
	}
	if c.wildcard[role] {
		return true
	}
	set, ok := c.grants[role]
	if !ok {
		return false
	}
	_, granted := set[permission]
	return granted
}

// KnownRole reports whether role appears in the table at all
func (c *Checker) KnownRole(role string) bool {
	if c.wildcard[role] {
		return true
	}
	_, ok := c.grants[role]
	return ok
}
