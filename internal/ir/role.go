package ir

import "strings"

// OpRole classifies an operator by the phase of training it belongs to.
// Values are bit flags and may be combined (LRSched|Optimize, Backward|Loss).
type OpRole int32

const (
	RoleForward  OpRole = 0x0000
	RoleBackward OpRole = 0x0001
	RoleOptimize OpRole = 0x0002
	RoleRPC      OpRole = 0x0004
	RoleDist     OpRole = 0x0008
	RoleLRSched  OpRole = 0x0010
	RoleLoss     OpRole = 0x0100
)

// Bookkeeping attribute names stamped on every operator.
const (
	AttrOpRole      = "op_role"
	AttrOpRoleVar   = "op_role_var"
	AttrOpNamescope = "op_namescope"
)

var roleNames = []struct {
	flag OpRole
	name string
}{
	{RoleBackward, "backward"},
	{RoleOptimize, "optimize"},
	{RoleRPC, "rpc"},
	{RoleDist, "dist"},
	{RoleLRSched, "lr_sched"},
	{RoleLoss, "loss"},
}

// Has reports whether every bit of flag is set in r.
// Has(RoleForward) is true only for the pure forward role.
func (r OpRole) Has(flag OpRole) bool {
	if flag == RoleForward {
		return r == RoleForward
	}
	return r&flag == flag
}

// IsOptimize reports whether r carries the optimize bit.
func (r OpRole) IsOptimize() bool {
	return r&RoleOptimize != 0
}

// String renders the role as flag names joined by '|'.
func (r OpRole) String() string {
	if r == RoleForward {
		return "forward"
	}
	var parts []string
	rest := r
	for _, rn := range roleNames {
		if r&rn.flag != 0 {
			parts = append(parts, rn.name)
			rest &^= rn.flag
		}
	}
	if rest != 0 || len(parts) == 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}

// ParseOpRole parses the output of OpRole.String.
func ParseOpRole(s string) (OpRole, bool) {
	if s == "forward" {
		return RoleForward, true
	}
	var role OpRole
	for _, part := range strings.Split(s, "|") {
		found := false
		for _, rn := range roleNames {
			if rn.name == part {
				role |= rn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, false
		}
	}
	return role, true
}
