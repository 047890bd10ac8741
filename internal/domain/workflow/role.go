package workflow

import "strings"

// Capability is a permission required to fire an edge of the table
type Capability uint16

const (
	CapIntake Capability = 1 << iota
	CapScan
	CapRoute
	CapAssign
	CapProcess
	CapValidate
	CapFinance
	CapOverride
)

// CapAll grants every capability
const CapAll = CapIntake | CapScan | CapRoute | CapAssign | CapProcess | CapValidate | CapFinance | CapOverride

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapIntake, "intake"},
	{CapScan, "scan"},
	{CapRoute, "route"},
	{CapAssign, "assign"},
	{CapProcess, "process"},
	{CapValidate, "validate"},
	{CapFinance, "finance"},
	{CapOverride, "override"},
}

// Has reports whether every capability in want is present
func (c Capability) Has(want Capability) bool {
	return want != 0 && c&want == want
}

// Any reports whether at least one capability in want is present
func (c Capability) Any(want Capability) bool {
	return c&want != 0
}

// String lists the capability names joined by '|'
func (c Capability) String() string {
	var names []string
	for _, cn := range capabilityNames {
		if c&cn.cap != 0 {
			names = append(names, cn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Role is an organizational role of an actor
type Role string

const (
	RoleSystem      Role = "SYSTEM"
	RoleBureauOrdre Role = "BUREAU_ORDRE"
	RoleScan        Role = "SCAN"
	RoleTeamLead    Role = "TEAM_LEAD"
	RoleAgent       Role = "AGENT"
	RoleFinance     Role = "FINANCE"
	RoleAdmin       Role = "ADMIN"
)

var roleCapabilities = map[Role]Capability{
	RoleSystem:      CapIntake | CapScan | CapRoute | CapAssign | CapValidate,
	RoleBureauOrdre: CapIntake,
	RoleScan:        CapScan,
	RoleTeamLead:    CapRoute | CapAssign | CapValidate | CapOverride,
	RoleAgent:       CapProcess,
	RoleFinance:     CapFinance,
	RoleAdmin:       CapAll,
}

// IsValid checks if the role is one of the defined constants
func (r Role) IsValid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Capabilities returns the capability set granted to the role
func (r Role) Capabilities() Capability {
	return roleCapabilities[r]
}

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// SystemActorID identifies transitions fired by the scheduler
const SystemActorID = "SYSTEM"

// Actor is whoever requests a transition
type Actor struct {
	ID   string
	Role Role
}

// System returns the scheduler actor
func System() Actor {
	return Actor{ID: SystemActorID, Role: RoleSystem}
}

// Capabilities returns the actor's capability set
func (a Actor) Capabilities() Capability {
	return a.Role.Capabilities()
}

// Can reports whether the actor holds every capability in want
func (a Actor) Can(want Capability) bool {
	return a.Capabilities().Has(want)
}
