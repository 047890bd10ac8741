package event

// Type identifies the type of domain event
type Type string

const (
	TypeItemCreated        Type = "item.created"
	TypeItemTransitioned   Type = "item.transitioned"
	TypeOverloadAlert      Type = "overload.alert"
	TypeSLABreach          Type = "sla.breach"
	TypeCriticalSLABreach  Type = "sla.critical_breach"
	TypeRoutingBlocked     Type = "routing.blocked"
	TypeOverflowEscalated  Type = "routing.overflow_escalated"
	TypeCapacityOverridden Type = "assignment.override"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeItemCreated,
		TypeItemTransitioned,
		TypeOverloadAlert,
		TypeSLABreach,
		TypeCriticalSLABreach,
		TypeRoutingBlocked,
		TypeOverflowEscalated,
		TypeCapacityOverridden:
		return true
	default:
		return false
	}
}
