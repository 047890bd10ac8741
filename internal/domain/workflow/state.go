package workflow

// Status is the lifecycle stage of a bordereau
type Status string

const (
	StatusReceived          Status = "RECEIVED"
	StatusToDigitize        Status = "TO_DIGITIZE"
	StatusDigitizing        Status = "DIGITIZING"
	StatusDigitized         Status = "DIGITIZED"
	StatusToAssign          Status = "TO_ASSIGN"
	StatusAssigned          Status = "ASSIGNED"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusProcessed         Status = "PROCESSED"
	StatusOnHold            Status = "ON_HOLD"
	StatusBlocked           Status = "BLOCKED"
	StatusReadyForPayment   Status = "READY_FOR_PAYMENT"
	StatusPaymentInProgress Status = "PAYMENT_IN_PROGRESS"
	StatusClosed            Status = "CLOSED"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []Status{
	StatusReceived,
	StatusToDigitize,
	StatusDigitizing,
	StatusDigitized,
	StatusToAssign,
	StatusAssigned,
	StatusInProgress,
	StatusProcessed,
	StatusOnHold,
	StatusBlocked,
	StatusReadyForPayment,
	StatusPaymentInProgress,
	StatusClosed,
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid checks if the status is one of the defined constants
func (s Status) IsValid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no transition may leave the status
func (s Status) IsTerminal() bool {
	return s == StatusClosed
}

// IsAgentOwned reports whether an item in this status carries an assigned agent
func (s Status) IsAgentOwned() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusOnHold:
		return true
	default:
		return false
	}
}

// CountsTowardAgentLoad reports whether an item in this status consumes agent capacity
func (s Status) CountsTowardAgentLoad() bool {
	return s == StatusAssigned || s == StatusInProgress
}

// CountsTowardTeamLoad reports whether an item in this status consumes team capacity
func (s Status) CountsTowardTeamLoad() bool {
	return s == StatusToAssign || s.CountsTowardAgentLoad()
}

// AgentLoadStatuses are the statuses counted by agent capacity
var AgentLoadStatuses = []Status{StatusAssigned, StatusInProgress}

// TeamLoadStatuses are the statuses counted by team capacity
var TeamLoadStatuses = []Status{StatusToAssign, StatusAssigned, StatusInProgress}

// OpenStatuses returns every non-terminal status
func OpenStatuses() []Status {
	open := make([]Status, 0, len(AllStatuses)-1)
	for _, s := range AllStatuses {
		if !s.IsTerminal() {
			open = append(open, s)
		}
	}
	return open
}
