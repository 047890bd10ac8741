package workflow

import "fmt"

// Table is the frozen set of legal edges
type Table struct {
	edges map[Status]map[Status]Edge
}

// Lookup returns the edge (from, to) or ErrInvalidTransition.
// Any lookup from a terminal status fails with ErrItemClosed.
func (t *Table) Lookup(from, to Status) (Edge, error) {
	if from.IsTerminal() {
		return Edge{}, fmt.Errorf("%w: %s", ErrItemClosed, from)
	}
	if e, ok := t.edges[from][to]; ok {
		return e, nil
	}
	return Edge{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Authorize checks the actor against the edge; ownerAgentID is the item's current agent
func (t *Table) Authorize(e Edge, actor Actor, ownerAgentID string) error {
	caps := actor.Capabilities()

	if caps.Any(e.Requires &^ e.OwnerOnly) {
		return nil
	}
	if caps.Any(e.Requires & e.OwnerOnly) {
		if caps.Has(CapOverride) || (ownerAgentID != "" && actor.ID == ownerAgentID) {
			return nil
		}
		return fmt.Errorf("%w: %s is not the owner of the item", ErrUnauthorized, actor.ID)
	}
	return fmt.Errorf("%w: role %s cannot move %s -> %s (requires %s)",
		ErrUnauthorized, actor.Role, e.From, e.To, e.Requires)
}

// Check runs lookup, authorization and reason guards in that order
func (t *Table) Check(from, to Status, actor Actor, ownerAgentID, reason string) (Edge, error) {
	e, err := t.Lookup(from, to)
	if err != nil {
		return Edge{}, err
	}
	if err := t.Authorize(e, actor, ownerAgentID); err != nil {
		return Edge{}, err
	}
	if e.ReasonRequired && reason == "" {
		return Edge{}, fmt.Errorf("%w: %s -> %s", ErrReasonRequired, from, to)
	}
	return e, nil
}

// Targets returns the statuses reachable in one step from from
func (t *Table) Targets(from Status) []Status {
	return sortedTargets(t.edges[from])
}

// Edges returns every configured edge
func (t *Table) Edges() []Edge {
	var out []Edge
	for _, from := range AllStatuses {
		for _, to := range sortedTargets(t.edges[from]) {
			out = append(out, t.edges[from][to])
		}
	}
	return out
}

// Has reports whether (from, to) is an edge
func (t *Table) Has(from, to Status) bool {
	_, ok := t.edges[from][to]
	return ok
}
