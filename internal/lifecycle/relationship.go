package lifecycle

import (
	"strings"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// Relationship is one of the three distinguished links a user can have to a
// ticket.
type Relationship uint8

const (
	RelationshipInitiator Relationship = 1 << iota
	RelationshipAssignee
	RelationshipSPOC
)

var relationshipOrder = []Relationship{RelationshipInitiator, RelationshipAssignee, RelationshipSPOC}

func (r Relationship) String() string {
	switch r {
	case RelationshipInitiator:
		return "initiator"
	case RelationshipAssignee:
		return "assignee"
	case RelationshipSPOC:
		return "spoc"
	default:
		return "unknown"
	}
}

// RelationshipSet is a small set of relationships.
type RelationshipSet uint8

// NewRelationshipSet builds a set from its members.
func NewRelationshipSet(members ...Relationship) RelationshipSet {
	var s RelationshipSet
	for _, m := range members {
		s |= RelationshipSet(m)
	}
	return s
}

// Has reports membership.
func (s RelationshipSet) Has(r Relationship) bool {
	return s&RelationshipSet(r) != 0
}

// Intersects reports whether the two sets share a member.
func (s RelationshipSet) Intersects(other RelationshipSet) bool {
	return s&other != 0
}

// Empty reports whether the set has no members.
func (s RelationshipSet) Empty() bool {
	return s == 0
}

// Members lists the set in initiator, assignee, spoc order.
func (s RelationshipSet) Members() []Relationship {
	out := make([]Relationship, 0, len(relationshipOrder))
	for _, r := range relationshipOrder {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s RelationshipSet) String() string {
	members := s.Members()
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Relationships returns the relationships callerID currently holds on ticket.
// Absent assignee or SPOC links never match, and an empty caller id holds
// nothing.
func Relationships(ticket *domain.Ticket, callerID string) RelationshipSet {
	if ticket == nil || callerID == "" {
		return 0
	}
	var held RelationshipSet
	if ticket.CreatedBy == callerID {
		held |= RelationshipSet(RelationshipInitiator)
	}
	if ticket.AssignedTo != nil && *ticket.AssignedTo == callerID {
		held |= RelationshipSet(RelationshipAssignee)
	}
	if ticket.SPOCUserID != nil && *ticket.SPOCUserID == callerID {
		held |= RelationshipSet(RelationshipSPOC)
	}
	return held
}
