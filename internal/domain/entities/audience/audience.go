// Package audience defines the targeting data the rule engine evaluates
// against: external user and company attribute snapshots plus segments.
package audience

import "github.com/GuideRail/guiderail-go/internal/domain/entities/rules"

// Segment is a named audience defined by an attribute-only rule tree.
// Membership is computed synchronously from attribute snapshots.
type Segment struct {
	ID            string      `json:"id"`
	EnvironmentID string      `json:"environmentId"`
	Name          string      `json:"name"`
	Rules         *rules.Node `json:"rules,omitempty"`
}

// Profile is the attribute snapshot for one external user, with the company
// snapshot joined when the user reported a company id.
type Profile struct {
	UserAttributes    map[string]any
	CompanyAttributes map[string]any
	Segments          []*Segment
}
