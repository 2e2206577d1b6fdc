// Package rules defines the targeting rule tree evaluated against user,
// company and client context data.
package rules

// Group operators
const (
	OperatorAnd = "and"
	OperatorOr  = "or"
)

// Node kinds
const (
	KindGroup        = "group"
	KindUserAttr     = "user-attr"
	KindCompanyAttr  = "company-attr"
	KindSegment      = "segment"
	KindCurrentPage  = "current-page"
	KindElapsedTime  = "elapsed-time"
	KindContentState = "content-state"
)

// Comparators for attribute leaves
const (
	ComparatorEq        = "eq"
	ComparatorNe        = "ne"
	ComparatorGt        = "gt"
	ComparatorLt        = "lt"
	ComparatorContains  = "contains"
	ComparatorDefined   = "defined"
	ComparatorUndefined = "undefined"
)

// Content-state conditions
const (
	ContentStateActive    = "active"
	ContentStateCompleted = "completed"
	ContentStateDismissed = "dismissed"
	ContentStateUnseen    = "unseen"
)

// Node is one node of a targeting rule tree. Group nodes carry an operator
// and children; every other kind is a leaf. IDs are stable across versions of
// the same content so client-side tracking can reference them.
type Node struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	Operator string  `json:"operator,omitempty"`
	Children []*Node `json:"children,omitempty"`

	// Attribute comparison leaves
	Attribute  string `json:"attribute,omitempty"`
	Comparator string `json:"comparator,omitempty"`
	Value      any    `json:"value,omitempty"`

	// Segment membership
	SegmentID string `json:"segmentId,omitempty"`

	// Current-page match ('*' wildcards allowed)
	PagePattern string `json:"pagePattern,omitempty"`

	// Elapsed-time (delayed activation)
	DelayMS int64 `json:"delayMs,omitempty"`

	// Nested content state
	ContentID        string `json:"contentId,omitempty"`
	ContentCondition string `json:"contentCondition,omitempty"`
}

// Clone returns a deep copy of the node. Evaluation always runs against a
// copy so the shared rule tree is never mutated.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if len(n.Children) > 0 {
		out.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			out.Children[i] = child.Clone()
		}
	}
	return &out
}

// IsLeaf reports whether the node is a leaf (non-group) node.
func (n *Node) IsLeaf() bool {
	return n.Kind != KindGroup
}

// Result is the tri-state outcome of evaluating a node.
type Result int

const (
	ResultFalse Result = iota
	ResultTrue
	ResultPending
)

func (r Result) String() string {
	switch r {
	case ResultTrue:
		return "true"
	case ResultPending:
		return "pending"
	default:
		return "false"
	}
}

// Evaluation is the classification of a whole rule tree: the combined
// tri-state result plus the leaves that could not be resolved synchronously.
// Pending leaves are surfaced as tracking/timer candidates, never as booleans.
type Evaluation struct {
	Result        Result
	PendingClient []*Node
	PendingTimers []*Node
}

// Satisfied reports whether the tree resolved to true.
func (e Evaluation) Satisfied() bool { return e.Result == ResultTrue }

// Violated reports whether the tree resolved to false.
func (e Evaluation) Violated() bool { return e.Result == ResultFalse }

// Pending reports whether the tree is waiting on client input or timers.
func (e Evaluation) Pending() bool { return e.Result == ResultPending }

// OnlyTimersPending reports whether the sole obstacle to satisfaction is one
// or more unelapsed timers.
func (e Evaluation) OnlyTimersPending() bool {
	return e.Result == ResultPending && len(e.PendingClient) == 0 && len(e.PendingTimers) > 0
}

// Input carries the data a rule tree is evaluated against. ActiveConditions
// holds client-reported toggles keyed by condition id; a key present with
// either value overrides synchronous resolution for that leaf.
type Input struct {
	UserAttributes    map[string]any
	CompanyAttributes map[string]any
	SegmentMembership map[string]bool
	PageURL           string
	PageKnown         bool
	ActiveConditions  map[string]bool
	TimerFired        bool
	ContentStates     map[string]string
}
