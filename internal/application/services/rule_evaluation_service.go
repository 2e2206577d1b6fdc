// Package services contains the orchestration business logic
package services

import (
	"reflect"
	"strings"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/rules"
)

// RuleEvaluationService classifies targeting rule trees against current
// audience and client-context data. Evaluation is pure: the same inputs
// always yield the same classification, and the shared rule tree is never
// mutated because every run works on a clone.
type RuleEvaluationService struct{}

func NewRuleEvaluationService() *RuleEvaluationService {
	return &RuleEvaluationService{}
}

// Evaluate classifies a rule tree. Leaves that need a client-side signal are
// surfaced in PendingClient and unelapsed timer leaves in PendingTimers,
// whatever the combined result, so the selection layer can arm watches even
// for trees that currently resolve to false.
func (s *RuleEvaluationService) Evaluate(node *rules.Node, input *rules.Input) rules.Evaluation {
	if node == nil {
		return rules.Evaluation{Result: rules.ResultTrue}
	}
	if input == nil {
		input = &rules.Input{}
	}

	eval := rules.Evaluation{}
	eval.Result = s.evaluateNode(node.Clone(), input, &eval)
	return eval
}

func (s *RuleEvaluationService) evaluateNode(node *rules.Node, input *rules.Input, eval *rules.Evaluation) rules.Result {
	if node.Kind == rules.KindGroup {
		return s.evaluateGroup(node, input, eval)
	}
	return s.evaluateLeaf(node, input, eval)
}

// evaluateGroup combines children with AND/OR, short-circuiting on the first
// decisive child. Children after the decisive one are not evaluated and
// contribute no watch candidates.
func (s *RuleEvaluationService) evaluateGroup(node *rules.Node, input *rules.Input, eval *rules.Evaluation) rules.Result {
	if len(node.Children) == 0 {
		return rules.ResultTrue
	}

	or := node.Operator == rules.OperatorOr
	sawPending := false

	for _, child := range node.Children {
		result := s.evaluateNode(child, input, eval)
		switch result {
		case rules.ResultFalse:
			if !or {
				return rules.ResultFalse
			}
		case rules.ResultTrue:
			if or {
				return rules.ResultTrue
			}
		case rules.ResultPending:
			sawPending = true
		}
	}

	if sawPending {
		return rules.ResultPending
	}
	if or {
		return rules.ResultFalse
	}
	return rules.ResultTrue
}

func (s *RuleEvaluationService) evaluateLeaf(node *rules.Node, input *rules.Input, eval *rules.Evaluation) rules.Result {
	// A client-reported toggle overrides synchronous resolution for any leaf.
	if active, toggled := input.ActiveConditions[node.ID]; toggled {
		if active {
			return rules.ResultTrue
		}
		if node.Kind == rules.KindCurrentPage {
			eval.PendingClient = append(eval.PendingClient, node)
		}
		return rules.ResultFalse
	}

	switch node.Kind {
	case rules.KindUserAttr:
		return compareAttribute(input.UserAttributes, node.Attribute, node.Comparator, node.Value)

	case rules.KindCompanyAttr:
		return compareAttribute(input.CompanyAttributes, node.Attribute, node.Comparator, node.Value)

	case rules.KindSegment:
		if input.SegmentMembership[node.SegmentID] {
			return rules.ResultTrue
		}
		return rules.ResultFalse

	case rules.KindCurrentPage:
		if !input.PageKnown {
			eval.PendingClient = append(eval.PendingClient, node)
			return rules.ResultPending
		}
		if matchPagePattern(node.PagePattern, input.PageURL) {
			return rules.ResultTrue
		}
		// The client may navigate to a matching page later; keep watching.
		eval.PendingClient = append(eval.PendingClient, node)
		return rules.ResultFalse

	case rules.KindElapsedTime:
		if input.TimerFired {
			return rules.ResultTrue
		}
		eval.PendingTimers = append(eval.PendingTimers, node)
		return rules.ResultPending

	case rules.KindContentState:
		state, seen := input.ContentStates[node.ContentID]
		if !seen {
			state = rules.ContentStateUnseen
		}
		if state == node.ContentCondition {
			return rules.ResultTrue
		}
		return rules.ResultFalse
	}

	// Unknown leaf kinds never satisfy.
	return rules.ResultFalse
}

func compareAttribute(attributes map[string]any, attribute, comparator string, expected any) rules.Result {
	value, defined := attributes[attribute]

	switch comparator {
	case rules.ComparatorDefined:
		if defined {
			return rules.ResultTrue
		}
		return rules.ResultFalse
	case rules.ComparatorUndefined:
		if defined {
			return rules.ResultFalse
		}
		return rules.ResultTrue
	}

	if !defined {
		return rules.ResultFalse
	}

	var holds bool
	switch comparator {
	case rules.ComparatorEq:
		holds = valuesEqual(value, expected)
	case rules.ComparatorNe:
		holds = !valuesEqual(value, expected)
	case rules.ComparatorGt:
		a, aOK := asNumber(value)
		b, bOK := asNumber(expected)
		holds = aOK && bOK && a > b
	case rules.ComparatorLt:
		a, aOK := asNumber(value)
		b, bOK := asNumber(expected)
		holds = aOK && bOK && a < b
	case rules.ComparatorContains:
		a, aOK := value.(string)
		b, bOK := expected.(string)
		holds = aOK && bOK && strings.Contains(a, b)
	}

	if holds {
		return rules.ResultTrue
	}
	return rules.ResultFalse
}

func valuesEqual(a, b any) bool {
	if na, ok := asNumber(a); ok {
		if nb, ok := asNumber(b); ok {
			return na == nb
		}
		return false
	}
	// Attribute values come from JSON and can be arrays or objects; a plain
	// == on those panics.
	return reflect.DeepEqual(a, b)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// matchPagePattern matches a URL against a pattern where '*' spans any run
// of characters, including '/'.
func matchPagePattern(pattern, url string) bool {
	if pattern == "" {
		return false
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == url
	}

	if !strings.HasPrefix(url, parts[0]) {
		return false
	}
	remaining := url[len(parts[0]):]

	last := parts[len(parts)-1]
	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(remaining, part)
		if idx < 0 {
			return false
		}
		remaining = remaining[idx+len(part):]
	}
	return strings.HasSuffix(remaining, last)
}
