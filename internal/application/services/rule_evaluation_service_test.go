package services

import (
	"testing"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/rules"
)

// TestEvaluateNilTree verifies the absence of rules means unconditional start
func TestEvaluateNilTree(t *testing.T) {
	svc := NewRuleEvaluationService()

	eval := svc.Evaluate(nil, nil)
	if !eval.Satisfied() {
		t.Errorf("Expected nil tree to satisfy, got %v", eval.Result)
	}
}

// TestAttributeComparators verifies attribute leaf comparison semantics
func TestAttributeComparators(t *testing.T) {
	svc := NewRuleEvaluationService()

	cases := []struct {
		name       string
		attribute  string
		comparator string
		value      any
		attrs      map[string]any
		want       rules.Result
	}{
		{"eq string match", "plan", rules.ComparatorEq, "pro", map[string]any{"plan": "pro"}, rules.ResultTrue},
		{"eq string mismatch", "plan", rules.ComparatorEq, "pro", map[string]any{"plan": "free"}, rules.ResultFalse},
		{"eq numeric coercion", "seats", rules.ComparatorEq, float64(5), map[string]any{"seats": 5}, rules.ResultTrue},
		{"eq missing attribute", "plan", rules.ComparatorEq, "pro", nil, rules.ResultFalse},
		{"ne mismatch", "plan", rules.ComparatorNe, "pro", map[string]any{"plan": "free"}, rules.ResultTrue},
		{"gt holds", "seats", rules.ComparatorGt, float64(3), map[string]any{"seats": 10}, rules.ResultTrue},
		{"gt fails", "seats", rules.ComparatorGt, float64(3), map[string]any{"seats": 2}, rules.ResultFalse},
		{"gt non-numeric", "seats", rules.ComparatorGt, float64(3), map[string]any{"seats": "many"}, rules.ResultFalse},
		{"lt holds", "seats", rules.ComparatorLt, float64(3), map[string]any{"seats": 1}, rules.ResultTrue},
		{"contains holds", "email", rules.ComparatorContains, "@acme.", map[string]any{"email": "jo@acme.com"}, rules.ResultTrue},
		{"contains fails", "email", rules.ComparatorContains, "@acme.", map[string]any{"email": "jo@other.com"}, rules.ResultFalse},
		{"defined holds", "plan", rules.ComparatorDefined, nil, map[string]any{"plan": "free"}, rules.ResultTrue},
		{"defined fails", "plan", rules.ComparatorDefined, nil, nil, rules.ResultFalse},
		{"undefined holds", "plan", rules.ComparatorUndefined, nil, nil, rules.ResultTrue},
	}

	for _, tc := range cases {
		node := &rules.Node{
			ID:         "leaf-1",
			Kind:       rules.KindUserAttr,
			Attribute:  tc.attribute,
			Comparator: tc.comparator,
			Value:      tc.value,
		}
		eval := svc.Evaluate(node, &rules.Input{UserAttributes: tc.attrs})
		if eval.Result != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, eval.Result)
		}
	}
}

// TestAttributeComparatorsOnStructuredValues verifies eq and ne work on
// array and object attribute values as decoded from JSON
func TestAttributeComparatorsOnStructuredValues(t *testing.T) {
	svc := NewRuleEvaluationService()

	cases := []struct {
		name       string
		comparator string
		value      any
		attrs      map[string]any
		want       rules.Result
	}{
		{"eq array match", rules.ComparatorEq, []any{"admin", "beta"}, map[string]any{"tags": []any{"admin", "beta"}}, rules.ResultTrue},
		{"eq array mismatch", rules.ComparatorEq, []any{"admin"}, map[string]any{"tags": []any{"beta"}}, rules.ResultFalse},
		{"eq array against string", rules.ComparatorEq, "admin", map[string]any{"tags": []any{"admin"}}, rules.ResultFalse},
		{"ne array mismatch", rules.ComparatorNe, []any{"admin"}, map[string]any{"tags": []any{"beta"}}, rules.ResultTrue},
		{"eq object match", rules.ComparatorEq, map[string]any{"tier": "gold"}, map[string]any{"tags": map[string]any{"tier": "gold"}}, rules.ResultTrue},
		{"eq object mismatch", rules.ComparatorEq, map[string]any{"tier": "gold"}, map[string]any{"tags": map[string]any{"tier": "silver"}}, rules.ResultFalse},
	}

	for _, tc := range cases {
		node := &rules.Node{
			ID:         "leaf-1",
			Kind:       rules.KindUserAttr,
			Attribute:  "tags",
			Comparator: tc.comparator,
			Value:      tc.value,
		}
		eval := svc.Evaluate(node, &rules.Input{UserAttributes: tc.attrs})
		if eval.Result != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, eval.Result)
		}
	}
}

// TestAndShortCircuit verifies a decisive false child stops evaluation and
// suppresses watch candidates from later children
func TestAndShortCircuit(t *testing.T) {
	svc := NewRuleEvaluationService()

	tree := &rules.Node{
		ID:       "g1",
		Kind:     rules.KindGroup,
		Operator: rules.OperatorAnd,
		Children: []*rules.Node{
			{ID: "a1", Kind: rules.KindUserAttr, Attribute: "plan", Comparator: rules.ComparatorEq, Value: "pro"},
			{ID: "p1", Kind: rules.KindCurrentPage, PagePattern: "/settings"},
		},
	}

	eval := svc.Evaluate(tree, &rules.Input{UserAttributes: map[string]any{"plan": "free"}})
	if !eval.Violated() {
		t.Errorf("Expected false, got %v", eval.Result)
	}
	if len(eval.PendingClient) != 0 {
		t.Errorf("Expected no watch candidates past the decisive child, got %d", len(eval.PendingClient))
	}
}

// TestOrShortCircuit verifies a decisive true child stops evaluation
func TestOrShortCircuit(t *testing.T) {
	svc := NewRuleEvaluationService()

	tree := &rules.Node{
		ID:       "g1",
		Kind:     rules.KindGroup,
		Operator: rules.OperatorOr,
		Children: []*rules.Node{
			{ID: "a1", Kind: rules.KindUserAttr, Attribute: "plan", Comparator: rules.ComparatorEq, Value: "pro"},
			{ID: "t1", Kind: rules.KindElapsedTime, DelayMS: 5000},
		},
	}

	eval := svc.Evaluate(tree, &rules.Input{UserAttributes: map[string]any{"plan": "pro"}})
	if !eval.Satisfied() {
		t.Errorf("Expected true, got %v", eval.Result)
	}
	if len(eval.PendingTimers) != 0 {
		t.Errorf("Expected no timer candidates past the decisive child, got %d", len(eval.PendingTimers))
	}
}

// TestGroupPendingCollection verifies unresolved leaves surface as candidates
func TestGroupPendingCollection(t *testing.T) {
	svc := NewRuleEvaluationService()

	tree := &rules.Node{
		ID:       "g1",
		Kind:     rules.KindGroup,
		Operator: rules.OperatorAnd,
		Children: []*rules.Node{
			{ID: "a1", Kind: rules.KindUserAttr, Attribute: "plan", Comparator: rules.ComparatorEq, Value: "pro"},
			{ID: "p1", Kind: rules.KindCurrentPage, PagePattern: "/settings"},
			{ID: "t1", Kind: rules.KindElapsedTime, DelayMS: 5000},
		},
	}

	eval := svc.Evaluate(tree, &rules.Input{UserAttributes: map[string]any{"plan": "pro"}})
	if !eval.Pending() {
		t.Fatalf("Expected pending, got %v", eval.Result)
	}
	if len(eval.PendingClient) != 1 || eval.PendingClient[0].ID != "p1" {
		t.Errorf("Expected page leaf as client candidate, got %+v", eval.PendingClient)
	}
	if len(eval.PendingTimers) != 1 || eval.PendingTimers[0].ID != "t1" {
		t.Errorf("Expected timer leaf as timer candidate, got %+v", eval.PendingTimers)
	}
	if eval.OnlyTimersPending() {
		t.Error("OnlyTimersPending must be false while a client leaf is unresolved")
	}
}

// TestCurrentPageMismatchStillWatched verifies a known non-matching page
// resolves false yet keeps the leaf as a watch candidate
func TestCurrentPageMismatchStillWatched(t *testing.T) {
	svc := NewRuleEvaluationService()

	node := &rules.Node{ID: "p1", Kind: rules.KindCurrentPage, PagePattern: "/settings/*"}
	eval := svc.Evaluate(node, &rules.Input{PageURL: "/home", PageKnown: true})

	if !eval.Violated() {
		t.Errorf("Expected false for non-matching page, got %v", eval.Result)
	}
	if len(eval.PendingClient) != 1 || eval.PendingClient[0].ID != "p1" {
		t.Errorf("Expected the page leaf to remain watched, got %+v", eval.PendingClient)
	}
}

// TestCurrentPageUnknown verifies a missing page context is pending
func TestCurrentPageUnknown(t *testing.T) {
	svc := NewRuleEvaluationService()

	node := &rules.Node{ID: "p1", Kind: rules.KindCurrentPage, PagePattern: "/settings"}
	eval := svc.Evaluate(node, &rules.Input{})

	if !eval.Pending() {
		t.Errorf("Expected pending without page context, got %v", eval.Result)
	}
	if len(eval.PendingClient) != 1 {
		t.Errorf("Expected one client candidate, got %d", len(eval.PendingClient))
	}
}

// TestPagePatternWildcards verifies '*' spans arbitrary runs including '/'
func TestPagePatternWildcards(t *testing.T) {
	svc := NewRuleEvaluationService()

	cases := []struct {
		pattern string
		url     string
		match   bool
	}{
		{"/settings", "/settings", true},
		{"/settings", "/settings/profile", false},
		{"/app/*", "/app/users/42/edit", true},
		{"/app/*/edit", "/app/users/42/edit", true},
		{"/app/*/edit", "/app/users/42/view", false},
		{"*checkout*", "/shop/checkout/payment", true},
		{"*", "/anything/at/all", true},
		{"", "/home", false},
	}

	for _, tc := range cases {
		node := &rules.Node{ID: "p1", Kind: rules.KindCurrentPage, PagePattern: tc.pattern}
		eval := svc.Evaluate(node, &rules.Input{PageURL: tc.url, PageKnown: true})
		if eval.Satisfied() != tc.match {
			t.Errorf("Pattern %q vs %q: expected match=%v, got %v", tc.pattern, tc.url, tc.match, eval.Result)
		}
	}
}

// TestElapsedTimeLeaf verifies timer leaves resolve only after firing
func TestElapsedTimeLeaf(t *testing.T) {
	svc := NewRuleEvaluationService()
	node := &rules.Node{ID: "t1", Kind: rules.KindElapsedTime, DelayMS: 30000}

	eval := svc.Evaluate(node, &rules.Input{})
	if !eval.Pending() || !eval.OnlyTimersPending() {
		t.Errorf("Expected only-timers pending, got %v (client=%d timers=%d)", eval.Result, len(eval.PendingClient), len(eval.PendingTimers))
	}

	eval = svc.Evaluate(node, &rules.Input{TimerFired: true})
	if !eval.Satisfied() {
		t.Errorf("Expected true after firing, got %v", eval.Result)
	}
}

// TestActiveConditionOverride verifies client toggles win over synchronous
// resolution for any leaf kind
func TestActiveConditionOverride(t *testing.T) {
	svc := NewRuleEvaluationService()

	page := &rules.Node{ID: "p1", Kind: rules.KindCurrentPage, PagePattern: "/settings"}
	eval := svc.Evaluate(page, &rules.Input{
		PageURL:          "/home",
		PageKnown:        true,
		ActiveConditions: map[string]bool{"p1": true},
	})
	if !eval.Satisfied() {
		t.Errorf("Expected active toggle to satisfy, got %v", eval.Result)
	}

	attr := &rules.Node{ID: "a1", Kind: rules.KindUserAttr, Attribute: "plan", Comparator: rules.ComparatorEq, Value: "pro"}
	eval = svc.Evaluate(attr, &rules.Input{
		UserAttributes:   map[string]any{"plan": "pro"},
		ActiveConditions: map[string]bool{"a1": false},
	})
	if !eval.Violated() {
		t.Errorf("Expected inactive toggle to violate, got %v", eval.Result)
	}
}

// TestContentStateLeaf verifies nested content state with the unseen default
func TestContentStateLeaf(t *testing.T) {
	svc := NewRuleEvaluationService()

	unseen := &rules.Node{ID: "c1", Kind: rules.KindContentState, ContentID: "other", ContentCondition: rules.ContentStateUnseen}
	if !svc.Evaluate(unseen, &rules.Input{}).Satisfied() {
		t.Error("Expected never-seen content to count as unseen")
	}

	completed := &rules.Node{ID: "c2", Kind: rules.KindContentState, ContentID: "other", ContentCondition: rules.ContentStateCompleted}
	input := &rules.Input{ContentStates: map[string]string{"other": rules.ContentStateCompleted}}
	if !svc.Evaluate(completed, input).Satisfied() {
		t.Error("Expected completed state to match")
	}
	if svc.Evaluate(unseen, input).Satisfied() {
		t.Error("Completed content must not count as unseen")
	}
}

// TestSegmentLeaf verifies membership lookup
func TestSegmentLeaf(t *testing.T) {
	svc := NewRuleEvaluationService()
	node := &rules.Node{ID: "s1", Kind: rules.KindSegment, SegmentID: "seg-power"}

	if !svc.Evaluate(node, &rules.Input{SegmentMembership: map[string]bool{"seg-power": true}}).Satisfied() {
		t.Error("Expected member to satisfy")
	}
	if svc.Evaluate(node, &rules.Input{}).Satisfied() {
		t.Error("Expected non-member to fail")
	}
}

// TestEvaluateDoesNotAliasTree verifies candidates come from a private clone
func TestEvaluateDoesNotAliasTree(t *testing.T) {
	svc := NewRuleEvaluationService()

	leaf := &rules.Node{ID: "p1", Kind: rules.KindCurrentPage, PagePattern: "/settings"}
	tree := &rules.Node{
		ID:       "g1",
		Kind:     rules.KindGroup,
		Operator: rules.OperatorAnd,
		Children: []*rules.Node{leaf},
	}

	eval := svc.Evaluate(tree, &rules.Input{})
	if len(eval.PendingClient) != 1 {
		t.Fatalf("Expected one candidate, got %d", len(eval.PendingClient))
	}
	if eval.PendingClient[0] == leaf {
		t.Error("Candidate aliases the shared tree instead of a clone")
	}
	if eval.PendingClient[0].ID != leaf.ID {
		t.Errorf("Clone lost its id: %q", eval.PendingClient[0].ID)
	}
}
