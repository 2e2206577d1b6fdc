package services

import (
	"testing"
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/content"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/rules"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
)

// TestAutoStartActivatesInAuthoringOrder verifies the first satisfied version
// wins and gets a fresh business session
func TestAutoStartActivatesInAuthoringOrder(t *testing.T) {
	f := newSelectionFixture(t)
	f.versions.evaluated[session.ContentTypeFlow] = []*content.EvaluatedVersion{
		makeEvaluated("c1", "v1", 0, nil),
		makeEvaluated("c2", "v2", 1, nil),
	}

	outcome, err := f.service.SelectContent(testState("conn-1"), session.ContentTypeFlow, SelectOptions{})
	if err != nil {
		t.Fatalf("SelectContent failed: %v", err)
	}
	if outcome.Kind != OutcomeActivate {
		t.Fatalf("Expected activation, got kind %d", outcome.Kind)
	}
	if outcome.Session.ContentID != "c1" {
		t.Errorf("Expected first content in authoring order, got %s", outcome.Session.ContentID)
	}
	if outcome.ForceStep != -1 {
		t.Errorf("Fresh session should not force a step, got %d", outcome.ForceStep)
	}
	if len(f.sessions.created) != 1 || f.sessions.created[0].ContentID != "c1" {
		t.Errorf("Expected one business session for c1, got %+v", f.sessions.created)
	}
}

// TestExistingSessionKeptAcrossReselection verifies re-selection is idempotent
// while the held session stays valid
func TestExistingSessionKeptAcrossReselection(t *testing.T) {
	f := newSelectionFixture(t)
	f.versions.evaluated[session.ContentTypeFlow] = []*content.EvaluatedVersion{
		makeEvaluated("c1", "v1", 0, nil),
	}

	state := testState("conn-1")
	state.FlowSession = &session.ContentSession{
		ID:          "biz-9",
		ContentID:   "c1",
		ContentType: session.ContentTypeFlow,
		VersionID:   "v1",
		CurrentStep: 2,
	}

	for i := 0; i < 2; i++ {
		outcome, err := f.service.SelectContent(state, session.ContentTypeFlow, SelectOptions{})
		if err != nil {
			t.Fatalf("SelectContent run %d failed: %v", i, err)
		}
		if outcome.Kind != OutcomeActivate || outcome.Session.ID != "biz-9" {
			t.Fatalf("Run %d: expected held session kept, got kind=%d session=%+v", i, outcome.Kind, outcome.Session)
		}
		if outcome.ForceStep != -1 {
			t.Errorf("Run %d: keeping a session must not force a step, got %d", i, outcome.ForceStep)
		}
	}
	if len(f.sessions.created) != 0 {
		t.Errorf("Re-selection created %d sessions for an already-held content", len(f.sessions.created))
	}
}

// TestHiddenSessionTornDownAndReplaced verifies a hide rule firing tears down
// the held session and lets the next candidate fill the slot
func TestHiddenSessionTornDownAndReplaced(t *testing.T) {
	f := newSelectionFixture(t)
	hideCfg := &content.VersionConfig{
		HideRules: &rules.Node{ID: "h1", Kind: rules.KindUserAttr, Attribute: "plan", Comparator: rules.ComparatorEq, Value: "pro"},
	}
	f.versions.evaluated[session.ContentTypeFlow] = []*content.EvaluatedVersion{
		makeEvaluated("c1", "v1", 0, hideCfg),
		makeEvaluated("c2", "v2", 1, nil),
	}
	// The profile satisfies c1's hide rule.
	f.profiles.profile = profileWith(map[string]any{"plan": "pro"})

	state := testState("conn-1")
	state.FlowSession = &session.ContentSession{
		ID:          "biz-9",
		ContentID:   "c1",
		ContentType: session.ContentTypeFlow,
		VersionID:   "v1",
	}

	outcome, err := f.service.SelectContent(state, session.ContentTypeFlow, SelectOptions{})
	if err != nil {
		t.Fatalf("SelectContent failed: %v", err)
	}
	if outcome.TornDown == nil || outcome.TornDown.ID != "biz-9" {
		t.Fatalf("Expected held session torn down, got %+v", outcome.TornDown)
	}
	if outcome.Kind != OutcomeActivate || outcome.Session.ContentID != "c2" {
		t.Errorf("Expected c2 to fill the slot, got kind=%d session=%+v", outcome.Kind, outcome.Session)
	}
}

// TestLatestInProgressResumed verifies resumption reuses the business session
// and forces the client back to its last-seen step
func TestLatestInProgressResumed(t *testing.T) {
	f := newSelectionFixture(t)
	cfg := &content.VersionConfig{
		AutoStartRules: &rules.Node{ID: "a1", Kind: rules.KindUserAttr, Attribute: "plan", Comparator: rules.ComparatorEq, Value: "pro"},
	}
	ev := makeEvaluated("c1", "v1", 0, cfg)
	ev.LatestSession = &content.BizSession{
		ID:          "biz-5",
		ContentID:   "c1",
		VersionID:   "v1",
		State:       content.SessionStateInProgress,
		CurrentStep: 3,
		UpdatedAt:   time.Now().UTC(),
	}
	f.versions.evaluated[session.ContentTypeFlow] = []*content.EvaluatedVersion{ev}

	outcome, err := f.service.SelectContent(testState("conn-1"), session.ContentTypeFlow, SelectOptions{})
	if err != nil {
		t.Fatalf("SelectContent failed: %v", err)
	}
	if outcome.Kind != OutcomeActivate || outcome.Session.ID != "biz-5" {
		t.Fatalf("Expected resumption of biz-5, got kind=%d session=%+v", outcome.Kind, outcome.Session)
	}
	if outcome.ForceStep != 3 || outcome.Session.CurrentStep != 3 {
		t.Errorf("Expected resume at step 3, got forceStep=%d step=%d", outcome.ForceStep, outcome.Session.CurrentStep)
	}
	if len(f.sessions.created) != 0 {
		t.Error("Resumption must not create a new business session")
	}
}

// TestResumeRepointsToCurrentVersion verifies a session recorded against an
// older version restarts on the published one
func TestResumeRepointsToCurrentVersion(t *testing.T) {
	f := newSelectionFixture(t)
	ev := makeEvaluated("c1", "v2", 0, nil)
	ev.LatestSession = &content.BizSession{
		ID:          "biz-5",
		ContentID:   "c1",
		VersionID:   "v1",
		State:       content.SessionStateInProgress,
		CurrentStep: 4,
		UpdatedAt:   time.Now().UTC(),
	}
	f.versions.evaluated[session.ContentTypeFlow] = []*content.EvaluatedVersion{ev}

	outcome, err := f.service.SelectContent(testState("conn-1"), session.ContentTypeFlow, SelectOptions{})
	if err != nil {
		t.Fatalf("SelectContent failed: %v", err)
	}
	if outcome.Session.VersionID != "v2" || outcome.Session.CurrentStep != 0 {
		t.Errorf("Expected restart on v2 at step 0, got %+v", outcome.Session)
	}
	if f.sessions.versionUpdates["biz-5"] != "v2" {
		t.Errorf("Expected durable repoint to v2, got %q", f.sessions.versionUpdates["biz-5"])
	}
}

// TestExplicitContentIDWins verifies an explicit request beats auto-start order
func TestExplicitContentIDWins(t *testing.T) {
	f := newSelectionFixture(t)
	f.versions.evaluated[session.ContentTypeFlow] = []*content.EvaluatedVersion{
		makeEvaluated("c1", "v1", 0, nil),
		makeEvaluated("c2", "v2", 1, nil),
	}
	f.versions.published["c2"] = "v2"

	outcome, err := f.service.SelectContent(testState("conn-1"), session.ContentTypeFlow, SelectOptions{ContentID: "c2"})
	if err != nil {
		t.Fatalf("SelectContent failed: %v", err)
	}
	if outcome.Kind != OutcomeActivate || outcome.Session.ContentID != "c2" {
		t.Errorf("Expected explicit c2 activation, got kind=%d session=%+v", outcome.Kind, outcome.Session)
	}
}

// TestExplicitContentRespectsStartRules verifies an explicit request cannot
// activate a version whose auto-start rules are unmet and the chain continues
func TestExplicitContentRespectsStartRules(t *testing.T) {
	f := newSelectionFixture(t)
	pageCfg := &content.VersionConfig{
		AutoStartRules: &rules.Node{ID: "p1", Kind: rules.KindCurrentPage, PagePattern: "/settings/*"},
	}
	f.versions.evaluated[session.ContentTypeFlow] = []*content.EvaluatedVersion{
		makeEvaluated("c1", "v1", 0, pageCfg),
		makeEvaluated("c2", "v2", 1, nil),
	}
	f.versions.published["c1"] = "v1"

	state := testState("conn-1")
	state.ClientContext = &session.ClientContext{PageURL: "/home"}

	outcome, err := f.service.SelectContent(state, session.ContentTypeFlow, SelectOptions{ContentID: "c1"})
	if err != nil {
		t.Fatalf("SelectContent failed: %v", err)
	}
	if outcome.Kind != OutcomeActivate || outcome.Session.ContentID != "c2" {
		t.Fatalf("Expected fall-through past the blocked request, got kind=%d session=%+v", outcome.Kind, outcome.Session)
	}
	for _, biz := range f.sessions.created {
		if biz.ContentID == "c1" {
			t.Error("Blocked request still created a business session for c1")
		}
	}
}

// TestUnknownExplicitContentFallsThrough verifies an unpublished request is a
// normal negative, not an error
func TestUnknownExplicitContentFallsThrough(t *testing.T) {
	f := newSelectionFixture(t)
	f.versions.evaluated[session.ContentTypeFlow] = []*content.EvaluatedVersion{
		makeEvaluated("c1", "v1", 0, nil),
	}

	outcome, err := f.service.SelectContent(testState("conn-1"), session.ContentTypeFlow, SelectOptions{ContentID: "ghost"})
	if err != nil {
		t.Fatalf("SelectContent failed: %v", err)
	}
	if outcome.Kind != OutcomeActivate || outcome.Session.ContentID != "c1" {
		t.Errorf("Expected fall-through to auto-start, got kind=%d", outcome.Kind)
	}
}

// TestArmTimersForDelayedActivation verifies a version blocked only by an
// unelapsed timer arms a wall-clock wait, exactly once
func TestArmTimersForDelayedActivation(t *testing.T) {
	f := newSelectionFixture(t)
	cfg := &content.VersionConfig{
		AutoStartRules: &rules.Node{ID: "t1", Kind: rules.KindElapsedTime, DelayMS: 60000},
	}
	f.versions.evaluated[session.ContentTypeFlow] = []*content.EvaluatedVersion{
		makeEvaluated("c1", "v1", 0, cfg),
	}

	state := testState("conn-1")
	before := time.Now().UTC()
	outcome, err := f.service.SelectContent(state, session.ContentTypeFlow, SelectOptions{})
	if err != nil {
		t.Fatalf("SelectContent failed: %v", err)
	}
	if outcome.Kind != OutcomeArmTimers || len(outcome.Timers) != 1 {
		t.Fatalf("Expected one armed timer, got kind=%d timers=%d", outcome.Kind, len(outcome.Timers))
	}
	timer := outcome.Timers[0]
	if timer.VersionID != "v1" {
		t.Errorf("Expected timer for v1, got %s", timer.VersionID)
	}
	wantFire := before.Add(60 * time.Second)
	if timer.FireAt.Before(wantFire) || timer.FireAt.After(wantFire.Add(5*time.Second)) {
		t.Errorf("FireAt %v not near %v", timer.FireAt, wantFire)
	}

	// With the timer already armed the chain has nothing left to do.
	state.WaitTimers = append(state.WaitTimers, timer)
	outcome, err = f.service.SelectContent(state, session.ContentTypeFlow, SelectOptions{})
	if err != nil {
		t.Fatalf("SelectContent failed: %v", err)
	}
	if outcome.Kind != OutcomeNoop {
		t.Errorf("Expected noop with timer already armed, got kind=%d", outcome.Kind)
	}
}

// TestTrackConditionsForPageRule verifies a page rule the current page does
// not satisfy becomes a client watch instead of a dead end
func TestTrackConditionsForPageRule(t *testing.T) {
	f := newSelectionFixture(t)
	cfg := &content.VersionConfig{
		AutoStartRules: &rules.Node{ID: "p1", Kind: rules.KindCurrentPage, PagePattern: "/settings/*"},
	}
	f.versions.evaluated[session.ContentTypeFlow] = []*content.EvaluatedVersion{
		makeEvaluated("c1", "v1", 0, cfg),
	}

	state := testState("conn-1")
	state.ClientContext = &session.ClientContext{PageURL: "/home"}

	outcome, err := f.service.SelectContent(state, session.ContentTypeFlow, SelectOptions{})
	if err != nil {
		t.Fatalf("SelectContent failed: %v", err)
	}
	if outcome.Kind != OutcomeTrackConditions {
		t.Fatalf("Expected condition tracking, got kind=%d", outcome.Kind)
	}
	if len(outcome.Conditions) != 1 || outcome.Conditions[0].Condition.ID != "p1" {
		t.Errorf("Expected the page leaf as watch candidate, got %+v", outcome.Conditions)
	}
	if outcome.Conditions[0].Type != session.ConditionTypeAutoStart {
		t.Errorf("Expected auto-start condition type, got %s", outcome.Conditions[0].Type)
	}
}

// TestNoopWhenNoCandidates verifies an empty catalog resolves cleanly
func TestNoopWhenNoCandidates(t *testing.T) {
	f := newSelectionFixture(t)

	outcome, err := f.service.SelectContent(testState("conn-1"), session.ContentTypeFlow, SelectOptions{})
	if err != nil {
		t.Fatalf("SelectContent failed: %v", err)
	}
	if outcome.Kind != OutcomeNoop {
		t.Errorf("Expected noop, got kind=%d", outcome.Kind)
	}
}

// TestSelectLaunchers verifies every satisfied launcher activates, not just one
func TestSelectLaunchers(t *testing.T) {
	f := newSelectionFixture(t)
	blockedCfg := &content.VersionConfig{
		AutoStartRules: &rules.Node{ID: "a1", Kind: rules.KindUserAttr, Attribute: "plan", Comparator: rules.ComparatorEq, Value: "pro"},
	}
	f.versions.evaluated[session.ContentTypeLauncher] = []*content.EvaluatedVersion{
		makeEvaluated("l1", "lv1", 0, nil),
		makeEvaluated("l2", "lv2", 1, blockedCfg),
		makeEvaluated("l3", "lv3", 2, nil),
	}

	sessions, err := f.service.SelectLaunchers(testState("conn-1"))
	if err != nil {
		t.Fatalf("SelectLaunchers failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected two launcher sessions, got %d", len(sessions))
	}
	for _, cs := range sessions {
		if cs.ContentType != session.ContentTypeLauncher {
			t.Errorf("Expected launcher content type, got %s", cs.ContentType)
		}
	}
}
