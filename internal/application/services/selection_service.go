// Package services contains the orchestration business logic
package services

import (
	"fmt"
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/audience"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/content"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/rules"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
)

// Outcome kinds
const (
	OutcomeNoop = iota
	OutcomeActivate
	OutcomeTrackConditions
	OutcomeArmTimers
)

// Outcome is the result of one content selection run. Exactly one of the
// payload fields matches Kind. TornDown reports a previously held session the
// chain invalidated on its way through; the caller unsets it whatever the
// final kind.
type Outcome struct {
	Kind           int
	Session        *session.ContentSession
	ForceStep      int
	HideConditions []session.TrackCondition
	Conditions     []session.TrackCondition
	Timers         []session.WaitTimerCondition
	TornDown       *session.ContentSession
}

// SelectOptions narrows a selection run. ContentID requests one specific
// content; ExcludeContentIDs removes contents just torn down in the same
// operation so the chain cannot immediately reselect them.
type SelectOptions struct {
	ContentID         string
	ExcludeContentIDs []string
}

// VersionReader is the published content read model.
type VersionReader interface {
	FetchEvaluableVersions(environmentID, externalUserID, contentType, versionID string) ([]*content.EvaluatedVersion, error)
	FindPublishedVersionID(environmentID, contentID string) (string, error)
}

// ProfileReader loads the audience snapshot rule evaluation runs against.
type ProfileReader interface {
	LoadProfile(environmentID, externalUserID, externalCompanyID string) (*audience.Profile, error)
}

// SessionWriter records durable business sessions.
type SessionWriter interface {
	CreateSession(environmentID, contentID, versionID, externalUserID string) (*content.BizSession, error)
	UpdateSessionVersion(sessionID, versionID string) error
}

// SelectionService is the content selection orchestrator: given a connection
// and a content type it runs an ordered strategy chain and picks at most one
// version to activate, or arms watches for later activation.
type SelectionService struct {
	versions  VersionReader
	profiles  ProfileReader
	sessions  SessionWriter
	evaluator *RuleEvaluationService
	logger    *logging.ChanneledLogger
}

func NewSelectionService(versions VersionReader, profiles ProfileReader, sessions SessionWriter, evaluator *RuleEvaluationService, logger *logging.ChanneledLogger) *SelectionService {
	return &SelectionService{
		versions:  versions,
		profiles:  profiles,
		sessions:  sessions,
		evaluator: evaluator,
		logger:    logger,
	}
}

type strategyFunc func(state *session.ConnectionState, contentType string, opts SelectOptions, evaluated []*content.EvaluatedVersion) (Outcome, bool, error)

// SelectContent runs the strategy chain in fixed priority order; the first
// strategy that produces an outcome wins. Absent content, unpublished
// versions and unsatisfiable rules are normal negative results, never errors.
func (s *SelectionService) SelectContent(state *session.ConnectionState, contentType string, opts SelectOptions) (Outcome, error) {
	start := time.Now()

	evaluated, err := s.evaluateCandidates(state, contentType, "")
	if err != nil {
		return Outcome{}, err
	}

	strategies := []strategyFunc{
		s.strategyExplicitID,
		s.strategyExistingSession,
		s.strategyLatestInProgress,
		s.strategyAutoStart,
		s.strategyArmTimers,
		s.strategyTrackConditions,
	}

	var tornDown *session.ContentSession
	for _, strategy := range strategies {
		outcome, handled, err := strategy(state, contentType, opts, evaluated)
		if err != nil {
			return Outcome{}, err
		}
		if outcome.TornDown != nil {
			// The existing-session strategy invalidated the held session;
			// exclude its content and let lower strategies fill the slot.
			tornDown = outcome.TornDown
			opts.ExcludeContentIDs = append(opts.ExcludeContentIDs, outcome.TornDown.ContentID)
			continue
		}
		if handled {
			outcome.TornDown = tornDown
			s.logger.Orchestrator().Debug("Selection resolved", "connectionId", state.ConnectionID, "contentType", contentType, "kind", outcome.Kind, "duration", time.Since(start))
			return outcome, nil
		}
	}

	s.logger.Orchestrator().Debug("Selection resolved", "connectionId", state.ConnectionID, "contentType", contentType, "kind", OutcomeNoop, "duration", time.Since(start))
	return Outcome{Kind: OutcomeNoop, TornDown: tornDown}, nil
}

// evaluateCandidates loads the published versions of a content type and fills
// their rule evaluations from the connection's current view of the world.
func (s *SelectionService) evaluateCandidates(state *session.ConnectionState, contentType, versionID string) ([]*content.EvaluatedVersion, error) {
	evaluated, err := s.versions.FetchEvaluableVersions(state.EnvironmentID, state.ExternalUserID, contentType, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidates: %w", err)
	}
	if len(evaluated) == 0 {
		return nil, nil
	}

	profile, err := s.profiles.LoadProfile(state.EnvironmentID, state.ExternalUserID, state.ExternalCompanyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	base := s.buildInput(state, profile)
	base.ContentStates = contentStates(evaluated)

	for _, ev := range evaluated {
		input := *base
		if timer, armed := state.FindTimer(ev.Version.ID); armed {
			input.TimerFired = timer.Activated
		}
		if ev.Version.Config != nil {
			ev.AutoStart = s.evaluator.Evaluate(ev.Version.Config.AutoStartRules, &input)
			ev.Hide = s.evaluator.Evaluate(ev.Version.Config.HideRules, &input)
		} else {
			ev.AutoStart = rules.Evaluation{Result: rules.ResultTrue}
		}
	}
	return evaluated, nil
}

// buildInput assembles the evaluation input. Segment membership is computed
// here, synchronously, because segment rules are attribute-only trees.
func (s *SelectionService) buildInput(state *session.ConnectionState, profile *audience.Profile) *rules.Input {
	input := &rules.Input{
		UserAttributes:    profile.UserAttributes,
		CompanyAttributes: profile.CompanyAttributes,
		ActiveConditions:  state.ActiveConditionSet(),
	}
	if state.ClientContext != nil {
		input.PageURL = state.ClientContext.PageURL
		input.PageKnown = true
	}

	if len(profile.Segments) > 0 {
		membership := make(map[string]bool, len(profile.Segments))
		attrInput := &rules.Input{
			UserAttributes:    profile.UserAttributes,
			CompanyAttributes: profile.CompanyAttributes,
		}
		for _, seg := range profile.Segments {
			if seg.Rules == nil {
				continue
			}
			membership[seg.ID] = s.evaluator.Evaluate(seg.Rules, attrInput).Satisfied()
		}
		input.SegmentMembership = membership
	}
	return input
}

// strategyExplicitID resolves an explicitly requested content id. A missing
// or unpublished content falls through to the next strategy.
func (s *SelectionService) strategyExplicitID(state *session.ConnectionState, contentType string, opts SelectOptions, evaluated []*content.EvaluatedVersion) (Outcome, bool, error) {
	if opts.ContentID == "" {
		return Outcome{}, false, nil
	}

	versionID, err := s.versions.FindPublishedVersionID(state.EnvironmentID, opts.ContentID)
	if err != nil {
		return Outcome{}, false, err
	}
	if versionID == "" {
		s.logger.Orchestrator().Debug("Requested content has no published version", "connectionId", state.ConnectionID, "contentId", opts.ContentID)
		return Outcome{}, false, nil
	}

	ev := findByVersionID(evaluated, versionID)
	if ev == nil {
		return Outcome{}, false, nil
	}
	if ev.Hide.Satisfied() {
		return Outcome{}, false, nil
	}
	if !ev.AutoStart.Satisfied() {
		// An explicit request does not override unmet start rules; lower
		// strategies may still resume or watch this content.
		s.logger.Orchestrator().Debug("Requested content start rules unmet", "connectionId", state.ConnectionID, "contentId", opts.ContentID)
		return Outcome{}, false, nil
	}

	outcome, err := s.activateOutcome(state, contentType, ev)
	if err != nil {
		return Outcome{}, false, err
	}
	return outcome, true, nil
}

// strategyExistingSession keeps a held session whose hide rules are still
// unsatisfied, or tears it down and falls through when they fire.
func (s *SelectionService) strategyExistingSession(state *session.ConnectionState, contentType string, opts SelectOptions, evaluated []*content.EvaluatedVersion) (Outcome, bool, error) {
	held := state.SessionFor(contentType)
	if held == nil {
		return Outcome{}, false, nil
	}
	if excluded(opts.ExcludeContentIDs, held.ContentID) {
		return Outcome{}, false, nil
	}

	ev := findByVersionID(evaluated, held.VersionID)
	if ev == nil {
		// The held version is no longer published; tear it down.
		s.logger.Orchestrator().Debug("Held session version gone", "connectionId", state.ConnectionID, "versionId", held.VersionID)
		return Outcome{TornDown: held}, false, nil
	}
	if ev.Hide.Satisfied() {
		s.logger.Orchestrator().Debug("Held session hidden by rule", "connectionId", state.ConnectionID, "sessionId", held.ID)
		return Outcome{TornDown: held}, false, nil
	}

	// Still valid; keep it. The caller propagates only on data change.
	return Outcome{
		Kind:           OutcomeActivate,
		Session:        held,
		ForceStep:      -1,
		HideConditions: hideCandidates(contentType, ev),
	}, true, nil
}

// strategyLatestInProgress resumes the version with the most recent
// non-terminal business session, reusing its session id and last-seen step.
func (s *SelectionService) strategyLatestInProgress(state *session.ConnectionState, contentType string, opts SelectOptions, evaluated []*content.EvaluatedVersion) (Outcome, bool, error) {
	var best *content.EvaluatedVersion
	for _, ev := range evaluated {
		if excluded(opts.ExcludeContentIDs, ev.Content.ID) || ev.Hide.Satisfied() {
			continue
		}
		if ev.LatestSession == nil || ev.LatestSession.Terminal() {
			continue
		}
		if best == nil || ev.LatestSession.UpdatedAt.After(best.LatestSession.UpdatedAt) {
			best = ev
		}
	}
	if best == nil {
		return Outcome{}, false, nil
	}

	outcome, err := s.resumeOutcome(contentType, best)
	if err != nil {
		return Outcome{}, false, err
	}
	return outcome, true, nil
}

// strategyAutoStart starts the first version, in authoring order, whose
// auto-start rules are fully satisfied.
func (s *SelectionService) strategyAutoStart(state *session.ConnectionState, contentType string, opts SelectOptions, evaluated []*content.EvaluatedVersion) (Outcome, bool, error) {
	for _, ev := range evaluated {
		if excluded(opts.ExcludeContentIDs, ev.Content.ID) || ev.Hide.Satisfied() {
			continue
		}
		if !ev.AutoStart.Satisfied() {
			continue
		}
		outcome, err := s.activateOutcome(state, contentType, ev)
		if err != nil {
			return Outcome{}, false, err
		}
		return outcome, true, nil
	}
	return Outcome{}, false, nil
}

// strategyArmTimers arms wait timers for versions whose only obstacle to
// auto-start is an unelapsed timer.
func (s *SelectionService) strategyArmTimers(state *session.ConnectionState, contentType string, opts SelectOptions, evaluated []*content.EvaluatedVersion) (Outcome, bool, error) {
	now := time.Now().UTC()
	var timers []session.WaitTimerCondition
	for _, ev := range evaluated {
		if excluded(opts.ExcludeContentIDs, ev.Content.ID) || ev.Hide.Satisfied() {
			continue
		}
		if ev.AutoStart.Satisfied() || !ev.AutoStart.OnlyTimersPending() {
			continue
		}
		if _, armed := state.FindTimer(ev.Version.ID); armed {
			continue
		}
		var delay int64
		for _, leaf := range ev.AutoStart.PendingTimers {
			if leaf.DelayMS > delay {
				delay = leaf.DelayMS
			}
		}
		timers = append(timers, session.WaitTimerCondition{
			VersionID:   ev.Version.ID,
			ContentType: contentType,
			FireAt:      now.Add(time.Duration(delay) * time.Millisecond),
		})
	}
	if len(timers) == 0 {
		return Outcome{}, false, nil
	}
	return Outcome{Kind: OutcomeArmTimers, Timers: timers}, true, nil
}

// strategyTrackConditions emits watch candidates for every remaining
// not-yet-satisfied version, covering auto-start and hide leaves both.
func (s *SelectionService) strategyTrackConditions(state *session.ConnectionState, contentType string, opts SelectOptions, evaluated []*content.EvaluatedVersion) (Outcome, bool, error) {
	var candidates []session.TrackCondition
	for _, ev := range evaluated {
		if excluded(opts.ExcludeContentIDs, ev.Content.ID) {
			continue
		}
		if !ev.AutoStart.Satisfied() {
			for _, leaf := range ev.AutoStart.PendingClient {
				candidates = append(candidates, session.TrackCondition{Condition: leaf, Type: session.ConditionTypeAutoStart, ContentType: contentType})
			}
		}
		candidates = append(candidates, hideCandidates(contentType, ev)...)
	}
	if len(candidates) == 0 {
		return Outcome{}, false, nil
	}
	return Outcome{Kind: OutcomeTrackConditions, Conditions: candidates}, true, nil
}

// activateOutcome creates or resumes the business session for a version and
// shapes the activation payload.
func (s *SelectionService) activateOutcome(state *session.ConnectionState, contentType string, ev *content.EvaluatedVersion) (Outcome, error) {
	if ev.LatestSession != nil && !ev.LatestSession.Terminal() {
		return s.resumeOutcome(contentType, ev)
	}

	biz, err := s.sessions.CreateSession(state.EnvironmentID, ev.Content.ID, ev.Version.ID, state.ExternalUserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create session: %w", err)
	}

	s.logger.Orchestrator().Info("Session activated", "connectionId", state.ConnectionID, "sessionId", biz.ID, "contentId", ev.Content.ID, "versionId", ev.Version.ID)
	return Outcome{
		Kind: OutcomeActivate,
		Session: &session.ContentSession{
			ID:          biz.ID,
			ContentID:   ev.Content.ID,
			ContentType: contentType,
			VersionID:   ev.Version.ID,
			CurrentStep: 0,
		},
		ForceStep:      -1,
		HideConditions: hideCandidates(contentType, ev),
	}, nil
}

// resumeOutcome reuses an in-progress business session, repointing it at the
// current published version when the user last saw an older one.
func (s *SelectionService) resumeOutcome(contentType string, ev *content.EvaluatedVersion) (Outcome, error) {
	biz := ev.LatestSession
	step := biz.CurrentStep

	if biz.VersionID != ev.Version.ID {
		if err := s.sessions.UpdateSessionVersion(biz.ID, ev.Version.ID); err != nil {
			return Outcome{}, err
		}
		step = 0
	}

	s.logger.Orchestrator().Info("Session resumed", "sessionId", biz.ID, "contentId", ev.Content.ID, "versionId", ev.Version.ID, "step", step)
	return Outcome{
		Kind: OutcomeActivate,
		Session: &session.ContentSession{
			ID:          biz.ID,
			ContentID:   ev.Content.ID,
			ContentType: contentType,
			VersionID:   ev.Version.ID,
			CurrentStep: step,
		},
		ForceStep:      step,
		HideConditions: hideCandidates(contentType, ev),
	}, nil
}

// SelectLaunchers returns a session for every launcher whose rules are
// satisfied. Launchers are always-on and exempt from the singleton invariant.
func (s *SelectionService) SelectLaunchers(state *session.ConnectionState) ([]*session.ContentSession, error) {
	evaluated, err := s.evaluateCandidates(state, session.ContentTypeLauncher, "")
	if err != nil {
		return nil, err
	}

	var out []*session.ContentSession
	for _, ev := range evaluated {
		if ev.Hide.Satisfied() || !ev.AutoStart.Satisfied() {
			continue
		}
		outcome, err := s.activateOutcome(state, session.ContentTypeLauncher, ev)
		if err != nil {
			return nil, err
		}
		out = append(out, outcome.Session)
	}
	return out, nil
}

func findByVersionID(evaluated []*content.EvaluatedVersion, versionID string) *content.EvaluatedVersion {
	for _, ev := range evaluated {
		if ev.Version.ID == versionID {
			return ev
		}
	}
	return nil
}

func excluded(ids []string, contentID string) bool {
	for _, id := range ids {
		if id == contentID {
			return true
		}
	}
	return false
}

func hideCandidates(contentType string, ev *content.EvaluatedVersion) []session.TrackCondition {
	var out []session.TrackCondition
	for _, leaf := range ev.Hide.PendingClient {
		out = append(out, session.TrackCondition{Condition: leaf, Type: session.ConditionTypeHide, ContentType: contentType})
	}
	return out
}

func contentStates(evaluated []*content.EvaluatedVersion) map[string]string {
	states := make(map[string]string, len(evaluated))
	for _, ev := range evaluated {
		if ev.LatestSession == nil {
			continue
		}
		switch ev.LatestSession.State {
		case content.SessionStateCompleted:
			states[ev.Content.ID] = rules.ContentStateCompleted
		case content.SessionStateDismissed:
			states[ev.Content.ID] = rules.ContentStateDismissed
		default:
			states[ev.Content.ID] = rules.ContentStateActive
		}
	}
	return states
}
