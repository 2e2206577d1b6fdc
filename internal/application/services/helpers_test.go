package services

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/GuideRail/guiderail-go/internal/domain/entities/audience"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/content"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/messaging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
)

func testLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	cfg := logging.DefaultLoggerConfig()
	cfg.DefaultLevel = slog.LevelError
	logger, err := logging.NewChanneledLogger(cfg)
	if err != nil {
		t.Fatalf("Failed to build logger: %v", err)
	}
	return logger
}

func testState(connectionID string) *session.ConnectionState {
	return &session.ConnectionState{
		ConnectionID:   connectionID,
		EnvironmentID:  "env-1",
		ExternalUserID: "user-1",
	}
}

type emittedEvent struct {
	connectionID string
	event        messaging.Event
}

// fakeEmitter records pushes and can refuse specific event kinds.
type fakeEmitter struct {
	mu     sync.Mutex
	events []emittedEvent
	reject map[string]bool
	rooms  map[string][]string
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{
		reject: make(map[string]bool),
		rooms:  make(map[string][]string),
	}
}

func (f *fakeEmitter) EmitTo(connectionID string, event messaging.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject[event.Kind] {
		return false
	}
	f.events = append(f.events, emittedEvent{connectionID: connectionID, event: event})
	return true
}

func (f *fakeEmitter) RoomConnectionIDs(environmentID, roomID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.rooms[roomID]...)
}

func (f *fakeEmitter) countKind(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.event.Kind == kind {
			n++
		}
	}
	return n
}

type fakeVersions struct {
	evaluated map[string][]*content.EvaluatedVersion
	published map[string]string
	fetches   int
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{
		evaluated: make(map[string][]*content.EvaluatedVersion),
		published: make(map[string]string),
	}
}

func (f *fakeVersions) FetchEvaluableVersions(environmentID, externalUserID, contentType, versionID string) ([]*content.EvaluatedVersion, error) {
	f.fetches++
	return f.evaluated[contentType], nil
}

func (f *fakeVersions) FindPublishedVersionID(environmentID, contentID string) (string, error) {
	return f.published[contentID], nil
}

func profileWith(userAttributes map[string]any) *audience.Profile {
	return &audience.Profile{UserAttributes: userAttributes}
}

type fakeProfiles struct {
	profile *audience.Profile
}

func (f *fakeProfiles) LoadProfile(environmentID, externalUserID, externalCompanyID string) (*audience.Profile, error) {
	if f.profile == nil {
		return &audience.Profile{}, nil
	}
	return f.profile, nil
}

type fakeSessions struct {
	created        []*content.BizSession
	versionUpdates map[string]string
	nextID         int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{versionUpdates: make(map[string]string)}
}

func (f *fakeSessions) CreateSession(environmentID, contentID, versionID, externalUserID string) (*content.BizSession, error) {
	f.nextID++
	now := time.Now().UTC()
	biz := &content.BizSession{
		ID:             fmt.Sprintf("biz-%d", f.nextID),
		EnvironmentID:  environmentID,
		ContentID:      contentID,
		VersionID:      versionID,
		ExternalUserID: externalUserID,
		State:          content.SessionStateInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.created = append(f.created, biz)
	return biz, nil
}

func (f *fakeSessions) UpdateSessionVersion(sessionID, versionID string) error {
	f.versionUpdates[sessionID] = versionID
	return nil
}

func makeEvaluated(contentID, versionID string, ordering int, cfg *content.VersionConfig) *content.EvaluatedVersion {
	return &content.EvaluatedVersion{
		Content: &content.Content{
			ID:            contentID,
			EnvironmentID: "env-1",
			Name:          contentID,
			Ordering:      ordering,
		},
		Version: &content.Version{
			ID:        versionID,
			ContentID: contentID,
			Config:    cfg,
		},
	}
}

type selectionFixture struct {
	versions *fakeVersions
	profiles *fakeProfiles
	sessions *fakeSessions
	service  *SelectionService
}

func newSelectionFixture(t *testing.T) *selectionFixture {
	t.Helper()
	f := &selectionFixture{
		versions: newFakeVersions(),
		profiles: &fakeProfiles{},
		sessions: newFakeSessions(),
	}
	f.service = NewSelectionService(f.versions, f.profiles, f.sessions, NewRuleEvaluationService(), testLogger(t))
	return f
}
