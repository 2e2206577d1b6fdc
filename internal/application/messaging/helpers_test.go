package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/GuideRail/guiderail-go/internal/application/services"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/audience"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/content"
	"github.com/GuideRail/guiderail-go/internal/domain/entities/session"
	"github.com/GuideRail/guiderail-go/internal/domain/events"
	realtime "github.com/GuideRail/guiderail-go/internal/infrastructure/messaging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/observability/logging"
	"github.com/GuideRail/guiderail-go/internal/infrastructure/statestore"
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

type recordingEmitter struct {
	mu     sync.Mutex
	events []realtime.Event
	rooms  map[string][]string
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{rooms: make(map[string][]string)}
}

func (e *recordingEmitter) EmitTo(connectionID string, event realtime.Event) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return true
}

func (e *recordingEmitter) RoomConnectionIDs(environmentID, roomID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.rooms[roomID]...)
}

func (e *recordingEmitter) countKind(kind string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type fakeVersions struct {
	evaluated map[string][]*content.EvaluatedVersion
	fetches   int
}

func newFakeVersions() *fakeVersions {
	return &fakeVersions{evaluated: make(map[string][]*content.EvaluatedVersion)}
}

func (f *fakeVersions) FetchEvaluableVersions(environmentID, externalUserID, contentType, versionID string) ([]*content.EvaluatedVersion, error) {
	f.fetches++
	return f.evaluated[contentType], nil
}

func (f *fakeVersions) FindPublishedVersionID(environmentID, contentID string) (string, error) {
	return "", nil
}

type fakeProfiles struct{}

func (f *fakeProfiles) LoadProfile(environmentID, externalUserID, externalCompanyID string) (*audience.Profile, error) {
	return &audience.Profile{}, nil
}

type fakeSessions struct {
	nextID       int
	created      []*content.BizSession
	stepUpdates  map[string]int
	stateUpdates map[string]int
	stateErr     error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		stepUpdates:  make(map[string]int),
		stateUpdates: make(map[string]int),
	}
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
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.created = append(f.created, biz)
	return biz, nil
}

func (f *fakeSessions) UpdateSessionVersion(sessionID, versionID string) error { return nil }

func (f *fakeSessions) UpdateSessionStep(sessionID string, step int) error {
	f.stepUpdates[sessionID] = step
	return nil
}

func (f *fakeSessions) UpdateSessionState(sessionID string, state int) error {
	if f.stateErr != nil {
		return f.stateErr
	}
	f.stateUpdates[sessionID] = state
	return nil
}

type fakeAttributes struct {
	userMerges    []map[string]any
	companyMerges []map[string]any
}

func (f *fakeAttributes) MergeUserAttributes(environmentID, externalID string, attributes map[string]any) error {
	f.userMerges = append(f.userMerges, attributes)
	return nil
}

func (f *fakeAttributes) MergeCompanyAttributes(environmentID, externalID string, attributes map[string]any) error {
	f.companyMerges = append(f.companyMerges, attributes)
	return nil
}

type fakeRecorder struct {
	recorded []*events.Event
}

func (f *fakeRecorder) Record(event *events.Event) error {
	f.recorded = append(f.recorded, event)
	return nil
}

func (f *fakeRecorder) verbs() []string {
	var out []string
	for _, e := range f.recorded {
		out = append(out, e.Verb)
	}
	return out
}

type routerFixture struct {
	router     *Router
	store      *statestore.MemoryStore
	emitter    *recordingEmitter
	versions   *fakeVersions
	sessions   *fakeSessions
	attributes *fakeAttributes
	recorder   *fakeRecorder
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	logger := testLogger(t)
	store := statestore.NewMemoryStore(time.Hour, nil)
	emitter := newRecordingEmitter()
	versions := newFakeVersions()
	sessions := newFakeSessions()
	attributes := &fakeAttributes{}
	recorder := &fakeRecorder{}

	selection := services.NewSelectionService(versions, &fakeProfiles{}, sessions, services.NewRuleEvaluationService(), logger)
	tracking := services.NewTrackingService(emitter, logger)
	lifecycle := services.NewLifecycleService(selection, tracking, emitter, store, store, logger)
	eventTracking := services.NewEventTrackingService(recorder, logger)
	guard := NewGuard(store, logger)

	return &routerFixture{
		router:     NewRouter(guard, store, selection, lifecycle, tracking, eventTracking, attributes, sessions, emitter, logger),
		store:      store,
		emitter:    emitter,
		versions:   versions,
		sessions:   sessions,
		attributes: attributes,
		recorder:   recorder,
	}
}

func seedConnection(t *testing.T, store *statestore.MemoryStore, state *session.ConnectionState) {
	t.Helper()
	if err := store.SaveConnection(context.Background(), state, false); err != nil {
		t.Fatalf("Seeding connection state failed: %v", err)
	}
}

func baseState(connectionID string) *session.ConnectionState {
	return &session.ConnectionState{
		ConnectionID:   connectionID,
		EnvironmentID:  "env-1",
		ExternalUserID: "user-1",
	}
}
