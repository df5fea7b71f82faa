// internal/match/coordinator_test.go
package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/arcadehall/arena/internal/models"
	"github.com/arcadehall/arena/internal/queue"
)

// fakeStore is an in-memory match.Store.
type fakeStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.MatchRequest
	users    map[uuid.UUID]*models.User
	games    map[uuid.UUID]*models.Game
	facts    map[uuid.UUID]PlayerFacts
	history  []*models.MatchHistory
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		requests: make(map[uuid.UUID]*models.MatchRequest),
		users:    make(map[uuid.UUID]*models.User),
		games:    make(map[uuid.UUID]*models.Game),
		facts:    make(map[uuid.UUID]PlayerFacts),
	}
}

func (f *fakeStore) addPlayer(skill, karma int) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.users[id] = &models.User{ID: id, Username: "u-" + id.String()[:8], Status: models.UserActive, Karma: karma}
	f.facts[id] = PlayerFacts{Skill: skill, Karma: karma, Username: "u-" + id.String()[:8]}
	return id
}

func (f *fakeStore) addGame() uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.games[id] = &models.Game{ID: id, Name: "game", Slug: "game"}
	return id
}

func (f *fakeStore) status(id uuid.UUID) models.MatchRequestStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[id].Status
}

func (f *fakeStore) setStatus(id uuid.UUID, s models.MatchRequestStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[id].Status = s
}

func (f *fakeStore) CreateMatchRequest(_ context.Context, req *models.MatchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *req
	f.requests[req.ID] = &cp
	return nil
}

func (f *fakeStore) TransitionMatchRequest(_ context.Context, id uuid.UUID, from, to models.MatchRequestStatus, lobbyID *uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok || req.Status != from {
		return false, nil
	}
	req.Status = to
	if lobbyID != nil {
		req.LobbyID = lobbyID
	}
	return true, nil
}

func (f *fakeStore) GetMatchRequest(_ context.Context, id uuid.UUID) (*models.MatchRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (f *fakeStore) ActiveRequestByUser(_ context.Context, userID uuid.UUID) (*models.MatchRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.requests {
		if req.UserID == userID && req.Status == models.RequestSearching {
			cp := *req
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SearchingRequests(context.Context) ([]*models.MatchRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.MatchRequest
	for _, req := range f.requests {
		if req.Status == models.RequestSearching {
			cp := *req
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeStore) SetRelaxationLevel(_ context.Context, id uuid.UUID, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req, ok := f.requests[id]; ok && level > req.RelaxationLevel {
		req.RelaxationLevel = level
	}
	return nil
}

func (f *fakeStore) InsertMatchHistory(_ context.Context, h *models.MatchHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *h
	f.history = append(f.history, &cp)
	return nil
}

func (f *fakeStore) MatchHistoryByUser(_ context.Context, userID uuid.UUID, _ HistoryFilter) ([]models.MatchHistory, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.MatchHistory
	for _, h := range f.history {
		for _, p := range h.Participants {
			if p == userID {
				out = append(out, *h)
				break
			}
		}
	}
	return out, len(out), nil
}

func (f *fakeStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) GetGame(_ context.Context, id uuid.UUID) (*models.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.games[id]
	if !ok {
		return nil, ErrUnknownGame
	}
	return g, nil
}

func (f *fakeStore) Enrichment(_ context.Context, _ uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]PlayerFacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]PlayerFacts, len(userIDs))
	for _, id := range userIDs {
		if facts, ok := f.facts[id]; ok {
			out[id] = facts
		}
	}
	return out, nil
}

// fakeLobbies records lobby creations.
type fakeLobbies struct {
	mu      sync.Mutex
	created []LobbySpec
	closed  []uuid.UUID
	failAll bool
}

func (f *fakeLobbies) CreateFromMatch(_ context.Context, spec LobbySpec) (*models.Lobby, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return nil, context.DeadlineExceeded
	}
	f.created = append(f.created, spec)
	return &models.Lobby{ID: spec.ID, HostID: spec.HostID, Status: models.LobbyForming}, nil
}

func (f *fakeLobbies) CloseInternal(_ context.Context, lobbyID uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, lobbyID)
	return nil
}

func (f *fakeLobbies) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// fakeNotifier records match_found fan-out.
type fakeNotifier struct {
	mu    sync.Mutex
	users []uuid.UUID
}

func (f *fakeNotifier) MatchFound(_ context.Context, userID, _ uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
}

// fakeEvents records room emissions.
type fakeEvents struct {
	mu     sync.Mutex
	events []struct {
		Room  string
		Event string
	}
}

func (f *fakeEvents) ToRoom(room, event string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, struct {
		Room  string
		Event string
	}{room, event})
}

func (f *fakeEvents) JoinRoom(uuid.UUID, string) {}

func (f *fakeEvents) has(room, event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e.Room == room && e.Event == event {
			return true
		}
	}
	return false
}

type fixture struct {
	store    *fakeStore
	index    *queue.Index
	lobbies  *fakeLobbies
	notifier *fakeNotifier
	events   *fakeEvents
	coord    *Coordinator
}

// newFixture builds a coordinator with the event-driven pass disabled so
// tests drive formation through explicit Tick calls.
func newFixture(cfg Config) *fixture {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	f := &fixture{
		store:    newFakeStore(),
		index:    queue.NewIndex(),
		lobbies:  &fakeLobbies{},
		notifier: &fakeNotifier{},
		events:   &fakeEvents{},
	}
	f.coord = NewCoordinator(f.store, f.index, f.lobbies, f.notifier, f.events, log, cfg)
	f.index.OnAdded = nil
	return f
}

func competitiveCriteria(gameID uuid.UUID) models.MatchCriteria {
	return models.MatchCriteria{
		Games:           []models.GameChoice{{GameID: gameID, Weight: 5}},
		GameMode:        models.ModeCompetitive,
		Regions:         []models.Region{models.RegionNA},
		SkillPreference: models.SkillSimilar,
		GroupSize:       models.GroupSize{Min: 2, Max: 2},
	}
}

func TestSubmitPersistsAndIndexes(t *testing.T) {
	f := newFixture(Config{})
	gameID := f.store.addGame()
	userID := f.store.addPlayer(50, 50)

	req, err := f.coord.Submit(context.Background(), userID, competitiveCriteria(gameID))
	require.NoError(t, err)
	require.Equal(t, models.RequestSearching, req.Status)
	require.Equal(t, gameID, req.PrimaryGameID)

	indexed, has := f.index.Has(userID)
	require.True(t, has)
	require.Equal(t, req.ID, indexed)
	require.Equal(t, models.RequestSearching, f.store.status(req.ID))
}

func TestSubmitRejectsSecondActiveRequest(t *testing.T) {
	f := newFixture(Config{})
	gameID := f.store.addGame()
	userID := f.store.addPlayer(50, 50)

	_, err := f.coord.Submit(context.Background(), userID, competitiveCriteria(gameID))
	require.NoError(t, err)
	_, err = f.coord.Submit(context.Background(), userID, competitiveCriteria(gameID))
	require.ErrorIs(t, err, ErrActiveRequestExists)
}

func TestSubmitRejectsIneligibleUser(t *testing.T) {
	f := newFixture(Config{})
	gameID := f.store.addGame()
	userID := f.store.addPlayer(50, 50)
	f.store.mu.Lock()
	f.store.users[userID].Status = models.UserSuspended
	f.store.mu.Unlock()

	_, err := f.coord.Submit(context.Background(), userID, competitiveCriteria(gameID))
	require.ErrorIs(t, err, ErrUserIneligible)
}

func TestSubmitRejectsUnknownGame(t *testing.T) {
	f := newFixture(Config{})
	userID := f.store.addPlayer(50, 50)

	_, err := f.coord.Submit(context.Background(), userID, competitiveCriteria(uuid.New()))
	require.ErrorIs(t, err, ErrUnknownGame)
}

func TestSubmitRejectsInvalidCriteria(t *testing.T) {
	f := newFixture(Config{})
	gameID := f.store.addGame()
	userID := f.store.addPlayer(50, 50)

	criteria := competitiveCriteria(gameID)
	criteria.Regions = nil
	criteria.GroupSize.Min = 0

	_, err := f.coord.Submit(context.Background(), userID, criteria)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "regions")
	require.Contains(t, verr.Fields, "groupSize.min")
}

func TestPerfectPairFormsOneMatch(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	gameID := f.store.addGame()
	userA := f.store.addPlayer(50, 50)
	userB := f.store.addPlayer(52, 50)

	reqA, err := f.coord.Submit(ctx, userA, competitiveCriteria(gameID))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond) // distinct searchStartTime ordering
	reqB, err := f.coord.Submit(ctx, userB, competitiveCriteria(gameID))
	require.NoError(t, err)

	f.coord.Tick(ctx)

	require.Equal(t, 1, f.lobbies.count())
	require.Len(t, f.store.history, 1)
	require.Len(t, f.store.history[0].Participants, 2)

	require.Equal(t, models.RequestMatched, f.store.status(reqA.ID))
	require.Equal(t, models.RequestMatched, f.store.status(reqB.ID))

	spec := f.lobbies.created[0]
	require.Equal(t, userA, spec.HostID, "first submitter seeds and hosts")

	require.True(t, f.events.has("matchrequest:"+reqA.ID.String(), "matchmaking:status"))
	require.True(t, f.events.has("matchrequest:"+reqB.ID.String(), "matchmaking:status"))
	require.True(t, f.events.has("lobby:"+spec.ID.String(), "lobby:created"))
	require.Len(t, f.notifier.users, 2)

	// Both requests left the index.
	_, has := f.index.Has(userA)
	require.False(t, has)
	_, has = f.index.Has(userB)
	require.False(t, has)
}

func TestIncompatibleModesNeverMatch(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	gameID := f.store.addGame()
	userA := f.store.addPlayer(50, 50)
	userB := f.store.addPlayer(50, 50)

	reqA, err := f.coord.Submit(ctx, userA, competitiveCriteria(gameID))
	require.NoError(t, err)

	casual := competitiveCriteria(gameID)
	casual.GameMode = models.ModeCasual
	reqB, err := f.coord.Submit(ctx, userB, casual)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		f.coord.Tick(ctx)
	}

	require.Empty(t, f.store.history)
	require.Equal(t, models.RequestSearching, f.store.status(reqA.ID))
	require.Equal(t, models.RequestSearching, f.store.status(reqB.ID))
}

func TestRelaxationEnablesMatch(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	gameID := f.store.addGame()
	userA := f.store.addPlayer(50, 50)
	userB := f.store.addPlayer(65, 50)

	reqA, err := f.coord.Submit(ctx, userA, competitiveCriteria(gameID))
	require.NoError(t, err)
	reqB, err := f.coord.Submit(ctx, userB, competitiveCriteria(gameID))
	require.NoError(t, err)

	// At level 0 the 15-point gap exceeds the radius of 10.
	f.coord.Tick(ctx)
	require.Empty(t, f.store.history)

	// 35 s in, both advance to level 1 (radius 20) and the pair forms.
	key := queue.BucketKey{GameID: gameID, Mode: models.ModeCompetitive, Region: models.RegionNA}
	for _, req := range f.index.List(key) {
		req.SearchStartTime = time.Now().Add(-35 * time.Second)
	}
	f.coord.Tick(ctx)

	require.Len(t, f.store.history, 1)
	require.Equal(t, models.RequestMatched, f.store.status(reqA.ID))
	require.Equal(t, models.RequestMatched, f.store.status(reqB.ID))
}

func TestCancelledParticipantAbortsFinalize(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	gameID := f.store.addGame()
	userA := f.store.addPlayer(50, 50)
	userB := f.store.addPlayer(52, 50)

	reqA, err := f.coord.Submit(ctx, userA, competitiveCriteria(gameID))
	require.NoError(t, err)
	reqB, err := f.coord.Submit(ctx, userB, competitiveCriteria(gameID))
	require.NoError(t, err)

	// The cancel lands after the bucket snapshot would include A: the
	// conditional flip in finalize must abort the whole candidate.
	f.store.setStatus(reqA.ID, models.RequestCancelled)

	f.coord.Tick(ctx)

	require.Zero(t, f.lobbies.count(), "no lobby may be created")
	require.Empty(t, f.store.history)
	require.Equal(t, models.RequestCancelled, f.store.status(reqA.ID))
	require.Equal(t, models.RequestSearching, f.store.status(reqB.ID))
}

func TestLobbyCreationFailureRevertsParticipants(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	gameID := f.store.addGame()
	userA := f.store.addPlayer(50, 50)
	userB := f.store.addPlayer(52, 50)

	reqA, err := f.coord.Submit(ctx, userA, competitiveCriteria(gameID))
	require.NoError(t, err)
	reqB, err := f.coord.Submit(ctx, userB, competitiveCriteria(gameID))
	require.NoError(t, err)

	f.lobbies.failAll = true
	f.coord.Tick(ctx)

	require.Empty(t, f.store.history)
	require.Equal(t, models.RequestSearching, f.store.status(reqA.ID))
	require.Equal(t, models.RequestSearching, f.store.status(reqB.ID))
}

func TestCancelRemovesFromIndex(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	gameID := f.store.addGame()
	userID := f.store.addPlayer(50, 50)

	req, err := f.coord.Submit(ctx, userID, competitiveCriteria(gameID))
	require.NoError(t, err)

	cancelled, err := f.coord.Cancel(ctx, userID, req.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestCancelled, cancelled.Status)

	_, has := f.index.Has(userID)
	require.False(t, has)

	// A second cancel, and a cancel by a stranger, both read as not found.
	_, err = f.coord.Cancel(ctx, userID, req.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = f.coord.Cancel(ctx, uuid.New(), req.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExpiredRequestsAreSwept(t *testing.T) {
	f := newFixture(Config{MaxQueueAge: time.Minute})
	ctx := context.Background()
	gameID := f.store.addGame()
	userID := f.store.addPlayer(50, 50)

	req, err := f.coord.Submit(ctx, userID, competitiveCriteria(gameID))
	require.NoError(t, err)

	key := queue.BucketKey{GameID: gameID, Mode: models.ModeCompetitive, Region: models.RegionNA}
	for _, r := range f.index.List(key) {
		r.SearchStartTime = time.Now().Add(-2 * time.Minute)
	}
	f.coord.Tick(ctx)

	require.Equal(t, models.RequestExpired, f.store.status(req.ID))
	_, has := f.index.Has(userID)
	require.False(t, has)
	require.True(t, f.events.has("matchrequest:"+req.ID.String(), "matchmaking:status"))
}

func TestScheduledRequestHeldUntilDue(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	gameID := f.store.addGame()
	userID := f.store.addPlayer(50, 50)

	criteria := competitiveCriteria(gameID)
	future := time.Now().Add(time.Hour)
	criteria.ScheduledTime = &future

	req, err := f.coord.Submit(ctx, userID, criteria)
	require.NoError(t, err)
	_, has := f.index.Has(userID)
	require.False(t, has, "scheduled request stays out of the index")

	f.coord.Tick(ctx)
	_, has = f.index.Has(userID)
	require.False(t, has)

	// Once due, the next tick admits it.
	req.SearchStartTime = time.Now().Add(-time.Second)
	f.coord.Tick(ctx)
	_, has = f.index.Has(userID)
	require.True(t, has)
}

func TestStatusReportsQueuePosition(t *testing.T) {
	f := newFixture(Config{MinGroupSize: 5})
	ctx := context.Background()
	gameID := f.store.addGame()
	userA := f.store.addPlayer(50, 50)
	userB := f.store.addPlayer(51, 50)

	_, err := f.coord.Submit(ctx, userA, competitiveCriteria(gameID))
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = f.coord.Submit(ctx, userB, competitiveCriteria(gameID))
	require.NoError(t, err)

	req, info, err := f.coord.Status(ctx, userB)
	require.NoError(t, err)
	require.NotNil(t, req)
	require.Equal(t, 2, info.Position)
	require.Equal(t, 1, info.PotentialMatches)
	require.Greater(t, info.EstimatedWait, 0.0)

	// No active request reads as nil without error.
	req, info, err = f.coord.Status(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, req)
	require.Nil(t, info)
}

func TestRebuildRepopulatesIndex(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	gameID := f.store.addGame()
	userID := f.store.addPlayer(50, 50)

	req := &models.MatchRequest{
		ID:              uuid.New(),
		UserID:          userID,
		Criteria:        competitiveCriteria(gameID),
		Status:          models.RequestSearching,
		PrimaryGameID:   gameID,
		SearchStartTime: time.Now().Add(-time.Minute),
	}
	require.NoError(t, f.store.CreateMatchRequest(ctx, req))

	require.NoError(t, f.coord.Rebuild(ctx))
	indexed, has := f.index.Has(userID)
	require.True(t, has)
	require.Equal(t, req.ID, indexed)
}

func TestOwnsRequest(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	gameID := f.store.addGame()
	userID := f.store.addPlayer(50, 50)

	req, err := f.coord.Submit(ctx, userID, competitiveCriteria(gameID))
	require.NoError(t, err)

	require.True(t, f.coord.OwnsRequest(ctx, userID, req.ID))
	require.False(t, f.coord.OwnsRequest(ctx, uuid.New(), req.ID))
	require.False(t, f.coord.OwnsRequest(ctx, userID, uuid.New()))
}

// Relaxation advances and the event-driven scoring pass both touch the
// same queued requests; run them together to make sure level writes
// never interleave with a concurrent PairScore read.
func TestRelaxationRacesEventDrivenPass(t *testing.T) {
	f := newFixture(Config{})
	ctx := context.Background()
	gameID := f.store.addGame()

	// Skills 10 and 90: the gap exceeds the widest radius, so every
	// scoring pass reads both relaxation levels without ever committing.
	userA := f.store.addPlayer(10, 50)
	userB := f.store.addPlayer(90, 50)
	reqA, err := f.coord.Submit(ctx, userA, competitiveCriteria(gameID))
	require.NoError(t, err)
	reqB, err := f.coord.Submit(ctx, userB, competitiveCriteria(gameID))
	require.NoError(t, err)

	key := queue.BucketKey{GameID: gameID, Mode: models.ModeCompetitive, Region: models.RegionNA}
	for _, r := range f.index.List(key) {
		r.SearchStartTime = time.Now().Add(-35 * time.Second)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			f.coord.onRequestAdded(key)
		}
	}()
	go func() {
		defer wg.Done()
		f.coord.applyRelaxation(ctx, time.Now())
	}()
	wg.Wait()

	require.Eventually(t, func() bool {
		f.store.mu.Lock()
		defer f.store.mu.Unlock()
		return f.store.requests[reqA.ID].RelaxationLevel == 1 &&
			f.store.requests[reqB.ID].RelaxationLevel == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, models.RequestSearching, f.store.status(reqA.ID))
	require.Equal(t, models.RequestSearching, f.store.status(reqB.ID))
}
