// internal/match/coordinator.go
package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arcadehall/arena/internal/models"
	"github.com/arcadehall/arena/internal/queue"
)

var (
	// ErrActiveRequestExists rejects a second concurrent request per user.
	ErrActiveRequestExists = errors.New("an active match request already exists")
	// ErrUserIneligible rejects submissions from non-active users.
	ErrUserIneligible = errors.New("user is not eligible for matchmaking")
	// ErrUnknownGame rejects criteria referencing games absent from the catalogue.
	ErrUnknownGame = errors.New("unknown game in criteria")
	// ErrNotFound covers cancel/status on requests the caller does not own
	// or that are no longer searching.
	ErrNotFound = errors.New("match request not found")
)

// ValidationError carries per-field criteria problems to the API layer.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid criteria: %d field(s)", len(e.Fields))
}

// PlayerFacts is the enrichment projection joined onto a request before
// scoring: the owner's skill on the bucket's game, karma, and display name.
type PlayerFacts struct {
	Skill    int
	Karma    int
	Username string
}

// HistoryFilter narrows match history queries.
type HistoryFilter struct {
	Page   int
	Limit  int
	GameID *uuid.UUID
	Status string
}

// Store is the persistence surface the coordinator needs. Implemented by
// internal/database; tests supply an in-memory fake.
type Store interface {
	CreateMatchRequest(ctx context.Context, req *models.MatchRequest) error
	// TransitionMatchRequest flips status only if the request is currently
	// in from; reports whether the transition happened.
	TransitionMatchRequest(ctx context.Context, id uuid.UUID, from, to models.MatchRequestStatus, lobbyID *uuid.UUID) (bool, error)
	GetMatchRequest(ctx context.Context, id uuid.UUID) (*models.MatchRequest, error)
	// ActiveRequestByUser returns nil, nil when the user has no searching request.
	ActiveRequestByUser(ctx context.Context, userID uuid.UUID) (*models.MatchRequest, error)
	SearchingRequests(ctx context.Context) ([]*models.MatchRequest, error)
	SetRelaxationLevel(ctx context.Context, id uuid.UUID, level int) error
	InsertMatchHistory(ctx context.Context, h *models.MatchHistory) error
	MatchHistoryByUser(ctx context.Context, userID uuid.UUID, f HistoryFilter) ([]models.MatchHistory, int, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	// Enrichment fetches PlayerFacts for users on one game; users without a
	// profile get DefaultSkillLevel.
	Enrichment(ctx context.Context, gameID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]PlayerFacts, error)
}

// LobbyMemberSpec seeds one member slot at lobby creation.
type LobbyMemberSpec struct {
	UserID   uuid.UUID
	Username string
}

// LobbySpec is everything the lobby layer needs to open a lobby for a
// finalized match. The coordinator pre-generates the id so request rows can
// reference it atomically.
type LobbySpec struct {
	ID       uuid.UUID
	GameID   uuid.UUID
	GameMode models.GameMode
	Region   models.Region
	HostID   uuid.UUID
	Capacity models.GroupSize
	Members  []LobbyMemberSpec
}

// LobbyCreator is implemented by the lobby manager.
type LobbyCreator interface {
	CreateFromMatch(ctx context.Context, spec LobbySpec) (*models.Lobby, error)
	CloseInternal(ctx context.Context, lobbyID uuid.UUID, reason string) error
}

// Notifier enqueues the match_found notification intent.
type Notifier interface {
	MatchFound(ctx context.Context, userID, lobbyID uuid.UUID)
}

// Events is the push fabric surface the coordinator emits on. Implemented
// by the socket hub.
type Events interface {
	ToRoom(room, event string, payload any)
	JoinRoom(userID uuid.UUID, room string)
}

// Config tunes the coordinator loop.
type Config struct {
	TickInterval time.Duration // default 5 s (2 s in tests)
	MinGroupSize int           // bucket processing threshold, default 2
	MaxQueueAge  time.Duration // sweep horizon, default 30 min
}

func (c *Config) defaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.MinGroupSize <= 0 {
		c.MinGroupSize = 2
	}
	if c.MaxQueueAge <= 0 {
		c.MaxQueueAge = queue.DefaultMaxAge
	}
}

// Coordinator accepts and cancels match requests, owns the queue index, and
// runs the periodic processor tick that forms matches and finalizes them
// into lobbies.
type Coordinator struct {
	store    Store
	index    *queue.Index
	lobbies  LobbyCreator
	notifier Notifier
	events   Events
	log      *logrus.Logger
	cfg      Config
	stats    *Stats

	// procMu serializes all bucket processing: the periodic tick and the
	// event-driven passes triggered by queue additions.
	procMu sync.Mutex
	// isProcessing guards tick re-entry; an overlapping tick is skipped.
	isProcessing atomic.Bool

	// scheduled holds requests whose scheduledTime has not arrived; they
	// are admitted to the index by the tick once due.
	schedMu   sync.Mutex
	scheduled map[uuid.UUID]*models.MatchRequest

	stop chan struct{}
	done chan struct{}
}

func NewCoordinator(store Store, index *queue.Index, lobbies LobbyCreator,
	notifier Notifier, events Events, log *logrus.Logger, cfg Config) *Coordinator {

	cfg.defaults()
	c := &Coordinator{
		store:     store,
		index:     index,
		lobbies:   lobbies,
		notifier:  notifier,
		events:    events,
		log:       log,
		cfg:       cfg,
		stats:     NewStats(),
		scheduled: make(map[uuid.UUID]*models.MatchRequest),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	index.OnAdded = c.onRequestAdded
	return c
}

// Stats exposes the rolling statistics for status and admin endpoints.
func (c *Coordinator) Stats() *Stats { return c.stats }

func requestRoom(id uuid.UUID) string { return "matchrequest:" + id.String() }
func lobbyRoom(id uuid.UUID) string   { return "lobby:" + id.String() }

// Submit validates and persists a new match request and inserts it into the
// queue index. A scheduled request is held back until its time arrives.
func (c *Coordinator) Submit(ctx context.Context, userID uuid.UUID, criteria models.MatchCriteria) (*models.MatchRequest, error) {
	now := time.Now()

	criteria.Normalize()
	if problems := criteria.Validate(now); len(problems) > 0 {
		return nil, &ValidationError{Fields: problems}
	}

	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	if user.Status != models.UserActive {
		return nil, ErrUserIneligible
	}

	if existing, err := c.store.ActiveRequestByUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("check active request: %w", err)
	} else if existing != nil {
		return nil, ErrActiveRequestExists
	}

	for _, g := range criteria.Games {
		if _, err := c.store.GetGame(ctx, g.GameID); err != nil {
			return nil, ErrUnknownGame
		}
	}

	primary, ok := criteria.ResolvePrimaryGame()
	if !ok {
		return nil, &ValidationError{Fields: map[string]string{"games": "no primary game"}}
	}

	start := now
	if criteria.ScheduledTime != nil && criteria.ScheduledTime.After(now) {
		start = *criteria.ScheduledTime
	}

	req := &models.MatchRequest{
		ID:              uuid.New(),
		UserID:          userID,
		Criteria:        criteria,
		Status:          models.RequestSearching,
		PrimaryGameID:   primary,
		SearchStartTime: start,
	}

	// Persist first: a DB failure must leave no queue index residue.
	if err := c.store.CreateMatchRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("persist match request: %w", err)
	}

	if start.After(now) {
		c.schedMu.Lock()
		c.scheduled[req.ID] = req
		c.schedMu.Unlock()
	} else if err := c.index.Add(req); err != nil {
		// Duplicate slipped past the store check; surface it.
		return nil, err
	}

	c.events.ToRoom(requestRoom(req.ID), "matchmaking:status", map[string]any{
		"state":     string(models.RequestSearching),
		"requestId": req.ID.String(),
	})
	return req, nil
}

// Cancel terminates the caller's searching request. Only the owner may
// cancel; anything else reports not found to avoid enumeration.
func (c *Coordinator) Cancel(ctx context.Context, userID, requestID uuid.UUID) (*models.MatchRequest, error) {
	req, err := c.store.GetMatchRequest(ctx, requestID)
	if err != nil || req == nil || req.UserID != userID {
		return nil, ErrNotFound
	}

	flipped, err := c.store.TransitionMatchRequest(ctx, requestID,
		models.RequestSearching, models.RequestCancelled, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel request: %w", err)
	}
	if !flipped {
		return nil, ErrNotFound
	}

	c.index.Remove(userID, requestID)
	c.schedMu.Lock()
	delete(c.scheduled, requestID)
	c.schedMu.Unlock()

	req.Status = models.RequestCancelled
	c.events.ToRoom(requestRoom(requestID), "matchmaking:status", map[string]any{
		"state":      string(models.RequestCancelled),
		"requestId":  requestID.String(),
		"searchTime": req.SearchDuration(time.Now()).Seconds(),
	})
	return req, nil
}

// QueueInfo is the live queue view attached to status responses.
type QueueInfo struct {
	Position         int        `json:"position"`
	PotentialMatches int        `json:"potentialMatches"`
	EstimatedWait    float64    `json:"estimatedWaitTime"`
	Confidence       Confidence `json:"confidence"`
}

// Status returns the caller's searching request and queue info, or nil when
// no request is active.
func (c *Coordinator) Status(ctx context.Context, userID uuid.UUID) (*models.MatchRequest, *QueueInfo, error) {
	req, err := c.store.ActiveRequestByUser(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch active request: %w", err)
	}
	if req == nil {
		return nil, nil, nil
	}

	key := queue.BucketKey{
		GameID: req.PrimaryGameID,
		Mode:   req.Criteria.GameMode,
		Region: req.Criteria.Regions[0],
	}
	bucket := c.index.List(key)

	position := 0
	for i, r := range bucket {
		if r.ID == req.ID {
			position = i + 1
			break
		}
	}
	potential := len(bucket) - 1
	if potential < 0 {
		potential = 0
	}

	est := c.stats.Estimate(len(bucket), c.cfg.MinGroupSize)
	return req, &QueueInfo{
		Position:         position,
		PotentialMatches: potential,
		EstimatedWait:    est.Duration.Seconds(),
		Confidence:       est.Confidence,
	}, nil
}

// OwnsRequest reports whether the request exists and belongs to the user.
// Used to authorize socket subscriptions to request rooms.
func (c *Coordinator) OwnsRequest(ctx context.Context, userID, requestID uuid.UUID) bool {
	req, err := c.store.GetMatchRequest(ctx, requestID)
	return err == nil && req != nil && req.UserID == userID
}

// History returns the caller's paginated match history.
func (c *Coordinator) History(ctx context.Context, userID uuid.UUID, f HistoryFilter) ([]models.MatchHistory, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return c.store.MatchHistoryByUser(ctx, userID, f)
}

// QueueSnapshot reports per-bucket sizes for the admin stats endpoint.
func (c *Coordinator) QueueSnapshot() map[string]int {
	out := map[string]int{}
	for key, size := range c.index.Buckets() {
		out[fmt.Sprintf("%s/%s/%s", key.GameID, key.Mode, key.Region)] = size
	}
	return out
}

// Run drives the periodic processor until Stop is called.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Stop terminates the loop and waits for the current tick to finish.
func (c *Coordinator) Stop() {
	close(c.stop)
	<-c.done
}

// Tick runs one processor pass. Overlapping invocations are skipped.
// Errors are logged and swallowed; the next interval retries.
func (c *Coordinator) Tick(ctx context.Context) {
	if !c.isProcessing.CompareAndSwap(false, true) {
		c.log.Debug("matchmaking tick skipped: previous tick still running")
		return
	}
	defer c.isProcessing.Store(false)

	now := time.Now()
	c.admitScheduled(now)

	c.procMu.Lock()
	for key, size := range c.index.Buckets() {
		if size < c.cfg.MinGroupSize {
			continue
		}
		if err := c.processBucket(ctx, key, now); err != nil {
			c.log.WithError(err).WithField("bucket", key).Warn("bucket processing failed")
		}
	}
	c.procMu.Unlock()

	// Relaxation is evaluated per tick after formation.
	c.applyRelaxation(ctx, now)

	c.sweepExpired(ctx, now)
}

// admitScheduled moves due scheduled requests into the queue index.
func (c *Coordinator) admitScheduled(now time.Time) {
	c.schedMu.Lock()
	var due []*models.MatchRequest
	for id, req := range c.scheduled {
		if !req.SearchStartTime.After(now) {
			due = append(due, req)
			delete(c.scheduled, id)
		}
	}
	c.schedMu.Unlock()

	for _, req := range due {
		if err := c.index.Add(req); err != nil {
			c.log.WithError(err).WithField("request", req.ID).Warn("scheduled request admission failed")
		}
	}
}

// onRequestAdded is the event-driven pass: only the bucket that received
// the request is processed.
func (c *Coordinator) onRequestAdded(key queue.BucketKey) {
	go func() {
		c.procMu.Lock()
		defer c.procMu.Unlock()
		if c.index.Size(key) < c.cfg.MinGroupSize {
			return
		}
		if err := c.processBucket(context.Background(), key, time.Now()); err != nil {
			c.log.WithError(err).WithField("bucket", key).Warn("event-driven bucket processing failed")
		}
	}()
}

// processBucket enriches the bucket snapshot, runs formation, and finalizes
// committed candidates. Caller holds procMu.
func (c *Coordinator) processBucket(ctx context.Context, key queue.BucketKey, now time.Time) error {
	snapshot := c.index.List(key)
	if len(snapshot) < c.cfg.MinGroupSize {
		return nil
	}

	userIDs := make([]uuid.UUID, 0, len(snapshot))
	for _, req := range snapshot {
		userIDs = append(userIDs, req.UserID)
	}
	facts, err := c.store.Enrichment(ctx, key.GameID, userIDs)
	if err != nil {
		return fmt.Errorf("enrichment: %w", err)
	}

	enriched := make([]EnrichedRequest, 0, len(snapshot))
	for _, req := range snapshot {
		f, ok := facts[req.UserID]
		if !ok {
			f = PlayerFacts{Skill: models.DefaultSkillLevel}
		}
		enriched = append(enriched, EnrichedRequest{Req: req, Skill: f.Skill, Karma: f.Karma})
	}

	for _, cand := range FormMatches(enriched, now) {
		if err := c.finalize(ctx, key, cand, facts, now); err != nil {
			c.log.WithError(err).WithField("bucket", key).Warn("finalize failed")
		}
	}
	return nil
}

// finalize converts a committed candidate into a lobby. It first flips every
// participant's request searching -> matched under a conditional write: if
// any participant cancelled mid-tick the whole match aborts, flipped
// participants are returned to searching, and the lobby is never created.
func (c *Coordinator) finalize(ctx context.Context, key queue.BucketKey, cand Candidate,
	facts map[uuid.UUID]PlayerFacts, now time.Time) error {

	lobbyID := uuid.New()

	var flipped []*models.MatchRequest
	revert := func() {
		for _, req := range flipped {
			if _, err := c.store.TransitionMatchRequest(ctx, req.ID,
				models.RequestMatched, models.RequestSearching, nil); err != nil {
				c.log.WithError(err).WithField("request", req.ID).Error("failed to revert request to searching")
			}
			req.Status = models.RequestSearching
		}
	}

	for _, p := range cand.Participants {
		ok, err := c.store.TransitionMatchRequest(ctx, p.Req.ID,
			models.RequestSearching, models.RequestMatched, &lobbyID)
		if err != nil || !ok {
			revert()
			if err != nil {
				return fmt.Errorf("flip request %s: %w", p.Req.ID, err)
			}
			c.log.WithField("request", p.Req.ID).Info("match aborted: participant no longer searching")
			return nil
		}
		p.Req.Status = models.RequestMatched
		p.Req.LobbyID = &lobbyID
		flipped = append(flipped, p.Req)
	}

	members := make([]LobbyMemberSpec, 0, len(cand.Participants))
	var host uuid.UUID
	for _, p := range cand.Participants {
		if p.Req.ID == cand.SeedID {
			host = p.Req.UserID
		}
		members = append(members, LobbyMemberSpec{
			UserID:   p.Req.UserID,
			Username: facts[p.Req.UserID].Username,
		})
	}

	spec := LobbySpec{
		ID:       lobbyID,
		GameID:   key.GameID,
		GameMode: key.Mode,
		Region:   key.Region,
		HostID:   host,
		Capacity: models.GroupSize{Min: cand.JointMin, Max: cand.JointMax},
		Members:  members,
	}
	if _, err := c.lobbies.CreateFromMatch(ctx, spec); err != nil {
		revert()
		return fmt.Errorf("create lobby: %w", err)
	}

	// Past this point failures compensate by closing the lobby.
	var totalWait time.Duration
	participants := make([]uuid.UUID, 0, len(cand.Participants))
	for _, p := range cand.Participants {
		c.index.Remove(p.Req.UserID, p.Req.ID)
		totalWait += p.Req.SearchDuration(now)
		participants = append(participants, p.Req.UserID)
	}
	avgWait := totalWait / time.Duration(len(cand.Participants))

	history := &models.MatchHistory{
		ID:           uuid.New(),
		GameID:       key.GameID,
		GameMode:     key.Mode,
		Region:       key.Region,
		LobbyID:      lobbyID,
		Participants: participants,
		GroupScore:   cand.Score,
		AvgWait:      avgWait,
		CreatedAt:    now,
	}
	if err := c.store.InsertMatchHistory(ctx, history); err != nil {
		if closeErr := c.lobbies.CloseInternal(ctx, lobbyID, "finalize failed"); closeErr != nil {
			c.log.WithError(closeErr).WithField("lobby", lobbyID).Error("compensating lobby close failed")
		}
		revert()
		return fmt.Errorf("insert match history: %w", err)
	}

	c.stats.RecordMatch(avgWait)

	for _, p := range cand.Participants {
		c.events.ToRoom(requestRoom(p.Req.ID), "matchmaking:status", map[string]any{
			"state":        string(models.RequestMatched),
			"requestId":    p.Req.ID.String(),
			"lobbyId":      lobbyID.String(),
			"participants": len(participants),
		})
	}
	for _, uid := range participants {
		c.events.JoinRoom(uid, lobbyRoom(lobbyID))
	}
	c.events.ToRoom(lobbyRoom(lobbyID), "lobby:created", map[string]any{
		"lobbyId": lobbyID.String(),
	})
	for _, uid := range participants {
		c.notifier.MatchFound(ctx, uid, lobbyID)
	}

	c.log.WithFields(logrus.Fields{
		"lobby": lobbyID, "size": len(participants), "score": cand.Score,
	}).Info("match finalized")
	return nil
}

// applyRelaxation walks queued requests and advances relaxation levels
// warranted by wait time. Each advance immediately reprocesses only that
// request's buckets. The whole walk holds procMu: the level write must
// not interleave with a concurrent scoring pass reading the same request.
func (c *Coordinator) applyRelaxation(ctx context.Context, now time.Time) {
	c.procMu.Lock()
	defer c.procMu.Unlock()

	seen := make(map[uuid.UUID]bool)
	for key := range c.index.Buckets() {
		for _, req := range c.index.List(key) {
			if seen[req.ID] {
				continue
			}
			seen[req.ID] = true

			want := LevelFor(req.SearchDuration(now))
			if want <= req.RelaxationLevel {
				continue
			}
			req.RelaxationLevel = want
			if err := c.store.SetRelaxationLevel(ctx, req.ID, want); err != nil {
				c.log.WithError(err).WithField("request", req.ID).Warn("failed to persist relaxation level")
			}
			c.events.ToRoom(requestRoom(req.ID), "matchmaking:status", map[string]any{
				"state":           string(models.RequestSearching),
				"requestId":       req.ID.String(),
				"relaxationLevel": want,
				"searchTime":      req.SearchDuration(now).Seconds(),
			})

			for _, k := range c.index.KeysFor(req.UserID) {
				if c.index.Size(k) < c.cfg.MinGroupSize {
					continue
				}
				if err := c.processBucket(ctx, k, now); err != nil {
					c.log.WithError(err).WithField("bucket", k).Warn("post-relaxation processing failed")
				}
			}
		}
	}
}

// sweepExpired expires requests that outstayed the queue horizon.
func (c *Coordinator) sweepExpired(ctx context.Context, now time.Time) {
	for _, req := range c.index.Sweep(now, c.cfg.MaxQueueAge) {
		flipped, err := c.store.TransitionMatchRequest(ctx, req.ID,
			models.RequestSearching, models.RequestExpired, nil)
		if err != nil {
			c.log.WithError(err).WithField("request", req.ID).Warn("failed to expire request")
			continue
		}
		if !flipped {
			continue
		}
		req.Status = models.RequestExpired
		c.events.ToRoom(requestRoom(req.ID), "matchmaking:status", map[string]any{
			"state":      string(models.RequestExpired),
			"requestId":  req.ID.String(),
			"searchTime": req.SearchDuration(now).Seconds(),
		})
	}
}

// Rebuild repopulates the queue index from the store at startup.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	reqs, err := c.store.SearchingRequests(ctx)
	if err != nil {
		return fmt.Errorf("load searching requests: %w", err)
	}
	now := time.Now()
	immediate := make([]*models.MatchRequest, 0, len(reqs))
	for _, req := range reqs {
		if req.SearchStartTime.After(now) {
			c.schedMu.Lock()
			c.scheduled[req.ID] = req
			c.schedMu.Unlock()
			continue
		}
		immediate = append(immediate, req)
	}
	c.index.Rebuild(immediate)
	c.log.WithField("requests", len(immediate)).Info("queue index rebuilt")
	return nil
}
