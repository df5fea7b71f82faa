package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MatchRequestStatus follows searching -> matched | cancelled | expired.
// Terminal states never reopen; a new attempt gets a new request id.
type MatchRequestStatus string

const (
	RequestSearching MatchRequestStatus = "searching"
	RequestMatched   MatchRequestStatus = "matched"
	RequestCancelled MatchRequestStatus = "cancelled"
	RequestExpired   MatchRequestStatus = "expired"
)

type GameMode string

const (
	ModeCasual      GameMode = "casual"
	ModeCompetitive GameMode = "competitive"
	ModeRanked      GameMode = "ranked"
	ModeCustom      GameMode = "custom"
)

type Region string

const (
	RegionNA  Region = "NA"
	RegionEU  Region = "EU"
	RegionAS  Region = "AS"
	RegionSA  Region = "SA"
	RegionOC  Region = "OC"
	RegionAF  Region = "AF"
	RegionAny Region = "ANY"
)

// Preference strictness for regions and languages.
type Preference string

const (
	PrefStrict    Preference = "strict"
	PrefPreferred Preference = "preferred"
	PrefAny       Preference = "any"
)

type SkillPreference string

const (
	SkillSimilar SkillPreference = "similar"
	SkillAny     SkillPreference = "any"
)

// GameChoice pairs a game with its weight in [1,10]. The highest-weighted
// game is the request's primary game (ties broken by array order).
type GameChoice struct {
	GameID uuid.UUID `json:"gameId"`
	Weight int       `json:"weight"`
}

type GroupSize struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// MatchCriteria is the immutable criteria set a user submits. Relaxation
// never mutates it; the matcher derives an effective copy per level.
type MatchCriteria struct {
	Games              []GameChoice    `json:"games"`
	GameMode           GameMode        `json:"gameMode"`
	Regions            []Region        `json:"regions"`
	RegionPreference   Preference      `json:"regionPreference"`
	Languages          []string        `json:"languages"`
	LanguagePreference Preference      `json:"languagePreference"`
	SkillPreference    SkillPreference `json:"skillPreference"`
	GroupSize          GroupSize       `json:"groupSize"`
	ScheduledTime      *time.Time      `json:"scheduledTime,omitempty"`
	PreselectedUsers   []uuid.UUID     `json:"preselectedUsers,omitempty"`
}

// MatchRequest is one user's standing request to be matched. At most one
// request per user is in status=searching at any instant.
type MatchRequest struct {
	ID       uuid.UUID          `json:"id"`
	UserID   uuid.UUID          `json:"userId"`
	Criteria MatchCriteria      `json:"criteria"`
	Status   MatchRequestStatus `json:"status"`

	// PrimaryGameID is resolved once at creation from the criteria weights.
	PrimaryGameID uuid.UUID `json:"primaryGameId"`

	SearchStartTime time.Time `json:"searchStartTime"`
	// RelaxationLevel in {0,1,2,3}; monotonically non-decreasing.
	RelaxationLevel int `json:"relaxationLevel"`

	MatchedAt *time.Time `json:"matchedAt,omitempty"`
	LobbyID   *uuid.UUID `json:"lobbyId,omitempty"`
}

// SearchDuration reports how long the request has been searching as of now.
// A scheduled request measures from its activation time.
func (r *MatchRequest) SearchDuration(now time.Time) time.Duration {
	if now.Before(r.SearchStartTime) {
		return 0
	}
	return now.Sub(r.SearchStartTime)
}

// Terminal reports whether the request reached a terminal state.
func (r *MatchRequest) Terminal() bool {
	return r.Status != RequestSearching
}

// ResolvePrimaryGame picks the highest-weighted game, ties broken by order.
func (c *MatchCriteria) ResolvePrimaryGame() (uuid.UUID, bool) {
	best := -1
	var id uuid.UUID
	for _, g := range c.Games {
		if g.Weight > best {
			best = g.Weight
			id = g.GameID
		}
	}
	return id, best >= 0
}

var validModes = map[GameMode]bool{
	ModeCasual: true, ModeCompetitive: true, ModeRanked: true, ModeCustom: true,
}

var validRegions = map[Region]bool{
	RegionNA: true, RegionEU: true, RegionAS: true,
	RegionSA: true, RegionOC: true, RegionAF: true, RegionAny: true,
}

var validPrefs = map[Preference]bool{
	PrefStrict: true, PrefPreferred: true, PrefAny: true,
}

// Validate returns per-field problems keyed by field name, empty when valid.
func (c *MatchCriteria) Validate(now time.Time) map[string]string {
	problems := map[string]string{}

	if len(c.Games) == 0 {
		problems["games"] = "at least one game is required"
	} else if len(c.Games) > 5 {
		problems["games"] = "at most 5 games may be listed"
	}
	for i, g := range c.Games {
		if g.GameID == uuid.Nil {
			problems[fmt.Sprintf("games[%d].gameId", i)] = "gameId is required"
		}
		if g.Weight < 1 || g.Weight > 10 {
			problems[fmt.Sprintf("games[%d].weight", i)] = "weight must be between 1 and 10"
		}
	}

	if !validModes[c.GameMode] {
		problems["gameMode"] = "gameMode must be one of casual, competitive, ranked, custom"
	}

	if len(c.Regions) == 0 {
		problems["regions"] = "at least one region is required"
	}
	for i, reg := range c.Regions {
		if !validRegions[reg] {
			problems[fmt.Sprintf("regions[%d]", i)] = "unknown region"
		}
	}
	if c.RegionPreference != "" && !validPrefs[c.RegionPreference] {
		problems["regionPreference"] = "must be strict, preferred, or any"
	}

	if len(c.Languages) > 10 {
		problems["languages"] = "at most 10 languages may be listed"
	}
	for i, lang := range c.Languages {
		if len(lang) < 2 || len(lang) > 5 {
			problems[fmt.Sprintf("languages[%d]", i)] = "language codes are 2-5 characters"
		}
	}
	if c.LanguagePreference != "" && !validPrefs[c.LanguagePreference] {
		problems["languagePreference"] = "must be strict, preferred, or any"
	}

	if c.SkillPreference != "" && c.SkillPreference != SkillSimilar && c.SkillPreference != SkillAny {
		problems["skillPreference"] = "must be similar or any"
	}

	if c.GroupSize.Min < 1 {
		problems["groupSize.min"] = "min must be at least 1"
	}
	if c.GroupSize.Max > 100 {
		problems["groupSize.max"] = "max must be at most 100"
	}
	if c.GroupSize.Min > c.GroupSize.Max {
		problems["groupSize"] = "min must not exceed max"
	}

	if c.ScheduledTime != nil && c.ScheduledTime.After(now.Add(7*24*time.Hour)) {
		problems["scheduledTime"] = "scheduledTime must be within 7 days"
	}

	return problems
}

// Normalize fills preference defaults left empty by the client.
func (c *MatchCriteria) Normalize() {
	if c.RegionPreference == "" {
		c.RegionPreference = PrefPreferred
	}
	if c.LanguagePreference == "" {
		c.LanguagePreference = PrefPreferred
	}
	if c.SkillPreference == "" {
		c.SkillPreference = SkillSimilar
	}
}
