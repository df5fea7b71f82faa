// internal/queue/index.go
package queue

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arcadehall/arena/internal/models"
)

// ErrDuplicateActiveRequest is returned when the user already has a
// searching request in the index.
var ErrDuplicateActiveRequest = errors.New("user already has an active match request")

// ErrInvalidPrimary is returned when a request's primary game is unresolved.
var ErrInvalidPrimary = errors.New("match request has no primary game")

// DefaultMaxAge is how long a request may sit in the index before Sweep
// expires it.
const DefaultMaxAge = 30 * time.Minute

// BucketKey identifies one ordered list of searching requests. Using a
// value-typed composite key avoids triple-nested map lookups.
type BucketKey struct {
	GameID uuid.UUID
	Mode   models.GameMode
	Region models.Region
}

type userEntry struct {
	RequestID uuid.UUID
	Keys      []BucketKey
}

// Index is the process-wide in-memory matchmaking queue. It is rebuildable
// at startup from all searching requests in the store; all mutations are
// serialized by a single mutex and reads return snapshots.
type Index struct {
	mu      sync.Mutex
	buckets map[BucketKey][]*models.MatchRequest
	byUser  map[uuid.UUID]userEntry

	// OnAdded, when set, is invoked (outside the lock) once per bucket a
	// request lands in. The coordinator uses it to trigger an event-driven
	// pass over just that bucket.
	OnAdded func(key BucketKey)
}

func NewIndex() *Index {
	return &Index{
		buckets: make(map[BucketKey][]*models.MatchRequest),
		byUser:  make(map[uuid.UUID]userEntry),
	}
}

// keysFor expands a request into one key per listed region. A request with
// regions [NA, EU] is visible in both buckets; formation dedupes by id.
func keysFor(req *models.MatchRequest) []BucketKey {
	keys := make([]BucketKey, 0, len(req.Criteria.Regions))
	for _, region := range req.Criteria.Regions {
		keys = append(keys, BucketKey{
			GameID: req.PrimaryGameID,
			Mode:   req.Criteria.GameMode,
			Region: region,
		})
	}
	return keys
}

// Add inserts the request into every bucket its regions cover, keeping each
// bucket ordered by searchStartTime ascending (stable).
func (ix *Index) Add(req *models.MatchRequest) error {
	if req.PrimaryGameID == uuid.Nil {
		return ErrInvalidPrimary
	}

	ix.mu.Lock()
	if _, exists := ix.byUser[req.UserID]; exists {
		ix.mu.Unlock()
		return ErrDuplicateActiveRequest
	}

	keys := keysFor(req)
	for _, key := range keys {
		bucket := ix.buckets[key]
		// Insert keeping searchStartTime order; scheduled requests can be
		// admitted with a start time older than the tail.
		pos := sort.Search(len(bucket), func(i int) bool {
			return bucket[i].SearchStartTime.After(req.SearchStartTime)
		})
		bucket = append(bucket, nil)
		copy(bucket[pos+1:], bucket[pos:])
		bucket[pos] = req
		ix.buckets[key] = bucket
	}
	ix.byUser[req.UserID] = userEntry{RequestID: req.ID, Keys: keys}
	onAdded := ix.OnAdded
	ix.mu.Unlock()

	if onAdded != nil {
		for _, key := range keys {
			onAdded(key)
		}
	}
	return nil
}

// Remove deletes the user's request from every bucket it occupies. It is
// idempotent and prunes empty buckets.
func (ix *Index) Remove(userID, requestID uuid.UUID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(userID, requestID)
}

func (ix *Index) removeLocked(userID, requestID uuid.UUID) {
	entry, ok := ix.byUser[userID]
	if !ok || entry.RequestID != requestID {
		return
	}
	for _, key := range entry.Keys {
		bucket := ix.buckets[key]
		for i, req := range bucket {
			if req.ID == requestID {
				bucket = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(bucket) == 0 {
			delete(ix.buckets, key)
		} else {
			ix.buckets[key] = bucket
		}
	}
	delete(ix.byUser, userID)
}

// List returns an ordered snapshot of a bucket. Callers must not mutate the
// returned requests' criteria.
func (ix *Index) List(key BucketKey) []*models.MatchRequest {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	bucket := ix.buckets[key]
	out := make([]*models.MatchRequest, len(bucket))
	copy(out, bucket)
	return out
}

// Size reports the number of requests in a bucket.
func (ix *Index) Size(key BucketKey) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.buckets[key])
}

// Has reports whether the user currently has a request in the index, and
// which one.
func (ix *Index) Has(userID uuid.UUID) (uuid.UUID, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entry, ok := ix.byUser[userID]
	return entry.RequestID, ok
}

// KeysFor returns the buckets the user's request occupies.
func (ix *Index) KeysFor(userID uuid.UUID) []BucketKey {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entry, ok := ix.byUser[userID]
	if !ok {
		return nil
	}
	keys := make([]BucketKey, len(entry.Keys))
	copy(keys, entry.Keys)
	return keys
}

// Buckets returns a snapshot of every non-empty bucket key and its size.
func (ix *Index) Buckets() map[BucketKey]int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make(map[BucketKey]int, len(ix.buckets))
	for key, bucket := range ix.buckets {
		out[key] = len(bucket)
	}
	return out
}

// Sweep removes requests whose searchStartTime is older than maxAge and
// returns them so the coordinator can mark them expired and notify owners.
func (ix *Index) Sweep(now time.Time, maxAge time.Duration) []*models.MatchRequest {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var expired []*models.MatchRequest
	seen := make(map[uuid.UUID]bool)
	for _, bucket := range ix.buckets {
		for _, req := range bucket {
			if seen[req.ID] {
				continue
			}
			if now.Sub(req.SearchStartTime) > maxAge {
				seen[req.ID] = true
				expired = append(expired, req)
			}
		}
	}
	for _, req := range expired {
		ix.removeLocked(req.UserID, req.ID)
	}
	return expired
}

// Rebuild repopulates the index from scratch, typically at startup from all
// searching requests in the store. Existing contents are discarded.
func (ix *Index) Rebuild(reqs []*models.MatchRequest) {
	ix.mu.Lock()
	ix.buckets = make(map[BucketKey][]*models.MatchRequest)
	ix.byUser = make(map[uuid.UUID]userEntry)
	ix.mu.Unlock()

	for _, req := range reqs {
		if req.Status != models.RequestSearching {
			continue
		}
		// Errors here mean a duplicate or unresolved primary in stored
		// data; skip rather than abort the rebuild.
		_ = ix.Add(req)
	}
}
