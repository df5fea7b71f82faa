// internal/notify/notifier_test.go
package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/arcadehall/arena/internal/models"
)

type fakeNotifyStore struct {
	mu         sync.Mutex
	records    map[uuid.UUID]*models.Notification
	prefs      map[uuid.UUID]*models.NotificationPrefs
	prefsErr   error
	sweptUntil time.Time
}

func newFakeNotifyStore() *fakeNotifyStore {
	return &fakeNotifyStore{
		records: make(map[uuid.UUID]*models.Notification),
		prefs:   make(map[uuid.UUID]*models.NotificationPrefs),
	}
}

func (f *fakeNotifyStore) InsertNotification(_ context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *n
	f.records[n.ID] = &cp
	return nil
}

func (f *fakeNotifyStore) SetDeliveryState(_ context.Context, id uuid.UUID, ch models.DeliveryChannel, state models.DeliveryState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.records[id]
	if !ok {
		return ErrNotFound
	}
	if n.Delivery == nil {
		n.Delivery = map[models.DeliveryChannel]models.DeliveryState{}
	}
	n.Delivery[ch] = state
	return nil
}

func (f *fakeNotifyStore) ListNotifications(_ context.Context, userID uuid.UUID, filter ListFilter) ([]models.Notification, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Notification
	for _, n := range f.records {
		if n.UserID != userID {
			continue
		}
		if filter.Status != "" && n.Status != filter.Status {
			continue
		}
		out = append(out, *n)
	}
	total := len(out)
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (f *fakeNotifyStore) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.records {
		if n.UserID == userID && n.Status == models.NotificationUnread {
			count++
		}
	}
	return count, nil
}

func (f *fakeNotifyStore) MarkRead(_ context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	modified := 0
	for _, id := range ids {
		n, ok := f.records[id]
		if ok && n.UserID == userID && n.Status == models.NotificationUnread {
			n.Status = models.NotificationRead
			modified++
		}
	}
	return modified, nil
}

func (f *fakeNotifyStore) MarkAllRead(_ context.Context, userID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	modified := 0
	for _, n := range f.records {
		if n.UserID == userID && n.Status == models.NotificationUnread {
			n.Status = models.NotificationRead
			modified++
		}
	}
	return modified, nil
}

func (f *fakeNotifyStore) DeleteNotification(_ context.Context, userID, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.records[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeNotifyStore) GetPrefs(_ context.Context, userID uuid.UUID) (*models.NotificationPrefs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefsErr != nil {
		return nil, f.prefsErr
	}
	return f.prefs[userID], nil
}

func (f *fakeNotifyStore) SetPrefs(_ context.Context, prefs *models.NotificationPrefs) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefs[prefs.UserID] = prefs
	return nil
}

func (f *fakeNotifyStore) SweepNotifications(_ context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweptUntil = cutoff
	deleted := 0
	for id, n := range f.records {
		if n.Status != models.NotificationUnread && n.CreatedAt.Before(cutoff) {
			delete(f.records, id)
			deleted++
		}
	}
	return deleted, nil
}

type userEvent struct {
	userID  uuid.UUID
	event   string
	payload any
}

type fakeUserEvents struct {
	mu     sync.Mutex
	events []userEvent
}

func (f *fakeUserEvents) ToUser(userID uuid.UUID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, userEvent{userID, event, payload})
}

func (f *fakeUserEvents) last(event string) (userEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].event == event {
			return f.events[i], true
		}
	}
	return userEvent{}, false
}

// No Redis client is wired; these tests stay on the in-app channel, which
// never touches the job queues.
func testNotifier() (*Service, *fakeNotifyStore, *fakeUserEvents) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	store := newFakeNotifyStore()
	events := &fakeUserEvents{}
	return NewService(store, events, nil, log), store, events
}

func TestCreateDefaultsToInApp(t *testing.T) {
	svc, store, events := testNotifier()
	userID := uuid.New()

	n, err := svc.Create(context.Background(), userID, Intent{
		Type: "system", Title: "Maintenance", Body: "Back soon", Priority: models.PriorityLow,
	})
	require.NoError(t, err)
	require.Equal(t, []models.DeliveryChannel{models.ChannelInApp}, n.Channels)
	require.Equal(t, models.NotificationUnread, n.Status)

	ev, ok := events.last("notification:new")
	require.True(t, ok)
	require.Equal(t, userID, ev.userID)

	store.mu.Lock()
	stored := store.records[n.ID]
	store.mu.Unlock()
	require.Equal(t, models.DeliveryDelivered, stored.Delivery[models.ChannelInApp])
}

func TestCreateFallsBackWhenPrefsUnreadable(t *testing.T) {
	svc, store, _ := testNotifier()
	store.prefsErr = context.DeadlineExceeded

	n, err := svc.Create(context.Background(), uuid.New(), Intent{
		Type: "system", Title: "t", Body: "b", Priority: models.PriorityLow,
	})
	require.NoError(t, err)
	require.Equal(t, []models.DeliveryChannel{models.ChannelInApp}, n.Channels)
}

func TestCreateHonoursPerTypePrefs(t *testing.T) {
	svc, store, events := testNotifier()
	userID := uuid.New()
	store.prefs[userID] = &models.NotificationPrefs{
		UserID:   userID,
		Channels: map[string][]models.DeliveryChannel{"system": {models.ChannelInApp}},
	}

	n, err := svc.Create(context.Background(), userID, Intent{
		Type: "system", Title: "t", Body: "b", Priority: models.PriorityMedium,
	})
	require.NoError(t, err)
	require.Equal(t, []models.DeliveryChannel{models.ChannelInApp}, n.Channels)

	_, ok := events.last("notification:new")
	require.True(t, ok)
}

func TestMatchFoundIntent(t *testing.T) {
	svc, store, events := testNotifier()
	userID, lobbyID := uuid.New(), uuid.New()

	svc.MatchFound(context.Background(), userID, lobbyID)

	store.mu.Lock()
	require.Len(t, store.records, 1)
	var n *models.Notification
	for _, rec := range store.records {
		n = rec
	}
	store.mu.Unlock()

	require.Equal(t, "match_found", n.Type)
	require.Equal(t, models.PriorityHigh, n.Priority)
	require.Equal(t, lobbyID.String(), n.Data["lobbyId"])

	_, ok := events.last("notification:new")
	require.True(t, ok)
}

func TestMarkReadIsIdempotentAndPushesCount(t *testing.T) {
	svc, _, events := testNotifier()
	ctx := context.Background()
	userID := uuid.New()

	n1, err := svc.Create(ctx, userID, Intent{Type: "system", Title: "a", Body: "a", Priority: models.PriorityLow})
	require.NoError(t, err)
	n2, err := svc.Create(ctx, userID, Intent{Type: "system", Title: "b", Body: "b", Priority: models.PriorityLow})
	require.NoError(t, err)

	unread, err := svc.CountUnread(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 2, unread)

	modified, err := svc.MarkRead(ctx, userID, []uuid.UUID{n1.ID, n2.ID})
	require.NoError(t, err)
	require.Equal(t, 2, modified)

	ev, ok := events.last("notification:count")
	require.True(t, ok)
	require.Equal(t, map[string]any{"unread": 0}, ev.payload)

	// Repeat changes nothing.
	modified, err = svc.MarkRead(ctx, userID, []uuid.UUID{n1.ID, n2.ID})
	require.NoError(t, err)
	require.Zero(t, modified)
}

func TestMarkAllRead(t *testing.T) {
	svc, _, _ := testNotifier()
	ctx := context.Background()
	userID := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, userID, Intent{Type: "system", Title: "t", Body: "b", Priority: models.PriorityLow})
		require.NoError(t, err)
	}

	modified, err := svc.MarkAllRead(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, 3, modified)

	unread, err := svc.CountUnread(ctx, userID)
	require.NoError(t, err)
	require.Zero(t, unread)
}

func TestDeleteIsOwnerScoped(t *testing.T) {
	svc, _, _ := testNotifier()
	ctx := context.Background()
	owner, stranger := uuid.New(), uuid.New()

	n, err := svc.Create(ctx, owner, Intent{Type: "system", Title: "t", Body: "b", Priority: models.PriorityLow})
	require.NoError(t, err)

	require.ErrorIs(t, svc.Delete(ctx, stranger, n.ID), ErrNotFound)
	require.NoError(t, svc.Delete(ctx, owner, n.ID))
	require.ErrorIs(t, svc.Delete(ctx, owner, n.ID), ErrNotFound)
}

func TestPrefsFallBackToEmptyDefaults(t *testing.T) {
	svc, _, _ := testNotifier()
	userID := uuid.New()

	prefs, err := svc.Prefs(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, userID, prefs.UserID)
	require.Empty(t, prefs.Channels)
}

func TestSetPrefsRoundTrip(t *testing.T) {
	svc, _, _ := testNotifier()
	ctx := context.Background()
	userID := uuid.New()

	want := &models.NotificationPrefs{
		UserID:   userID,
		Channels: map[string][]models.DeliveryChannel{"match_found": {models.ChannelInApp, models.ChannelPush}},
	}
	require.NoError(t, svc.SetPrefs(ctx, want))

	got, err := svc.Prefs(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, want.Channels, got.Channels)
}

func TestSweepDefaultsToThirtyDays(t *testing.T) {
	svc, store, _ := testNotifier()

	_, err := svc.Sweep(context.Background(), 0)
	require.NoError(t, err)

	store.mu.Lock()
	cutoff := store.sweptUntil
	store.mu.Unlock()
	require.WithinDuration(t, time.Now().AddDate(0, 0, -30), cutoff, time.Minute)
}
