package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spawnwatch/internal/catalog"
	"spawnwatch/internal/config"
	"spawnwatch/internal/model"
	"spawnwatch/internal/storage"
)

type failingStore struct {
	storage.Store
	fail bool
}

func (f *failingStore) Save(ctx context.Context, sub *model.Subscription) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.Store.Save(ctx, sub)
}

func testConfig() config.SubscriptionConfig {
	return config.SubscriptionConfig{
		Enabled:       true,
		MaxCreatures:  2,
		MaxBosses:     1,
		MaxTasks:      1,
		BulkMinIV:     80,
		IVOverrides:   map[int]int{201: 0},
		CommonSpecies: []int{16},
		CommonMinIV:   90,
		MaxLevel:      35,
	}
}

func newTestManager(t *testing.T, store storage.Store) (*Manager, *fakeAccess) {
	t.Helper()
	access := &fakeAccess{
		eligible:   map[string]bool{"sup": true, "mod": true},
		moderators: map[string]bool{"mod": true},
	}
	names := map[int]string{1: "Bulbasaur", 16: "Pidgey", 150: "Mewtwo", 201: "Unown"}
	for i := 2; i <= 10; i++ {
		names[i] = "#" + strconv.Itoa(i)
	}
	regions := func() []string { return []string{"Downtown", "Uptown"} }
	m := NewManager(testConfig(), store, catalog.New(names), access, regions, time.UTC, nil)
	return m, access
}

func TestAddCreaturesValidation(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemory())
	ctx := context.Background()
	cases := []CreatureRequest{
		{MinIV: 101, Gender: "*"},
		{MinIV: -1, Gender: "*"},
		{MinLevel: 36, Gender: "*"},
		{Gender: "x"},
		{Gender: "u"},
	}
	for _, req := range cases {
		t.Run(fmt.Sprintf("%+v", req), func(t *testing.T) {
			_, err := m.AddCreatures(ctx, "sup", []string{"1"}, req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			_, ok := m.Get("sup")
			assert.False(t, ok)
		})
	}
}

func TestAddCreaturesResult(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemory())
	ctx := context.Background()
	res, err := m.AddCreatures(ctx, "sup", []string{"bulbasaur", "201", "missingno", "pidgey"}, CreatureRequest{MinIV: 50, Gender: "f"})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 201}, res.Added)
	assert.Equal(t, []string{"missingno"}, res.Unknown)
	assert.Equal(t, []int{16}, res.Rejected)

	sub, ok := m.Get("sup")
	require.True(t, ok)
	unown, ok := sub.Creature(201)
	require.True(t, ok)
	assert.Equal(t, 0, unown.MinIV)
	assert.Equal(t, model.GenderFemale, unown.Gender)

	res, err = m.AddCreatures(ctx, "sup", []string{"1"}, CreatureRequest{MinIV: 50, Gender: "f"})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Unchanged)

	res, err = m.AddCreatures(ctx, "mod", []string{"16"}, CreatureRequest{MinIV: 10, Gender: "*"})
	require.NoError(t, err)
	assert.Equal(t, []int{16}, res.Added)
}

func TestNonPrivilegedCapsAndConstraints(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemory())
	ctx := context.Background()

	_, err := m.AddCreatures(ctx, "guest", []string{"1"}, CreatureRequest{MinLevel: 10, Gender: "*"})
	assert.ErrorIs(t, err, ErrNotPrivileged)

	_, err = m.AddCreatures(ctx, "guest", []string{"1", "2"}, CreatureRequest{Gender: "*"})
	require.NoError(t, err)
	_, err = m.AddCreatures(ctx, "guest", []string{"3"}, CreatureRequest{Gender: "*"})
	assert.ErrorIs(t, err, ErrLimitReached)
	sub, _ := m.Get("guest")
	assert.Len(t, sub.Creatures, 2)

	_, err = m.AddCreatures(ctx, "sup", []string{"1", "2", "3", "4"}, CreatureRequest{Gender: "*"})
	assert.NoError(t, err)

	_, err = m.AddBosses(ctx, "guest", []string{"150"}, "")
	require.NoError(t, err)
	_, err = m.AddBosses(ctx, "guest", []string{"1"}, "")
	assert.ErrorIs(t, err, ErrLimitReached)
	_, err = m.AddBosses(ctx, "guest", []string{"all"}, "")
	assert.ErrorIs(t, err, ErrNotPrivileged)

	_, err = m.AddTask(ctx, "guest", "stardust", "")
	require.NoError(t, err)
	_, err = m.AddTask(ctx, "guest", "candy", "")
	assert.ErrorIs(t, err, ErrLimitReached)
}

func TestAddAllCreatures(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemory())
	ctx := context.Background()

	_, err := m.AddAllCreatures(ctx, "guest", CreatureRequest{MinIV: 90, Gender: "*"})
	assert.ErrorIs(t, err, ErrNotPrivileged)

	_, err = m.AddAllCreatures(ctx, "sup", CreatureRequest{MinIV: 79, Gender: "*"})
	assert.ErrorIs(t, err, ErrBelowFloor)
	_, ok := m.Get("sup")
	assert.False(t, ok)

	res, err := m.AddAllCreatures(ctx, "sup", CreatureRequest{MinIV: 80, Gender: "*"})
	require.NoError(t, err)
	assert.Len(t, res.Added, 13)
	sub, _ := m.Get("sup")
	for _, c := range sub.Creatures {
		if c.SpeciesID == 201 {
			assert.Equal(t, 0, c.MinIV)
		} else {
			assert.Equal(t, 80, c.MinIV)
		}
	}

	removed, _, err := m.RemoveCreatures(ctx, "sup", []string{"all"})
	require.NoError(t, err)
	assert.Len(t, removed, 13)
	sub, _ = m.Get("sup")
	assert.Empty(t, sub.Creatures)
}

func TestSaveFailureLeavesStateUnchanged(t *testing.T) {
	store := &failingStore{Store: storage.NewMemory()}
	m, _ := newTestManager(t, store)
	ctx := context.Background()

	_, err := m.AddCreatures(ctx, "sup", []string{"1"}, CreatureRequest{MinIV: 10, Gender: "*"})
	require.NoError(t, err)

	store.fail = true
	_, err = m.AddCreatures(ctx, "sup", []string{"2"}, CreatureRequest{MinIV: 10, Gender: "*"})
	require.Error(t, err)
	sub, _ := m.Get("sup")
	assert.Len(t, sub.Creatures, 1)
	assert.Len(t, m.Snapshot(), 1)
}

func TestBossRegions(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemory())
	ctx := context.Background()

	_, err := m.AddBosses(ctx, "sup", []string{"150"}, "Atlantis")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	_, err = m.AddBosses(ctx, "sup", []string{"150"}, "downtown")
	require.NoError(t, err)
	res, err := m.AddBosses(ctx, "sup", []string{"150"}, "Uptown")
	require.NoError(t, err)
	assert.Equal(t, []int{150}, res.Updated)
	sub, _ := m.Get("sup")
	assert.Equal(t, []string{"Downtown", "Uptown"}, sub.Bosses[0].Regions)

	removed, _, err := m.RemoveBosses(ctx, "sup", []string{"150"}, "Downtown")
	require.NoError(t, err)
	assert.Equal(t, []int{150}, removed)
	sub, _ = m.Get("sup")
	require.Len(t, sub.Bosses, 1)
	assert.Equal(t, []string{"Uptown"}, sub.Bosses[0].Regions)

	_, _, err = m.RemoveBosses(ctx, "sup", []string{"150"}, "Uptown")
	require.NoError(t, err)
	sub, _ = m.Get("sup")
	assert.Empty(t, sub.Bosses)

	_, err = m.AddBosses(ctx, "sup", []string{"150"}, "all")
	require.NoError(t, err)
	sub, _ = m.Get("sup")
	assert.Empty(t, sub.Bosses[0].Regions)
}

func TestTasksVenuesAndSettings(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemory())
	ctx := context.Background()

	changed, err := m.AddTask(ctx, "sup", "Stardust", "Downtown")
	require.NoError(t, err)
	assert.True(t, changed)
	_, err = m.AddTask(ctx, "sup", "all", "")
	assert.True(t, IsValidation(err))

	_, err = m.AddVenue(ctx, "sup", "Old Church")
	require.NoError(t, err)
	changed, err = m.AddVenue(ctx, "sup", "old church")
	require.NoError(t, err)
	assert.False(t, changed)

	at, err := ParseAlertTime("09:30")
	require.NoError(t, err)
	require.NoError(t, m.SetAlertTime(ctx, "sup", at))
	_, err = ParseAlertTime("25:00")
	assert.True(t, IsValidation(err))

	require.NoError(t, m.SetDistance(ctx, "sup", 2000, 1.5, 2.5))
	assert.True(t, IsValidation(m.SetDistance(ctx, "sup", 10, 91, 0)))
	require.NoError(t, m.SetEnabled(ctx, "sup", false))

	sub, _ := m.Get("sup")
	assert.False(t, sub.Enabled)
	assert.Equal(t, 9*time.Hour+30*time.Minute, *sub.AlertTime)
	assert.Equal(t, 2000, sub.DistanceM)
	assert.Equal(t, "stardust", sub.Tasks[0].RewardKeyword)

	n, err := m.RemoveTask(ctx, "sup", "all")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = m.RemoveVenue(ctx, "sup", "OLD CHURCH")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, m.Delete(ctx, "sup"))
	_, ok := m.Get("sup")
	assert.False(t, ok)
}

func TestSnoozedToday(t *testing.T) {
	store := storage.NewMemory()
	m, _ := newTestManager(t, store)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 7, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.SnoozedToday(ctx, "sup", "")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = m.AddTask(ctx, "sup", "stardust", "")
	require.NoError(t, err)
	for _, reward := range []string{"500 Stardust", "Rare Candy"} {
		item := model.NewSnoozedItem("sup", &model.Task{Reward: reward, StopName: "s"}, "Downtown", now)
		require.NoError(t, m.RecordSnoozed(ctx, item))
	}
	yesterday := model.NewSnoozedItem("sup", &model.Task{Reward: "Stardust"}, "Downtown", now.Add(-24*time.Hour))
	require.NoError(t, m.RecordSnoozed(ctx, yesterday))

	all, err := m.SnoozedToday(ctx, "sup", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	dust, err := m.SnoozedToday(ctx, "sup", "stardust")
	require.NoError(t, err)
	require.Len(t, dust, 1)
	assert.Equal(t, "500 Stardust", dust[0].Reward)
}

func TestConcurrentMutationsSameSubscriber(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemory())
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := m.AddCreatures(ctx, "sup", []string{strconv.Itoa(id)}, CreatureRequest{MinIV: 95, Gender: "*"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	sub, _ := m.Get("sup")
	assert.Len(t, sub.Creatures, 10)
}

func TestDisabledSubscriptions(t *testing.T) {
	m, _ := newTestManager(t, storage.NewMemory())
	cfg := testConfig()
	cfg.Enabled = false
	m.UpdateConfig(cfg)
	_, err := m.AddTask(context.Background(), "sup", "stardust", "")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestLoadFromStore(t *testing.T) {
	store := storage.NewMemory()
	sub := model.NewSubscription("z")
	sub.Bosses = []model.BossPref{{SpeciesID: 150}}
	require.NoError(t, store.Save(context.Background(), sub))
	require.NoError(t, store.Save(context.Background(), model.NewSubscription("a")))

	m, _ := newTestManager(t, store)
	require.NoError(t, m.Load(context.Background()))
	snap := m.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].SubscriberID)
	assert.Equal(t, "z", snap[1].SubscriberID)
}

func TestConcurrentMutationsDifferentSubscribers(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		require.NoError(t, store.Save(ctx, model.NewSubscription(fmt.Sprintf("pre-%03d", i))))
	}
	m, _ := newTestManager(t, store)
	require.NoError(t, m.Load(ctx))

	for round := 0; round < 5; round++ {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := m.AddCreatures(ctx, id, []string{"1"}, CreatureRequest{Gender: "*"})
				assert.NoError(t, err)
			}(fmt.Sprintf("new-%d-%02d", round, i))
		}
		wg.Wait()
		snap := m.Snapshot()
		require.Len(t, snap, 500+16*(round+1), "round %d", round)
		for _, sub := range snap {
			if sub.SubscriberID[:4] == "new-" {
				assert.Len(t, sub.Creatures, 1, sub.SubscriberID)
			}
		}
	}
}

// staleListStore reads its listing, then waits before handing it back so
// that writes can land in between.
type staleListStore struct {
	storage.Store
	listed  chan struct{}
	release chan struct{}
}

func (s *staleListStore) List(ctx context.Context) ([]*model.Subscription, error) {
	list, err := s.Store.List(ctx)
	close(s.listed)
	<-s.release
	return list, err
}

func TestLoadKeepsWritesMadeDuringListing(t *testing.T) {
	inner := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, inner.Save(ctx, model.NewSubscription("gone")))
	m, _ := newTestManager(t, inner)
	require.NoError(t, m.Load(ctx))

	stale := &staleListStore{Store: inner, listed: make(chan struct{}), release: make(chan struct{})}
	m.store = stale
	errc := make(chan error, 1)
	go func() { errc <- m.Load(ctx) }()
	<-stale.listed

	_, err := m.AddTask(ctx, "sup", "stardust", "")
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "gone"))
	close(stale.release)
	require.NoError(t, <-errc)

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "sup", snap[0].SubscriberID)
	_, ok := m.Get("gone")
	assert.False(t, ok)
}

func TestRunPicksUpExternalWrites(t *testing.T) {
	store := storage.NewMemory()
	m, _ := newTestManager(t, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, 5*time.Millisecond) }()

	external := model.NewSubscription("elsewhere")
	external.Bosses = []model.BossPref{{SpeciesID: 150}}
	require.NoError(t, store.Save(context.Background(), external))
	require.Eventually(t, func() bool {
		_, ok := m.Get("elsewhere")
		return ok && len(m.Snapshot()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("refresh loop did not stop")
	}
}
