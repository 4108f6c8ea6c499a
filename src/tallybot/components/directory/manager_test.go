package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stake-plus/tally-gov-bot/src/shared/data"
	"github.com/stake-plus/tally-gov-bot/src/shared/tally"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeSource struct {
	orgs  []tally.Organization
	calls int
	err   error
}

func (f *fakeSource) ListOrganizations(ctx context.Context) ([]tally.Organization, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.orgs, nil
}

func newTestStore(t *testing.T) *data.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, data.Migrate(db))
	require.NoError(t, data.LoadSettings(db))
	return data.NewStore(db)
}

func testOrgs() []tally.Organization {
	return []tally.Organization{
		{ID: "1", Slug: "uniswap", Name: "Uniswap"},
		{ID: "2", Slug: "compound", Name: "Compound"},
	}
}

func TestRefreshPublishesAndPersists(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{orgs: testOrgs()}
	m := NewManager(store, source, 240*time.Hour)

	require.NoError(t, m.Refresh(context.Background()))

	dao, ok := m.Current().Lookup("uniswap")
	require.True(t, ok)
	assert.Equal(t, "Uniswap", dao.Name)
	assert.False(t, m.IsStale())

	persisted, err := store.LoadDaos()
	require.NoError(t, err)
	assert.Len(t, persisted, 2)
}

func TestYoungPersistedCacheSkipsNetwork(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{orgs: testOrgs()}

	first := NewManager(store, source, 240*time.Hour)
	require.NoError(t, first.Refresh(context.Background()))
	require.Equal(t, 1, source.calls)

	second := NewManager(store, source, 240*time.Hour)
	loaded, err := second.Load()
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, 1, source.calls, "load must not hit upstream")

	_, ok := second.Current().Lookup("compound")
	assert.True(t, ok)
}

func TestStaleCacheStillServesLookups(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{orgs: testOrgs()}
	m := NewManager(store, source, 240*time.Hour)
	require.NoError(t, m.Refresh(context.Background()))

	refreshedAt := m.Current().RefreshedAt()
	m.now = func() time.Time { return refreshedAt.Add(240*time.Hour + time.Second) }

	assert.True(t, m.IsStale())
	_, ok := m.Current().Lookup("uniswap")
	assert.True(t, ok, "staleness must not fail lookups")
}

func TestExpiredPersistedCacheIsNotLoaded(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{orgs: testOrgs()}

	first := NewManager(store, source, 240*time.Hour)
	require.NoError(t, first.Refresh(context.Background()))

	second := NewManager(store, source, 240*time.Hour)
	second.now = func() time.Time { return time.Now().Add(241 * time.Hour) }
	loaded, err := second.Load()
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestBootstrapFallsBackToSeedList(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{err: errors.New("upstream down")}
	m := NewManager(store, source, 240*time.Hour)

	m.Bootstrap(context.Background())

	_, ok := m.Current().Lookup("uniswap")
	assert.True(t, ok)
	assert.NotZero(t, m.Current().Len())
}

func TestCandidatesMirrorEntries(t *testing.T) {
	store := newTestStore(t)
	source := &fakeSource{orgs: testOrgs()}
	m := NewManager(store, source, 240*time.Hour)
	require.NoError(t, m.Refresh(context.Background()))

	candidates := m.Current().Candidates()
	require.Len(t, candidates, 2)
	assert.Equal(t, "uniswap", candidates[0].Slug)
}
