package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stake-plus/tally-gov-bot/src/shared/data"
	"github.com/stake-plus/tally-gov-bot/src/shared/tally"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type staticSource struct {
	orgs []tally.Organization
}

func (s *staticSource) ListOrganizations(ctx context.Context) ([]tally.Organization, error) {
	return s.orgs, nil
}

func newTestManager(t *testing.T, maxSubs int) (*Manager, *data.Store) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, data.Migrate(db))
	require.NoError(t, data.LoadSettings(db))

	store := data.NewStore(db)
	source := &staticSource{orgs: []tally.Organization{
		{ID: "1", Slug: "uniswap", Name: "Uniswap"},
		{ID: "2", Slug: "compound", Name: "Compound"},
		{ID: "3", Slug: "aave", Name: "Aave"},
		{ID: "4", Slug: "makerdao", Name: "MakerDAO"},
		{ID: "5", Slug: "curve", Name: "Curve"},
	}}
	dir := directory.NewManager(store, source, 240*time.Hour)
	require.NoError(t, dir.Refresh(context.Background()))

	return NewManager(store, dir, maxSubs), store
}

func TestSubscribeCreatesRow(t *testing.T) {
	m, store := newTestManager(t, 10)

	dao, err := m.Subscribe("user-1", "uniswap")
	require.NoError(t, err)
	assert.Equal(t, "Uniswap", dao.Name)

	users, err := store.SubscribersFor("uniswap")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-1"}, users)
}

func TestSubscribeUnknownSlug(t *testing.T) {
	m, _ := newTestManager(t, 10)

	_, err := m.Subscribe("user-1", "not-a-dao")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribeTwiceFails(t *testing.T) {
	m, _ := newTestManager(t, 10)

	_, err := m.Subscribe("user-1", "aave")
	require.NoError(t, err)

	_, err = m.Subscribe("user-1", "aave")
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

func TestSubscriptionLimit(t *testing.T) {
	m, store := newTestManager(t, 2)

	_, err := m.Subscribe("user-1", "uniswap")
	require.NoError(t, err)
	_, err = m.Subscribe("user-1", "compound")
	require.NoError(t, err)

	_, err = m.Subscribe("user-1", "aave")
	assert.ErrorIs(t, err, ErrLimitExceeded)

	count, err := store.SubscriptionCount("user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count, "failed subscribe must not add a row")
}

func TestLimitIsPerUser(t *testing.T) {
	m, _ := newTestManager(t, 1)

	_, err := m.Subscribe("user-1", "uniswap")
	require.NoError(t, err)

	_, err = m.Subscribe("user-2", "uniswap")
	require.NoError(t, err)
}

func TestUnsubscribe(t *testing.T) {
	m, store := newTestManager(t, 10)

	_, err := m.Subscribe("user-1", "curve")
	require.NoError(t, err)
	require.NoError(t, m.Unsubscribe("user-1", "curve"))

	users, err := store.SubscribersFor("curve")
	require.NoError(t, err)
	assert.Empty(t, users)

	assert.ErrorIs(t, m.Unsubscribe("user-1", "curve"), ErrNotSubscribed)
}

func TestListResolvesDisplayNames(t *testing.T) {
	m, _ := newTestManager(t, 10)

	_, err := m.Subscribe("user-1", "makerdao")
	require.NoError(t, err)
	_, err = m.Subscribe("user-1", "curve")
	require.NoError(t, err)

	daos, err := m.List("user-1")
	require.NoError(t, err)
	require.Len(t, daos, 2)
	assert.Equal(t, "MakerDAO", daos[0].Name)
}

func TestResolveUsesDirectory(t *testing.T) {
	m, _ := newTestManager(t, 10)

	matches := m.Resolve("uniswp")
	require.NotEmpty(t, matches)
	assert.Equal(t, "uniswap", matches[0].Slug)

	assert.Empty(t, m.Resolve("xyz123"))
}

func TestFirstSubscriber(t *testing.T) {
	m, _ := newTestManager(t, 10)

	first, err := m.FirstSubscriber("aave")
	require.NoError(t, err)
	assert.True(t, first)

	_, err = m.Subscribe("user-1", "aave")
	require.NoError(t, err)

	first, err = m.FirstSubscriber("aave")
	require.NoError(t, err)
	assert.False(t, first)
}
