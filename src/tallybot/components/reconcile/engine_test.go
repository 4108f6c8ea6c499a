package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stake-plus/tally-gov-bot/src/shared/data"
	"github.com/stake-plus/tally-gov-bot/src/shared/gov"
	"github.com/stake-plus/tally-gov-bot/src/shared/tally"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/directory"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeUpstream struct {
	mu        sync.Mutex
	orgs      []tally.Organization
	proposals map[string][]tally.Proposal
	fetchErr  error
	fetches   map[string]int
}

func (f *fakeUpstream) ListOrganizations(ctx context.Context) ([]tally.Organization, error) {
	return f.orgs, nil
}

func (f *fakeUpstream) GetOrganization(ctx context.Context, slug string) (*tally.Organization, error) {
	for i := range f.orgs {
		if f.orgs[i].Slug == slug {
			return &f.orgs[i], nil
		}
	}
	return nil, tally.ErrNotFound
}

func (f *fakeUpstream) RecentProposals(ctx context.Context, orgID string, limit int) ([]tally.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetches == nil {
		f.fetches = make(map[string]int)
	}
	f.fetches[orgID]++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.proposals[orgID], nil
}

type captureNotifier struct {
	mu     sync.Mutex
	events []dispatch.Event
}

func (c *captureNotifier) Dispatch(ctx context.Context, ev dispatch.Event) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return 1
}

func (c *captureNotifier) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

func newTestEngine(t *testing.T, upstream *fakeUpstream, tracked int) (*Engine, *data.Store, *captureNotifier) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, data.Migrate(db))
	require.NoError(t, data.LoadSettings(db))

	store := data.NewStore(db)
	dir := directory.NewManager(store, upstream, 240*time.Hour)
	require.NoError(t, dir.Refresh(context.Background()))

	notifier := &captureNotifier{}
	return NewEngine(store, upstream, dir, notifier, tracked), store, notifier
}

func subscribe(t *testing.T, store *data.Store, userID, slug string) {
	t.Helper()
	require.NoError(t, store.EnsureUser(userID))
	require.NoError(t, store.DB().Create(&gov.Subscription{
		UserID:    userID,
		DaoSlug:   slug,
		CreatedAt: time.Now(),
	}).Error)
}

func proposal(id, status string, start time.Time) tally.Proposal {
	return tally.Proposal{ID: id, Title: "Proposal " + id, Status: status, Start: start}
}

func TestStatusChangeAndNewProposal(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		orgs: []tally.Organization{{ID: "org-c", Slug: "compound", Name: "Compound"}},
		proposals: map[string][]tally.Proposal{
			"org-c": {proposal("P1", gov.StatusActive, base)},
		},
	}
	engine, store, notifier := newTestEngine(t, upstream, 20)
	subscribe(t, store, "user-1", "compound")

	// Seed: P1 ACTIVE, no events.
	require.NoError(t, engine.Seed(context.Background(), "compound"))
	assert.Empty(t, notifier.events)

	upstream.proposals["org-c"] = []tally.Proposal{
		proposal("P1", gov.StatusSucceeded, base),
		proposal("P2", gov.StatusPending, base.Add(time.Hour)),
	}

	require.NoError(t, engine.ReconcileDao(context.Background(), "compound"))
	require.Len(t, notifier.events, 2)

	byProposal := map[string]dispatch.Event{}
	for _, ev := range notifier.events {
		byProposal[ev.ProposalID] = ev
	}

	changed := byProposal["P1"]
	assert.Equal(t, dispatch.KindStatusChanged, changed.Kind)
	assert.Equal(t, gov.StatusActive, changed.OldStatus)
	assert.Equal(t, gov.StatusSucceeded, changed.NewStatus)

	added := byProposal["P2"]
	assert.Equal(t, dispatch.KindNew, added.Kind)
	assert.Equal(t, gov.StatusPending, added.NewStatus)

	snapshots, err := store.SnapshotsFor("compound")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, gov.StatusSucceeded, snapshots["P1"].Status)
	assert.Equal(t, gov.StatusActive, snapshots["P1"].LastStatus)
	assert.Equal(t, gov.StatusPending, snapshots["P2"].Status)
}

func TestNoChangeEmitsNoEvents(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		orgs: []tally.Organization{{ID: "org-u", Slug: "uniswap", Name: "Uniswap"}},
		proposals: map[string][]tally.Proposal{
			"org-u": {proposal("P1", gov.StatusActive, base), proposal("P2", gov.StatusQueued, base)},
		},
	}
	engine, store, notifier := newTestEngine(t, upstream, 20)
	subscribe(t, store, "user-1", "uniswap")

	require.NoError(t, engine.ReconcileDao(context.Background(), "uniswap"))
	require.Len(t, notifier.events, 2)
	notifier.reset()

	require.NoError(t, engine.ReconcileDao(context.Background(), "uniswap"))
	assert.Empty(t, notifier.events, "unchanged upstream must emit nothing")
}

func TestDuplicatePageEntriesAreIdempotent(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		orgs: []tally.Organization{{ID: "org-a", Slug: "aave", Name: "Aave"}},
		proposals: map[string][]tally.Proposal{
			"org-a": {
				proposal("P1", gov.StatusActive, base),
				proposal("P1", gov.StatusActive, base),
			},
		},
	}
	engine, store, notifier := newTestEngine(t, upstream, 20)
	subscribe(t, store, "user-1", "aave")

	require.NoError(t, engine.ReconcileDao(context.Background(), "aave"))
	assert.Len(t, notifier.events, 1, "duplicate rows in one page emit one event")

	snapshots, err := store.SnapshotsFor("aave")
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}

func TestEvictionKeepsMostRecent(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		orgs: []tally.Organization{{ID: "org-m", Slug: "makerdao", Name: "MakerDAO"}},
		proposals: map[string][]tally.Proposal{
			"org-m": {
				proposal("P3", gov.StatusActive, base.Add(2*time.Hour)),
				proposal("P2", gov.StatusActive, base.Add(time.Hour)),
				proposal("P1", gov.StatusActive, base),
			},
		},
	}
	engine, store, _ := newTestEngine(t, upstream, 2)
	subscribe(t, store, "user-1", "makerdao")

	require.NoError(t, engine.ReconcileDao(context.Background(), "makerdao"))

	snapshots, err := store.SnapshotsFor("makerdao")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Contains(t, snapshots, "P3")
	assert.Contains(t, snapshots, "P2")
	assert.NotContains(t, snapshots, "P1", "oldest beyond the tracked cap is evicted")
}

func TestFetchFailureLeavesStoreUntouched(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		orgs: []tally.Organization{{ID: "org-c", Slug: "curve", Name: "Curve"}},
		proposals: map[string][]tally.Proposal{
			"org-c": {proposal("P1", gov.StatusActive, base)},
		},
	}
	engine, store, notifier := newTestEngine(t, upstream, 20)
	subscribe(t, store, "user-1", "curve")
	require.NoError(t, engine.Seed(context.Background(), "curve"))

	upstream.fetchErr = errors.New("upstream exploded")
	err := engine.ReconcileDao(context.Background(), "curve")
	require.Error(t, err)

	snapshots, serr := store.SnapshotsFor("curve")
	require.NoError(t, serr)
	require.Len(t, snapshots, 1)
	assert.Equal(t, gov.StatusActive, snapshots["P1"].Status)
	assert.Empty(t, notifier.events)

	status := engine.Status()["curve"]
	assert.NotEmpty(t, status.Error)
}

func TestSweepSkipsDaosWithoutSubscribers(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	upstream := &fakeUpstream{
		orgs: []tally.Organization{
			{ID: "org-u", Slug: "uniswap", Name: "Uniswap"},
			{ID: "org-c", Slug: "compound", Name: "Compound"},
		},
		proposals: map[string][]tally.Proposal{
			"org-u": {proposal("P1", gov.StatusActive, base)},
			"org-c": {proposal("P9", gov.StatusActive, base)},
		},
	}
	engine, store, _ := newTestEngine(t, upstream, 20)
	subscribe(t, store, "user-1", "uniswap")

	engine.Sweep(context.Background())

	assert.Equal(t, 1, upstream.fetches["org-u"])
	assert.Zero(t, upstream.fetches["org-c"], "no subscribers means no fetch")
}

func TestOverlappingPassIsSkipped(t *testing.T) {
	upstream := &fakeUpstream{
		orgs: []tally.Organization{{ID: "org-u", Slug: "uniswap", Name: "Uniswap"}},
	}
	engine, _, _ := newTestEngine(t, upstream, 20)

	require.True(t, engine.tryAcquire("uniswap"))
	defer engine.release("uniswap")

	require.NoError(t, engine.ReconcileDao(context.Background(), "uniswap"))
	assert.Zero(t, upstream.fetches["org-u"], "in-flight pass must not be doubled")
}
