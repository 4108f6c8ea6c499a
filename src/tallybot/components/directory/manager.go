package directory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stake-plus/tally-gov-bot/src/shared/data"
	"github.com/stake-plus/tally-gov-bot/src/shared/gov"
	"github.com/stake-plus/tally-gov-bot/src/shared/tally"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/fuzzy"
)

const refreshedAtSetting = "dao_cache_refreshed_at"

// Source fetches the full DAO list from upstream.
type Source interface {
	ListOrganizations(ctx context.Context) ([]tally.Organization, error)
}

// Snapshot is one immutable version of the DAO directory. Readers hold a
// snapshot and never observe a half-applied refresh.
type Snapshot struct {
	daos        []gov.Dao
	bySlug      map[string]gov.Dao
	refreshedAt time.Time
}

func newSnapshot(daos []gov.Dao, refreshedAt time.Time) *Snapshot {
	bySlug := make(map[string]gov.Dao, len(daos))
	for _, dao := range daos {
		bySlug[dao.Slug] = dao
	}
	return &Snapshot{daos: daos, bySlug: bySlug, refreshedAt: refreshedAt}
}

// Lookup is an exact-match read with no network call.
func (s *Snapshot) Lookup(slug string) (gov.Dao, bool) {
	dao, ok := s.bySlug[slug]
	return dao, ok
}

func (s *Snapshot) Entries() []gov.Dao     { return s.daos }
func (s *Snapshot) Len() int               { return len(s.daos) }
func (s *Snapshot) RefreshedAt() time.Time { return s.refreshedAt }

// Candidates adapts the snapshot for fuzzy resolution.
func (s *Snapshot) Candidates() []fuzzy.Candidate {
	candidates := make([]fuzzy.Candidate, 0, len(s.daos))
	for _, dao := range s.daos {
		candidates = append(candidates, fuzzy.Candidate{Slug: dao.Slug, Name: dao.Name})
	}
	return candidates
}

// seedDaos is used when neither the persisted cache nor upstream is
// available at startup.
var seedDaos = []gov.Dao{
	{Slug: "uniswap", OrgID: "1", Name: "Uniswap"},
	{Slug: "compound", OrgID: "2", Name: "Compound"},
	{Slug: "aave", OrgID: "3", Name: "Aave"},
	{Slug: "makerdao", OrgID: "4", Name: "MakerDAO"},
	{Slug: "curve", OrgID: "5", Name: "Curve"},
}

// Manager owns the directory cache: a versioned in-memory snapshot backed by
// the daos table so a young cache survives restart without burning API quota.
type Manager struct {
	store  *data.Store
	source Source
	expiry time.Duration

	mu      sync.RWMutex
	current *Snapshot

	now func() time.Time
}

func NewManager(store *data.Store, source Source, expiry time.Duration) *Manager {
	return &Manager{
		store:   store,
		source:  source,
		expiry:  expiry,
		current: newSnapshot(nil, time.Time{}),
		now:     time.Now,
	}
}

// Current returns the latest published snapshot. Never nil.
func (m *Manager) Current() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsStale reports whether the snapshot has outlived the cache expiry. A stale
// snapshot is still served; staleness only schedules a refresh.
func (m *Manager) IsStale() bool {
	snap := m.Current()
	return m.now().Sub(snap.refreshedAt) > m.expiry
}

func (m *Manager) publish(snap *Snapshot) {
	m.mu.Lock()
	m.current = snap
	m.mu.Unlock()
}

// Load restores the persisted cache. A cache younger than the expiry is used
// as-is; anything older is ignored so Bootstrap falls through to a refresh.
func (m *Manager) Load() (bool, error) {
	raw := data.GetSetting(refreshedAtSetting)
	if raw == "" {
		return false, nil
	}
	refreshedAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false, fmt.Errorf("directory: bad %s value %q: %w", refreshedAtSetting, raw, err)
	}
	if m.now().Sub(refreshedAt) > m.expiry {
		return false, nil
	}

	daos, err := m.store.LoadDaos()
	if err != nil {
		return false, err
	}
	if len(daos) == 0 {
		return false, nil
	}

	m.publish(newSnapshot(daos, refreshedAt))
	log.Printf("directory: loaded %d DAOs from cache (refreshed %s)", len(daos), refreshedAt.Format(time.RFC3339))
	return true, nil
}

// Refresh fetches the full DAO list, persists it, and atomically publishes a
// new snapshot. The network fetch completes before any lock is taken.
func (m *Manager) Refresh(ctx context.Context) error {
	orgs, err := m.source.ListOrganizations(ctx)
	if err != nil {
		return fmt.Errorf("directory: refresh: %w", err)
	}

	refreshedAt := m.now()
	daos := make([]gov.Dao, 0, len(orgs))
	for _, org := range orgs {
		if org.Slug == "" {
			continue
		}
		daos = append(daos, gov.Dao{
			Slug:     org.Slug,
			OrgID:    org.ID,
			Name:     org.Name,
			LastSeen: refreshedAt,
		})
	}

	if err := m.store.ReplaceDaos(daos); err != nil {
		return err
	}
	if err := data.SetSetting(m.store.DB(), refreshedAtSetting, refreshedAt.Format(time.RFC3339)); err != nil {
		return err
	}

	m.publish(newSnapshot(daos, refreshedAt))
	log.Printf("directory: refreshed %d DAOs", len(daos))
	return nil
}

// Bootstrap fills the cache at startup: persisted copy first, then upstream,
// then a minimal seed list so lookups keep working.
func (m *Manager) Bootstrap(ctx context.Context) {
	loaded, err := m.Load()
	if err != nil {
		log.Printf("directory: load cache: %v", err)
	}
	if loaded {
		return
	}
	if err := m.Refresh(ctx); err != nil {
		log.Printf("directory: initial refresh failed, using seed list: %v", err)
		m.publish(newSnapshot(seedDaos, m.now()))
	}
}

// Run refreshes the directory on the given interval until ctx is canceled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("directory: refresh loop stopping")
			return
		case <-ticker.C:
			if err := m.Refresh(ctx); err != nil {
				log.Printf("directory: %v", err)
			}
		}
	}
}
