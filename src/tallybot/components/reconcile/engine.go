package reconcile

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stake-plus/tally-gov-bot/src/shared/data"
	"github.com/stake-plus/tally-gov-bot/src/shared/gov"
	"github.com/stake-plus/tally-gov-bot/src/shared/tally"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/directory"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/dispatch"
)

const defaultPassBudget = 2 * time.Minute

// ProposalSource is the slice of the upstream client the engine needs.
type ProposalSource interface {
	GetOrganization(ctx context.Context, slug string) (*tally.Organization, error)
	RecentProposals(ctx context.Context, orgID string, limit int) ([]tally.Proposal, error)
}

// Notifier consumes change events produced by a pass.
type Notifier interface {
	Dispatch(ctx context.Context, ev dispatch.Event) int
}

// PassStatus records the outcome of the most recent pass for a DAO.
type PassStatus struct {
	CompletedAt time.Time `json:"completedAt"`
	Error       string    `json:"error,omitempty"`
	New         int       `json:"new"`
	Changed     int       `json:"changed"`
}

// Engine runs the fetch-diff-persist-notify cycle for every DAO that has at
// least one subscriber. Passes for distinct DAOs run in parallel; passes for
// the same DAO never overlap. A fetch failure abandons the pass with no
// partial persist; the next interval retries.
type Engine struct {
	store      *data.Store
	source     ProposalSource
	directory  *directory.Manager
	notifier   Notifier
	tracked    int
	passBudget time.Duration

	mu     sync.Mutex
	active map[string]bool

	statusMu sync.RWMutex
	lastPass map[string]PassStatus
}

func NewEngine(store *data.Store, source ProposalSource, dir *directory.Manager, notifier Notifier, tracked int) *Engine {
	return &Engine{
		store:      store,
		source:     source,
		directory:  dir,
		notifier:   notifier,
		tracked:    tracked,
		passBudget: defaultPassBudget,
		active:     make(map[string]bool),
		lastPass:   make(map[string]PassStatus),
	}
}

// Run sweeps on the given interval until ctx is canceled. The first sweep
// starts immediately.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Printf("reconcile: stopping")
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep reconciles every subscribed DAO once, in parallel.
func (e *Engine) Sweep(ctx context.Context) {
	slugs, err := e.store.SubscribedSlugs()
	if err != nil {
		log.Printf("reconcile: list subscribed DAOs: %v", err)
		return
	}
	if len(slugs) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, slug := range slugs {
		wg.Add(1)
		go func(slug string) {
			defer wg.Done()
			passCtx, cancel := context.WithTimeout(ctx, e.passBudget)
			defer cancel()
			if err := e.ReconcileDao(passCtx, slug); err != nil {
				log.Printf("reconcile: %s: %v", slug, err)
			}
		}(slug)
	}
	wg.Wait()
}

func (e *Engine) tryAcquire(slug string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[slug] {
		return false
	}
	e.active[slug] = true
	return true
}

func (e *Engine) release(slug string) {
	e.mu.Lock()
	delete(e.active, slug)
	e.mu.Unlock()
}

func (e *Engine) recordPass(slug string, status PassStatus) {
	status.CompletedAt = time.Now()
	e.statusMu.Lock()
	e.lastPass[slug] = status
	e.statusMu.Unlock()
}

// Status returns the last pass outcome per DAO.
func (e *Engine) Status() map[string]PassStatus {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	out := make(map[string]PassStatus, len(e.lastPass))
	for slug, st := range e.lastPass {
		out[slug] = st
	}
	return out
}

func (e *Engine) orgID(ctx context.Context, slug string) (string, string, error) {
	if dao, ok := e.directory.Current().Lookup(slug); ok && dao.OrgID != "" {
		return dao.OrgID, dao.Name, nil
	}
	org, err := e.source.GetOrganization(ctx, slug)
	if err != nil {
		return "", "", err
	}
	return org.ID, org.Name, nil
}

// ReconcileDao runs one pass for a single DAO. Skipped silently when a pass
// for the same DAO is still in flight.
func (e *Engine) ReconcileDao(ctx context.Context, slug string) error {
	if !e.tryAcquire(slug) {
		return nil
	}
	defer e.release(slug)

	events, err := e.pass(ctx, slug, true)
	if err != nil {
		e.recordPass(slug, PassStatus{Error: err.Error()})
		return err
	}

	status := PassStatus{}
	for _, ev := range events {
		if ev.Kind == dispatch.KindNew {
			status.New++
		} else {
			status.Changed++
		}
		e.notifier.Dispatch(ctx, ev)
	}
	e.recordPass(slug, status)
	return nil
}

// Seed persists the current upstream snapshot for a DAO without emitting
// events. Used when a DAO gains its first subscriber so the following pass
// does not classify the whole backlog as new.
func (e *Engine) Seed(ctx context.Context, slug string) error {
	if !e.tryAcquire(slug) {
		return nil
	}
	defer e.release(slug)

	_, err := e.pass(ctx, slug, false)
	return err
}

// pass fetches, diffs, and persists one DAO. FETCH errors abandon the pass
// before any write. The returned events are emitted by the caller only after
// the persist succeeded.
func (e *Engine) pass(ctx context.Context, slug string, emit bool) ([]dispatch.Event, error) {
	orgID, daoName, err := e.orgID(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("resolve org: %w", err)
	}

	proposals, err := e.source.RecentProposals(ctx, orgID, e.tracked)
	if err != nil {
		return nil, fmt.Errorf("fetch proposals: %w", err)
	}

	stored, err := e.store.SnapshotsFor(slug)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var upserts []gov.ProposalSnapshot
	var events []dispatch.Event
	seen := make(map[string]bool, len(proposals))

	for _, p := range proposals {
		if p.ID == "" || seen[p.ID] {
			continue
		}
		seen[p.ID] = true

		createdAt := p.Start
		if createdAt.IsZero() {
			createdAt = now
		}

		snap, ok := stored[p.ID]
		switch {
		case !ok:
			upserts = append(upserts, gov.ProposalSnapshot{
				DaoSlug:    slug,
				ProposalID: p.ID,
				Title:      p.Title,
				Status:     p.Status,
				CreatedAt:  createdAt,
				UpdatedAt:  now,
			})
			if emit {
				events = append(events, dispatch.Event{
					ID:         uuid.NewString(),
					DaoSlug:    slug,
					DaoName:    daoName,
					ProposalID: p.ID,
					Title:      p.Title,
					Kind:       dispatch.KindNew,
					NewStatus:  p.Status,
				})
			}
		case snap.Status != p.Status:
			upserts = append(upserts, gov.ProposalSnapshot{
				DaoSlug:    slug,
				ProposalID: p.ID,
				Title:      p.Title,
				Status:     p.Status,
				LastStatus: snap.Status,
				CreatedAt:  snap.CreatedAt,
				UpdatedAt:  now,
			})
			if emit {
				events = append(events, dispatch.Event{
					ID:         uuid.NewString(),
					DaoSlug:    slug,
					DaoName:    daoName,
					ProposalID: p.ID,
					Title:      p.Title,
					Kind:       dispatch.KindStatusChanged,
					OldStatus:  snap.Status,
					NewStatus:  p.Status,
				})
			}
		}
	}

	if err := e.store.ApplySnapshots(slug, upserts, e.tracked); err != nil {
		return nil, err
	}
	return events, nil
}
