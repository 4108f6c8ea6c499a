package subscription

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stake-plus/tally-gov-bot/src/shared/data"
	"github.com/stake-plus/tally-gov-bot/src/shared/gov"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/directory"
	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/fuzzy"
	"gorm.io/gorm"
)

var (
	// ErrNotFound means no DAO matched the user's input confidently.
	ErrNotFound = errors.New("subscription: no matching DAO")
	// ErrAlreadySubscribed means the (user, dao) pair already exists.
	ErrAlreadySubscribed = errors.New("subscription: already subscribed")
	// ErrNotSubscribed means an unsubscribe had nothing to remove.
	ErrNotSubscribed = errors.New("subscription: not subscribed")
	// ErrLimitExceeded means the user holds the maximum subscriptions.
	ErrLimitExceeded = errors.New("subscription: limit exceeded")
)

// Manager is the only reader/writer of subscription rows. Operations for the
// same user are serialized so the limit invariant holds under concurrent
// commands; different users proceed independently.
type Manager struct {
	store     *data.Store
	directory *directory.Manager
	maxSubs   int

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

func NewManager(store *data.Store, dir *directory.Manager, maxSubs int) *Manager {
	return &Manager{
		store:     store,
		directory: dir,
		maxSubs:   maxSubs,
		userLocks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[userID] = lock
	}
	return lock
}

// Resolve maps free text onto directory entries. Returns matches best first;
// empty means the caller should prompt for disambiguation or report not found.
func (m *Manager) Resolve(text string) []fuzzy.Match {
	snap := m.directory.Current()
	return fuzzy.Resolve(text, snap.Candidates(), fuzzy.DefaultThreshold)
}

// Subscribe creates the subscription for an already-resolved slug. The limit
// check and the insert run in one transaction.
func (m *Manager) Subscribe(userID, slug string) (gov.Dao, error) {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	dao, ok := m.directory.Current().Lookup(slug)
	if !ok {
		return gov.Dao{}, ErrNotFound
	}

	if err := m.store.EnsureUser(userID); err != nil {
		return gov.Dao{}, err
	}

	err := m.store.DB().Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&gov.Subscription{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(m.maxSubs) {
			return ErrLimitExceeded
		}

		var existing gov.Subscription
		err := tx.Where("user_id = ? AND dao_slug = ?", userID, slug).First(&existing).Error
		if err == nil {
			return ErrAlreadySubscribed
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return tx.Create(&gov.Subscription{
			UserID:    userID,
			DaoSlug:   slug,
			CreatedAt: time.Now(),
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrLimitExceeded) || errors.Is(err, ErrAlreadySubscribed) {
			return gov.Dao{}, err
		}
		return gov.Dao{}, fmt.Errorf("subscribe %s to %s: %w", userID, slug, err)
	}
	return dao, nil
}

// Unsubscribe removes the subscription if present.
func (m *Manager) Unsubscribe(userID, slug string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	result := m.store.DB().Where("user_id = ? AND dao_slug = ?", userID, slug).Delete(&gov.Subscription{})
	if result.Error != nil {
		return fmt.Errorf("unsubscribe %s from %s: %w", userID, slug, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotSubscribed
	}
	return nil
}

// List returns the user's subscribed DAOs for display, resolving names from
// the directory where possible.
func (m *Manager) List(userID string) ([]gov.Dao, error) {
	var subs []gov.Subscription
	err := m.store.DB().Where("user_id = ?", userID).Order("created_at").Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", userID, err)
	}

	snap := m.directory.Current()
	daos := make([]gov.Dao, 0, len(subs))
	for _, sub := range subs {
		if dao, ok := snap.Lookup(sub.DaoSlug); ok {
			daos = append(daos, dao)
			continue
		}
		daos = append(daos, gov.Dao{Slug: sub.DaoSlug, Name: sub.DaoSlug})
	}
	return daos, nil
}

// FirstSubscriber reports whether slug currently has no subscribers, meaning
// the caller should seed snapshots before the next reconciliation pass.
func (m *Manager) FirstSubscriber(slug string) (bool, error) {
	users, err := m.store.SubscribersFor(slug)
	if err != nil {
		return false, err
	}
	return len(users) == 0, nil
}
