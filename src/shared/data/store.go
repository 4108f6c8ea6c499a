package data

import (
	"fmt"
	"time"

	"github.com/stake-plus/tally-gov-bot/src/shared/gov"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store wraps the database with the queries the bot needs. Writes that span
// multiple rows run inside a transaction so a failure leaves no partial state.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for components that manage their own
// transactions (subscription writes).
func (s *Store) DB() *gorm.DB {
	return s.db
}

// EnsureUser creates the identity record on first interaction.
func (s *Store) EnsureUser(userID string) error {
	user := gov.User{ID: userID, CreatedAt: time.Now()}
	if err := s.db.FirstOrCreate(&user, gov.User{ID: userID}).Error; err != nil {
		return fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return nil
}

// SubscribersFor returns the user IDs subscribed to a DAO.
func (s *Store) SubscribersFor(slug string) ([]string, error) {
	var userIDs []string
	err := s.db.Model(&gov.Subscription{}).
		Where("dao_slug = ?", slug).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return nil, fmt.Errorf("subscribers for %s: %w", slug, err)
	}
	return userIDs, nil
}

// SubscribedSlugs returns the distinct DAO slugs that have at least one
// subscriber. The reconciler only sweeps these.
func (s *Store) SubscribedSlugs() ([]string, error) {
	var slugs []string
	err := s.db.Model(&gov.Subscription{}).
		Distinct("dao_slug").
		Order("dao_slug").
		Pluck("dao_slug", &slugs).Error
	if err != nil {
		return nil, fmt.Errorf("subscribed slugs: %w", err)
	}
	return slugs, nil
}

// SubscriptionCount returns how many DAOs a user is subscribed to.
func (s *Store) SubscriptionCount(userID string) (int64, error) {
	var n int64
	err := s.db.Model(&gov.Subscription{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// SnapshotsFor returns the stored proposal snapshots for a DAO keyed by
// proposal ID.
func (s *Store) SnapshotsFor(slug string) (map[string]gov.ProposalSnapshot, error) {
	var rows []gov.ProposalSnapshot
	if err := s.db.Where("dao_slug = ?", slug).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("snapshots for %s: %w", slug, err)
	}
	snapshots := make(map[string]gov.ProposalSnapshot, len(rows))
	for _, row := range rows {
		snapshots[row.ProposalID] = row
	}
	return snapshots, nil
}

// ApplySnapshots upserts the given snapshots for a DAO and evicts rows beyond
// keep, oldest by creation time first. Runs in a single transaction.
func (s *Store) ApplySnapshots(slug string, snapshots []gov.ProposalSnapshot, keep int) error {
	if len(snapshots) == 0 {
		return nil
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for i := range snapshots {
			snap := &snapshots[i]
			snap.DaoSlug = slug
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "dao_slug"}, {Name: "proposal_id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"title", "status", "last_status", "updated_at",
				}),
			}).Create(snap).Error
			if err != nil {
				return err
			}
		}
		if keep > 0 {
			var stale []uint64
			err := tx.Model(&gov.ProposalSnapshot{}).
				Where("dao_slug = ?", slug).
				Order("created_at DESC, proposal_id DESC").
				Offset(keep).
				Pluck("id", &stale).Error
			if err != nil {
				return err
			}
			if len(stale) > 0 {
				if err := tx.Delete(&gov.ProposalSnapshot{}, stale).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply snapshots for %s: %w", slug, err)
	}
	return nil
}

// ReplaceDaos atomically replaces the persisted DAO directory.
func (s *Store) ReplaceDaos(daos []gov.Dao) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&gov.Dao{}).Error; err != nil {
			return err
		}
		if len(daos) == 0 {
			return nil
		}
		return tx.CreateInBatches(daos, 500).Error
	})
	if err != nil {
		return fmt.Errorf("replace daos: %w", err)
	}
	return nil
}

// LoadDaos returns the persisted DAO directory.
func (s *Store) LoadDaos() ([]gov.Dao, error) {
	var daos []gov.Dao
	if err := s.db.Order("slug").Find(&daos).Error; err != nil {
		return nil, fmt.Errorf("load daos: %w", err)
	}
	return daos, nil
}
