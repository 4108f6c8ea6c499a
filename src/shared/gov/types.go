package gov

import "time"

// Proposal lifecycle statuses as reported by Tally. The set is open ended;
// unknown values are stored verbatim.
const (
	StatusPending   = "PENDING"
	StatusActive    = "ACTIVE"
	StatusSucceeded = "SUCCEEDED"
	StatusDefeated  = "DEFEATED"
	StatusExecuted  = "EXECUTED"
	StatusCanceled  = "CANCELED"
	StatusQueued    = "QUEUED"
	StatusExpired   = "EXPIRED"
)

// Dao is a cached directory entry for a governance organization.
type Dao struct {
	Slug     string `gorm:"primaryKey;size:128"`
	OrgID    string `gorm:"size:64;index"`
	Name     string `gorm:"size:256"`
	LastSeen time.Time
}

// User is a minimal chat identity record, created lazily on first interaction.
type User struct {
	ID        string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

// Subscription links a user to a DAO. The (user, dao) pair is unique.
type Subscription struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"size:64;uniqueIndex:idx_user_dao"`
	DaoSlug   string `gorm:"size:128;uniqueIndex:idx_user_dao;index"`
	CreatedAt time.Time
}

// ProposalSnapshot is the last known state of a proposal, used as the diff
// baseline by the reconciler. At most a configured number of snapshots are
// retained per DAO; oldest by creation time are evicted.
type ProposalSnapshot struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	DaoSlug    string `gorm:"size:128;uniqueIndex:idx_dao_proposal"`
	ProposalID string `gorm:"size:64;uniqueIndex:idx_dao_proposal"`
	Title      string `gorm:"size:512"`
	Status     string `gorm:"size:32"`
	LastStatus string `gorm:"size:32"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Setting represents a configuration setting stored in the database
type Setting struct {
	ID     uint8  `gorm:"primaryKey;autoIncrement"`
	Name   string `gorm:"size:32;uniqueIndex;not null"`
	Value  string `gorm:"type:text;not null"`
	Active uint8  `gorm:"not null"`
}
